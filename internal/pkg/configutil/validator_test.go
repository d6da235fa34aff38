package configutil

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_Strings(t *testing.T) {
	tests := []struct {
		name    string
		check   func(v *Validator) *Validator
		wantErr string
	}{
		{
			name:  "model set",
			check: func(v *Validator) *Validator { return v.RequiredString("llm.model", "gemini-2.5-flash") },
		},
		{
			name:    "apology blank",
			check:   func(v *Validator) *Validator { return v.RequiredString("chat.apology_message", " \t") },
			wantErr: "chat.apology_message",
		},
		{
			name:  "search mode tiered",
			check: func(v *Validator) *Validator { return v.OneOf("search.mode", "tiered", []string{"tokens", "tiered"}) },
		},
		{
			name:    "search mode regex",
			check:   func(v *Validator) *Validator { return v.OneOf("search.mode", "regex", []string{"tokens", "tiered"}) },
			wantErr: "must be one of: [tokens tiered]",
		},
		{
			name:    "storage driver is case sensitive",
			check:   func(v *Validator) *Validator { return v.OneOf("storage.driver", "SQLite", []string{"sqlite", "bolt", "memory"}) },
			wantErr: "storage.driver",
		},
		{
			name:    "bolt path empty",
			check:   func(v *Validator) *Validator { return v.ValidateFilePath("storage.bolt.path", "") },
			wantErr: "file path cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check(NewValidator()).Result()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidator_Numbers(t *testing.T) {
	tests := []struct {
		name    string
		check   func(v *Validator) *Validator
		wantErr bool
	}{
		{"port in range", func(v *Validator) *Validator { return v.IntRange("server.port", 8080, 1, 65535) }, false},
		{"port zero", func(v *Validator) *Validator { return v.IntRange("server.port", 0, 1, 65535) }, true},
		{"max tokens positive", func(v *Validator) *Validator { return v.RequiredInt("llm.max_tokens", 2048) }, false},
		{"max tokens zero", func(v *Validator) *Validator { return v.RequiredInt("llm.max_tokens", 0) }, true},
		{"history budget disabled", func(v *Validator) *Validator { return v.NonNegativeInt("chat.max_history_tokens", 0) }, false},
		{"history budget negative", func(v *Validator) *Validator { return v.NonNegativeInt("chat.max_history_tokens", -5) }, true},
		{"temperature upper bound", func(v *Validator) *Validator { return v.FloatRange("llm.temperature", 2, 0, 2) }, false},
		{"temperature too hot", func(v *Validator) *Validator { return v.FloatRange("llm.temperature", 2.1, 0, 2) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check(NewValidator()).Result()
			assert.Equal(t, tt.wantErr, err != nil, "got %v", err)
		})
	}
}

func TestValidator_Durations(t *testing.T) {
	tests := []struct {
		name    string
		check   func(v *Validator) *Validator
		wantErr bool
	}{
		{"request timeout", func(v *Validator) *Validator { return v.RequiredDuration("server.request_timeout", 30*time.Second) }, false},
		{"request timeout zero", func(v *Validator) *Validator { return v.RequiredDuration("server.request_timeout", 0) }, true},
		{"llm timeout inside bounds", func(v *Validator) *Validator {
			return v.DurationRange("llm.timeout", 2*time.Minute, time.Second, 10*time.Minute)
		}, false},
		{"llm timeout at lower bound", func(v *Validator) *Validator {
			return v.DurationRange("llm.timeout", time.Second, time.Second, 10*time.Minute)
		}, false},
		{"llm timeout over an hour", func(v *Validator) *Validator {
			return v.DurationRange("llm.timeout", time.Hour, time.Second, 10*time.Minute)
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check(NewValidator()).Result()
			assert.Equal(t, tt.wantErr, err != nil, "got %v", err)
		})
	}
}

func TestValidator_URLs(t *testing.T) {
	tests := []struct {
		name    string
		check   func(v *Validator) *Validator
		wantErr string
	}{
		{
			name:  "openai compatible endpoint",
			check: func(v *Validator) *Validator { return v.ValidateURL("llm.base_url", "https://api.openai.com/v1/") },
		},
		{
			name:  "empty base url left to RequiredString",
			check: func(v *Validator) *Validator { return v.ValidateURL("llm.base_url", "") },
		},
		{
			name:    "base url without scheme",
			check:   func(v *Validator) *Validator { return v.ValidateURL("llm.base_url", "localhost:11434") },
			wantErr: "llm.base_url",
		},
		{
			name: "nats url",
			check: func(v *Validator) *Validator {
				return v.ValidateURLScheme("nats.url", "nats://localhost:4222", "nats", "tls", "ws", "wss")
			},
		},
		{
			name: "nats url over http",
			check: func(v *Validator) *Validator {
				return v.ValidateURLScheme("nats.url", "http://localhost:4222", "nats", "tls", "ws", "wss")
			},
			wantErr: "must use one of the schemes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check(NewValidator()).Result()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidator_CollectsEveryFailure(t *testing.T) {
	v := NewValidator().
		IntRange("server.port", 8080, 1, 65535).
		OneOf("storage.driver", "redis", []string{"sqlite", "bolt", "memory"}).
		RequiredString("llm.model", "").
		NonNegativeInt("chat.max_history_tokens", 1000)

	assert.True(t, v.HasErrors())
	assert.Equal(t, 2, v.ErrorCount())

	err := v.Result()
	var errs ValidationErrors
	require.True(t, errors.As(err, &errs))
	require.Len(t, errs, 2)
	assert.Equal(t, "storage.driver", errs[0].Field)
	assert.Equal(t, "llm.model", errs[1].Field)
	assert.Contains(t, err.Error(), "2 validation errors: storage.driver must be one of")
}

func TestValidationErrors_Error(t *testing.T) {
	assert.Equal(t, "no validation errors", ValidationErrors{}.Error())

	single := ValidationErrors{{Field: "search.mode", Message: "must be one of: [tokens tiered]"}}
	assert.Equal(t, "validation error for field 'search.mode': must be one of: [tokens tiered]", single.Error())
}

func TestValidator_EmptyResultIsNil(t *testing.T) {
	v := NewValidator()
	assert.False(t, v.HasErrors())
	assert.Zero(t, v.ErrorCount())
	assert.NoError(t, v.Result())
}
