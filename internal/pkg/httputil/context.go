package httputil

import (
	"context"
	"time"
)

// Operation types for timeout selection
const (
	OperationStorage = "storage"
	OperationModel   = "model"
	OperationHealth  = "health"
)

// TimeoutConfig holds timeout configurations for different operations
type TimeoutConfig struct {
	Default time.Duration
	Short   time.Duration
	Long    time.Duration
}

// DefaultTimeouts provides sensible default timeout values
var DefaultTimeouts = TimeoutConfig{
	Default: 10 * time.Second,
	Short:   5 * time.Second,
	Long:    60 * time.Second,
}

// For returns the timeout configured for an operation type
func (t TimeoutConfig) For(operationType string) time.Duration {
	switch operationType {
	case OperationHealth:
		return t.Short
	case OperationModel:
		return t.Long
	default:
		return t.Default
	}
}

// WithCustomTimeout derives a context bounded by the timeout of operationType
func WithCustomTimeout(parent context.Context, operationType string, config TimeoutConfig) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, config.For(operationType))
}
