package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/username/chatbae/internal/pkg/configutil"
)

// Bounds for llm.timeout. chat.title_timeout may not exceed llm.timeout.
const (
	minLLMTimeout = time.Second
	maxLLMTimeout = 10 * time.Minute
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	NATS    NATSConfig    `mapstructure:"nats"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Chat    ChatConfig    `mapstructure:"chat"`
	Search  SearchConfig  `mapstructure:"search"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Host           string        `mapstructure:"host"`
	CORSEnabled    bool          `mapstructure:"cors_enabled"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// StorageConfig selects and configures the key/value store
type StorageConfig struct {
	Driver string       `mapstructure:"driver"` // "sqlite" or "bolt"
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	Bolt   BoltConfig   `mapstructure:"bolt"`
}

// SQLiteConfig holds sqlite configuration
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// BoltConfig holds bbolt configuration
type BoltConfig struct {
	Path string `mapstructure:"path"`
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	Enabled   bool            `mapstructure:"enabled"`
	Embedded  bool            `mapstructure:"embedded"`
	URL       string          `mapstructure:"url"`
	JetStream JetStreamConfig `mapstructure:"jetstream"`
}

// JetStreamConfig holds JetStream-specific configuration
type JetStreamConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	RetentionDays int  `mapstructure:"retention_days"`
}

// LLMConfig holds Language Model configuration
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	TitleModel  string        `mapstructure:"title_model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ChatConfig holds conversation behaviour settings
type ChatConfig struct {
	AssistantName         string        `mapstructure:"assistant_name"`
	ApologyMessage        string        `mapstructure:"apology_message"`
	EditApologyMessage    string        `mapstructure:"edit_apology_message"`
	TitleMessageThreshold int           `mapstructure:"title_message_threshold"`
	TitleTimeout          time.Duration `mapstructure:"title_timeout"`
	MaxHistoryTokens      int           `mapstructure:"max_history_tokens"`
}

// SearchConfig selects the conversation search behaviour
type SearchConfig struct {
	Mode             string `mapstructure:"mode"` // "tokens" or "tiered"
	MaxFuzzyDistance int    `mapstructure:"max_fuzzy_distance"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Host:           "0.0.0.0",
			CORSEnabled:    true,
			RequestTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "./data/chatbae.db"},
			Bolt:   BoltConfig{Path: "./data/chatbae.bolt"},
		},
		NATS: NATSConfig{
			Enabled:  true,
			Embedded: true,
			URL:      "nats://localhost:4222",
			JetStream: JetStreamConfig{
				Enabled:       false,
				RetentionDays: 7,
			},
		},
		LLM: LLMConfig{
			Provider:    "openai-compatible",
			BaseURL:     "https://generativelanguage.googleapis.com/v1beta/openai/",
			Model:       "gemini-2.5-flash",
			TitleModel:  "",
			MaxTokens:   2048,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		},
		Chat: ChatConfig{
			AssistantName:         "ChatBae",
			ApologyMessage:        "Sorry, I encountered an error. Please try again.",
			EditApologyMessage:    "Sorry, I encountered an error processing your edit. Please try again.",
			TitleMessageThreshold: 2,
			TitleTimeout:          30 * time.Second,
			MaxHistoryTokens:      0,
		},
		Search: SearchConfig{
			Mode:             "tokens",
			MaxFuzzyDistance: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// setDefaults registers every key with viper so environment variables can
// override values that are absent from the config file.
func setDefaults(v *viper.Viper, cfg *Config) {
	defaults := map[string]interface{}{
		"server.port":                   cfg.Server.Port,
		"server.host":                   cfg.Server.Host,
		"server.cors_enabled":           cfg.Server.CORSEnabled,
		"server.request_timeout":        cfg.Server.RequestTimeout,
		"storage.driver":                cfg.Storage.Driver,
		"storage.sqlite.path":           cfg.Storage.SQLite.Path,
		"storage.bolt.path":             cfg.Storage.Bolt.Path,
		"nats.enabled":                  cfg.NATS.Enabled,
		"nats.embedded":                 cfg.NATS.Embedded,
		"nats.url":                      cfg.NATS.URL,
		"nats.jetstream.enabled":        cfg.NATS.JetStream.Enabled,
		"nats.jetstream.retention_days": cfg.NATS.JetStream.RetentionDays,
		"llm.provider":                  cfg.LLM.Provider,
		"llm.base_url":                  cfg.LLM.BaseURL,
		"llm.api_key":                   cfg.LLM.APIKey,
		"llm.model":                     cfg.LLM.Model,
		"llm.title_model":               cfg.LLM.TitleModel,
		"llm.max_tokens":                cfg.LLM.MaxTokens,
		"llm.temperature":               cfg.LLM.Temperature,
		"llm.timeout":                   cfg.LLM.Timeout,
		"chat.assistant_name":           cfg.Chat.AssistantName,
		"chat.apology_message":          cfg.Chat.ApologyMessage,
		"chat.edit_apology_message":     cfg.Chat.EditApologyMessage,
		"chat.title_message_threshold":  cfg.Chat.TitleMessageThreshold,
		"chat.title_timeout":            cfg.Chat.TitleTimeout,
		"chat.max_history_tokens":       cfg.Chat.MaxHistoryTokens,
		"search.mode":                   cfg.Search.Mode,
		"search.max_fuzzy_distance":     cfg.Search.MaxFuzzyDistance,
		"logging.level":                 cfg.Logging.Level,
		"logging.format":                cfg.Logging.Format,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Load loads configuration from files and environment variables
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	setDefaults(v, cfg)

	// Set config file path
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./deployments/config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// Environment variable support, e.g. CHATBAE_LLM_API_KEY
	v.SetEnvPrefix("CHATBAE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay, we'll use defaults + env vars
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	v := configutil.NewValidator().
		IntRange("server.port", c.Server.Port, 1, 65535).
		RequiredDuration("server.request_timeout", c.Server.RequestTimeout).
		OneOf("storage.driver", c.Storage.Driver, []string{"sqlite", "bolt", "memory"})

	switch c.Storage.Driver {
	case "sqlite":
		v.ValidateFilePath("storage.sqlite.path", c.Storage.SQLite.Path)
	case "bolt":
		v.ValidateFilePath("storage.bolt.path", c.Storage.Bolt.Path)
	}

	if c.NATS.Enabled && !c.NATS.Embedded {
		v.RequiredString("nats.url", c.NATS.URL).
			ValidateURLScheme("nats.url", c.NATS.URL, "nats", "tls", "ws", "wss")
	}

	v.RequiredString("llm.base_url", c.LLM.BaseURL).
		ValidateURL("llm.base_url", c.LLM.BaseURL).
		RequiredString("llm.model", c.LLM.Model).
		RequiredInt("llm.max_tokens", c.LLM.MaxTokens).
		FloatRange("llm.temperature", c.LLM.Temperature, 0, 2).
		DurationRange("llm.timeout", c.LLM.Timeout, minLLMTimeout, maxLLMTimeout).
		RequiredString("chat.apology_message", c.Chat.ApologyMessage).
		RequiredString("chat.edit_apology_message", c.Chat.EditApologyMessage).
		NonNegativeInt("chat.title_message_threshold", c.Chat.TitleMessageThreshold).
		DurationRange("chat.title_timeout", c.Chat.TitleTimeout, minLLMTimeout, c.LLM.Timeout).
		NonNegativeInt("chat.max_history_tokens", c.Chat.MaxHistoryTokens).
		OneOf("search.mode", c.Search.Mode, []string{"tokens", "tiered"}).
		NonNegativeInt("search.max_fuzzy_distance", c.Search.MaxFuzzyDistance).
		OneOf("logging.level", strings.ToLower(c.Logging.Level), []string{"debug", "info", "warn", "error"}).
		OneOf("logging.format", c.Logging.Format, []string{"json", "text"})

	return v.Result()
}

// Address returns the host:port the HTTP server listens on
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
