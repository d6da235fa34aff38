package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/username/chatbae/internal/adapters/api/websocket"
	"github.com/username/chatbae/internal/adapters/llm/openai"
	"github.com/username/chatbae/internal/adapters/messaging/nats"
	"github.com/username/chatbae/internal/adapters/storage/bolt"
	"github.com/username/chatbae/internal/adapters/storage/memory"
	"github.com/username/chatbae/internal/adapters/storage/sqlite"
	"github.com/username/chatbae/internal/domain/metrics"
	"github.com/username/chatbae/internal/domain/ports"
	"github.com/username/chatbae/internal/domain/search"
	"github.com/username/chatbae/internal/domain/services"
	"github.com/username/chatbae/internal/pkg/constants"
	"github.com/username/chatbae/internal/pkg/logutil"
	"github.com/username/chatbae/pkg/config"
	"github.com/username/chatbae/pkg/tokenizer"
)

// ServiceContainer holds all initialized services
type ServiceContainer struct {
	Config      *config.Config
	Storage     ports.KeyValuePort
	Messaging   ports.MessagingPort // nil when NATS is disabled
	Model       *openai.Adapter
	Tokenizer   *tokenizer.Tokenizer // nil when no encoding could be loaded
	Metrics     *metrics.Collector
	Repository  *services.StateRepository
	Session     *services.ChatSession
	Coordinator *services.StreamCoordinator
	Hub         *websocket.Hub
	Logger      *logutil.Logger
}

// InitializationOptions holds options for service initialization
type InitializationOptions struct {
	Config                *config.Config
	ValidateConfiguration bool
	EnableHealthChecks    bool
	StartServices         bool
	Logger                *logutil.Logger
}

// ServiceFactory provides methods for creating and initializing services
type ServiceFactory struct {
	logger *logutil.Logger
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(logger *logutil.Logger) *ServiceFactory {
	if logger == nil {
		logger = logutil.NewDefaultLogger()
	}

	return &ServiceFactory{
		logger: logger,
	}
}

// NewLogger builds the process logger from configuration
func NewLogger(cfg *config.Config) *logutil.Logger {
	return logutil.NewLogger(logutil.LogConfig{
		Level:       logutil.ParseLevel(cfg.Logging.Level),
		Format:      cfg.Logging.Format,
		ServiceName: constants.ServiceName,
	})
}

// Initialize creates and initializes all services based on configuration.
// On error every adapter opened so far is closed again.
func (sf *ServiceFactory) Initialize(ctx context.Context, opts InitializationOptions) (*ServiceContainer, error) {
	if opts.Logger != nil {
		sf.logger = opts.Logger
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	sf.logger.Info("Starting service initialization", logutil.Fields{
		"validate_config":      opts.ValidateConfiguration,
		"enable_health_checks": opts.EnableHealthChecks,
		"start_services":       opts.StartServices,
	})

	if opts.ValidateConfiguration {
		if err := opts.Config.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		sf.logger.Info("Configuration validation passed")
	}

	container := &ServiceContainer{
		Config:  opts.Config,
		Metrics: metrics.NewCollector(),
		Logger:  sf.logger,
	}

	if err := sf.initializeAdapters(ctx, opts.Config, container); err != nil {
		container.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize adapters: %w", err)
	}

	if err := sf.initializeDomainServices(ctx, opts.Config, container); err != nil {
		container.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize domain services: %w", err)
	}

	if opts.EnableHealthChecks {
		if err := sf.performHealthChecks(ctx, container); err != nil {
			container.Shutdown(ctx)
			return nil, fmt.Errorf("health checks failed: %w", err)
		}
		sf.logger.Info("All health checks passed")
	}

	if opts.StartServices {
		if err := sf.startServices(ctx, container); err != nil {
			container.Shutdown(ctx)
			return nil, fmt.Errorf("failed to start services: %w", err)
		}
		sf.logger.Info("All services started successfully")
	}

	sf.logger.Info("Service initialization completed successfully")
	return container, nil
}

// initializeAdapters creates and configures all adapter instances
func (sf *ServiceFactory) initializeAdapters(ctx context.Context, cfg *config.Config, container *ServiceContainer) error {
	storage, err := OpenStorage(ctx, cfg, sf.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage adapter: %w", err)
	}
	container.Storage = storage

	if err := sf.initializeMessagingAdapter(cfg, container); err != nil {
		return fmt.Errorf("failed to initialize messaging adapter: %w", err)
	}

	if err := sf.initializeLLMAdapter(cfg, container); err != nil {
		return fmt.Errorf("failed to initialize LLM adapter: %w", err)
	}

	sf.initializeTokenizer(cfg, container)
	return nil
}

// OpenStorage opens the configured key/value store and brings its schema up
// to date
func OpenStorage(ctx context.Context, cfg *config.Config, logger *logutil.Logger) (ports.KeyValuePort, error) {
	var (
		store ports.KeyValuePort
		path  string
		err   error
	)

	switch cfg.Storage.Driver {
	case constants.StorageDriverSQLite:
		path = cfg.Storage.SQLite.Path
		if err = ensureDir(path); err != nil {
			return nil, err
		}
		store, err = sqlite.NewAdapter(path)
	case constants.StorageDriverBolt:
		path = cfg.Storage.Bolt.Path
		if err = ensureDir(path); err != nil {
			return nil, err
		}
		store, err = bolt.NewAdapter(path)
	case constants.StorageDriverMemory:
		store = memory.NewAdapter()
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	if err != nil {
		return nil, err
	}

	if migrator, ok := store.(ports.Migrator); ok {
		if err := migrator.Migrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	logger.Info("Storage adapter initialized", logutil.Fields{
		"driver": cfg.Storage.Driver,
		"path":   path,
	})
	return store, nil
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), constants.DataDirPermissions); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// initializeMessagingAdapter connects to NATS, or starts an embedded server
func (sf *ServiceFactory) initializeMessagingAdapter(cfg *config.Config, container *ServiceContainer) error {
	if !cfg.NATS.Enabled {
		sf.logger.Info("Messaging disabled, events stay in process")
		return nil
	}

	sf.logger.Info("Initializing messaging adapter", logutil.Fields{
		"type":      "nats",
		"url":       cfg.NATS.URL,
		"embedded":  cfg.NATS.Embedded,
		"jetstream": cfg.NATS.JetStream.Enabled,
	})

	messaging, err := nats.NewAdapter(nats.Config{
		URL:           cfg.NATS.URL,
		Embedded:      cfg.NATS.Embedded,
		JetStream:     cfg.NATS.JetStream.Enabled,
		RetentionDays: cfg.NATS.JetStream.RetentionDays,
	}, sf.logger)
	if err != nil {
		return err
	}
	container.Messaging = messaging
	return nil
}

// initializeLLMAdapter initializes the LLM adapter
func (sf *ServiceFactory) initializeLLMAdapter(cfg *config.Config, container *ServiceContainer) error {
	sf.logger.Info("Initializing LLM adapter", logutil.Fields{
		"provider": cfg.LLM.Provider,
		"base_url": cfg.LLM.BaseURL,
		"model":    cfg.LLM.Model,
	})

	model, err := openai.NewAdapter(openai.Config{
		BaseURL:       cfg.LLM.BaseURL,
		APIKey:        cfg.LLM.APIKey,
		Model:         cfg.LLM.Model,
		TitleModel:    cfg.LLM.TitleModel,
		MaxTokens:     cfg.LLM.MaxTokens,
		Temperature:   cfg.LLM.Temperature,
		AssistantName: cfg.Chat.AssistantName,
	})
	if err != nil {
		return err
	}
	container.Model = model
	return nil
}

// initializeTokenizer loads the token encoding. Token counting is optional,
// so a failure only disables history trimming and the tokens endpoint.
func (sf *ServiceFactory) initializeTokenizer(cfg *config.Config, container *ServiceContainer) {
	tok, err := tokenizer.NewTokenizer(cfg.LLM.Model)
	if err != nil {
		sf.logger.Warn("Token counting disabled", logutil.Fields{"error": err.Error()})
		return
	}
	container.Tokenizer = tok
}

// initializeDomainServices creates domain services with proper dependencies
func (sf *ServiceFactory) initializeDomainServices(ctx context.Context, cfg *config.Config, container *ServiceContainer) error {
	mode, err := search.ParseMode(cfg.Search.Mode)
	if err != nil {
		return err
	}
	ranker := search.NewRanker(mode, cfg.Search.MaxFuzzyDistance)

	container.Repository = services.NewStateRepository(container.Storage, sf.logger)
	container.Session = services.NewChatSession(ctx, container.Repository, container.Messaging, ranker, container.Metrics, sf.logger)

	var tokens ports.TokenCounter
	if container.Tokenizer != nil {
		tokens = container.Tokenizer
	}

	container.Coordinator = services.NewStreamCoordinator(
		container.Session,
		container.Model,
		container.Model,
		tokens,
		container.Messaging,
		container.Metrics,
		sf.logger,
		&services.CoordinatorConfig{
			ApologyMessage:        cfg.Chat.ApologyMessage,
			EditApologyMessage:    cfg.Chat.EditApologyMessage,
			TitleMessageThreshold: cfg.Chat.TitleMessageThreshold,
			MaxHistoryTokens:      cfg.Chat.MaxHistoryTokens,
			ModelTimeout:          cfg.LLM.Timeout,
			TitleTimeout:          cfg.Chat.TitleTimeout,
		},
	)

	container.Hub = websocket.NewHub(container.Messaging, sf.logger)

	sf.logger.Info("Domain services initialized", logutil.Fields{
		"search_mode": mode,
		"tokenizer":   container.Tokenizer != nil,
	})
	return nil
}

// performHealthChecks verifies all services are functioning correctly
func (sf *ServiceFactory) performHealthChecks(ctx context.Context, container *ServiceContainer) error {
	sf.logger.Info("Performing health checks")

	healthCtx, cancel := context.WithTimeout(ctx, constants.HealthCheckTimeout)
	defer cancel()

	if err := container.Storage.Ping(healthCtx); err != nil {
		return fmt.Errorf("storage health check failed: %w", err)
	}
	sf.logger.Debug("Storage health check passed")

	if container.Messaging != nil {
		if err := container.Messaging.Ping(); err != nil {
			return fmt.Errorf("messaging health check failed: %w", err)
		}
		sf.logger.Debug("Messaging health check passed")
	}

	// The model is remote and may come up later; report but do not fail
	if err := container.Model.Ping(healthCtx); err != nil {
		sf.logger.Warn("Model health check failed", logutil.Fields{"error": err.Error()})
	}

	return nil
}

// startServices starts all services that require background operations
func (sf *ServiceFactory) startServices(ctx context.Context, container *ServiceContainer) error {
	if err := container.Hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start WebSocket hub: %w", err)
	}
	sf.logger.Debug("WebSocket hub started")
	return nil
}

// Shutdown waits for in-flight replies, then closes every adapter
func (container *ServiceContainer) Shutdown(ctx context.Context) error {
	container.Logger.Info("Shutting down services")

	if container.Coordinator != nil {
		done := make(chan struct{})
		go func() {
			container.Coordinator.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			container.Logger.Warn("Replies still streaming at shutdown", logutil.Fields{"error": ctx.Err().Error()})
		}
	}

	if container.Messaging != nil {
		if err := container.Messaging.Close(); err != nil {
			container.Logger.Warn("Error closing messaging", logutil.Fields{"error": err.Error()})
		}
	}

	if container.Storage != nil {
		if err := container.Storage.Close(); err != nil {
			container.Logger.Warn("Error closing storage", logutil.Fields{"error": err.Error()})
		}
	}

	container.Logger.Info("Service shutdown completed")
	return nil
}
