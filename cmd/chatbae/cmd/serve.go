package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	httpapi "github.com/username/chatbae/internal/adapters/api/http"
	"github.com/username/chatbae/internal/pkg/constants"
	"github.com/username/chatbae/internal/pkg/factory"
	"github.com/username/chatbae/internal/pkg/httputil"
	"github.com/username/chatbae/internal/pkg/logutil"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, SSE and WebSocket server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := factory.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := factory.NewServiceFactory(logger).Initialize(ctx, factory.InitializationOptions{
		Config:             cfg,
		EnableHealthChecks: true,
		StartServices:      true,
	})
	if err != nil {
		return err
	}

	if cfg.Logging.Level == constants.LogLevelDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	middleware := httputil.DefaultMiddlewareConfig
	middleware.EnableCORS = cfg.Server.CORSEnabled
	middleware.Timeouts.Default = cfg.Server.RequestTimeout
	middleware.Timeouts.Long = cfg.LLM.Timeout

	httpapi.NewAPIHandlers(httpapi.Dependencies{
		Session:     container.Session,
		Coordinator: container.Coordinator,
		Storage:     container.Storage,
		Messaging:   container.Messaging,
		Model:       container.Model,
		Tokenizer:   container.Tokenizer,
		Metrics:     container.Metrics,
		Hub:         container.Hub,
		Logger:      logger,
	}, httpapi.Config{
		AssistantName: cfg.Chat.AssistantName,
		Middleware:    middleware,
	}).SetupRoutes(router)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           router,
		ReadHeaderTimeout: constants.ReadHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", logutil.Fields{
			"address": cfg.Address(),
			"version": constants.ServiceVersion,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err = <-serveErr:
		if err != nil {
			logger.Error("Server failed", logutil.Fields{"error": err.Error()})
		}
	case <-ctx.Done():
		logger.Info("Shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("Server forced to shutdown", logutil.Fields{"error": shutdownErr.Error()})
	}
	container.Shutdown(shutdownCtx)

	logger.Info("Server exited")
	return err
}
