package httputil

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/username/chatbae/internal/pkg/logutil"
)

// ContextKey represents a context key type to avoid collisions
type ContextKey string

const (
	// TimeoutConfigKey is the context key for timeout configuration
	TimeoutConfigKey ContextKey = "timeout_config"
)

// MiddlewareConfig holds middleware configuration
type MiddlewareConfig struct {
	Timeouts       TimeoutConfig
	EnableCORS     bool
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// DefaultMiddlewareConfig provides sensible defaults
var DefaultMiddlewareConfig = MiddlewareConfig{
	Timeouts:       DefaultTimeouts,
	EnableCORS:     true,
	AllowedOrigins: []string{"*"},
	AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
	AllowedHeaders: []string{"Content-Type", "Authorization"},
}

// TimeoutMiddleware injects the timeout configuration into the gin context
func TimeoutMiddleware(config TimeoutConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(string(TimeoutConfigKey), config)
		c.Next()
	}
}

// CORSMiddleware creates a configurable CORS middleware
func CORSMiddleware(config MiddlewareConfig) gin.HandlerFunc {
	methods := "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	if len(config.AllowedMethods) > 0 {
		methods = strings.Join(config.AllowedMethods, ", ")
	}
	headers := "Content-Type, Authorization"
	if len(config.AllowedHeaders) > 0 {
		headers = strings.Join(config.AllowedHeaders, ", ")
	}

	return func(c *gin.Context) {
		if config.EnableCORS {
			for _, origin := range config.AllowedOrigins {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", headers)

			if c.Request.Method == "OPTIONS" {
				c.AbortWithStatus(204)
				return
			}
		}
		c.Next()
	}
}

// RequestLogger logs one line per request at a level chosen by the status
func RequestLogger(logger *logutil.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logutil.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Error("Request failed", fields)
		case status >= 400:
			logger.Warn("Request rejected", fields)
		default:
			logger.Debug("Request handled", fields)
		}
	}
}

// DurationRecorder receives the latency of each handled request
type DurationRecorder interface {
	RecordResponseTime(d time.Duration)
}

// MetricsMiddleware reports request latency to recorder
func MetricsMiddleware(recorder DurationRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		recorder.RecordResponseTime(time.Since(start))
	}
}

// GetTimeoutForOperation retrieves appropriate timeout for operation from context
func GetTimeoutForOperation(c *gin.Context, operationType string) time.Duration {
	return timeoutsFrom(c).For(operationType)
}

// timeoutsFrom returns the TimeoutConfig stored by TimeoutMiddleware, or
// DefaultTimeouts when the route was mounted without it
func timeoutsFrom(c *gin.Context) TimeoutConfig {
	value, exists := c.Get(string(TimeoutConfigKey))
	if !exists {
		return DefaultTimeouts
	}
	config, ok := value.(TimeoutConfig)
	if !ok {
		return DefaultTimeouts
	}
	return config
}

// WithOperationContext derives a request-scoped context bounded by the
// timeout of operationType
func WithOperationContext(c *gin.Context, operationType string) (context.Context, context.CancelFunc) {
	return WithCustomTimeout(c.Request.Context(), operationType, timeoutsFrom(c))
}
