package constants

import "time"

// Application constants
const (
	// Service identification
	ServiceName    = "chatbae"
	ServiceVersion = "v1.0.0"
)

// Default timeouts
const (
	HealthCheckTimeout      = 5 * time.Second
	GracefulShutdownTimeout = 30 * time.Second
	ReadHeaderTimeout       = 10 * time.Second
)

// Storage drivers
const (
	StorageDriverSQLite = "sqlite"
	StorageDriverBolt   = "bolt"
	StorageDriverMemory = "memory"
)

// File and directory paths
const (
	DataDirPermissions = 0o755
)

// Log levels
const (
	LogLevelDebug = "debug"
)
