package ports

import (
	"context"
)

// KeyValuePort defines the durable key/value medium that state is persisted to
type KeyValuePort interface {
	// Load returns the stored value. An absent key is not an error and
	// reports found=false.
	Load(ctx context.Context, key string) (value string, found bool, err error)

	// Save stores value under key, replacing any previous value
	Save(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Health check
	Ping(ctx context.Context) error

	// Close releases the underlying store
	Close() error
}

// Migrator is implemented by stores that keep a versioned schema
type Migrator interface {
	Migrate(ctx context.Context) error
}
