package memory

import (
	"context"
	"sync"
)

// Adapter keeps persisted keys in process memory. Nothing survives a restart;
// it backs tests and the "memory" storage driver.
type Adapter struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewAdapter returns an empty in-memory store
func NewAdapter() *Adapter {
	return &Adapter{values: make(map[string]string)}
}

// Load returns the value stored under key
func (a *Adapter) Load(_ context.Context, key string) (string, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	value, ok := a.values[key]
	return value, ok, nil
}

// Save stores value under key
func (a *Adapter) Save(_ context.Context, key, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[key] = value
	return nil
}

// Remove deletes key
func (a *Adapter) Remove(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.values, key)
	return nil
}

// Ping always succeeds
func (a *Adapter) Ping(context.Context) error { return nil }

// Close is a no-op
func (a *Adapter) Close() error { return nil }
