package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/chatbae/internal/domain/ports"
)

var _ ports.KeyValuePort = (*Adapter)(nil)

func TestAdapter_RoundTrip(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter()

	_, found, err := a.Load(ctx, "genz-mode")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, a.Save(ctx, "genz-mode", "true"))
	value, found, err := a.Load(ctx, "genz-mode")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "true", value)

	require.NoError(t, a.Remove(ctx, "genz-mode"))
	_, found, _ = a.Load(ctx, "genz-mode")
	assert.False(t, found)
}
