package messaging_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i3lani/paywatch/common/messaging"
	"github.com/i3lani/paywatch/common/messaging/memory"
)

func TestCheckClientHealth(t *testing.T) {
	t.Run("nil client", func(t *testing.T) {
		status := messaging.CheckClientHealth(context.Background(), nil)
		assert.False(t, status.Connected)
		assert.Equal(t, "client is nil", status.Error)
	})

	t.Run("connected without responder", func(t *testing.T) {
		bus := memory.NewBus()
		status := messaging.CheckClientHealth(context.Background(), bus)
		assert.True(t, status.Connected)
		assert.Empty(t, status.Error)
	})

	t.Run("closed", func(t *testing.T) {
		bus := memory.NewBus()
		require.NoError(t, bus.Close())
		status := messaging.CheckClientHealth(context.Background(), bus)
		assert.False(t, status.Connected)
		assert.NotEmpty(t, status.Error)
	})
}
