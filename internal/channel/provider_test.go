package channel

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestProviderSharesOneConnection(t *testing.T) {
	srv := newScriptedServer(t)
	provider := NewProvider(Options{
		URL:               srv.url(),
		ReconnectAttempts: 1,
		Logger:            zerolog.Nop(),
	})

	first, releaseFirst, err := provider.Acquire(context.Background())
	require.NoError(t, err)
	second, releaseSecond, err := provider.Acquire(context.Background())
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, 2, provider.Refs())

	waitConnected(t, first)
	require.EqualValues(t, 1, srv.accepted.Load())

	releaseFirst()
	releaseFirst()
	require.Equal(t, 1, provider.Refs())
	require.Equal(t, StateConnected, second.State())

	releaseSecond()
	require.Zero(t, provider.Refs())
	require.Equal(t, StateClosed, second.State())

	third, releaseThird, err := provider.Acquire(context.Background())
	require.NoError(t, err)
	defer releaseThird()
	require.NotSame(t, first, third)
	require.Eventually(t, func() bool { return srv.accepted.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestProviderAcquireHonorsCanceledContext(t *testing.T) {
	provider := NewProvider(Options{URL: "ws://127.0.0.1:1/ws"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := provider.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
