package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacer_SpacesRequests(t *testing.T) {
	p := NewPacer(20 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Wait(ctx))
	}

	// first request is immediate, the next two wait one gap each
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestPacer_ZeroDelayDoesNotBlock(t *testing.T) {
	p := NewPacer(0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, p.Wait(ctx))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, time.Duration(0), p.Delay())
}

func TestPacer_ContextCancelled(t *testing.T) {
	p := NewPacer(time.Hour)
	require.NoError(t, p.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, p.Wait(ctx))
}
