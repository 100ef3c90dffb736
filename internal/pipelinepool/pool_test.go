package pipelinepool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_AcquireReleaseRoundTrip(t *testing.T) {
	p := New(2)
	stats := p.Stats()
	assert.Equal(t, 2, stats.Capacity)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 2, stats.Idle)

	w, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stats().Active)

	p.Release(w)
	assert.Equal(t, 0, p.Stats().Active)
}

func TestPool_AcquireBlocksUntilTimeoutWhenExhausted(t *testing.T) {
	p := New(1)
	w, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p.Release(w)
}

func TestPool_FourthWaiterProceedsAfterRelease(t *testing.T) {
	// Pool size 3, 4 concurrent requests: 3 proceed, the 4th waits until
	// one is released.
	p := New(3)
	var held []*Worker
	for i := 0; i < 3; i++ {
		w, err := p.Acquire(context.Background())
		require.NoError(t, err)
		held = append(held, w)
	}

	done := make(chan struct{})
	go func() {
		w, err := p.Acquire(context.Background())
		require.NoError(t, err)
		p.Release(w)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("4th acquire should not proceed before a release")
	case <-time.After(20 * time.Millisecond):
	}

	p.Release(held[0])

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("4th acquire should proceed once a slot frees up")
	}
}

func TestPool_ReleaseReturnsEachWorkerOnce(t *testing.T) {
	p := New(2)
	w1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	w2, err := p.Acquire(context.Background())
	require.NoError(t, err)

	p.Release(w1)
	p.Release(w2)
	assert.Equal(t, 0, p.Stats().Active)
	assert.Equal(t, 2, p.Stats().Idle)
}
