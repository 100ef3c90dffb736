package drain

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasbegun/eyed/internal/cache"
	"github.com/hasbegun/eyed/internal/db"
	"github.com/hasbegun/eyed/internal/models"
)

// fakeStore is a TemplateWriter test double that can be told to fail the
// next N calls, so drain retry/dead-letter behavior can be exercised
// without a real Supabase instance.
type fakeStore struct {
	mu          sync.Mutex
	failNext    int
	committed   []db.TemplateRow
	insertCalls int
}

func (f *fakeStore) InsertTemplatesBatch(ctx context.Context, rows []db.TemplateRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++
	if f.failNext > 0 {
		f.failNext--
		return fmt.Errorf("simulated transient db failure")
	}
	f.committed = append(f.committed, rows...)
	return nil
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return cache.New(context.Background(), "redis://"+mr.Addr(), nil)
}

func TestDrainer_CommitsBatchOnSuccess(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, testTemplate("t1")))
	require.NoError(t, c.Put(ctx, testTemplate("t2")))

	store := &fakeStore{}
	d := New(Config{BatchSize: 10, Interval: 50 * time.Millisecond, MaxAttempts: 3, RetryBackoff: time.Millisecond}, c, store)

	d.drainOnce(ctx, 50*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.committed, 2)
}

func TestDrainer_TransientFailureRequeuesAtHeadPreservingOrder(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, testTemplate("t1")))
	require.NoError(t, c.Put(ctx, testTemplate("t2")))

	store := &fakeStore{failNext: 1}
	d := New(Config{BatchSize: 10, Interval: 50 * time.Millisecond, MaxAttempts: 5, RetryBackoff: time.Millisecond}, c, store)

	d.drainOnce(ctx, 50*time.Millisecond) // fails, requeues both at head

	items, err := c.PopBatch(ctx, 10, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "t1", items[0].Row.TemplateID)
	assert.Equal(t, "t2", items[1].Row.TemplateID)
	assert.Equal(t, 1, items[0].Attempts)
}

func TestDrainer_PoisonItemMovesToDeadLetterAfterMaxAttempts(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, testTemplate("poison")))

	store := &fakeStore{failNext: 1000} // always fails
	d := New(Config{BatchSize: 10, Interval: 50 * time.Millisecond, MaxAttempts: 2, RetryBackoff: time.Millisecond}, c, store)

	// MaxAttempts=2: first failure requeues (attempts becomes 1), second
	// failure dead-letters (attempts becomes 2 >= MaxAttempts).
	d.drainOnce(ctx, 50*time.Millisecond)
	d.drainOnce(ctx, 50*time.Millisecond)

	remaining, err := c.PopBatch(ctx, 10, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, remaining, 0, "poison item must not remain on the main queue")
}

func TestDrainer_FullBatchDrainsBeforeIntervalElapses(t *testing.T) {
	c := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, c.Put(ctx, testTemplate(id)))
	}

	store := &fakeStore{}
	// Interval far longer than the test: only the size trigger can commit
	// this batch in time.
	d := New(Config{BatchSize: 3, Interval: time.Minute, MaxAttempts: 3, RetryBackoff: time.Millisecond}, c, store)
	go d.Run(ctx)

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.committed) == 3
	}, 2*time.Second, 10*time.Millisecond, "a full batch must drain without waiting out the interval")
}

func testTemplate(id string) *models.IrisTemplate {
	return &models.IrisTemplate{TemplateID: id, EyeSide: models.EyeLeft}
}
