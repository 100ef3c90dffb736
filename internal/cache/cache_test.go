package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasbegun/eyed/internal/db"
	"github.com/hasbegun/eyed/internal/models"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c := New(context.Background(), "redis://"+mr.Addr(), nil)
	require.False(t, c.Degraded())
	return c
}

func TestCache_PutLPushesOntoQueue(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	tpl := &models.IrisTemplate{TemplateID: "t1", IdentityID: "id-a", EyeSide: models.EyeLeft}
	require.NoError(t, c.Put(ctx, tpl))

	depth, err := c.QueueDepth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth)
}

func TestCache_PopBatchReturnsFIFOOrder(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	for _, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, c.Put(ctx, &models.IrisTemplate{TemplateID: id}))
	}

	items, err := c.PopBatch(ctx, 10, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "t1", items[0].Row.TemplateID)
	assert.Equal(t, "t2", items[1].Row.TemplateID)
	assert.Equal(t, "t3", items[2].Row.TemplateID)
}

func TestCache_RequeueHeadPreservesOrderForNextPop(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	for _, id := range []string{"t1", "t2"} {
		require.NoError(t, c.Put(ctx, &models.IrisTemplate{TemplateID: id}))
	}
	items, err := c.PopBatch(ctx, 10, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.NoError(t, c.RequeueHead(ctx, items))

	replayed, err := c.PopBatch(ctx, 10, 50*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, replayed, 2)
	assert.Equal(t, "t1", replayed[0].Row.TemplateID)
	assert.Equal(t, "t2", replayed[1].Row.TemplateID)
	assert.Equal(t, 1, replayed[0].Attempts, "requeue increments the attempt counter")
}

func TestCache_DeadLetterMovesItemOffMainQueue(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.DeadLetter(ctx, Item{Row: db.TemplateRow{TemplateID: "poison"}}))

	items, err := c.PopBatch(ctx, 10, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, items, 0, "dead-lettered item must not remain on the main queue")
}

func TestCache_PutFallsBackToDegradedConstruction(t *testing.T) {
	c := New(context.Background(), "redis://127.0.0.1:1", nil)
	assert.True(t, c.Degraded(), "unreachable redis falls back to the degraded path")
}
