// Package cache implements EyeD's WriteThroughCache: a
// process-wide Redis LIST client that accepts enrollments at sub-ms
// latency, falling back to a direct DB insert when Redis itself is
// unreachable so the caller sees identical semantics either way.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hasbegun/eyed/internal/db"
	"github.com/hasbegun/eyed/internal/metrics"
	"github.com/hasbegun/eyed/internal/models"
)

// QueueKey is the well-known list the drainer pops from.
const QueueKey = "eyed:enroll:queue"

// DeadLetterKey holds entries that failed K drain attempts.
const DeadLetterKey = "eyed:enroll:dlq"

// Item is the serialized form of one enrollment pushed onto the queue.
type Item struct {
	Row      db.TemplateRow `json:"row"`
	Attempts int            `json:"attempts"`
}

// Cache is the WriteThroughCache. A nil rdb means Redis was never reachable
// and every Put degrades straight to the DB.
type Cache struct {
	rdb   *redis.Client
	store db.TemplateWriter
}

// New connects to addr and verifies connectivity with a ping. If the ping
// fails, it returns a Cache with no Redis client so Put always takes the
// degraded path. Fallback is synchronous, on the same call, rather than a
// background retry.
func New(ctx context.Context, redisURL string, store db.TemplateWriter) *Cache {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		slog.Warn("cache: invalid redis url, running degraded", "error", err)
		return &Cache{store: store}
	}

	rdb := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		slog.Warn("cache: redis unreachable, running degraded", "error", err)
		rdb.Close()
		return &Cache{store: store}
	}

	slog.Info("cache: redis connected", "addr", opt.Addr)
	return &Cache{rdb: rdb, store: store}
}

// Degraded reports whether Redis is unavailable (for /engine/health/ready).
func (c *Cache) Degraded() bool {
	return c.rdb == nil
}

// Put serializes the template and LPUSHes it onto QueueKey. If Redis is
// unreachable, it falls back to inserting directly into the DB on this same
// call.
func (c *Cache) Put(ctx context.Context, t *models.IrisTemplate) error {
	row := db.TemplateRowFromModel(t)

	if c.rdb == nil {
		return c.store.InsertTemplatesBatch(ctx, []db.TemplateRow{row})
	}

	data, err := json.Marshal(Item{Row: row})
	if err != nil {
		return fmt.Errorf("marshal enroll item: %w", err)
	}

	if err := c.rdb.LPush(ctx, QueueKey, data).Err(); err != nil {
		slog.Warn("cache: lpush failed, falling back to direct db insert", "error", err)
		return c.store.InsertTemplatesBatch(ctx, []db.TemplateRow{row})
	}
	return nil
}

// PopBatch removes up to n items from the tail of QueueKey (FIFO order:
// Put pushes to the head, PopBatch pops from the tail), blocking until
// either n items have been collected or maxWait has elapsed, whichever
// comes first. A queue that fills to n drains immediately instead of
// waiting out the interval.
func (c *Cache) PopBatch(ctx context.Context, n int, maxWait time.Duration) ([]Item, error) {
	if c.rdb == nil {
		select {
		case <-ctx.Done():
		case <-time.After(maxWait):
		}
		return nil, nil
	}

	deadline := time.Now().Add(maxWait)
	items := make([]Item, 0, n)
	for len(items) < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		res, err := c.rdb.BRPop(ctx, remaining, QueueKey).Result()
		if err == redis.Nil {
			break // waited out the deadline with an empty queue
		}
		if err != nil {
			return items, fmt.Errorf("brpop: %w", err)
		}
		var it Item
		if err := json.Unmarshal([]byte(res[1]), &it); err != nil {
			slog.Error("cache: corrupt queue item dropped to dlq", "error", err)
			c.deadLetter(ctx, res[1])
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

// RequeueHead pushes items back onto the pop end of the list (the tail
// PopBatch reads from), so they are drained next, in their original order.
func (c *Cache) RequeueHead(ctx context.Context, items []Item) error {
	if c.rdb == nil || len(items) == 0 {
		return nil
	}
	for i := len(items) - 1; i >= 0; i-- {
		items[i].Attempts++
		data, err := json.Marshal(items[i])
		if err != nil {
			continue
		}
		if err := c.rdb.RPush(ctx, QueueKey, data).Err(); err != nil {
			return fmt.Errorf("requeue: %w", err)
		}
	}
	return nil
}

// DeadLetter moves a poison item to DeadLetterKey after K attempts.
func (c *Cache) DeadLetter(ctx context.Context, item Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	return c.deadLetterRaw(ctx, data)
}

func (c *Cache) deadLetter(ctx context.Context, raw string) {
	_ = c.deadLetterRaw(ctx, []byte(raw))
}

func (c *Cache) deadLetterRaw(ctx context.Context, data []byte) error {
	if c.rdb == nil {
		return nil
	}
	if err := c.rdb.LPush(ctx, DeadLetterKey, data).Err(); err != nil {
		return fmt.Errorf("lpush dlq: %w", err)
	}
	metrics.DeadLettered.Inc()
	return nil
}

// QueueDepth reports the current pending count for health/metrics.
func (c *Cache) QueueDepth(ctx context.Context) (int64, error) {
	if c.rdb == nil {
		return 0, nil
	}
	depth, err := c.rdb.LLen(ctx, QueueKey).Result()
	if err == nil {
		metrics.CacheQueueDepth.Set(float64(depth))
	}
	return depth, err
}
