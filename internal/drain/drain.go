// Package drain implements EyeD's BatchDrain: the single process-wide task
// that pops batches off the WriteThroughCache's queue and commits them to
// the database on size or interval triggers.
package drain

import (
	"context"
	"log/slog"
	"time"

	"github.com/hasbegun/eyed/internal/cache"
	"github.com/hasbegun/eyed/internal/db"
	"github.com/hasbegun/eyed/internal/metrics"
)

// Config controls batch size, poll interval, and poison-item tolerance.
type Config struct {
	BatchSize    int
	Interval     time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

// Drainer owns the single drain loop.
type Drainer struct {
	cfg   Config
	cache *cache.Cache
	store db.TemplateWriter
}

// New creates a Drainer.
func New(cfg Config, c *cache.Cache, store db.TemplateWriter) *Drainer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	return &Drainer{cfg: cfg, cache: c, store: store}
}

// Run drains until ctx is cancelled, then attempts one bounded final
// flush. Each round blocks in the cache until either BatchSize items have
// accumulated or Interval has elapsed, whichever comes first, so a queue
// that fills quickly commits without waiting out the interval.
func (d *Drainer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.finalFlush()
			return
		default:
		}
		d.drainOnce(ctx, d.cfg.Interval)
	}
}

// drainOnce collects and commits one batch, returning how many items it
// popped off the queue. Items popped alongside a pop error are still
// committed rather than dropped.
func (d *Drainer) drainOnce(ctx context.Context, maxWait time.Duration) int {
	items, err := d.cache.PopBatch(ctx, d.cfg.BatchSize, maxWait)
	if err != nil && ctx.Err() == nil {
		slog.Error("drain: pop batch failed", "error", err)
	}
	if len(items) == 0 {
		return 0
	}

	rows := make([]db.TemplateRow, len(items))
	for i, it := range items {
		rows[i] = it.Row
	}

	if err := d.store.InsertTemplatesBatch(ctx, rows); err != nil {
		metrics.DrainBatchesTotal.WithLabelValues("failed").Inc()
		d.handleFailure(ctx, items, err)
		return len(items)
	}
	metrics.DrainBatchesTotal.WithLabelValues("committed").Inc()
	slog.Info("drain: committed batch", "count", len(items))
	return len(items)
}

// handleFailure re-queues transient failures at the head (preserving
// order), or moves poison items past MaxAttempts to the dead-letter list.
func (d *Drainer) handleFailure(ctx context.Context, items []cache.Item, err error) {
	var survivors, poisoned []cache.Item
	for _, it := range items {
		if it.Attempts+1 >= d.cfg.MaxAttempts {
			poisoned = append(poisoned, it)
		} else {
			survivors = append(survivors, it)
		}
	}

	for _, it := range poisoned {
		it.Attempts++
		if dlErr := d.cache.DeadLetter(ctx, it); dlErr != nil {
			slog.Error("drain: failed to dead-letter poison item", "template_id", it.Row.TemplateID, "error", dlErr)
		} else {
			slog.Warn("drain: moved poison item to dead-letter", "template_id", it.Row.TemplateID)
		}
	}

	if len(survivors) > 0 {
		if rqErr := d.cache.RequeueHead(ctx, survivors); rqErr != nil {
			slog.Error("drain: requeue failed", "error", rqErr)
		}
	}

	slog.Warn("drain: batch insert failed, retrying", "error", err, "requeued", len(survivors), "dead_lettered", len(poisoned))
	time.Sleep(d.cfg.RetryBackoff)
}

// finalFlush commits whatever is still on the queue within a bounded
// deadline; anything left past the deadline survives on the external list.
func (d *Drainer) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for ctx.Err() == nil {
		if d.drainOnce(ctx, 100*time.Millisecond) == 0 {
			return
		}
	}
}
