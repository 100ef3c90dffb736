// Command engine runs EyeD's Engine process: the bus request loop,
// PipelinePool dispatch, plaintext/encrypted matching, and the
// Cache->Drain->DB enrollment path.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hasbegun/eyed/internal/bus"
	"github.com/hasbegun/eyed/internal/cache"
	"github.com/hasbegun/eyed/internal/config"
	"github.com/hasbegun/eyed/internal/db"
	"github.com/hasbegun/eyed/internal/drain"
	"github.com/hasbegun/eyed/internal/engine"
	"github.com/hasbegun/eyed/internal/gallery"
	"github.com/hasbegun/eyed/internal/keycrypto"
	"github.com/hasbegun/eyed/internal/pipeline"
	"github.com/hasbegun/eyed/internal/pipelinepool"
)

func main() {
	cfg := config.LoadEngine()

	logLevel := slog.LevelInfo
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	busClient, err := bus.Connect(ctx, cfg.NATSURL)
	if err != nil {
		log.Fatalf("engine: connect to bus: %v", err)
	}
	defer busClient.Close()

	var store *db.Store
	if cfg.SupabaseURL != "" && cfg.SupabaseServiceKey != "" {
		s, err := db.New(cfg.SupabaseURL, cfg.SupabaseServiceKey)
		if err != nil {
			log.Fatalf("engine: connect to db: %v", err)
		}
		store = s
	} else {
		logger.Warn("engine: no SUPABASE_URL/SUPABASE_SERVICE_KEY, running without durable storage")
	}

	cacheClient := cache.New(ctx, cfg.RedisURL, store)

	drainer := drain.New(drain.Config{
		BatchSize: cfg.BatchDBSize,
		Interval:  cfg.BatchDBInterval,
	}, cacheClient, store)
	go drainer.Run(ctx)

	pool := pipelinepool.New(cfg.PipelinePoolSize)
	pipelineImpl := pipeline.NewStub(256)
	gal := gallery.New()

	var pubKey *keycrypto.PublicKey
	if cfg.HEEnabled {
		pk, err := keycrypto.LoadPublic(cfg.HEKeyDir)
		if err != nil {
			log.Fatalf("engine: HE enabled but no public key in %s: %v", cfg.HEKeyDir, err)
		}
		pubKey = pk
	}

	eng := engine.New(engine.Dependencies{
		Config:   cfg,
		Bus:      busClient,
		Pool:     pool,
		Pipeline: pipelineImpl,
		Gallery:  gal,
		Cache:    cacheClient,
		Store:    store,
		PubKey:   pubKey,
		Logger:   logger,
	})

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := eng.LoadGallery(loadCtx); err != nil {
		logger.Warn("engine: gallery load failed, starting empty", "error", err)
	}
	cancel()

	logger.Info("engine starting", "pool_size", cfg.PipelinePoolSize, "he_enabled", cfg.HEEnabled)
	if err := eng.Run(ctx); err != nil {
		log.Fatalf("engine: request loop failed: %v", err)
	}

	logger.Info("engine: stopped")
}
