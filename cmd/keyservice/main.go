// Command keyservice runs EyeD's KeyService process: the sole holder of
// the homomorphic secret key.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hasbegun/eyed/internal/bus"
	"github.com/hasbegun/eyed/internal/config"
	"github.com/hasbegun/eyed/internal/keycrypto"
	"github.com/hasbegun/eyed/internal/keyservice"
)

func main() {
	cfg := config.LoadKeyService()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sk, err := keycrypto.LoadOrGenerate(cfg.HEKeyDir)
	if err != nil {
		log.Fatalf("keyservice: load or generate secret key: %v", err)
	}

	busClient, err := bus.Connect(ctx, cfg.NATSURL)
	if err != nil {
		log.Fatalf("keyservice: connect to bus: %v", err)
	}
	defer busClient.Close()

	svc := keyservice.New(busClient, sk, logger)

	logger.Info("keyservice starting", "key_dir", cfg.HEKeyDir)
	if err := svc.Run(ctx); err != nil {
		log.Fatalf("keyservice: request loop failed: %v", err)
	}

	logger.Info("keyservice: stopped")
}
