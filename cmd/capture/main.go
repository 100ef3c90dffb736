// Command capture runs EyeD's CaptureAgent process: it acquires frames
// from a directory source, quality-gates and ring-buffers them, and
// streams them to the Gateway over gRPC with reconnect/backoff.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hasbegun/eyed/internal/capture"
	"github.com/hasbegun/eyed/internal/config"
)

func main() {
	cfg := config.LoadCapture()

	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ring := capture.NewRing(cfg.RingCapacity)
	gate := capture.NewQualityGate(cfg.QualityThreshold)

	if cfg.CameraSource != "directory" {
		logger.Warn("capture: camera source unsupported in this core, falling back to directory", "requested", cfg.CameraSource)
	}
	source := capture.NewDirectorySource(cfg.ImageDir, cfg.DeviceID, gate, ring, 200*time.Millisecond, logger)

	client := capture.NewStreamingClient(
		cfg.GatewayAddr,
		cfg.DeviceID,
		ring,
		time.Duration(cfg.ReconnectBaseMS)*time.Millisecond,
		time.Duration(cfg.ReconnectMaxMS)*time.Millisecond,
		logger,
	)

	go func() {
		if err := source.Run(ctx); err != nil {
			log.Fatalf("capture: frame source stopped: %v", err)
		}
	}()

	logger.Info("capture agent starting", "device_id", cfg.DeviceID, "gateway_addr", cfg.GatewayAddr, "image_dir", cfg.ImageDir)
	client.Run(ctx)

	logger.Info("capture agent: stopped")
}
