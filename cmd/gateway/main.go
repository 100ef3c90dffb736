// Command gateway runs EyeD's Gateway process: gRPC frame ingress, REST
// surface, WebSocket result fan-out, and WebRTC signaling relay. It loads
// config, constructs collaborators with graceful fallback, wires routes,
// starts the listeners, waits for SIGTERM, and shuts down gracefully.
package main

import (
	"context"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/hasbegun/eyed/internal/breaker"
	"github.com/hasbegun/eyed/internal/bus"
	"github.com/hasbegun/eyed/internal/config"
	"github.com/hasbegun/eyed/internal/db"
	"github.com/hasbegun/eyed/internal/fanout"
	"github.com/hasbegun/eyed/internal/grpcapi"
	"github.com/hasbegun/eyed/internal/health"
	"github.com/hasbegun/eyed/internal/models"
	"github.com/hasbegun/eyed/internal/restapi"
	"github.com/hasbegun/eyed/internal/signaling"
	pb "github.com/hasbegun/eyed/pb/eyed"
)

func main() {
	cfg := config.LoadGateway()

	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	busClient, err := bus.Connect(ctx, cfg.NATSURL)
	if err != nil {
		log.Fatalf("gateway: connect to bus: %v", err)
	}
	defer busClient.Close()

	// Store is optional: /gallery, /templates, /db/* degrade to 503 without
	// it, but gRPC ingress and /analyze still work through the bus alone.
	var store *db.Store
	// Gateway's own copy of the Supabase credentials, read straight from
	// the environment the same way config.LoadEngine does, so the admin
	// surface works even when the Gateway and Engine run as separate
	// deployments.
	if url, key := os.Getenv("SUPABASE_URL"), os.Getenv("SUPABASE_SERVICE_KEY"); url != "" && key != "" {
		s, err := db.New(url, key)
		if err != nil {
			slog.Warn("gateway: supabase unavailable, /gallery and /db/* disabled", "error", err)
		} else {
			store = s
		}
	}

	// A direct Postgres connection upgrades /db/schema and /db/stats from
	// the fixed fallback table list to live information_schema
	// introspection; the REST facade cannot serve that.
	if dbURL := os.Getenv("EYED_DB_URL"); dbURL != "" && store != nil {
		inspector, err := db.NewInspector(dbURL)
		if err != nil {
			slog.Warn("gateway: postgres unreachable, /db/schema serves the fallback table list", "error", err)
		} else {
			store.AttachInspector(inspector)
			defer inspector.Close()
		}
	}

	admissionBreaker := breaker.New(breaker.Config{
		Name:             "gateway-analyze",
		FailureThreshold: cfg.BreakerThreshold,
		Cooldown:         cfg.BreakerCooldown,
	})

	gatewayChecker := &health.GatewayChecker{Bus: busClient, Breaker: admissionBreaker, Version: cfg.Version}
	enginePing := health.NewEnginePing(busClient, 5*time.Second)

	resultHub := fanout.New(cfg.AllowedOrigins, logger)
	signalingHub := signaling.New(logger)
	go signalingHub.Run()

	// Bridge eyed.result onto the WebSocket fan-out hub.
	resultCh, resultSub, err := bus.SubscribeHandoff[models.AnalysisResult](busClient, bus.SubjectResult, 256)
	if err != nil {
		log.Fatalf("gateway: subscribe %s: %v", bus.SubjectResult, err)
	}
	defer resultSub.Unsubscribe()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-resultCh:
				if !ok {
					return
				}
				result := msg.Value
				resultHub.Broadcast(&result)
			}
		}
	}()

	router := restapi.NewRouter(restapi.Deps{
		Config:     cfg,
		Bus:        busClient,
		Breaker:    admissionBreaker,
		Store:      store,
		Gateway:    gatewayChecker,
		EnginePing: enginePing,
		Logger:     logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/", router)
	mux.Handle("/ws/results", resultHub)
	mux.Handle("/ws/signaling", signalingHub)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE and WebSocket handlers manage their own deadlines
		IdleTimeout:  120 * time.Second,
	}

	grpcServer := grpc.NewServer()
	pb.RegisterCaptureServiceServer(grpcServer, grpcapi.NewServer(busClient, admissionBreaker, logger))

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("gateway: listen grpc %s: %v", cfg.GRPCAddr, err)
	}

	go func() {
		logger.Info("gateway grpc listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Error("gateway: grpc server stopped", "error", err)
		}
	}()

	go func() {
		logger.Info("gateway http listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("gateway: http server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("gateway: shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway: http shutdown error", "error", err)
	}
	grpcServer.GracefulStop()

	logger.Info("gateway: stopped")
}
