package health

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasbegun/eyed/internal/breaker"
	"github.com/hasbegun/eyed/internal/bus"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true}
	srv, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded nats server did not become ready")
	}
	t.Cleanup(srv.Shutdown)

	return srv.ClientURL()
}

func TestGatewayChecker_ReadyReflectsBusAndBreakerState(t *testing.T) {
	url := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := bus.Connect(ctx, url)
	require.NoError(t, err)
	defer c.Close()

	b := breaker.New(breaker.Config{Name: "gw", FailureThreshold: 3, Cooldown: time.Minute})
	checker := &GatewayChecker{Bus: c, Breaker: b, Version: "1.2.3"}

	status := checker.Ready()
	assert.True(t, status.Alive)
	assert.True(t, status.Ready)
	assert.True(t, status.NATSConnected)
	assert.Equal(t, "closed", status.CircuitBreaker)
	assert.Equal(t, "1.2.3", status.Version)
}

func TestEnginePing_StatusReflectsEngineResponse(t *testing.T) {
	url := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server, err := bus.Connect(ctx, url)
	require.NoError(t, err)
	defer server.Close()
	client, err := bus.Connect(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	sub, err := server.Subscribe(bus.SubjectEngineHealth, func(ctx context.Context, data []byte) (interface{}, error) {
		return bus.EngineHealthResponse{Ready: true, PipelineLoaded: true, GallerySize: 7, DBConnected: true}, nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	ping := NewEnginePing(client, time.Hour)
	status := ping.Status(ctx)
	assert.True(t, status.Alive)
	assert.True(t, status.Ready)
	assert.True(t, status.PipelineLoaded)
	assert.Equal(t, 7, status.GallerySize)
}

func TestEnginePing_UnreachableEngineReportsNotAlive(t *testing.T) {
	url := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := bus.Connect(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	ping := NewEnginePing(client, time.Hour)
	status := ping.Status(ctx)
	assert.False(t, status.Alive)
	assert.False(t, status.Ready)
}

func TestEnginePing_CachesResultWithinInterval(t *testing.T) {
	url := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server, err := bus.Connect(ctx, url)
	require.NoError(t, err)
	defer server.Close()
	client, err := bus.Connect(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	calls := 0
	sub, err := server.Subscribe(bus.SubjectEngineHealth, func(ctx context.Context, data []byte) (interface{}, error) {
		calls++
		return bus.EngineHealthResponse{Ready: true}, nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	ping := NewEnginePing(client, time.Hour)
	ping.Status(ctx)
	ping.Status(ctx)
	ping.Status(ctx)
	assert.Equal(t, 1, calls)
}

func TestNewEnginePing_DefaultsNonPositiveInterval(t *testing.T) {
	ping := NewEnginePing(nil, 0)
	assert.Equal(t, 5*time.Second, ping.interval)
}
