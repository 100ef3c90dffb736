// Package health aggregates the Gateway's and Engine's readiness
// signals. Engine reachability (served on /engine/health/ready, not part
// of /health/ready) is a cached ping rather than a synchronous bus
// round-trip on every call, so health checks stay cheap under load.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/hasbegun/eyed/internal/breaker"
	"github.com/hasbegun/eyed/internal/bus"
)

// GatewayStatus is the payload for GET /health/ready.
type GatewayStatus struct {
	Alive          bool   `json:"alive"`
	Ready          bool   `json:"ready"`
	NATSConnected  bool   `json:"nats_connected"`
	CircuitBreaker string `json:"circuit_breaker"`
	Version        string `json:"version"`
}

// EngineStatus is the payload for GET /engine/health/ready.
type EngineStatus struct {
	Alive         bool `json:"alive"`
	Ready         bool `json:"ready"`
	PipelineLoaded bool `json:"pipeline_loaded"`
	GallerySize    int  `json:"gallery_size"`
	DBConnected    bool `json:"db_connected"`
	CacheDegraded  bool `json:"cache_degraded"`
}

// GatewayChecker answers /health/alive and /health/ready for the Gateway.
type GatewayChecker struct {
	Bus     *bus.Client
	Breaker *breaker.Breaker
	Version string
}

func (g *GatewayChecker) Ready() GatewayStatus {
	connected := g.Bus.IsConnected()
	return GatewayStatus{
		Alive:          true,
		Ready:          connected,
		NATSConnected:  connected,
		CircuitBreaker: g.Breaker.State().String(),
		Version:        g.Version,
	}
}

// EnginePing caches the result of a cheap bus health probe so
// /engine/health/ready doesn't fan out a fresh request per HTTP call.
type EnginePing struct {
	bus *bus.Client

	mu       sync.Mutex
	last     EngineStatus
	lastAt   time.Time
	interval time.Duration
}

// NewEnginePing creates a cached pinger refreshing at most every interval.
func NewEnginePing(c *bus.Client, interval time.Duration) *EnginePing {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &EnginePing{bus: c, interval: interval}
}

// Status reports the cached engine status, refreshing it over
// SubjectEngineHealth if the cache has gone stale.
func (p *EnginePing) Status(ctx context.Context) EngineStatus {
	p.mu.Lock()
	stale := time.Since(p.lastAt) > p.interval
	cached := p.last
	p.mu.Unlock()
	if !stale {
		return cached
	}

	var resp bus.EngineHealthResponse
	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status := EngineStatus{Alive: false, Ready: false}
	if err := p.bus.Request(reqCtx, bus.SubjectEngineHealth, struct{}{}, &resp, 2*time.Second); err == nil {
		status = EngineStatus{
			Alive:          true,
			Ready:          resp.Ready,
			PipelineLoaded: resp.PipelineLoaded,
			GallerySize:    resp.GallerySize,
			DBConnected:    resp.DBConnected,
			CacheDegraded:  resp.CacheDegraded,
		}
	}

	p.mu.Lock()
	p.last = status
	p.lastAt = time.Now()
	p.mu.Unlock()
	return status
}
