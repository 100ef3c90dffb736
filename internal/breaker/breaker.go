// Package breaker implements the three-state admission controller the
// Gateway places in front of the bus publish path. The API is an "admit"
// decision rather than a wrapped call: callers ask Allow, then report
// RecordSuccess or RecordFailure.
package breaker

import (
	"log/slog"
	"sync"
	"time"
)

// State is one of closed, open, half_open.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config controls trip/recovery behavior.
type Config struct {
	Name             string
	FailureThreshold int           // consecutive failures to trip closed->open
	Cooldown         time.Duration // time spent open before probing
}

// DefaultConfig returns EyeD's default breaker tuning.
func DefaultConfig(name string) Config {
	return Config{Name: name, FailureThreshold: 5, Cooldown: 30 * time.Second}
}

// Breaker is a per-destination admission controller, a process-wide
// singleton per destination in the Gateway.
type Breaker struct {
	cfg Config

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openUntil           time.Time
	halfOpenProbeInUse  bool
}

// New creates a Breaker in the closed state.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, state: StateClosed}
}

// Allow reports whether a request may proceed, transitioning open->half_open
// when the cooldown has elapsed. It never blocks.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Now().After(b.openUntil) {
			b.setState(StateHalfOpen)
			b.halfOpenProbeInUse = false
		} else {
			return false
		}
		fallthrough
	case StateHalfOpen:
		if b.halfOpenProbeInUse {
			return false
		}
		b.halfOpenProbeInUse = true
		return true
	default:
		return false
	}
}

// RecordSuccess closes the breaker (from half_open) or clears the failure
// streak (from closed).
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.setState(StateClosed)
		b.consecutiveFailures = 0
		b.halfOpenProbeInUse = false
	case StateClosed:
		b.consecutiveFailures = 0
	}
}

// RecordFailure trips the breaker open, either immediately (the half_open
// probe failed) or once the consecutive-failure threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.trip()
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.setState(StateOpen)
	b.openUntil = time.Now().Add(b.cfg.Cooldown)
	b.halfOpenProbeInUse = false
}

func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	prev := b.state
	b.state = s
	slog.Info("breaker state change", "breaker", b.cfg.Name, "from", prev.String(), "to", s.String())
}

// State returns the current state without mutating it (for /health/ready).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Now().After(b.openUntil) {
		return StateHalfOpen
	}
	return b.state
}

// Manager hands out per-destination breakers (map + double-checked lock).
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      Config
}

// NewManager creates a Manager; cfg is applied (with Name overridden) to
// every breaker it creates.
func NewManager(cfg Config) *Manager {
	return &Manager{breakers: make(map[string]*Breaker), cfg: cfg}
}

// Get returns the named breaker, creating it on first use.
func (m *Manager) Get(name string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.breakers[name]; ok {
		return b
	}
	cfg := m.cfg
	cfg.Name = name
	b = New(cfg)
	m.breakers[name] = b
	return b
}
