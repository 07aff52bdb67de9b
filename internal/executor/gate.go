package executor

import (
	"strings"
	"sync"
	"time"

	bosunerr "github.com/openfleet/bosun/internal/errors"
	"github.com/openfleet/bosun/internal/task"
)

// MonitorTaskKey is the task key the background health monitor runs under.
// Monitor acquires pass through an active cooldown so the supervisor cannot
// deadlock against a cooldown its own monitor triggered.
const MonitorTaskKey = "monitor-monitor"

// AcquireOptions tunes one Acquire call.
type AcquireOptions struct {
	// IgnoreSDKCooldown forces the cooldown check off (true) or on
	// (false). Nil leaves the decision to the task key.
	IgnoreSDKCooldown *bool
}

// bypassCooldown resolves whether this acquire may pass a live cooldown:
// an explicit option wins; otherwise only the monitor task key passes.
func (o AcquireOptions) bypassCooldown(taskKey string) bool {
	if o.IgnoreSDKCooldown != nil {
		return *o.IgnoreSDKCooldown
	}
	return strings.TrimSpace(taskKey) == MonitorTaskKey
}

// AdapterBusGate serializes sessions onto one adapter bus. A failure puts
// the bus into cooldown; during cooldown new work is refused before the
// busy state is even consulted, except for acquires that bypass it.
type AdapterBusGate struct {
	sdk task.SDK

	mu              sync.Mutex
	activeSessionID string
	cooldownUntil   time.Time

	now func() time.Time
}

// NewAdapterBusGate creates the gate for one SDK's bus.
func NewAdapterBusGate(sdk task.SDK) *AdapterBusGate {
	return &AdapterBusGate{sdk: sdk, now: time.Now}
}

// Acquire claims the bus for a session working one task. Re-acquiring with
// the same trimmed session ID is idempotent. The cooldown check runs first:
// a cooling bus refuses even a free bus's would-be holder, and a busy bus
// is only reported once the cooldown has passed or been bypassed.
func (g *AdapterBusGate) Acquire(sessionID, taskKey string, opts AcquireOptions) error {
	sessionID = strings.TrimSpace(sessionID)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.now().Before(g.cooldownUntil) && !opts.bypassCooldown(taskKey) {
		return bosunerr.ErrAdapterCooldown(string(g.sdk))
	}

	if g.activeSessionID != "" && g.activeSessionID != sessionID {
		return bosunerr.ErrAdapterBusy(string(g.sdk), g.activeSessionID)
	}

	g.activeSessionID = sessionID
	return nil
}

// Release frees the bus. Only the active session may release it.
func (g *AdapterBusGate) Release(sessionID string) {
	sessionID = strings.TrimSpace(sessionID)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.activeSessionID == sessionID {
		g.activeSessionID = ""
	}
}

// StartCooldown puts the bus into cooldown for d.
func (g *AdapterBusGate) StartCooldown(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cooldownUntil = g.now().Add(d)
}

// InCooldown reports whether the bus is cooling.
func (g *AdapterBusGate) InCooldown() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now().Before(g.cooldownUntil)
}

// ActiveSession returns the session currently holding the bus, or "".
func (g *AdapterBusGate) ActiveSession() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeSessionID
}

// GatePool hands out one bus gate per SDK.
type GatePool struct {
	mu    sync.Mutex
	gates map[task.SDK]*AdapterBusGate
}

// NewGatePool creates an empty pool.
func NewGatePool() *GatePool {
	return &GatePool{gates: make(map[task.SDK]*AdapterBusGate)}
}

// Gate returns the gate for an SDK, creating it on first use.
func (p *GatePool) Gate(sdk task.SDK) *AdapterBusGate {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.gates[sdk]
	if !ok {
		g = NewAdapterBusGate(sdk)
		p.gates[sdk] = g
	}
	return g
}
