// Package mode owns the paper / dry-run / live state and the preconditions for
// going live.
package mode

import (
	"crypto/subtle"
	"errors"
	"strings"
	"sync"
)

// Mode is the effective trading mode.
type Mode string

const (
	Paper  Mode = "paper"
	DryRun Mode = "dry_run"
	Live   Mode = "live"
)

// ParseMode accepts the persisted names. Unknown values are paper.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case Live:
		return Live
	case DryRun:
		return DryRun
	}
	return Paper
}

// Health is the last known backend health result.
type Health int

const (
	HealthUnknown Health = iota
	HealthOK
	HealthFailed
)

func (h Health) String() string {
	switch h {
	case HealthOK:
		return "ok"
	case HealthFailed:
		return "failed"
	}
	return "unknown"
}

// ConfirmPhrase is accepted when no confirm token is configured.
const ConfirmPhrase = "YES I UNDERSTAND THE RISKS"

var (
	ErrLiveNotAllowed       = errors.New("live trading not allowed: set ALLOW_LIVE=1")
	ErrNoExecutionPath      = errors.New("no execution path: configure exchange keys or enable backend routing")
	ErrConfirmationMismatch = errors.New("confirmation did not match")
	ErrBackendUnhealthy     = errors.New("backend health check failed")
)

// Options configure a Controller.
type Options struct {
	AllowLive    bool
	ConfirmToken string
	DryRun       bool
}

// Controller holds the mode flags. IsLive is derived on every call.
type Controller struct {
	mu sync.RWMutex

	allowLive    bool
	confirmToken string

	paper     bool
	confirmed bool
	dryRun    bool

	exchange bool
	backend  bool
	health   Health

	reason string
}

// New returns a controller in paper mode.
func New(opts Options) *Controller {
	return &Controller{
		allowLive:    opts.AllowLive,
		confirmToken: opts.ConfirmToken,
		paper:        true,
		dryRun:       opts.DryRun,
	}
}

// SetExchangeConfigured records whether a direct exchange session exists.
func (c *Controller) SetExchangeConfigured(ok bool) {
	c.mu.Lock()
	c.exchange = ok
	c.mu.Unlock()
}

// SetBackendEnabled turns backend routing on or off.
func (c *Controller) SetBackendEnabled(ok bool) {
	c.mu.Lock()
	c.backend = ok
	c.mu.Unlock()
}

// SetDryRun sets the sticky dry-run override.
func (c *Controller) SetDryRun(on bool) {
	c.mu.Lock()
	c.dryRun = on
	c.mu.Unlock()
}

// Enable switches to live. The caller resets counters and notifies.
func (c *Controller) Enable(confirmation string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.allowLive {
		return ErrLiveNotAllowed
	}
	if !c.exchange && !c.backend {
		return ErrNoExecutionPath
	}
	if c.backend && c.health == HealthFailed {
		return ErrBackendUnhealthy
	}
	want := ConfirmPhrase
	if c.confirmToken != "" {
		want = c.confirmToken
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(confirmation)), []byte(want)) != 1 {
		return ErrConfirmationMismatch
	}
	c.paper = false
	c.confirmed = true
	c.reason = ""
	return nil
}

// Disable returns to paper. It reports whether the mode changed.
func (c *Controller) Disable(reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := !c.paper || c.confirmed
	c.paper = true
	c.confirmed = false
	c.reason = reason
	return changed
}

// RecordHealth stores a backend health result. A failure while live on backend
// routing drops to paper; the return value says whether that happened.
func (c *Controller) RecordHealth(ok bool) (forcedPaper bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.health = HealthOK
		return false
	}
	c.health = HealthFailed
	if c.backend && !c.paper {
		c.paper = true
		c.confirmed = false
		c.reason = "backend health check failed"
		return true
	}
	return false
}

// IsLive reports whether orders go to a real venue right now.
func (c *Controller) IsLive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isLive()
}

func (c *Controller) isLive() bool {
	if c.paper || !c.confirmed || c.dryRun {
		return false
	}
	if !c.exchange && !c.backend {
		return false
	}
	return !c.backend || c.health != HealthFailed
}

// Mode is the effective mode.
func (c *Controller) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.dryRun:
		return DryRun
	case c.isLive():
		return Live
	}
	return Paper
}

// Snapshot is a read-only view for status output.
type Snapshot struct {
	Mode           Mode   `json:"mode"`
	Live           bool   `json:"live"`
	Paper          bool   `json:"paper"`
	Confirmed      bool   `json:"confirmed"`
	DryRun         bool   `json:"dry_run"`
	AllowLive      bool   `json:"allow_live"`
	Exchange       bool   `json:"exchange_configured"`
	BackendEnabled bool   `json:"backend_enabled"`
	BackendHealth  string `json:"backend_health"`
	Reason         string `json:"reason,omitempty"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := Paper
	if c.dryRun {
		m = DryRun
	} else if c.isLive() {
		m = Live
	}
	return Snapshot{
		Mode:           m,
		Live:           c.isLive(),
		Paper:          c.paper,
		Confirmed:      c.confirmed,
		DryRun:         c.dryRun,
		AllowLive:      c.allowLive,
		Exchange:       c.exchange,
		BackendEnabled: c.backend,
		BackendHealth:  c.health.String(),
		Reason:         c.reason,
	}
}

// BackendEnabled reports whether backend routing is on.
func (c *Controller) BackendEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend
}

// Health returns the last backend health result.
func (c *Controller) Health() Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.health
}
