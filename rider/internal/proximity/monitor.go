// Package proximity turns noisy, intermittent beacon observations into
// reliable enter/lost events: a signal must stay at or above the strength
// threshold for a stability window before an enter fires, and a loss fires
// only after a full timeout with no strong signal.
package proximity

import (
	"context"
	"strings"
	"sync"
	"time"

	"ridepass/rider/internal/radio"
)

// Defaults for the tunable thresholds. All of them are configurable; the
// numbers come from field trials with a bus-mounted beacon.
const (
	DefaultRSSIThreshold = -65
	DefaultStableFor     = 10 * time.Second
	DefaultLossTimeout   = 20 * time.Second
	DefaultTick          = time.Second
)

// Config holds the monitor's tunable parameters.
type Config struct {
	// BeaconName is matched case-insensitively as a substring of the
	// advertised device name.
	BeaconName    string
	RSSIThreshold int
	StableFor     time.Duration
	LossTimeout   time.Duration
	Tick          time.Duration
}

func (c Config) withDefaults() Config {
	if c.RSSIThreshold == 0 {
		c.RSSIThreshold = DefaultRSSIThreshold
	}
	if c.StableFor <= 0 {
		c.StableFor = DefaultStableFor
	}
	if c.LossTimeout <= 0 {
		c.LossTimeout = DefaultLossTimeout
	}
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	return c
}

// Callbacks connect the monitor to the session layer. SessionActive is
// consulted before emitting; OnEntered and OnLost must not block for long
// since they run on the monitor's goroutine.
type Callbacks struct {
	SessionActive func() bool
	OnEntered     func()
	OnLost        func()
	OnStatus      func(status string)
}

// Monitor is the proximity state machine. Observe and Tick are safe for
// concurrent use; events are emitted outside the internal lock.
type Monitor struct {
	cfg Config
	cb  Callbacks

	mu          sync.Mutex
	lastSignal  time.Time
	stableSince time.Time

	now func() time.Time
}

// NewMonitor builds a monitor. Zero config fields take the defaults.
func NewMonitor(cfg Config, cb Callbacks) *Monitor {
	return &Monitor{
		cfg: cfg.withDefaults(),
		cb:  cb,
		now: time.Now,
	}
}

// Observe feeds one radio sighting into the state machine. Observations
// for other beacons are ignored; weak signals reset the stability timer
// and count toward neither liveness nor stability.
func (m *Monitor) Observe(name string, rssi int, at time.Time) {
	if !strings.Contains(strings.ToLower(name), strings.ToLower(m.cfg.BeaconName)) {
		return
	}
	if at.IsZero() {
		at = m.now()
	}

	m.mu.Lock()
	if rssi < m.cfg.RSSIThreshold {
		m.stableSince = time.Time{}
		m.mu.Unlock()
		return
	}

	m.lastSignal = at
	if m.stableSince.IsZero() {
		m.stableSince = at
	}
	stable := at.Sub(m.stableSince) >= m.cfg.StableFor
	if !stable {
		m.mu.Unlock()
		return
	}
	if m.sessionActive() {
		m.mu.Unlock()
		return
	}
	// One-shot trigger: the timer restarts only after the session ends
	// and a new qualifying sequence builds up.
	m.stableSince = time.Time{}
	m.mu.Unlock()

	if m.cb.OnEntered != nil {
		m.cb.OnEntered()
	}
}

// Tick checks the loss timeout. It runs on a fixed cadence independent of
// observations, so a vanished beacon is still detected.
func (m *Monitor) Tick(now time.Time) {
	m.mu.Lock()
	lost := !m.lastSignal.IsZero() &&
		now.Sub(m.lastSignal) > m.cfg.LossTimeout &&
		m.sessionActive()
	if lost {
		m.lastSignal = time.Time{}
		m.stableSince = time.Time{}
	}
	m.mu.Unlock()

	if lost && m.cb.OnLost != nil {
		m.cb.OnLost()
	}
}

// Reset clears tracking state. Called when a session ends through a path
// the monitor did not trigger itself.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.lastSignal = time.Time{}
	m.stableSince = time.Time{}
	m.mu.Unlock()
}

// Run consumes observations and drives the periodic loss check until ctx
// is cancelled. If the observation channel closes the ticker keeps
// running, so an in-flight session still gets its loss event.
func (m *Monitor) Run(ctx context.Context, obs <-chan radio.Observation) error {
	ticker := time.NewTicker(m.cfg.Tick)
	defer ticker.Stop()

	m.status("monitoring for beacon " + m.cfg.BeaconName)
	for {
		select {
		case <-ctx.Done():
			m.Reset()
			m.status("monitor stopped")
			return ctx.Err()
		case o, ok := <-obs:
			if !ok {
				obs = nil
				continue
			}
			m.Observe(o.Name, o.RSSI, o.At)
		case <-ticker.C:
			m.Tick(m.now())
		}
	}
}

func (m *Monitor) sessionActive() bool {
	return m.cb.SessionActive != nil && m.cb.SessionActive()
}

func (m *Monitor) status(msg string) {
	if m.cb.OnStatus != nil {
		m.cb.OnStatus(msg)
	}
}
