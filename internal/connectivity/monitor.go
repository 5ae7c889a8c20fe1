// Package connectivity maintains the terminal's belief about remote-service
// reachability, distinct from raw network connectivity.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/pos-offline/internal/events"
	"github.com/example/pos-offline/internal/logging"
)

// Prober issues one lightweight reachability probe against the remote
// service. A nil error means the service answered in time.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) error

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Change is the payload published on events.ReachabilityChanged. Exactly one
// Change is published per state transition, never per successful probe.
type Change struct {
	Reachable bool
	At        time.Time
}

// Options configures a Monitor.
type Options struct {
	// Interval between periodic probes. Defaults to 30s.
	Interval time.Duration
	// Timeout bounds each probe. Defaults to 5s.
	Timeout time.Duration
	// Now is the time source. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Monitor owns the reachable/unreachable state machine. Initial state is
// unreachable until the first probe succeeds.
type Monitor struct {
	prober   Prober
	bus      *events.Bus
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu        sync.Mutex
	started   bool
	reachable bool
	kick      chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewMonitor constructs a stopped Monitor.
func NewMonitor(prober Prober, bus *events.Bus, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Monitor{
		prober:   prober,
		bus:      bus,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		now:      opts.Now,
		logger:   logging.Default(opts.Logger).With("component", "connectivity"),
	}
}

// Reachable returns the monitor's current belief.
func (m *Monitor) Reachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

// Start launches the periodic probe loop and performs an immediate first
// probe. Starting an already-started monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.started = true
	// A freshly started monitor holds no verified belief; it reports
	// unreachable until the first probe succeeds. No event is published for
	// this reset.
	m.reachable = false
	m.cancel = cancel
	m.kick = make(chan struct{}, 1)
	m.done = make(chan struct{})
	kick := m.kick
	done := m.done
	m.mu.Unlock()

	go m.loop(ctx, kick, done)
	m.requestProbe()
}

// Stop halts the probe loop, cancels any in-flight probe, and suppresses all
// further state transitions and events until the next Start.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.kick = nil
	m.done = nil
	m.mu.Unlock()

	cancel()
	<-done
}

// CheckNow requests an immediate out-of-schedule probe.
func (m *Monitor) CheckNow() {
	m.requestProbe()
}

// ReportNetworkUp translates the platform "went online" signal into an
// immediate probe instead of waiting for the next periodic tick.
func (m *Monitor) ReportNetworkUp() {
	m.requestProbe()
}

// ReportNetworkDown translates the platform "went offline" signal into an
// immediate unreachable transition without probing.
func (m *Monitor) ReportNetworkDown() {
	m.setReachable(false)
}

func (m *Monitor) requestProbe() {
	m.mu.Lock()
	kick := m.kick
	m.mu.Unlock()
	if kick == nil {
		return
	}
	select {
	case kick <- struct{}{}:
	default:
	}
}

func (m *Monitor) loop(ctx context.Context, kick <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		case <-kick:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.prober.Probe(probeCtx)
	cancel()

	if ctx.Err() != nil {
		// Stopped while the probe was in flight.
		return
	}
	if err != nil {
		m.logger.Debug("probe failed", "error", err)
	}
	m.setReachable(err == nil)
}

// setReachable applies a state transition, publishing exactly one event per
// transition. No-op when the state is unchanged or the monitor is stopped.
func (m *Monitor) setReachable(reachable bool) {
	m.mu.Lock()
	if !m.started || m.reachable == reachable {
		m.mu.Unlock()
		return
	}
	m.reachable = reachable
	now := m.now()
	m.mu.Unlock()

	if reachable {
		m.logger.Info("remote service became reachable")
	} else {
		m.logger.Warn("remote service became unreachable")
	}
	if m.bus != nil {
		m.bus.Publish(events.ReachabilityChanged, Change{Reachable: reachable, At: now})
	}
}
