// Package connmon tracks a logical connection status derived from
// identity-provider events and periodic connectivity probes. It is
// independent of the session store; its output feeds UI badges and toasts.
package connmon

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/hanzong05/farm2go-sub002/identity"
	"github.com/hanzong05/farm2go-sub002/internal/emitter"
	"github.com/hanzong05/farm2go-sub002/internal/metrics"
)

// State is the logical connection status.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultReconcileInterval = 5 * time.Second
	defaultProbeTimeout      = 10 * time.Second
)

// Prober issues a trivial remote read used purely as a connectivity check.
type Prober interface {
	Probe(ctx context.Context) error
}

// Monitor maintains the connection state. It starts optimistically Connected
// and re-derives its state from probes and auth events. Listener notification
// is edge-triggered: an unchanged state is never re-emitted.
type Monitor struct {
	prober   Prober
	provider identity.Provider
	log      zerolog.Logger
	metrics  metrics.Recorder

	heartbeatInterval time.Duration
	reconcileInterval time.Duration
	probeTimeout      time.Duration

	mu    sync.Mutex
	state State

	events *emitter.Emitter[State]

	unsubscribeAuth func()

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option modifies a Monitor instance.
type Option func(*Monitor)

// WithIntervals overrides the probe cadences (for testing).
func WithIntervals(heartbeat, reconcile time.Duration) Option {
	return func(m *Monitor) {
		m.heartbeatInterval = heartbeat
		m.reconcileInterval = reconcile
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec metrics.Recorder) Option {
	return func(m *Monitor) {
		m.metrics = rec
	}
}

// New creates a Monitor. The state starts Connected; the reconcile probe
// corrects the optimism within one interval if it is wrong.
func New(prober Prober, provider identity.Provider, log zerolog.Logger, options ...Option) (*Monitor, error) {
	if prober == nil {
		return nil, errors.New("[connmon.New] prober is required")
	}
	if provider == nil {
		return nil, errors.New("[connmon.New] provider is required")
	}

	m := &Monitor{
		prober:            prober,
		provider:          provider,
		log:               log,
		metrics:           metrics.Nop{},
		heartbeatInterval: defaultHeartbeatInterval,
		reconcileInterval: defaultReconcileInterval,
		probeTimeout:      defaultProbeTimeout,
		state:             Connected,
		events:            emitter.New[State](),
	}

	for _, opt := range options {
		opt(m)
	}

	return m, nil
}

// Start subscribes to auth events and launches the heartbeat and reconcile
// probes.
func (m *Monitor) Start() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})

	m.unsubscribeAuth = m.provider.OnAuthStateChange(func(change identity.AuthChange) {
		switch {
		case change.Event == identity.EventSignedOut:
			m.setState(Disconnected)
		case change.Session != nil:
			// Any event carrying an active session implies connectivity.
			m.setState(Connected)
		}
	})

	m.wg.Add(2)
	go m.heartbeatLoop(m.stopCh)
	go m.reconcileLoop(m.stopCh)
}

// Stop cancels the probes and the auth subscription. Returns only after the
// probe goroutines have exited.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	if m.unsubscribeAuth != nil {
		m.unsubscribeAuth()
		m.unsubscribeAuth = nil
	}
	m.runMu.Unlock()

	m.wg.Wait()
}

// State returns the current connection state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnConnectionStateChange registers a listener, invokes it synchronously once
// with the current state, and returns an unsubscribe function. Subsequent
// notifications fire only on actual transitions.
func (m *Monitor) OnConnectionStateChange(listener func(State)) func() {
	unsubscribe := m.events.Subscribe(listener)
	listener(m.State())
	return unsubscribe
}

// Reconnect forces Connecting, performs one probe, and resolves to Connected
// or Disconnected.
func (m *Monitor) Reconnect(ctx context.Context) State {
	m.setState(Connecting)

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	if err := m.prober.Probe(probeCtx); err != nil {
		m.log.Warn().Err(err).Msg("reconnect probe failed")
		m.setState(Disconnected)
		return Disconnected
	}

	m.setState(Connected)
	return Connected
}

func (m *Monitor) heartbeatLoop(stop <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.HeartbeatProbe(context.Background())
		}
	}
}

func (m *Monitor) reconcileLoop(stop <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.ReconcileProbe(context.Background())
		}
	}
}

// HeartbeatProbe issues the trivial remote read, but only while currently
// Connected; a failure flips the state to Disconnected. Exported so tests can
// drive the probe directly.
func (m *Monitor) HeartbeatProbe(ctx context.Context) {
	if m.State() != Connected {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	if err := m.prober.Probe(probeCtx); err != nil {
		m.log.Warn().Err(err).Msg("heartbeat probe failed")
		m.setState(Disconnected)
	}
}

// ReconcileProbe re-derives the state from current remote session presence.
func (m *Monitor) ReconcileProbe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	session, err := m.provider.GetSession(probeCtx)
	if err != nil {
		m.setState(Disconnected)
		return
	}
	if session != nil {
		m.setState(Connected)
	}
}

// setState transitions to next and notifies listeners only when the value
// actually changed.
func (m *Monitor) setState(next State) {
	m.mu.Lock()
	if m.state == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	m.mu.Unlock()

	m.metrics.RecordConnectionState(stateLabel(next))
	m.events.Emit(next)
}

func stateLabel(s State) string {
	switch s {
	case Connected:
		return "connected"
	case Connecting:
		return "connecting"
	default:
		return "disconnected"
	}
}
