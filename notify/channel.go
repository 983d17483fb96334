// Package notify maintains the per-user push-event subscription: one live
// channel per recipient, heartbeat keep-alive, and bounded
// exponential-backoff reconnection.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	clienterrors "github.com/hanzong05/farm2go-sub002/internal/errors"
	"github.com/hanzong05/farm2go-sub002/internal/metrics"
	"github.com/hanzong05/farm2go-sub002/realtime"
)

// Phase is the channel lifecycle phase.
type Phase string

const (
	PhaseIdle         Phase = "IDLE"
	PhaseConnecting   Phase = "CONNECTING"
	PhaseSubscribed   Phase = "SUBSCRIBED"
	PhaseReconnecting Phase = "RECONNECTING"
	PhaseFailed       Phase = "FAILED"
	PhaseClosed       Phase = "CLOSED"
)

const (
	defaultBaseBackoff       = 1000 * time.Millisecond
	defaultMaxAttempts       = 5
	defaultHeartbeatInterval = 30 * time.Second

	notificationsTable = "notifications"
	heartbeatEvent     = "heartbeat"
)

// channelState is the single tagged value driving reconnection, so the retry
// ceiling and reset conditions stay independently verifiable.
type channelState struct {
	phase    Phase
	attempts int
	manual   bool
}

// live reports whether the channel is still working toward (or holding) a
// subscription, as opposed to parked in a terminal phase.
func (st channelState) live() bool {
	switch st.phase {
	case PhaseConnecting, PhaseSubscribed, PhaseReconnecting:
		return !st.manual
	}
	return false
}

// EventHandler receives inbound notification events for the subscribed user.
type EventHandler func(realtime.Message)

// Channel manages the per-user notification subscription.
type Channel struct {
	client  realtime.Client
	log     zerolog.Logger
	metrics metrics.Recorder

	baseBackoff       time.Duration
	maxAttempts       int
	heartbeatInterval time.Duration

	// afterFunc schedules a callback; injectable for deterministic tests.
	afterFunc func(time.Duration, func()) func()

	mu              sync.Mutex
	st              channelState
	targetUserID    string
	ch              realtime.Channel
	onEvent         EventHandler
	lastStatus      realtime.Status
	hasStatus       bool
	cancelReconnect func()
	cancelHeartbeat func()
}

// Option modifies a Channel instance.
type Option func(*Channel)

// WithBackoff overrides the reconnect backoff base and attempt ceiling.
func WithBackoff(base time.Duration, maxAttempts int) Option {
	return func(c *Channel) {
		c.baseBackoff = base
		c.maxAttempts = maxAttempts
	}
}

// WithHeartbeatInterval overrides the keep-alive cadence.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Channel) {
		c.heartbeatInterval = d
	}
}

// WithAfterFunc replaces the timer scheduler (for testing).
func WithAfterFunc(after func(time.Duration, func()) func()) Option {
	return func(c *Channel) {
		c.afterFunc = after
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec metrics.Recorder) Option {
	return func(c *Channel) {
		c.metrics = rec
	}
}

// New creates an idle notification channel manager.
func New(client realtime.Client, log zerolog.Logger, options ...Option) (*Channel, error) {
	if client == nil {
		return nil, errors.New("[notify.New] realtime client is required")
	}

	c := &Channel{
		client:            client,
		log:               log,
		metrics:           metrics.Nop{},
		baseBackoff:       defaultBaseBackoff,
		maxAttempts:       defaultMaxAttempts,
		heartbeatInterval: defaultHeartbeatInterval,
		st:                channelState{phase: PhaseIdle},
	}
	c.afterFunc = func(d time.Duration, f func()) func() {
		t := time.AfterFunc(d, f)
		return func() { t.Stop() }
	}

	for _, opt := range options {
		opt(c)
	}

	return c, nil
}

// Subscribe opens the notification channel for userID. Any existing channel
// is torn down first, so there is never more than one live transport. A
// redundant Subscribe for the user already being served is a no-op: session
// broadcasts repeat on every refresh and must not stack transports.
func (c *Channel) Subscribe(ctx context.Context, userID string, onEvent EventHandler) error {
	if userID == "" {
		return errors.New("[Subscribe] userID is required")
	}

	c.mu.Lock()
	if c.targetUserID == userID && c.ch != nil && c.st.live() {
		c.onEvent = onEvent
		c.mu.Unlock()
		return nil
	}
	stale := c.teardownLocked()
	c.targetUserID = userID
	c.onEvent = onEvent
	c.st = channelState{phase: PhaseConnecting}
	c.mu.Unlock()

	c.closeStale(stale)
	return c.open(ctx)
}

// Reconnect resets the attempt counter and re-opens the channel. Callers use
// it after the automatic retries have been exhausted.
func (c *Channel) Reconnect(ctx context.Context, userID string, onEvent EventHandler) error {
	c.mu.Lock()
	stale := c.teardownLocked()
	c.mu.Unlock()

	c.closeStale(stale)
	return c.Subscribe(ctx, userID, onEvent)
}

// Unsubscribe tears the channel down, suppressing any further automatic
// reconnect, and clears the target.
func (c *Channel) Unsubscribe() {
	c.mu.Lock()
	c.st.manual = true
	stale := c.teardownLocked()
	c.targetUserID = ""
	c.onEvent = nil
	c.st = channelState{phase: PhaseClosed, manual: true}
	c.mu.Unlock()

	c.closeStale(stale)
}

// Status returns the last transport status, or CLOSED when no channel exists.
func (c *Channel) Status() realtime.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch == nil || !c.hasStatus {
		return realtime.StatusClosed
	}
	return c.lastStatus
}

// Phase returns the current lifecycle phase.
func (c *Channel) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.phase
}

// ReconnectAttempts returns the consecutive failed attempt count.
func (c *Channel) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.attempts
}

// open creates and subscribes the realtime channel for the current target.
func (c *Channel) open(ctx context.Context) error {
	c.mu.Lock()
	userID := c.targetUserID
	if userID == "" {
		c.mu.Unlock()
		return clienterrors.ErrChannelClosed
	}

	ch := c.client.Channel(fmt.Sprintf("notifications:%s", userID), realtime.ChannelConfig{Private: true})
	ch.On(realtime.EventSpec{
		Event:  "INSERT",
		Table:  notificationsTable,
		Filter: fmt.Sprintf("recipient_id=eq.%s", userID),
	}, func(msg realtime.Message) {
		// Read the handler at delivery time: a redundant Subscribe may have
		// swapped it without reopening the transport.
		c.mu.Lock()
		handler := c.onEvent
		c.mu.Unlock()
		if handler != nil {
			handler(msg)
		}
	})
	c.ch = ch
	c.mu.Unlock()

	if err := ch.Subscribe(ctx, c.handleStatus); err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("channel subscribe failed")
		c.scheduleReconnect()
		return err
	}
	return nil
}

// handleStatus is the transport status callback.
func (c *Channel) handleStatus(status realtime.Status, err error) {
	c.mu.Lock()
	c.lastStatus = status
	c.hasStatus = true
	manual := c.st.manual
	c.mu.Unlock()

	switch status {
	case realtime.StatusSubscribed:
		// A subscription confirmation that lands after Unsubscribe must not
		// reopen the channel or arm a heartbeat for a detached transport.
		if manual {
			return
		}
		c.mu.Lock()
		c.st = channelState{phase: PhaseSubscribed}
		c.mu.Unlock()
		c.startHeartbeat()

	case realtime.StatusChannelError, realtime.StatusTimedOut:
		if manual {
			return
		}
		c.log.Warn().Err(err).Str("status", string(status)).Msg("notification channel degraded")
		c.stopHeartbeat()
		c.scheduleReconnect()

	case realtime.StatusClosed:
		// A close we did not request is a failure like any other.
		if manual {
			return
		}
		c.log.Warn().Msg("notification channel closed unexpectedly")
		c.stopHeartbeat()
		c.scheduleReconnect()
	}
}

// scheduleReconnect arms the next retry with exponential backoff, or parks
// the channel in the terminal failed phase once the ceiling is reached.
func (c *Channel) scheduleReconnect() {
	c.mu.Lock()

	if c.st.manual {
		c.mu.Unlock()
		return
	}

	if c.st.attempts >= c.maxAttempts {
		c.st.phase = PhaseFailed
		attempts := c.st.attempts
		c.mu.Unlock()
		c.log.Error().Int("attempts", attempts).Msg("reconnect attempts exhausted, manual reconnect required")
		return
	}

	c.st.attempts++
	c.st.phase = PhaseReconnecting
	delay := c.baseBackoff * (1 << (c.st.attempts - 1))
	c.metrics.RecordChannelReconnect(c.targetUserID)

	if c.cancelReconnect != nil {
		c.cancelReconnect()
	}
	c.cancelReconnect = c.afterFunc(delay, func() {
		c.mu.Lock()
		if c.st.manual || c.targetUserID == "" {
			c.mu.Unlock()
			return
		}
		c.st.phase = PhaseConnecting
		c.mu.Unlock()

		_ = c.open(context.Background())
	})

	attempt := c.st.attempts
	c.mu.Unlock()
	c.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("scheduling channel reconnect")
}

func (c *Channel) startHeartbeat() {
	c.mu.Lock()
	if c.cancelHeartbeat != nil {
		c.cancelHeartbeat()
	}
	c.cancelHeartbeat = c.afterFunc(c.heartbeatInterval, c.heartbeatTick)
	c.mu.Unlock()
}

// heartbeatTick sends one keep-alive broadcast and reschedules itself while
// the channel is still subscribed.
func (c *Channel) heartbeatTick() {
	c.mu.Lock()
	ch := c.ch
	subscribed := c.st.phase == PhaseSubscribed
	c.mu.Unlock()

	// Re-check state: the channel may have degraded since this fired.
	if !subscribed || ch == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ch.Send(ctx, heartbeatEvent, map[string]any{"ts": time.Now().Unix()}); err != nil {
		c.log.Warn().Err(err).Msg("heartbeat send failed")
	} else {
		c.metrics.RecordHeartbeat()
	}

	c.startHeartbeat()
}

func (c *Channel) stopHeartbeat() {
	c.mu.Lock()
	if c.cancelHeartbeat != nil {
		c.cancelHeartbeat()
		c.cancelHeartbeat = nil
	}
	c.mu.Unlock()
}

// teardownLocked cancels timers and detaches the transport channel,
// returning it so the caller can close it OUTSIDE the lock: the transport's
// read loop may be blocked calling back into handleStatus. Caller holds c.mu.
func (c *Channel) teardownLocked() realtime.Channel {
	if c.cancelReconnect != nil {
		c.cancelReconnect()
		c.cancelReconnect = nil
	}
	if c.cancelHeartbeat != nil {
		c.cancelHeartbeat()
		c.cancelHeartbeat = nil
	}
	stale := c.ch
	c.ch = nil
	c.hasStatus = false
	return stale
}

func (c *Channel) closeStale(stale realtime.Channel) {
	if stale == nil {
		return
	}
	if err := stale.Unsubscribe(); err != nil {
		c.log.Warn().Err(err).Msg("channel unsubscribe failed")
	}
}
