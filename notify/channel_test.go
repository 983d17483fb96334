package notify_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hanzong05/farm2go-sub002/notify"
	"github.com/hanzong05/farm2go-sub002/realtime"
	"github.com/hanzong05/farm2go-sub002/realtime/realtimefakes"
)

// fakeScheduler captures scheduled callbacks so tests can fire timers
// deterministically instead of sleeping.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	Delay   time.Duration
	fn      func()
	stopped bool
}

func (s *fakeScheduler) After(d time.Duration, fn func()) func() {
	t := &fakeTimer{Delay: d, fn: fn}
	s.mu.Lock()
	s.timers = append(s.timers, t)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		t.stopped = true
		s.mu.Unlock()
	}
}

// pending returns timers that have been scheduled and not canceled.
func (s *fakeScheduler) pending() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

// fire runs the most recent pending timer.
func (s *fakeScheduler) fire(t *testing.T) {
	t.Helper()

	pending := s.pending()
	require.NotEmpty(t, pending, "no pending timer to fire")
	timer := pending[len(pending)-1]

	s.mu.Lock()
	timer.stopped = true
	s.mu.Unlock()

	timer.fn()
}

type channelFixture struct {
	client    *realtimefakes.FakeClient
	scheduler *fakeScheduler
	channel   *notify.Channel
}

func setupChannelFixture(t *testing.T, options ...notify.Option) *channelFixture {
	t.Helper()

	client := realtimefakes.NewFakeClient()
	scheduler := &fakeScheduler{}

	opts := append([]notify.Option{
		notify.WithAfterFunc(scheduler.After),
		notify.WithBackoff(time.Second, 5),
		notify.WithHeartbeatInterval(time.Minute),
	}, options...)

	channel, err := notify.New(client, zerolog.Nop(), opts...)
	require.NoError(t, err)

	return &channelFixture{client: client, scheduler: scheduler, channel: channel}
}

func (f *channelFixture) subscribe(t *testing.T, userID string, onEvent notify.EventHandler) *realtimefakes.FakeChannel {
	t.Helper()

	require.NoError(t, f.channel.Subscribe(context.Background(), userID, onEvent))
	transport := f.client.Last()
	require.NotNil(t, transport)
	return transport
}

func TestNew_RequiresClient(t *testing.T) {
	_, err := notify.New(nil, zerolog.Nop())
	require.Error(t, err)
}

func TestSubscribe_OpensPrivatePerUserChannel(t *testing.T) {
	f := setupChannelFixture(t)

	transport := f.subscribe(t, "user-1", nil)

	require.Equal(t, "notifications:user-1", transport.Name)
	require.True(t, transport.Config.Private)
	require.True(t, transport.Subscribed)
	require.Equal(t, notify.PhaseConnecting, f.channel.Phase())
}

func TestSubscribe_RequiresUserID(t *testing.T) {
	f := setupChannelFixture(t)

	err := f.channel.Subscribe(context.Background(), "", nil)
	require.Error(t, err)
}

func TestSubscribedStatus_ResetsStateAndStartsHeartbeat(t *testing.T) {
	f := setupChannelFixture(t)
	transport := f.subscribe(t, "user-1", nil)

	transport.PushStatus(realtime.StatusSubscribed, nil)

	require.Equal(t, notify.PhaseSubscribed, f.channel.Phase())
	require.Equal(t, 0, f.channel.ReconnectAttempts())
	require.Equal(t, realtime.StatusSubscribed, f.channel.Status())

	pending := f.scheduler.pending()
	require.Len(t, pending, 1)
	require.Equal(t, time.Minute, pending[0].Delay)
}

func TestInboundEvents_ReachTheHandler(t *testing.T) {
	f := setupChannelFixture(t)

	var got []realtime.Message
	transport := f.subscribe(t, "user-1", func(msg realtime.Message) {
		got = append(got, msg)
	})
	transport.PushStatus(realtime.StatusSubscribed, nil)

	transport.PushEvent(realtime.Message{Event: "INSERT", Payload: map[string]any{"id": "n-1"}})
	require.Len(t, got, 1)
	require.Equal(t, "INSERT", got[0].Event)

	// Non-insert events are filtered out by the registration spec.
	transport.PushEvent(realtime.Message{Event: "DELETE"})
	require.Len(t, got, 1)
}

func TestHeartbeat_SendsAndReschedulesWhileSubscribed(t *testing.T) {
	f := setupChannelFixture(t)
	transport := f.subscribe(t, "user-1", nil)
	transport.PushStatus(realtime.StatusSubscribed, nil)

	f.scheduler.fire(t)

	require.Equal(t, []string{"heartbeat"}, transport.SentEvents)

	pending := f.scheduler.pending()
	require.Len(t, pending, 1)
	require.Equal(t, time.Minute, pending[0].Delay)
}

func TestHeartbeat_StopsWhenChannelDegrades(t *testing.T) {
	f := setupChannelFixture(t)
	transport := f.subscribe(t, "user-1", nil)
	transport.PushStatus(realtime.StatusSubscribed, nil)

	heartbeat := f.scheduler.pending()[0]

	transport.PushStatus(realtime.StatusChannelError, errors.New("socket torn"))

	// The armed heartbeat was canceled alongside the degradation.
	require.True(t, func() bool {
		for _, p := range f.scheduler.pending() {
			if p == heartbeat {
				return false
			}
		}
		return true
	}())
	require.Empty(t, transport.SentEvents)
}

func TestChannelError_SchedulesBackoffReconnect(t *testing.T) {
	f := setupChannelFixture(t)
	transport := f.subscribe(t, "user-1", nil)
	transport.PushStatus(realtime.StatusSubscribed, nil)

	transport.PushStatus(realtime.StatusChannelError, errors.New("socket torn"))

	require.Equal(t, notify.PhaseReconnecting, f.channel.Phase())
	require.Equal(t, 1, f.channel.ReconnectAttempts())

	pending := f.scheduler.pending()
	require.Len(t, pending, 1)
	require.Equal(t, time.Second, pending[0].Delay)

	// Firing the timer opens a fresh transport channel for the same user.
	f.scheduler.fire(t)
	fresh := f.client.Last()
	require.NotSame(t, transport, fresh)
	require.Equal(t, "notifications:user-1", fresh.Name)
	require.True(t, fresh.Subscribed)
}

func TestReconnect_BackoffDoublesPerAttempt(t *testing.T) {
	f := setupChannelFixture(t)
	transport := f.subscribe(t, "user-1", nil)

	wantDelays := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}

	for i, want := range wantDelays {
		transport.PushStatus(realtime.StatusChannelError, errors.New("socket torn"))
		require.Equal(t, i+1, f.channel.ReconnectAttempts())

		pending := f.scheduler.pending()
		require.Len(t, pending, 1)
		require.Equal(t, want, pending[0].Delay)

		f.scheduler.fire(t)
		transport = f.client.Last()
	}

	// The ceiling is terminal; only a manual reconnect may proceed.
	transport.PushStatus(realtime.StatusChannelError, errors.New("socket torn"))
	require.Equal(t, notify.PhaseFailed, f.channel.Phase())
	require.Empty(t, f.scheduler.pending())
}

func TestSubscribedStatus_ResetsAttemptCounter(t *testing.T) {
	f := setupChannelFixture(t)
	transport := f.subscribe(t, "user-1", nil)

	transport.PushStatus(realtime.StatusChannelError, errors.New("socket torn"))
	transport.PushStatus(realtime.StatusChannelError, errors.New("socket torn"))
	require.Equal(t, 2, f.channel.ReconnectAttempts())

	f.scheduler.fire(t)
	fresh := f.client.Last()
	fresh.PushStatus(realtime.StatusSubscribed, nil)

	require.Equal(t, notify.PhaseSubscribed, f.channel.Phase())
	require.Equal(t, 0, f.channel.ReconnectAttempts())
}

func TestManualReconnect_ResetsAfterExhaustion(t *testing.T) {
	f := setupChannelFixture(t)
	transport := f.subscribe(t, "user-1", nil)

	for i := 0; i < 5; i++ {
		transport.PushStatus(realtime.StatusChannelError, errors.New("socket torn"))
		f.scheduler.fire(t)
		transport = f.client.Last()
	}
	transport.PushStatus(realtime.StatusChannelError, errors.New("socket torn"))
	require.Equal(t, notify.PhaseFailed, f.channel.Phase())

	require.NoError(t, f.channel.Reconnect(context.Background(), "user-1", nil))

	require.Equal(t, notify.PhaseConnecting, f.channel.Phase())
	require.Equal(t, 0, f.channel.ReconnectAttempts())
	require.True(t, f.client.Last().Subscribed)
}

func TestUnsubscribe_SuppressesAutomaticReconnect(t *testing.T) {
	f := setupChannelFixture(t)
	transport := f.subscribe(t, "user-1", nil)
	transport.PushStatus(realtime.StatusSubscribed, nil)

	f.channel.Unsubscribe()

	require.Equal(t, notify.PhaseClosed, f.channel.Phase())
	require.True(t, transport.Unsubscribed)
	require.Equal(t, realtime.StatusClosed, f.channel.Status())

	// The transport's own close notification must not trigger a retry.
	transport.PushStatus(realtime.StatusClosed, nil)
	require.Equal(t, notify.PhaseClosed, f.channel.Phase())
	require.Empty(t, f.scheduler.pending())
}

func TestSubscribe_DifferentUserSupersedes(t *testing.T) {
	f := setupChannelFixture(t)
	first := f.subscribe(t, "user-1", nil)
	first.PushStatus(realtime.StatusSubscribed, nil)

	second := f.subscribe(t, "user-2", nil)

	require.True(t, first.Unsubscribed)
	require.Equal(t, "notifications:user-2", second.Name)
	require.Equal(t, notify.PhaseConnecting, f.channel.Phase())
	require.Equal(t, 0, f.channel.ReconnectAttempts())
}

func TestSubscribe_SameUserDoesNotStackTransports(t *testing.T) {
	f := setupChannelFixture(t)
	first := f.subscribe(t, "user-1", nil)
	first.PushStatus(realtime.StatusSubscribed, nil)

	// Session broadcasts repeat on every refresh; each one re-subscribes the
	// same user. Only the original transport may stay live.
	var got []realtime.Message
	require.NoError(t, f.channel.Subscribe(context.Background(), "user-1", func(msg realtime.Message) {
		got = append(got, msg)
	}))

	require.Len(t, f.client.Channels, 1)
	require.False(t, first.Unsubscribed)
	require.Equal(t, notify.PhaseSubscribed, f.channel.Phase())

	// The replacement handler takes over on the existing transport.
	first.PushEvent(realtime.Message{Event: "INSERT", Payload: map[string]any{"id": "n-9"}})
	require.Len(t, got, 1)
	require.Equal(t, "n-9", got[0].Payload["id"])
}

func TestSubscribe_SameUserAfterFailureReopens(t *testing.T) {
	f := setupChannelFixture(t)
	first := f.subscribe(t, "user-1", nil)

	for i := 0; i < 6; i++ {
		first.PushStatus(realtime.StatusChannelError, errors.New("flaky link"))
	}
	require.Equal(t, notify.PhaseFailed, f.channel.Phase())

	// A failed channel is not live; subscribing again must replace it.
	second := f.subscribe(t, "user-1", nil)

	require.True(t, first.Unsubscribed)
	require.NotSame(t, first, second)
	require.Equal(t, notify.PhaseConnecting, f.channel.Phase())
	require.Equal(t, 0, f.channel.ReconnectAttempts())
}

func TestLateSubscribedStatus_AfterUnsubscribeStaysClosed(t *testing.T) {
	f := setupChannelFixture(t)
	transport := f.subscribe(t, "user-1", nil)

	f.channel.Unsubscribe()

	// A join confirmation still in flight when the user signed out must not
	// revive the channel or arm a heartbeat.
	transport.PushStatus(realtime.StatusSubscribed, nil)

	require.Equal(t, notify.PhaseClosed, f.channel.Phase())
	require.Empty(t, f.scheduler.pending())
}

func TestSubscribe_TransportFailureArmsRetry(t *testing.T) {
	f := setupChannelFixture(t)
	f.client.SubscribeErr = errors.New("dial failed")

	err := f.channel.Subscribe(context.Background(), "user-1", nil)
	require.Error(t, err)

	require.Equal(t, notify.PhaseReconnecting, f.channel.Phase())
	require.Equal(t, 1, f.channel.ReconnectAttempts())
	require.Len(t, f.scheduler.pending(), 1)
}

func TestUnexpectedClose_TriggersReconnect(t *testing.T) {
	f := setupChannelFixture(t)
	transport := f.subscribe(t, "user-1", nil)
	transport.PushStatus(realtime.StatusSubscribed, nil)

	transport.PushStatus(realtime.StatusClosed, nil)

	require.Equal(t, notify.PhaseReconnecting, f.channel.Phase())
	require.Equal(t, 1, f.channel.ReconnectAttempts())
}

func TestStatus_ClosedWhenNeverSubscribed(t *testing.T) {
	f := setupChannelFixture(t)
	require.Equal(t, realtime.StatusClosed, f.channel.Status())
	require.Equal(t, notify.PhaseIdle, f.channel.Phase())
}
