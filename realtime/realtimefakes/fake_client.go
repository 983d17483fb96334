package realtimefakes

import (
	"context"
	"sync"

	"github.com/hanzong05/farm2go-sub002/realtime"
)

// FakeClient is an in-memory realtime.Client for tests. Every channel it
// creates is retained so tests can push statuses and events into it.
type FakeClient struct {
	mu       sync.Mutex
	Channels []*FakeChannel

	// SubscribeErr, when set, fails the next Subscribe call.
	SubscribeErr error
}

func NewFakeClient() *FakeClient {
	return &FakeClient{}
}

var _ realtime.Client = (*FakeClient)(nil)

func (c *FakeClient) Channel(name string, config realtime.ChannelConfig) realtime.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := &FakeChannel{Name: name, Config: config, client: c}
	c.Channels = append(c.Channels, ch)
	return ch
}

// Last returns the most recently created channel, or nil.
func (c *FakeClient) Last() *FakeChannel {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.Channels) == 0 {
		return nil
	}
	return c.Channels[len(c.Channels)-1]
}

// FakeChannel records calls and lets tests drive statuses and events.
type FakeChannel struct {
	Name   string
	Config realtime.ChannelConfig
	client *FakeClient

	mu             sync.Mutex
	handlers       []func(realtime.Message)
	specs          []realtime.EventSpec
	statusCallback func(realtime.Status, error)

	Subscribed       bool
	Unsubscribed     bool
	SentEvents       []string
	SubscribeCalls   int
	UnsubscribeCalls int
}

var _ realtime.Channel = (*FakeChannel)(nil)

func (ch *FakeChannel) On(spec realtime.EventSpec, handler func(realtime.Message)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.specs = append(ch.specs, spec)
	ch.handlers = append(ch.handlers, handler)
}

func (ch *FakeChannel) Subscribe(_ context.Context, statusCallback func(realtime.Status, error)) error {
	ch.mu.Lock()
	ch.SubscribeCalls++
	ch.statusCallback = statusCallback
	err := ch.client.SubscribeErr
	if err == nil {
		ch.Subscribed = true
	}
	ch.mu.Unlock()
	return err
}

func (ch *FakeChannel) Send(_ context.Context, event string, _ map[string]any) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.SentEvents = append(ch.SentEvents, event)
	return nil
}

func (ch *FakeChannel) Unsubscribe() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.UnsubscribeCalls++
	ch.Unsubscribed = true
	ch.Subscribed = false
	return nil
}

// PushStatus delivers a status notification as the transport would.
func (ch *FakeChannel) PushStatus(status realtime.Status, err error) {
	ch.mu.Lock()
	cb := ch.statusCallback
	ch.mu.Unlock()

	if cb != nil {
		cb(status, err)
	}
}

// PushEvent delivers an inbound event to every matching handler.
func (ch *FakeChannel) PushEvent(msg realtime.Message) {
	ch.mu.Lock()
	specs := make([]realtime.EventSpec, len(ch.specs))
	copy(specs, ch.specs)
	handlers := make([]func(realtime.Message), len(ch.handlers))
	copy(handlers, ch.handlers)
	ch.mu.Unlock()

	for i, spec := range specs {
		if spec.Event != "*" && spec.Event != msg.Event {
			continue
		}
		handlers[i](msg)
	}
}
