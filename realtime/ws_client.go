package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	dialTimeout    = 15 * time.Second
	writeTimeout   = 10 * time.Second
	joinTimeout    = 10 * time.Second
	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventReply     = "phx_reply"
	eventClose     = "phx_close"
	eventError     = "phx_error"
	eventBroadcast = "broadcast"
)

// envelope is the wire wrapper for channel frames.
type envelope struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSClient implements Client over a websocket endpoint. Each channel dials
// its own connection so tearing one subscription down never disturbs another.
type WSClient struct {
	url    string
	apiKey string
	log    zerolog.Logger

	// accessToken supplies the bearer token for private channels.
	accessToken func() string
}

// NewWSClient creates a websocket-backed realtime client.
func NewWSClient(url, apiKey string, accessToken func() string, log zerolog.Logger) (*WSClient, error) {
	if url == "" {
		return nil, errors.New("[realtime.NewWSClient] url is required")
	}
	if accessToken == nil {
		accessToken = func() string { return "" }
	}
	return &WSClient{url: url, apiKey: apiKey, log: log, accessToken: accessToken}, nil
}

var _ Client = (*WSClient)(nil)

// Channel creates a channel for topic name. The channel is inert until
// Subscribe is called.
func (c *WSClient) Channel(name string, config ChannelConfig) Channel {
	return &wsChannel{
		client: c,
		topic:  name,
		config: config,
		log:    c.log.With().Str("topic", name).Logger(),
	}
}

type handlerEntry struct {
	spec    EventSpec
	handler func(Message)
}

type wsChannel struct {
	client *WSClient
	topic  string
	config ChannelConfig
	log    zerolog.Logger

	mu       sync.Mutex
	handlers []handlerEntry
	conn     *websocket.Conn
	status   func(Status, error)
	closed   bool

	readDone chan struct{}
}

var _ Channel = (*wsChannel)(nil)

func (ch *wsChannel) On(spec EventSpec, handler func(Message)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.handlers = append(ch.handlers, handlerEntry{spec: spec, handler: handler})
}

func (ch *wsChannel) Subscribe(ctx context.Context, statusCallback func(Status, error)) error {
	ch.mu.Lock()
	if ch.conn != nil {
		ch.mu.Unlock()
		return errors.New("[Subscribe] channel already subscribed")
	}
	ch.status = statusCallback
	ch.closed = false
	ch.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	url := fmt.Sprintf("%s?apikey=%s&vsn=1.0.0", ch.client.url, ch.client.apiKey)
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		ch.notify(StatusTimedOut, err)
		return errors.Wrap(err, "[Subscribe] dial")
	}

	joinRef := uuid.New().String()
	join := envelope{
		Topic: ch.topic,
		Event: eventJoin,
		Ref:   joinRef,
	}
	if payload, err := json.Marshal(ch.joinPayload()); err == nil {
		join.Payload = payload
	}

	if err := writeEnvelope(ctx, conn, join); err != nil {
		_ = conn.Close(websocket.StatusAbnormalClosure, "join write failed")
		ch.notify(StatusChannelError, err)
		return errors.Wrap(err, "[Subscribe] send join")
	}

	// Wait for the join reply before declaring the subscription live.
	replyCtx, cancelReply := context.WithTimeout(ctx, joinTimeout)
	defer cancelReply()
	if err := ch.awaitJoinReply(replyCtx, conn, joinRef); err != nil {
		_ = conn.Close(websocket.StatusAbnormalClosure, "join failed")
		ch.notify(StatusTimedOut, err)
		return errors.Wrap(err, "[Subscribe] join reply")
	}

	readDone := make(chan struct{})

	ch.mu.Lock()
	ch.conn = conn
	ch.readDone = readDone
	ch.mu.Unlock()

	go ch.readLoop(conn, readDone)

	ch.notify(StatusSubscribed, nil)
	return nil
}

func (ch *wsChannel) Send(ctx context.Context, event string, payload map[string]any) error {
	ch.mu.Lock()
	conn := ch.conn
	ch.mu.Unlock()

	if conn == nil {
		return errors.New("[Send] channel not subscribed")
	}

	body, err := json.Marshal(map[string]any{"event": event, "payload": payload})
	if err != nil {
		return errors.Wrap(err, "[Send] marshal payload")
	}

	env := envelope{
		Topic:   ch.topic,
		Event:   eventBroadcast,
		Ref:     uuid.New().String(),
		Payload: body,
	}
	return writeEnvelope(ctx, conn, env)
}

func (ch *wsChannel) Unsubscribe() error {
	ch.mu.Lock()
	conn := ch.conn
	ch.conn = nil
	alreadyClosed := ch.closed
	ch.closed = true
	readDone := ch.readDone
	ch.mu.Unlock()

	if conn == nil || alreadyClosed {
		return nil
	}

	leave := envelope{Topic: ch.topic, Event: eventLeave, Ref: uuid.New().String()}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_ = writeEnvelope(ctx, conn, leave)
	_ = conn.Close(websocket.StatusNormalClosure, "bye")

	if readDone != nil {
		<-readDone
	}
	return nil
}

// joinPayload declares the subscription to the server: channel config plus
// the registered database-change specs, so the server knows which table and
// rows to push.
func (ch *wsChannel) joinPayload() map[string]any {
	cfg := map[string]any{"private": ch.config.Private}

	ch.mu.Lock()
	changes := make([]map[string]any, 0, len(ch.handlers))
	for _, entry := range ch.handlers {
		if entry.spec.Table == "" {
			continue
		}
		change := map[string]any{
			"event":  entry.spec.Event,
			"schema": "public",
			"table":  entry.spec.Table,
		}
		if entry.spec.Filter != "" {
			change["filter"] = entry.spec.Filter
		}
		changes = append(changes, change)
	}
	ch.mu.Unlock()

	if len(changes) > 0 {
		cfg["postgres_changes"] = changes
	}

	payload := map[string]any{"config": cfg}
	if token := ch.client.accessToken(); token != "" {
		payload["access_token"] = token
	}
	return payload
}

func (ch *wsChannel) awaitJoinReply(ctx context.Context, conn *websocket.Conn, joinRef string) error {
	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			return err
		}
		if env.Event == eventReply && env.Ref == joinRef {
			var reply struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(env.Payload, &reply); err == nil && reply.Status != "ok" {
				return errors.Errorf("join rejected with status %q", reply.Status)
			}
			return nil
		}
	}
}

func (ch *wsChannel) readLoop(conn *websocket.Conn, readDone chan struct{}) {
	defer close(readDone)

	for {
		env, err := readEnvelope(context.Background(), conn)
		if err != nil {
			ch.mu.Lock()
			manual := ch.closed
			ch.conn = nil
			ch.mu.Unlock()

			if manual {
				return
			}
			ch.log.Warn().Err(err).Msg("realtime read failed")
			ch.notify(StatusClosed, err)
			return
		}

		switch env.Event {
		case eventClose:
			ch.mu.Lock()
			manual := ch.closed
			ch.conn = nil
			ch.mu.Unlock()
			if !manual {
				ch.notify(StatusClosed, nil)
			}
			return
		case eventError:
			ch.notify(StatusChannelError, errors.New("server reported channel error"))
		case eventReply:
			// Acks for sends; nothing to dispatch.
		default:
			ch.dispatch(env)
		}
	}
}

func (ch *wsChannel) dispatch(env envelope) {
	var msg Message
	msg.Event = env.Event
	if len(env.Payload) > 0 {
		_ = json.Unmarshal(env.Payload, &msg.Payload)
	}

	ch.mu.Lock()
	handlers := make([]handlerEntry, len(ch.handlers))
	copy(handlers, ch.handlers)
	ch.mu.Unlock()

	for _, entry := range handlers {
		if !matchesSpec(entry.spec, msg) {
			continue
		}
		entry.handler(msg)
	}
}

func matchesSpec(spec EventSpec, msg Message) bool {
	if spec.Event != "*" && spec.Event != msg.Event {
		return false
	}
	if spec.Table != "" {
		if table, ok := msg.Payload["table"].(string); ok && table != spec.Table {
			return false
		}
	}
	if spec.Filter != "" && !rowMatchesFilter(spec.Filter, msg.Payload) {
		return false
	}
	return true
}

// rowMatchesFilter applies a "column=eq.value" filter against the changed row
// carried in the payload. Payloads without a row, and filter shapes other
// than eq, pass through: the join config already asked the server to scope
// delivery.
func rowMatchesFilter(filter string, payload map[string]any) bool {
	column, want, ok := strings.Cut(filter, "=eq.")
	if !ok {
		return true
	}
	row, ok := payload["record"].(map[string]any)
	if !ok {
		if row, ok = payload["new"].(map[string]any); !ok {
			return true
		}
	}
	got, ok := row[column]
	if !ok {
		return true
	}
	return fmt.Sprintf("%v", got) == want
}

func (ch *wsChannel) notify(status Status, err error) {
	ch.mu.Lock()
	cb := ch.status
	ch.mu.Unlock()

	if cb != nil {
		cb(status, err)
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (envelope, error) {
	var env envelope
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return env, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return env, errors.New("unexpected message type")
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, errors.Wrap(err, "decode envelope")
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	ctx, cancel := context.WithTimeout(parent, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, b)
}
