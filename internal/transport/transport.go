// Package transport maintains the rider's realtime connection: one
// logical websocket per logged-in user, with bounded reconnection,
// query-parameter identification and typed publish/subscribe on top of
// JSON event envelopes.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gocomet/rider-app/internal/observability"
	"github.com/gocomet/rider-app/internal/session"
	"github.com/gocomet/rider-app/internal/wire"
	apperrors "github.com/gocomet/rider-app/pkg/errors"
	"github.com/gocomet/rider-app/pkg/logger"
	"github.com/gocomet/rider-app/pkg/stream"
)

const (
	defaultOnceTimeout  = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultPongWait     = 60 * time.Second
	subscriptionBuffer  = 64
)

// ConnectionStatus is the process-wide connection state. Created once at
// transport construction and only ever re-emitted, never destroyed.
type ConnectionStatus struct {
	Connected bool   `json:"connected"`
	SocketID  string `json:"socket_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Config holds transport settings.
type Config struct {
	URL                  string
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	OnceTimeout          time.Duration
	WriteTimeout         time.Duration
	PongWait             time.Duration
}

// Identity identifies the connecting user.
type Identity struct {
	UserID   string
	UserType string
}

// Inbound is one received event.
type Inbound struct {
	Event string
	Data  json.RawMessage
}

// Subscription is one listener's queue of inbound events. Events are
// delivered in arrival order; cancelling removes only this listener.
type Subscription struct {
	C      <-chan Inbound
	events map[string]bool
	cancel func()
	once   sync.Once
}

// Cancel detaches the subscription.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// NewSubscription builds a subscription over an externally fed channel.
// Alternative Realtime implementations use it to satisfy consumers of
// this package's subscription type.
func NewSubscription(ch chan Inbound, onCancel func()) *Subscription {
	return &Subscription{
		C: ch,
		cancel: func() {
			if onCancel != nil {
				onCancel()
			}
			close(ch)
		},
	}
}

// Transport owns the websocket connection and its lifecycle.
type Transport struct {
	cfg      Config
	sessions *session.Manager
	logger   *logger.Logger

	mu          sync.Mutex
	initialized bool
	identity    Identity
	conn        *websocket.Conn
	connected   bool
	socketID    string
	attempts    int
	done        chan struct{}
	waiters     []chan struct{}
	subs        map[uint64]*subscriber
	nextSub     uint64

	writeMu sync.Mutex

	status *stream.Source[ConnectionStatus]
}

type subscriber struct {
	ch     chan Inbound
	events map[string]bool
}

// New creates an uninitialized transport.
func New(cfg Config, sessions *session.Manager, log *logger.Logger) *Transport {
	if cfg.OnceTimeout <= 0 {
		cfg.OnceTimeout = defaultOnceTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	return &Transport{
		cfg:      cfg,
		sessions: sessions,
		logger:   log,
		subs:     make(map[uint64]*subscriber),
		status:   stream.NewSource(ConnectionStatus{}),
	}
}

// Status exposes the connection-status stream.
func (t *Transport) Status() *stream.Source[ConnectionStatus] {
	return t.status
}

// Initialize resolves the user identity and opens the connection.
// Idempotent: a second call without an intervening Disconnect is a no-op,
// so lifecycle handlers are registered exactly once.
func (t *Transport) Initialize(ctx context.Context, id Identity) error {
	t.mu.Lock()
	if t.initialized {
		t.mu.Unlock()
		t.logger.Debug("Realtime transport already initialized")
		return nil
	}

	if id.UserID == "" {
		id.UserID = t.sessions.UserID(ctx)
	}
	if id.UserID == "" {
		t.mu.Unlock()
		return apperrors.ErrNoUserID
	}
	if id.UserType == "" {
		id.UserType = wire.UserTypeRider
	}

	t.identity = id
	t.initialized = true
	t.attempts = 0
	t.done = make(chan struct{})
	done := t.done
	t.mu.Unlock()

	t.logger.Info("Initializing realtime transport",
		logger.String("user_id", id.UserID),
		logger.String("user_type", id.UserType),
	)

	go t.run(done)
	return nil
}

// IsConnected reports whether the socket is currently up.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// SocketID returns the server-assigned socket id, empty until connected.
func (t *Transport) SocketID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.socketID
}

// Emit sends an event. Emitting while disconnected is a warn-and-drop:
// the caller is responsible for WaitForConnection when delivery matters.
func (t *Transport) Emit(event string, payload interface{}) {
	t.mu.Lock()
	conn := t.conn
	connected := t.connected
	t.mu.Unlock()

	if !connected || conn == nil {
		observability.EmitsDropped.Inc()
		t.logger.Warn("Emit while disconnected, dropping event",
			logger.String("event", event),
		)
		return
	}

	env, err := wire.NewEnvelope(event, payload)
	if err != nil {
		t.logger.Error("Failed to encode outbound event",
			logger.String("event", event), logger.Err(err),
		)
		return
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	if err := conn.WriteJSON(env); err != nil {
		t.logger.Warn("Failed to write outbound event",
			logger.String("event", event), logger.Err(err),
		)
	}
}

// On subscribes to one or more events on a single ordered queue. Using
// one subscription for related events preserves their relative arrival
// order, which independent subscriptions do not guarantee.
func (t *Transport) On(events ...string) *Subscription {
	set := make(map[string]bool, len(events))
	for _, e := range events {
		set[e] = true
	}

	sub := &subscriber{
		ch:     make(chan Inbound, subscriptionBuffer),
		events: set,
	}

	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = sub
	t.mu.Unlock()

	return &Subscription{
		C:      sub.ch,
		events: set,
		cancel: func() {
			t.mu.Lock()
			if s, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(s.ch)
			}
			t.mu.Unlock()
		},
	}
}

// Once waits for a single occurrence of event. A hard failure after the
// configured timeout; the subscription never outlives the call.
func (t *Transport) Once(ctx context.Context, event string) (json.RawMessage, error) {
	sub := t.On(event)
	defer sub.Cancel()

	timer := time.NewTimer(t.cfg.OnceTimeout)
	defer timer.Stop()

	select {
	case in, ok := <-sub.C:
		if !ok {
			return nil, apperrors.ErrNotInitialized
		}
		return in.Data, nil
	case <-timer.C:
		return nil, apperrors.Timeout(fmt.Sprintf("No %s event within %s", event, t.cfg.OnceTimeout))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitForConnection resolves immediately if connected, otherwise on the
// next successful connect. timeout 0 waits indefinitely: ride requests
// must not silently fail because of a slow reconnect. The context is the
// caller's cancel handle for that indefinite wait.
func (t *Transport) WaitForConnection(ctx context.Context, timeout time.Duration) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	waiter := make(chan struct{})
	t.waiters = append(t.waiters, waiter)
	t.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-waiter:
		return nil
	case <-timeoutCh:
		t.removeWaiter(waiter)
		return apperrors.Timeout("Timed out waiting for realtime connection")
	case <-ctx.Done():
		t.removeWaiter(waiter)
		return ctx.Err()
	}
}

// removeWaiter drops one waiter that gave up, so it cannot be woken by
// a later session's connect.
func (t *Transport) removeWaiter(ch chan struct{}) {
	t.mu.Lock()
	for i, w := range t.waiters {
		if w == ch {
			t.waiters = append(t.waiters[:i], t.waiters[i+1:]...)
			break
		}
	}
	t.mu.Unlock()
}

// Disconnect announces going offline, closes the socket, removes every
// tracked listener and resets the initialized/attempt state.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	if !t.initialized {
		t.mu.Unlock()
		return
	}
	conn := t.conn
	connected := t.connected
	identity := t.identity
	done := t.done

	t.initialized = false
	t.connected = false
	t.conn = nil
	t.socketID = ""
	t.attempts = 0
	t.waiters = nil

	for id, s := range t.subs {
		delete(t.subs, id)
		close(s.ch)
	}
	t.mu.Unlock()

	if connected && conn != nil {
		env, _ := wire.NewEnvelope(wire.EventRiderDisconnect, wire.RiderDisconnect{RiderID: identity.UserID})
		t.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
		_ = conn.WriteJSON(env)
		t.writeMu.Unlock()
	}

	close(done)
	if conn != nil {
		conn.Close()
	}

	observability.Connected.Set(0)
	t.status.Set(ConnectionStatus{Connected: false})
	t.logger.Info("Realtime transport disconnected")
}

// run owns the connect/reconnect loop for one Initialize cycle.
func (t *Transport) run(done chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		conn, err := t.dial()
		if err != nil {
			if !t.backoff(done, err) {
				return
			}
			continue
		}

		t.onConnect(conn)
		t.readLoop(conn, done)

		select {
		case <-done:
			return
		default:
		}

		// transient loss: mark disconnected and try again
		t.mu.Lock()
		t.connected = false
		t.conn = nil
		t.mu.Unlock()
		observability.Connected.Set(0)
		t.status.Set(ConnectionStatus{Connected: false, SocketID: t.SocketID()})
		t.logger.Warn("Realtime connection lost, reconnecting")
	}
}

func (t *Transport) dial() (*websocket.Conn, error) {
	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return nil, apperrors.Connection("Invalid realtime URL", err)
	}
	q := u.Query()
	q.Set(wire.ParamUserID, t.identity.UserID)
	q.Set(wire.ParamUserType, t.identity.UserType)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, apperrors.Connection("Realtime dial failed", err)
	}
	return conn, nil
}

// backoff sleeps base * 2^attempt. Returns false once the attempt cap is
// reached: the transport transitions to failed and stops retrying.
func (t *Transport) backoff(done chan struct{}, cause error) bool {
	t.mu.Lock()
	t.attempts++
	attempts := t.attempts
	t.mu.Unlock()

	observability.ReconnectAttempts.Inc()

	if attempts >= t.cfg.MaxReconnectAttempts {
		t.logger.Error("Realtime connection failed, giving up",
			logger.Int("attempts", attempts), logger.Err(cause),
		)
		t.status.Set(ConnectionStatus{Connected: false, Error: cause.Error()})
		return false
	}

	delay := t.cfg.ReconnectBaseDelay * (1 << uint(attempts-1))
	t.logger.Warn("Realtime connect failed, retrying",
		logger.Int("attempt", attempts),
		logger.String("delay", delay.String()),
		logger.Err(cause),
	)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-done:
		return false
	}
}

// onConnect records the new connection, resets the attempt counter,
// releases waiters and registers as rider with the persisted user id.
func (t *Transport) onConnect(conn *websocket.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.attempts = 0
	waiters := t.waiters
	t.waiters = nil
	t.mu.Unlock()

	observability.Connected.Set(1)
	t.status.Set(ConnectionStatus{Connected: true})
	t.logger.Info("Realtime connection established")

	for _, w := range waiters {
		close(w)
	}

	// Register with whatever id storage currently holds. If a concurrent
	// logout cleared it, skip registration rather than register a ghost.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	riderID := t.sessions.UserID(ctx)
	cancel()
	if riderID == "" {
		t.logger.Warn("No persisted user id at connect time, skipping rider registration")
		return
	}
	t.Emit(wire.EventRiderConnect, wire.RiderConnect{RiderID: riderID})
}

// readLoop decodes envelopes and fans them out until the connection
// drops or Disconnect closes done.
func (t *Transport) readLoop(conn *websocket.Conn, done chan struct{}) {
	conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
		return nil
	})

	pingPeriod := t.cfg.PongWait * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	stopPing := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				t.writeMu.Unlock()
				if err != nil {
					return
				}
			case <-stopPing:
				return
			case <-done:
				return
			}
		}
	}()
	defer close(stopPing)
	defer conn.Close()

	for {
		var env wire.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			select {
			case <-done:
			default:
				t.logger.Warn("Realtime read error", logger.Err(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
		t.dispatch(env)
	}
}

// dispatch delivers one envelope to every matching subscriber in arrival
// order. Delivery per listener is FIFO; a listener that stops draining
// loses events rather than stalling the read loop.
func (t *Transport) dispatch(env wire.Envelope) {
	observability.InboundEvents.WithLabelValues(env.Event).Inc()

	if env.Event == wire.EventConnected {
		var hello wire.Connected
		if err := json.Unmarshal(env.Data, &hello); err == nil {
			t.mu.Lock()
			t.socketID = hello.SocketID
			t.mu.Unlock()
			t.status.Set(ConnectionStatus{Connected: true, SocketID: hello.SocketID})
		}
		return
	}

	in := Inbound{Event: env.Event, Data: env.Data}

	t.mu.Lock()
	for _, s := range t.subs {
		if !s.events[env.Event] {
			continue
		}
		select {
		case s.ch <- in:
		default:
			t.logger.Warn("Subscriber queue full, dropping event",
				logger.String("event", env.Event),
			)
		}
	}
	t.mu.Unlock()
}

// Decode unmarshals an inbound payload into T.
func Decode[T any](in Inbound) (T, error) {
	var v T
	if len(in.Data) == 0 {
		return v, nil
	}
	err := json.Unmarshal(in.Data, &v)
	return v, err
}
