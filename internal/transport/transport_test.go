package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocomet/rider-app/internal/session"
	"github.com/gocomet/rider-app/internal/wire"
	apperrors "github.com/gocomet/rider-app/pkg/errors"
	"github.com/gocomet/rider-app/pkg/logger"
)

// fakeBackend is a websocket endpoint that records everything the
// transport sends and can push events back.
type fakeBackend struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	queries  []url.Values
	received chan wire.Envelope
}

func newFakeBackend(t *testing.T) *fakeBackend {
	b := &fakeBackend{
		t:        t,
		received: make(chan wire.Envelope, 32),
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.conn = conn
	b.queries = append(b.queries, r.URL.Query())
	b.mu.Unlock()

	hello, _ := wire.NewEnvelope(wire.EventConnected, wire.Connected{SocketID: "sock-1"})
	_ = conn.WriteJSON(hello)

	for {
		var env wire.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		b.received <- env
	}
}

func (b *fakeBackend) wsURL() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *fakeBackend) send(event string, payload interface{}) {
	env, err := wire.NewEnvelope(event, payload)
	require.NoError(b.t, err)
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	require.NotNil(b.t, conn)
	require.NoError(b.t, conn.WriteJSON(env))
}

func (b *fakeBackend) lastQuery() url.Values {
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(b.t, b.queries)
	return b.queries[len(b.queries)-1]
}

func (b *fakeBackend) waitFor(event string) wire.Envelope {
	deadline := time.After(3 * time.Second)
	for {
		select {
		case env := <-b.received:
			if env.Event == event {
				return env
			}
		case <-deadline:
			b.t.Fatalf("no %s event received", event)
			return wire.Envelope{}
		}
	}
}

func newTransport(t *testing.T, url string, userID string) (*Transport, *session.Manager) {
	store := session.NewMemoryStore()
	sessions := session.NewManager(store, logger.Nop())
	if userID != "" {
		require.NoError(t, sessions.SaveUser(context.Background(), &session.User{ID: userID, Token: "tok"}))
	}
	tr := New(Config{
		URL:                  url,
		ReconnectBaseDelay:   20 * time.Millisecond,
		MaxReconnectAttempts: 3,
		OnceTimeout:          200 * time.Millisecond,
	}, sessions, logger.Nop())
	t.Cleanup(tr.Disconnect)
	return tr, sessions
}

func TestInitialize_NoResolvableUserID(t *testing.T) {
	b := newFakeBackend(t)
	tr, _ := newTransport(t, b.wsURL(), "")

	err := tr.Initialize(context.Background(), Identity{})
	assert.ErrorIs(t, err, apperrors.ErrNoUserID)
}

func TestInitialize_ResolvesIDFromStorage(t *testing.T) {
	b := newFakeBackend(t)
	tr, _ := newTransport(t, b.wsURL(), "rider-7")

	require.NoError(t, tr.Initialize(context.Background(), Identity{}))
	require.NoError(t, tr.WaitForConnection(context.Background(), 2*time.Second))

	q := b.lastQuery()
	assert.Equal(t, "rider-7", q.Get(wire.ParamUserID))
	assert.Equal(t, wire.UserTypeRider, q.Get(wire.ParamUserType))
}

func TestConnect_RegistersAsRider(t *testing.T) {
	b := newFakeBackend(t)
	tr, _ := newTransport(t, b.wsURL(), "rider-7")

	require.NoError(t, tr.Initialize(context.Background(), Identity{UserID: "rider-7"}))

	env := b.waitFor(wire.EventRiderConnect)
	reg, err := Decode[wire.RiderConnect](Inbound{Event: env.Event, Data: env.Data})
	require.NoError(t, err)
	assert.Equal(t, "rider-7", reg.RiderID)
}

func TestInitialize_IdempotentSingleDelivery(t *testing.T) {
	b := newFakeBackend(t)
	tr, _ := newTransport(t, b.wsURL(), "rider-7")

	ctx := context.Background()
	require.NoError(t, tr.Initialize(ctx, Identity{UserID: "rider-7"}))
	require.NoError(t, tr.Initialize(ctx, Identity{UserID: "rider-7"}))
	require.NoError(t, tr.WaitForConnection(ctx, 2*time.Second))

	sub := tr.On(wire.EventRideAccepted)
	defer sub.Cancel()

	b.send(wire.EventRideAccepted, wire.RideAccepted{RideID: "ride-1"})

	select {
	case in := <-sub.C:
		assert.Equal(t, wire.EventRideAccepted, in.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	// exactly once: no duplicate from a second handler set
	select {
	case in := <-sub.C:
		t.Fatalf("duplicate delivery of %s", in.Event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEmit_WhileDisconnectedIsSilentNoop(t *testing.T) {
	b := newFakeBackend(t)
	tr, _ := newTransport(t, b.wsURL(), "rider-7")

	assert.NotPanics(t, func() {
		tr.Emit(wire.EventNewRideRequest, wire.RideRequest{RiderID: "rider-7"})
	})
	assert.False(t, tr.IsConnected())

	select {
	case env := <-b.received:
		t.Fatalf("unexpected network call: %s", env.Event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWaitForConnection_ResolvesOnConnect(t *testing.T) {
	b := newFakeBackend(t)
	tr, _ := newTransport(t, b.wsURL(), "rider-7")

	done := make(chan error, 1)
	go func() {
		done <- tr.WaitForConnection(context.Background(), 0)
	}()

	require.NoError(t, tr.Initialize(context.Background(), Identity{UserID: "rider-7"}))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForConnection did not resolve")
	}
}

func TestWaitForConnection_Cancellable(t *testing.T) {
	b := newFakeBackend(t)
	tr, _ := newTransport(t, b.wsURL(), "rider-7")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- tr.WaitForConnection(ctx, 0)
	}()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled wait did not return")
	}
}

func TestWaitForConnection_AbandonedWaiterIsRemoved(t *testing.T) {
	b := newFakeBackend(t)
	tr, _ := newTransport(t, b.wsURL(), "rider-7")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- tr.WaitForConnection(ctx, 0)
	}()

	// the waiter must be registered before we cancel it
	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.waiters) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled wait did not return")
	}

	tr.mu.Lock()
	remaining := len(tr.waiters)
	tr.mu.Unlock()
	assert.Zero(t, remaining, "waiter that gave up stayed registered")

	// a later connect must not touch the dead waiter
	require.NoError(t, tr.Initialize(context.Background(), Identity{UserID: "rider-7"}))
	require.NoError(t, tr.WaitForConnection(context.Background(), 2*time.Second))
}

func TestDisconnect_ClearsPendingWaiters(t *testing.T) {
	b := newFakeBackend(t)
	tr, _ := newTransport(t, b.wsURL(), "rider-7")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = tr.WaitForConnection(ctx, 0)
	}()
	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.waiters) == 1
	}, time.Second, 5*time.Millisecond)

	tr.Disconnect()

	tr.mu.Lock()
	remaining := len(tr.waiters)
	tr.mu.Unlock()
	assert.Zero(t, remaining)
}

func TestWaitForConnection_AlreadyConnected(t *testing.T) {
	b := newFakeBackend(t)
	tr, _ := newTransport(t, b.wsURL(), "rider-7")

	require.NoError(t, tr.Initialize(context.Background(), Identity{UserID: "rider-7"}))
	require.NoError(t, tr.WaitForConnection(context.Background(), 2*time.Second))

	// resolves immediately on an established connection
	assert.NoError(t, tr.WaitForConnection(context.Background(), time.Millisecond))
}

func TestOnce_TimesOut(t *testing.T) {
	b := newFakeBackend(t)
	tr, _ := newTransport(t, b.wsURL(), "rider-7")

	require.NoError(t, tr.Initialize(context.Background(), Identity{UserID: "rider-7"}))
	require.NoError(t, tr.WaitForConnection(context.Background(), 2*time.Second))

	_, err := tr.Once(context.Background(), wire.EventRideAccepted)
	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	assert.Equal(t, "TIMEOUT", appErr.Code)
}

func TestOnce_ReceivesEvent(t *testing.T) {
	b := newFakeBackend(t)
	tr, _ := newTransport(t, b.wsURL(), "rider-7")

	require.NoError(t, tr.Initialize(context.Background(), Identity{UserID: "rider-7"}))
	require.NoError(t, tr.WaitForConnection(context.Background(), 2*time.Second))

	go func() {
		time.Sleep(30 * time.Millisecond)
		b.send(wire.EventNotifications, wire.Notifications{})
	}()

	data, err := tr.Once(context.Background(), wire.EventNotifications)
	require.NoError(t, err)
	assert.NotNil(t, data)
}

func TestSubscriptions_IndependentCancel(t *testing.T) {
	b := newFakeBackend(t)
	tr, _ := newTransport(t, b.wsURL(), "rider-7")

	require.NoError(t, tr.Initialize(context.Background(), Identity{UserID: "rider-7"}))
	require.NoError(t, tr.WaitForConnection(context.Background(), 2*time.Second))

	a := tr.On(wire.EventRideStarted)
	c := tr.On(wire.EventRideStarted)
	a.Cancel()

	b.send(wire.EventRideStarted, wire.RideStarted{RideID: "ride-1"})

	select {
	case in := <-c.C:
		assert.Equal(t, wire.EventRideStarted, in.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("surviving subscriber did not receive event")
	}
	c.Cancel()
}

func TestSocketID_FromServerHello(t *testing.T) {
	b := newFakeBackend(t)
	tr, _ := newTransport(t, b.wsURL(), "rider-7")

	require.NoError(t, tr.Initialize(context.Background(), Identity{UserID: "rider-7"}))
	require.NoError(t, tr.WaitForConnection(context.Background(), 2*time.Second))

	assert.Eventually(t, func() bool {
		return tr.SocketID() == "sock-1"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDisconnect_AnnouncesAndResets(t *testing.T) {
	b := newFakeBackend(t)
	tr, _ := newTransport(t, b.wsURL(), "rider-7")

	require.NoError(t, tr.Initialize(context.Background(), Identity{UserID: "rider-7"}))
	require.NoError(t, tr.WaitForConnection(context.Background(), 2*time.Second))

	tr.Disconnect()
	assert.False(t, tr.IsConnected())

	env := b.waitFor(wire.EventRiderDisconnect)
	assert.Equal(t, wire.EventRiderDisconnect, env.Event)

	// a fresh Initialize works after Disconnect
	require.NoError(t, tr.Initialize(context.Background(), Identity{UserID: "rider-7"}))
	require.NoError(t, tr.WaitForConnection(context.Background(), 2*time.Second))
	assert.True(t, tr.IsConnected())
}

func TestReconnect_GivesUpAfterCap(t *testing.T) {
	store := session.NewMemoryStore()
	sessions := session.NewManager(store, logger.Nop())
	tr := New(Config{
		URL:                  "ws://127.0.0.1:1", // nothing listens here
		ReconnectBaseDelay:   5 * time.Millisecond,
		MaxReconnectAttempts: 2,
	}, sessions, logger.Nop())
	t.Cleanup(tr.Disconnect)

	statusSub := tr.Status().Subscribe(8)
	defer statusSub.Cancel()

	require.NoError(t, tr.Initialize(context.Background(), Identity{UserID: "rider-7"}))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case st := <-statusSub.C:
			if st.Error != "" {
				assert.False(t, st.Connected)
				return
			}
		case <-deadline:
			t.Fatal("failure status never surfaced")
		}
	}
}
