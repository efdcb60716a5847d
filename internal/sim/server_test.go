package sim

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocomet/rider-app/internal/restapi"
	"github.com/gocomet/rider-app/internal/wire"
	"github.com/gocomet/rider-app/pkg/logger"
)

func fastScript() Script {
	return Script{
		AcceptDelay:    5 * time.Millisecond,
		ArriveDelay:    10 * time.Millisecond,
		StartDelay:     5 * time.Millisecond,
		CompleteDelay:  10 * time.Millisecond,
		LocationPeriod: 5 * time.Millisecond,
	}
}

func newTestServer(t *testing.T, script Script) (*httptest.Server, *World) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	world := NewWorld()
	bot := NewBot(world, script, logger.Nop())
	srv := NewServer(world, bot, logger.Nop())

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, world
}

func dialRider(t *testing.T, ts *httptest.Server, riderID string) *gorilla.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws?" +
		wire.ParamUserID + "=" + riderID + "&" + wire.ParamUserType + "=" + wire.UserTypeRider

	conn, _, err := gorilla.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitFor reads envelopes until the named event arrives, skipping
// location updates and anything else in between.
func waitFor(t *testing.T, conn *gorilla.Conn, event string) wire.Envelope {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", event)

		var env wire.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Event == event {
			return env
		}
	}
}

func sendEnvelope(t *testing.T, conn *gorilla.Conn, event string, v interface{}) {
	t.Helper()
	env, err := wire.NewEnvelope(event, v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

func TestSocketRequiresIdentity(t *testing.T) {
	ts, _ := newTestServer(t, fastScript())

	resp, err := http.Get(ts.URL + "/v1/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSocketHello(t *testing.T) {
	ts, _ := newTestServer(t, fastScript())
	conn := dialRider(t, ts, "rider-1")

	env := waitFor(t, conn, wire.EventConnected)
	var hello wire.Connected
	require.NoError(t, json.Unmarshal(env.Data, &hello))
	assert.NotEmpty(t, hello.SocketID)
}

func TestScriptedRideLifecycle(t *testing.T) {
	ts, world := newTestServer(t, fastScript())
	conn := dialRider(t, ts, "rider-1")
	waitFor(t, conn, wire.EventConnected)

	sendEnvelope(t, conn, wire.EventNewRideRequest, wire.RideRequest{
		RequestID: "req-1",
		RiderID:   "rider-1",
		Pickup:    wire.GeoPoint{Latitude: 12.97, Longitude: 77.59},
		Dropoff:   wire.GeoPoint{Latitude: 12.93, Longitude: 77.62},
		Service:   "mini",
		Fare:      120,
	})

	ack := waitFor(t, conn, wire.EventRideRequested)
	var requested wire.RideRequested
	require.NoError(t, json.Unmarshal(ack.Data, &requested))
	assert.NotEmpty(t, requested.RideID)
	assert.Equal(t, "req-1", requested.RequestID)
	assert.Len(t, requested.StartOTP, 4)

	accepted := waitFor(t, conn, wire.EventRideAccepted)
	var accept wire.RideAccepted
	require.NoError(t, json.Unmarshal(accepted.Data, &accept))
	assert.Equal(t, requested.RideID, accept.RideID)
	assert.NotEmpty(t, accept.Driver.ID)
	assert.NotEmpty(t, accept.Driver.Vehicle.LicensePlate)

	arrived := waitFor(t, conn, wire.EventDriverArrived)
	var arr wire.DriverArrived
	require.NoError(t, json.Unmarshal(arrived.Data, &arr))
	assert.Equal(t, requested.StartOTP, arr.StartOTP)

	waitFor(t, conn, wire.EventRideStarted)

	completed := waitFor(t, conn, wire.EventRideCompleted)
	var done wire.RideCompleted
	require.NoError(t, json.Unmarshal(completed.Data, &done))
	assert.Equal(t, requested.RideID, done.RideID)

	// World state: no active ride once complete.
	assert.Nil(t, world.ActiveRide("rider-1"))
	assert.Len(t, world.Notifications("rider-1"), 1)
}

func TestNoDriversScript(t *testing.T) {
	script := fastScript()
	script.NoDrivers = true
	ts, world := newTestServer(t, script)
	conn := dialRider(t, ts, "rider-1")
	waitFor(t, conn, wire.EventConnected)

	sendEnvelope(t, conn, wire.EventNewRideRequest, wire.RideRequest{RiderID: "rider-1", Service: "mini"})
	waitFor(t, conn, wire.EventRideRequested)

	env := waitFor(t, conn, wire.EventNoDriverFound)
	var nd wire.NoDriverFound
	require.NoError(t, json.Unmarshal(env.Data, &nd))
	assert.NotEmpty(t, nd.Message)
	assert.Nil(t, world.ActiveRide("rider-1"))
}

func TestCancelStopsScript(t *testing.T) {
	script := fastScript()
	script.ArriveDelay = time.Hour // hang after acceptance
	ts, world := newTestServer(t, script)
	conn := dialRider(t, ts, "rider-1")
	waitFor(t, conn, wire.EventConnected)

	sendEnvelope(t, conn, wire.EventNewRideRequest, wire.RideRequest{RiderID: "rider-1", Service: "mini"})
	ack := waitFor(t, conn, wire.EventRideRequested)
	var requested wire.RideRequested
	require.NoError(t, json.Unmarshal(ack.Data, &requested))
	waitFor(t, conn, wire.EventRideAccepted)

	sendEnvelope(t, conn, wire.EventRideCancelledOut, wire.CancelRide{
		RideID: requested.RideID, RiderID: "rider-1", Reason: "changed plans",
	})

	env := waitFor(t, conn, wire.EventRideCancelled)
	var notice wire.RideCancelledNotice
	require.NoError(t, json.Unmarshal(env.Data, &notice))
	assert.Equal(t, "rider", notice.CancelledBy)
	assert.Nil(t, world.ActiveRide("rider-1"))
}

func TestRatingValidation(t *testing.T) {
	ts, _ := newTestServer(t, fastScript())
	conn := dialRider(t, ts, "rider-1")
	waitFor(t, conn, wire.EventConnected)

	sendEnvelope(t, conn, wire.EventSubmitRating, wire.SubmitRating{RideID: "r1", Rating: 9})
	env := waitFor(t, conn, wire.EventRatingError)
	var e wire.Error
	require.NoError(t, json.Unmarshal(env.Data, &e))
	assert.Equal(t, "INVALID_RATING", e.Code)

	sendEnvelope(t, conn, wire.EventSubmitRating, wire.SubmitRating{RideID: "r1", Rating: 5})
	waitFor(t, conn, wire.EventRatingSubmitted)
}

func TestNotificationsRoundTrip(t *testing.T) {
	ts, world := newTestServer(t, fastScript())
	conn := dialRider(t, ts, "rider-1")
	waitFor(t, conn, wire.EventConnected)

	n := world.PushNotification("rider-1", "Promo", "20% off your next ride")

	sendEnvelope(t, conn, wire.EventGetNotifications, wire.GetNotifications{RiderID: "rider-1"})
	env := waitFor(t, conn, wire.EventNotifications)
	var feed wire.Notifications
	require.NoError(t, json.Unmarshal(env.Data, &feed))
	require.Len(t, feed.Notifications, 1)
	assert.False(t, feed.Notifications[0].Read)

	sendEnvelope(t, conn, wire.EventMarkNotificationRead, wire.MarkNotificationRead{
		NotificationID: n.ID, RiderID: "rider-1",
	})
	waitFor(t, conn, wire.EventNotificationMarkedRead)

	feed2 := world.Notifications("rider-1")
	require.Len(t, feed2, 1)
	assert.True(t, feed2[0].Read)
}

func TestFareQuoteEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, fastScript())

	body := strings.NewReader(`{
		"pickup_location": {"latitude": 12.97, "longitude": 77.59},
		"dropoff_location": {"latitude": 12.93, "longitude": 77.62},
		"service": "sedan"
	}`)
	resp, err := http.Post(ts.URL+"/v1/fares/quote", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var q restapi.FareQuote
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&q))
	assert.Equal(t, "sedan", q.Service)
	assert.Greater(t, q.Fare, 60.0)
	assert.Greater(t, q.DistanceKM, 0.0)
}

func TestActiveRideEndpointNotFound(t *testing.T) {
	ts, _ := newTestServer(t, fastScript())

	resp, err := http.Get(ts.URL + "/v1/riders/rider-1/rides/active")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var e struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	assert.Equal(t, "NOT_FOUND", e.Code)
}

func TestBlockDevControl(t *testing.T) {
	ts, _ := newTestServer(t, fastScript())

	resp, err := http.Post(ts.URL+"/v1/riders/rider-1/block", "application/json",
		strings.NewReader(`{"reason": "test block"}`))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/v1/riders/rider-1/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var status restapi.AccountStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.True(t, status.Blocked)
	assert.Equal(t, "test block", status.Reason)
}
