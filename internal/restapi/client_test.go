package restapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocomet/rider-app/internal/ride"
	"github.com/gocomet/rider-app/internal/session"
	apperrors "github.com/gocomet/rider-app/pkg/errors"
	"github.com/gocomet/rider-app/pkg/logger"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *session.Manager) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	sessions := session.NewManager(session.NewMemoryStore(), logger.Nop())
	return NewClient(srv.URL, 5*time.Second, sessions, logger.Nop()), sessions
}

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	client, sessions := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]interface{}{"services": []VehicleService{}})
	}))

	require.NoError(t, sessions.SaveUser(context.Background(), &session.User{
		ID:    "rider-1",
		Token: "tok-abc",
	}))

	_, err := client.VehicleServices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-abc", gotAuth)
}

func TestClientNoTokenNoHeader(t *testing.T) {
	var gotAuth string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]interface{}{"services": []VehicleService{}})
	}))

	_, err := client.VehicleServices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestActiveRide(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/riders/rider-1/rides/active", r.URL.Path)
		json.NewEncoder(w).Encode(ride.Ride{
			ID:     "ride-42",
			Status: ride.StatusInProgress,
		})
	}))

	r, err := client.ActiveRide(context.Background(), "rider-1")
	require.NoError(t, err)
	assert.Equal(t, "ride-42", r.ID)
	assert.Equal(t, ride.StatusInProgress, r.Status)
}

func TestActiveRideNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"code":    "NOT_FOUND",
			"message": "no active ride",
		})
	}))

	_, err := client.ActiveRide(context.Background(), "rider-1")
	require.Error(t, err)

	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, "NOT_FOUND", appErr.Code)
	assert.Equal(t, http.StatusNotFound, appErr.Status)
}

func TestErrorWithoutBodyMapsStatusToCode(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.Profile(context.Background(), "rider-1")
	require.Error(t, err)

	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, "UNAUTHORIZED", appErr.Code)
}

func TestFareQuote(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/fares/quote", r.URL.Path)

		var req FareRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sedan", req.Service)
		assert.InDelta(t, 12.97, req.Pickup.Latitude, 0.001)

		json.NewEncoder(w).Encode(FareQuote{
			Service:         req.Service,
			Fare:            184.50,
			DistanceKM:      9.3,
			DurationMinutes: 24,
			SurgeMultiplier: 1.0,
		})
	}))

	q, err := client.FareQuote(context.Background(), FareRequest{
		Pickup:  ride.Location{Latitude: 12.97, Longitude: 77.59},
		Dropoff: ride.Location{Latitude: 12.93, Longitude: 77.62},
		Service: "sedan",
	})
	require.NoError(t, err)
	assert.Equal(t, 184.50, q.Fare)
	assert.Equal(t, 24, q.DurationMinutes)
}

func TestRefreshToken(t *testing.T) {
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/auth/refresh", r.URL.Path)
		json.NewEncoder(w).Encode(TokenRefresh{Token: "tok-new", Expiry: expiry})
	}))

	tr, err := client.RefreshToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-new", tr.Token)
	assert.True(t, tr.Expiry.Equal(expiry))
}

func TestAccountStatusBlocked(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(AccountStatus{Blocked: true, Reason: "payment dispute"})
	}))

	s, err := client.AccountStatus(context.Background(), "rider-1")
	require.NoError(t, err)
	assert.True(t, s.Blocked)
	assert.Equal(t, "payment dispute", s.Reason)
}

func TestContextCancellation(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.VehicleServices(ctx)
	require.Error(t, err)
}
