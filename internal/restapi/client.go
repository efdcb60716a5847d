// Package restapi is the authenticated HTTP JSON client for everything
// the backend exposes outside the realtime channel: authoritative ride
// lookups, fare quotes, account status, token refresh.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gocomet/rider-app/internal/ride"
	"github.com/gocomet/rider-app/internal/session"
	apperrors "github.com/gocomet/rider-app/pkg/errors"
	"github.com/gocomet/rider-app/pkg/logger"
)

// Client talks JSON over HTTP with a bearer token from the session store.
type Client struct {
	baseURL  string
	http     *http.Client
	sessions *session.Manager
	logger   *logger.Logger
}

// NewClient creates a REST client.
func NewClient(baseURL string, timeout time.Duration, sessions *session.Manager, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: timeout},
		sessions: sessions,
		logger:   log,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(err, "marshal request body")
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperrors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if token, err := c.sessions.Token(ctx); err == nil && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Connection("Request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Code == "" {
			e.Code = codeForStatus(resp.StatusCode)
		}
		if e.Message == "" {
			e.Message = fmt.Sprintf("%s %s returned %d", method, path, resp.StatusCode)
		}
		return apperrors.NewAppError(e.Code, e.Message, resp.StatusCode, nil)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		return "INTERNAL_ERROR"
	}
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// ActiveRide fetches the rider's current non-terminal ride, if any.
// Implements the state machine's Backend interface.
func (c *Client) ActiveRide(ctx context.Context, riderID string) (*ride.Ride, error) {
	var r ride.Ride
	if err := c.get(ctx, "/v1/riders/"+riderID+"/rides/active", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// RideByID fetches one ride.
func (c *Client) RideByID(ctx context.Context, rideID string) (*ride.Ride, error) {
	var r ride.Ride
	if err := c.get(ctx, "/v1/rides/"+rideID, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// VehicleService is one bookable service class.
type VehicleService struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	BaseFare float64 `json:"base_fare"`
	PerKM    float64 `json:"per_km"`
	Capacity int     `json:"capacity"`
}

// VehicleServices lists the bookable service classes.
func (c *Client) VehicleServices(ctx context.Context) ([]VehicleService, error) {
	var out struct {
		Services []VehicleService `json:"services"`
	}
	if err := c.get(ctx, "/v1/services", &out); err != nil {
		return nil, err
	}
	return out.Services, nil
}

// FareRequest asks for a fare quote between two points.
type FareRequest struct {
	Pickup  ride.Location `json:"pickup_location"`
	Dropoff ride.Location `json:"dropoff_location"`
	Service string        `json:"service"`
}

// FareQuote is the fare estimate for one service class.
type FareQuote struct {
	Service         string  `json:"service"`
	Fare            float64 `json:"fare"`
	DistanceKM      float64 `json:"distance_km"`
	DurationMinutes int     `json:"duration_minutes"`
	SurgeMultiplier float64 `json:"surge_multiplier"`
}

// FareQuote requests a fare estimate.
func (c *Client) FareQuote(ctx context.Context, req FareRequest) (*FareQuote, error) {
	var q FareQuote
	if err := c.post(ctx, "/v1/fares/quote", req, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// AccountStatus is the rider's standing with the platform.
type AccountStatus struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
}

// AccountStatus checks whether the account is blocked.
func (c *Client) AccountStatus(ctx context.Context, riderID string) (*AccountStatus, error) {
	var s AccountStatus
	if err := c.get(ctx, "/v1/riders/"+riderID+"/status", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// TokenRefresh is the refresh response.
type TokenRefresh struct {
	Token  string    `json:"token"`
	Expiry time.Time `json:"expiry"`
}

// RefreshToken exchanges the stored token for a fresh one.
func (c *Client) RefreshToken(ctx context.Context) (*TokenRefresh, error) {
	var tr TokenRefresh
	if err := c.post(ctx, "/v1/auth/refresh", nil, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

// Profile is the rider's public profile.
type Profile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email,omitempty"`
}

// Profile fetches the rider's profile.
func (c *Client) Profile(ctx context.Context, riderID string) (*Profile, error) {
	var p Profile
	if err := c.get(ctx, "/v1/riders/"+riderID+"/profile", &p); err != nil {
		return nil, err
	}
	return &p, nil
}
