// Package session owns the rider's durable key-value state: credentials,
// the logged-in user, the current-ride snapshot used for restart recovery,
// and TTL-cached lookup results.
package session

import (
	"context"
	"errors"
	"time"
)

// Persisted keys. These names are shared with earlier app builds; changing
// one silently discards state for users upgrading in place.
const (
	KeyUser        = "user"
	KeyUserID      = "userId"
	KeyToken       = "token"
	KeyTokenExpiry = "tokenExpiry"
	KeyCurrentRide = "currentRide"
	KeyRideStatus  = "rideStatus"

	KeyVehicleServices = "cache:vehicleServices"
	KeyFareQuote       = "cache:fareQuote"
	KeyPinnedAddresses = "cache:pinnedAddresses"
)

// ErrNotFound is returned when a key has no value (or its TTL expired).
var ErrNotFound = errors.New("session: key not found")

// Store is the persistent key-value storage behind the session layer.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	SetTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}
