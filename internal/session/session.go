package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	apperrors "github.com/gocomet/rider-app/pkg/errors"
	"github.com/gocomet/rider-app/pkg/logger"
)

// User is the persisted account identity. Older builds stored the id
// under different fields, so three id slots survive here; ResolveID
// picks the first non-empty one.
type User struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id,omitempty"`
	UID         string     `json:"uid,omitempty"`
	PhoneNumber string     `json:"phone_number"`
	Token       string     `json:"token"`
	TokenExpiry *time.Time `json:"token_expiry,omitempty"`
	IsLoggedIn  bool       `json:"is_logged_in"`
	LastLogin   time.Time  `json:"last_login"`
}

// ResolveID returns the first non-empty of ID, UserID, UID.
func (u *User) ResolveID() string {
	if u.ID != "" {
		return u.ID
	}
	if u.UserID != "" {
		return u.UserID
	}
	return u.UID
}

// TokenExpired reports whether the token has a known expiry in the past.
func (u *User) TokenExpired(now time.Time) bool {
	return u.TokenExpiry != nil && now.After(*u.TokenExpiry)
}

// Manager is the typed facade over the raw Store.
type Manager struct {
	store  Store
	logger *logger.Logger
}

// NewManager creates a session manager over the given store.
func NewManager(store Store, log *logger.Logger) *Manager {
	return &Manager{store: store, logger: log}
}

// Store exposes the underlying Store for components that persist their
// own keys through the session layer.
func (m *Manager) Store() Store {
	return m.store
}

// SaveUser persists the user record plus the flat credential keys that
// the transport and route guard read individually.
func (m *Manager) SaveUser(ctx context.Context, u *User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return apperrors.Wrap(err, "marshal user")
	}
	if err := m.store.Set(ctx, KeyUser, string(data)); err != nil {
		return err
	}
	if err := m.store.Set(ctx, KeyUserID, u.ResolveID()); err != nil {
		return err
	}
	if err := m.store.Set(ctx, KeyToken, u.Token); err != nil {
		return err
	}
	if u.TokenExpiry != nil {
		return m.store.Set(ctx, KeyTokenExpiry, u.TokenExpiry.Format(time.RFC3339))
	}
	return nil
}

// LoadUser reads the persisted user, or ErrSessionNotFound.
func (m *Manager) LoadUser(ctx context.Context) (*User, error) {
	raw, err := m.store.Get(ctx, KeyUser)
	if errors.Is(err, ErrNotFound) {
		return nil, apperrors.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, apperrors.Wrap(err, "unmarshal user")
	}
	return &u, nil
}

// UserID returns the persisted user id, or empty string if none.
func (m *Manager) UserID(ctx context.Context) string {
	id, err := m.store.Get(ctx, KeyUserID)
	if err != nil {
		return ""
	}
	return id
}

// Token returns the persisted auth token.
func (m *Manager) Token(ctx context.Context) (string, error) {
	tok, err := m.store.Get(ctx, KeyToken)
	if errors.Is(err, ErrNotFound) {
		return "", apperrors.ErrSessionNotFound
	}
	return tok, err
}

// UpdateToken replaces the token and expiry after a refresh.
func (m *Manager) UpdateToken(ctx context.Context, token string, expiry time.Time) error {
	u, err := m.LoadUser(ctx)
	if err != nil {
		return err
	}
	u.Token = token
	u.TokenExpiry = &expiry
	return m.SaveUser(ctx, u)
}

// Clear wipes every session key, the ride snapshot included. Logout.
func (m *Manager) Clear(ctx context.Context) error {
	return m.store.Delete(ctx,
		KeyUser, KeyUserID, KeyToken, KeyTokenExpiry,
		KeyCurrentRide, KeyRideStatus,
	)
}

// SaveSnapshot persists the current ride and its status projection.
// Fire-and-forget semantics live at the call site; errors here are
// reported so callers can log and carry on.
func (m *Manager) SaveSnapshot(ctx context.Context, ride interface{}, status string) error {
	data, err := json.Marshal(ride)
	if err != nil {
		return apperrors.Wrap(err, "marshal ride snapshot")
	}
	if err := m.store.Set(ctx, KeyCurrentRide, string(data)); err != nil {
		return err
	}
	return m.store.Set(ctx, KeyRideStatus, status)
}

// LoadSnapshot reads the persisted ride into out and returns the stored
// status. Returns ErrNotFound when no snapshot exists.
func (m *Manager) LoadSnapshot(ctx context.Context, out interface{}) (string, error) {
	raw, err := m.store.Get(ctx, KeyCurrentRide)
	if err != nil {
		return "", err
	}
	status, err := m.store.Get(ctx, KeyRideStatus)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return "", apperrors.ErrInvalidSnapshot
	}
	return status, nil
}

// ClearSnapshot removes the persisted ride state.
func (m *Manager) ClearSnapshot(ctx context.Context) error {
	return m.store.Delete(ctx, KeyCurrentRide, KeyRideStatus)
}

// PutCached stores a lookup result under key with an explicit TTL.
func (m *Manager) PutCached(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperrors.Wrap(err, "marshal cached value")
	}
	return m.store.SetTTL(ctx, key, string(data), ttl)
}

// GetCached reads a cached lookup result into out. ErrNotFound after expiry.
func (m *Manager) GetCached(ctx context.Context, key string, out interface{}) error {
	raw, err := m.store.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), out)
}
