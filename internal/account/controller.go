// Package account owns the user session lifecycle: login and logout,
// the realtime connection tied to them, periodic account revalidation,
// and the route guard that keeps unauthenticated users out.
package account

import (
	"context"
	"sync"
	"time"

	"github.com/gocomet/rider-app/internal/config"
	"github.com/gocomet/rider-app/internal/restapi"
	"github.com/gocomet/rider-app/internal/session"
	"github.com/gocomet/rider-app/internal/shell"
	"github.com/gocomet/rider-app/internal/transport"
	apperrors "github.com/gocomet/rider-app/pkg/errors"
	"github.com/gocomet/rider-app/pkg/logger"
)

// Realtime is the connection the controller brings up and tears down
// with the session.
type Realtime interface {
	Initialize(ctx context.Context, id transport.Identity) error
	Disconnect()
}

// Lifecycle is the ride state machine as the controller sees it.
type Lifecycle interface {
	Attach()
	Detach()
	Restore(ctx context.Context) error
	SyncFromBackend(ctx context.Context) error
}

// Backend is the slice of the REST API the controller needs.
type Backend interface {
	AccountStatus(ctx context.Context, riderID string) (*restapi.AccountStatus, error)
	RefreshToken(ctx context.Context) (*restapi.TokenRefresh, error)
}

// Controller drives session state.
type Controller struct {
	rt       Realtime
	machine  Lifecycle
	api      Backend
	sessions *session.Manager
	nav      shell.Navigator
	notify   shell.Notifier
	cfg      config.AccountConfig
	logger   *logger.Logger

	mu      sync.Mutex
	stop    chan struct{}
	recheck chan struct{}
}

// NewController creates the session controller.
func NewController(rt Realtime, machine Lifecycle, api Backend, sessions *session.Manager, nav shell.Navigator, notify shell.Notifier, cfg config.AccountConfig, log *logger.Logger) *Controller {
	if cfg.RevalidateInterval <= 0 {
		cfg.RevalidateInterval = 45 * time.Second
	}
	return &Controller{
		rt:       rt,
		machine:  machine,
		api:      api,
		sessions: sessions,
		nav:      nav,
		notify:   notify,
		cfg:      cfg,
		logger:   log,
	}
}

// Login persists the user, brings the realtime connection up, restores
// any in-flight ride from the last run, reconciles it against the
// backend, and starts periodic revalidation.
func (c *Controller) Login(ctx context.Context, u *session.User) error {
	if u == nil || u.ResolveID() == "" {
		return apperrors.ErrNoUserID
	}
	u.IsLoggedIn = true
	u.LastLogin = time.Now()

	if err := c.sessions.SaveUser(ctx, u); err != nil {
		return apperrors.Recovery("Failed to persist session", err)
	}

	if err := c.rt.Initialize(ctx, transport.Identity{
		UserID:   u.ResolveID(),
		UserType: "rider",
	}); err != nil {
		return err
	}
	c.machine.Attach()

	if err := c.machine.Restore(ctx); err != nil {
		c.logger.Warn("Ride restore failed", logger.Err(err))
	}
	if err := c.machine.SyncFromBackend(ctx); err != nil {
		c.logger.Warn("Ride sync failed", logger.Err(err))
	}

	c.startRevalidation()
	c.nav.Replace(shell.ViewHome)
	return nil
}

// Logout tears the session down and lands on the login view.
func (c *Controller) Logout(ctx context.Context) error {
	c.stopRevalidation()
	c.machine.Detach()
	c.rt.Disconnect()

	if err := c.sessions.Clear(ctx); err != nil {
		c.logger.Warn("Failed to clear session", logger.Err(err))
	}
	c.nav.Replace(shell.ViewLogin)
	return nil
}

// Resume asks for an immediate revalidation, used when the app returns
// to the foreground. A no-op when revalidation isn't running.
func (c *Controller) Resume() {
	c.mu.Lock()
	recheck := c.recheck
	c.mu.Unlock()
	if recheck == nil {
		return
	}
	select {
	case recheck <- struct{}{}:
	default:
	}
}

func (c *Controller) startRevalidation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.recheck = make(chan struct{}, 1)
	go c.revalidateLoop(c.stop, c.recheck)
}

func (c *Controller) stopRevalidation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop == nil {
		return
	}
	close(c.stop)
	c.stop = nil
	c.recheck = nil
}

func (c *Controller) revalidateLoop(stop chan struct{}, recheck chan struct{}) {
	ticker := time.NewTicker(c.cfg.RevalidateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		case <-recheck:
		}
		c.revalidate(stop)
	}
}

// revalidate checks account standing once. Transient check failures are
// logged and ignored so a flaky network never logs the rider out.
func (c *Controller) revalidate(stop chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	riderID := c.sessions.UserID(ctx)
	if riderID == "" {
		return
	}

	status, err := c.api.AccountStatus(ctx, riderID)
	if err != nil {
		c.logger.Warn("Account revalidation failed", logger.Err(err))
		return
	}
	if !status.Blocked {
		return
	}

	c.logger.Warn("Account blocked, forcing logout",
		logger.String("rider_id", riderID),
		logger.String("reason", status.Reason))

	select {
	case <-stop:
		return
	default:
	}

	c.machine.Detach()
	c.rt.Disconnect()
	if err := c.sessions.Clear(ctx); err != nil {
		c.logger.Warn("Failed to clear session", logger.Err(err))
	}
	c.mu.Lock()
	if c.stop == stop {
		close(c.stop)
		c.stop = nil
		c.recheck = nil
	}
	c.mu.Unlock()

	c.notify.Alert("Account blocked", "Your account has been blocked. Contact support for help.")
	c.nav.Replace(shell.ViewBlocked)
}

// Guard decides whether a protected view may be entered. An expired
// token is refreshed silently; only an unrecoverable session forces the
// rider back to login.
func (c *Controller) Guard(ctx context.Context) error {
	u, err := c.sessions.LoadUser(ctx)
	if err != nil || u == nil || !u.IsLoggedIn || u.ResolveID() == "" || u.Token == "" {
		c.nav.Replace(shell.ViewLogin)
		return apperrors.ErrSessionNotFound
	}

	if !u.TokenExpired(time.Now()) {
		return nil
	}

	tr, err := c.api.RefreshToken(ctx)
	if err != nil {
		c.logger.Warn("Token refresh failed", logger.Err(err))
		_ = c.Logout(ctx)
		return apperrors.ErrSessionExpired
	}
	if err := c.sessions.UpdateToken(ctx, tr.Token, tr.Expiry); err != nil {
		return apperrors.Recovery("Failed to persist refreshed token", err)
	}
	return nil
}
