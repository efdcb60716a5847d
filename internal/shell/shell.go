// Package shell is the boundary to whatever renders the app: navigation
// between views and user-facing notices. The core never touches UI
// directly; it calls these interfaces and the embedding app decides what
// they mean.
package shell

import "github.com/gocomet/rider-app/pkg/logger"

// View names the screens the core navigates between.
type View string

const (
	ViewHome       View = "home"
	ViewSearch     View = "search"
	ViewDriver     View = "driver"
	ViewActiveRide View = "active-ride"
	ViewRating     View = "rating"
	ViewBlocked    View = "blocked"
	ViewLogin      View = "login"
)

// Navigator moves the app between views. Replace swaps the current
// history entry so back navigation cannot resurrect a stale screen.
type Navigator interface {
	Go(view View)
	Replace(view View)
}

// Notifier surfaces notices to the user. Toast is transient, Alert is
// blocking-informational, Confirm is blocking with acknowledgement.
type Notifier interface {
	Toast(message string)
	Alert(title, message string)
	Confirm(title, message string)
}

// LogShell is the default Navigator+Notifier: it just logs. Headless
// runs and tests use it; a real app supplies its own.
type LogShell struct {
	Logger *logger.Logger
}

func NewLogShell(log *logger.Logger) *LogShell {
	return &LogShell{Logger: log}
}

func (s *LogShell) Go(view View) {
	s.Logger.Info("Navigate", logger.String("view", string(view)))
}

func (s *LogShell) Replace(view View) {
	s.Logger.Info("Navigate (replace)", logger.String("view", string(view)))
}

func (s *LogShell) Toast(message string) {
	s.Logger.Info("Toast", logger.String("message", message))
}

func (s *LogShell) Alert(title, message string) {
	s.Logger.Info("Alert", logger.String("title", title), logger.String("message", message))
}

func (s *LogShell) Confirm(title, message string) {
	s.Logger.Info("Confirm", logger.String("title", title), logger.String("message", message))
}
