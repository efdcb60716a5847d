// Package sim is a self-contained development backend: a gin server
// with the realtime socket endpoint, the REST surface the client
// expects, and a scripted driver that plays through a ride so the
// client can be exercised without real infrastructure.
package sim

import (
	"sync"
	"time"

	"github.com/gocomet/rider-app/internal/ride"
	"github.com/gocomet/rider-app/internal/wire"
)

// World holds the simulator's authoritative state, shared between the
// socket bot and the REST handlers.
type World struct {
	mu            sync.RWMutex
	rides         map[string]*ride.Ride // active ride by rider id
	ridesByID     map[string]*ride.Ride
	blocked       map[string]string // rider id -> reason
	notifications map[string][]wire.Notification
}

// NewWorld creates an empty world.
func NewWorld() *World {
	return &World{
		rides:         make(map[string]*ride.Ride),
		ridesByID:     make(map[string]*ride.Ride),
		blocked:       make(map[string]string),
		notifications: make(map[string][]wire.Notification),
	}
}

// ActiveRide returns the rider's current non-terminal ride.
func (w *World) ActiveRide(riderID string) *ride.Ride {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r := w.rides[riderID]
	if r == nil || r.Status.IsTerminal() {
		return nil
	}
	return r.Clone()
}

// RideByID looks a ride up by id.
func (w *World) RideByID(rideID string) *ride.Ride {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ridesByID[rideID].Clone()
}

// PutRide stores the ride as the rider's active one.
func (w *World) PutRide(r *ride.Ride) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rides[r.RiderID] = r
	w.ridesByID[r.ID] = r
}

// UpdateRide mutates a stored ride under the world lock.
func (w *World) UpdateRide(rideID string, fn func(*ride.Ride)) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.ridesByID[rideID]
	if !ok {
		return false
	}
	fn(r)
	return true
}

// EndRide drops the rider's active ride pointer, keeping history by id.
func (w *World) EndRide(riderID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.rides, riderID)
}

// Block marks a rider as blocked. The next revalidation poll sees it.
func (w *World) Block(riderID, reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.blocked[riderID] = reason
}

// BlockedReason reports whether the rider is blocked and why.
func (w *World) BlockedReason(riderID string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	reason, ok := w.blocked[riderID]
	return reason, ok
}

// PushNotification appends to the rider's feed.
func (w *World) PushNotification(riderID, title, body string) wire.Notification {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := wire.Notification{
		ID:        newID(),
		Title:     title,
		Body:      body,
		CreatedAt: time.Now(),
	}
	w.notifications[riderID] = append(w.notifications[riderID], n)
	return n
}

// Notifications returns the rider's feed, newest last.
func (w *World) Notifications(riderID string) []wire.Notification {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]wire.Notification, len(w.notifications[riderID]))
	copy(out, w.notifications[riderID])
	return out
}

// MarkNotificationRead flags one notification as read.
func (w *World) MarkNotificationRead(riderID, notificationID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	feed := w.notifications[riderID]
	for i := range feed {
		if feed[i].ID == notificationID {
			feed[i].Read = true
			return true
		}
	}
	return false
}
