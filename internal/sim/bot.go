package sim

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gocomet/rider-app/internal/ride"
	"github.com/gocomet/rider-app/internal/wire"
	"github.com/gocomet/rider-app/pkg/logger"
)

// Script controls the timing of the bot's ride playback. Zero values
// get sensible demo defaults.
type Script struct {
	AcceptDelay    time.Duration
	ArriveDelay    time.Duration
	StartDelay     time.Duration
	CompleteDelay  time.Duration
	LocationPeriod time.Duration

	// NoDrivers makes every search fail with noDriverFound.
	NoDrivers bool
}

func (s Script) withDefaults() Script {
	if s.AcceptDelay == 0 {
		s.AcceptDelay = 3 * time.Second
	}
	if s.ArriveDelay == 0 {
		s.ArriveDelay = 8 * time.Second
	}
	if s.StartDelay == 0 {
		s.StartDelay = 4 * time.Second
	}
	if s.CompleteDelay == 0 {
		s.CompleteDelay = 12 * time.Second
	}
	if s.LocationPeriod == 0 {
		s.LocationPeriod = 2 * time.Second
	}
	return s
}

// Bot answers rider socket events the way the production backend would,
// with a scripted driver playing the other side of each ride.
type Bot struct {
	world  *World
	hub    *Hub
	script Script
	logger *logger.Logger

	mu      sync.Mutex
	cancels map[string]chan struct{} // ride id -> script stop
}

// NewBot creates the scripted backend bot.
func NewBot(world *World, script Script, log *logger.Logger) *Bot {
	return &Bot{
		world:   world,
		script:  script.withDefaults(),
		logger:  log,
		cancels: make(map[string]chan struct{}),
	}
}

// BindHub gives the bot its send path. Called once at server setup.
func (b *Bot) BindHub(hub *Hub) {
	b.hub = hub
}

// HandleEvent dispatches one rider envelope.
func (b *Bot) HandleEvent(p *Peer, env wire.Envelope) {
	switch env.Event {
	case wire.EventRiderConnect, wire.EventRiderDisconnect:
		// Presence only.
	case wire.EventNewRideRequest:
		b.handleRideRequest(p, env.Data)
	case wire.EventRideCancelledOut:
		b.handleCancel(p, env.Data)
	case wire.EventSubmitRating:
		b.handleRating(p, env.Data)
	case wire.EventSendMessage:
		b.handleMessage(p, env.Data)
	case wire.EventEmergencyAlert:
		b.handleEmergency(p, env.Data)
	case wire.EventGetNotifications:
		b.handleGetNotifications(p)
	case wire.EventMarkNotificationRead:
		b.handleMarkRead(p, env.Data)
	default:
		b.logger.Warn("Unknown rider event", logger.String("event", env.Event))
	}
}

func (b *Bot) send(p *Peer, event string, v interface{}) {
	b.hub.SendToUser(p.UserID, p.UserType, event, v)
}

func (b *Bot) handleRideRequest(p *Peer, data json.RawMessage) {
	var req wire.RideRequest
	if err := json.Unmarshal(data, &req); err != nil {
		b.send(p, wire.EventRideError, wire.Error{Code: "BAD_REQUEST", Message: "unparseable ride request"})
		return
	}

	r := &ride.Ride{
		ID:             newID(),
		RiderID:        p.UserID,
		Status:         ride.StatusSearching,
		Pickup:         ride.Location{Latitude: req.Pickup.Latitude, Longitude: req.Pickup.Longitude},
		Dropoff:        ride.Location{Latitude: req.Dropoff.Latitude, Longitude: req.Dropoff.Longitude},
		PickupAddress:  req.PickupAddress,
		DropoffAddress: req.DropoffAddress,
		Fare:           req.Fare,
		DistanceKM:     req.DistanceKM,
		Service:        req.Service,
		RideType:       req.RideType,
		PaymentMethod:  req.PaymentMethod,
		StartOTP:       otp(),
		StopOTP:        otp(),
	}
	b.world.PutRide(r)

	b.send(p, wire.EventRideRequested, wire.RideRequested{
		RideID:    r.ID,
		RequestID: req.RequestID,
		StartOTP:  r.StartOTP,
		StopOTP:   r.StopOTP,
		Message:   "Looking for a driver near you",
	})

	stop := make(chan struct{})
	b.mu.Lock()
	b.cancels[r.ID] = stop
	b.mu.Unlock()

	go b.playRide(p, r.Clone(), stop)
}

// playRide walks one ride through its lifecycle on a timer.
func (b *Bot) playRide(p *Peer, r *ride.Ride, stop chan struct{}) {
	defer func() {
		b.mu.Lock()
		delete(b.cancels, r.ID)
		b.mu.Unlock()
	}()

	if !b.sleep(stop, b.script.AcceptDelay) {
		return
	}

	if b.script.NoDrivers {
		b.world.UpdateRide(r.ID, func(cur *ride.Ride) { cur.Status = ride.StatusCancelled })
		b.world.EndRide(p.UserID)
		b.send(p, wire.EventNoDriverFound, wire.NoDriverFound{
			RideID:  r.ID,
			Message: "No drivers available right now. Please try again.",
		})
		return
	}

	driver := cannedDriver()
	b.world.UpdateRide(r.ID, func(cur *ride.Ride) {
		cur.Status = ride.StatusAccepted
		cur.Driver = &driver
	})
	b.send(p, wire.EventRideAccepted, wire.RideAccepted{
		RideID: r.ID,
		Driver: wire.Driver{
			ID:         driver.ID,
			Name:       driver.Name,
			Phone:      driver.Phone,
			Rating:     driver.Rating,
			TotalTrips: driver.TotalTrips,
			Vehicle: wire.DriverVehicle{
				Make:         driver.Vehicle.Make,
				Model:        driver.Vehicle.Model,
				Color:        driver.Vehicle.Color,
				LicensePlate: driver.Vehicle.LicensePlate,
			},
		},
		ETAMinutes: 4,
	})

	pos := r.Pickup
	pos.Latitude -= 0.01
	if !b.streamLocations(p, r.ID, &pos, r.Pickup, b.script.ArriveDelay, stop) {
		return
	}

	b.world.UpdateRide(r.ID, func(cur *ride.Ride) { cur.Status = ride.StatusArrived })
	b.send(p, wire.EventDriverArrived, wire.DriverArrived{
		RideID:   r.ID,
		StartOTP: r.StartOTP,
		Message:  "Your driver has arrived",
	})

	if !b.sleep(stop, b.script.StartDelay) {
		return
	}

	started := time.Now()
	b.world.UpdateRide(r.ID, func(cur *ride.Ride) {
		cur.Status = ride.StatusInProgress
		cur.ActualStart = &started
	})
	b.send(p, wire.EventRideStarted, wire.RideStarted{RideID: r.ID, StartedAt: started})

	if !b.streamLocations(p, r.ID, &pos, r.Dropoff, b.script.CompleteDelay, stop) {
		return
	}

	ended := time.Now()
	b.world.UpdateRide(r.ID, func(cur *ride.Ride) {
		cur.Status = ride.StatusCompleted
		cur.ActualEnd = &ended
	})
	b.world.EndRide(p.UserID)
	b.send(p, wire.EventRideCompleted, wire.RideCompleted{
		RideID:     r.ID,
		Fare:       r.Fare,
		DistanceKM: r.DistanceKM,
		EndedAt:    ended,
	})
	b.world.PushNotification(p.UserID, "Trip complete", fmt.Sprintf("Your %s trip has ended.", r.Service))
}

// streamLocations sends position updates until total elapses, nudging
// pos toward target. Returns false when the script was stopped.
func (b *Bot) streamLocations(p *Peer, rideID string, pos *ride.Location, target ride.Location, total time.Duration, stop chan struct{}) bool {
	ticks := int(total / b.script.LocationPeriod)
	if ticks < 1 {
		ticks = 1
	}
	for i := 0; i < ticks; i++ {
		if !b.sleep(stop, b.script.LocationPeriod) {
			return false
		}
		pos.Latitude += (target.Latitude - pos.Latitude) / float64(ticks-i)
		pos.Longitude += (target.Longitude - pos.Longitude) / float64(ticks-i)
		b.send(p, wire.EventDriverLocationUpdate, wire.DriverLocation{
			RideID:     rideID,
			Location:   wire.GeoPoint{Latitude: pos.Latitude, Longitude: pos.Longitude},
			SpeedKMH:   20 + rand.Float64()*20,
			ETAMinutes: ticks - i,
			Timestamp:  time.Now(),
		})
	}
	return true
}

func (b *Bot) sleep(stop chan struct{}, d time.Duration) bool {
	select {
	case <-stop:
		return false
	case <-time.After(d):
		return true
	}
}

func (b *Bot) stopScript(rideID string) {
	b.mu.Lock()
	if stop, ok := b.cancels[rideID]; ok {
		close(stop)
		delete(b.cancels, rideID)
	}
	b.mu.Unlock()
}

func (b *Bot) handleCancel(p *Peer, data json.RawMessage) {
	var req wire.CancelRide
	if err := json.Unmarshal(data, &req); err != nil {
		b.send(p, wire.EventRideError, wire.Error{Code: "BAD_REQUEST", Message: "unparseable cancellation"})
		return
	}

	b.stopScript(req.RideID)
	b.world.UpdateRide(req.RideID, func(cur *ride.Ride) { cur.Status = ride.StatusCancelled })
	b.world.EndRide(p.UserID)

	b.send(p, wire.EventRideCancelled, wire.RideCancelledNotice{
		RideID:      req.RideID,
		Reason:      req.Reason,
		CancelledBy: "rider",
	})
}

func (b *Bot) handleRating(p *Peer, data json.RawMessage) {
	var req wire.SubmitRating
	if err := json.Unmarshal(data, &req); err != nil || req.Rating < 1 || req.Rating > 5 {
		b.send(p, wire.EventRatingError, wire.Error{Code: "INVALID_RATING", Message: "rating must be between 1 and 5"})
		return
	}
	b.send(p, wire.EventRatingSubmitted, wire.RatingSubmitted{RideID: req.RideID})
}

func (b *Bot) handleMessage(p *Peer, data json.RawMessage) {
	var msg wire.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		b.send(p, wire.EventMessageError, wire.Error{Code: "BAD_REQUEST", Message: "unparseable message"})
		return
	}
	if b.world.RideByID(msg.RideID) == nil {
		b.send(p, wire.EventMessageError, wire.Error{Code: "NO_RIDE", Message: "no such ride"})
		return
	}
	b.logger.Info("Rider message",
		logger.String("ride_id", msg.RideID),
		logger.String("text", msg.Text),
	)
}

func (b *Bot) handleEmergency(p *Peer, data json.RawMessage) {
	var alert wire.EmergencyAlert
	if err := json.Unmarshal(data, &alert); err != nil {
		b.send(p, wire.EventEmergencyError, wire.Error{Code: "BAD_REQUEST", Message: "unparseable alert"})
		return
	}
	b.logger.Warn("Emergency alert",
		logger.String("ride_id", alert.RideID),
		logger.String("type", alert.Type),
		logger.String("reason", alert.Reason),
	)
	b.world.PushNotification(p.UserID, "Emergency received", "Our safety team has been notified.")
}

func (b *Bot) handleGetNotifications(p *Peer) {
	b.send(p, wire.EventNotifications, wire.Notifications{
		Notifications: b.world.Notifications(p.UserID),
	})
}

func (b *Bot) handleMarkRead(p *Peer, data json.RawMessage) {
	var req wire.MarkNotificationRead
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	b.world.MarkNotificationRead(p.UserID, req.NotificationID)
	b.send(p, wire.EventNotificationMarkedRead, wire.NotificationMarkedRead{
		NotificationID: req.NotificationID,
	})
}

func otp() string {
	return fmt.Sprintf("%04d", rand.Intn(10000))
}

func cannedDriver() ride.DriverInfo {
	drivers := []ride.DriverInfo{
		{
			ID: "drv-1001", Name: "Ravi Kumar", Phone: "+919800000001",
			Rating: 4.8, TotalTrips: 2140,
			Vehicle: ride.VehicleInfo{Make: "Maruti", Model: "Dzire", Color: "White", LicensePlate: "KA01AB1234"},
		},
		{
			ID: "drv-1002", Name: "Sunita Rao", Phone: "+919800000002",
			Rating: 4.9, TotalTrips: 3310,
			Vehicle: ride.VehicleInfo{Make: "Hyundai", Model: "Aura", Color: "Silver", LicensePlate: "KA05CD5678"},
		},
		{
			ID: "drv-1003", Name: "Imran Shaikh", Phone: "+919800000003",
			Rating: 4.7, TotalTrips: 1580,
			Vehicle: ride.VehicleInfo{Make: "Tata", Model: "Tigor", Color: "Blue", LicensePlate: "KA03EF9012"},
		},
	}
	return drivers[rand.Intn(len(drivers))]
}
