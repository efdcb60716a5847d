package ride

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gocomet/rider-app/internal/observability"
	"github.com/gocomet/rider-app/internal/session"
	"github.com/gocomet/rider-app/internal/shell"
	"github.com/gocomet/rider-app/internal/transport"
	"github.com/gocomet/rider-app/internal/wire"
	apperrors "github.com/gocomet/rider-app/pkg/errors"
	"github.com/gocomet/rider-app/pkg/logger"
	"github.com/gocomet/rider-app/pkg/stream"
)

const persistTimeout = 5 * time.Second

// Realtime is the slice of the transport the machine needs.
type Realtime interface {
	Emit(event string, payload interface{})
	On(events ...string) *transport.Subscription
	IsConnected() bool
	WaitForConnection(ctx context.Context, timeout time.Duration) error
}

// Backend resolves the authoritative ride state over REST.
type Backend interface {
	ActiveRide(ctx context.Context, riderID string) (*Ride, error)
}

// Machine is the single authoritative holder of the current ride and its
// status. Inbound realtime events feed one queue and one transition
// function; UI intents become outbound commands. Nothing else mutates
// ride state.
type Machine struct {
	rt       Realtime
	backend  Backend
	sessions *session.Manager
	nav      shell.Navigator
	notify   shell.Notifier
	logger   *logger.Logger

	mu  sync.Mutex
	cur *Ride
	sub *transport.Subscription

	rideSrc   *stream.Source[*Ride]
	phaseSrc  *stream.Source[Phase]
	driverSrc *stream.Source[DriverPosition]
	etaSrc    *stream.Source[int]
	errSrc    *stream.Source[Error]
	notifSrc  *stream.Source[[]wire.Notification]
}

// NewMachine wires the state machine. backend may be nil when no REST
// reconciliation is available (it is then skipped).
func NewMachine(rt Realtime, backend Backend, sessions *session.Manager, nav shell.Navigator, notify shell.Notifier, log *logger.Logger) *Machine {
	return &Machine{
		rt:        rt,
		backend:   backend,
		sessions:  sessions,
		nav:       nav,
		notify:    notify,
		logger:    log,
		rideSrc:   stream.NewSource[*Ride](nil),
		phaseSrc:  stream.NewSource(PhaseIdle),
		driverSrc: stream.NewSource(DriverPosition{}),
		etaSrc:    stream.NewSource(0),
		errSrc:    stream.NewSource(Error{}),
		notifSrc:  stream.NewSource[[]wire.Notification](nil),
	}
}

// Attach subscribes to all inbound ride events on one ordered queue and
// starts the dispatch loop. Any previous listener set is torn down
// first, so repeated attachment never duplicates event handling.
func (m *Machine) Attach() {
	m.mu.Lock()
	if m.sub != nil {
		m.sub.Cancel()
	}
	sub := m.rt.On(
		wire.EventRideRequested,
		wire.EventNoDriverFound,
		wire.EventRideAccepted,
		wire.EventDriverLocationUpdate,
		wire.EventDriverArrived,
		wire.EventRideStarted,
		wire.EventRideLocationUpdate,
		wire.EventRideCompleted,
		wire.EventRideCancelled,
		wire.EventRatingSubmitted,
		wire.EventRideError,
		wire.EventMessageError,
		wire.EventEmergencyError,
		wire.EventRatingError,
		wire.EventNotifications,
		wire.EventNotificationMarkedRead,
	)
	m.sub = sub
	m.mu.Unlock()

	go func() {
		for in := range sub.C {
			m.apply(in)
		}
	}()
}

// Detach stops event handling.
func (m *Machine) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sub != nil {
		m.sub.Cancel()
		m.sub = nil
	}
}

// apply is the inbound transition table: one event in, one state change
// plus its side effects out. All ride mutation funnels through here.
func (m *Machine) apply(in transport.Inbound) {
	switch in.Event {

	case wire.EventRideRequested:
		ack, err := transport.Decode[wire.RideRequested](in)
		if err != nil {
			m.logger.Warn("Bad rideRequested payload", logger.Err(err))
			return
		}
		m.mutate(func(r *Ride) {
			if ack.RideID != "" {
				r.ID = ack.RideID
			}
			if ack.StartOTP != "" {
				r.StartOTP = ack.StartOTP
			}
			if ack.StopOTP != "" {
				r.StopOTP = ack.StopOTP
			}
			r.Status = StatusSearching
			r.OptimisticSearch = false
		})
		m.persist()
		m.notify.Toast("Searching for nearby drivers")

	case wire.EventNoDriverFound:
		nf, _ := transport.Decode[wire.NoDriverFound](in)
		if nf.Message == "" {
			nf.Message = apperrors.ErrNoDriversFound.Message
		}
		// The error must be observable before the ride disappears:
		// publish first, clear second, in this one dispatch step.
		m.errSrc.Set(Error{Source: "ride", Code: "NO_DRIVER_FOUND", Message: nf.Message})
		m.mutate(func(r *Ride) {
			r.Status = StatusCancelled
			r.OptimisticSearch = false
		})
		m.clear()
		m.nav.Replace(shell.ViewHome)

	case wire.EventRideAccepted:
		acc, err := transport.Decode[wire.RideAccepted](in)
		if err != nil {
			m.logger.Warn("Bad rideAccepted payload", logger.Err(err))
			return
		}
		m.mutate(func(r *Ride) {
			if acc.RideID != "" {
				r.ID = acc.RideID
			}
			r.Status = StatusAccepted
			r.Driver = driverFromWire(acc.Driver)
		})
		m.persist()
		if acc.ETAMinutes > 0 {
			m.etaSrc.Set(acc.ETAMinutes)
		}
		m.notify.Confirm("Driver found", acc.Driver.Name+" is on the way")
		m.nav.Replace(shell.ViewDriver)

	case wire.EventDriverLocationUpdate:
		loc, err := transport.Decode[wire.DriverLocation](in)
		if err != nil {
			return
		}
		m.driverSrc.Set(DriverPosition{
			Location:       Location(loc.Location),
			HeadingDegrees: loc.HeadingDegrees,
			SpeedKMH:       loc.SpeedKMH,
			ETAMinutes:     loc.ETAMinutes,
			At:             loc.Timestamp,
		})
		if loc.ETAMinutes > 0 {
			m.etaSrc.Set(loc.ETAMinutes)
		}

	case wire.EventDriverArrived:
		arr, _ := transport.Decode[wire.DriverArrived](in)
		var otp string
		m.mutate(func(r *Ride) {
			r.Status = StatusArrived
			if arr.StartOTP != "" {
				r.StartOTP = arr.StartOTP
			}
			otp = r.StartOTP
		})
		m.persist()
		if otp != "" {
			m.notify.Alert("Driver arrived", "Share start code "+otp+" with your driver")
		} else {
			m.notify.Alert("Driver arrived", "Your driver is at the pickup point")
		}

	case wire.EventRideStarted:
		st, _ := transport.Decode[wire.RideStarted](in)
		m.mutate(func(r *Ride) {
			r.Status = StatusInProgress
			if !st.StartedAt.IsZero() {
				t := st.StartedAt
				r.ActualStart = &t
			}
		})
		m.persist()
		m.notify.Toast("Your ride has started")

	case wire.EventRideLocationUpdate:
		loc, err := transport.Decode[wire.DriverLocation](in)
		if err != nil {
			return
		}
		m.driverSrc.Set(DriverPosition{
			Location: Location(loc.Location),
			SpeedKMH: loc.SpeedKMH,
			At:       loc.Timestamp,
		})

	case wire.EventRideCompleted:
		done, _ := transport.Decode[wire.RideCompleted](in)
		m.mutate(func(r *Ride) {
			r.Status = StatusCompleted
			if done.Fare > 0 {
				r.Fare = done.Fare
			}
			if done.DistanceKM > 0 {
				r.DistanceKM = done.DistanceKM
			}
			if !done.EndedAt.IsZero() {
				t := done.EndedAt
				r.ActualEnd = &t
			}
		})
		m.persist()
		m.notify.Toast("Ride completed")
		m.nav.Go(shell.ViewRating)

	case wire.EventRideCancelled:
		note, _ := transport.Decode[wire.RideCancelledNotice](in)
		m.mutate(func(r *Ride) {
			r.Status = StatusCancelled
		})
		if note.Reason != "" {
			m.notify.Toast("Ride cancelled: " + note.Reason)
		} else {
			m.notify.Toast("Ride cancelled")
		}
		m.clear()
		m.nav.Replace(shell.ViewHome)

	case wire.EventRatingSubmitted:
		m.clear()
		m.notify.Toast("Thanks for your feedback")
		m.nav.Go(shell.ViewHome)

	case wire.EventRideError, wire.EventMessageError, wire.EventEmergencyError, wire.EventRatingError:
		e, _ := transport.Decode[wire.Error](in)
		if e.Message == "" {
			e.Message = "Something went wrong"
		}
		m.errSrc.Set(Error{Source: in.Event, Code: e.Code, Message: e.Message})
		m.notify.Toast(e.Message)

	case wire.EventNotifications:
		n, err := transport.Decode[wire.Notifications](in)
		if err != nil {
			return
		}
		m.notifSrc.Set(n.Notifications)

	case wire.EventNotificationMarkedRead:
		ack, err := transport.Decode[wire.NotificationMarkedRead](in)
		if err != nil {
			return
		}
		cur := m.notifSrc.Get()
		next := make([]wire.Notification, len(cur))
		copy(next, cur)
		for i := range next {
			if next[i].ID == ack.NotificationID {
				next[i].Read = true
			}
		}
		m.notifSrc.Set(next)

	default:
		m.logger.Debug("Unhandled realtime event", logger.String("event", in.Event))
	}
}

// mutate applies fn to the current ride and publishes the new state.
// No-op when no ride is held (stale events after clearing).
func (m *Machine) mutate(fn func(*Ride)) {
	m.mu.Lock()
	if m.cur == nil {
		m.mu.Unlock()
		m.logger.Warn("Ride event with no current ride, ignoring")
		return
	}
	fn(m.cur)
	m.cur.UpdatedAt = time.Now()
	snapshot := m.cur.Clone()
	m.mu.Unlock()

	observability.RideTransitions.WithLabelValues(string(snapshot.Status)).Inc()
	m.rideSrc.Set(snapshot)
	m.phaseSrc.Set(PhaseFor(snapshot.Status))
}

// persist writes the snapshot to the session store. Fire-and-forget:
// storage failures are logged and the session continues in memory.
func (m *Machine) persist() {
	m.mu.Lock()
	cur := m.cur.Clone()
	m.mu.Unlock()
	if cur == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.sessions.SaveSnapshot(ctx, cur, string(cur.Status)); err != nil {
		m.logger.Error("Failed to persist ride snapshot", logger.Err(err))
		return
	}
	observability.SnapshotWrites.Inc()
}

// clear drops the current ride and its persisted snapshot.
func (m *Machine) clear() {
	m.mu.Lock()
	m.cur = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.sessions.ClearSnapshot(ctx); err != nil {
		m.logger.Error("Failed to clear ride snapshot", logger.Err(err))
	}

	m.rideSrc.Set(nil)
	m.phaseSrc.Set(PhaseIdle)
}

// RequestRide books a ride. It waits for the realtime connection without
// bound (cancel via ctx), emits the request and optimistically moves the
// local state to searching until the server acknowledges.
func (m *Machine) RequestRide(ctx context.Context, details RequestDetails) error {
	riderID := m.sessions.UserID(ctx)
	if riderID == "" {
		return apperrors.ErrNoUserID
	}

	if err := m.rt.WaitForConnection(ctx, 0); err != nil {
		return err
	}

	now := time.Now()
	r := &Ride{
		ID:               uuid.NewString(),
		RiderID:          riderID,
		Status:           StatusSearching,
		Pickup:           details.Pickup,
		Dropoff:          details.Dropoff,
		PickupAddress:    details.PickupAddress,
		DropoffAddress:   details.DropoffAddress,
		Fare:             details.Fare,
		DistanceKM:       details.DistanceKM,
		Service:          details.Service,
		RideType:         details.RideType,
		PaymentMethod:    details.PaymentMethod,
		OptimisticSearch: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	// The optimistic state must be committed before the command goes
	// out: the ack can arrive on the dispatch queue at any point after
	// Emit, and it lands on whatever ride is held then.
	m.mu.Lock()
	m.cur = r
	snapshot := r.Clone()
	m.mu.Unlock()

	m.rideSrc.Set(snapshot)
	m.phaseSrc.Set(PhaseSearching)

	m.rt.Emit(wire.EventNewRideRequest, wire.RideRequest{
		RequestID:      r.ID,
		RiderID:        riderID,
		Pickup:         wire.GeoPoint(details.Pickup),
		Dropoff:        wire.GeoPoint(details.Dropoff),
		PickupAddress:  details.PickupAddress,
		DropoffAddress: details.DropoffAddress,
		Fare:           details.Fare,
		DistanceKM:     details.DistanceKM,
		Service:        details.Service,
		RideType:       details.RideType,
		PaymentMethod:  details.PaymentMethod,
	})

	m.persist()
	m.nav.Go(shell.ViewSearch)

	m.logger.Info("Ride requested",
		logger.String("request_id", r.ID),
		logger.String("service", details.Service),
	)
	return nil
}

// CancelRide asks the server to cancel. State is cleared only when the
// cancellation confirmation event arrives, never optimistically.
func (m *Machine) CancelRide(ctx context.Context, reason string) error {
	m.mu.Lock()
	cur := m.cur.Clone()
	m.mu.Unlock()
	if cur == nil {
		m.logger.Warn("CancelRide with no current ride")
		return apperrors.ErrNoActiveRide
	}
	if reason == "" {
		reason = "Cancelled by rider"
	}

	m.rt.Emit(wire.EventRideCancelledOut, wire.CancelRide{
		RideID:  cur.ID,
		RiderID: cur.RiderID,
		Reason:  reason,
	})
	return nil
}

// SubmitRating rates the completed ride. Purely an outbound command;
// cleanup happens on the ratingSubmitted ack.
func (m *Machine) SubmitRating(ctx context.Context, rating int, review string, tags []string) error {
	m.mu.Lock()
	cur := m.cur.Clone()
	m.mu.Unlock()
	if cur == nil {
		m.logger.Warn("SubmitRating with no current ride")
		return apperrors.ErrNoActiveRide
	}
	if rating < 1 || rating > 5 {
		return apperrors.ErrInvalidRating
	}

	m.rt.Emit(wire.EventSubmitRating, wire.SubmitRating{
		RideID:  cur.ID,
		RiderID: cur.RiderID,
		Rating:  rating,
		Review:  review,
		Tags:    tags,
	})
	return nil
}

// SendMessage sends an in-ride chat message to the driver.
func (m *Machine) SendMessage(ctx context.Context, text, msgType string) error {
	m.mu.Lock()
	cur := m.cur.Clone()
	m.mu.Unlock()
	if cur == nil {
		m.logger.Warn("SendMessage with no current ride")
		return apperrors.ErrNoActiveRide
	}
	if !cur.HasDriver() {
		m.logger.Warn("SendMessage before driver assignment")
		return apperrors.ErrNoDriverAssigned
	}
	if msgType == "" {
		msgType = wire.MessageTypeText
	}

	m.rt.Emit(wire.EventSendMessage, wire.ChatMessage{
		RideID:     cur.ID,
		SenderID:   cur.RiderID,
		SenderType: wire.UserTypeRider,
		Type:       msgType,
		Text:       text,
		SentAt:     time.Now(),
	})
	return nil
}

// TriggerEmergency raises an emergency alert for the current ride.
func (m *Machine) TriggerEmergency(ctx context.Context, loc Location, alertType, reason, description string) error {
	m.mu.Lock()
	cur := m.cur.Clone()
	m.mu.Unlock()
	if cur == nil {
		m.notify.Toast("No active ride for an emergency alert")
		return apperrors.ErrNoActiveRide
	}
	if alertType == "" {
		alertType = wire.EmergencySOS
	}

	m.rt.Emit(wire.EventEmergencyAlert, wire.EmergencyAlert{
		RideID:      cur.ID,
		RiderID:     cur.RiderID,
		Type:        alertType,
		Location:    wire.GeoPoint(loc),
		Reason:      reason,
		Description: description,
	})
	m.notify.Confirm("Emergency alert sent", "Help is being notified")
	return nil
}

// FetchNotifications requests the rider's notification feed.
func (m *Machine) FetchNotifications(ctx context.Context) error {
	riderID := m.sessions.UserID(ctx)
	if riderID == "" {
		return apperrors.ErrNoUserID
	}
	m.rt.Emit(wire.EventGetNotifications, wire.GetNotifications{RiderID: riderID})
	return nil
}

// MarkNotificationRead marks one notification as read.
func (m *Machine) MarkNotificationRead(ctx context.Context, notificationID string) error {
	riderID := m.sessions.UserID(ctx)
	if riderID == "" {
		return apperrors.ErrNoUserID
	}
	m.rt.Emit(wire.EventMarkNotificationRead, wire.MarkNotificationRead{
		NotificationID: notificationID,
		RiderID:        riderID,
	})
	return nil
}

// Restore loads a persisted snapshot into memory at app start and
// navigates to the view matching its status. Best-effort local recovery;
// SyncFromBackend reconciles once the network is up.
func (m *Machine) Restore(ctx context.Context) error {
	var r Ride
	status, err := m.sessions.LoadSnapshot(ctx, &r)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil
		}
		m.logger.Warn("Could not restore ride snapshot", logger.Err(err))
		return nil
	}

	s := Status(status)
	if !s.IsValid() || s.IsTerminal() {
		_ = m.sessions.ClearSnapshot(ctx)
		return nil
	}
	r.Status = s

	m.mu.Lock()
	m.cur = &r
	snapshot := r.Clone()
	m.mu.Unlock()

	m.rideSrc.Set(snapshot)
	m.phaseSrc.Set(PhaseFor(s))

	switch PhaseFor(s) {
	case PhaseSearching:
		m.nav.Go(shell.ViewSearch)
	case PhaseAccepted, PhaseArrived:
		m.nav.Go(shell.ViewDriver)
	case PhaseInProgress:
		m.nav.Go(shell.ViewActiveRide)
	}

	m.logger.Info("Restored ride from snapshot",
		logger.String("ride_id", r.ID),
		logger.String("status", status),
	)
	return nil
}

// SyncFromBackend fetches the authoritative ride state and overwrites
// whatever local recovery produced. The backend wins.
func (m *Machine) SyncFromBackend(ctx context.Context) error {
	if m.backend == nil {
		return nil
	}
	riderID := m.sessions.UserID(ctx)
	if riderID == "" {
		return apperrors.ErrNoUserID
	}

	remote, err := m.backend.ActiveRide(ctx, riderID)
	if err != nil {
		if apperrors.GetAppError(err).Code == "NOT_FOUND" {
			// no active ride server-side: local state is stale
			m.clear()
			return nil
		}
		m.logger.Warn("Ride sync failed", logger.Err(err))
		return err
	}
	if remote == nil || remote.Status.IsTerminal() {
		m.clear()
		return nil
	}

	m.mu.Lock()
	m.cur = remote.Clone()
	snapshot := m.cur.Clone()
	m.mu.Unlock()

	m.rideSrc.Set(snapshot)
	m.phaseSrc.Set(PhaseFor(snapshot.Status))
	m.persist()

	m.logger.Info("Ride state synced from backend",
		logger.String("ride_id", snapshot.ID),
		logger.String("status", string(snapshot.Status)),
	)
	return nil
}

// Read accessors. Values are copies; streams are subscribe-only.

// CurrentRide returns a copy of the current ride, nil when idle.
func (m *Machine) CurrentRide() *Ride {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur.Clone()
}

// CurrentPhase returns the current client phase.
func (m *Machine) CurrentPhase() Phase {
	return m.phaseSrc.Get()
}

// SubscribeRide observes ride state changes.
func (m *Machine) SubscribeRide(buf int) *stream.Subscription[*Ride] {
	return m.rideSrc.Subscribe(buf)
}

// SubscribePhase observes phase changes.
func (m *Machine) SubscribePhase(buf int) *stream.Subscription[Phase] {
	return m.phaseSrc.Subscribe(buf)
}

// SubscribeDriverPosition observes live driver location samples.
func (m *Machine) SubscribeDriverPosition(buf int) *stream.Subscription[DriverPosition] {
	return m.driverSrc.Subscribe(buf)
}

// SubscribeETA observes driver ETA updates, in minutes.
func (m *Machine) SubscribeETA(buf int) *stream.Subscription[int] {
	return m.etaSrc.Subscribe(buf)
}

// SubscribeErrors observes ride-level errors.
func (m *Machine) SubscribeErrors(buf int) *stream.Subscription[Error] {
	return m.errSrc.Subscribe(buf)
}

// SubscribeNotifications observes the notification feed.
func (m *Machine) SubscribeNotifications(buf int) *stream.Subscription[[]wire.Notification] {
	return m.notifSrc.Subscribe(buf)
}

func driverFromWire(d wire.Driver) *DriverInfo {
	return &DriverInfo{
		ID:         d.ID,
		Name:       d.Name,
		Phone:      d.Phone,
		Rating:     d.Rating,
		TotalTrips: d.TotalTrips,
		Vehicle:    VehicleInfo(d.Vehicle),
	}
}
