package ride

import (
	"time"
)

// Status represents ride status on the wire.
type Status string

const (
	StatusRequested  Status = "requested"
	StatusSearching  Status = "searching"
	StatusAccepted   Status = "accepted"
	StatusArrived    Status = "arrived"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// IsValid validates the status
func (s Status) IsValid() bool {
	switch s {
	case StatusRequested, StatusSearching, StatusAccepted, StatusArrived,
		StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the status ends the ride lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Phase is the client-side projection of ride status used for UI gating.
// Identical to Status except that "no ride" is an explicit idle phase.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSearching  Phase = "searching"
	PhaseAccepted   Phase = "accepted"
	PhaseArrived    Phase = "arrived"
	PhaseInProgress Phase = "in_progress"
	PhaseCompleted  Phase = "completed"
	PhaseCancelled  Phase = "cancelled"
)

// PhaseFor projects a ride status onto the client phase.
func PhaseFor(s Status) Phase {
	switch s {
	case StatusRequested, StatusSearching:
		return PhaseSearching
	case StatusAccepted:
		return PhaseAccepted
	case StatusArrived:
		return PhaseArrived
	case StatusInProgress:
		return PhaseInProgress
	case StatusCompleted:
		return PhaseCompleted
	case StatusCancelled:
		return PhaseCancelled
	}
	return PhaseIdle
}

// Location is a geographic coordinate.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// VehicleInfo describes the assigned driver's vehicle.
type VehicleInfo struct {
	Make         string `json:"make"`
	Model        string `json:"model"`
	Color        string `json:"color"`
	LicensePlate string `json:"license_plate"`
}

// DriverInfo is the driver attached to a ride. Owned by the ride; it has
// no lifecycle of its own.
type DriverInfo struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Phone      string      `json:"phone"`
	Rating     float64     `json:"rating"`
	TotalTrips int         `json:"total_trips"`
	Vehicle    VehicleInfo `json:"vehicle_info"`
}

// Ride is the current ride entity. Created when a booking request is
// submitted; mutated exclusively by inbound realtime events; cleared on
// completion-flow exit, cancellation or logout.
type Ride struct {
	ID             string      `json:"id"`
	RiderID        string      `json:"rider_id"`
	Driver         *DriverInfo `json:"driver,omitempty"`
	Status         Status      `json:"status"`
	Pickup         Location    `json:"pickup_location"`
	Dropoff        Location    `json:"dropoff_location"`
	PickupAddress  string      `json:"pickup_address"`
	DropoffAddress string      `json:"dropoff_address"`
	Fare           float64     `json:"fare"`
	DistanceKM     float64     `json:"distance_km"`
	Service        string      `json:"service"`
	RideType       string      `json:"ride_type"`
	PaymentMethod  string      `json:"payment_method"`
	StartOTP       string      `json:"start_otp,omitempty"`
	StopOTP        string      `json:"stop_otp,omitempty"`
	ActualStart    *time.Time  `json:"actual_start_time,omitempty"`
	ActualEnd      *time.Time  `json:"actual_end_time,omitempty"`

	// OptimisticSearch marks the locally-assumed "searching" set at
	// request time, before the server acknowledged. Cleared by the
	// rideRequested ack; reverted entirely by noDriverFound.
	OptimisticSearch bool `json:"optimistic_search,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasDriver reports whether a driver has been assigned.
func (r *Ride) HasDriver() bool {
	return r != nil && r.Driver != nil
}

// CanCancel reports whether cancellation is still reachable.
func (r *Ride) CanCancel() bool {
	return r != nil && !r.Status.IsTerminal()
}

// Clone returns a copy safe to hand to consumers. The state machine is
// the only writer; everyone else gets copies.
func (r *Ride) Clone() *Ride {
	if r == nil {
		return nil
	}
	c := *r
	if r.Driver != nil {
		d := *r.Driver
		c.Driver = &d
	}
	if r.ActualStart != nil {
		ts := *r.ActualStart
		c.ActualStart = &ts
	}
	if r.ActualEnd != nil {
		ts := *r.ActualEnd
		c.ActualEnd = &ts
	}
	return &c
}

// DriverPosition is a live driver location sample.
type DriverPosition struct {
	Location       Location  `json:"location"`
	HeadingDegrees float64   `json:"heading_degrees,omitempty"`
	SpeedKMH       float64   `json:"speed_kmh,omitempty"`
	ETAMinutes     int       `json:"eta_minutes,omitempty"`
	At             time.Time `json:"at"`
}

// RequestDetails carries everything needed to book a ride.
type RequestDetails struct {
	Pickup         Location
	Dropoff        Location
	PickupAddress  string
	DropoffAddress string
	Fare           float64
	DistanceKM     float64
	Service        string
	RideType       string
	PaymentMethod  string
}

// Error is a ride-level error surfaced on the machine's error stream.
type Error struct {
	Source  string `json:"source"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
