// Package wire defines the realtime protocol shared by the rider client
// and the backend: event names and the JSON payloads carried under them.
// Event names are the wire contract; renaming one is a breaking change.
package wire

import (
	"encoding/json"
	"time"
)

// Outbound events (rider -> server)
const (
	EventNewRideRequest       = "newRideRequest"
	EventRideCancelledOut     = "rideCancelled"
	EventSubmitRating         = "submitRating"
	EventSendMessage          = "sendMessage"
	EventEmergencyAlert       = "emergencyAlert"
	EventGetNotifications     = "getNotifications"
	EventMarkNotificationRead = "markNotificationRead"
	EventRiderConnect         = "riderConnect"
	EventRiderDisconnect      = "riderDisconnect"
)

// Inbound events (server -> rider)
const (
	EventConnected              = "connected"
	EventRideRequested          = "rideRequested"
	EventNoDriverFound          = "noDriverFound"
	EventRideAccepted           = "rideAccepted"
	EventDriverLocationUpdate   = "driverLocationUpdate"
	EventDriverArrived          = "driverArrived"
	EventRideStarted            = "rideStarted"
	EventRideLocationUpdate     = "rideLocationUpdate"
	EventRideCompleted          = "rideCompleted"
	EventRideCancelled          = "rideCancelled"
	EventRatingSubmitted        = "ratingSubmitted"
	EventRideError              = "rideError"
	EventMessageError           = "messageError"
	EventEmergencyError         = "emergencyError"
	EventRatingError            = "ratingError"
	EventNotifications          = "notifications"
	EventNotificationMarkedRead = "notificationMarkedRead"
)

// Connection identification query parameters.
const (
	ParamUserID   = "userId"
	ParamUserType = "userType"

	UserTypeRider = "rider"
)

// Envelope frames every message on the socket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals v under the given event name.
func NewEnvelope(event string, v interface{}) (Envelope, error) {
	if v == nil {
		return Envelope{Event: event}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Connected is the server hello carrying the session socket id.
type Connected struct {
	SocketID string `json:"socket_id"`
}

// RiderConnect registers the rider after every successful connect.
type RiderConnect struct {
	RiderID string `json:"rider_id"`
}

// RiderDisconnect is the best-effort going-offline notice.
type RiderDisconnect struct {
	RiderID string `json:"rider_id"`
}

// RideRequest asks the backend to match a driver.
type RideRequest struct {
	RequestID      string   `json:"request_id"`
	RiderID        string   `json:"rider_id"`
	Pickup         GeoPoint `json:"pickup_location"`
	Dropoff        GeoPoint `json:"dropoff_location"`
	PickupAddress  string   `json:"pickup_address"`
	DropoffAddress string   `json:"dropoff_address"`
	Fare           float64  `json:"fare"`
	DistanceKM     float64  `json:"distance_km"`
	Service        string   `json:"service"`
	RideType       string   `json:"ride_type"`
	PaymentMethod  string   `json:"payment_method"`
}

// RideRequested acknowledges a ride request; the search has begun.
type RideRequested struct {
	RideID    string `json:"ride_id"`
	RequestID string `json:"request_id,omitempty"`
	StartOTP  string `json:"start_otp,omitempty"`
	StopOTP   string `json:"stop_otp,omitempty"`
	Message   string `json:"message,omitempty"`
}

// NoDriverFound ends the search without a match.
type NoDriverFound struct {
	RideID  string `json:"ride_id,omitempty"`
	Message string `json:"message"`
}

// DriverVehicle describes the assigned driver's vehicle.
type DriverVehicle struct {
	Make         string `json:"make"`
	Model        string `json:"model"`
	Color        string `json:"color"`
	LicensePlate string `json:"license_plate"`
}

// Driver is the driver info attached at acceptance.
type Driver struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Phone      string        `json:"phone"`
	Rating     float64       `json:"rating"`
	TotalTrips int           `json:"total_trips"`
	Vehicle    DriverVehicle `json:"vehicle_info"`
}

// RideAccepted carries the driver assignment.
type RideAccepted struct {
	RideID     string `json:"ride_id"`
	Driver     Driver `json:"driver"`
	ETAMinutes int    `json:"eta_minutes,omitempty"`
}

// DriverLocation is a live position update for the assigned driver.
type DriverLocation struct {
	RideID         string    `json:"ride_id"`
	Location       GeoPoint  `json:"location"`
	HeadingDegrees float64   `json:"heading_degrees,omitempty"`
	SpeedKMH       float64   `json:"speed_kmh,omitempty"`
	ETAMinutes     int       `json:"eta_minutes,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// DriverArrived tells the rider the driver is at the pickup point.
type DriverArrived struct {
	RideID   string `json:"ride_id"`
	StartOTP string `json:"start_otp,omitempty"`
	Message  string `json:"message,omitempty"`
}

// RideStarted confirms the trip is underway.
type RideStarted struct {
	RideID    string    `json:"ride_id"`
	StartedAt time.Time `json:"started_at"`
}

// RideCompleted ends the trip.
type RideCompleted struct {
	RideID     string    `json:"ride_id"`
	Fare       float64   `json:"fare,omitempty"`
	DistanceKM float64   `json:"distance_km,omitempty"`
	EndedAt    time.Time `json:"ended_at"`
}

// CancelRide is the rider's cancellation command.
type CancelRide struct {
	RideID  string `json:"ride_id"`
	RiderID string `json:"rider_id"`
	Reason  string `json:"reason"`
}

// RideCancelledNotice confirms a cancellation (rider- or driver-initiated).
type RideCancelledNotice struct {
	RideID      string `json:"ride_id"`
	Reason      string `json:"reason,omitempty"`
	CancelledBy string `json:"cancelled_by,omitempty"`
}

// SubmitRating rates the completed ride.
type SubmitRating struct {
	RideID  string   `json:"ride_id"`
	RiderID string   `json:"rider_id"`
	Rating  int      `json:"rating"`
	Review  string   `json:"review,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// RatingSubmitted acknowledges a rating.
type RatingSubmitted struct {
	RideID string `json:"ride_id"`
}

// ChatMessage is an in-ride message to the driver.
type ChatMessage struct {
	RideID     string    `json:"ride_id"`
	SenderID   string    `json:"sender_id"`
	SenderType string    `json:"sender_type"`
	Type       string    `json:"type"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sent_at"`
}

// Chat message types.
const (
	MessageTypeText     = "text"
	MessageTypeQuick    = "quick_reply"
	MessageTypeLocation = "location"
)

// EmergencyAlert raises an in-ride emergency.
type EmergencyAlert struct {
	RideID      string   `json:"ride_id"`
	RiderID     string   `json:"rider_id"`
	Type        string   `json:"type"`
	Location    GeoPoint `json:"location"`
	Reason      string   `json:"reason"`
	Description string   `json:"description,omitempty"`
}

// Emergency alert types.
const (
	EmergencySOS      = "sos"
	EmergencySafety   = "safety"
	EmergencyAccident = "accident"
	EmergencyMedical  = "medical"
)

// Error is the payload of every server-sent *Error event.
type Error struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// GetNotifications requests the rider's notification list.
type GetNotifications struct {
	RiderID string `json:"rider_id"`
}

// Notification is one entry in the notification feed.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifications is the full feed response.
type Notifications struct {
	Notifications []Notification `json:"notifications"`
}

// MarkNotificationRead marks a single notification as read.
type MarkNotificationRead struct {
	NotificationID string `json:"notification_id"`
	RiderID        string `json:"rider_id"`
}

// NotificationMarkedRead acknowledges MarkNotificationRead.
type NotificationMarkedRead struct {
	NotificationID string `json:"notification_id"`
}
