// Package booking prepares a ride request: service catalog, fare
// quotes, pinned addresses. Read paths are cached in the session store
// with short TTLs so repeated screens don't refetch.
package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocomet/rider-app/internal/config"
	"github.com/gocomet/rider-app/internal/restapi"
	"github.com/gocomet/rider-app/internal/ride"
	"github.com/gocomet/rider-app/internal/session"
	apperrors "github.com/gocomet/rider-app/pkg/errors"
	"github.com/gocomet/rider-app/pkg/logger"
)

// Catalog is the backend surface booking reads from.
type Catalog interface {
	VehicleServices(ctx context.Context) ([]restapi.VehicleService, error)
	FareQuote(ctx context.Context, req restapi.FareRequest) (*restapi.FareQuote, error)
}

// Requester hands a prepared request to the ride lifecycle.
type Requester interface {
	RequestRide(ctx context.Context, details ride.RequestDetails) error
}

// Service coordinates the booking flow.
type Service struct {
	api      Catalog
	machine  Requester
	sessions *session.Manager
	ttls     config.CacheConfig
	logger   *logger.Logger
}

// NewService creates the booking service.
func NewService(api Catalog, machine Requester, sessions *session.Manager, ttls config.CacheConfig, log *logger.Logger) *Service {
	return &Service{
		api:      api,
		machine:  machine,
		sessions: sessions,
		ttls:     ttls,
		logger:   log,
	}
}

// Services returns the bookable vehicle classes, cached.
func (s *Service) Services(ctx context.Context) ([]restapi.VehicleService, error) {
	var cached []restapi.VehicleService
	if err := s.sessions.GetCached(ctx, session.KeyVehicleServices, &cached); err == nil {
		return cached, nil
	}

	services, err := s.api.VehicleServices(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.PutCached(ctx, session.KeyVehicleServices, services, s.ttls.TTLVehicleServices); err != nil {
		s.logger.Warn("Failed to cache vehicle services", logger.Err(err))
	}
	return services, nil
}

type cachedQuote struct {
	Request restapi.FareRequest `json:"request"`
	Quote   restapi.FareQuote   `json:"quote"`
}

// Quote returns a fare estimate. The most recent quote is cached and
// returned without a round trip when the same trip is asked again
// within the TTL.
func (s *Service) Quote(ctx context.Context, req restapi.FareRequest) (*restapi.FareQuote, error) {
	var c cachedQuote
	if err := s.sessions.GetCached(ctx, session.KeyFareQuote, &c); err == nil && c.Request == req {
		return &c.Quote, nil
	}

	quote, err := s.api.FareQuote(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.PutCached(ctx, session.KeyFareQuote, cachedQuote{Request: req, Quote: *quote}, s.ttls.TTLFareQuotes); err != nil {
		s.logger.Warn("Failed to cache fare quote", logger.Err(err))
	}
	return quote, nil
}

// PinnedAddress is a saved location the rider books from often.
type PinnedAddress struct {
	Label    string        `json:"label"`
	Address  string        `json:"address"`
	Location ride.Location `json:"location"`
}

// PinnedAddresses returns the rider's saved locations.
func (s *Service) PinnedAddresses(ctx context.Context) ([]PinnedAddress, error) {
	var pins []PinnedAddress
	if err := s.sessions.GetCached(ctx, session.KeyPinnedAddresses, &pins); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return pins, nil
}

// PinAddress saves a location, replacing any existing pin with the
// same label.
func (s *Service) PinAddress(ctx context.Context, pin PinnedAddress) error {
	if pin.Label == "" {
		return apperrors.Validation("Pinned address needs a label", nil)
	}
	pins, err := s.PinnedAddresses(ctx)
	if err != nil {
		return err
	}
	replaced := false
	for i := range pins {
		if pins[i].Label == pin.Label {
			pins[i] = pin
			replaced = true
			break
		}
	}
	if !replaced {
		pins = append(pins, pin)
	}
	return s.sessions.PutCached(ctx, session.KeyPinnedAddresses, pins, s.ttls.TTLPinnedAddresses)
}

// Request describes the ride the rider wants to book.
type Request struct {
	Pickup         ride.Location
	Dropoff        ride.Location
	PickupAddress  string
	DropoffAddress string
	Service        string
	RideType       string
	PaymentMethod  string
}

// Book quotes the trip and hands the request to the ride lifecycle.
func (s *Service) Book(ctx context.Context, req Request) error {
	if req.Service == "" {
		return apperrors.Validation("Select a vehicle service", nil)
	}

	quote, err := s.Quote(ctx, restapi.FareRequest{
		Pickup:  req.Pickup,
		Dropoff: req.Dropoff,
		Service: req.Service,
	})
	if err != nil {
		return fmt.Errorf("quote fare: %w", err)
	}

	return s.machine.RequestRide(ctx, ride.RequestDetails{
		Pickup:         req.Pickup,
		Dropoff:        req.Dropoff,
		PickupAddress:  req.PickupAddress,
		DropoffAddress: req.DropoffAddress,
		Fare:           quote.Fare,
		DistanceKM:     quote.DistanceKM,
		Service:        req.Service,
		RideType:       req.RideType,
		PaymentMethod:  req.PaymentMethod,
	})
}
