package booking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocomet/rider-app/internal/config"
	"github.com/gocomet/rider-app/internal/restapi"
	"github.com/gocomet/rider-app/internal/ride"
	"github.com/gocomet/rider-app/internal/session"
	apperrors "github.com/gocomet/rider-app/pkg/errors"
	"github.com/gocomet/rider-app/pkg/logger"
)

type fakeCatalog struct {
	serviceCalls int
	quoteCalls   int
	services     []restapi.VehicleService
	quote        restapi.FareQuote
	err          error
}

func (f *fakeCatalog) VehicleServices(ctx context.Context) ([]restapi.VehicleService, error) {
	f.serviceCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.services, nil
}

func (f *fakeCatalog) FareQuote(ctx context.Context, req restapi.FareRequest) (*restapi.FareQuote, error) {
	f.quoteCalls++
	if f.err != nil {
		return nil, f.err
	}
	q := f.quote
	q.Service = req.Service
	return &q, nil
}

type fakeRequester struct {
	details []ride.RequestDetails
	err     error
}

func (f *fakeRequester) RequestRide(ctx context.Context, details ride.RequestDetails) error {
	f.details = append(f.details, details)
	return f.err
}

func testTTLs() config.CacheConfig {
	return config.CacheConfig{
		TTLVehicleServices: time.Hour,
		TTLFareQuotes:      2 * time.Minute,
		TTLPinnedAddresses: 24 * time.Hour,
	}
}

func newTestService(catalog *fakeCatalog, requester *fakeRequester) *Service {
	sessions := session.NewManager(session.NewMemoryStore(), logger.Nop())
	return NewService(catalog, requester, sessions, testTTLs(), logger.Nop())
}

func TestServicesCached(t *testing.T) {
	catalog := &fakeCatalog{services: []restapi.VehicleService{
		{ID: "mini", Name: "Mini", BaseFare: 40},
		{ID: "sedan", Name: "Sedan", BaseFare: 60},
	}}
	svc := newTestService(catalog, &fakeRequester{})
	ctx := context.Background()

	first, err := svc.Services(ctx)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	second, err := svc.Services(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, catalog.serviceCalls)
}

func TestQuoteCachedForSameTrip(t *testing.T) {
	catalog := &fakeCatalog{quote: restapi.FareQuote{Fare: 120, DistanceKM: 6.5}}
	svc := newTestService(catalog, &fakeRequester{})
	ctx := context.Background()

	req := restapi.FareRequest{
		Pickup:  ride.Location{Latitude: 12.97, Longitude: 77.59},
		Dropoff: ride.Location{Latitude: 12.93, Longitude: 77.62},
		Service: "mini",
	}

	q1, err := svc.Quote(ctx, req)
	require.NoError(t, err)
	q2, err := svc.Quote(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, q1.Fare, q2.Fare)
	assert.Equal(t, 1, catalog.quoteCalls)

	// A different trip is a cache miss.
	req.Service = "sedan"
	_, err = svc.Quote(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, catalog.quoteCalls)
}

func TestBookHandsQuoteToMachine(t *testing.T) {
	catalog := &fakeCatalog{quote: restapi.FareQuote{Fare: 184.5, DistanceKM: 9.3}}
	requester := &fakeRequester{}
	svc := newTestService(catalog, requester)

	err := svc.Book(context.Background(), Request{
		Pickup:         ride.Location{Latitude: 12.97, Longitude: 77.59},
		Dropoff:        ride.Location{Latitude: 12.93, Longitude: 77.62},
		PickupAddress:  "MG Road",
		DropoffAddress: "Koramangala",
		Service:        "sedan",
		RideType:       "standard",
		PaymentMethod:  "cash",
	})
	require.NoError(t, err)

	require.Len(t, requester.details, 1)
	d := requester.details[0]
	assert.Equal(t, 184.5, d.Fare)
	assert.Equal(t, 9.3, d.DistanceKM)
	assert.Equal(t, "sedan", d.Service)
	assert.Equal(t, "MG Road", d.PickupAddress)
}

func TestBookRequiresService(t *testing.T) {
	requester := &fakeRequester{}
	svc := newTestService(&fakeCatalog{}, requester)

	err := svc.Book(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, apperrors.IsAppError(err))
	assert.Empty(t, requester.details)
}

func TestPinnedAddresses(t *testing.T) {
	svc := newTestService(&fakeCatalog{}, &fakeRequester{})
	ctx := context.Background()

	pins, err := svc.PinnedAddresses(ctx)
	require.NoError(t, err)
	assert.Empty(t, pins)

	require.NoError(t, svc.PinAddress(ctx, PinnedAddress{
		Label:    "home",
		Address:  "12 Residency Rd",
		Location: ride.Location{Latitude: 12.96, Longitude: 77.60},
	}))
	require.NoError(t, svc.PinAddress(ctx, PinnedAddress{
		Label:   "work",
		Address: "Embassy Tech Village",
	}))

	// Same label replaces.
	require.NoError(t, svc.PinAddress(ctx, PinnedAddress{
		Label:   "home",
		Address: "14 Residency Rd",
	}))

	pins, err = svc.PinnedAddresses(ctx)
	require.NoError(t, err)
	require.Len(t, pins, 2)
	assert.Equal(t, "14 Residency Rd", pins[0].Address)
}

func TestPinAddressNeedsLabel(t *testing.T) {
	svc := newTestService(&fakeCatalog{}, &fakeRequester{})
	err := svc.PinAddress(context.Background(), PinnedAddress{Address: "nowhere"})
	require.Error(t, err)
}
