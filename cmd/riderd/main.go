// riderd is a headless rider client: it logs in, books a ride against
// the backend (the simulator in development), and follows the ride
// lifecycle to completion, logging every transition. Useful for demos
// and for soaking the realtime path end to end.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/gocomet/rider-app/internal/account"
	"github.com/gocomet/rider-app/internal/booking"
	"github.com/gocomet/rider-app/internal/config"
	"github.com/gocomet/rider-app/internal/restapi"
	"github.com/gocomet/rider-app/internal/ride"
	"github.com/gocomet/rider-app/internal/session"
	"github.com/gocomet/rider-app/internal/shell"
	"github.com/gocomet/rider-app/internal/transport"
	"github.com/gocomet/rider-app/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting rider client",
		logger.String("env", cfg.App.Env),
		logger.String("api", cfg.API.BaseURL),
		logger.String("realtime", cfg.Realtime.URL),
	)

	var store session.Store
	if cfg.Session.Backend == "redis" {
		redisStore, err := session.NewRedisStore(session.RedisConfig{
			Host:        cfg.Redis.Host,
			Port:        cfg.Redis.Port,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			MaxRetries:  cfg.Redis.MaxRetries,
			PoolSize:    cfg.Redis.PoolSize,
			MinIdleConn: cfg.Redis.MinIdleConn,
			DialTimeout: cfg.Redis.DialTimeout,
			ReadTimeout: cfg.Redis.ReadTimeout,
			KeyPrefix:   cfg.Session.KeyPrefix,
		})
		if err != nil {
			appLogger.Fatal("Failed to connect to Redis", logger.Err(err))
		}
		defer redisStore.Close()
		store = redisStore
		appLogger.Info("Session store: redis")
	} else {
		store = session.NewMemoryStore()
		appLogger.Info("Session store: memory")
	}

	sessions := session.NewManager(store, appLogger)
	sh := shell.NewLogShell(appLogger)

	rt := transport.New(transport.Config{
		URL:                  cfg.Realtime.URL,
		ReconnectBaseDelay:   cfg.Realtime.ReconnectBaseDelay,
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
		OnceTimeout:          cfg.Realtime.OnceTimeout,
		WriteTimeout:         cfg.Realtime.WriteTimeout,
		PongWait:             cfg.Realtime.PongWait,
	}, sessions, appLogger)

	api := restapi.NewClient(cfg.API.BaseURL, cfg.API.Timeout, sessions, appLogger)
	machine := ride.NewMachine(rt, api, sessions, sh, sh, appLogger)
	trips := booking.NewService(api, machine, sessions, cfg.Cache, appLogger)
	ctrl := account.NewController(rt, machine, api, sessions, sh, sh, cfg.Account, appLogger)

	riderID := os.Getenv("RIDER_ID")
	if riderID == "" {
		riderID = "rider-" + uuid.NewString()[:8]
	}

	ctx := context.Background()
	if err := ctrl.Login(ctx, &session.User{
		ID:    riderID,
		Token: uuid.NewString(),
	}); err != nil {
		appLogger.Fatal("Login failed", logger.Err(err))
	}
	appLogger.Info("Logged in", logger.String("rider_id", riderID))

	phases := machine.SubscribePhase(16)
	defer phases.Cancel()
	errs := machine.SubscribeErrors(16)
	defer errs.Cancel()

	completed := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case phase, ok := <-phases.C:
				if !ok {
					return
				}
				appLogger.Info("Ride phase", logger.String("phase", string(phase)))
				if phase == ride.PhaseCompleted {
					select {
					case completed <- struct{}{}:
					default:
					}
				}
			case e, ok := <-errs.C:
				if !ok {
					return
				}
				appLogger.Warn("Ride error",
					logger.String("source", e.Source),
					logger.String("message", e.Message),
				)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	if os.Getenv("DEMO_RIDE") != "false" {
		go runDemoRide(ctx, trips, machine, completed, appLogger)
	}

	<-quit
	appLogger.Info("Shutting down...")
	if err := ctrl.Logout(ctx); err != nil {
		appLogger.Error("Logout failed", logger.Err(err))
	}
	appLogger.Info("Rider client stopped")
}

// runDemoRide books one scripted trip and rates it when it completes.
func runDemoRide(ctx context.Context, trips *booking.Service, machine *ride.Machine, completed chan struct{}, appLogger *logger.Logger) {
	services, err := trips.Services(ctx)
	if err != nil {
		appLogger.Error("Failed to fetch vehicle services", logger.Err(err))
		return
	}
	if len(services) == 0 {
		appLogger.Error("No vehicle services available")
		return
	}
	appLogger.Info("Vehicle services loaded", logger.Int("count", len(services)))

	err = trips.Book(ctx, booking.Request{
		Pickup:         ride.Location{Latitude: 12.9716, Longitude: 77.5946},
		Dropoff:        ride.Location{Latitude: 12.9352, Longitude: 77.6245},
		PickupAddress:  "MG Road",
		DropoffAddress: "Koramangala",
		Service:        services[0].ID,
		RideType:       "standard",
		PaymentMethod:  "cash",
	})
	if err != nil {
		appLogger.Error("Booking failed", logger.Err(err))
		return
	}

	select {
	case <-completed:
	case <-time.After(5 * time.Minute):
		appLogger.Warn("Ride did not complete in time")
		return
	}

	if err := machine.SubmitRating(ctx, 5, "Smooth ride", []string{"polite", "clean_car"}); err != nil {
		appLogger.Error("Rating failed", logger.Err(err))
	}
}
