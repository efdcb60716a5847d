package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gocomet/rider-app/internal/config"
	"github.com/gocomet/rider-app/internal/sim"
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

	host := getEnv("SIM_HOST", "0.0.0.0")
	port := getEnv("SIM_PORT", "8080")

	appLogger.Info("Starting ride simulator",
		logger.String("env", cfg.App.Env),
		logger.String("port", port),
	)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	world := sim.NewWorld()
	bot := sim.NewBot(world, sim.Script{}, appLogger)
	server := sim.NewServer(world, bot, appLogger)

	srv := &http.Server{
		Addr:           fmt.Sprintf("%s:%s", host, port),
		Handler:        server.Router(),
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		appLogger.Info("Simulator listening", logger.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", logger.Err(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down simulator...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Simulator forced to shutdown", logger.Err(err))
	}

	appLogger.Info("Simulator stopped gracefully")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
