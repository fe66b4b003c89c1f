package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"staybook/config"
	"staybook/internal/api"
	"staybook/internal/api/middleware"
	"staybook/internal/availability"
	"staybook/internal/cache"
	"staybook/internal/core"
	"staybook/internal/logging"
	"staybook/internal/pms"
	"staybook/internal/rooms"
	"staybook/internal/storage/sqlite"
)

const (
	shutdownTimeout   = 10 * time.Second
	defaultConfigPath = "config.json"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Parse command-line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	useEnv := flag.Bool("env", false, "Load configuration from environment variables")
	flag.Parse()

	// Load configuration
	var cfg *config.Config
	var err error

	if *useEnv {
		cfg, err = config.LoadFromEnv()
	} else {
		cfg, err = config.Load(*configPath)
	}

	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(logging.LoggerConfig{
		Format: cfg.Logging.Format,
		Level:  logging.ParseLevel(cfg.Logging.Level),
	})
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"rooms", len(cfg.Rooms),
		"pms_endpoints", cfg.PMS.Endpoints)

	// Initialize database
	logger.Info("Initializing SQLite database", "path", cfg.Database.Path)
	db, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	// PMS client
	tokens := pms.NewTokenManager(pms.TokenConfig{
		BaseURL:        cfg.PMS.BaseURL,
		LongLivedToken: cfg.PMS.LongLivedToken,
		RefreshToken:   cfg.PMS.RefreshToken,
		SafetyMargin:   cfg.PMS.TokenSafetyMargin.Std(),
		RefreshTimeout: cfg.PMS.RefreshTimeout.Std(),
	}, db, logger)
	logger.Info("PMS auth configured", "mode", tokens.Mode())

	client, err := pms.NewClient(pms.ClientConfig{
		BaseURL:             cfg.PMS.BaseURL,
		RequestTimeout:      cfg.PMS.RequestTimeout.Std(),
		Endpoints:           cfg.PMS.Endpoints,
		RequestsPerSecond:   cfg.PMS.RequestsPerSecond,
		Burst:               cfg.PMS.Burst,
		MaxRateLimitRetries: cfg.PMS.MaxRateLimitRetries,
		BackoffBase:         cfg.PMS.BackoffBase.Std(),
		BackoffMax:          cfg.PMS.BackoffMax.Std(),
	}, tokens, logger)
	if err != nil {
		return fmt.Errorf("failed to create PMS client: %w", err)
	}
	source := logging.NewInventoryLogger(client, logger)

	// Availability cache
	availabilityCache := cache.New(cache.Config{DefaultTTL: cfg.Cache.NearTermTTL.Std()}, logger)
	sweeper := cache.NewSweeper(availabilityCache, cfg.Cache.SweepInterval.Std(), logger)
	go sweeper.Start()

	service := availability.NewService(availabilityCache, source, availability.TTLPolicy{
		NearTermTTL:    cfg.Cache.NearTermTTL.Std(),
		FarTermTTL:     cfg.Cache.FarTermTTL.Std(),
		NearTermWindow: cfg.Cache.NearTermWindow.Std(),
	}, logger)
	batch := availability.NewBatchCoordinator(service, cfg.Cache.BatchConcurrency, logger)

	// Rooms
	registry := rooms.NewRegistry()
	for _, room := range cfg.Rooms {
		if err := registry.Register(&core.Room{
			Slug:    room.Slug,
			Name:    room.Name,
			Key:     room.Key(),
			Pricing: cfg.RoomPricing(room),
		}); err != nil {
			return fmt.Errorf("failed to register room %q: %w", room.Slug, err)
		}
	}
	logger.Info("Rooms registered", "count", len(registry.List()))

	// Booking manager
	calculator := core.NewPriceCalculator(cfg.Pricing.Tiers, registry.Pricing(), cfg.Pricing.DefaultRoom.ToCore())
	manager := logging.NewBookingManagerLogger(
		core.NewBookingManager(db, service, registry, calculator, cfg.Pricing.Loyalty),
		logger,
	)

	var limiter *middleware.IPRateLimiter
	if cfg.Security.RateLimitPerSecond > 0 {
		limiter = middleware.NewIPRateLimiter(cfg.Security.RateLimitPerSecond, cfg.Security.RateLimitBurst)
	}

	// REST API
	router := api.NewRouter(api.RouterConfig{
		Manager:      manager,
		Availability: batch,
		Rooms:        registry,
		Tokens:       tokens,
		Cache:        service,
		APIKey:       cfg.Security.APIKey,
		RateLimiter:  limiter,
		Logger:       logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		sweeper.Stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("Starting graceful shutdown", "signal", sig.String())

		sweeper.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		logger.Info("Graceful shutdown complete")
	}

	return nil
}
