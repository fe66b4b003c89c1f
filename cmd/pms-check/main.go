package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"staybook/config"
	"staybook/internal/core"
	"staybook/internal/logging"
	"staybook/internal/pms"
	"staybook/internal/storage/sqlite"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.json", "Path to configuration file")
	roomSlug := flag.String("room", "", "Room slug to check (required)")
	start := flag.String("start", "", "Arrival date, YYYY-MM-DD (required)")
	end := flag.String("end", "", "Departure date, YYYY-MM-DD (required)")
	adults := flag.Int("adults", 2, "Number of adults")
	children := flag.Int("children", 0, "Number of children")
	refreshToken := flag.String("refresh-token", "", "PMS refresh token, overrides the configured one")
	verbose := flag.Bool("v", false, "Log PMS client activity")
	flag.Parse()

	if *roomSlug == "" || *start == "" || *end == "" {
		log.Fatal("Error: -room, -start and -end are required\n\n" +
			"Example:\n" +
			"  pms-check -config config.json -room deluxe -start 2026-07-01 -end 2026-07-05 -adults 2\n")
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var room *config.RoomConfig
	for i := range cfg.Rooms {
		if cfg.Rooms[i].Slug == *roomSlug {
			room = &cfg.Rooms[i]
			break
		}
	}
	if room == nil {
		log.Fatalf("Room %q is not configured", *roomSlug)
	}

	r, err := core.ParseDateRange(*start, *end)
	if err != nil {
		log.Fatalf("Invalid date range: %v", err)
	}
	guests := core.Guests{Adults: *adults, Children: *children}

	level := "error"
	if *verbose {
		level = "debug"
	}
	logger := logging.NewLogger(logging.LoggerConfig{Format: "text", Level: logging.ParseLevel(level)})

	// Temporary in-memory database for token storage
	db, err := sqlite.New(":memory:")
	if err != nil {
		log.Fatalf("Failed to create in-memory database: %v", err)
	}
	defer db.Close()

	seed := cfg.PMS.RefreshToken
	if *refreshToken != "" {
		seed = *refreshToken
		now := time.Now()
		if err := db.SavePMSTokens(context.Background(), &pms.Tokens{
			RefreshToken: seed,
			CreatedAt:    now,
			UpdatedAt:    now,
		}); err != nil {
			log.Fatalf("Failed to save refresh token: %v", err)
		}
	}

	tokens := pms.NewTokenManager(pms.TokenConfig{
		BaseURL:        cfg.PMS.BaseURL,
		LongLivedToken: cfg.PMS.LongLivedToken,
		RefreshToken:   seed,
		SafetyMargin:   cfg.PMS.TokenSafetyMargin.Std(),
		RefreshTimeout: cfg.PMS.RefreshTimeout.Std(),
	}, db, logger)

	client, err := pms.NewClient(pms.ClientConfig{
		BaseURL:             cfg.PMS.BaseURL,
		RequestTimeout:      cfg.PMS.RequestTimeout.Std(),
		Endpoints:           cfg.PMS.Endpoints,
		MaxRateLimitRetries: cfg.PMS.MaxRateLimitRetries,
		BackoffBase:         cfg.PMS.BackoffBase.Std(),
		BackoffMax:          cfg.PMS.BackoffMax.Std(),
	}, tokens, logger)
	if err != nil {
		log.Fatalf("Failed to create PMS client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	fmt.Printf("Checking PMS at %s\n", cfg.PMS.BaseURL)
	fmt.Printf("Room: %s (%s)\n", room.Slug, room.Key())
	fmt.Printf("Stay: %s, %d nights, %d adults, %d children\n", r, r.Nights(), guests.Adults, guests.Children)
	fmt.Printf("Auth mode: %s\n\n", tokens.Mode())

	q := pms.Query{Room: room.Key(), Range: r, Guests: guests}
	for _, name := range client.Endpoints() {
		ep, err := pms.NewEndpoint(name)
		if err != nil {
			log.Fatalf("Unknown endpoint %q: %v", name, err)
		}
		res := client.Try(ctx, ep, q)
		switch res.Outcome {
		case pms.OutcomeSuccess:
			fmt.Printf("[ok]   %-9s %d available, %d booked\n",
				ep.Name(), len(res.Result.Available), len(res.Result.Booked))
		case pms.OutcomeFatal:
			fmt.Printf("[fail] %-9s %v (stops the cascade)\n", ep.Name(), res.Err)
		default:
			fmt.Printf("[skip] %-9s %v\n", ep.Name(), res.Err)
		}
	}

	fmt.Printf("\nFull cascade:\n")
	result, err := client.GetInventory(ctx, room.Key(), r, guests)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	printResult(result)
}

func printResult(result *core.AvailabilityResult) {
	fmt.Printf("Source: %s (guest inclusive: %t)\n", result.Source, result.GuestInclusive)
	fmt.Printf("Bookable: %t\n", result.IsBookable())
	if result.MinStay > 0 || result.MaxStay > 0 {
		fmt.Printf("Stay limits: min %d, max %d\n", result.MinStay, result.MaxStay)
	}

	nights := make([]string, 0, len(result.Prices))
	for night := range result.Prices {
		nights = append(nights, night)
	}
	sort.Strings(nights)
	for _, night := range nights {
		fmt.Printf("  %s  %10.2f\n", night, result.Prices[night])
	}
	for _, night := range result.Booked {
		fmt.Printf("  %s  booked\n", night)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, config.ErrConfigFileNotFound) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	fmt.Printf("Config file not found at %s, trying environment variables...\n", path)
	cfg, err = config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	return cfg, nil
}
