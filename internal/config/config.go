// README: Config loader with env defaults for HTTP, DB, Redis, Firebase, matching and tracking settings.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// PickupPolicy decides how pickup requests interact with taxi capacity.
type PickupPolicy string

const (
	// PickupPolicyCapacity gates pickups on status available and a free seat, and reserves the seat.
	PickupPolicyCapacity PickupPolicy = "capacity"
	// PickupPolicyStatus admits pickups while the taxi is available or full without reserving a seat.
	PickupPolicyStatus PickupPolicy = "status"
)

type MatchingConfig struct {
	PickupPolicy PickupPolicy `validate:"oneof=capacity status"`
	RadiusKm     float64      `validate:"gt=0"`
	Ranker       string       `validate:"oneof=stops distance age"`
	// MaxStops hides requests further ahead than this; 0 turns the limit off.
	MaxStops int `validate:"gte=0"`
}

type TrackingConfig struct {
	SendBuffer   int           `validate:"gt=0"`
	EventBuffer  int           `validate:"gt=0"`
	PingInterval time.Duration `validate:"gt=0"`
}

type PricingConfig struct {
	BaseFare int64  `validate:"gte=0"`
	PerStop  int64  `validate:"gte=0"`
	Currency string `validate:"required,len=3"`
}

type Config struct {
	LogLevel slog.Level
	HTTP     struct {
		Addr            string        `validate:"required"`
		ShutdownTimeout time.Duration `validate:"gt=0"`
		RateLimitPerMin int           `validate:"gte=0"`
	}
	DB struct {
		DSN string
	}
	Redis struct {
		Addr string
	}
	Firebase struct {
		ProjectID       string
		CredentialsFile string
		DatabaseURL     string
	}
	Routes struct {
		File string
	}
	Matching MatchingConfig
	Tracking TrackingConfig
	Pricing  PricingConfig
}

func Load() (Config, error) {
	var cfg Config
	cfg.LogLevel = envOrDefaultLevel("SHARETAXI_LOG_LEVEL", slog.LevelInfo)
	cfg.HTTP.Addr = envOrDefault("SHARETAXI_HTTP_ADDR", ":8080")
	cfg.HTTP.ShutdownTimeout = envOrDefaultDuration("SHARETAXI_SHUTDOWN_TIMEOUT", 15*time.Second)
	cfg.HTTP.RateLimitPerMin = envOrDefaultInt("SHARETAXI_RATE_LIMIT_PER_MIN", 120)
	cfg.DB.DSN = os.Getenv("SHARETAXI_DB_DSN")
	cfg.Redis.Addr = os.Getenv("SHARETAXI_REDIS_ADDR")
	cfg.Firebase.ProjectID = os.Getenv("SHARETAXI_FIREBASE_PROJECT_ID")
	cfg.Firebase.CredentialsFile = os.Getenv("SHARETAXI_FIREBASE_CREDENTIALS")
	cfg.Firebase.DatabaseURL = os.Getenv("SHARETAXI_FIREBASE_DATABASE_URL")
	cfg.Routes.File = envOrDefault("SHARETAXI_ROUTES_FILE", "routes.yml")
	cfg.Matching.PickupPolicy = PickupPolicy(strings.ToLower(envOrDefault("SHARETAXI_PICKUP_POLICY", string(PickupPolicyCapacity))))
	cfg.Matching.RadiusKm = envOrDefaultFloat("SHARETAXI_MATCH_RADIUS_KM", 3.0)
	cfg.Matching.Ranker = strings.ToLower(envOrDefault("SHARETAXI_MATCH_RANKER", "stops"))
	cfg.Matching.MaxStops = envOrDefaultInt("SHARETAXI_MATCH_MAX_STOPS", 0)
	cfg.Tracking.SendBuffer = envOrDefaultInt("SHARETAXI_WS_SEND_BUFFER", 64)
	cfg.Tracking.EventBuffer = envOrDefaultInt("SHARETAXI_EVENT_BUFFER", 256)
	cfg.Tracking.PingInterval = envOrDefaultDuration("SHARETAXI_WS_PING_INTERVAL", 30*time.Second)
	cfg.Pricing.BaseFare = int64(envOrDefaultInt("SHARETAXI_FARE_BASE", 20))
	cfg.Pricing.PerStop = int64(envOrDefaultInt("SHARETAXI_FARE_PER_STOP", 5))
	cfg.Pricing.Currency = envOrDefault("SHARETAXI_FARE_CURRENCY", "TWD")

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultLevel(key string, def slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return def
	}
	return level
}
