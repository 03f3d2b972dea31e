// README: Entry point; loads config, wires stores and services, runs the event bus and HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	firebase "firebase.google.com/go/v4"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"sharetaxi/internal/config"
	"sharetaxi/internal/events"
	httptransport "sharetaxi/internal/http"
	"sharetaxi/internal/infra"
	"sharetaxi/internal/modules/location"
	"sharetaxi/internal/modules/matching"
	"sharetaxi/internal/modules/pricing"
	"sharetaxi/internal/modules/request"
	"sharetaxi/internal/modules/route"
	"sharetaxi/internal/modules/taxi"
	"sharetaxi/internal/notify"
	"sharetaxi/internal/tracking"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("starting sharetaxi",
		"http_addr", cfg.HTTP.Addr,
		"postgres", cfg.DB.DSN != "",
		"redis", cfg.Redis.Addr != "",
		"firebase", cfg.Firebase.ProjectID != "",
		"pickup_policy", cfg.Matching.PickupPolicy,
	)

	var (
		taxiStore    taxi.Store    = taxi.NewMemoryStore()
		requestStore request.Store = request.NewMemoryStore()
		pool         *pgxpool.Pool
	)
	if cfg.DB.DSN != "" {
		var err error
		pool, err = infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := infra.Migrate(ctx, pool); err != nil {
			return err
		}
		taxiStore = taxi.NewPGStore(pool)
		requestStore = request.NewPGStore(pool)
	}

	catalog, err := loadCatalog(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}

	bus := events.NewBus(cfg.Tracking.EventBuffer, logger)
	hub := tracking.NewHub(logger)
	bus.Subscribe("tracking", hub)

	taxis := taxi.NewService(taxiStore, catalog, bus, logger)
	requests := request.NewService(requestStore, catalog, pricing.NewService(cfg.Pricing), bus, logger)

	ranker, err := matching.RankerByName(cfg.Matching.Ranker)
	if err != nil {
		return err
	}
	var (
		locationSvc *location.Service
		positions   tracking.PositionSource
		opts        = matching.Options{
			PickupPolicy: cfg.Matching.PickupPolicy,
			Filter:       matching.BrowseFilter(cfg.Matching.RadiusKm, cfg.Matching.MaxStops),
			Ranker:       ranker,
		}
	)
	if cfg.Redis.Addr != "" {
		rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		locationSvc = location.NewService(location.NewRedisStore(rdb), taxis, bus, logger)
		positions = locationSvc
		opts.Positions = locationSvc
	}
	engine := matching.NewEngine(taxis, requests, catalog, bus, opts, logger)

	var verifier infra.TokenVerifier
	if cfg.Firebase.ProjectID != "" {
		app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, cfg.Firebase.DatabaseURL)
		if err != nil {
			return err
		}
		if verifier, err = infra.NewFirebaseVerifier(ctx, app); err != nil {
			return err
		}
		notifier, err := newNotifier(ctx, cfg, app, logger)
		if err != nil {
			return err
		}
		bus.Subscribe("notify", notifier)
	} else {
		logger.Warn("firebase not configured, trusting X-User-ID headers")
		bus.Subscribe("notify", notify.Noop{})
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	busDone := make(chan struct{})
	go func() {
		bus.Run(ctx)
		close(busDone)
	}()

	srv := httptransport.NewServer(httptransport.ServerDeps{
		Routes:          catalog,
		Taxis:           taxis,
		Requests:        requests,
		Matching:        engine,
		Location:        locationSvc,
		Hub:             hub,
		Monitor:         tracking.NewMonitor(taxis, positions),
		Verifier:        verifier,
		RateLimitPerMin: cfg.HTTP.RateLimitPerMin,
		WSSendBuffer:    cfg.Tracking.SendBuffer,
		WSPingInterval:  cfg.Tracking.PingInterval,
		Logger:          logger,
	})
	err = srv.Run(ctx, cfg.HTTP.Addr, cfg.HTTP.ShutdownTimeout)
	cancel()
	<-busDone
	return err
}

// loadCatalog reads routes from Postgres, seeding it from the YAML file when empty.
// Without a database the YAML file is the only source.
func loadCatalog(ctx context.Context, cfg config.Config, pool *pgxpool.Pool, logger *slog.Logger) (*route.Catalog, error) {
	if pool == nil {
		routes, err := route.LoadSeedFile(cfg.Routes.File)
		if err != nil {
			return nil, err
		}
		logger.Info("routes loaded from seed", "file", cfg.Routes.File, "count", len(routes))
		return route.NewCatalog(routes)
	}

	store := route.NewStore(pool)
	routes, err := store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(routes) == 0 {
		seed, err := route.LoadSeedFile(cfg.Routes.File)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		for _, r := range seed {
			if err := store.Save(ctx, r); err != nil {
				return nil, err
			}
		}
		routes = seed
	}
	logger.Info("routes loaded", "count", len(routes))
	return route.NewCatalog(routes)
}

// newNotifier pushes through FCM when a Realtime Database holds device tokens.
func newNotifier(ctx context.Context, cfg config.Config, app *firebase.App, logger *slog.Logger) (events.Handler, error) {
	if cfg.Firebase.DatabaseURL == "" {
		logger.Info("push disabled, no realtime database configured")
		return notify.Noop{}, nil
	}
	rtdb, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Database: %w", err)
	}
	fcm, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Messaging: %w", err)
	}
	return notify.NewNotifier(notify.NewRTDBTokens(rtdb), fcm, logger), nil
}
