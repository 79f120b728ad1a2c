package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"golang.org/x/time/rate"

	"keymatic-backend/config"
	"keymatic-backend/internal/api"
	"keymatic-backend/internal/auth"
	"keymatic-backend/internal/db"
	"keymatic-backend/internal/device"
	"keymatic-backend/internal/dispatch"
	"keymatic-backend/internal/notification"
	"keymatic-backend/internal/pickup"
	"keymatic-backend/internal/presence"
	"keymatic-backend/internal/scanner"
	"keymatic-backend/internal/signing"
	"keymatic-backend/internal/store"
	"keymatic-backend/internal/timesrc"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "keymatic ", log.LstdFlags)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	if cfg.Signing.Secret == "" {
		logger.Println("signing.secret is empty; every machine command will be refused")
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Println("auth.jwt_secret is empty; admin and owner routes will reject every request")
	}
	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Println("VAPID keys are not configured; owner push notifications are disabled")
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	loc, err := cfg.Signing.Location()
	if err != nil {
		logger.Fatalf("invalid signing.timezone %q: %v", cfg.Signing.Timezone, err)
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	logger.Println("data store initialized")

	var clock timesrc.Source = timesrc.Local{}
	if cfg.TimeService.URL != "" {
		clock = timesrc.NewTrusted(cfg.TimeService.URL, cfg.TimeService.Timeout, cfg.TimeService.CacheFor)
	}
	signer := signing.NewSigner(cfg.Signing.Secret)
	static := dispatch.StaticResolver(cfg.Machines)

	// The kiosk flow also reaches machines registered in the database; the
	// admin refresh route only targets statically configured ones.
	kiosk := device.NewController(signer,
		dispatch.New(dispatch.ChainResolver{static, dispatch.StoreResolver{Machines: appStore}}, cfg.Dispatch.Timeout),
		clock, loc)
	admin := device.NewController(signer, dispatch.New(static, cfg.Dispatch.Timeout), clock, loc)

	var notifier notification.Notifier
	if cfg.Notifier.URL != "" {
		notifier = notification.NewHTTPNotifier(cfg.Notifier.URL, cfg.Notifier.Timeout)
	}
	workerPool := notification.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.Queue, appStore, notifier, &webpushOptions)
	workerPool.Start(ctx)

	flow := pickup.NewFlow(appStore, kiosk, presence.New(appStore), workerPool, pickup.Timing{
		Settle:     cfg.Kiosk.Settle,
		Dwell:      cfg.Kiosk.Dwell,
		SessionTTL: cfg.Kiosk.SessionTTL,
	})

	staticIDs := make([]string, 0, len(cfg.Machines))
	for id := range cfg.Machines {
		staticIDs = append(staticIDs, id)
	}
	sort.Strings(staticIDs)
	scannerSvc := scanner.NewService(cfg.Scanner, kiosk, appStore, staticIDs)
	go scannerSvc.Run(ctx)

	tokenCfg := auth.DefaultTokenConfig(cfg.Auth.JWTSecret)
	router := api.NewRouter(api.Deps{
		Store:           appStore,
		Flow:            flow,
		Refresher:       admin,
		Signer:          kiosk,
		Scanner:         scannerSvc,
		Webpush:         &webpushOptions,
		Auth:            tokenCfg,
		AdminRole:       cfg.Auth.AdminRole,
		RateLimit:       rate.Limit(cfg.Server.RateLimitPerSec),
		RateBurst:       cfg.Server.RateLimitBurst,
		CacheTTL:        time.Duration(cfg.Server.CacheTTLSeconds) * time.Second,
		WhitelistWindow: cfg.Whitelist.Window,
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
