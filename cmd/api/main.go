package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"metaman/api/internal/app"
	"metaman/api/internal/config"
	"metaman/api/internal/feed"
	"metaman/api/internal/hooks"
	"metaman/api/internal/lock"
	"metaman/api/internal/logger"
	"metaman/api/internal/metrics"
	"metaman/api/internal/oidc"
	"metaman/api/internal/push"
	"metaman/api/internal/schema"
	"metaman/api/internal/search"
	"metaman/api/internal/secrets"
	"metaman/api/internal/store"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}
	dataStore := store.NewPostgresStore(db)

	registry, err := schema.NewRegistry()
	if err != nil {
		log.Fatal().Err(err).Msg("schema registry failed")
	}

	secretService := secrets.New(cfg.EncryptionKey)

	var oidcRegistry hooks.ClientRegistry
	if strings.TrimSpace(cfg.OidcRegistryURL) != "" {
		oidcRegistry = oidc.NewRegistry(cfg.OidcRegistryURL, cfg.OidcRegistryUser, cfg.OidcRegistryPass, 10*time.Second)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(promRegistry)

	service := app.New(cfg, dataStore, registry, oidcRegistry, secretService, appMetrics, log)
	if strings.TrimSpace(cfg.FeedURL) != "" {
		service.SetFeed(feed.NewFetcher(cfg.FeedURL, 5*time.Minute))
	}

	var redisLocker *lock.RedisLocker
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisLocker, err = lock.NewRedisLocker(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
	}

	scan := search.NewScan(dataStore)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, scan, log)
	service.SetSearch(searchService)

	var snapshotter push.Snapshotter
	if strings.TrimSpace(cfg.EngineBlockDatabaseURL) != "" {
		ebDB, err := store.Open(ctx, cfg.EngineBlockDatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("engineblock database connection failed")
		}
		defer ebDB.Close()
		snapshotter = push.NewSQLSnapshotter(ebDB)
	}
	var oidcProxy *push.Client
	if cfg.OidcPushEnabled {
		oidcProxy = push.NewClient(cfg.OidcPushURL, cfg.OidcPushUser, cfg.OidcPushPass, cfg.PushTimeout)
	}
	pushOpts := push.Options{
		Docs: dataStore,
		Builder: &push.Builder{
			ExcludeImported: cfg.ExcludeEduGainImported,
			OidcBaseURL:     cfg.OidcPushURL,
		},
		EngineBlock: push.NewClient(cfg.PushURL, cfg.PushUser, cfg.PushPassword, cfg.PushTimeout),
		OidcProxy:   oidcProxy,
		Snapshots:   snapshotter,
		DevProfile:  cfg.Environment == "dev",
		Metrics:     appMetrics,
		Log:         log,
	}
	if redisLocker != nil {
		pushOpts.Locker = redisLocker
		pushOpts.Reporter = redisLocker
	}
	pushService := push.NewService(pushOpts)

	var pushReportStore app.PushReports
	if redisLocker != nil {
		pushReportStore = redisLocker
	}

	httpServer := app.NewHTTPServer(service, pushService, searchService, pushReportStore, cfg.CORSOrigin, log)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	mux.Handle("/", httpServer.Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("env", cfg.Environment).Msg("metaman api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
