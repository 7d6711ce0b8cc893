package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"pickupopt/internal/api"
	"pickupopt/internal/auth"
	"pickupopt/internal/buildinfo"
	"pickupopt/internal/config"
	"pickupopt/internal/engine"
	"pickupopt/internal/geocode"
	"pickupopt/internal/logging"
	"pickupopt/internal/metrics"
	"pickupopt/internal/network"
	"pickupopt/internal/oracle"
	"pickupopt/internal/routing"
	"pickupopt/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config.yml (defaults to $CONFIG_PATH or ./config.yml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Pretty)
	metrics.RegisterDefault()
	log.Info().Interface("build", buildinfo.Info()).Msg("starting pickup optimizer")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st store.Store = store.NewMemory()
	if cfg.Storage.DatabaseURL != "" {
		pg, err := store.NewPostgres(cfg.Storage.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres")
		}
		defer pg.Close()
		if cfg.Storage.Migrate {
			if err := pg.MigrateDir(ctx, cfg.Storage.MigrationsDir); err != nil {
				log.Fatal().Err(err).Str("dir", cfg.Storage.MigrationsDir).Msg("migrations")
			}
		}
		st = pg
		log.Info().Msg("optimization history in postgres")
	}

	var (
		cache  oracle.Cache
		broker api.EventBroker
	)
	if cfg.Storage.RedisURL != "" {
		rc, err := oracle.NewRedisCache(cfg.Storage.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis travel-time cache")
		}
		defer rc.Close()
		rb, err := api.NewRedisBroker(cfg.Storage.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis broker")
		}
		defer rb.Close()
		cache, broker = rc, rb
		log.Info().Msg("travel-time cache and event stream in redis")
	}

	digits := cfg.Optimizer.CoordinatePrecisionDigits
	provider := routing.NewOSRM(cfg.Oracle.BaseURL, cfg.Oracle.Profile, cfg.Oracle.Timeout)
	adapter := oracle.NewAdapter(provider, cache, oracle.Options{
		Concurrency:       cfg.Oracle.Concurrency,
		MaxRetries:        cfg.Oracle.MaxRetries,
		RetryBaseDelay:    cfg.Oracle.RetryBaseDelay,
		RetryMaxDelay:     cfg.Oracle.RetryMaxDelay,
		PrecisionDigits:   &digits,
		RequestsPerSecond: cfg.Oracle.RequestsPerSecond,
		Burst:             cfg.Oracle.Burst,
	})
	eng := engine.New(adapter, engine.Config{
		WalkSpeedMilesPerMinute: cfg.Optimizer.WalkSpeedMilesPerMinute,
		InjectEndpoints:         cfg.Optimizer.InjectEndpoints,
		OverallDeadline:         cfg.Optimizer.OverallDeadline,
	})
	geocoder := geocode.NewNominatim(geocode.NominatimOptions{
		BaseURL:           cfg.Geocoder.BaseURL,
		UserAgent:         cfg.Geocoder.UserAgent,
		Timeout:           cfg.Geocoder.Timeout,
		RequestsPerSecond: cfg.Geocoder.RequestsPerSecond,
	})

	reg := network.NewRegistry()
	reg.OnLoad = func(name string) {
		if err := adapter.Reset(context.Background()); err != nil {
			log.Warn().Err(err).Str("network", name).Msg("clearing travel-time cache")
		}
	}
	for _, n := range cfg.Networks {
		nw, err := network.LoadFile(n.Name, n.Path)
		if err != nil {
			log.Fatal().Err(err).Str("network", n.Name).Msg("loading road network")
		}
		if _, err := reg.Load(nw); err != nil {
			log.Fatal().Err(err).Str("network", n.Name).Msg("indexing road network")
		}
	}
	if len(cfg.Networks) == 0 {
		log.Warn().Msg("no road network configured; load one with POST /v1/networks")
	}

	srv := api.NewServer(st, broker, auth.NewVerifier(cfg.Auth.HMACSecret), reg, &engine.Planner{
		Engine:   eng,
		Geocoder: geocoder,
		Reverse:  geocoder,
	})
	srv.MaxWalkMinutes = cfg.Optimizer.MaxWalkMinutes
	if srv.Auth.DevMode() {
		log.Warn().Msg("AUTH_HMAC_SECRET unset; X-Role header is trusted")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.Handle("/", srv.Routes())

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpSrv.Addr).Msg("API listening")
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown")
		}
	}
}
