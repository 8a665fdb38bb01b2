// Package main provides the FieldSync local agent. It owns the offline work
// queue and serves the UI over REST/WebSocket on localhost.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/verdantchain/fieldsync/internal/config"
	"github.com/verdantchain/fieldsync/internal/conflict"
	"github.com/verdantchain/fieldsync/internal/connectivity"
	"github.com/verdantchain/fieldsync/internal/engine"
	"github.com/verdantchain/fieldsync/internal/logging"
	"github.com/verdantchain/fieldsync/internal/media"
	"github.com/verdantchain/fieldsync/internal/publisher"
	"github.com/verdantchain/fieldsync/internal/retry"
	"github.com/verdantchain/fieldsync/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	logging.Init(os.Stderr, logging.LevelInfo)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to open queue database: %v", err)
	}
	defer db.Close()

	manager := store.NewManager(db, store.QuotaConfig{
		CeilingBytes: cfg.Quota.CeilingBytes,
		Retention:    cfg.Quota.Retention.Std(),
	})

	if _, err := manager.RecoverInFlight(); err != nil {
		log.Fatalf("Failed to recover interrupted entries: %v", err)
	}

	policy := retry.Policy{
		Base:           cfg.Retry.Base.Std(),
		Ceiling:        cfg.Retry.Ceiling.Std(),
		JitterFraction: cfg.Retry.JitterFraction,
		MaxAttempts:    cfg.Retry.MaxAttempts,
	}

	eng := engine.New(
		manager,
		policy,
		conflict.NewResolver(cfg.Conflict.DefaultStrategy),
		media.NewClient(&media.Config{
			Endpoint: cfg.Media.Endpoint,
			Timeout:  cfg.Media.Timeout.Std(),
		}),
		publisher.NewClient(&publisher.Config{
			Endpoint: cfg.Publisher.Endpoint,
			APIKey:   cfg.Publisher.APIKey,
			Timeout:  cfg.Publisher.Timeout.Std(),
		}),
	)

	hub := NewWSHub()
	eng.SetListener(hub)

	probeURL := cfg.Sync.ProbeURL
	if probeURL == "" {
		probeURL = cfg.Publisher.Endpoint + "/v1/health"
	}
	monitor := connectivity.NewMonitor(probeURL, cfg.Sync.ProbeInterval.Std())
	monitor.Subscribe(eng.OnConnectivityChange)
	monitor.Subscribe(hub.ConnectivityChanged)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go monitor.Run(ctx)
	go eng.Run(ctx, cfg.Sync.CycleInterval.Std())

	api := &apiServer{store: manager, engine: eng, hub: hub}
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.routes(),
	}

	go func() {
		<-ctx.Done()
		eng.Cancel()
		srv.Shutdown(context.Background())
	}()

	log.Printf("FieldSync agent listening on %s (data dir %s)", cfg.ListenAddr, cfg.DataDir)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("HTTP server failed: %v", err)
	}
}
