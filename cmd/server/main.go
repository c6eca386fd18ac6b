package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/contrap/basegov-etl/internal/api"
	"github.com/contrap/basegov-etl/internal/basegov"
	"github.com/contrap/basegov-etl/internal/config"
	"github.com/contrap/basegov-etl/internal/db"
	"github.com/contrap/basegov-etl/internal/etl"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	store := db.NewStore(pool)
	client := basegov.NewClient(clientConfig(cfg))
	fetcher := basegov.NewCachingFetcher(client, cfg.DataDir, cfg.CacheTTL())
	orch := etl.NewOrchestrator(fetcher, store, cfg.DataDir).
		WithRunRecorder(store).
		WithYearDelay(cfg.HistoricalDelay())

	srv := api.NewServer(store, client, orch)
	log.Printf("Server starting on port %s...", cfg.Server.Port)
	if err := srv.Start(cfg.Server.Port); err != nil {
		log.Fatal(err)
	}
}

func clientConfig(cfg *config.Config) basegov.Config {
	c := basegov.DefaultConfig()
	if cfg.API.BaseURL != "" {
		c.BaseURL = cfg.API.BaseURL
	}
	c.AccessToken = cfg.API.AccessToken
	if cfg.API.RateLimitRPS > 0 {
		c.RequestsPerSecond = cfg.API.RateLimitRPS
	}
	if cfg.API.TimeoutSeconds > 0 {
		c.Timeout = durationSecs(cfg.API.TimeoutSeconds)
	}
	if cfg.API.MaxRetries > 0 {
		c.MaxRetries = cfg.API.MaxRetries
	}
	if cfg.API.RetryDelaySeconds > 0 {
		c.RetryDelay = durationSecs(cfg.API.RetryDelaySeconds)
	}
	if cfg.API.MaxRetryDelaySeconds > 0 {
		c.MaxRetryDelay = durationSecs(cfg.API.MaxRetryDelaySeconds)
	}
	if cfg.API.BackoffFactor > 1 {
		c.BackoffFactor = cfg.API.BackoffFactor
	}
	return c
}

func durationSecs(n int) time.Duration {
	return time.Duration(n) * time.Second
}
