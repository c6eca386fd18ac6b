package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/contrap/basegov-etl/internal/basegov"
	"github.com/contrap/basegov-etl/internal/config"
	"github.com/contrap/basegov-etl/internal/db"
	"github.com/contrap/basegov-etl/internal/etl"
	"github.com/contrap/basegov-etl/internal/models"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	year := flag.Int("year", time.Now().Year(), "year to process")
	typesFlag := flag.String("types", "", "comma-separated data types (entities,announcements,contracts,modifications); default all")
	historical := flag.Bool("historical", false, "backfill a range of years")
	startYear := flag.Int("start", 2008, "first year of a historical backfill")
	endYear := flag.Int("end", time.Now().Year(), "last year of a historical backfill")
	noCache := flag.Bool("no-cache", false, "bypass the on-disk response cache")
	skipFetch := flag.Bool("skip-fetch", false, "reuse cached responses only, never call the upstream API")
	statsOnly := flag.Bool("stats", false, "print corpus statistics and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	store := db.NewStore(pool)

	if *statsOnly {
		printStats(ctx, store)
		return
	}

	types, err := parseTypes(*typesFlag)
	if err != nil {
		log.Fatal(err)
	}

	client := basegov.NewClient(clientConfig(cfg))
	var fetcher etl.Fetcher
	switch {
	case *skipFetch:
		fetcher = basegov.NewOfflineFetcher(cfg.DataDir)
	case *noCache:
		fetcher = client
	default:
		fetcher = basegov.NewCachingFetcher(client, cfg.DataDir, cfg.CacheTTL())
	}
	orch := etl.NewOrchestrator(fetcher, store, cfg.DataDir).
		WithRunRecorder(store).
		WithYearDelay(cfg.HistoricalDelay())

	var reports []models.RunReport
	if *historical {
		reports, err = orch.RunHistorical(ctx, *startYear, *endYear, types)
	} else {
		var report models.RunReport
		report, err = orch.RunPipeline(ctx, *year, types)
		reports = []models.RunReport{report}
	}
	if err != nil {
		log.Printf("Pipeline error: %v", err)
	}

	printReports(reports)

	for _, report := range reports {
		if report.Status == etl.StatusFailed {
			os.Exit(1)
		}
	}
}

func parseTypes(raw string) ([]etl.DataType, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var types []etl.DataType
	for _, part := range strings.Split(raw, ",") {
		dt := etl.DataType(strings.TrimSpace(part))
		switch dt {
		case etl.DataTypeEntities, etl.DataTypeAnnouncements, etl.DataTypeContracts, etl.DataTypeModifications:
			types = append(types, dt)
		default:
			return nil, fmt.Errorf("unknown data type %q", dt)
		}
	}
	return types, nil
}

func printReports(reports []models.RunReport) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Year", "Status", "Fetched", "Validated", "Processed", "Errors", "Duration"})

	for _, r := range reports {
		t.AppendRow(table.Row{
			r.Year, r.Status, r.TotalFetched, r.TotalValidated, r.TotalProcessed, r.TotalErrors,
			fmt.Sprintf("%.1fs", r.DurationSecs),
		})
	}
	t.Render()
}

func printStats(ctx context.Context, store *db.Store) {
	stats, err := store.GetStatistics(ctx)
	if err != nil {
		log.Fatalf("Failed to compute statistics: %v", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRow(table.Row{"Entities", stats.TotalEntities})
	t.AppendRow(table.Row{"Announcements", stats.TotalAnnouncements})
	t.AppendRow(table.Row{"Contracts", stats.TotalContracts})
	t.AppendRow(table.Row{"Modifications", stats.TotalModifications})
	if stats.TotalContractValue != nil {
		t.AppendRow(table.Row{"Total contract value", fmt.Sprintf("%.2f €", *stats.TotalContractValue)})
	}
	if stats.AverageContractValue != nil {
		t.AppendRow(table.Row{"Average contract value", fmt.Sprintf("%.2f €", *stats.AverageContractValue)})
	}
	t.Render()

	if len(stats.TopSuppliers) > 0 {
		ts := table.NewWriter()
		ts.SetOutputMirror(os.Stdout)
		ts.AppendHeader(table.Row{"Supplier", "NIF", "Contracts", "Total Value"})
		for _, s := range stats.TopSuppliers {
			value := "-"
			if s.TotalValue != nil {
				value = fmt.Sprintf("%.2f €", *s.TotalValue)
			}
			ts.AppendRow(table.Row{s.Name, s.NIF, s.ContractCount, value})
		}
		ts.Render()
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
		c.Timeout = time.Duration(cfg.API.TimeoutSeconds) * time.Second
	}
	if cfg.API.MaxRetries > 0 {
		c.MaxRetries = cfg.API.MaxRetries
	}
	if cfg.API.RetryDelaySeconds > 0 {
		c.RetryDelay = time.Duration(cfg.API.RetryDelaySeconds) * time.Second
	}
	if cfg.API.MaxRetryDelaySeconds > 0 {
		c.MaxRetryDelay = time.Duration(cfg.API.MaxRetryDelaySeconds) * time.Second
	}
	if cfg.API.BackoffFactor > 1 {
		c.BackoffFactor = cfg.API.BackoffFactor
	}
	return c
}
