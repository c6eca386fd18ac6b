package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/contrap/basegov-etl/internal/db"
)

func main() {
	ctx := context.Background()
	pool, err := db.Connect(ctx, "")
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	rows, err := pool.Query(ctx, "SELECT run_id, year, status, total_fetched, total_processed, total_errors, started_at, finished_at FROM etl_runs ORDER BY started_at DESC LIMIT 10")
	if err != nil {
		log.Fatal(err)
	}
	defer rows.Close()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Run", "Year", "Status", "Fetched", "Processed", "Errors", "Duration", "Started At"})

	for rows.Next() {
		var runID, status string
		var year, fetched, processed, errs int
		var startedAt *time.Time
		var finishedAt *time.Time

		if err := rows.Scan(&runID, &year, &status, &fetched, &processed, &errs, &startedAt, &finishedAt); err != nil {
			log.Printf("Scan error: %v", err)
			continue
		}

		duration := "Running..."
		started := "-"
		if startedAt != nil {
			started = startedAt.Format("2006-01-02 15:04:05")
			if finishedAt != nil {
				duration = finishedAt.Sub(*startedAt).Round(time.Second).String()
			}
		}

		t.AppendRow(table.Row{runID[:8], year, status, fetched, processed, errs, duration, started})
	}
	t.Render()
}
