package etl

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/contrap/basegov-etl/internal/models"
)

// DataType names one of the BASE.gov record families the pipeline moves.
type DataType string

const (
	DataTypeAnnouncements DataType = "announcements"
	DataTypeContracts     DataType = "contracts"
	DataTypeModifications DataType = "modifications"
	DataTypeEntities      DataType = "entities"
)

// AllDataTypes is the default set for a pipeline run, in load order.
var AllDataTypes = []DataType{
	DataTypeEntities,
	DataTypeAnnouncements,
	DataTypeContracts,
	DataTypeModifications,
}

// Run statuses. Partial means some records loaded but errors occurred;
// failed means nothing useful got through.
const (
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// Fetcher produces the raw records for one data type and year. The
// basegov package provides the HTTP implementation and a caching
// wrapper around it.
type Fetcher interface {
	FetchByYear(ctx context.Context, dataType DataType, year int) ([]Record, error)
}

// RunRecorder persists run reports. Optional: the orchestrator still
// writes report files when no recorder is attached.
type RunRecorder interface {
	SaveRunReport(ctx context.Context, report models.RunReport) error
}

// Orchestrator drives one fetch → validate → load pass per year.
type Orchestrator struct {
	fetcher Fetcher
	store   Storage
	runs    RunRecorder

	dataDir   string
	yearDelay time.Duration
	batchSize int
}

func NewOrchestrator(fetcher Fetcher, store Storage, dataDir string) *Orchestrator {
	return &Orchestrator{
		fetcher:   fetcher,
		store:     store,
		dataDir:   dataDir,
		yearDelay: 5 * time.Second,
		batchSize: 100,
	}
}

// WithRunRecorder attaches a store for run reports.
func (o *Orchestrator) WithRunRecorder(runs RunRecorder) *Orchestrator {
	o.runs = runs
	return o
}

// WithYearDelay overrides the pause between years of a historical run.
func (o *Orchestrator) WithYearDelay(d time.Duration) *Orchestrator {
	o.yearDelay = d
	return o
}

// RunPipeline executes one full pass for a year. Per-record failures are
// absorbed into the report; the returned error is non-nil only for
// failures that abort the whole run, and even then a failed report is
// still produced and saved.
func (o *Orchestrator) RunPipeline(ctx context.Context, year int, types []DataType) (models.RunReport, error) {
	if len(types) == 0 {
		types = AllDataTypes
	}

	start := time.Now().UTC()
	report := models.RunReport{
		RunID:     uuid.NewString(),
		Year:      year,
		StartTime: &start,
		Fetched:   make(map[string]int),
		Validated: make(map[string]int),
		Processed: make(map[string]int),
		Errors:    make(map[string]int),
	}

	log.Printf("pipeline run %s: year %d, types %v", report.RunID, year, types)

	// Fetch. A failed fetch for one type is recorded and the run
	// continues with the others.
	raw := make(map[DataType][]Record, len(types))
	for _, dt := range types {
		records, err := o.fetcher.FetchByYear(ctx, dt, year)
		if err != nil {
			log.Printf("fetch %s %d: %v", dt, year, err)
			report.Errors["fetch_"+string(dt)]++
			continue
		}
		raw[dt] = records
		report.Fetched[string(dt)] = len(records)
		report.TotalFetched += len(records)
	}

	// Validate. An unknown type is a programming error and aborts.
	batch := Batch{}
	for _, dt := range types {
		records := raw[dt]
		valid, invalid, err := ValidateBatch(records, string(dt))
		if err != nil {
			return o.finishRun(ctx, report, StatusFailed, err)
		}
		if len(invalid) > 0 {
			report.Errors["invalid_"+string(dt)] = len(invalid)
			if err := o.saveInvalidRecords(dt, invalid); err != nil {
				log.Printf("save invalid %s records: %v", dt, err)
			}
		}
		report.Validated[string(dt)] = len(valid)
		report.TotalValidated += len(valid)

		switch dt {
		case DataTypeEntities:
			batch.Entities = valid
		case DataTypeAnnouncements:
			batch.Announcements = valid
		case DataTypeContracts:
			batch.Contracts = valid
		case DataTypeModifications:
			batch.Modifications = valid
		}
	}

	// Load in chunks so progress is visible on multi-thousand-record
	// years. The processor is fresh per run: its duplicate sets are
	// run-scoped.
	processor := NewProcessor(o.store)
	total := o.processChunked(ctx, processor, batch, &report)

	report.TotalErrors = sumCounts(report.Errors)
	status := StatusCompleted
	switch {
	case report.TotalErrors > 0 && total > 0:
		status = StatusPartial
	case report.TotalErrors > 0:
		status = StatusFailed
	}
	return o.finishRun(ctx, report, status, nil)
}

func (o *Orchestrator) processChunked(ctx context.Context, processor *Processor, batch Batch, report *models.RunReport) int {
	process := func(dt DataType, records []Record, slot func(Batch, []Record) Batch) int {
		loaded := 0
		for offset := 0; offset < len(records); offset += o.batchSize {
			end := offset + o.batchSize
			if end > len(records) {
				end = len(records)
			}
			result := processor.ProcessBatch(ctx, slot(Batch{}, records[offset:end]))
			loaded += result.Total()
			if result.Errors > 0 {
				report.Errors["process_"+string(dt)] += result.Errors
			}
		}
		report.Processed[string(dt)] = loaded
		return loaded
	}

	total := 0
	total += process(DataTypeEntities, batch.Entities, func(b Batch, r []Record) Batch { b.Entities = r; return b })
	total += process(DataTypeAnnouncements, batch.Announcements, func(b Batch, r []Record) Batch { b.Announcements = r; return b })
	total += process(DataTypeContracts, batch.Contracts, func(b Batch, r []Record) Batch { b.Contracts = r; return b })
	total += process(DataTypeModifications, batch.Modifications, func(b Batch, r []Record) Batch { b.Modifications = r; return b })
	report.TotalProcessed = total
	return total
}

func (o *Orchestrator) finishRun(ctx context.Context, report models.RunReport, status string, cause error) (models.RunReport, error) {
	end := time.Now().UTC()
	report.EndTime = &end
	if report.StartTime != nil {
		report.DurationSecs = end.Sub(*report.StartTime).Seconds()
	}
	report.Status = status
	if cause != nil {
		report.Error = cause.Error()
	}

	if err := o.saveReport(report); err != nil {
		log.Printf("save run report: %v", err)
	}
	if o.runs != nil {
		if err := o.runs.SaveRunReport(ctx, report); err != nil {
			log.Printf("record run in store: %v", err)
		}
	}

	log.Printf("pipeline run %s: %s in %.1fs (fetched %d, validated %d, processed %d, errors %d)",
		report.RunID, report.Status, report.DurationSecs,
		report.TotalFetched, report.TotalValidated, report.TotalProcessed, report.TotalErrors)
	return report, cause
}

// RunIncremental runs the pipeline for the current year.
func (o *Orchestrator) RunIncremental(ctx context.Context, types []DataType) (models.RunReport, error) {
	return o.RunPipeline(ctx, time.Now().Year(), types)
}

// RunHistorical runs year by year from start through end inclusive. A
// failed year is reported and the backfill moves on; cancellation stops
// between years and returns what completed so far.
func (o *Orchestrator) RunHistorical(ctx context.Context, startYear, endYear int, types []DataType) ([]models.RunReport, error) {
	if startYear > endYear {
		return nil, fmt.Errorf("invalid year range %d..%d", startYear, endYear)
	}

	var reports []models.RunReport
	for year := startYear; year <= endYear; year++ {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report, err := o.RunPipeline(ctx, year, types)
		if err != nil {
			log.Printf("historical run for %d failed: %v", year, err)
		}
		reports = append(reports, report)

		if year < endYear {
			select {
			case <-time.After(o.yearDelay):
			case <-ctx.Done():
				return reports, ctx.Err()
			}
		}
	}
	return reports, nil
}

func (o *Orchestrator) saveInvalidRecords(dt DataType, invalid []InvalidRecord) error {
	dir := filepath.Join(o.dataDir, "errors")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("invalid_%s_%s.json", dt, time.Now().UTC().Format("20060102_150405"))
	data, err := json.MarshalIndent(invalid, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}

func (o *Orchestrator) saveReport(report models.RunReport) error {
	dir := filepath.Join(o.dataDir, "reports")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("pipeline_report_%s.json", time.Now().UTC().Format("20060102_150405"))
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}

func sumCounts(m map[string]int) int {
	total := 0
	for _, n := range m {
		total += n
	}
	return total
}
