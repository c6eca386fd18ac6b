// Package api exposes the pipeline and the stored corpus over HTTP.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/contrap/basegov-etl/internal/basegov"
	"github.com/contrap/basegov-etl/internal/db"
	"github.com/contrap/basegov-etl/internal/etl"
)

type Server struct {
	Store  *db.Store
	Client *basegov.Client
	Orch   *etl.Orchestrator
	Echo   *echo.Echo

	// Background job tracking: one pipeline run at a time.
	jobMu      sync.Mutex
	runningJob *backgroundJob
}

type backgroundJob struct {
	ID        string             `json:"id"`
	Status    string             `json:"status"` // running, completed, failed
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
	Result    any                `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Cancel    context.CancelFunc `json:"-"`
}

func NewServer(store *db.Store, client *basegov.Client, orch *etl.Orchestrator) *Server {
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{
		Store:  store,
		Client: client,
		Orch:   orch,
		Echo:   e,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/healthz", s.handleHealth)

	api := s.Echo.Group("/api/v1")
	api.GET("/stats", s.handleGetStats)
	api.GET("/runs", s.handleGetRuns)
	api.POST("/pipeline/run", s.handleTriggerPipeline)
	api.GET("/pipeline/job/:id", s.handleJobStatus)
	api.POST("/entities/:nif/refresh", s.handleRefreshEntity)
}

// Start blocks serving HTTP until the server shuts down.
func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

// Shutdown stops the HTTP server and cancels a running pipeline job.
func (s *Server) Shutdown(ctx context.Context) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Cancel != nil {
		s.runningJob.Cancel()
	}
	s.jobMu.Unlock()
	return s.Echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleGetStats(c echo.Context) error {
	stats, err := s.Store.GetStatistics(c.Request().Context())
	if err != nil {
		log.Printf("stats query failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to compute statistics"})
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleGetRuns(c echo.Context) error {
	limit := 20
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	runs, err := s.Store.RecentRuns(c.Request().Context(), limit)
	if err != nil {
		log.Printf("runs query failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list runs"})
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": runs})
}

// handleTriggerPipeline starts a pipeline run in the background and
// returns 202 with a job ID to poll. Only one run at a time: a second
// trigger while one is active gets 409.
func (s *Server) handleTriggerPipeline(c echo.Context) error {
	year := time.Now().Year()
	if raw := strings.TrimSpace(c.QueryParam("year")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 2008 || parsed > time.Now().Year()+1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid year"})
		}
		year = parsed
	}

	var types []etl.DataType
	if raw := strings.TrimSpace(c.QueryParam("types")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			dt := etl.DataType(strings.TrimSpace(part))
			switch dt {
			case etl.DataTypeEntities, etl.DataTypeAnnouncements, etl.DataTypeContracts, etl.DataTypeModifications:
				types = append(types, dt)
			default:
				return c.JSON(http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown data type %q", dt)})
			}
		}
	}

	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		job := s.runningJob
		s.jobMu.Unlock()
		return c.JSON(http.StatusConflict, map[string]any{
			"error":  "A pipeline run is already in progress",
			"job_id": job.ID,
		})
	}

	// context.WithoutCancel detaches from the HTTP request lifecycle;
	// the timeout bounds a run that upstream slowness would otherwise
	// stretch indefinitely.
	jobCtx, jobCancel := context.WithTimeout(
		context.WithoutCancel(c.Request().Context()), 2*time.Hour,
	)

	jobID := uuid.New().String()[:8]
	job := &backgroundJob{
		ID:        jobID,
		Status:    "running",
		StartedAt: time.Now(),
		Cancel:    jobCancel,
	}
	s.runningJob = job
	s.jobMu.Unlock()

	go func() {
		defer jobCancel()
		report, err := s.Orch.RunPipeline(jobCtx, year, types)

		s.jobMu.Lock()
		defer s.jobMu.Unlock()
		job.EndedAt = time.Now()
		job.Result = report
		if err != nil {
			job.Status = "failed"
			job.Error = err.Error()
			log.Printf("[pipeline-job %s] failed: %v", jobID, err)
			return
		}
		job.Status = "completed"
		log.Printf("[pipeline-job %s] %s: processed=%d errors=%d", jobID, report.Status, report.TotalProcessed, report.TotalErrors)
	}()

	return c.JSON(http.StatusAccepted, map[string]any{
		"message": "Pipeline run started",
		"job_id":  jobID,
		"year":    year,
		"poll":    fmt.Sprintf("/api/v1/pipeline/job/%s", jobID),
	})
}

func (s *Server) handleJobStatus(c echo.Context) error {
	queried := c.Param("id")
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	job := s.runningJob
	if job == nil || job.ID != queried {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	resp := map[string]any{
		"id":         job.ID,
		"status":     job.Status,
		"started_at": job.StartedAt,
	}
	if !job.EndedAt.IsZero() {
		resp["ended_at"] = job.EndedAt
		resp["duration"] = job.EndedAt.Sub(job.StartedAt).String()
	}
	if job.Result != nil {
		resp["result"] = job.Result
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	return c.JSON(http.StatusOK, resp)
}

// handleRefreshEntity re-fetches one entity from the upstream API and
// merges it into the store, returning the updated row.
func (s *Server) handleRefreshEntity(c echo.Context) error {
	nif, ok := etl.ValidateNIF(c.Param("nif"))
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid NIF"})
	}

	ctx := c.Request().Context()
	record, err := s.Client.FetchEntity(ctx, nif)
	if err != nil {
		log.Printf("refresh entity %s: %v", nif, err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "upstream fetch failed"})
	}

	processor := etl.NewProcessor(s.Store)
	result := processor.ProcessBatch(ctx, etl.Batch{Entities: []etl.Record{record}})
	if result.Errors > 0 {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to store entity"})
	}

	entity, err := s.Store.GetEntityByNIF(ctx, nif)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load entity"})
	}
	if entity == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "entity not found"})
	}
	return c.JSON(http.StatusOK, entity)
}
