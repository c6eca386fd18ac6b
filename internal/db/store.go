package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/contrap/basegov-etl/internal/etl"
	"github.com/contrap/basegov-etl/internal/models"
)

// querier is the subset of pgx shared by a pool and a transaction, so
// the same store methods run in either.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists procurement data in Postgres. It implements
// etl.Storage for the pipeline and adds the reporting queries the API
// and CLI need.
type Store struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: pool}
}

// InRecordTx runs fn against a transaction-bound store, committing when
// fn returns nil. Called on a store already inside a transaction it
// just runs fn; record transactions do not nest.
func (s *Store) InRecordTx(ctx context.Context, fn func(tx etl.Storage) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txStore := &Store{pool: s.pool, q: tx, inTx: true}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// UpsertEntity inserts or merges an entity keyed by NIF. A missing name
// gets the "Entidade <nif>" placeholder on first insert; on conflict
// every field only fills gaps, never erases stored data, except that a
// real incoming name replaces nothing but NULL.
func (s *Store) UpsertEntity(ctx context.Context, e models.Entity) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO entities (nif, name, address, postal_code, city, country, email, phone, website, entity_type, updated_at)
		VALUES ($1, COALESCE($2, 'Entidade ' || $1), $3, $4, $5, COALESCE($6, 'Portugal'), $7, $8, $9, $10, NOW())
		ON CONFLICT (nif) DO UPDATE SET
			name        = COALESCE($2, entities.name),
			address     = COALESCE($3, entities.address),
			postal_code = COALESCE($4, entities.postal_code),
			city        = COALESCE($5, entities.city),
			country     = COALESCE($6, entities.country),
			email       = COALESCE($7, entities.email),
			phone       = COALESCE($8, entities.phone),
			website     = COALESCE($9, entities.website),
			entity_type = COALESCE($10, entities.entity_type),
			updated_at  = NOW()
		RETURNING id
	`, e.NIF, e.Name, e.Address, e.PostalCode, e.City, e.Country, e.Email, e.Phone, e.Website, e.EntityType).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert entity %s: %w", e.NIF, err)
	}
	return id, nil
}

// UpsertAnnouncement inserts an announcement or, when the external ID is
// already stored, refreshes only updated_at: announcements are immutable
// once published.
func (s *Store) UpsertAnnouncement(ctx context.Context, a models.Announcement) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO announcements (
			external_id, entity_id, title, description, contract_type, procedure_type,
			base_price, publication_date, submission_deadline, opening_date, status,
			url, reference, location, nuts_code, duration_months,
			is_framework, is_dynamic_purchasing,
			allows_electronic_submission, requires_electronic_submission, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, NOW())
		ON CONFLICT (external_id) DO UPDATE SET updated_at = NOW()
		RETURNING id
	`, a.ExternalID, a.EntityID, a.Title, a.Description, a.ContractType, a.ProcedureType,
		a.BasePrice, a.PublicationDate, a.SubmissionDeadline, a.OpeningDate, a.Status,
		a.URL, a.Reference, a.Location, a.NutsCode, a.DurationMonths,
		a.IsFramework, a.IsDynamicPurchase, a.AllowsESubmission, a.RequireESubmission).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert announcement %s: %w", a.ExternalID, err)
	}
	return id, nil
}

// UpsertContract inserts a contract or, on a known external ID, updates
// the fields that legitimately change after publication: value and
// status.
func (s *Store) UpsertContract(ctx context.Context, c models.Contract) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO contracts (
			external_id, announcement_id, entity_id, supplier_id, title, description,
			contract_type, procedure_type, contract_value,
			publication_date, signature_date, start_date, end_date, status,
			url, reference, location, nuts_code, duration_months,
			is_framework, observations, justification, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, NOW())
		ON CONFLICT (external_id) DO UPDATE SET
			contract_value = COALESCE(EXCLUDED.contract_value, contracts.contract_value),
			status         = COALESCE(EXCLUDED.status, contracts.status),
			updated_at     = NOW()
		RETURNING id
	`, c.ExternalID, c.AnnouncementID, c.EntityID, c.SupplierID, c.Title, c.Description,
		c.ContractType, c.ProcedureType, c.ContractValue,
		c.PublicationDate, c.SignatureDate, c.StartDate, c.EndDate, c.Status,
		c.URL, c.Reference, c.Location, c.NutsCode, c.DurationMonths,
		c.IsFramework, c.Observations, c.Justification).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert contract %s: %w", c.ExternalID, err)
	}
	return id, nil
}

func (s *Store) InsertModification(ctx context.Context, m models.ContractModification) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO contract_modifications (
			contract_id, modification_date, modification_type, description,
			original_value, new_value, original_deadline, new_deadline, justification
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, m.ContractID, m.ModificationDate, m.ModificationType, m.Description,
		m.OriginalValue, m.NewValue, m.OriginalDeadline, m.NewDeadline, m.Justification).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert modification for contract %d: %w", m.ContractID, err)
	}
	return id, nil
}

func (s *Store) UpdateContractValue(ctx context.Context, contractID int64, value float64) error {
	_, err := s.q.Exec(ctx,
		`UPDATE contracts SET contract_value = $2, updated_at = NOW() WHERE id = $1`,
		contractID, value)
	if err != nil {
		return fmt.Errorf("update contract %d value: %w", contractID, err)
	}
	return nil
}

func (s *Store) FindAnnouncementID(ctx context.Context, externalID string) (int64, bool, error) {
	return s.findID(ctx, `SELECT id FROM announcements WHERE external_id = $1`, externalID)
}

func (s *Store) FindContractID(ctx context.Context, externalID string) (int64, bool, error) {
	return s.findID(ctx, `SELECT id FROM contracts WHERE external_id = $1`, externalID)
}

func (s *Store) findID(ctx context.Context, query, externalID string) (int64, bool, error) {
	var id int64
	err := s.q.QueryRow(ctx, query, externalID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// UpsertCPVCode stores a CPV code, keeping the first non-null
// description seen and filling it in later when one finally arrives.
func (s *Store) UpsertCPVCode(ctx context.Context, cpv models.CPVCode) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO cpv_codes (code, description)
		VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET
			description = COALESCE(EXCLUDED.description, cpv_codes.description)
	`, cpv.Code, cpv.Description)
	if err != nil {
		return fmt.Errorf("upsert cpv %s: %w", cpv.Code, err)
	}
	return err
}

func (s *Store) LinkAnnouncementCPV(ctx context.Context, announcementID int64, code string) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO announcement_cpv (announcement_id, cpv_code)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, announcementID, code)
	return err
}

func (s *Store) LinkContractCPV(ctx context.Context, contractID int64, code string) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO contract_cpv (contract_id, cpv_code)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, contractID, code)
	return err
}

func (s *Store) LinkContractCompetitor(ctx context.Context, contractID, entityID int64) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO contract_competitors (contract_id, entity_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, contractID, entityID)
	return err
}

// SaveRunReport records a run's outcome, keeping the full report as
// JSONB alongside the queryable summary columns.
func (s *Store) SaveRunReport(ctx context.Context, report models.RunReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO etl_runs (
			run_id, year, status, error, started_at, finished_at, duration_seconds,
			total_fetched, total_validated, total_processed, total_errors, report
		)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (run_id) DO UPDATE SET
			status           = EXCLUDED.status,
			error            = EXCLUDED.error,
			finished_at      = EXCLUDED.finished_at,
			duration_seconds = EXCLUDED.duration_seconds,
			total_fetched    = EXCLUDED.total_fetched,
			total_validated  = EXCLUDED.total_validated,
			total_processed  = EXCLUDED.total_processed,
			total_errors     = EXCLUDED.total_errors,
			report           = EXCLUDED.report
	`, report.RunID, report.Year, report.Status, report.Error,
		report.StartTime, report.EndTime, report.DurationSecs,
		report.TotalFetched, report.TotalValidated, report.TotalProcessed, report.TotalErrors,
		payload)
	if err != nil {
		return fmt.Errorf("save run report %s: %w", report.RunID, err)
	}
	return nil
}

// RecentRuns returns the most recent run reports, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]models.RunReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.q.Query(ctx,
		`SELECT report FROM etl_runs ORDER BY started_at DESC NULLS LAST LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var reports []models.RunReport
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var report models.RunReport
		if err := json.Unmarshal(payload, &report); err != nil {
			return nil, fmt.Errorf("decode stored run report: %w", err)
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

// GetEntityByNIF loads one entity row, or nil when the NIF is unknown.
func (s *Store) GetEntityByNIF(ctx context.Context, nif string) (*models.Entity, error) {
	var e models.Entity
	err := s.q.QueryRow(ctx, `
		SELECT id, nif, name, address, postal_code, city, country, email, phone, website, entity_type, created_at, updated_at
		FROM entities WHERE nif = $1
	`, nif).Scan(&e.ID, &e.NIF, &e.Name, &e.Address, &e.PostalCode, &e.City, &e.Country,
		&e.Email, &e.Phone, &e.Website, &e.EntityType, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity %s: %w", nif, err)
	}
	return &e, nil
}

// GetStatistics summarizes the stored corpus for the stats endpoint and
// the CLI table.
func (s *Store) GetStatistics(ctx context.Context) (*models.Statistics, error) {
	stats := &models.Statistics{}

	err := s.q.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM entities),
			(SELECT COUNT(*) FROM announcements),
			(SELECT COUNT(*) FROM contracts),
			(SELECT COUNT(*) FROM contract_modifications)
	`).Scan(&stats.TotalEntities, &stats.TotalAnnouncements, &stats.TotalContracts, &stats.TotalModifications)
	if err != nil {
		return nil, fmt.Errorf("count rows: %w", err)
	}

	err = s.q.QueryRow(ctx, `
		SELECT MIN(publication_date), MAX(publication_date) FROM announcements
	`).Scan(&stats.EarliestAnnouncement, &stats.LatestAnnouncement)
	if err != nil {
		return nil, fmt.Errorf("announcement date range: %w", err)
	}

	err = s.q.QueryRow(ctx, `
		SELECT MIN(publication_date), MAX(publication_date),
		       SUM(contract_value), AVG(contract_value),
		       MIN(contract_value), MAX(contract_value)
		FROM contracts
	`).Scan(&stats.EarliestContract, &stats.LatestContract,
		&stats.TotalContractValue, &stats.AverageContractValue,
		&stats.MinContractValue, &stats.MaxContractValue)
	if err != nil {
		return nil, fmt.Errorf("contract aggregates: %w", err)
	}

	stats.TopContractingBodies, err = s.topEntities(ctx, `
		SELECT e.name, e.nif, COUNT(c.id) AS n, SUM(c.contract_value)
		FROM contracts c JOIN entities e ON e.id = c.entity_id
		GROUP BY e.name, e.nif ORDER BY n DESC LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("top contracting bodies: %w", err)
	}

	stats.TopSuppliers, err = s.topEntities(ctx, `
		SELECT e.name, e.nif, COUNT(c.id) AS n, SUM(c.contract_value) AS total
		FROM contracts c JOIN entities e ON e.id = c.supplier_id
		GROUP BY e.name, e.nif ORDER BY total DESC NULLS LAST LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("top suppliers: %w", err)
	}

	return stats, nil
}

func (s *Store) topEntities(ctx context.Context, query string) ([]models.EntityCount, error) {
	rows, err := s.q.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EntityCount
	for rows.Next() {
		var ec models.EntityCount
		var name *string
		if err := rows.Scan(&name, &ec.NIF, &ec.ContractCount, &ec.TotalValue); err != nil {
			return nil, err
		}
		if name != nil {
			ec.Name = *name
		}
		out = append(out, ec)
	}
	return out, rows.Err()
}
