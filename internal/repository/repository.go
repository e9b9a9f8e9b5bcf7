// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := NewWithDB(db, cfg.Driver)

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// NewWithDB wraps an open database handle. Migrations are not run.
func NewWithDB(db *sql.DB, driver string) *SQLRepository {
	return &SQLRepository{db: db, driver: driver}
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// PersistCase writes the case and its audit events in one transaction.
func (r *SQLRepository) PersistCase(ctx context.Context, c *domain.Case, events []domain.AuditEvent) (err error) {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: case id is required", domain.ErrInvalidInput)
	}

	classification, err := json.Marshal(c.Classification)
	if err != nil {
		return fmt.Errorf("failed to marshal classification: %w", err)
	}
	recommendation, err := json.Marshal(c.Recommendation)
	if err != nil {
		return fmt.Errorf("failed to marshal recommendation: %w", err)
	}
	enrichment, err := json.Marshal(c.Enrichment)
	if err != nil {
		return fmt.Errorf("failed to marshal enrichment: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	caseQuery := `
		INSERT INTO dispute_cases (
			id, external_ref, customer_id, merchant_id,
			amount_minor, currency, narrative, truncated, status,
			classification_label, recommendation_action,
			classification, recommendation, enrichment,
			total_cost_usd, token_usage, latency_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, r.rebind(caseQuery),
		c.ID, c.ExternalRef, c.CustomerID, c.MerchantID,
		c.AmountMinor, c.Currency, c.Narrative, c.Truncated, string(c.Status),
		c.Classification.Label, c.Recommendation.Label,
		string(classification), string(recommendation), string(enrichment),
		c.TotalCostUSD, c.TokenUsage, c.LatencyMs, c.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert case: %w", err)
	}

	eventQuery := r.rebind(`
		INSERT INTO audit_events (
			id, case_id, seq, step, timestamp, latency_ms, success, detail
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	for i, ev := range events {
		id := ev.ID
		if id == "" {
			id = uuid.New().String()
		}
		var detail []byte
		if ev.Detail != nil {
			detail, err = json.Marshal(ev.Detail)
			if err != nil {
				return fmt.Errorf("failed to marshal audit detail: %w", err)
			}
		}
		_, err = tx.ExecContext(ctx, eventQuery,
			id, c.ID, i, string(ev.Step), ev.Timestamp.UTC(), ev.LatencyMs, ev.Success, nullString(detail),
		)
		if err != nil {
			return fmt.Errorf("failed to insert audit event: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit case: %w", err)
	}
	return nil
}

const caseColumns = `
	id, external_ref, customer_id, merchant_id,
	amount_minor, currency, narrative, truncated, status,
	classification, recommendation, enrichment,
	total_cost_usd, token_usage, latency_ms, created_at
`

// GetCase retrieves a case by ID.
func (r *SQLRepository) GetCase(ctx context.Context, caseID string) (*domain.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM dispute_cases WHERE id = ?`

	c, err := scanCase(r.db.QueryRowContext(ctx, r.rebind(query), caseID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCases returns the most recent cases, newest first.
func (r *SQLRepository) ListCases(ctx context.Context, limit int) ([]*domain.Case, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `SELECT ` + caseColumns + ` FROM dispute_cases ORDER BY created_at DESC LIMIT ` + strconv.Itoa(limit)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// ListAuditEvents returns a case's audit events in execution order.
func (r *SQLRepository) ListAuditEvents(ctx context.Context, caseID string) ([]domain.AuditEvent, error) {
	query := `
		SELECT id, case_id, step, timestamp, latency_ms, success, detail
		FROM audit_events
		WHERE case_id = ?
		ORDER BY seq ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.AuditEvent{}
	for rows.Next() {
		var ev domain.AuditEvent
		var step string
		var detail sql.NullString
		if err := rows.Scan(&ev.ID, &ev.CaseID, &step, &ev.Timestamp, &ev.LatencyMs, &ev.Success, &detail); err != nil {
			return nil, err
		}
		ev.Step = domain.StepName(step)
		if detail.Valid && detail.String != "" {
			_ = json.Unmarshal([]byte(detail.String), &ev.Detail)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// SaveTransaction stores a ledger transaction.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.LedgerTransaction) error {
	if tx == nil || tx.CustomerID == "" {
		return fmt.Errorf("%w: customer id is required", domain.ErrInvalidInput)
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}

	query := `
		INSERT INTO transaction_ledger (
			id, customer_id, merchant_id, amount_minor, currency,
			status, transaction_type, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.CustomerID, tx.MerchantID, tx.AmountMinor, tx.Currency,
		tx.Status, tx.Type, tx.OccurredAt.UTC(),
	)
	return err
}

// CountTransactions counts a customer's ledger transactions since a time.
func (r *SQLRepository) CountTransactions(ctx context.Context, customerID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM transaction_ledger
		WHERE customer_id = ? AND occurred_at >= ?
	`
	var count int
	if err := r.db.QueryRowContext(ctx, r.rebind(query), customerID, since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// CountPriorDisputes counts stored cases for a customer other than the
// given case.
func (r *SQLRepository) CountPriorDisputes(ctx context.Context, customerID string, excludeCaseID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM dispute_cases
		WHERE customer_id = ? AND id <> ?
	`
	var count int
	if err := r.db.QueryRowContext(ctx, r.rebind(query), customerID, excludeCaseID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count prior disputes: %w", err)
	}
	return count, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*domain.Case, error) {
	var c domain.Case
	var externalRef, customerID, merchantID sql.NullString
	var status, classification, recommendation, enrichment string

	err := row.Scan(
		&c.ID, &externalRef, &customerID, &merchantID,
		&c.AmountMinor, &c.Currency, &c.Narrative, &c.Truncated, &status,
		&classification, &recommendation, &enrichment,
		&c.TotalCostUSD, &c.TokenUsage, &c.LatencyMs, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.ExternalRef = externalRef.String
	c.CustomerID = customerID.String
	c.MerchantID = merchantID.String
	c.Status = domain.Status(status)
	if err := json.Unmarshal([]byte(classification), &c.Classification); err != nil {
		return nil, fmt.Errorf("failed to decode classification: %w", err)
	}
	if err := json.Unmarshal([]byte(recommendation), &c.Recommendation); err != nil {
		return nil, fmt.Errorf("failed to decode recommendation: %w", err)
	}
	if err := json.Unmarshal([]byte(enrichment), &c.Enrichment); err != nil {
		return nil, fmt.Errorf("failed to decode enrichment: %w", err)
	}
	return &c, nil
}

func nullString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, strconv.Itoa(n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
