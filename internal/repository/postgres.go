// Package repository persists an audit row for every terminal pipeline
// outcome. The audit trail is optional: when no database is configured the
// dispatcher runs without it.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Terminal outcomes recorded in the audit trail.
const (
	OutcomeAcked       = "acked"
	OutcomeQuarantined = "quarantined"
	OutcomeReprocessed = "reprocessed"
)

// ErrOutcomeNotFound is returned when no audit row exists for an entry.
var ErrOutcomeNotFound = errors.New("outcome not found")

// OutcomeRecord is one audit row: the terminal fate of a delivered entry.
type OutcomeRecord struct {
	EntryID    string
	EventType  string
	ClientID   string
	UserID     string
	Outcome    string
	Reason     string
	Attempt    int64
	RecordedAt time.Time
}

// PostgresRepository stores audit rows in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a pooled connection to the audit database.
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// RunMigrations applies all pending migrations from migrationsPath.
func RunMigrations(migrationsPath, connString string) error {
	m, err := migrate.New("file://"+migrationsPath, connString)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// RecordOutcome appends one audit row. RecordedAt is set here if the caller
// left it zero.
func (r *PostgresRepository) RecordOutcome(ctx context.Context, rec OutcomeRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO event_audit (entry_id, event_type, client_id, user_id, outcome, reason, attempt, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		rec.EntryID, rec.EventType, rec.ClientID, rec.UserID,
		rec.Outcome, rec.Reason, rec.Attempt, rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}

	return nil
}

// LatestOutcome returns the most recent audit row for entryID.
func (r *PostgresRepository) LatestOutcome(ctx context.Context, entryID string) (*OutcomeRecord, error) {
	query := `
		SELECT entry_id, event_type, client_id, user_id, outcome, reason, attempt, recorded_at
		FROM event_audit
		WHERE entry_id = $1
		ORDER BY recorded_at DESC
		LIMIT 1
	`

	rec := &OutcomeRecord{}
	err := r.pool.QueryRow(ctx, query, entryID).Scan(
		&rec.EntryID, &rec.EventType, &rec.ClientID, &rec.UserID,
		&rec.Outcome, &rec.Reason, &rec.Attempt, &rec.RecordedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOutcomeNotFound
		}
		return nil, fmt.Errorf("failed to get outcome: %w", err)
	}

	return rec, nil
}

// ListOutcomes retrieves a page of audit rows, newest first, optionally
// filtered by outcome.
func (r *PostgresRepository) ListOutcomes(ctx context.Context, outcome string, limit, offset int) ([]*OutcomeRecord, error) {
	query := `
		SELECT entry_id, event_type, client_id, user_id, outcome, reason, attempt, recorded_at
		FROM event_audit
		WHERE ($1 = '' OR outcome = $1)
		ORDER BY recorded_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, outcome, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	records := []*OutcomeRecord{}
	for rows.Next() {
		rec := &OutcomeRecord{}
		if err := rows.Scan(
			&rec.EntryID, &rec.EventType, &rec.ClientID, &rec.UserID,
			&rec.Outcome, &rec.Reason, &rec.Attempt, &rec.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return records, nil
}

// Close closes the database connection pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
