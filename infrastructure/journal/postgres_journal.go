package journal

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/johncarlo20/growlink-sub002/domain/service"
)

const schema = `
CREATE TABLE IF NOT EXISTS provisioning_attempts (
	id              UUID PRIMARY KEY,
	organization_id TEXT NOT NULL,
	final_state     TEXT NOT NULL,
	error_class     TEXT NOT NULL DEFAULT '',
	started_at      TIMESTAMPTZ NOT NULL,
	duration_ms     BIGINT NOT NULL
)`

const insertAttempt = `
INSERT INTO provisioning_attempts (id, organization_id, final_state, error_class, started_at, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6)`

// PostgresJournal is an insert-only audit journal of provisioning attempts.
// It implements service.AttemptJournal.
type PostgresJournal struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open connects to the journal database and ensures the schema exists.
func Open(dsn string, logger *zap.Logger) (*PostgresJournal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: connect: %w", err)
	}
	j := &PostgresJournal{db: db, logger: logger.Named("attempt_journal")}
	if err := j.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// NewWithDB wraps an existing connection, for tests and shared pools.
func NewWithDB(db *sqlx.DB, logger *zap.Logger) *PostgresJournal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresJournal{db: db, logger: logger.Named("attempt_journal")}
}

func (j *PostgresJournal) migrate(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("journal: migrate: %w", err)
	}
	return nil
}

// RecordAttempt inserts one attempt row. Rows are never updated or deleted.
func (j *PostgresJournal) RecordAttempt(ctx context.Context, rec service.AttemptRecord) error {
	_, err := j.db.ExecContext(ctx, insertAttempt,
		rec.ID,
		rec.OrganizationID,
		string(rec.FinalState),
		rec.ErrorClass,
		rec.StartedAt,
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("journal: insert attempt %s: %w", rec.ID, err)
	}
	return nil
}

// Close releases the database connection.
func (j *PostgresJournal) Close() error {
	return j.db.Close()
}
