package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/admission/internal/decisions"
	"github.com/serroba/admission/internal/keys"
)

const schema = `
	CREATE TABLE IF NOT EXISTS admission_decisions (
		id             UUID PRIMARY KEY,
		algorithm      TEXT        NOT NULL,
		prefix         TEXT        NOT NULL,
		resource       TEXT        NOT NULL,
		subject        TEXT        NOT NULL,
		window_seconds BIGINT      NOT NULL,
		allowed        BOOLEAN     NOT NULL,
		decided_at     TIMESTAMPTZ NOT NULL,
		client_ip      TEXT
	);
	CREATE INDEX IF NOT EXISTS admission_decisions_identity_idx
		ON admission_decisions (prefix, resource, subject, decided_at);
`

// Postgres is a PostgreSQL implementation of decisions.Store.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a decision log over pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the decision table when it does not exist yet.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure decision schema: %w", err)
	}

	return nil
}

// Save inserts decision once per ID; saving a redelivered decision again is a no-op.
// Decisions published without an ID get a fresh one.
func (p *Postgres) Save(ctx context.Context, decision *decisions.Decision) error {
	query := `
		INSERT INTO admission_decisions
			(id, algorithm, prefix, resource, subject, window_seconds, allowed, decided_at, client_ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`

	id := decision.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	_, err := p.pool.Exec(ctx, query,
		id,
		decision.Algorithm,
		decision.Prefix,
		decision.Resource,
		decision.Subject,
		decision.WindowSeconds,
		decision.Allowed,
		decision.DecidedAt,
		nullableString(decision.ClientIP),
	)

	return err
}

// Counts reports how many decisions were admitted and denied for id since the given time.
func (p *Postgres) Counts(ctx context.Context, id keys.Identity, since time.Time) (allowed, denied int64, err error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE allowed),
			COUNT(*) FILTER (WHERE NOT allowed)
		FROM admission_decisions
		WHERE prefix = $1 AND resource = $2 AND subject = $3 AND decided_at >= $4
	`

	err = p.pool.QueryRow(ctx, query, id.Prefix, id.Resource, id.Subject, since).Scan(&allowed, &denied)
	if err != nil {
		return 0, 0, fmt.Errorf("count decisions: %w", err)
	}

	return allowed, denied, nil
}

// Ping checks database connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Shutdown closes the pool when the application stops.
func (p *Postgres) Shutdown() error {
	p.pool.Close()

	return nil
}

// Open connects to databaseURL and prepares the schema.
func Open(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	store := NewPostgres(pool)

	if err := store.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()

		return nil, err
	}

	return store, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}
