package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore persists decisions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to PostgreSQL and verifies the connection.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing connection (used by tests).
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the decisions table if it does not exist. Production
// deployments run the versioned migrations instead; this keeps dev setups
// working without a separate step.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS decisions (
			id           TEXT PRIMARY KEY,
			case_id      TEXT NOT NULL,
			agent_id     TEXT NOT NULL,
			action_type  TEXT NOT NULL,
			payload      JSONB NOT NULL DEFAULT '{}',
			risk_score   INT NOT NULL,
			outcome      TEXT NOT NULL,
			resolver     TEXT NOT NULL,
			rationale    TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL,
			resolved_at  TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_decisions_resolved_at ON decisions(resolved_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("migrate decisions: %w", err)
	}
	return nil
}

// Record inserts a decision.
func (s *PostgresStore) Record(ctx context.Context, d *Decision) error {
	payload, err := json.Marshal(d.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, case_id, agent_id, action_type, payload,
			risk_score, outcome, resolver, rationale, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		d.ID, d.CaseID, d.AgentID, d.ActionType, payload,
		d.RiskScore, d.Outcome, d.Resolver, d.Rationale, d.CreatedAt, d.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// List returns up to limit decisions, newest first.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Decision, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, agent_id, action_type, payload,
			risk_score, outcome, resolver, rationale, created_at, resolved_at
		FROM decisions
		ORDER BY resolved_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []*Decision
	for rows.Next() {
		var d Decision
		var payload []byte
		if err := rows.Scan(&d.ID, &d.CaseID, &d.AgentID, &d.ActionType, &payload,
			&d.RiskScore, &d.Outcome, &d.Resolver, &d.Rationale, &d.CreatedAt, &d.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &d.Payload)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
