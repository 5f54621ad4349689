package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/closerlabs/convoengine/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore implements Store on PostgreSQL via pgxpool.
// Connection URL comes from DATABASE_URL. Schema is created on connect.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings, and migrates.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("postgres store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS ce_records (
			session_id TEXT PRIMARY KEY,
			context    JSONB NOT NULL DEFAULT '{}',
			stage      TEXT NOT NULL DEFAULT 'discovery',
			turn_count INT NOT NULL DEFAULT 0,
			version    BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS ce_facts (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			email      TEXT NOT NULL,
			fact_text  TEXT NOT NULL,
			category   TEXT NOT NULL DEFAULT '',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS ce_facts_email_idx ON ce_facts (email, created_at DESC);

		CREATE TABLE IF NOT EXISTS ce_audit (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			action     TEXT NOT NULL,
			details    JSONB NOT NULL DEFAULT '{}',
			timestamp  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// ── Record Store ────────────────────────────────────────────

func (s *PostgresStore) GetRecord(ctx context.Context, sessionID string) (*models.ContextRecord, error) {
	var (
		rec     models.ContextRecord
		ctxJSON []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, context, stage, turn_count, version, created_at, updated_at
		FROM ce_records WHERE session_id = $1`, sessionID).
		Scan(&rec.SessionID, &ctxJSON, &rec.Stage, &rec.TurnCount, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	if err := json.Unmarshal(ctxJSON, &rec.Context); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) CreateRecord(ctx context.Context, rec *models.ContextRecord) error {
	ctxJSON, err := json.Marshal(rec.Context)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	if rec.Version == 0 {
		rec.Version = 1
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO ce_records (session_id, context, stage, turn_count, version)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.SessionID, ctxJSON, rec.Stage, rec.TurnCount, rec.Version)
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRecord(ctx context.Context, rec *models.ContextRecord) error {
	ctxJSON, err := json.Marshal(rec.Context)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE ce_records
		SET context = $2, stage = $3, turn_count = $4, version = version + 1, updated_at = NOW()
		WHERE session_id = $1`,
		rec.SessionID, ctxJSON, rec.Stage, rec.TurnCount)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", rec.SessionID, ErrNotFound)
	}
	rec.Version++
	return nil
}

func (s *PostgresStore) UpdateRecordWithVersionCheck(ctx context.Context, sessionID string, mutate func(*models.ContextRecord) error, opts VersionCheckOptions) error {
	if opts.Attempts <= 0 {
		opts = DefaultVersionCheck
	}

	var lastErr error
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		rec, err := s.GetRecord(ctx, sessionID)
		if err != nil {
			return err
		}
		expected := rec.Version

		if err := mutate(rec); err != nil {
			return fmt.Errorf("mutate record: %w", err)
		}

		ctxJSON, err := json.Marshal(rec.Context)
		if err != nil {
			return fmt.Errorf("encode context: %w", err)
		}

		tag, err := s.pool.Exec(ctx, `
			UPDATE ce_records
			SET context = $2, stage = $3, turn_count = $4, version = version + 1, updated_at = NOW()
			WHERE session_id = $1 AND version = $5`,
			sessionID, ctxJSON, rec.Stage, rec.TurnCount, expected)
		if err != nil {
			return fmt.Errorf("versioned update: %w", err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
		lastErr = ErrVersionConflict

		if opts.Backoff > 0 && attempt < opts.Attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.Backoff * time.Duration(attempt)):
			}
		}
	}
	return fmt.Errorf("session %s after %d attempts: %w", sessionID, opts.Attempts, lastErr)
}

// ── Fact Store ──────────────────────────────────────────────

func (s *PostgresStore) InsertFacts(ctx context.Context, facts []models.Fact) error {
	for _, f := range facts {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO ce_facts (id, session_id, email, fact_text, category, confidence)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New().String(), f.SessionID, f.Email, f.Text, f.Category, f.Confidence)
		if err != nil {
			return fmt.Errorf("insert fact: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListFactsByEmail(ctx context.Context, email string, limit int) ([]models.Fact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, email, fact_text, category, confidence, created_at
		FROM ce_facts WHERE email = $1
		ORDER BY created_at DESC LIMIT $2`, email, limit)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer rows.Close()

	var out []models.Fact
	for rows.Next() {
		var f models.Fact
		if err := rows.Scan(&f.SessionID, &f.Email, &f.Text, &f.Category, &f.Confidence, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ── Audit Store ─────────────────────────────────────────────

func (s *PostgresStore) InsertAuditEvent(ctx context.Context, ev *models.AuditEvent) error {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		details = []byte("{}")
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO ce_audit (id, session_id, action, details, timestamp)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.SessionID, ev.Action, details, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ── Lifecycle ───────────────────────────────────────────────

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
