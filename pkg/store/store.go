// Package store is the persistence collaborator: a narrow save/fetch
// surface over review templates and session transcripts on Postgres. The
// session core never touches schema details.
package store

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/screenvox/screenvox/pkg/transcript"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ReviewTemplate is a saved priming template.
type ReviewTemplate struct {
	ID          uuid.UUID
	Name        string
	Instruction string
	CreatedAt   time.Time
}

// SessionRecord is one finished review session.
type SessionRecord struct {
	ID      uuid.UUID
	Model   string
	Started time.Time
	Ended   time.Time
	Summary string
}

// Store wraps a pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects and pings. Call Migrate before first use.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Migrate applies the embedded migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	s.logger.Info("store migrations applied")
	return nil
}

// SaveTemplate upserts a template by name.
func (s *Store) SaveTemplate(ctx context.Context, name, instruction string) (uuid.UUID, error) {
	id := uuid.New()
	err := s.pool.QueryRow(ctx, `
		INSERT INTO review_templates (id, name, instruction)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET instruction = EXCLUDED.instruction
		RETURNING id`,
		id, name, instruction,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("save template %q: %w", name, err)
	}
	return id, nil
}

// GetTemplate fetches a template by name.
func (s *Store) GetTemplate(ctx context.Context, name string) (ReviewTemplate, error) {
	var t ReviewTemplate
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, instruction, created_at
		FROM review_templates WHERE name = $1`,
		name,
	).Scan(&t.ID, &t.Name, &t.Instruction, &t.CreatedAt)
	if err == pgx.ErrNoRows {
		return ReviewTemplate{}, fmt.Errorf("template %q not found", name)
	}
	if err != nil {
		return ReviewTemplate{}, fmt.Errorf("get template %q: %w", name, err)
	}
	return t, nil
}

// ListTemplates returns all templates ordered by name.
func (s *Store) ListTemplates(ctx context.Context) ([]ReviewTemplate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, instruction, created_at
		FROM review_templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []ReviewTemplate
	for rows.Next() {
		var t ReviewTemplate
		if err := rows.Scan(&t.ID, &t.Name, &t.Instruction, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveSession persists a finished session with its ordered transcript in
// one transaction.
func (s *Store) SaveSession(ctx context.Context, record SessionRecord, entries []transcript.Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save session: %w", err)
	}
	defer tx.Rollback(ctx)

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO review_sessions (id, model, started_at, ended_at, summary)
		VALUES ($1, $2, $3, $4, $5)`,
		record.ID, record.Model, record.Started, record.Ended, record.Summary)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	for i, e := range entries {
		_, err = tx.Exec(ctx, `
			INSERT INTO transcript_entries (id, session_id, seq, kind, speaker, text, spoken_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New(), record.ID, i, string(e.Kind), string(e.Speaker), e.Text, e.At)
		if err != nil {
			return fmt.Errorf("save transcript entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save session: %w", err)
	}
	s.logger.Info("session persisted", "session_id", record.ID, "entries", len(entries))
	return nil
}

// GetSessionTranscript fetches the ordered transcript of a session.
func (s *Store) GetSessionTranscript(ctx context.Context, sessionID uuid.UUID) ([]transcript.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT kind, speaker, text, spoken_at
		FROM transcript_entries WHERE session_id = $1 ORDER BY seq`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	defer rows.Close()

	var out []transcript.Entry
	for rows.Next() {
		var e transcript.Entry
		var kind, speaker string
		if err := rows.Scan(&kind, &speaker, &e.Text, &e.At); err != nil {
			return nil, fmt.Errorf("scan transcript entry: %w", err)
		}
		e.Kind = transcript.Kind(kind)
		e.Speaker = transcript.Speaker(speaker)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
