// Package store persists transcripts and usage to Postgres. It is
// optional infrastructure: a nil *Store is valid and every method on
// it is a no-op, so callers without a database configured can skip the
// nil checks.
package store

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/vango-go/vai-translate/pkg/core/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists session transcripts and per-turn usage.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a connection pool for the given DSN, verifies it, and
// applies pending migrations.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrate(pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// migrate applies the embedded migrations through a database/sql
// handle borrowed from the pool. Closing the handle releases its
// connections back to the pool without closing it.
func migrate(pool *pgxpool.Pool) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	return goose.Up(db, "migrations")
}

// Close releases the connection pool. Safe on a nil store.
func (s *Store) Close() {
	if s == nil {
		return
	}
	s.pool.Close()
}

// Transcript is one saved conversation line.
type Transcript struct {
	ID        int64
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// SaveTranscript records one conversation line. Role is the speaker,
// user or assistant.
func (s *Store) SaveTranscript(ctx context.Context, sessionID, role, text string) error {
	if s == nil {
		return nil
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO transcripts (session_id, role, content) VALUES ($1, $2, $3)`,
		sessionID, role, text,
	)
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

// SaveUsage records one turn's token usage.
func (s *Store) SaveUsage(ctx context.Context, sessionID string, usage types.Usage) error {
	if s == nil {
		return nil
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO session_usage (session_id, input_tokens, output_tokens, total_tokens, cache_read_tokens, cost_usd)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sessionID, usage.InputTokens, usage.OutputTokens, usage.TotalTokens,
		usage.CacheReadTokens, usage.CostUSD,
	)
	if err != nil {
		return fmt.Errorf("save usage: %w", err)
	}
	return nil
}

// RecentTranscripts returns the latest transcript lines for a session,
// newest first. A non-positive limit defaults to 50.
func (s *Store) RecentTranscripts(ctx context.Context, sessionID string, limit int) ([]Transcript, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, content, created_at
		 FROM transcripts
		 WHERE session_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	var transcripts []Transcript
	for rows.Next() {
		var tr Transcript
		if err := rows.Scan(&tr.ID, &tr.SessionID, &tr.Role, &tr.Content, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		transcripts = append(transcripts, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcripts: %w", err)
	}

	return transcripts, nil
}
