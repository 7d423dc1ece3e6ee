// Package archive stores finished transcripts in Postgres.
package archive

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/vango-go/vai-maps-live/pkg/transcript"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the embedded goose migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Session is one archived run.
type Session struct {
	ID        uuid.UUID
	Model     string
	Voice     string
	StartedAt time.Time
	EndedAt   time.Time
	Turns     []transcript.Turn
}

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool, logger: logger.With("component", "archive")}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Migrate applies pending migrations.
func (s *Store) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	provider, err := goose.NewProvider(goose.DialectPostgres, db, Migrations())
	if err != nil {
		db.Close()
		return fmt.Errorf("create migration provider: %w", err)
	}
	defer provider.Close()

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		s.logger.Info("applied migration", "version", r.Source.Version, "path", r.Source.Path, "duration", r.Duration)
	}
	return nil
}

// SaveSession writes the session row and copies its turns in one transaction.
func (s *Store) SaveSession(ctx context.Context, sess Session) error {
	rows, err := turnRows(sess.ID, sess.Turns)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO sessions (id, model, voice, started_at, ended_at, turn_count)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sess.ID, sess.Model, sess.Voice, sess.StartedAt, sess.EndedAt, len(sess.Turns))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	if len(rows) > 0 {
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"turns"}, turnColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copy turns: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("archived session", "session_id", sess.ID, "turns", len(rows))
	return nil
}

var turnColumns = []string{"id", "session_id", "seq", "role", "text", "is_final", "created_at", "grounding", "tool_response"}

func turnRows(sessionID uuid.UUID, turns []transcript.Turn) ([][]any, error) {
	rows := make([][]any, 0, len(turns))
	for i, t := range turns {
		id, err := uuid.Parse(t.ID)
		if err != nil {
			id = uuid.New()
		}
		grounding, err := jsonOrNil(t.GroundingChunks, len(t.GroundingChunks) == 0)
		if err != nil {
			return nil, fmt.Errorf("encode grounding of turn %d: %w", i, err)
		}
		toolResp, err := jsonOrNil(t.ToolResponse, t.ToolResponse == nil)
		if err != nil {
			return nil, fmt.Errorf("encode tool response of turn %d: %w", i, err)
		}
		rows = append(rows, []any{id, sessionID, i, string(t.Role), t.Text, t.IsFinal, t.Timestamp, grounding, toolResp})
	}
	return rows, nil
}

func jsonOrNil(v any, empty bool) ([]byte, error) {
	if empty {
		return nil, nil
	}
	return json.Marshal(v)
}
