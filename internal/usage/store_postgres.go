package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store for PostgreSQL databases.
type PostgresStore struct {
	pool          *pgxpool.Pool
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewPostgresStore creates a PostgreSQL usage store. It creates the
// turn_usage table if missing and starts a background cleanup goroutine when
// retention is configured.
func NewPostgresStore(pool *pgxpool.Pool, retentionDays int) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS turn_usage (
			id UUID PRIMARY KEY,
			request_id TEXT NOT NULL,
			chat_id TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			finish_reason TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create turn_usage table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_turn_usage_timestamp ON turn_usage(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_turn_usage_chat_id ON turn_usage(chat_id)",
		"CREATE INDEX IF NOT EXISTS idx_turn_usage_provider ON turn_usage(provider)",
		"CREATE INDEX IF NOT EXISTS idx_turn_usage_model ON turn_usage(model)",
	}
	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &PostgresStore{
		pool:          pool,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}

	if retentionDays > 0 {
		go store.cleanupLoop()
	}

	return store, nil
}

// WriteBatch inserts entries, using a transaction for larger batches.
func (s *PostgresStore) WriteBatch(ctx context.Context, entries []*TurnUsage) error {
	if len(entries) == 0 {
		return nil
	}
	if len(entries) < 10 {
		return s.writeBatchSmall(ctx, entries)
	}
	return s.writeBatchLarge(ctx, entries)
}

const insertQuery = `
	INSERT INTO turn_usage (id, request_id, chat_id, timestamp, provider, model,
		input_tokens, output_tokens, total_tokens, finish_reason)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (id) DO NOTHING
`

func (s *PostgresStore) writeBatchSmall(ctx context.Context, entries []*TurnUsage) error {
	var errs []error
	for _, e := range entries {
		_, err := s.pool.Exec(ctx, insertQuery,
			e.ID, e.RequestID, e.ChatID, e.Timestamp, e.Provider, e.Model,
			e.InputTokens, e.OutputTokens, e.TotalTokens, e.FinishReason)
		if err != nil {
			slog.Warn("failed to insert usage entry", "error", err, "id", e.ID)
			errs = append(errs, fmt.Errorf("insert %s: %w", e.ID, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to insert %d of %d usage entries: %w", len(errs), len(entries), errors.Join(errs...))
	}
	return nil
}

func (s *PostgresStore) writeBatchLarge(ctx context.Context, entries []*TurnUsage) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var errs []error
	for _, e := range entries {
		_, err = tx.Exec(ctx, insertQuery,
			e.ID, e.RequestID, e.ChatID, e.Timestamp, e.Provider, e.Model,
			e.InputTokens, e.OutputTokens, e.TotalTokens, e.FinishReason)
		if err != nil {
			slog.Warn("failed to insert usage entry in batch", "error", err, "id", e.ID)
			errs = append(errs, fmt.Errorf("insert %s: %w", e.ID, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to insert %d of %d usage entries: %w", len(errs), len(entries), errors.Join(errs...))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Flush is a no-op for PostgreSQL as writes are synchronous.
func (s *PostgresStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the cleanup goroutine. The pool is owned by the caller.
func (s *PostgresStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
	})
	return nil
}

func (s *PostgresStore) cleanupLoop() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *PostgresStore) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	result, err := s.pool.Exec(ctx, "DELETE FROM turn_usage WHERE timestamp < $1", cutoff)
	if err != nil {
		slog.Error("failed to cleanup old usage entries", "error", err)
		return
	}
	if result.RowsAffected() > 0 {
		slog.Info("cleaned up old usage entries", "deleted", result.RowsAffected())
	}
}
