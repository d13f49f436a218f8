// Package catalog persists metadata about finalized recordings so the
// API can list and serve them across restarts.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nestcam/camerad/internal/config"
)

// ErrNotFound is returned when a recording id is unknown.
var ErrNotFound = errors.New("recording not found")

// Recording is one finalized clip on disk.
type Recording struct {
	ID          string    `db:"id" json:"id"`
	Path        string    `db:"path" json:"path"`
	TriggeredBy string    `db:"triggered_by" json:"triggeredBy"`
	Duration    float64   `db:"duration_seconds" json:"durationSeconds"`
	SizeBytes   int64     `db:"size_bytes" json:"sizeBytes"`
	Truncated   bool      `db:"truncated" json:"truncated"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

const schema = `
CREATE TABLE IF NOT EXISTS recordings (
	id               TEXT PRIMARY KEY,
	path             TEXT NOT NULL,
	triggered_by     TEXT NOT NULL,
	duration_seconds REAL NOT NULL,
	size_bytes       INTEGER NOT NULL,
	truncated        INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recordings_created_at ON recordings(created_at DESC);
`

// Store is the media catalog backed by an embedded SQLite database.
type Store struct {
	db  *sqlx.DB
	log *zap.SugaredLogger
}

// Open connects to the catalog database, retrying briefly in case the
// data directory is still being mounted at boot.
func Open(cfg config.CatalogConfig, log *zap.SugaredLogger) (*Store, error) {
	var db *sqlx.DB

	connect := func() error {
		var err error
		db, err = sqlx.Connect(cfg.Driver, cfg.DSN)
		return err
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	if err := backoff.Retry(connect, policy); err != nil {
		return nil, fmt.Errorf("open catalog %q: %w", cfg.DSN, err)
	}

	// SQLite tolerates exactly one writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply catalog schema: %w", err)
	}

	log.Infow("catalog opened", "driver", cfg.Driver, "dsn", cfg.DSN)
	return &Store{db: db, log: log}, nil
}

// Insert records a finalized recording.
func (s *Store) Insert(ctx context.Context, rec Recording) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO recordings
			(id, path, triggered_by, duration_seconds, size_bytes, truncated, created_at)
		VALUES
			(:id, :path, :triggered_by, :duration_seconds, :size_bytes, :truncated, :created_at)`,
		rec)
	if err != nil {
		return fmt.Errorf("insert recording %s: %w", rec.ID, err)
	}
	return nil
}

// Get fetches one recording by id.
func (s *Store) Get(ctx context.Context, id string) (Recording, error) {
	var rec Recording
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM recordings WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Recording{}, ErrNotFound
	}
	if err != nil {
		return Recording{}, fmt.Errorf("get recording %s: %w", id, err)
	}
	return rec, nil
}

// List returns the newest recordings first, capped at limit.
func (s *Store) List(ctx context.Context, limit int) ([]Recording, error) {
	if limit <= 0 {
		limit = 100
	}
	recs := []Recording{}
	err := s.db.SelectContext(ctx, &recs,
		`SELECT * FROM recordings ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	return recs, nil
}

// Delete removes a recording row. The caller owns the file on disk.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recording %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
