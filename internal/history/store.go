// Package history persists the mount-event journal in a local SQLite
// database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/PelicanWorks/mountkeeper/internal/models"
	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS mount_events (
	id TEXT PRIMARY KEY,
	profile_id TEXT NOT NULL,
	profile_name TEXT NOT NULL,
	event TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mount_events_profile ON mount_events(profile_id, created_at);
CREATE INDEX IF NOT EXISTS idx_mount_events_created ON mount_events(created_at);
`

// Store is a SQLite-backed journal of mount lifecycle events.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore opens (or creates) the journal database at path.
func NewStore(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "history").Logger(),
	}, nil
}

// Append implements the journal interface used by the mount manager.
func (s *Store) Append(ctx context.Context, event *models.HistoryEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mount_events (id, profile_id, profile_name, event, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.ProfileID, event.ProfileName, string(event.Event), event.Detail, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert mount event: %w", err)
	}
	return nil
}

// ListRecent returns the newest events, most recent first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]models.HistoryEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, profile_id, profile_name, event, detail, created_at
		 FROM mount_events ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query mount events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListByProfile returns the newest events for one profile, most recent
// first.
func (s *Store) ListByProfile(ctx context.Context, profileID string, limit int) ([]models.HistoryEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, profile_id, profile_name, event, detail, created_at
		 FROM mount_events WHERE profile_id = ? ORDER BY created_at DESC LIMIT ?`,
		profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("query profile events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]models.HistoryEvent, error) {
	var events []models.HistoryEvent
	for rows.Next() {
		var event models.HistoryEvent
		var kind string
		if err := rows.Scan(&event.ID, &event.ProfileID, &event.ProfileName, &kind, &event.Detail, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan mount event: %w", err)
		}
		event.Event = models.HistoryEventType(kind)
		events = append(events, event)
	}
	return events, rows.Err()
}

// Prune deletes events older than the retention window and returns the
// number removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	result, err := s.db.ExecContext(ctx, `DELETE FROM mount_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune mount events: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info().Int64("removed", removed).Msg("pruned mount events")
	}
	return removed, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
