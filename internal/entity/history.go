package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/timerly-core/internal/device"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// HistoryEntry is one recorded change of an entity's state.
type HistoryEntry struct {
	ID         int64             `json:"id"`
	UniqueID   string            `json:"unique_id"`
	Available  bool              `json:"available"`
	Running    bool              `json:"running"`
	EndMs      *int64            `json:"end_ms"`
	Attributes device.Properties `json:"attributes"`
	RecordedAt time.Time         `json:"recorded_at"`
}

// HistoryRepository stores entity state changes.
type HistoryRepository interface {
	Record(ctx context.Context, s State) error
	GetHistory(ctx context.Context, uniqueID string, limit int) ([]HistoryEntry, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteHistoryRepository implements HistoryRepository on the
// entity_state_history table.
type SQLiteHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteHistoryRepository creates a history repository.
func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{db: db}
}

// Record inserts a state snapshot.
func (r *SQLiteHistoryRepository) Record(ctx context.Context, s State) error {
	if s.UniqueID == "" {
		return fmt.Errorf("unique id is required")
	}
	attrs, err := json.Marshal(s.Attributes)
	if err != nil {
		return fmt.Errorf("marshalling attributes: %w", err)
	}
	at := s.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}

	var endMs sql.NullInt64
	if s.EndMs != nil {
		endMs = sql.NullInt64{Int64: *s.EndMs, Valid: true}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO entity_state_history (unique_id, available, running, end_ms, attributes, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.UniqueID, s.Available, s.Running, endMs, string(attrs), at.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// GetHistory returns recent entries, newest first. limit defaults to 50
// and is capped at 200.
func (r *SQLiteHistoryRepository) GetHistory(ctx context.Context, uniqueID string, limit int) ([]HistoryEntry, error) {
	if uniqueID == "" {
		return nil, fmt.Errorf("unique id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, unique_id, available, running, end_ms, attributes, recorded_at
		 FROM entity_state_history
		 WHERE unique_id = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		uniqueID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var (
			e        HistoryEntry
			endMs    sql.NullInt64
			attrs    string
			recorded string
		)
		if err := rows.Scan(&e.ID, &e.UniqueID, &e.Available, &e.Running, &endMs, &attrs, &recorded); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		if endMs.Valid {
			e.EndMs = device.Int64Ptr(endMs.Int64)
		}
		if err := json.Unmarshal([]byte(attrs), &e.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshalling attributes: %w", err)
		}
		if e.RecordedAt, err = parseTimestamp(recorded); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than olderThan and returns how many.
func (r *SQLiteHistoryRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := time.Now().UTC().Add(-olderThan).Format(timestampLayout)
	res, err := r.db.ExecContext(ctx, "DELETE FROM entity_state_history WHERE recorded_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
