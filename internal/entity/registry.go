package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// timestampLayout is fixed-width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Record is a registered entity as stored in the entities table.
type Record struct {
	UniqueID    string    `json:"unique_id"`
	EntityID    string    `json:"entity_id"`
	DeviceName  string    `json:"device_name"`
	Address     string    `json:"address"`
	Port        int       `json:"port"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// Registry persists registered entities.
//
// Implementations must be thread-safe and use UTC timestamps.
type Registry interface {
	// Register inserts the record or, if the unique ID exists, refreshes its
	// identity fields and LastSeenAt while keeping FirstSeenAt.
	Register(ctx context.Context, rec Record) error

	// Get returns the record for uniqueID or ErrNotFound.
	Get(ctx context.Context, uniqueID string) (*Record, error)

	// List returns every record ordered by device name.
	List(ctx context.Context) ([]Record, error)
}

// SQLiteRegistry implements Registry on the entities table.
type SQLiteRegistry struct {
	db *sql.DB
}

// NewSQLiteRegistry creates a registry on an open, migrated database.
func NewSQLiteRegistry(db *sql.DB) *SQLiteRegistry {
	return &SQLiteRegistry{db: db}
}

// Register implements Registry.
func (r *SQLiteRegistry) Register(ctx context.Context, rec Record) error {
	if rec.UniqueID == "" {
		return fmt.Errorf("unique id is required")
	}
	seen := rec.LastSeenAt
	if seen.IsZero() {
		seen = time.Now()
	}
	ts := seen.UTC().Format(timestampLayout)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO entities (unique_id, entity_id, device_name, address, port, first_seen_at, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(unique_id) DO UPDATE SET
		     entity_id = excluded.entity_id,
		     device_name = excluded.device_name,
		     address = excluded.address,
		     port = excluded.port,
		     last_seen_at = excluded.last_seen_at`,
		rec.UniqueID, rec.EntityID, rec.DeviceName, rec.Address, rec.Port, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("registering entity: %w", err)
	}
	return nil
}

// Get implements Registry.
func (r *SQLiteRegistry) Get(ctx context.Context, uniqueID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT unique_id, entity_id, device_name, address, port, first_seen_at, last_seen_at
		 FROM entities WHERE unique_id = ?`,
		uniqueID,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List implements Registry.
func (r *SQLiteRegistry) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT unique_id, entity_id, device_name, address, port, first_seen_at, last_seen_at
		 FROM entities ORDER BY device_name`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var first, last string
	if err := row.Scan(&rec.UniqueID, &rec.EntityID, &rec.DeviceName, &rec.Address, &rec.Port, &first, &last); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning entity: %w", err)
	}
	var err error
	if rec.FirstSeenAt, err = parseTimestamp(first); err != nil {
		return nil, err
	}
	if rec.LastSeenAt, err = parseTimestamp(last); err != nil {
		return nil, err
	}
	return &rec, nil
}

// parseTimestamp parses a timestamp stored in SQLite.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp: %w", err)
	}
	return ts, nil
}
