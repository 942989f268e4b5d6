// Package audit records service calls and discovery cache changes in the
// audit_logs table and serves them back for the API.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actions written by the integration and the API.
const (
	ActionService       = "service"
	ActionDeviceAdded   = "device_added"
	ActionDeviceRemoved = "device_removed"
	ActionTimerType     = "timer_type"
)

// Outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	// timestampLayout is fixed-width so created_at sorts lexically.
	timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// AuditLog is one audit trail entry.
type AuditLog struct { //nolint:revive // audit.AuditLog reads better than audit.Log at call sites
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Target    string         `json:"target,omitempty"`
	Source    string         `json:"source"`
	Outcome   string         `json:"outcome"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter controls which audit logs List returns.
type Filter struct {
	Action string // optional: service, device_added, device_removed, timer_type
	Target string // optional: service name, device name or option
	Source string // optional: api, mqtt, mdns, static
	Limit  int    // default 50, max 200
	Offset int
}

// ListResult is one page of audit logs.
type ListResult struct {
	Logs   []AuditLog `json:"logs"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// Recorder is the write side used by the integration and the API.
type Recorder interface {
	Record(ctx context.Context, log *AuditLog) error
}

// Repository defines the audit log operations.
type Repository interface {
	Recorder
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteRepository stores audit logs in SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new audit log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Record inserts an entry. ID, Outcome and CreatedAt are filled in when empty.
func (r *SQLiteRepository) Record(ctx context.Context, log *AuditLog) error {
	if log == nil || log.Action == "" {
		return errors.New("audit action is required")
	}
	if log.ID == "" {
		log.ID = "aud-" + uuid.NewString()[:8]
	}
	if log.Outcome == "" {
		log.Outcome = OutcomeOK
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = r.now()
	}
	log.CreatedAt = log.CreatedAt.UTC()

	var details *string
	if len(log.Details) > 0 {
		b, err := json.Marshal(log.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		s := string(b)
		details = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, target, source, outcome, error, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.Action, nullableString(log.Target), log.Source, log.Outcome,
		nullableString(log.Error), details, log.CreatedAt.Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns audit logs matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	for _, c := range []struct{ column, value string }{
		{"action", filter.Action},
		{"target", filter.Target},
		{"source", filter.Source},
	} {
		if c.value != "" {
			conditions = append(conditions, c.column+" = ?")
			args = append(args, c.value)
		}
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_logs " + where //nolint:gosec // WHERE built from fixed column names
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	query := `SELECT id, action, target, source, outcome, error, details, created_at
		FROM audit_logs ` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?` //nolint:gosec // WHERE built from fixed column names
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	logs := []AuditLog{}
	for rows.Next() {
		var (
			log                   AuditLog
			target, errText, dets sql.NullString
			createdAt             string
		)
		if err := rows.Scan(&log.ID, &log.Action, &target, &log.Source, &log.Outcome,
			&errText, &dets, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit log: %w", err)
		}
		log.Target = target.String
		log.Error = errText.String
		if dets.Valid && dets.String != "" {
			var details map[string]any
			if json.Unmarshal([]byte(dets.String), &details) == nil {
				log.Details = details
			}
		}
		t, err := time.Parse(timestampLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing audit log timestamp %q: %w", createdAt, err)
		}
		log.CreatedAt = t
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}

	return &ListResult{
		Logs:   logs,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// Prune deletes entries older than the given age and returns how many
// were removed.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := r.now().UTC().Add(-olderThan).Format(timestampLayout)
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning audit logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning audit logs: %w", err)
	}
	return n, nil
}
