// Package audit records every service call dispatched by the bridge in the
// service_calls table and lists them for the HTTP API.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Entry is one recorded service call.
type Entry struct {
	ID       int64          `json:"id"`
	Domain   string         `json:"domain"`
	Service  string         `json:"service"`
	Data     map[string]any `json:"data,omitempty"`
	Success  bool           `json:"success"`
	Error    string         `json:"error,omitempty"`
	Source   string         `json:"source"`
	CalledAt time.Time      `json:"called_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Domain  string
	Service string
	Source  string
	Limit   int // default 50, max 200
	Offset  int
}

// ListResult is a page of entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores and lists service call entries.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

const (
	defaultLimit = 50
	maxLimit     = 200
)

// SQLiteRepository implements Repository on the service_calls table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an entry and sets its ID. CalledAt defaults to now.
func (r *SQLiteRepository) Create(ctx context.Context, entry *Entry) error {
	if entry.CalledAt.IsZero() {
		entry.CalledAt = time.Now().UTC()
	}

	data := "{}"
	if entry.Data != nil {
		b, err := json.Marshal(entry.Data)
		if err != nil {
			return fmt.Errorf("marshalling service data: %w", err)
		}
		data = string(b)
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO service_calls (domain, service, data, success, error, source, called_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Domain, entry.Service, data, boolToInt(entry.Success),
		nullableString(entry.Error), entry.Source,
		entry.CalledAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting service call: %w", err)
	}

	if entry.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("reading service call id: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// List returns entries matching the filter, newest first.
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
	if filter.Domain != "" {
		conditions = append(conditions, "domain = ?")
		args = append(args, filter.Domain)
	}
	if filter.Service != "" {
		conditions = append(conditions, "service = ?")
		args = append(args, filter.Service)
	}
	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, filter.Source)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM service_calls " + where //nolint:gosec // WHERE built from parameterised conditions
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting service calls: %w", err)
	}

	query := "SELECT id, domain, service, data, success, error, source, called_at FROM service_calls " + //nolint:gosec // WHERE built from parameterised conditions
		where + " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying service calls: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e        Entry
			data     string
			success  int
			errText  sql.NullString
			calledAt string
		)
		if err := rows.Scan(&e.ID, &e.Domain, &e.Service, &data, &success, &errText, &e.Source, &calledAt); err != nil {
			return nil, fmt.Errorf("scanning service call: %w", err)
		}

		e.Success = success == 1
		e.Error = errText.String
		if data != "" && data != "{}" {
			var decoded map[string]any
			if json.Unmarshal([]byte(data), &decoded) == nil {
				e.Data = decoded
			}
		}
		if e.CalledAt, err = time.Parse(time.RFC3339Nano, calledAt); err != nil {
			return nil, fmt.Errorf("parsing service call timestamp %q: %w", calledAt, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating service calls: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
