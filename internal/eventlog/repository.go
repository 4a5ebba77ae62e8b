// Package eventlog records discrete PLC events (sensor checks, conveyor
// start and stop) in the mission_plc_logs table.
package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SourcePLC is the source recorded for events raised by the cell controller.
const SourcePLC = "PLC"

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Entry is a single event log row.
type Entry struct {
	ID          int64     `json:"id" msgpack:"id"`
	EquipmentID string    `json:"equipment_id" msgpack:"equipment_id"`
	Source      string    `json:"source" msgpack:"source"`
	Description string    `json:"description" msgpack:"description"`
	CreatedAt   time.Time `json:"created_at" msgpack:"created_at"`
}

// Filter controls which entries to return.
type Filter struct {
	EquipmentID string    // optional: SENSER01, CONVEYOR01, ...
	Source      string    // optional
	Since       time.Time // optional: entries at or after this instant
	Limit       int       // default 50, max 500
	Offset      int
}

// ListResult is a page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries" msgpack:"entries"`
	Total   int     `json:"total" msgpack:"total"`
	Limit   int     `json:"limit" msgpack:"limit"`
	Offset  int     `json:"offset" msgpack:"offset"`
}

// Repository stores and queries event log entries.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository is the SQLite-backed Repository.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts entry and fills in its ID. CreatedAt defaults to now.
func (r *SQLiteRepository) Create(ctx context.Context, entry *Entry) error {
	if entry.EquipmentID == "" || entry.Description == "" {
		return errors.New("eventlog: equipment id and description are required")
	}
	if entry.Source == "" {
		entry.Source = SourcePLC
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO mission_plc_logs (equipment_id, source, description, created_at)
		 VALUES (?, ?, ?, ?)`,
		entry.EquipmentID, entry.Source, entry.Description,
		entry.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting event log entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading event log id: %w", err)
	}
	entry.ID = id
	return nil
}

// List returns entries matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 500 { //nolint:mnd // max page size
		filter.Limit = 500
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.EquipmentID != "" {
		conditions = append(conditions, "equipment_id = ?")
		args = append(args, filter.EquipmentID)
	}
	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, filter.Source)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM mission_plc_logs %s", where) //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting event log entries: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions
		"SELECT id, equipment_id, source, description, created_at FROM mission_plc_logs %s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying event log: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.EquipmentID, &e.Source, &e.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event log entry: %w", err)
		}
		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing event log timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event log: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
