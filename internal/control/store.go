package control

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Run modes stored in plc_control_state.
const (
	RunModeStop    = "STOP"
	RunModeRestart = "RESTART"
	RunModeRun     = "RUN"
	RunModeMove    = "MOVE"
	RunModeReady   = "READY"
)

// ErrStateNotFound is returned when the equipment has no control row.
var ErrStateNotFound = errors.New("control: state not found")

// State is one row of plc_control_state.
type State struct {
	EquipmentID  string    `json:"equipment_id"`
	RunMode      string    `json:"run_mode"`
	Direction    string    `json:"direction"`
	Frequency    float64   `json:"frequency"`
	Acceleration float64   `json:"acceleration"`
	Deceleration float64   `json:"deceleration"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store reads the control state.
type Store interface {
	Get(ctx context.Context, equipmentID string) (State, error)
}

// SQLiteStore is the SQLite-backed Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on an open, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Get returns the control row for equipmentID with run mode and direction
// upper-cased.
func (s *SQLiteStore) Get(ctx context.Context, equipmentID string) (State, error) {
	var st State
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT equipment_id, run_mode, direction, frequency, acceleration, deceleration, updated_at
		 FROM plc_control_state WHERE equipment_id = ?`, equipmentID,
	).Scan(&st.EquipmentID, &st.RunMode, &st.Direction, &st.Frequency, &st.Acceleration, &st.Deceleration, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, fmt.Errorf("%w: %s", ErrStateNotFound, equipmentID)
	}
	if err != nil {
		return State{}, fmt.Errorf("querying control state: %w", err)
	}

	st.RunMode = strings.ToUpper(strings.TrimSpace(st.RunMode))
	st.Direction = strings.ToUpper(strings.TrimSpace(st.Direction))
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		st.UpdatedAt = t
	}
	return st, nil
}

// Upsert writes st, replacing any existing row for its equipment.
func (s *SQLiteStore) Upsert(ctx context.Context, st State) error {
	if st.EquipmentID == "" {
		return errors.New("control: equipment id is required")
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plc_control_state (equipment_id, run_mode, direction, frequency, acceleration, deceleration, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(equipment_id) DO UPDATE SET
		   run_mode = excluded.run_mode,
		   direction = excluded.direction,
		   frequency = excluded.frequency,
		   acceleration = excluded.acceleration,
		   deceleration = excluded.deceleration,
		   updated_at = excluded.updated_at`,
		st.EquipmentID, st.RunMode, st.Direction, st.Frequency, st.Acceleration, st.Deceleration,
		st.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting control state: %w", err)
	}
	return nil
}
