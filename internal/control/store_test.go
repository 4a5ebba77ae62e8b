package control

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nerrad567/gray-logic-cell/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-cell/migrations"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "control.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background(), migrations.Source()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteStore(db.DB)
}

func TestSQLiteStore_SeededRow(t *testing.T) {
	s := newTestStore(t)

	st, err := s.Get(context.Background(), "CONVEYOR01")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if st.RunMode != RunModeStop || st.Direction != "FORWARD" {
		t.Errorf("seeded row = %+v, want STOP FORWARD", st)
	}
	if st.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not parsed")
	}
}

func TestSQLiteStore_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := State{EquipmentID: "CONVEYOR01", RunMode: "run", Direction: " reverse", Frequency: 12.34, Acceleration: 5, Deceleration: 7}
	if err := s.Upsert(ctx, want); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := s.Get(ctx, "CONVEYOR01")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.RunMode != RunModeRun || got.Direction != "REVERSE" {
		t.Errorf("Get() mode/direction = %s/%s, want normalized RUN/REVERSE", got.RunMode, got.Direction)
	}
	if got.Frequency != 12.34 || got.Acceleration != 5 || got.Deceleration != 7 {
		t.Errorf("Get() setpoints = %v/%v/%v", got.Frequency, got.Acceleration, got.Deceleration)
	}

	if err := s.Upsert(ctx, State{}); err == nil {
		t.Error("Upsert() without equipment id should fail")
	}
}

func TestSQLiteStore_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "CONVEYOR99")
	if !errors.Is(err, ErrStateNotFound) {
		t.Errorf("Get() error = %v, want ErrStateNotFound", err)
	}
}
