// Package database provides SQLite connectivity for the cell controller.
//
// The store holds two tables owned by the wider cell:
//   - plc_control_state: one row per equipment id, written by the web tier
//     and polled by the control loop
//   - mission_plc_logs: append-only record of discrete PLC events
//
// Schema changes are versioned migration files applied through Migrate.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.Source()); err != nil {
//	    return err
//	}
package database
