package eventlog

import (
	"context"
	"fmt"
)

// Logger is the logging surface the Recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder appends PLC-sourced events. A nil Recorder or one without a
// repository records nothing, so components can run without a database.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a Recorder writing to repo.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{repo: repo, logger: logger}
}

// Record appends one event for equipmentID. Failures are logged and
// returned; callers usually carry on.
func (r *Recorder) Record(ctx context.Context, equipmentID, description string) error {
	if r == nil || r.repo == nil {
		return nil
	}
	err := r.repo.Create(ctx, &Entry{
		EquipmentID: equipmentID,
		Source:      SourcePLC,
		Description: description,
	})
	if err != nil {
		r.logger.Warn("event log write failed", "equipment_id", equipmentID, "description", description, "error", err)
		return fmt.Errorf("recording %s/%s: %w", equipmentID, description, err)
	}
	return nil
}
