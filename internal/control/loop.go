package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-cell/internal/plc"
	"github.com/nerrad567/gray-logic-cell/internal/tasks"
)

// Actuator runs conveyor sequences. Satisfied by *plc.Actuator.
type Actuator interface {
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Move(ctx context.Context, dir plc.Direction) error
	ApplySetpoints(ctx context.Context, s plc.Setpoints) error
}

// EventLog records events. Satisfied by *eventlog.Recorder.
type EventLog interface {
	Record(ctx context.Context, equipmentID, description string) error
}

// Logger is the logging surface the loop needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopEvents struct{}

func (noopEvents) Record(context.Context, string, string) error { return nil }

// Event descriptions.
const (
	EventConveyorStart = "Conveyor START"
)

// Options configures a Loop.
type Options struct {
	Store       Store
	Actuator    Actuator
	EquipmentID string
	Interval    time.Duration

	// Tasks runs manual starts requested by the HMI watcher.
	Tasks *tasks.Supervisor

	Events EventLog
	Logger Logger
}

// Snapshot is the loop's view of the control state, for the API.
type Snapshot struct {
	State         State     `json:"state"`
	LastRunMode   string    `json:"last_run_mode"`
	LastDirection string    `json:"last_direction"`
	Baselined     bool      `json:"baselined"`
	LastPoll      time.Time `json:"last_poll"`
	LastError     string    `json:"last_error,omitempty"`
	Dispatched    int       `json:"dispatched"`
}

// Loop polls the store and dispatches conveyor sequences on run mode edges.
type Loop struct {
	store       Store
	act         Actuator
	equipmentID string
	interval    time.Duration
	tasks       *tasks.Supervisor
	events      EventLog
	logger      Logger

	// Owned by the Run goroutine.
	baselined     bool
	lastRunMode   string
	lastDirection string

	mu   sync.RWMutex
	snap Snapshot
}

// NewLoop creates a Loop.
func NewLoop(opts Options) (*Loop, error) {
	if opts.Store == nil || opts.Actuator == nil {
		return nil, errors.New("control: store and actuator are required")
	}
	if opts.EquipmentID == "" {
		return nil, errors.New("control: equipment id is required")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("control: poll interval must be positive, got %s", opts.Interval)
	}

	l := &Loop{
		store:       opts.Store,
		act:         opts.Actuator,
		equipmentID: opts.EquipmentID,
		interval:    opts.Interval,
		tasks:       opts.Tasks,
		events:      opts.Events,
		logger:      opts.Logger,
	}
	if l.events == nil {
		l.events = noopEvents{}
	}
	if l.logger == nil {
		l.logger = noopLogger{}
	}
	return l, nil
}

// Run polls until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("control loop started", "equipment_id", l.equipmentID, "interval", l.interval)
	for {
		l.Tick(ctx)
		select {
		case <-ctx.Done():
			l.logger.Info("control loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one poll. A failed read leaves the edge-tracking state alone.
func (l *Loop) Tick(ctx context.Context) {
	st, err := l.store.Get(ctx, l.equipmentID)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Warn("reading control state failed", "equipment_id", l.equipmentID, "error", err)
		}
		l.update(func(s *Snapshot) {
			s.LastPoll = time.Now()
			s.LastError = err.Error()
		})
		return
	}

	// Setpoints are re-applied every poll so a PLC power cycle picks them up.
	sp := plc.Setpoints{Frequency: st.Frequency, Acceleration: st.Acceleration, Deceleration: st.Deceleration}
	if err := l.act.ApplySetpoints(ctx, sp); err != nil {
		l.logger.Warn("applying setpoints failed", "error", err)
	}

	if st.Direction != l.lastDirection {
		if l.lastDirection != "" {
			l.logger.Info("conveyor direction changed", "from", l.lastDirection, "to", st.Direction)
		}
		l.lastDirection = st.Direction
	}

	dispatched := false
	switch {
	case !l.baselined:
		l.baselined = true
		l.lastRunMode = st.RunMode
		l.logger.Info("control baseline recorded", "run_mode", st.RunMode, "direction", st.Direction)
	case st.RunMode != l.lastRunMode:
		l.logger.Info("run mode changed", "from", l.lastRunMode, "to", st.RunMode)
		l.lastRunMode = st.RunMode
		dispatched = l.dispatch(ctx, st)
	}

	l.update(func(s *Snapshot) {
		s.State = st
		s.LastRunMode = l.lastRunMode
		s.LastDirection = l.lastDirection
		s.Baselined = true
		s.LastPoll = time.Now()
		s.LastError = ""
		if dispatched {
			s.Dispatched++
		}
	})
}

// dispatch runs the sequence for a new run mode. It reports whether a
// sequence ran.
func (l *Loop) dispatch(ctx context.Context, st State) bool {
	var err error
	switch st.RunMode {
	case RunModeStop:
		err = l.act.Stop(ctx)
	case RunModeRestart:
		err = l.act.Restart(ctx)
	case RunModeRun, RunModeMove, RunModeReady:
		_ = l.events.Record(ctx, l.equipmentID, EventConveyorStart)
		dir, _ := plc.ParseDirection(st.Direction)
		err = l.act.Move(ctx, dir)
	default:
		l.logger.Debug("run mode needs no action", "run_mode", st.RunMode)
		return false
	}

	if err != nil {
		l.logger.Error("conveyor sequence failed", "run_mode", st.RunMode, "error", err)
	}
	return true
}

func (l *Loop) update(fn func(*Snapshot)) {
	l.mu.Lock()
	fn(&l.snap)
	l.mu.Unlock()
}

// Snapshot returns the state seen by the last poll.
func (l *Loop) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}

// StartResult reports what ManualStart did.
type StartResult struct {
	Started   bool   `json:"started"`
	RunMode   string `json:"run_mode"`
	Direction string `json:"direction"`
	Message   string `json:"message"`
}

// ManualStart runs the move sequence unless the stored run mode is STOP.
// A suppressed start is not an error.
func (l *Loop) ManualStart(ctx context.Context) (StartResult, error) {
	st, err := l.store.Get(ctx, l.equipmentID)
	if err != nil {
		return StartResult{}, fmt.Errorf("reading control state: %w", err)
	}

	res := StartResult{RunMode: st.RunMode, Direction: st.Direction}
	if strings.EqualFold(st.RunMode, RunModeStop) {
		res.Message = "manual start ignored: run mode is STOP"
		l.logger.Info("manual start suppressed", "run_mode", st.RunMode)
		return res, nil
	}

	dir, _ := plc.ParseDirection(st.Direction)
	if err := l.act.Move(ctx, dir); err != nil {
		res.Message = "move sequence failed"
		return res, fmt.Errorf("move sequence: %w", err)
	}
	res.Started = true
	res.Message = "conveyor started"
	l.logger.Info("manual start", "direction", st.Direction)
	return res, nil
}
