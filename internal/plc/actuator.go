package plc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-cell/internal/tasks"
)

const (
	// clearAttempts bounds retries of the clear half of a pulse.
	clearAttempts = 3
	// clearTimeout bounds the clear writes once the caller's context is gone.
	clearTimeout = 5 * time.Second
)

// ErrPulseNotSet is returned by Pulse when the set write failed, so the PLC
// never saw the pulse.
var ErrPulseNotSet = errors.New("plc: pulse was not set")

// Logger is the logging surface the actuator needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder receives every PLC write for telemetry.
type Recorder interface {
	RecordCoil(name string, addr uint16, on bool, err error)
	RecordRegister(name string, addr uint16, value uint16, err error)
}

type noopRecorder struct{}

func (noopRecorder) RecordCoil(string, uint16, bool, error)       {}
func (noopRecorder) RecordRegister(string, uint16, uint16, error) {}

// Options configures an Actuator.
type Options struct {
	IO             IO
	Coils          CoilMap
	Registers      RegisterMap
	DirectionPulse time.Duration
	Logger         Logger
	Recorder       Recorder
}

// Actuator writes the PLC's outputs.
//
// Thread Safety:
//   - Safe for concurrent use. Stop, Restart and Move hold a sequence lock.
type Actuator struct {
	io             IO
	coils          CoilMap
	regs           RegisterMap
	directionPulse time.Duration
	logger         Logger
	recorder       Recorder

	seqMu sync.Mutex
}

// NewActuator creates an Actuator.
func NewActuator(opts Options) (*Actuator, error) {
	if opts.IO == nil {
		return nil, errors.New("plc: IO is required")
	}
	if opts.DirectionPulse <= 0 {
		return nil, errors.New("plc: direction pulse must be positive")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Recorder == nil {
		opts.Recorder = noopRecorder{}
	}
	return &Actuator{
		io:             opts.IO,
		coils:          opts.Coils,
		regs:           opts.Registers,
		directionPulse: opts.DirectionPulse,
		logger:         opts.Logger,
		recorder:       opts.Recorder,
	}, nil
}

// Coils returns the coil map in use.
func (a *Actuator) Coils() CoilMap { return a.coils }

// Pulse sets coil, holds it for hold, then clears it.
//
// The clear always runs, even when the set failed or ctx was cancelled
// during the hold, and is retried so the coil ends at 0 whenever the link
// accepts a write.
func (a *Actuator) Pulse(ctx context.Context, coil uint16, hold time.Duration) error {
	setErr := a.writeCoil(ctx, coil, true)
	if setErr != nil {
		setErr = fmt.Errorf("%w: %w", ErrPulseNotSet, setErr)
	}

	var holdErr error
	if setErr == nil {
		holdErr = tasks.Sleep(ctx, hold)
	}

	clearErr := a.clearCoil(ctx, coil)
	if clearErr != nil {
		a.logger.Error("pulse clear failed, coil may be stuck high",
			"coil", a.coils.Name(coil), "addr", coil, "error", clearErr)
	}
	return errors.Join(setErr, holdErr, clearErr)
}

func (a *Actuator) clearCoil(parent context.Context, coil uint16) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), clearTimeout)
	defer cancel()

	var err error
	for attempt := 1; attempt <= clearAttempts; attempt++ {
		if err = a.writeCoil(ctx, coil, false); err == nil {
			return nil
		}
	}
	return err
}

type coilState struct {
	addr uint16
	on   bool
}

// Stop asserts stop and drops move and restart.
//
// Every write is attempted even if the stop write fails, so move and restart
// are forced low in all cases. The writes outlive ctx cancellation.
func (a *Actuator) Stop(ctx context.Context) error {
	a.seqMu.Lock()
	defer a.seqMu.Unlock()

	err := a.writeAll(context.WithoutCancel(ctx), []coilState{
		{a.coils.Stop, true},
		{a.coils.Move, false},
		{a.coils.Restart, false},
	})
	a.logSequence("stop", err)
	return err
}

// Restart asserts restart and drops stop and move.
func (a *Actuator) Restart(ctx context.Context) error {
	a.seqMu.Lock()
	defer a.seqMu.Unlock()

	err := a.writeAll(ctx, []coilState{
		{a.coils.Restart, true},
		{a.coils.Stop, false},
		{a.coils.Move, false},
	})
	a.logSequence("restart", err)
	return err
}

// Move pulses the direction coil, then asserts move and drops stop and
// restart. An unrecognised direction skips the pulse and still moves.
func (a *Actuator) Move(ctx context.Context, dir Direction) error {
	a.seqMu.Lock()
	defer a.seqMu.Unlock()

	var pulseErr error
	switch dir {
	case Forward:
		pulseErr = a.Pulse(ctx, a.coils.Forward, a.directionPulse)
	case Reverse:
		pulseErr = a.Pulse(ctx, a.coils.Reverse, a.directionPulse)
	default:
		a.logger.Warn("unknown conveyor direction, skipping direction pulse", "direction", string(dir))
	}

	err := a.writeAll(ctx, []coilState{
		{a.coils.Move, true},
		{a.coils.Stop, false},
		{a.coils.Restart, false},
	})
	err = errors.Join(pulseErr, err)
	a.logSequence("move", err, "direction", string(dir))
	return err
}

func (a *Actuator) writeAll(ctx context.Context, states []coilState) error {
	var errs []error
	for _, s := range states {
		if err := a.writeCoil(ctx, s.addr, s.on); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *Actuator) logSequence(name string, err error, args ...any) {
	args = append([]any{"sequence", name}, args...)
	if err != nil {
		a.logger.Error("conveyor sequence incomplete", append(args, "error", err)...)
		return
	}
	a.logger.Info("conveyor sequence applied", args...)
}

// ApplySetpoints writes frequency (x100), acceleration and deceleration.
// A value that doesn't fit a register is skipped; the others are still
// written.
func (a *Actuator) ApplySetpoints(ctx context.Context, s Setpoints) error {
	writes := []struct {
		name  string
		addr  uint16
		value float64
	}{
		{"frequency", a.regs.Frequency, s.Frequency * 100},
		{"acceleration", a.regs.Acceleration, s.Acceleration},
		{"deceleration", a.regs.Deceleration, s.Deceleration},
	}

	var errs []error
	for _, w := range writes {
		word, err := toRegister(w.name, w.value)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := a.writeRegister(ctx, w.name, w.addr, word); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetAnomalyFlag writes 1 (NG) or 0 (OK) to the anomaly flag register.
func (a *Actuator) SetAnomalyFlag(ctx context.Context, ng bool) error {
	var word uint16
	if ng {
		word = 1
	}
	return a.writeRegister(ctx, "anomaly_flag", a.regs.AnomalyFlag, word)
}

func (a *Actuator) writeCoil(ctx context.Context, addr uint16, on bool) error {
	err := a.io.WriteCoil(ctx, addr, on)
	a.recorder.RecordCoil(a.coils.Name(addr), addr, on, err)
	return err
}

func (a *Actuator) writeRegister(ctx context.Context, name string, addr, value uint16) error {
	err := a.io.WriteRegister(ctx, addr, value)
	a.recorder.RecordRegister(name, addr, value, err)
	return err
}
