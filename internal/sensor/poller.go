package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-cell/internal/ingress"
	"github.com/nerrad567/gray-logic-cell/internal/node"
	"github.com/nerrad567/gray-logic-cell/internal/plc"
)

// Event is an event log entry recorded on a rising edge.
type Event struct {
	EquipmentID string
	Description string
}

// Input is one polled sensor coil and the command it drives.
type Input struct {
	Name    string
	Coil    uint16
	Command string

	// OnRise is recorded, in order, each time the input goes high.
	OnRise []Event
}

// Equipment ids used in the event log.
const (
	EquipmentConveyorSensor = "SENSER01"
	EquipmentRobotArmSensor = "SENSER02"
	EquipmentConveyor       = "CONVEYOR01"
)

// DefaultInputs returns the conveyor and robot-arm sensors. The PLC stops
// the conveyor itself when either sensor trips, which the event log records.
func DefaultInputs(coils plc.CoilMap) []Input {
	return []Input{
		{
			Name:    "conveyor",
			Coil:    coils.ConveyorSensor,
			Command: ingress.CmdConveyorSensor,
			OnRise: []Event{
				{EquipmentID: EquipmentConveyorSensor, Description: "Conveyor_Sensor_Check OK"},
				{EquipmentID: EquipmentConveyor, Description: "Conveyor STOP"},
			},
		},
		{
			Name:    "robot_arm",
			Coil:    coils.RobotArmSensor,
			Command: ingress.CmdRobotArmSensor,
			OnRise: []Event{
				{EquipmentID: EquipmentRobotArmSensor, Description: "RobotArm_Sensor_Check OK"},
				{EquipmentID: EquipmentConveyor, Description: "Conveyor STOP"},
			},
		},
	}
}

// Reader reads sensor coils.
type Reader interface {
	ReadCoil(ctx context.Context, addr uint16) (bool, error)
}

// Invoker runs ingress commands. Satisfied by *ingress.Ingress.
type Invoker interface {
	Invoke(ctx context.Context, name string, value node.Value) (ingress.Result, error)
}

// EventLog records events. Satisfied by *eventlog.Recorder.
type EventLog interface {
	Record(ctx context.Context, equipmentID, description string) error
}

// Recorder receives every edge for telemetry.
type Recorder interface {
	RecordEdge(input string, high bool)
}

// Logger is the logging surface the poller needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

type noopRecorder struct{}

func (noopRecorder) RecordEdge(string, bool) {}

type noopEvents struct{}

func (noopEvents) Record(context.Context, string, string) error { return nil }

// Options configures a Poller.
type Options struct {
	Reader   Reader
	Invoker  Invoker
	Inputs   []Input
	Interval time.Duration

	Events   EventLog
	Recorder Recorder
	Logger   Logger
}

// Poller samples every input each Interval.
type Poller struct {
	reader   Reader
	invoker  Invoker
	interval time.Duration
	events   EventLog
	recorder Recorder
	logger   Logger

	inputs    []Input
	detectors []*Detector
}

// NewPoller creates a poller with every input in the Unknown state.
func NewPoller(opts Options) (*Poller, error) {
	if opts.Reader == nil || opts.Invoker == nil {
		return nil, errors.New("sensor: reader and invoker are required")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("sensor: poll interval must be positive, got %s", opts.Interval)
	}
	if len(opts.Inputs) == 0 {
		return nil, errors.New("sensor: no inputs configured")
	}

	p := &Poller{
		reader:   opts.Reader,
		invoker:  opts.Invoker,
		interval: opts.Interval,
		events:   opts.Events,
		recorder: opts.Recorder,
		logger:   opts.Logger,
		inputs:   opts.Inputs,
	}
	if p.events == nil {
		p.events = noopEvents{}
	}
	if p.recorder == nil {
		p.recorder = noopRecorder{}
	}
	if p.logger == nil {
		p.logger = noopLogger{}
	}
	for range p.inputs {
		p.detectors = append(p.detectors, NewDetector())
	}
	return p, nil
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("sensor poller started", "inputs", len(p.inputs), "interval", p.interval)
	for {
		p.Poll(ctx)
		select {
		case <-ctx.Done():
			p.logger.Info("sensor poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll samples each input once and handles any edges.
func (p *Poller) Poll(ctx context.Context) {
	for i, in := range p.inputs {
		on, err := p.reader.ReadCoil(ctx, in.Coil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("sensor read failed", "input", in.Name, "coil", in.Coil, "error", err)
		}

		fired, high := p.detectors[i].Observe(sample(on, err))
		if !fired {
			continue
		}
		p.handleEdge(ctx, in, high)
	}
}

func (p *Poller) handleEdge(ctx context.Context, in Input, high bool) {
	p.logger.Info("sensor changed", "input", in.Name, "coil", in.Coil, "high", high)
	p.recorder.RecordEdge(in.Name, high)

	if high {
		for _, ev := range in.OnRise {
			// The recorder logs its own failures; the command still runs.
			_ = p.events.Record(ctx, ev.EquipmentID, ev.Description)
		}
	}

	res, err := p.invoker.Invoke(ctx, in.Command, node.Bool(high))
	switch {
	case err != nil:
		p.logger.Warn("sensor command failed", "input", in.Name, "command", in.Command, "error", err)
	case !res.Success:
		p.logger.Warn("sensor command rejected", "input", in.Name, "command", in.Command, "message", res.Message)
	}
}
