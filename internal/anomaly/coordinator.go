package anomaly

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-cell/internal/node"
	"github.com/nerrad567/gray-logic-cell/internal/plc"
	"github.com/nerrad567/gray-logic-cell/internal/tasks"
)

// Actuator drives the coils the coordinator needs. Satisfied by
// *plc.Actuator.
type Actuator interface {
	Pulse(ctx context.Context, coil uint16, hold time.Duration) error
	Restart(ctx context.Context) error
}

// Logger is the logging surface the coordinator needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Coordinator.
type Options struct {
	Actuator Actuator
	Tasks    *tasks.Supervisor

	// Policy decides what a verdict does while the same class is still
	// being handled. Join folds repeats into the running sequence.
	Policy tasks.Policy

	NGCoil uint16
	OKCoil uint16
	Hold   time.Duration

	Logger Logger
}

// Coordinator runs the pulse-then-restart sequence for each verdict.
type Coordinator struct {
	act    Actuator
	tasks  *tasks.Supervisor
	policy tasks.Policy
	ngCoil uint16
	okCoil uint16
	hold   time.Duration
	logger Logger
}

// New creates a Coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Actuator == nil || opts.Tasks == nil {
		return nil, errors.New("anomaly: actuator and task supervisor are required")
	}
	if opts.Hold <= 0 {
		return nil, fmt.Errorf("anomaly: pulse hold must be positive, got %s", opts.Hold)
	}
	if opts.NGCoil == opts.OKCoil {
		return nil, fmt.Errorf("anomaly: NG and OK coils must differ, both are %d", opts.NGCoil)
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Coordinator{
		act:    opts.Actuator,
		tasks:  opts.Tasks,
		policy: opts.Policy,
		ngCoil: opts.NGCoil,
		okCoil: opts.OKCoil,
		hold:   opts.Hold,
		logger: opts.Logger,
	}, nil
}

// Handle classifies v and, for an OK or NG verdict, starts the sequence.
// It returns the task running it, or nil when the verdict needs no action.
func (c *Coordinator) Handle(v node.Value) *tasks.Task {
	class, token := Classify(v)
	if class == ClassNone {
		if token != "" && token != node.ReadyValue {
			c.logger.Warn("ignoring anomaly verdict", "token", token)
		}
		return nil
	}

	c.logger.Info("anomaly verdict", "class", class.String(), "token", token)
	return c.tasks.Go("anomaly:"+class.String(), c.policy, func(ctx context.Context) error {
		return c.sequence(ctx, class)
	})
}

// Watch subscribes the coordinator to a registry node.
func (c *Coordinator) Watch(reg *node.Registry, id string) (unsubscribe func()) {
	return reg.SubscribeNode(id, func(ch node.Change) {
		c.Handle(ch.New)
	})
}

// sequence pulses the verdict coil and, once the pulse has finished,
// restarts the conveyor. The restart is skipped when the PLC never saw the
// pulse.
func (c *Coordinator) sequence(ctx context.Context, class Class) error {
	coil := c.okCoil
	if class == ClassAnomaly {
		coil = c.ngCoil
	}

	pulseErr := c.act.Pulse(ctx, coil, c.hold)
	switch {
	case errors.Is(pulseErr, plc.ErrPulseNotSet):
		c.logger.Error("anomaly pulse not delivered, skipping restart", "class", class.String(), "error", pulseErr)
		return pulseErr
	case pulseErr != nil:
		c.logger.Warn("anomaly pulse finished with errors", "class", class.String(), "error", pulseErr)
	}

	if err := ctx.Err(); err != nil {
		return errors.Join(pulseErr, err)
	}

	if err := c.act.Restart(ctx); err != nil {
		c.logger.Error("restart after anomaly failed", "class", class.String(), "error", err)
		return errors.Join(pulseErr, err)
	}
	c.logger.Info("anomaly handled, conveyor restarted", "class", class.String())
	return pulseErr
}
