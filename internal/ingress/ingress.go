package ingress

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-cell/internal/node"
	"github.com/nerrad567/gray-logic-cell/internal/tasks"
)

// Registry is the node store commands write into.
type Registry interface {
	Write(id string, value node.Value) error
	ScheduleReset(id string, after time.Duration, reset node.Value) (*tasks.Task, error)
	Definition(id string) (node.Definition, bool)
}

// FlagWriter sets the PLC anomaly register. Satisfied by *plc.Actuator.
type FlagWriter interface {
	SetAnomalyFlag(ctx context.Context, ng bool) error
}

// Logger is the logging surface ingress needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder receives one call per invocation for telemetry.
type Recorder interface {
	RecordCommand(name string, success bool, code int32, elapsed time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordCommand(string, bool, int32, time.Duration) {}

// Options configures an Ingress.
type Options struct {
	Registry Registry

	// Flag receives write_ok_ng_value verdicts. Nil skips the register write.
	Flag FlagWriter

	// ResetDelay is how long a JSON command's node holds its value.
	ResetDelay time.Duration

	// ReadyStateSettle separates the two writes of write_ready_state.
	ReadyStateSettle time.Duration

	Logger   Logger
	Recorder Recorder
}

// Ingress dispatches method calls through the command table.
//
// Thread Safety:
//   - Safe for concurrent use. Handlers only touch the registry and the flag
//     writer, both of which are safe for concurrent use.
type Ingress struct {
	registry   Registry
	flag       FlagWriter
	resetDelay time.Duration
	settle     time.Duration
	logger     Logger
	recorder   Recorder

	commands map[string]*Command
	names    []string

	mu       sync.Mutex
	observed map[string]func(name string, res Result)
}

// New builds the command table and validates it against the registry.
func New(opts Options) (*Ingress, error) {
	if opts.Registry == nil {
		return nil, errors.New("ingress: registry is required")
	}
	if opts.ResetDelay <= 0 {
		return nil, fmt.Errorf("ingress: reset delay must be positive, got %s", opts.ResetDelay)
	}
	if opts.ReadyStateSettle < 0 {
		return nil, fmt.Errorf("ingress: ready state settle must not be negative, got %s", opts.ReadyStateSettle)
	}

	in := &Ingress{
		registry:   opts.Registry,
		flag:       opts.Flag,
		resetDelay: opts.ResetDelay,
		settle:     opts.ReadyStateSettle,
		logger:     opts.Logger,
		recorder:   opts.Recorder,
		commands:   make(map[string]*Command),
		observed:   make(map[string]func(string, Result)),
	}
	if in.logger == nil {
		in.logger = noopLogger{}
	}
	if in.recorder == nil {
		in.recorder = noopRecorder{}
	}

	table := in.commandTable()
	if err := validateTable(table, opts.Registry.Definition); err != nil {
		return nil, err
	}
	for _, cmd := range table {
		in.commands[cmd.Name] = cmd
		in.names = append(in.names, cmd.Name)
	}
	sort.Strings(in.names)

	return in, nil
}

// Commands returns a copy of the table, sorted by name.
func (in *Ingress) Commands() []Command {
	out := make([]Command, 0, len(in.names))
	for _, name := range in.names {
		cmd := *in.commands[name]
		cmd.handle = nil
		out = append(out, cmd)
	}
	return out
}

// Lookup returns the command registered under name.
func (in *Ingress) Lookup(name string) (Command, bool) {
	cmd, ok := in.commands[name]
	if !ok {
		return Command{}, false
	}
	c := *cmd
	c.handle = nil
	return c, true
}

// OnResult registers fn to be called after every invocation. The returned
// function removes it. Used by transports that publish results.
func (in *Ingress) OnResult(key string, fn func(name string, res Result)) (remove func()) {
	in.mu.Lock()
	in.observed[key] = fn
	in.mu.Unlock()
	return func() {
		in.mu.Lock()
		delete(in.observed, key)
		in.mu.Unlock()
	}
}

// Invoke runs the named command with value. Command failures are reported
// in the Result; the error is only set for an unknown name.
func (in *Ingress) Invoke(ctx context.Context, name string, value node.Value) (Result, error) {
	cmd, ok := in.commands[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	start := time.Now()
	res := cmd.handle(ctx, cmd, value)
	elapsed := time.Since(start)

	in.recorder.RecordCommand(name, res.Success, res.Code, elapsed)
	if res.Success {
		in.logger.Info("command handled", "command", name, "node", cmd.Node, "code", res.Code)
	} else {
		in.logger.Warn("command failed", "command", name, "node", cmd.Node, "code", res.Code, "message", res.Message)
	}

	in.mu.Lock()
	observers := make([]func(string, Result), 0, len(in.observed))
	for _, fn := range in.observed {
		observers = append(observers, fn)
	}
	in.mu.Unlock()
	for _, fn := range observers {
		fn(name, res)
	}

	return res, nil
}

// store writes raw text to the command's node and schedules its reset.
func (in *Ingress) store(cmd *Command, raw string) error {
	if err := in.registry.Write(cmd.Node, node.Text(raw)); err != nil {
		return fmt.Errorf("storing %s: %w", cmd.Node, err)
	}
	if _, err := in.registry.ScheduleReset(cmd.Node, in.resetDelay, node.Text(node.ReadyValue)); err != nil {
		return fmt.Errorf("scheduling reset of %s: %w", cmd.Node, err)
	}
	return nil
}

// fail builds the failure result for a JSON command and, for observational
// commands, leaves a marker in the node.
func (in *Ingress) fail(cmd *Command, raw string, err error) Result {
	if cmd.Observational {
		if werr := in.registry.Write(cmd.Node, node.Text(marker(err)+": "+raw)); werr != nil {
			in.logger.Error("writing failure marker", "node", cmd.Node, "error", werr)
		}
	}

	detail := err.Error()
	var pe *payloadError
	if errors.As(err, &pe) {
		detail = pe.detail
	}

	var msg string
	switch {
	case errors.Is(err, ErrDecode):
		msg = "Error: Input string is not a valid JSON. Details: " + detail
	case errors.Is(err, ErrValidation):
		msg = "Error: JSON data validation failed. Details: " + detail
	default:
		msg = "Error: Command processing failed. Details: " + detail
	}
	return Result{Success: false, Code: 1, Message: msg}
}

func succeed(msg string) Result {
	return Result{Success: true, Code: 0, Message: msg}
}
