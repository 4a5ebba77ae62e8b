package tasks

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Policy decides what a new task does when its key is already busy.
type Policy int

const (
	Overlap Policy = iota
	Supersede
	Join
)

// String returns the configuration spelling of the policy.
func (p Policy) String() string {
	switch p {
	case Overlap:
		return "overlap"
	case Supersede:
		return "supersede"
	case Join:
		return "join"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy converts a configuration value into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "overlap":
		return Overlap, nil
	case "supersede":
		return Supersede, nil
	case "join":
		return Join, nil
	default:
		return Overlap, fmt.Errorf("tasks: unknown policy %q", s)
	}
}

// ErrClosed is returned by tasks requested after Close.
var ErrClosed = errors.New("tasks: supervisor closed")

// Logger is the logging surface the supervisor needs.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Error(string, ...any) {}

// Func is the body of a task. It should return promptly once ctx is done.
type Func func(ctx context.Context) error

// Task is a handle on one running or finished unit of work.
type Task struct {
	ID  string
	Key string

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Done is closed when the task has returned.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task's result. Only valid after Done is closed.
func (t *Task) Err() error { return t.err }

// Wait blocks until the task returns or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel asks the task to stop.
func (t *Task) Cancel() { t.cancel() }

// Supervisor owns every background task of the cell.
type Supervisor struct {
	logger Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[string][]*Task
	closed bool
	wg     sync.WaitGroup
}

// NewSupervisor creates a Supervisor. A nil logger discards output.
func NewSupervisor(logger Logger) *Supervisor {
	if logger == nil {
		logger = noopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string][]*Task),
	}
}

// Go starts fn under key according to policy and returns its handle.
//
// With Join, the returned handle may belong to an earlier request.
// After Close, Go returns an already finished task whose Err is ErrClosed.
func (s *Supervisor) Go(key string, policy Policy, fn Func) *Task {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return finishedTask(key, ErrClosed)
	}

	running := s.active[key]
	switch policy {
	case Join:
		if len(running) > 0 {
			t := running[len(running)-1]
			s.mu.Unlock()
			s.logger.Debug("task joined", "key", key, "task_id", t.ID)
			return t
		}
	case Supersede:
		for _, t := range running {
			t.cancel()
			s.logger.Debug("task superseded", "key", key, "task_id", t.ID)
		}
	}

	ctx, cancel := context.WithCancel(s.ctx)
	t := &Task{
		ID:     uuid.NewString(),
		Key:    key,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.active[key] = append(s.active[key], t)
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(ctx, t, fn)
	return t
}

func (s *Supervisor) run(ctx context.Context, t *Task, fn Func) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("tasks: panic in %s: %v", t.Key, r)
			s.logger.Error("task panicked", "key", t.Key, "task_id", t.ID, "panic", r, "stack", string(debug.Stack()))
		}
		t.cancel()
		s.remove(t)
		close(t.done)
	}()

	t.err = fn(ctx)
	if t.err != nil && !errors.Is(t.err, context.Canceled) {
		s.logger.Error("task failed", "key", t.Key, "task_id", t.ID, "error", t.err)
	}
}

func (s *Supervisor) remove(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	running := s.active[t.Key]
	for i, other := range running {
		if other == t {
			running = append(running[:i], running[i+1:]...)
			break
		}
	}
	if len(running) == 0 {
		delete(s.active, t.Key)
	} else {
		s.active[t.Key] = running
	}
}

// Active returns the number of in-flight tasks for key, or across all keys
// when key is empty.
func (s *Supervisor) Active(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key != "" {
		return len(s.active[key])
	}
	n := 0
	for _, running := range s.active {
		n += len(running)
	}
	return n
}

// Wait blocks until every task started so far has returned, or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels every task and waits for them to return. Safe to call twice.
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func finishedTask(key string, err error) *Task {
	t := &Task{
		ID:     uuid.NewString(),
		Key:    key,
		cancel: func() {},
		done:   make(chan struct{}),
		err:    err,
	}
	close(t.done)
	return t
}

// Sleep waits for d or until ctx ends, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
