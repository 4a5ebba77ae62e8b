package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-cell/internal/tasks"
)

var (
	// ErrNodeNotFound is returned for an id the registry doesn't hold.
	ErrNodeNotFound = errors.New("node: not found")

	// ErrKindMismatch is returned when a value cannot be stored in a node.
	ErrKindMismatch = errors.New("node: value kind does not match node")

	// ErrDuplicateNode is returned when two definitions share an id.
	ErrDuplicateNode = errors.New("node: duplicate id")
)

// Snapshot is a point-in-time copy of one node.
type Snapshot struct {
	ID            string    `json:"id"`
	Group         Group     `json:"group"`
	Kind          string    `json:"kind"`
	Value         Value     `json:"value"`
	Version       uint64    `json:"version"`
	UpdatedAt     time.Time `json:"updated_at"`
	PendingResets int       `json:"pending_resets"`
}

// Change describes a single write, delivered to listeners.
type Change struct {
	Node    string
	Group   Group
	Old     Value
	New     Value
	Version uint64
	At      time.Time
}

// Listener receives changes. It runs on the writer's goroutine, outside the
// registry lock, and must not block for long.
type Listener func(Change)

// Logger is the logging surface the registry needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Options configures a Registry.
type Options struct {
	// Tasks runs delayed resets. Required for ScheduleReset.
	Tasks *tasks.Supervisor

	// ResetPolicy applies to resets scheduled on the same node.
	// Supersede keeps only the newest; Overlap lets every reset fire.
	ResetPolicy tasks.Policy

	Logger Logger
}

type entry struct {
	def       Definition
	value     Value
	version   uint64
	updatedAt time.Time
}

// Registry owns the cell's nodes. Safe for concurrent use.
type Registry struct {
	tasks       *tasks.Supervisor
	resetPolicy tasks.Policy
	logger      Logger

	mu        sync.RWMutex
	nodes     map[string]*entry
	order     []string
	listeners map[int]Listener
	nextID    int
}

// NewRegistry creates a registry holding one node per definition, each at
// its initial value.
func NewRegistry(defs []Definition, opts Options) (*Registry, error) {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	r := &Registry{
		tasks:       opts.Tasks,
		resetPolicy: opts.ResetPolicy,
		logger:      opts.Logger,
		nodes:       make(map[string]*entry, len(defs)),
		listeners:   make(map[int]Listener),
	}

	now := time.Now()
	for _, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("node: definition with empty id")
		}
		if _, exists := r.nodes[def.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, def.ID)
		}
		if def.Kind != KindText && def.Kind != KindBytes {
			return nil, fmt.Errorf("node: %s has unsupported kind %s", def.ID, def.Kind)
		}
		r.nodes[def.ID] = &entry{def: def, value: def.Initial(), updatedAt: now}
		r.order = append(r.order, def.ID)
	}
	return r, nil
}

// Write stores value in node id. The new value is visible to Read as soon as
// Write returns. Text nodes accept any kind through Normalize; bytes nodes
// accept only bytes.
func (r *Registry) Write(id string, value Value) error {
	r.mu.Lock()
	e, ok := r.nodes[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	stored, err := coerce(e.def, value)
	if err != nil {
		r.mu.Unlock()
		return err
	}

	change := Change{
		Node:  id,
		Group: e.def.Group,
		Old:   e.value,
		New:   stored,
		At:    time.Now(),
	}
	e.value = stored
	e.version++
	e.updatedAt = change.At
	change.Version = e.version

	listeners := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	r.mu.Unlock()

	for _, l := range listeners {
		l(change)
	}
	return nil
}

func coerce(def Definition, value Value) (Value, error) {
	if def.Kind == KindBytes {
		if value.Kind() != KindBytes {
			return Value{}, fmt.Errorf("%w: %s holds bytes, got %s", ErrKindMismatch, def.ID, value.Kind())
		}
		return value, nil
	}
	if value.Kind() == KindText {
		return value, nil
	}
	return Text(value.Normalize()), nil
}

// Read returns the current value of node id.
func (r *Registry) Read(id string) (Value, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.nodes[id]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return e.value, nil
}

// ReadText is Read followed by Normalize.
func (r *Registry) ReadText(id string) (string, error) {
	v, err := r.Read(id)
	if err != nil {
		return "", err
	}
	return v.Normalize(), nil
}

// Definition returns the definition of node id.
func (r *Registry) Definition(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.nodes[id]
	if !ok {
		return Definition{}, false
	}
	return e.def, true
}

// Snapshot returns a copy of node id with its metadata.
func (r *Registry) Snapshot(id string) (Snapshot, error) {
	r.mu.RLock()
	e, ok := r.nodes[id]
	if !ok {
		r.mu.RUnlock()
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	s := snapshotOf(e)
	r.mu.RUnlock()

	s.PendingResets = r.pendingResets(id)
	return s, nil
}

// List returns snapshots of every node in definition order.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, snapshotOf(r.nodes[id]))
	}
	r.mu.RUnlock()

	for i := range out {
		out[i].PendingResets = r.pendingResets(out[i].ID)
	}
	return out
}

func snapshotOf(e *entry) Snapshot {
	return Snapshot{
		ID:        e.def.ID,
		Group:     e.def.Group,
		Kind:      e.def.Kind.String(),
		Value:     e.value,
		Version:   e.version,
		UpdatedAt: e.updatedAt,
	}
}

// Subscribe registers l for every change and returns a function that
// removes it.
func (r *Registry) Subscribe(l Listener) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = l
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.listeners, id)
			r.mu.Unlock()
		})
	}
}

// SubscribeNode is Subscribe filtered to a single node.
func (r *Registry) SubscribeNode(id string, l Listener) (unsubscribe func()) {
	return r.Subscribe(func(c Change) {
		if c.Node == id {
			l(c)
		}
	})
}

// ScheduleReset writes reset into node id once after has elapsed.
//
// The write is unconditional: under the Overlap policy a reset scheduled by
// an earlier command still fires even if a later command rewrote the node.
// Under Supersede the earlier reset is cancelled when a new one is scheduled.
func (r *Registry) ScheduleReset(id string, after time.Duration, reset Value) (*tasks.Task, error) {
	if r.tasks == nil {
		return nil, errors.New("node: registry has no task supervisor")
	}
	def, ok := r.Definition(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if _, err := coerce(def, reset); err != nil {
		return nil, err
	}

	task := r.tasks.Go(resetKey(id), r.resetPolicy, func(ctx context.Context) error {
		if err := tasks.Sleep(ctx, after); err != nil {
			return err
		}
		if err := r.Write(id, reset); err != nil {
			r.logger.Warn("node reset failed", "node", id, "error", err)
			return err
		}
		r.logger.Debug("node reset", "node", id, "value", reset.String())
		return nil
	})
	return task, nil
}

func (r *Registry) pendingResets(id string) int {
	if r.tasks == nil {
		return 0
	}
	return r.tasks.Active(resetKey(id))
}

func resetKey(id string) string {
	return "node:" + id
}
