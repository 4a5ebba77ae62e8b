package sensor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-cell/internal/ingress"
	"github.com/nerrad567/gray-logic-cell/internal/node"
	"github.com/nerrad567/gray-logic-cell/internal/plc"
	"github.com/nerrad567/gray-logic-cell/internal/plc/plctest"
)

var testCoils = plc.CoilMap{
	ConveyorSensor: 64, RobotArmSensor: 65, NG: 66, OK: 67, Move: 68,
	Stop: 0, Forward: 1, Reverse: 2, Restart: 3,
}

type call struct {
	name string
	high bool
}

type fakeInvoker struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeInvoker) Invoke(_ context.Context, name string, v node.Value) (ingress.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{name, v.Truthy()})
	if f.err != nil {
		return ingress.Result{}, f.err
	}
	return ingress.Result{Success: true}, nil
}

func (f *fakeInvoker) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type fakeEvents struct {
	mu      sync.Mutex
	entries []Event
}

func (f *fakeEvents) Record(_ context.Context, equipmentID, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, Event{equipmentID, description})
	return nil
}

type fakeRecorder struct {
	edges []string
}

func (f *fakeRecorder) RecordEdge(input string, high bool) {
	v := "0"
	if high {
		v = "1"
	}
	f.edges = append(f.edges, input+"="+v)
}

func newTestPoller(t *testing.T, reader Reader, inv Invoker, events EventLog, rec Recorder) *Poller {
	t.Helper()
	p, err := NewPoller(Options{
		Reader:   reader,
		Invoker:  inv,
		Inputs:   DefaultInputs(testCoils),
		Interval: 10 * time.Millisecond,
		Events:   events,
		Recorder: rec,
	})
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}
	return p
}

func TestNewPoller_Validation(t *testing.T) {
	inputs := DefaultInputs(testCoils)
	tests := []struct {
		name string
		opts Options
	}{
		{"no reader", Options{Invoker: &fakeInvoker{}, Inputs: inputs, Interval: time.Second}},
		{"no invoker", Options{Reader: plctest.New(), Inputs: inputs, Interval: time.Second}},
		{"zero interval", Options{Reader: plctest.New(), Invoker: &fakeInvoker{}, Inputs: inputs}},
		{"no inputs", Options{Reader: plctest.New(), Invoker: &fakeInvoker{}, Interval: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPoller(tt.opts); err == nil {
				t.Error("NewPoller() should fail")
			}
		})
	}
}

func TestPoll_EdgesInvokeCommands(t *testing.T) {
	fake := plctest.New()
	inv := &fakeInvoker{}
	events := &fakeEvents{}
	rec := &fakeRecorder{}
	p := newTestPoller(t, fake, inv, events, rec)
	ctx := context.Background()

	// Conveyor sensor: error, 0, 0, 1, error, 1, 0. Robot arm stays low.
	fake.QueueReads(testCoils.ConveyorSensor, -1, 0, 0, 1, -1, 1, 0)
	for i := 0; i < 7; i++ {
		p.Poll(ctx)
	}

	// The robot arm's first good read is its baseline edge; the conveyor's
	// comes one poll later because its first read fails.
	want := []call{
		{ingress.CmdRobotArmSensor, false},
		{ingress.CmdConveyorSensor, false},
		{ingress.CmdConveyorSensor, true},
		{ingress.CmdConveyorSensor, false},
	}
	got := inv.snapshot()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	wantEvents := []Event{
		{EquipmentConveyorSensor, "Conveyor_Sensor_Check OK"},
		{EquipmentConveyor, "Conveyor STOP"},
	}
	if len(events.entries) != len(wantEvents) {
		t.Fatalf("events = %v, want %v", events.entries, wantEvents)
	}
	for i := range wantEvents {
		if events.entries[i] != wantEvents[i] {
			t.Errorf("event[%d] = %v, want %v", i, events.entries[i], wantEvents[i])
		}
	}

	if len(rec.edges) != 4 || rec.edges[2] != "conveyor=1" {
		t.Errorf("edges = %v", rec.edges)
	}
}

func TestPoll_RobotArmRisingEdge(t *testing.T) {
	fake := plctest.New()
	fake.SetCoil(testCoils.RobotArmSensor, true)
	inv := &fakeInvoker{}
	events := &fakeEvents{}
	p := newTestPoller(t, fake, inv, events, nil)

	p.Poll(context.Background())
	p.Poll(context.Background())

	if len(events.entries) != 2 || events.entries[0].EquipmentID != EquipmentRobotArmSensor {
		t.Errorf("events = %v, want robot arm check then conveyor stop", events.entries)
	}
	calls := inv.snapshot()
	if len(calls) != 2 || calls[1] != (call{ingress.CmdRobotArmSensor, true}) {
		t.Errorf("calls = %v", calls)
	}
}

func TestPoll_PersistentReadErrors(t *testing.T) {
	fake := plctest.New()
	fake.FailReads(testCoils.ConveyorSensor, true)
	fake.FailReads(testCoils.RobotArmSensor, true)
	inv := &fakeInvoker{}
	p := newTestPoller(t, fake, inv, nil, nil)

	for i := 0; i < 3; i++ {
		p.Poll(context.Background())
	}
	if calls := inv.snapshot(); len(calls) != 0 {
		t.Errorf("calls = %v, want none while reads fail", calls)
	}
}

func TestPoll_InvokeErrorDoesNotStopPolling(t *testing.T) {
	fake := plctest.New()
	inv := &fakeInvoker{err: errors.New("ingress down")}
	p := newTestPoller(t, fake, inv, nil, nil)

	p.Poll(context.Background())
	fake.SetCoil(testCoils.ConveyorSensor, true)
	p.Poll(context.Background())

	if calls := inv.snapshot(); len(calls) != 3 {
		t.Errorf("calls = %d, want 3", len(calls))
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	fake := plctest.New()
	inv := &fakeInvoker{}
	p := newTestPoller(t, fake, inv, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(inv.snapshot()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	fake.SetCoil(testCoils.ConveyorSensor, true)
	for len(inv.snapshot()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop")
	}

	calls := inv.snapshot()
	if len(calls) != 3 || calls[2] != (call{ingress.CmdConveyorSensor, true}) {
		t.Errorf("calls = %v", calls)
	}
}
