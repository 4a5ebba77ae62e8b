package anomaly

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-cell/internal/node"
	"github.com/nerrad567/gray-logic-cell/internal/plc"
	"github.com/nerrad567/gray-logic-cell/internal/plc/plctest"
	"github.com/nerrad567/gray-logic-cell/internal/tasks"
)

var testCoils = plc.CoilMap{
	ConveyorSensor: 64, RobotArmSensor: 65, NG: 66, OK: 67, Move: 68,
	Stop: 0, Forward: 1, Reverse: 2, Restart: 3,
}

func newTestCoordinator(t *testing.T, policy tasks.Policy, hold time.Duration) (*Coordinator, *plctest.PLC, *tasks.Supervisor) {
	t.Helper()
	fake := plctest.New()
	act, err := plc.NewActuator(plc.Options{IO: fake, Coils: testCoils, DirectionPulse: time.Millisecond})
	if err != nil {
		t.Fatalf("NewActuator() error = %v", err)
	}
	sup := tasks.NewSupervisor(nil)
	t.Cleanup(sup.Close)

	c, err := New(Options{
		Actuator: act,
		Tasks:    sup,
		Policy:   policy,
		NGCoil:   testCoils.NG,
		OKCoil:   testCoils.OK,
		Hold:     hold,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, fake, sup
}

func waitTask(t *testing.T, task *tasks.Task) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := task.Wait(ctx); err != nil && ctx.Err() != nil {
		t.Fatal("sequence did not finish")
	}
	return task.Err()
}

func coilWrites(fake *plctest.PLC) string {
	ws := fake.CoilWrites()
	parts := make([]string, len(ws))
	for i, w := range ws {
		parts[i] = w.String()
	}
	return strings.Join(parts, ", ")
}

func TestNew_Validation(t *testing.T) {
	sup := tasks.NewSupervisor(nil)
	defer sup.Close()
	act := &recordingActuator{}

	tests := []struct {
		name string
		opts Options
	}{
		{"no actuator", Options{Tasks: sup, NGCoil: 1, OKCoil: 2, Hold: time.Second}},
		{"no tasks", Options{Actuator: act, NGCoil: 1, OKCoil: 2, Hold: time.Second}},
		{"zero hold", Options{Actuator: act, Tasks: sup, NGCoil: 1, OKCoil: 2}},
		{"same coils", Options{Actuator: act, Tasks: sup, NGCoil: 1, OKCoil: 1, Hold: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestHandle_PulseThenRestart(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"ng", `{"Anomaly":"NG"}`, "coil 66=1, coil 66=0, coil 3=1, coil 0=0, coil 68=0"},
		{"ok", `{"Anomaly":"OK"}`, "coil 67=1, coil 67=0, coil 3=1, coil 0=0, coil 68=0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, fake, _ := newTestCoordinator(t, tasks.Join, 5*time.Millisecond)

			task := c.Handle(node.Text(tt.value))
			if task == nil {
				t.Fatal("Handle() returned nil task")
			}
			if err := waitTask(t, task); err != nil {
				t.Errorf("sequence error = %v", err)
			}
			if got := coilWrites(fake); got != tt.want {
				t.Errorf("writes = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestHandle_NoAction(t *testing.T) {
	c, fake, sup := newTestCoordinator(t, tasks.Join, 5*time.Millisecond)

	for _, v := range []string{node.ReadyValue, `{"Other":1}`, "MAYBE", ""} {
		if task := c.Handle(node.Text(v)); task != nil {
			t.Errorf("Handle(%q) started a task", v)
		}
	}
	if sup.Active("") != 0 || len(fake.Writes()) != 0 {
		t.Errorf("no-op verdicts touched the PLC: %s", coilWrites(fake))
	}
}

func TestHandle_JoinFoldsRepeats(t *testing.T) {
	c, fake, _ := newTestCoordinator(t, tasks.Join, 50*time.Millisecond)

	first := c.Handle(node.Text("NG"))
	second := c.Handle(node.Text("NG"))
	if first != second {
		t.Error("Join policy should return the running task")
	}
	waitTask(t, first)

	if got := len(fake.CoilWrites()); got != 5 {
		t.Errorf("coil writes = %d, want one sequence (5)", got)
	}
}

func TestHandle_OverlapRunsEach(t *testing.T) {
	c, fake, sup := newTestCoordinator(t, tasks.Overlap, 10*time.Millisecond)

	c.Handle(node.Text("OK"))
	c.Handle(node.Text("OK"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got := len(fake.CoilWrites()); got != 10 {
		t.Errorf("coil writes = %d, want two sequences (10)", got)
	}
}

func TestSequence_SkipsRestartWhenPulseNotSet(t *testing.T) {
	c, fake, _ := newTestCoordinator(t, tasks.Join, 5*time.Millisecond)
	fake.FailSetting(testCoils.NG)

	err := waitTask(t, c.Handle(node.Text("NG")))
	if !errors.Is(err, plc.ErrPulseNotSet) {
		t.Errorf("sequence error = %v, want ErrPulseNotSet", err)
	}
	if got := coilWrites(fake); got != "coil 66=0" {
		t.Errorf("writes = %s, want only the clear", got)
	}
}

func TestSequence_RestartsAfterClearFailure(t *testing.T) {
	c, fake, _ := newTestCoordinator(t, tasks.Join, 5*time.Millisecond)
	fake.FailClears(testCoils.OK, 3)

	err := waitTask(t, c.Handle(node.Text("OK")))
	if err == nil {
		t.Error("sequence error = nil, want the clear failure")
	}
	if !fake.Coil(testCoils.Restart) {
		t.Error("restart coil not set after a delivered pulse")
	}
}

// recordingActuator records call order to check the restart waits for the
// pulse.
type recordingActuator struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingActuator) Pulse(ctx context.Context, coil uint16, hold time.Duration) error {
	r.record("pulse start")
	time.Sleep(hold)
	r.record("pulse end")
	return nil
}

func (r *recordingActuator) Restart(context.Context) error {
	r.record("restart")
	return nil
}

func (r *recordingActuator) record(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func TestSequence_Ordering(t *testing.T) {
	sup := tasks.NewSupervisor(nil)
	defer sup.Close()
	act := &recordingActuator{}
	c, err := New(Options{Actuator: act, Tasks: sup, Policy: tasks.Join, NGCoil: 66, OKCoil: 67, Hold: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	waitTask(t, c.Handle(node.Text("NG")))

	act.mu.Lock()
	defer act.mu.Unlock()
	if got := strings.Join(act.calls, ","); got != "pulse start,pulse end,restart" {
		t.Errorf("calls = %s", got)
	}
}

func TestWatch(t *testing.T) {
	c, fake, sup := newTestCoordinator(t, tasks.Join, 5*time.Millisecond)
	reg, err := node.NewRegistry(node.DefaultDefinitions(), node.Options{Tasks: sup})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	unsub := c.Watch(reg, node.OKNGValue)

	if err := reg.Write(node.OKNGValue, node.Text(`{"Anomaly":"NG"}`)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if !fake.Coil(testCoils.Restart) {
		t.Error("NG write did not run the sequence")
	}

	unsub()
	fake.ResetWrites()
	reg.Write(node.OKNGValue, node.Text(`{"Anomaly":"OK"}`)) //nolint:errcheck // test
	if n := sup.Active(""); n != 0 {
		t.Errorf("Active() = %d after unsubscribe", n)
	}
}
