package ingress

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-cell/internal/node"
	"github.com/nerrad567/gray-logic-cell/internal/tasks"
)

type fakeFlag struct {
	mu     sync.Mutex
	writes []bool
	err    error
}

func (f *fakeFlag) SetAnomalyFlag(_ context.Context, ng bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, ng)
	return nil
}

func (f *fakeFlag) last() (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return false, 0
	}
	return f.writes[len(f.writes)-1], len(f.writes)
}

type recordedCommand struct {
	name    string
	success bool
	code    int32
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedCommand
}

func (f *fakeRecorder) RecordCommand(name string, success bool, code int32, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCommand{name, success, code})
}

type fixture struct {
	in       *Ingress
	registry *node.Registry
	tasks    *tasks.Supervisor
	flag     *fakeFlag
	recorder *fakeRecorder
}

func newFixture(t *testing.T, resetDelay time.Duration) *fixture {
	t.Helper()
	sup := tasks.NewSupervisor(nil)
	t.Cleanup(sup.Close)

	reg, err := node.NewRegistry(node.DefaultDefinitions(), node.Options{Tasks: sup, ResetPolicy: tasks.Supersede})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	f := &fixture{registry: reg, tasks: sup, flag: &fakeFlag{}, recorder: &fakeRecorder{}}
	f.in, err = New(Options{
		Registry:         reg,
		Flag:             f.flag,
		ResetDelay:       resetDelay,
		ReadyStateSettle: 10 * time.Millisecond,
		Recorder:         f.recorder,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return f
}

func (f *fixture) invoke(t *testing.T, name string, v node.Value) Result {
	t.Helper()
	res, err := f.in.Invoke(context.Background(), name, v)
	if err != nil {
		t.Fatalf("Invoke(%s) error = %v", name, err)
	}
	return res
}

func (f *fixture) read(t *testing.T, id string) string {
	t.Helper()
	s, err := f.registry.ReadText(id)
	if err != nil {
		t.Fatalf("ReadText(%s) error = %v", id, err)
	}
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_Validation(t *testing.T) {
	sup := tasks.NewSupervisor(nil)
	defer sup.Close()
	reg, _ := node.NewRegistry(node.DefaultDefinitions(), node.Options{Tasks: sup})

	if _, err := New(Options{ResetDelay: time.Second}); err == nil {
		t.Error("New() without registry should fail")
	}
	if _, err := New(Options{Registry: reg}); err == nil {
		t.Error("New() with zero reset delay should fail")
	}

	// A registry missing a node the table needs is rejected at startup.
	var defs []node.Definition
	for _, d := range node.DefaultDefinitions() {
		if d.ID != node.ArmImage {
			defs = append(defs, d)
		}
	}
	partial, _ := node.NewRegistry(defs, node.Options{Tasks: sup})
	_, err := New(Options{Registry: partial, ResetDelay: time.Second})
	if !errors.Is(err, ErrInvalidTable) {
		t.Errorf("New() with missing node error = %v, want ErrInvalidTable", err)
	}
}

func TestValidateTable(t *testing.T) {
	defs := map[string]node.Definition{
		"read_a":   {ID: "read_a", Kind: node.KindText},
		"read_img": {ID: "read_img", Kind: node.KindBytes},
	}
	lookup := func(id string) (node.Definition, bool) {
		d, ok := defs[id]
		return d, ok
	}
	h := func(context.Context, *Command, node.Value) Result { return Result{} }

	tests := []struct {
		name    string
		cmds    []*Command
		wantErr bool
	}{
		{"valid", []*Command{
			{Name: "write_a", Node: "read_a", Shape: ShapeJSON, handle: h},
			{Name: "write_img", Node: "read_img", Shape: ShapeBytes, handle: h},
		}, false},
		{"duplicate name", []*Command{
			{Name: "write_a", Node: "read_a", handle: h},
			{Name: "write_a", Node: "read_a", handle: h},
		}, true},
		{"unknown node", []*Command{{Name: "write_b", Node: "read_b", handle: h}}, true},
		{"bytes into text", []*Command{{Name: "write_a", Node: "read_a", Shape: ShapeBytes, handle: h}}, true},
		{"json into bytes", []*Command{{Name: "write_img", Node: "read_img", Shape: ShapeJSON, handle: h}}, true},
		{"no handler", []*Command{{Name: "write_a", Node: "read_a"}}, true},
		{"empty name", []*Command{{Node: "read_a", handle: h}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTable(tt.cmds, lookup)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateTable() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCommands_Sorted(t *testing.T) {
	f := newFixture(t, time.Second)
	cmds := f.in.Commands()
	if len(cmds) != 13 {
		t.Fatalf("Commands() len = %d, want 13", len(cmds))
	}
	for i := 1; i < len(cmds); i++ {
		if cmds[i-1].Name >= cmds[i].Name {
			t.Errorf("Commands() not sorted at %d: %s >= %s", i, cmds[i-1].Name, cmds[i].Name)
		}
	}
	if c, ok := f.in.Lookup(CmdOKNGValue); !ok || c.Style != StyleCode || !c.Observational {
		t.Errorf("Lookup(%s) = %+v, %v", CmdOKNGValue, c, ok)
	}
}

func TestInvoke_UnknownCommand(t *testing.T) {
	f := newFixture(t, time.Second)
	_, err := f.in.Invoke(context.Background(), "write_nothing", node.Text("{}"))
	if !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Invoke() error = %v, want ErrUnknownCommand", err)
	}
}

func TestJSONCommand_StoresAndResets(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	raw := `{"Move":"Go"}`

	res := f.invoke(t, CmdAMRGoMove, node.Text(raw))
	if !res.Success {
		t.Fatalf("Invoke() = %+v, want success", res)
	}
	want := "Command '" + raw + "' received and stored. Reset scheduled."
	if res.Message != want {
		t.Errorf("Message = %q, want %q", res.Message, want)
	}
	if got := f.read(t, node.AMRGoMove); got != raw {
		t.Errorf("node = %q, want %q", got, raw)
	}

	waitFor(t, "reset to Ready", func() bool { return f.read(t, node.AMRGoMove) == node.ReadyValue })
}

func TestJSONCommand_Errors(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantPrefix string
	}{
		{"malformed", `{"Move":`, "Error: Input string is not a valid JSON. Details: "},
		{"empty", ``, "Error: Input string is not a valid JSON. Details: "},
		{"scalar", `42`, "Error: JSON data validation failed. Details: expected a JSON object or array, got number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, time.Second)
			res := f.invoke(t, CmdArmGoMove, node.Text(tt.input))
			if res.Success {
				t.Fatalf("Invoke() = %+v, want failure", res)
			}
			if !strings.HasPrefix(res.Message, tt.wantPrefix) {
				t.Errorf("Message = %q, want prefix %q", res.Message, tt.wantPrefix)
			}
			// Not observational: the node is untouched.
			if got := f.read(t, node.ArmGoMove); got != node.ReadyValue {
				t.Errorf("node = %q, want Ready", got)
			}
		})
	}
}

func TestJSONCommand_AcceptsArrayAndBytes(t *testing.T) {
	f := newFixture(t, time.Second)

	if res := f.invoke(t, CmdAMRGoPositions, node.Text(` [1, 2] `)); !res.Success {
		t.Errorf("array Invoke() = %+v, want success", res)
	}
	if got := f.read(t, node.AMRGoPositions); got != "[1, 2]" {
		t.Errorf("node = %q, want trimmed array", got)
	}

	if res := f.invoke(t, CmdAMRMissionState, node.Bytes([]byte(`{"state":"run"}`))); !res.Success {
		t.Errorf("bytes Invoke() = %+v, want success", res)
	}
}

func TestOKNG(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantCode  int32
		wantFlag  bool
		wantWrite bool
		wantNode  string
	}{
		{"ng", `{"Anomaly":"NG"}`, 0, true, true, `{"Anomaly":"NG"}`},
		{"ok", `{"Anomaly":"OK"}`, 0, false, true, `{"Anomaly":"OK"}`},
		{"lowercase ng", `{"Anomaly":"ng"}`, 0, true, true, `{"Anomaly":"ng"}`},
		{"no verdict", `{"Other":1}`, 0, false, true, `{"Other":1}`},
		{"bad verdict", `{"Anomaly":"MAYBE"}`, 1, false, false, `VALIDATION_ERROR: {"Anomaly":"MAYBE"}`},
		{"numeric verdict", `{"Anomaly":1}`, 1, false, false, `VALIDATION_ERROR: {"Anomaly":1}`},
		{"array", `[1]`, 1, false, false, `VALIDATION_ERROR: [1]`},
		{"malformed", `{"Anomaly":`, 1, false, false, `JSON_ERROR: {"Anomaly":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, time.Second)
			res := f.invoke(t, CmdOKNGValue, node.Text(tt.input))

			if res.Code != tt.wantCode {
				t.Errorf("Code = %d, want %d (%s)", res.Code, tt.wantCode, res.Message)
			}
			flag, n := f.flag.last()
			if (n > 0) != tt.wantWrite {
				t.Errorf("flag writes = %d, want written %v", n, tt.wantWrite)
			}
			if flag != tt.wantFlag {
				t.Errorf("flag = %v, want %v", flag, tt.wantFlag)
			}
			if got := f.read(t, node.OKNGValue); got != tt.wantNode {
				t.Errorf("node = %q, want %q", got, tt.wantNode)
			}
		})
	}
}

func TestOKNG_SuccessMessage(t *testing.T) {
	f := newFixture(t, time.Second)
	raw := `{"Anomaly":"NG"}`
	res := f.invoke(t, CmdOKNGValue, node.Text(raw))
	want := "PLC Command '" + raw + "' received and stored. Reset scheduled."
	if res.Message != want || !res.Success {
		t.Errorf("Invoke() = %+v, want success %q", res, want)
	}
}

func TestOKNG_RegisterFailure(t *testing.T) {
	f := newFixture(t, time.Second)
	f.flag.err = errors.New("bus down")

	raw := `{"Anomaly":"NG"}`
	res := f.invoke(t, CmdOKNGValue, node.Text(raw))
	if res.Success || res.Code != 1 {
		t.Fatalf("Invoke() = %+v, want code 1", res)
	}
	if !strings.Contains(res.Message, "bus down") {
		t.Errorf("Message = %q, want the register error", res.Message)
	}
	if got := f.read(t, node.OKNGValue); got != "GENERAL_ERROR: "+raw {
		t.Errorf("node = %q, want GENERAL_ERROR marker", got)
	}
}

func TestSensorCheck(t *testing.T) {
	tests := []struct {
		name  string
		value node.Value
		want  string
	}{
		{"true", node.Bool(true), SensorCheckOK},
		{"false", node.Bool(false), node.ReadyValue},
		{"text true", node.Text("true"), SensorCheckOK},
		{"one", node.Numeric(1), SensorCheckOK},
		{"zero", node.Numeric(0), node.ReadyValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 20*time.Millisecond)
			res := f.invoke(t, CmdConveyorSensor, tt.value)
			if !res.Success || res.Message != "Success: Sensor check signal processed." {
				t.Errorf("Invoke() = %+v", res)
			}
			if got := f.read(t, node.ConveyorSensor); got != tt.want {
				t.Errorf("node = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSensorCheck_NoReset(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	f.invoke(t, CmdRobotArmSensor, node.Bool(true))
	if n := f.tasks.Active(""); n != 0 {
		t.Errorf("Active() = %d, want no reset scheduled", n)
	}
	time.Sleep(30 * time.Millisecond)
	if got := f.read(t, node.RobotArmSensor); got != SensorCheckOK {
		t.Errorf("node = %q, want %q", got, SensorCheckOK)
	}
}

func TestReadyState(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantCode int32
		wantMsg  string
		wantNode string
	}{
		{"cycle complete", `{"state":"cycle_complete"}`, 0,
			"Success: State 'CYCLE_COMPLETE' relayed to PLC.", "ARM_CYCLE_COMPLETE. PLC: START CONVEYOR"},
		{"pause", `{"state":"PAUSE"}`, 0,
			"Success: State 'PAUSE' relayed to PLC.", "Received Command: PAUSE"},
		{"continue", `{"state":" Continue "}`, 0,
			"Success: State 'CONTINUE' relayed to PLC.", "Received Command: CONTINUE"},
		{"bad json", `{state}`, 1, "Error: Invalid JSON format received.", "Error: Invalid JSON format received."},
		{"missing state", `{"mode":"x"}`, 1, "Error: Missing 'state' key.", "Error: Missing 'state' key."},
		{"invalid state", `{"state":"dance"}`, 1, "Error: Invalid state command: DANCE", "Error: Invalid state command: DANCE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, time.Second)
			res := f.invoke(t, CmdReadyState, node.Text(tt.input))
			if res.Code != tt.wantCode || res.Message != tt.wantMsg {
				t.Errorf("Invoke() = %+v, want code %d %q", res, tt.wantCode, tt.wantMsg)
			}
			if got := f.read(t, node.ReadyState); got != tt.wantNode {
				t.Errorf("node = %q, want %q", got, tt.wantNode)
			}
		})
	}
}

func TestReadyState_TwoPhase(t *testing.T) {
	f := newFixture(t, time.Second)

	var mu sync.Mutex
	var seen []string
	unsub := f.registry.SubscribeNode(node.ReadyState, func(c node.Change) {
		mu.Lock()
		seen = append(seen, c.New.Normalize())
		mu.Unlock()
	})
	defer unsub()

	f.invoke(t, CmdReadyState, node.Text(`{"state":"PAUSE"}`))

	mu.Lock()
	defer mu.Unlock()
	want := []string{"Processing Command: Received Command: PAUSE", "Received Command: PAUSE"}
	if len(seen) != len(want) {
		t.Fatalf("writes = %q, want %q", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("write[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestReadyState_CancelledStillFinishes(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, _ := f.in.Invoke(ctx, CmdReadyState, node.Text(`{"state":"PAUSE"}`))
	if !res.Success {
		t.Errorf("Invoke() = %+v, want success", res)
	}
	if got := f.read(t, node.ReadyState); got != "Received Command: PAUSE" {
		t.Errorf("node = %q, want final status", got)
	}
}

func TestArmJSON(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)

	raw := `{"status":"done","module_type":"gripper","img":"aGVsbG8="}`
	res := f.invoke(t, CmdArmJSON, node.Text(raw))
	if res.Code != CodeOK || res.Message != "Data processed and written to Variable" {
		t.Errorf("Invoke() = %+v", res)
	}
	if got := f.read(t, node.ArmJSON); got != raw {
		t.Errorf("node = %q, want %q", got, raw)
	}
	waitFor(t, "reset to Ready", func() bool { return f.read(t, node.ArmJSON) == node.ReadyValue })

	res = f.invoke(t, CmdArmJSON, node.Text(`{"status":`))
	if res.Code != CodeDecode || !strings.HasPrefix(res.Message, "JSON Decode Error: ") {
		t.Errorf("malformed Invoke() = %+v, want code 2", res)
	}

	// A bad embedded image is logged, not rejected.
	res = f.invoke(t, CmdArmJSON, node.Text(`{"img":"!!!"}`))
	if res.Code != CodeOK {
		t.Errorf("bad image Invoke() = %+v, want code 0", res)
	}
}

func TestArmImage(t *testing.T) {
	tests := []struct {
		name     string
		value    node.Value
		wantCode int32
		wantMsg  string
	}{
		{"jpeg", node.Bytes([]byte{0xFF, 0xD8, 0xFF}), CodeOK, "JPG data successfully written to ByteString Variable"},
		{"text", node.Text("not bytes"), CodeWrongType, "Error: Input must be ByteString Variant."},
		{"empty", node.Bytes(nil), CodeEmpty, "Empty Image Data (ByteString)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, time.Second)
			res := f.invoke(t, CmdArmImage, tt.value)
			if res.Code != tt.wantCode || res.Message != tt.wantMsg {
				t.Errorf("Invoke() = %+v, want %d %q", res, tt.wantCode, tt.wantMsg)
			}
		})
	}
}

func TestArmImage_StoresBytes(t *testing.T) {
	f := newFixture(t, time.Second)
	frame := []byte{0xFF, 0xD8, 0x00, 0x01}
	f.invoke(t, CmdArmImage, node.Bytes(frame))

	v, err := f.registry.Read(node.ArmImage)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	got, ok := v.Raw()
	if !ok || string(got) != string(frame) {
		t.Errorf("node = %v, want %d raw bytes", v, len(frame))
	}
	if n := f.tasks.Active(""); n != 0 {
		t.Errorf("Active() = %d, want no reset for images", n)
	}
}

func TestInvoke_RecordsAndNotifies(t *testing.T) {
	f := newFixture(t, time.Second)

	var got []string
	remove := f.in.OnResult("test", func(name string, res Result) {
		got = append(got, name)
	})

	f.invoke(t, CmdConveyorSensor, node.Bool(true))
	f.invoke(t, CmdArmImage, node.Text("x"))
	remove()
	f.invoke(t, CmdConveyorSensor, node.Bool(false))

	if len(got) != 2 || got[0] != CmdConveyorSensor || got[1] != CmdArmImage {
		t.Errorf("observed = %v", got)
	}

	f.recorder.mu.Lock()
	defer f.recorder.mu.Unlock()
	if len(f.recorder.calls) != 3 {
		t.Fatalf("recorded = %d, want 3", len(f.recorder.calls))
	}
	if c := f.recorder.calls[1]; c.success || c.code != CodeWrongType {
		t.Errorf("recorded[1] = %+v, want failure code 2", c)
	}
}

func TestArgument(t *testing.T) {
	tests := []struct {
		name    string
		shape   Shape
		payload string
		binary  bool
		want    node.Kind
	}{
		{"json text", ShapeJSON, `{"Anomaly":"OK"}`, false, node.KindText},
		{"json sent binary", ShapeJSON, `{"a":1}`, true, node.KindText},
		{"bool literal", ShapeBool, "true", false, node.KindBool},
		{"bool quoted", ShapeBool, ` "false" `, false, node.KindBool},
		{"bool garbage", ShapeBool, "maybe", false, node.KindText},
		{"bytes binary", ShapeBytes, "\xff\xd8\xff", true, node.KindBytes},
		{"bytes as text", ShapeBytes, "not-an-image", false, node.KindText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Argument(Command{Shape: tt.shape}, []byte(tt.payload), tt.binary)
			if got.Kind() != tt.want {
				t.Errorf("Argument() kind = %v, want %v", got.Kind(), tt.want)
			}
		})
	}
}
