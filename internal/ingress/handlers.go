package ingress

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-cell/internal/node"
	"github.com/nerrad567/gray-logic-cell/internal/tasks"
)

// Ready-state commands accepted by write_ready_state.
const (
	StateCycleComplete = "CYCLE_COMPLETE"
	StateContinue      = "CONTINUE"
	StatePause         = "PAUSE"
)

var readyStates = map[string]bool{
	StateCycleComplete: true,
	StateContinue:      true,
	StatePause:         true,
}

// Sensor statuses written by the sensor check commands.
const (
	SensorCheckOK = "Check OK"
)

// decodeDocument parses raw and requires an object or array.
func decodeDocument(raw string) (any, error) {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, decodeError(err)
	}
	switch doc.(type) {
	case map[string]any, []any:
		return doc, nil
	default:
		return nil, validationError("expected a JSON object or array, got %s", jsonType(doc))
	}
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// handleJSON stores any JSON document and schedules a reset.
func (in *Ingress) handleJSON(_ context.Context, cmd *Command, v node.Value) Result {
	raw := strings.TrimSpace(v.Normalize())
	if _, err := decodeDocument(raw); err != nil {
		return in.fail(cmd, raw, err)
	}
	if err := in.store(cmd, raw); err != nil {
		return in.fail(cmd, raw, err)
	}
	return succeed(fmt.Sprintf("Command '%s' received and stored. Reset scheduled.", raw))
}

// handleOKNG stores an inspection verdict and mirrors it into the PLC
// anomaly register: NG sets the flag, OK or no verdict clears it.
func (in *Ingress) handleOKNG(ctx context.Context, cmd *Command, v node.Value) Result {
	raw := strings.TrimSpace(v.Normalize())
	doc, err := decodeDocument(raw)
	if err != nil {
		return in.fail(cmd, raw, err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return in.fail(cmd, raw, validationError("expected a JSON object"))
	}

	ng := false
	if verdict, present := obj["Anomaly"]; present {
		s, _ := verdict.(string)
		switch strings.ToUpper(strings.TrimSpace(s)) {
		case "NG":
			ng = true
		case "OK":
		default:
			return in.fail(cmd, raw, validationError("Anomaly must be \"OK\" or \"NG\", got %v", verdict))
		}
	}

	if in.flag != nil {
		if err := in.flag.SetAnomalyFlag(ctx, ng); err != nil {
			return in.fail(cmd, raw, fmt.Errorf("writing anomaly flag: %w", err))
		}
	}
	if err := in.store(cmd, raw); err != nil {
		return in.fail(cmd, raw, err)
	}
	return succeed(fmt.Sprintf("PLC Command '%s' received and stored. Reset scheduled.", raw))
}

// handleSensor records a sensor check. The node holds its status until the
// next check; there is no reset.
func (in *Ingress) handleSensor(_ context.Context, cmd *Command, v node.Value) Result {
	status := node.ReadyValue
	if v.Truthy() {
		status = SensorCheckOK
	}
	if err := in.registry.Write(cmd.Node, node.Text(status)); err != nil {
		return Result{Success: false, Code: 1, Message: "Error: " + err.Error()}
	}
	return succeed("Success: Sensor check signal processed.")
}

// handleReadyState relays an arm cycle state. The node first shows
// "Processing Command: ..." and, after the settle delay, the final status.
func (in *Ingress) handleReadyState(ctx context.Context, cmd *Command, v node.Value) Result {
	raw := strings.TrimSpace(v.Normalize())

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return in.rejectState(cmd, "Error: Invalid JSON format received.")
	}
	state, ok := doc["state"]
	if !ok {
		return in.rejectState(cmd, "Error: Missing 'state' key.")
	}
	s := strings.ToUpper(strings.TrimSpace(fmt.Sprint(state)))
	if !readyStates[s] {
		return in.rejectState(cmd, "Error: Invalid state command: "+s)
	}

	status := "Received Command: " + s
	if s == StateCycleComplete {
		status = "ARM_CYCLE_COMPLETE. PLC: START CONVEYOR"
	}

	if err := in.registry.Write(cmd.Node, node.Text("Processing Command: "+status)); err != nil {
		return Result{Success: false, Code: 1, Message: "Error: " + err.Error()}
	}
	// The final status is written even if the caller gave up during the
	// settle so the node never stays in its processing state.
	if err := tasks.Sleep(ctx, in.settle); err != nil {
		in.logger.Warn("ready state settle interrupted", "state", s, "error", err)
	}
	if err := in.registry.Write(cmd.Node, node.Text(status)); err != nil {
		return Result{Success: false, Code: 1, Message: "Error: " + err.Error()}
	}
	return Result{Success: true, Code: 0, Message: fmt.Sprintf("Success: State '%s' relayed to PLC.", s)}
}

func (in *Ingress) rejectState(cmd *Command, msg string) Result {
	if err := in.registry.Write(cmd.Node, node.Text(msg)); err != nil {
		in.logger.Error("writing ready state error", "node", cmd.Node, "error", err)
	}
	return Result{Success: false, Code: 1, Message: msg}
}

// Arm status result codes.
const (
	CodeOK             int32 = 0
	CodeWrongType      int32 = 2
	CodeDecode         int32 = 2
	CodeNotInitialized int32 = 3
	CodeEmpty          int32 = 4
	CodeUnknown        int32 = 5
)

// armStatus is the part of an arm status document that gets logged.
type armStatus struct {
	Status     string `json:"status"`
	ModuleType string `json:"module_type"`
	Img        string `json:"img"`
}

// handleArmJSON stores an arm status document. An embedded base64 image is
// decoded for logging only.
func (in *Ingress) handleArmJSON(_ context.Context, cmd *Command, v node.Value) Result {
	raw := strings.TrimSpace(v.Normalize())

	var doc armStatus
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Result{Success: false, Code: CodeDecode, Message: "JSON Decode Error: " + err.Error()}
	}

	args := []any{"status", doc.Status, "module_type", doc.ModuleType}
	if doc.Img != "" {
		img, err := base64.StdEncoding.DecodeString(doc.Img)
		if err != nil {
			in.logger.Warn("arm image is not valid base64", "error", err)
		} else {
			args = append(args, "image_bytes", len(img))
		}
	}
	in.logger.Info("arm status received", args...)

	if err := in.store(cmd, raw); err != nil {
		return Result{Success: false, Code: codeFor(err), Message: "Unknown Error: " + err.Error()}
	}
	return Result{Success: true, Code: CodeOK, Message: "Data processed and written to Variable"}
}

// handleImage stores a camera frame. The frame stays until the next one.
func (in *Ingress) handleImage(_ context.Context, cmd *Command, v node.Value) Result {
	data, ok := v.Raw()
	if !ok {
		return Result{Success: false, Code: CodeWrongType, Message: "Error: Input must be ByteString Variant."}
	}
	if len(data) == 0 {
		return Result{Success: false, Code: CodeEmpty, Message: "Empty Image Data (ByteString)"}
	}
	if err := in.registry.Write(cmd.Node, node.Bytes(data)); err != nil {
		if errors.Is(err, node.ErrNodeNotFound) {
			return Result{Success: false, Code: CodeNotInitialized, Message: "Server Variable Not Initialized"}
		}
		return Result{Success: false, Code: CodeUnknown, Message: "Unknown Error: " + err.Error()}
	}
	return Result{Success: true, Code: CodeOK, Message: "JPG data successfully written to ByteString Variable"}
}

func codeFor(err error) int32 {
	if errors.Is(err, node.ErrNodeNotFound) {
		return CodeNotInitialized
	}
	return CodeUnknown
}
