package ingress

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-cell/internal/node"
)

// Shape is the payload a command expects.
type Shape int

const (
	ShapeJSON Shape = iota
	ShapeBool
	ShapeBytes
)

// String returns the shape name.
func (s Shape) String() string {
	switch s {
	case ShapeJSON:
		return "json"
	case ShapeBool:
		return "bool"
	case ShapeBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Style is how a command reports its outcome.
type Style int

const (
	// StyleBool reports (success, message).
	StyleBool Style = iota
	// StyleCode reports (int32 result code, message); 0 is success.
	StyleCode
)

// String returns the style name.
func (s Style) String() string {
	if s == StyleCode {
		return "code"
	}
	return "bool"
}

// Method names.
const (
	CmdAMRGoMove         = "write_amr_go_move"
	CmdAMRGoPositions    = "write_amr_go_positions"
	CmdAMRMissionState   = "write_amr_mission_state"
	CmdConveyorSensor    = "write_conveyor_sensor_check"
	CmdOKNGValue         = "write_ok_ng_value"
	CmdRobotArmSensor    = "write_robotarm_sensor_check"
	CmdReadyState        = "write_ready_state"
	CmdConveyorCommand   = "write_conveyor_command"
	CmdArmJSON           = "write_send_arm_json"
	CmdArmGoMove         = "write_arm_go_move"
	CmdArmPlaceSingle    = "write_arm_place_single"
	CmdArmPlaceCompleted = "write_arm_place_completed"
	CmdArmImage          = "write_send_arm_img"
)

// Result is what a method call returns to its caller.
type Result struct {
	Success bool   `json:"success"`
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

type handlerFunc func(ctx context.Context, cmd *Command, v node.Value) Result

// Command is one entry of the command table.
type Command struct {
	Name        string `json:"name"`
	Node        string `json:"node"`
	Shape       Shape  `json:"-"`
	Style       Style  `json:"-"`
	Description string `json:"description"`

	// Observational commands leave an error marker in their node on failure.
	Observational bool `json:"observational"`

	handle handlerFunc
}

// commandTable lists every method the cell exposes.
func (in *Ingress) commandTable() []*Command {
	return []*Command{
		{Name: CmdAMRGoMove, Node: node.AMRGoMove, Shape: ShapeJSON, Style: StyleBool,
			Description: "Store an AMR move command", handle: in.handleJSON},
		{Name: CmdAMRGoPositions, Node: node.AMRGoPositions, Shape: ShapeJSON, Style: StyleBool,
			Description: "Store AMR target positions", handle: in.handleJSON},
		{Name: CmdAMRMissionState, Node: node.AMRMissionState, Shape: ShapeJSON, Style: StyleBool,
			Description: "Store the AMR mission state", handle: in.handleJSON},

		{Name: CmdConveyorSensor, Node: node.ConveyorSensor, Shape: ShapeBool, Style: StyleBool,
			Description: "Report the conveyor sensor", handle: in.handleSensor},
		{Name: CmdOKNGValue, Node: node.OKNGValue, Shape: ShapeJSON, Style: StyleCode, Observational: true,
			Description: "Store an inspection verdict and set the anomaly flag", handle: in.handleOKNG},
		{Name: CmdRobotArmSensor, Node: node.RobotArmSensor, Shape: ShapeBool, Style: StyleBool,
			Description: "Report the robot-arm sensor", handle: in.handleSensor},
		{Name: CmdReadyState, Node: node.ReadyState, Shape: ShapeJSON, Style: StyleCode,
			Description: "Relay an arm cycle state to the PLC", handle: in.handleReadyState},
		{Name: CmdConveyorCommand, Node: node.ConveyorCommand, Shape: ShapeJSON, Style: StyleBool,
			Description: "Store an operator conveyor command", handle: in.handleJSON},

		{Name: CmdArmJSON, Node: node.ArmJSON, Shape: ShapeJSON, Style: StyleCode,
			Description: "Store an arm status document", handle: in.handleArmJSON},
		{Name: CmdArmGoMove, Node: node.ArmGoMove, Shape: ShapeJSON, Style: StyleBool,
			Description: "Store an arm move command", handle: in.handleJSON},
		{Name: CmdArmPlaceSingle, Node: node.ArmPlaceSingle, Shape: ShapeJSON, Style: StyleBool,
			Description: "Store an arm single place command", handle: in.handleJSON},
		{Name: CmdArmPlaceCompleted, Node: node.ArmPlaceCompleted, Shape: ShapeJSON, Style: StyleBool,
			Description: "Store an arm place completion", handle: in.handleJSON},

		{Name: CmdArmImage, Node: node.ArmImage, Shape: ShapeBytes, Style: StyleCode,
			Description: "Store the latest arm camera frame", handle: in.handleImage},
	}
}

// validateTable checks names are unique, every node exists, and byte
// commands target byte nodes.
func validateTable(cmds []*Command, defs func(id string) (node.Definition, bool)) error {
	seen := make(map[string]bool, len(cmds))
	for _, cmd := range cmds {
		if cmd.Name == "" {
			return fmt.Errorf("%w: command with empty name", ErrInvalidTable)
		}
		if seen[cmd.Name] {
			return fmt.Errorf("%w: duplicate command %s", ErrInvalidTable, cmd.Name)
		}
		seen[cmd.Name] = true

		if cmd.handle == nil {
			return fmt.Errorf("%w: %s has no handler", ErrInvalidTable, cmd.Name)
		}

		def, ok := defs(cmd.Node)
		if !ok {
			return fmt.Errorf("%w: %s targets unknown node %s", ErrInvalidTable, cmd.Name, cmd.Node)
		}
		wantBytes := cmd.Shape == ShapeBytes
		if (def.Kind == node.KindBytes) != wantBytes {
			return fmt.Errorf("%w: %s shape %s does not fit %s node %s",
				ErrInvalidTable, cmd.Name, cmd.Shape, def.Kind, cmd.Node)
		}
	}
	return nil
}
