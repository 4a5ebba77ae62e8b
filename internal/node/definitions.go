package node

// Group is the device family a node belongs to.
type Group string

const (
	GroupAMR Group = "AMR" // mobile robot
	GroupPLC Group = "PLC"
	GroupARM Group = "ARM" // manipulator
	GroupIMG Group = "IMG" // imagery
)

// ReadyValue is the idle value of every text node.
const ReadyValue = "Ready"

// Node ids. Each is written by the matching write_* command.
const (
	AMRGoMove         = "read_amr_go_move"
	AMRGoPositions    = "read_amr_go_positions"
	AMRMissionState   = "read_amr_mission_state"
	ConveyorSensor    = "read_conveyor_sensor_check"
	OKNGValue         = "read_ok_ng_value"
	RobotArmSensor    = "read_robotarm_sensor_check"
	ReadyState        = "read_ready_state"
	ConveyorCommand   = "read_conveyor_command"
	ArmJSON           = "read_send_arm_json"
	ArmGoMove         = "read_arm_go_move"
	ArmPlaceSingle    = "read_arm_place_single"
	ArmPlaceCompleted = "read_arm_place_completed"
	ArmImage          = "read_send_arm_img"
)

// Definition describes a node created at startup.
type Definition struct {
	ID          string
	Group       Group
	Kind        Kind
	Description string
}

// Initial is the value a node holds before anything writes it.
func (d Definition) Initial() Value {
	if d.Kind == KindBytes {
		return Bytes(nil)
	}
	return Text(ReadyValue)
}

// DefaultDefinitions returns the nodes of the conveyor cell.
func DefaultDefinitions() []Definition {
	return []Definition{
		{ID: AMRGoMove, Group: GroupAMR, Kind: KindText, Description: "AMR move command"},
		{ID: AMRGoPositions, Group: GroupAMR, Kind: KindText, Description: "AMR target positions"},
		{ID: AMRMissionState, Group: GroupAMR, Kind: KindText, Description: "AMR mission state"},

		{ID: ConveyorSensor, Group: GroupPLC, Kind: KindText, Description: "Conveyor sensor check status"},
		{ID: OKNGValue, Group: GroupPLC, Kind: KindText, Description: "Inspection verdict (OK/NG)"},
		{ID: RobotArmSensor, Group: GroupPLC, Kind: KindText, Description: "Robot-arm sensor check status"},
		{ID: ReadyState, Group: GroupPLC, Kind: KindText, Description: "Arm cycle state relayed to the PLC"},
		{ID: ConveyorCommand, Group: GroupPLC, Kind: KindText, Description: "Operator conveyor command (HMI)"},

		{ID: ArmJSON, Group: GroupARM, Kind: KindText, Description: "Arm status document"},
		{ID: ArmGoMove, Group: GroupARM, Kind: KindText, Description: "Arm move command"},
		{ID: ArmPlaceSingle, Group: GroupARM, Kind: KindText, Description: "Arm single place command"},
		{ID: ArmPlaceCompleted, Group: GroupARM, Kind: KindText, Description: "Arm place completion"},

		{ID: ArmImage, Group: GroupIMG, Kind: KindBytes, Description: "Latest arm camera frame (JPEG)"},
	}
}
