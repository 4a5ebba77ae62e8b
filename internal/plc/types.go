package plc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/nerrad567/gray-logic-cell/internal/infrastructure/config"
)

// ErrOutOfRange is returned when a setpoint doesn't fit a 16-bit register.
var ErrOutOfRange = errors.New("plc: value out of register range")

// IO is the PLC access the actuator needs. *modbus.Client implements it.
type IO interface {
	ReadCoil(ctx context.Context, addr uint16) (bool, error)
	WriteCoil(ctx context.Context, addr uint16, on bool) error
	WriteRegister(ctx context.Context, addr uint16, value uint16) error
}

// CoilMap holds the PLC address of each logical coil.
type CoilMap struct {
	ConveyorSensor uint16
	RobotArmSensor uint16
	NG             uint16
	OK             uint16
	Move           uint16
	Stop           uint16
	Forward        uint16
	Reverse        uint16
	Restart        uint16
}

// CoilMapFromConfig converts validated configuration into a CoilMap.
func CoilMapFromConfig(c config.CoilConfig) CoilMap {
	//nolint:gosec // addresses validated by config.Validate
	return CoilMap{
		ConveyorSensor: uint16(c.ConveyorSensor),
		RobotArmSensor: uint16(c.RobotArmSensor),
		NG:             uint16(c.NG),
		OK:             uint16(c.OK),
		Move:           uint16(c.Move),
		Stop:           uint16(c.Stop),
		Forward:        uint16(c.Forward),
		Reverse:        uint16(c.Reverse),
		Restart:        uint16(c.Restart),
	}
}

// Name returns the logical name of an output coil address, for logs and
// telemetry.
func (m CoilMap) Name(addr uint16) string {
	switch addr {
	case m.NG:
		return "ng"
	case m.OK:
		return "ok"
	case m.Move:
		return "move"
	case m.Stop:
		return "stop"
	case m.Forward:
		return "forward"
	case m.Reverse:
		return "reverse"
	case m.Restart:
		return "restart"
	case m.ConveyorSensor:
		return "conveyor_sensor"
	case m.RobotArmSensor:
		return "robot_arm_sensor"
	default:
		return fmt.Sprintf("coil_%d", addr)
	}
}

// RegisterMap holds the PLC address of each holding register.
type RegisterMap struct {
	Frequency    uint16
	Acceleration uint16
	Deceleration uint16
	AnomalyFlag  uint16
}

// RegisterMapFromConfig converts validated configuration into a RegisterMap.
func RegisterMapFromConfig(r config.RegisterConfig) RegisterMap {
	//nolint:gosec // addresses validated by config.Validate
	return RegisterMap{
		Frequency:    uint16(r.Frequency),
		Acceleration: uint16(r.Acceleration),
		Deceleration: uint16(r.Deceleration),
		AnomalyFlag:  uint16(r.AnomalyFlag),
	}
}

// Direction is the conveyor travel direction.
type Direction string

const (
	Forward Direction = "FORWARD"
	Reverse Direction = "REVERSE"
)

// ParseDirection normalizes a stored direction. Unknown values come back
// as-is with ok=false.
func ParseDirection(s string) (Direction, bool) {
	d := Direction(strings.ToUpper(strings.TrimSpace(s)))
	switch d {
	case Forward, Reverse:
		return d, true
	default:
		return d, false
	}
}

// Setpoints are the continuous drive parameters.
type Setpoints struct {
	Frequency    float64
	Acceleration float64
	Deceleration float64
}

// ScaleFrequency converts a frequency in Hz to its register word (x100).
func ScaleFrequency(hz float64) (uint16, error) {
	return toRegister("frequency", hz*100)
}

// Truncate converts a ramp time to its register word.
func Truncate(v float64) (uint16, error) {
	return toRegister("value", v)
}

// snapEpsilon absorbs binary representation error so 12.34*100 becomes 1234,
// not 1233.
const snapEpsilon = 1e-6

func toRegister(name string, v float64) (uint16, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s=%v", ErrOutOfRange, name, v)
	}
	if r := math.Round(v); math.Abs(v-r) < snapEpsilon {
		v = r
	}
	t := math.Trunc(v)
	if t < 0 || t > math.MaxUint16 {
		return 0, fmt.Errorf("%w: %s=%v", ErrOutOfRange, name, v)
	}
	return uint16(t), nil
}
