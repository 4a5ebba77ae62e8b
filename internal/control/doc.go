// Package control polls the conveyor's control state and drives the PLC.
//
// The web tier writes the desired run mode, direction and drive setpoints
// into plc_control_state. Every poll the Loop reads that row, re-applies the
// setpoints, and dispatches exactly one conveyor sequence when run_mode has
// changed since the last poll. The first successful poll only records a
// baseline, so a restart of the controller never replays the last command.
//
// Manual starts from the HMI go through ManualStart, which refuses to move
// the conveyor while the stored run mode is STOP.
//
// Thread Safety:
//   - Run owns the edge-tracking state and must be called once.
//   - ManualStart and Snapshot are safe from any goroutine. Sequences are
//     serialized by the actuator.
package control
