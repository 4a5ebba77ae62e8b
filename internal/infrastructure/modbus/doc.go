// Package modbus is the cell's link to the conveyor PLC.
//
// It wraps github.com/goburrow/modbus with the operations the controller
// needs: single-coil reads and writes, and single holding-register reads and
// writes. All I/O on one client is serialized, because an RTU line carries
// one request at a time.
//
// A failed operation closes the underlying transport so the next call dials
// again, and flips IsConnected to false until an operation succeeds. Bounded
// reconnection lives in package connection.
//
// Usage:
//
//	plc, err := modbus.New(cfg.PLC)
//	if err != nil {
//	    return err
//	}
//	if err := plc.Connect(ctx); err != nil {
//	    return err
//	}
//	defer plc.Close()
//
//	on, err := plc.ReadCoil(ctx, 64)
package modbus
