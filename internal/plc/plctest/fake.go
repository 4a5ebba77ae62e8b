// Package plctest provides an in-memory PLC for tests.
package plctest

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInjected is the error returned by injected failures.
var ErrInjected = errors.New("plctest: injected failure")

// Write is one recorded coil or register write.
type Write struct {
	Register bool
	Addr     uint16
	On       bool
	Value    uint16
}

// String renders a write as "coil 68=1" or "reg 0=1234".
func (w Write) String() string {
	if w.Register {
		return fmt.Sprintf("reg %d=%d", w.Addr, w.Value)
	}
	v := 0
	if w.On {
		v = 1
	}
	return fmt.Sprintf("coil %d=%d", w.Addr, v)
}

// PLC is a fake implementing plc.IO.
type PLC struct {
	mu        sync.Mutex
	coils     map[uint16]bool
	registers map[uint16]uint16
	writes    []Write

	failRead      map[uint16]bool
	failWrite     map[uint16]int // remaining failures; -1 means forever
	failWriteOn   map[uint16]bool
	failClear     map[uint16]int
	readSequences map[uint16][]int
}

// New creates an empty PLC with every coil off.
func New() *PLC {
	return &PLC{
		coils:         make(map[uint16]bool),
		registers:     make(map[uint16]uint16),
		failRead:      make(map[uint16]bool),
		failWrite:     make(map[uint16]int),
		failWriteOn:   make(map[uint16]bool),
		failClear:     make(map[uint16]int),
		readSequences: make(map[uint16][]int),
	}
}

// ReadCoil implements plc.IO.
//
// A queued read sequence takes precedence: 0 and 1 are returned as values,
// -1 as a read error. Once a sequence is drained, reads return the coil.
func (p *PLC) ReadCoil(ctx context.Context, addr uint16) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if seq := p.readSequences[addr]; len(seq) > 0 {
		next := seq[0]
		p.readSequences[addr] = seq[1:]
		if next < 0 {
			return false, ErrInjected
		}
		return next == 1, nil
	}
	if p.failRead[addr] {
		return false, ErrInjected
	}
	return p.coils[addr], nil
}

// WriteCoil implements plc.IO.
func (p *PLC) WriteCoil(ctx context.Context, addr uint16, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if on && p.failWriteOn[addr] {
		return ErrInjected
	}
	if !on && p.failClear[addr] > 0 {
		p.failClear[addr]--
		return ErrInjected
	}
	if n, ok := p.failWrite[addr]; ok && n != 0 {
		if n > 0 {
			p.failWrite[addr] = n - 1
		}
		return ErrInjected
	}
	p.coils[addr] = on
	p.writes = append(p.writes, Write{Addr: addr, On: on})
	return nil
}

// WriteRegister implements plc.IO.
func (p *PLC) WriteRegister(ctx context.Context, addr uint16, value uint16) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if n, ok := p.failWrite[addr]; ok && n != 0 {
		if n > 0 {
			p.failWrite[addr] = n - 1
		}
		return ErrInjected
	}
	p.registers[addr] = value
	p.writes = append(p.writes, Write{Register: true, Addr: addr, Value: value})
	return nil
}

// SetCoil sets a coil without recording a write, e.g. a sensor input.
func (p *PLC) SetCoil(addr uint16, on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.coils[addr] = on
}

// Coil returns the current state of a coil.
func (p *PLC) Coil(addr uint16) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.coils[addr]
}

// Register returns the current value of a register.
func (p *PLC) Register(addr uint16) uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registers[addr]
}

// Writes returns a copy of every successful write in order.
func (p *PLC) Writes() []Write {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Write(nil), p.writes...)
}

// CoilWrites returns the successful coil writes in order.
func (p *PLC) CoilWrites() []Write {
	var out []Write
	for _, w := range p.Writes() {
		if !w.Register {
			out = append(out, w)
		}
	}
	return out
}

// ResetWrites forgets recorded writes.
func (p *PLC) ResetWrites() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = nil
}

// FailReads makes every read of addr fail until cleared with fail=false.
func (p *PLC) FailReads(addr uint16, fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failRead[addr] = fail
}

// FailWrites makes the next n writes to addr fail; n<0 fails forever and
// n=0 clears the injection.
func (p *PLC) FailWrites(addr uint16, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n == 0 {
		delete(p.failWrite, addr)
		return
	}
	p.failWrite[addr] = n
}

// FailSetting makes every write of 1 to coil addr fail while clears succeed.
func (p *PLC) FailSetting(addr uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWriteOn[addr] = true
}

// FailClears makes the next n writes of 0 to coil addr fail.
func (p *PLC) FailClears(addr uint16, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failClear[addr] = n
}

// QueueReads scripts the next reads of addr: 0/1 values, -1 for an error.
func (p *PLC) QueueReads(addr uint16, values ...int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readSequences[addr] = append(p.readSequences[addr], values...)
}

// PendingReads returns how many scripted reads of addr remain.
func (p *PLC) PendingReads(addr uint16) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.readSequences[addr])
}
