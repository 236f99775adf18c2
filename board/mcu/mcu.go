// Package mcu implements a touch controller board for microcontrollers,
// where every touch instance sits on one shared I2C bus and signals data
// through a pin interrupt.
package mcu

import (
	"context"
	"time"

	"tinygo.org/x/drivers"
	"touchpanel.dev/bus"
)

// Instance describes the wiring of one touch controller.
type Instance struct {
	Address uint16
	// IRQ, if set, reports whether the interrupt line is asserted.
	IRQ func() bool
}

// Board supports one touch instance per entry of its wiring table.
type Board struct {
	bus       drivers.I2C
	dom       *bus.Domain
	wire      *bus.Wire
	timeout   time.Duration
	instances []Instance
	ints      []chan struct{}
}

// New returns a board where the controllers of instances share b. Every
// acquisition and transaction gives up after timeout.
func New(b drivers.I2C, timeout time.Duration, instances ...Instance) *Board {
	brd := &Board{
		bus:       b,
		dom:       bus.NewDomain(timeout),
		wire:      bus.NewWire(),
		timeout:   timeout,
		instances: instances,
	}
	for range instances {
		brd.ints = append(brd.ints, make(chan struct{}, 1))
	}
	return brd
}

func (b *Board) Init(instance int) (bus.Adapter, bool) {
	if instance < 0 || instance >= len(b.instances) {
		return nil, false
	}
	a := &adapter{b: b, idx: instance, addr: b.instances[instance].Address}
	if b.instances[instance].IRQ == nil {
		return struct{ bus.Adapter }{a}, true
	}
	return a, true
}

// Interrupt signals an edge of the interrupt line of instance. It
// doesn't block and is safe to call from interrupt handlers.
func (b *Board) Interrupt(instance int) {
	select {
	case b.ints[instance] <- struct{}{}:
	default:
	}
}

type adapter struct {
	b    *Board
	idx  int
	addr uint16
}

func (a *adapter) Acquire(ctx context.Context) error {
	return a.b.dom.Acquire(ctx)
}

func (a *adapter) Release() {
	a.b.dom.Release()
}

func (a *adapter) tx(w []byte, n int) ([]byte, error) {
	return bus.Transfer(a.b.wire, a.b.timeout, func() ([]byte, error) {
		var r []byte
		if n > 0 {
			r = make([]byte, n)
		}
		if err := a.b.bus.Tx(a.addr, w, r); err != nil {
			return nil, err
		}
		return r, nil
	})
}

func (a *adapter) WriteRegister(reg, val byte) error {
	_, err := a.tx([]byte{reg, val}, 0)
	return err
}

func (a *adapter) ReadByte(reg byte) (byte, error) {
	r, err := a.tx([]byte{reg}, 1)
	if err != nil {
		return 0, err
	}
	return r[0], nil
}

func (a *adapter) ReadWord(reg byte) (uint16, error) {
	r, err := a.tx([]byte{reg}, 2)
	if err != nil {
		return 0, err
	}
	return uint16(r[0])<<8 | uint16(r[1]), nil
}

func (a *adapter) PollIRQ() bool {
	return a.b.instances[a.idx].IRQ()
}

func (a *adapter) WaitIRQ(ctx context.Context) error {
	for !a.PollIRQ() {
		select {
		case <-a.b.ints[a.idx]:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
