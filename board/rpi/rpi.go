// Package rpi implements a touch controller board for Linux single board
// computers, with the controller on an I2C bus and its interrupt output
// on a GPIO.
package rpi

import (
	"context"
	"fmt"
	"io"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"touchpanel.dev/bus"
)

// Board supports a single touch instance.
type Board struct {
	dev     i2c.Dev
	closer  io.Closer
	irq     gpio.PinIn
	dom     *bus.Domain
	wire    *bus.Wire
	timeout time.Duration
}

// Open opens the I2C bus named i2cName and the interrupt input named
// irqName. An empty i2cName selects the first available bus; an empty
// irqName means no interrupt line is wired.
func Open(i2cName, irqName string, cfg bus.Config) (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("rpi: %w", err)
	}
	b, err := i2creg.Open(i2cName)
	if err != nil {
		return nil, fmt.Errorf("rpi: %w", err)
	}
	var irq gpio.PinIn
	if irqName != "" {
		p := gpioreg.ByName(irqName)
		if p == nil {
			b.Close()
			return nil, fmt.Errorf("rpi: no such pin: %s", irqName)
		}
		irq = p
	}
	brd, err := New(b, irq, cfg)
	if err != nil {
		b.Close()
		return nil, err
	}
	brd.closer = b
	return brd, nil
}

// New returns a board for an opened bus. The interrupt line irq may be
// nil.
func New(b i2c.Bus, irq gpio.PinIn, cfg bus.Config) (*Board, error) {
	if cfg.Frequency != 0 {
		if err := b.SetSpeed(cfg.Frequency); err != nil {
			return nil, fmt.Errorf("rpi: %w", err)
		}
	}
	if irq != nil {
		// The controller drives the line low while data is pending.
		if err := irq.In(gpio.PullUp, gpio.FallingEdge); err != nil {
			return nil, fmt.Errorf("rpi: %s: %w", irq, err)
		}
	}
	return &Board{
		dev:     i2c.Dev{Bus: b, Addr: cfg.Address},
		irq:     irq,
		dom:     bus.NewDomain(cfg.Timeout),
		wire:    bus.NewWire(),
		timeout: cfg.Timeout,
	}, nil
}

func (b *Board) Init(instance int) (bus.Adapter, bool) {
	if instance != 0 {
		return nil, false
	}
	if b.irq == nil {
		return struct{ bus.Adapter }{&adapter{b}}, true
	}
	return &adapter{b}, true
}

func (b *Board) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

type adapter struct {
	b *Board
}

func (a *adapter) Acquire(ctx context.Context) error {
	return a.b.dom.Acquire(ctx)
}

func (a *adapter) Release() {
	a.b.dom.Release()
}

func (a *adapter) tx(w []byte, n int) ([]byte, error) {
	return bus.Transfer(a.b.wire, a.b.timeout, func() ([]byte, error) {
		r := make([]byte, n)
		if err := a.b.dev.Tx(w, r); err != nil {
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
	return a.b.irq.Read() == gpio.Low
}

// edgeSlice bounds every wait for an edge, so that cancellation is
// observed.
const edgeSlice = 50 * time.Millisecond

func (a *adapter) WaitIRQ(ctx context.Context) error {
	for {
		if a.PollIRQ() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		a.b.irq.WaitForEdge(edgeSlice)
	}
}
