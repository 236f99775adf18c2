// Package bus defines the contract between touch controller drivers and
// the board-specific transport they are wired to.
//
// A Board hands out one Adapter per supported touch instance. All adapters
// of a board that share a physical bus share one Domain, so that no
// instance can issue a transaction while another instance holds the bus.
package bus

import (
	"context"
	"errors"
	"time"

	"periph.io/x/conn/v3/physic"
)

var (
	// ErrTimeout reports a bus acquisition or transaction that exceeded
	// its timeout.
	ErrTimeout = errors.New("bus: transaction timeout")
	// ErrUnsupported reports an optional capability the board lacks.
	ErrUnsupported = errors.New("bus: capability not supported")
	// ErrUnsupportedInstance reports an instance index beyond what the
	// board supports.
	ErrUnsupportedInstance = errors.New("bus: unsupported instance")
)

// Board is implemented once per hardware target.
type Board interface {
	// Init configures the lines and clocks of one touch instance. It
	// reports false if the board does not support the instance.
	Init(instance int) (Adapter, bool)
}

// Adapter performs timed register transactions for one instance.
// Register operations are only valid between Acquire and Release.
type Adapter interface {
	Acquire(ctx context.Context) error
	// Release must match a prior successful Acquire.
	Release()
	WriteRegister(reg, val byte) error
	ReadByte(reg byte) (byte, error)
	// ReadWord reads a big-endian 16-bit register pair.
	ReadWord(reg byte) (uint16, error)
}

// IRQLine is implemented by adapters whose controller interrupt output is
// wired to an input of the board.
type IRQLine interface {
	// PollIRQ reports whether the controller signals pending data.
	PollIRQ() bool
	// WaitIRQ blocks until PollIRQ would report true or ctx is done.
	WaitIRQ(ctx context.Context) error
}

// IRQ returns the interrupt line of a, or ErrUnsupported if the board
// has none wired.
func IRQ(a Adapter) (IRQLine, error) {
	if l, ok := a.(IRQLine); ok {
		return l, nil
	}
	return nil, ErrUnsupported
}

// Do runs fn with the bus of a acquired. The bus is released on every
// path out of fn.
func Do(ctx context.Context, a Adapter, fn func() error) error {
	if err := a.Acquire(ctx); err != nil {
		return err
	}
	defer a.Release()
	return fn()
}

// Config is the transport configuration passed to a board at
// construction.
type Config struct {
	// Address of the touch controller on the bus.
	Address uint16
	// Frequency is the bus clock.
	Frequency physic.Frequency
	// Timeout bounds every acquisition and transaction.
	Timeout time.Duration
}

// DefaultConfig matches an STMPE811 in fast mode.
var DefaultConfig = Config{
	Address:   0x41,
	Frequency: 400 * physic.KiloHertz,
	// Maximum timeout.
	Timeout: 0x3000 * time.Millisecond,
}
