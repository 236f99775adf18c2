package stmpe811

import (
	"context"
	"errors"
	"sync"
	"time"

	"touchpanel.dev/bus"
	"touchpanel.dev/touch"
)

// errNotAcquired reports a register access outside Acquire and Release.
var errNotAcquired = errors.New("stmpe811: register access without bus")

const fifoDepth = 128

// Simulator is a register level model of a single STMPE811 on a board
// that supports one instance.
type Simulator struct {
	dom *bus.Domain
	irq bool

	mu         sync.Mutex
	regs       [256]byte
	frames     [][]touch.Sample
	fifo       []touch.Sample
	touched    bool
	intPending bool
	failures   int
	notify     chan struct{}

	acquires     int
	releases     int
	transactions int
	violations   int
}

// NewSimulator returns a simulator. If irq is set, the adapters it hands
// out have an interrupt line.
func NewSimulator(irq bool) *Simulator {
	return &Simulator{
		dom:    bus.NewDomain(100 * time.Millisecond),
		irq:    irq,
		notify: make(chan struct{}),
	}
}

func (s *Simulator) Init(instance int) (bus.Adapter, bool) {
	if instance != 0 {
		return nil, false
	}
	if !s.irq {
		return struct{ bus.Adapter }{s}, true
	}
	return s, true
}

// Feed queues conversions. Every sample becomes visible to one read; a
// sample with zero Z releases the panel.
func (s *Simulator) Feed(samples ...touch.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, smp := range samples {
		s.frames = append(s.frames, []touch.Sample{smp})
	}
	s.wakeup()
}

// Burst queues several conversions that fill the FIFO at once.
func (s *Simulator) Burst(samples ...touch.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, samples)
	s.wakeup()
}

// FailNext makes the next n register transactions time out.
func (s *Simulator) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

// Pending returns the number of queued conversions not yet read.
func (s *Simulator) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Transactions returns the number of register transactions attempted.
func (s *Simulator) Transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transactions
}

// Balanced reports whether every acquisition was released and no
// register was accessed without the bus.
func (s *Simulator) Balanced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquires == s.releases && s.violations == 0 && !s.dom.Held()
}

func (s *Simulator) wakeup() {
	close(s.notify)
	s.notify = make(chan struct{})
}

func (s *Simulator) Acquire(ctx context.Context) error {
	if err := s.dom.Acquire(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.acquires++
	s.mu.Unlock()
	return nil
}

func (s *Simulator) Release() {
	s.mu.Lock()
	s.releases++
	s.mu.Unlock()
	s.dom.Release()
}

func (s *Simulator) PollIRQ() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.asserted()
}

func (s *Simulator) asserted() bool {
	return s.intPending || len(s.frames) > 0
}

func (s *Simulator) WaitIRQ(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.asserted() {
			s.mu.Unlock()
			return nil
		}
		notify := s.notify
		s.mu.Unlock()
		select {
		case <-notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// begin accounts for a transaction and reports whether it fails.
func (s *Simulator) begin() error {
	s.transactions++
	if !s.dom.Held() {
		s.violations++
		return errNotAcquired
	}
	if s.failures > 0 {
		s.failures--
		return bus.ErrTimeout
	}
	return nil
}

func (s *Simulator) WriteRegister(reg, val byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(); err != nil {
		return err
	}
	switch reg {
	case regSysCtrl1:
		if val&sysCtrl1SoftReset != 0 {
			s.regs = [256]byte{}
			s.fifo = nil
			s.touched = false
			s.intPending = false
			return nil
		}
	case regFIFOSta:
		if val&fifoStaReset != 0 {
			s.fifo = nil
		}
	case regIntSta:
		// Write one to clear.
		s.regs[regIntSta] &^= val
		s.intPending = s.regs[regIntSta] != 0
		return nil
	}
	s.regs[reg] = val
	return nil
}

func (s *Simulator) ReadByte(reg byte) (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(); err != nil {
		return 0, err
	}
	switch reg {
	case regIDVer:
		return 0x03, nil
	case regTSCCtrl:
		s.convert()
		v := s.regs[regTSCCtrl] &^ tscCtrlSta
		if s.touched {
			v |= tscCtrlSta
		}
		return v, nil
	case regFIFOSta:
		var v byte
		switch {
		case len(s.fifo) == 0:
			v |= fifoStaEmpty
		case len(s.fifo) >= fifoDepth:
			v |= fifoStaFull
		}
		return v, nil
	case regFIFOSize:
		return byte(len(s.fifo)), nil
	case regTSCDataZ:
		if len(s.fifo) == 0 {
			return 0, nil
		}
		z := s.fifo[0].Z
		s.fifo = s.fifo[1:]
		return byte(z), nil
	}
	return s.regs[reg], nil
}

func (s *Simulator) ReadWord(reg byte) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(); err != nil {
		return 0, err
	}
	switch reg {
	case regChipID:
		return chipID, nil
	case regTSCDataX, regTSCDataY:
		if len(s.fifo) == 0 {
			return 0, nil
		}
		if reg == regTSCDataX {
			return s.fifo[0].X, nil
		}
		return s.fifo[0].Y, nil
	}
	return uint16(s.regs[reg])<<8 | uint16(s.regs[reg+1]), nil
}

// convert latches the next queued conversion once the host has drained
// the previous one.
func (s *Simulator) convert() {
	if s.regs[regTSCCtrl]&tscCtrlEnable == 0 || len(s.fifo) > 0 || len(s.frames) == 0 {
		return
	}
	frame := s.frames[0]
	s.frames = s.frames[1:]
	s.touched = false
	for _, smp := range frame {
		if smp.Z == 0 {
			continue
		}
		s.touched = true
		s.fifo = append(s.fifo, smp)
	}
	s.regs[regIntSta] |= intTouchDet
	s.intPending = true
}
