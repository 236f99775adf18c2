package mcu

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"touchpanel.dev/bus"
)

type fakeI2C struct {
	mu   sync.Mutex
	regs map[uint16][]byte
}

func newFakeI2C(addrs ...uint16) *fakeI2C {
	f := &fakeI2C{regs: make(map[uint16][]byte)}
	for _, a := range addrs {
		f.regs[a] = make([]byte, 256)
	}
	return f
}

func (f *fakeI2C) Tx(addr uint16, w, r []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	regs, ok := f.regs[addr]
	if !ok {
		return errors.New("nack")
	}
	reg := w[0]
	for i, v := range w[1:] {
		regs[int(reg)+i] = v
	}
	copy(r, regs[reg:])
	return nil
}

func (f *fakeI2C) ReadRegister(addr uint8, r uint8, buf []byte) error {
	return f.Tx(uint16(addr), []byte{r}, buf)
}

func (f *fakeI2C) WriteRegister(addr uint8, r uint8, buf []byte) error {
	return f.Tx(uint16(addr), append([]byte{r}, buf...), nil)
}

func TestInstances(t *testing.T) {
	i2c := newFakeI2C(0x41, 0x44)
	b := New(i2c, time.Second, Instance{Address: 0x41}, Instance{Address: 0x44})
	ctx := context.Background()
	for i, val := range []byte{0x11, 0x22} {
		a, ok := b.Init(i)
		if !ok {
			t.Fatalf("instance %d not supported", i)
		}
		err := bus.Do(ctx, a, func() error {
			return a.WriteRegister(0x40, val)
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if got := i2c.regs[0x41][0x40]; got != 0x11 {
		t.Errorf("instance 0 register = %#02x, want 0x11", got)
	}
	if got := i2c.regs[0x44][0x40]; got != 0x22 {
		t.Errorf("instance 1 register = %#02x, want 0x22", got)
	}
	if _, ok := b.Init(2); ok {
		t.Error("instance 2 supported")
	}
	a, _ := b.Init(0)
	if _, err := bus.IRQ(a); !errors.Is(err, bus.ErrUnsupported) {
		t.Errorf("IRQ without line: got %v, want %v", err, bus.ErrUnsupported)
	}
}

func TestSharedBus(t *testing.T) {
	b := New(newFakeI2C(0x41, 0x44), 10*time.Millisecond, Instance{Address: 0x41}, Instance{Address: 0x44})
	a0, _ := b.Init(0)
	a1, _ := b.Init(1)
	ctx := context.Background()
	if err := a0.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if err := a1.Acquire(ctx); !errors.Is(err, bus.ErrTimeout) {
		t.Errorf("acquire of held bus: got %v, want %v", err, bus.ErrTimeout)
	}
	a0.Release()
	if err := a1.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	a1.Release()
}

func TestReadWord(t *testing.T) {
	i2c := newFakeI2C(0x41)
	i2c.regs[0x41][0x00] = 0x08
	i2c.regs[0x41][0x01] = 0x11
	b := New(i2c, time.Second, Instance{Address: 0x41})
	a, _ := b.Init(0)
	err := bus.Do(context.Background(), a, func() error {
		id, err := a.ReadWord(0x00)
		if err != nil {
			return err
		}
		if id != 0x0811 {
			t.Errorf("ReadWord = %#04x, want 0x0811", id)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestInterrupt(t *testing.T) {
	var asserted atomic.Bool
	b := New(newFakeI2C(0x41), time.Second, Instance{Address: 0x41, IRQ: asserted.Load})
	a, _ := b.Init(0)
	line, err := bus.IRQ(a)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error)
	go func() {
		done <- line.WaitIRQ(context.Background())
	}()
	// A spurious edge doesn't end the wait.
	b.Interrupt(0)
	select {
	case err := <-done:
		t.Fatalf("WaitIRQ returned %v before assertion", err)
	case <-time.After(20 * time.Millisecond):
	}
	asserted.Store(true)
	b.Interrupt(0)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	asserted.Store(false)
	if err := line.WaitIRQ(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want %v", err, context.Canceled)
	}
}

// slowI2C stalls its first transfer and records how many transfers are
// in progress at once.
type slowI2C struct {
	mu      sync.Mutex
	calls   int
	active  int
	overlap int
	stall   time.Duration
}

func (s *slowI2C) Tx(addr uint16, w, r []byte) error {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.active++
	s.overlap = max(s.overlap, s.active)
	s.mu.Unlock()
	if first {
		time.Sleep(s.stall)
	}
	s.mu.Lock()
	s.active--
	s.mu.Unlock()
	return nil
}

func TestAbandonedTransfer(t *testing.T) {
	i2c := &slowI2C{stall: 200 * time.Millisecond}
	b := New(i2c, 20*time.Millisecond, Instance{Address: 0x41}, Instance{Address: 0x44})
	a0, _ := b.Init(0)
	a1, _ := b.Init(1)
	ctx := context.Background()
	read := func(a bus.Adapter) error {
		return bus.Do(ctx, a, func() error {
			_, err := a.ReadByte(0x40)
			return err
		})
	}
	start := time.Now()
	if err := read(a0); !errors.Is(err, bus.ErrTimeout) {
		t.Fatalf("stalled read: got %v, want %v", err, bus.ErrTimeout)
	}
	// The stalled transfer is still on the wire.
	if err := read(a1); !errors.Is(err, bus.ErrTimeout) {
		t.Errorf("read during stalled transfer: got %v, want %v", err, bus.ErrTimeout)
	}
	time.Sleep(i2c.stall - time.Since(start) + 20*time.Millisecond)
	if err := read(a1); err != nil {
		t.Errorf("read after stalled transfer: %v", err)
	}
	i2c.mu.Lock()
	defer i2c.mu.Unlock()
	if i2c.overlap != 1 {
		t.Errorf("%d transfers overlapped on the shared bus", i2c.overlap)
	}
	if i2c.calls != 2 {
		t.Errorf("%d transfers issued, want 2", i2c.calls)
	}
}
