package ft6x36

import (
	"context"
	"errors"
	"testing"

	"touchpanel.dev/bus"
	"touchpanel.dev/touch"
)

type fakeBus struct {
	regs map[byte]byte
	held bool
	fail error
}

func (f *fakeBus) Acquire(ctx context.Context) error {
	if f.held {
		return errors.New("already held")
	}
	f.held = true
	return nil
}

func (f *fakeBus) Release() { f.held = false }

func (f *fakeBus) WriteRegister(reg, val byte) error {
	if f.fail != nil {
		return f.fail
	}
	f.regs[reg] = val
	return nil
}

func (f *fakeBus) ReadByte(reg byte) (byte, error) {
	if f.fail != nil {
		return 0, f.fail
	}
	return f.regs[reg], nil
}

func (f *fakeBus) ReadWord(reg byte) (uint16, error) {
	if f.fail != nil {
		return 0, f.fail
	}
	return uint16(f.regs[reg])<<8 | uint16(f.regs[reg+1]), nil
}

func TestReadSample(t *testing.T) {
	tests := []struct {
		name string
		regs map[byte]byte
		want touch.Sample
	}{
		{"none", map[byte]byte{_TD_STATUS: 0}, touch.Sample{}},
		{"invalid", map[byte]byte{_TD_STATUS: 0xff, _P1_XH: 0x01}, touch.Sample{}},
		{
			"touch",
			map[byte]byte{_TD_STATUS: 1, _P1_XH: 0x81, _P1_XH + 1: 0x23, _P1_YH: 0x40, _P1_YH + 1: 0x56, _P1_WEIGHT: 0x20},
			touch.Sample{X: 0x123, Y: 0x056, Z: 0x20},
		},
		{
			"no weight",
			map[byte]byte{_TD_STATUS: 2, _P1_XH: 0x00, _P1_XH + 1: 0x10, _P1_YH: 0x00, _P1_YH + 1: 0x20},
			touch.Sample{X: 0x10, Y: 0x20, Z: 0xff},
		},
	}
	for _, test := range tests {
		b := &fakeBus{regs: test.regs}
		got, err := New(b).ReadSample(context.Background(), false)
		if err != nil {
			t.Errorf("%s: %v", test.name, err)
			continue
		}
		if got != test.want {
			t.Errorf("%s: read %+v, want %+v", test.name, got, test.want)
		}
		if b.held {
			t.Errorf("%s: bus not released", test.name)
		}
	}
}

func TestConfigure(t *testing.T) {
	b := &fakeBus{regs: make(map[byte]byte)}
	b.regs[_G_MODE] = 1
	if err := New(b).Configure(context.Background()); err != nil {
		t.Fatal(err)
	}
	if b.regs[_G_MODE] != 0 {
		t.Errorf("G_MODE = %d, want 0", b.regs[_G_MODE])
	}
	b.fail = bus.ErrTimeout
	if err := New(b).Configure(context.Background()); !errors.Is(err, bus.ErrTimeout) {
		t.Errorf("got %v, want %v", err, bus.ErrTimeout)
	}
	if b.held {
		t.Error("bus not released")
	}
}
