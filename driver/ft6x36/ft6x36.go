// Package ft6x36 implements a driver for the ft6x36 capacitive touch
// controllers.
//
// Datasheet: https://www.buydisplay.com/download/ic/FT6236-FT6336-FT6436L-FT6436_Datasheet.pdf
package ft6x36

import (
	"context"
	"fmt"

	"touchpanel.dev/bus"
	"touchpanel.dev/touch"
)

type Device struct {
	bus bus.Adapter
}

func New(a bus.Adapter) *Device {
	return &Device{
		bus: a,
	}
}

const (
	Address = 0x38

	_TD_STATUS = 0x02
	_P1_XH     = 0x03
	_P1_YH     = 0x05
	_P1_WEIGHT = 0x07
	_TH_GROUP  = 0x80
	_G_MODE    = 0xa4

	// Touch detection threshold.
	thGroup = 0x16
)

// Configure selects interrupt polling mode, where the interrupt line
// stays asserted while a touch is down.
func (d *Device) Configure(ctx context.Context) error {
	err := bus.Do(ctx, d.bus, func() error {
		if err := d.bus.WriteRegister(_TH_GROUP, thGroup); err != nil {
			return err
		}
		return d.bus.WriteRegister(_G_MODE, 0)
	})
	if err != nil {
		return fmt.Errorf("ft6x36: configure: %w", err)
	}
	return nil
}

// ReadSample reads the first touch point. The controller has no FIFO so
// clearFIFO is ignored. Controllers that don't report touch weight get
// full pressure.
func (d *Device) ReadSample(ctx context.Context, clearFIFO bool) (touch.Sample, error) {
	var s touch.Sample
	err := bus.Do(ctx, d.bus, func() error {
		status, err := d.bus.ReadByte(_TD_STATUS)
		if err != nil {
			return err
		}
		switch status & 0x0f {
		case 0, 0x0f:
			return nil
		}
		x, err := d.bus.ReadWord(_P1_XH)
		if err != nil {
			return err
		}
		y, err := d.bus.ReadWord(_P1_YH)
		if err != nil {
			return err
		}
		w, err := d.bus.ReadByte(_P1_WEIGHT)
		if err != nil {
			return err
		}
		if w == 0 {
			w = 0xff
		}
		s = touch.Sample{X: x & 0x0fff, Y: y & 0x0fff, Z: uint16(w)}
		return nil
	})
	if err != nil {
		return touch.Sample{}, fmt.Errorf("ft6x36: %w", err)
	}
	return s, nil
}
