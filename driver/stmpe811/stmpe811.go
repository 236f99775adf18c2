// Package stmpe811 implements the register protocol of the STMPE811
// resistive touch screen controller.
//
// Datasheet: https://www.st.com/resource/en/datasheet/stmpe811.pdf
package stmpe811

import (
	"context"
	"fmt"
	"time"

	"touchpanel.dev/bus"
	"touchpanel.dev/touch"
)

type Device struct {
	bus bus.Adapter
	irq bool
	// last is the most recent sample, reported again while the contact
	// is held without new conversions.
	last touch.Sample
}

// New returns a device using bus a. The touch detect interrupt is
// enabled if a has an interrupt line.
func New(a bus.Adapter) *Device {
	_, err := bus.IRQ(a)
	return &Device{
		bus: a,
		irq: err == nil,
	}
}

// Configure resets the controller and enables touch screen acquisition.
func (d *Device) Configure(ctx context.Context) error {
	err := bus.Do(ctx, d.bus, func() error {
		id, err := d.bus.ReadWord(regChipID)
		if err != nil {
			return err
		}
		if id != chipID {
			return fmt.Errorf("unexpected chip id %#04x", id)
		}
		return d.bus.WriteRegister(regSysCtrl1, sysCtrl1SoftReset)
	})
	if err != nil {
		return fmt.Errorf("stmpe811: reset: %w", err)
	}
	if err := sleep(ctx, 10*time.Millisecond); err != nil {
		return err
	}
	intEn := byte(0)
	if d.irq {
		intEn = intTouchDet | intFIFOTh
	}
	err = bus.Do(ctx, d.bus, func() error {
		return d.write(
			regSysCtrl2, sysCtrl2Clocks,
			regIntEn, intEn,
			regADCCtrl1, adcCtrl1Config,
		)
	})
	if err != nil {
		return fmt.Errorf("stmpe811: configure: %w", err)
	}
	// Wait for the ADC to settle.
	if err := sleep(ctx, 2*time.Millisecond); err != nil {
		return err
	}
	err = bus.Do(ctx, d.bus, func() error {
		return d.write(
			regADCCtrl2, adcCtrl2Config,
			regGPIOAF, 0x00,
			regTSCCfg, tscCfgConfig,
			regFIFOTh, 0x01,
			regFIFOSta, fifoStaReset,
			regFIFOSta, 0x00,
			regTSCFractXYZ, fractXYZConfig,
			regTSCIDrive, iDriveConfig,
			regTSCCtrl, 0x00,
			regTSCCtrl, tscCtrlEnable,
			regIntSta, intAll,
			regIntCtrl, intCtrlGlobal,
		)
	})
	if err != nil {
		return fmt.Errorf("stmpe811: configure: %w", err)
	}
	d.last = touch.Sample{}
	return nil
}

// write writes register, value pairs.
func (d *Device) write(regvals ...byte) error {
	for i := 0; i < len(regvals); i += 2 {
		if err := d.bus.WriteRegister(regvals[i], regvals[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// ReadSample reads the newest sample from the FIFO in a single bus
// transaction. A sample with zero Z is returned when the panel is not
// touched. With clearFIFO, only the oldest queued sample is read and the
// rest are discarded, for hosts too slow to drain the FIFO.
func (d *Device) ReadSample(ctx context.Context, clearFIFO bool) (touch.Sample, error) {
	var s touch.Sample
	err := bus.Do(ctx, d.bus, func() error {
		var err error
		s, err = d.readSample(clearFIFO)
		if err != nil {
			return err
		}
		// Release the interrupt line.
		return d.bus.WriteRegister(regIntSta, intAll)
	})
	if err != nil {
		return touch.Sample{}, fmt.Errorf("stmpe811: %w", err)
	}
	return s, nil
}

func (d *Device) readSample(clearFIFO bool) (touch.Sample, error) {
	ctrl, err := d.bus.ReadByte(regTSCCtrl)
	if err != nil {
		return touch.Sample{}, err
	}
	if ctrl&tscCtrlSta == 0 {
		d.last = touch.Sample{}
		// Discard conversions completed before the release.
		return d.last, d.write(regFIFOSta, fifoStaReset, regFIFOSta, 0x00)
	}
	for {
		sta, err := d.bus.ReadByte(regFIFOSta)
		if err != nil {
			return touch.Sample{}, err
		}
		if sta&fifoStaEmpty != 0 {
			break
		}
		s, err := d.readFIFO()
		if err != nil {
			return touch.Sample{}, err
		}
		d.last = s
		if clearFIFO {
			if err := d.write(regFIFOSta, fifoStaReset, regFIFOSta, 0x00); err != nil {
				return touch.Sample{}, err
			}
			break
		}
	}
	return d.last, nil
}

func (d *Device) readFIFO() (touch.Sample, error) {
	x, err := d.bus.ReadWord(regTSCDataX)
	if err != nil {
		return touch.Sample{}, err
	}
	y, err := d.bus.ReadWord(regTSCDataY)
	if err != nil {
		return touch.Sample{}, err
	}
	z, err := d.bus.ReadByte(regTSCDataZ)
	if err != nil {
		return touch.Sample{}, err
	}
	return touch.Sample{X: x, Y: y, Z: uint16(z)}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
