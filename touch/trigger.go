package touch

import (
	"context"
	"fmt"
	"time"

	"touchpanel.dev/bus"
)

// trigger paces the sampling of an instance.
type trigger interface {
	// wait blocks until the next sample should be read. active reports
	// whether a contact is down.
	wait(ctx context.Context, active bool) error
	stop()
}

func (in *Instance) newTrigger() trigger {
	if in.cfg.IRQ {
		line, err := bus.IRQ(in.adapter)
		if err == nil {
			return &irqTrigger{line: line, interval: in.cfg.PollInterval}
		}
		in.log.WithError(err).Warn("no interrupt line, falling back to polling")
	}
	return &pollTrigger{
		interval: in.cfg.PollInterval,
		ticker:   time.NewTicker(in.cfg.PollInterval),
	}
}

type pollTrigger struct {
	interval time.Duration
	ticker   *time.Ticker
}

func (t *pollTrigger) wait(ctx context.Context, active bool) error {
	select {
	case <-t.ticker.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *pollTrigger) stop() {
	t.ticker.Stop()
}

func (t *pollTrigger) String() string {
	return fmt.Sprintf("poll %v", t.interval)
}

// irqTrigger waits for the interrupt line. Controllers do not signal a
// stationary contact, so while one is down the line is also sampled
// every interval to observe its release.
type irqTrigger struct {
	line     bus.IRQLine
	interval time.Duration
}

func (t *irqTrigger) wait(ctx context.Context, active bool) error {
	if !active {
		return t.line.WaitIRQ(ctx)
	}
	wctx, cancel := context.WithTimeout(ctx, t.interval)
	defer cancel()
	t.line.WaitIRQ(wctx)
	return ctx.Err()
}

func (t *irqTrigger) stop() {}

func (t *irqTrigger) String() string {
	return "irq"
}
