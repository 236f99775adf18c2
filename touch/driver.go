package touch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"touchpanel.dev/bus"
	"touchpanel.dev/calibrate"
)

// Driver is the registry of touch instances of one board.
type Driver struct {
	board     bus.Board
	instances []*Instance
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Open initializes cfg.Instances instances on board and starts sampling
// them. Events are sent on events, which may be nil if only the polling
// accessors are used.
//
// If the board does not support one of the instances, Open fails with
// bus.ErrUnsupportedInstance and no instance is created. On failure the
// board is closed if it is an io.Closer.
func Open(ctx context.Context, board bus.Board, cfg Config, events chan<- Event) (*Driver, error) {
	d, err := open(ctx, board, cfg, events)
	if err != nil {
		if c, ok := board.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
		return nil, err
	}
	return d, nil
}

func open(ctx context.Context, board bus.Board, cfg Config, events chan<- Event) (*Driver, error) {
	if cfg.Controller == nil {
		return nil, errors.New("touch: no controller")
	}
	if cfg.Instances < 1 {
		cfg.Instances = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = DefaultConfig.RetryCeiling
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	adapters := make([]bus.Adapter, cfg.Instances)
	for i := range adapters {
		a, ok := board.Init(i)
		if !ok {
			return nil, fmt.Errorf("touch: instance %d: %w", i, bus.ErrUnsupportedInstance)
		}
		adapters[i] = a
	}
	d := &Driver{board: board}
	for i, a := range adapters {
		in, err := newInstance(ctx, i, a, cfg, events)
		if err != nil {
			for _, in := range d.instances {
				in.trig.stop()
			}
			return nil, err
		}
		d.instances = append(d.instances, in)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	for _, in := range d.instances {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			in.run(runCtx)
		}()
	}
	return d, nil
}

func newInstance(ctx context.Context, idx int, a bus.Adapter, cfg Config, events chan<- Event) (*Instance, error) {
	log := cfg.Logger.WithField("instance", idx)
	in := &Instance{
		id:        idx,
		cfg:       cfg,
		adapter:   a,
		ctrl:      cfg.Controller(a),
		events:    events,
		log:       log,
		engine:    calibrate.NewEngine(cfg.Display, cfg.Orientation),
		boardData: make([]byte, cfg.ExtraBytes),
		wake:      make(chan struct{}, 1),
	}
	in.resetFilter()
	if err := in.ctrl.Configure(ctx); err != nil {
		return nil, fmt.Errorf("touch: instance %d: %w", idx, err)
	}
	switch {
	case cfg.SelfCalibrate:
		if err := in.engine.SelfCalibrate(cfg.Range); err != nil {
			return nil, fmt.Errorf("touch: instance %d: %w", idx, err)
		}
	case cfg.Store != nil:
		m, err := cfg.Store.Load(idx)
		switch {
		case err == nil:
			in.engine.Set(m)
		case errors.Is(err, calibrate.ErrNotStored):
		default:
			log.WithError(err).Warn("ignoring stored calibration")
		}
	}
	in.trig = in.newTrigger()
	log.WithFields(logrus.Fields{
		"calibration": in.engine.State(),
		"contact":     cfg.Contact,
		"trigger":     in.trig,
	}).Info("touch instance ready")
	return in, nil
}

// Count returns the number of instances.
func (d *Driver) Count() int {
	return len(d.instances)
}

// Instance returns instance i.
func (d *Driver) Instance(i int) *Instance {
	return d.instances[i]
}

// Close stops every instance, waiting for in-flight bus transactions to
// complete, and closes the board if it is an io.Closer.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.cancel()
		d.wg.Wait()
		var err error
		for _, in := range d.instances {
			if c, ok := in.ctrl.(io.Closer); ok {
				err = multierr.Append(err, c.Close())
			}
		}
		if c, ok := d.board.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
		d.closeErr = err
	})
	return d.closeErr
}
