package touch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/math/f32"
	"touchpanel.dev/bus"
	"touchpanel.dev/calibrate"
	"touchpanel.dev/filter"
)

// State is the contact state of an instance.
type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Stats are diagnostic counters of an instance.
type Stats struct {
	// Timeouts counts reads failed with bus.ErrTimeout.
	Timeouts int64
	// Errors counts all failed reads, including timeouts.
	Errors int64
	// Uncalibrated counts contacts dropped for lack of calibration.
	Uncalibrated int64
	Degraded     bool
}

// Instance is one logical touch input.
type Instance struct {
	id        int
	cfg       Config
	adapter   bus.Adapter
	ctrl      Controller
	trig      trigger
	events    chan<- Event
	log       logrus.FieldLogger
	boardData []byte

	// consecutive is owned by the instance task.
	consecutive int

	timeouts     atomic.Int64
	failures     atomic.Int64
	uncalibrated atomic.Int64
	degraded     atomic.Bool
	wake         chan struct{}
	reinitMu     sync.Mutex

	mu      sync.Mutex
	contact filter.Contact
	engine  *calibrate.Engine
	filter  *filter.Filter
	taps    *tapCollector
	pos     image.Point
}

func (in *Instance) resetFilter() {
	in.contact = in.cfg.Contact
	in.filter = filter.New(in.cfg.Thresholds.For(in.contact))
}

// ID returns the instance index.
func (in *Instance) ID() int {
	return in.id
}

// BoardData returns the opaque per-instance data reserved for the board.
func (in *Instance) BoardData() []byte {
	return in.boardData
}

func (in *Instance) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.filter.Active() {
		return Active
	}
	return Idle
}

// Calibration returns the calibration state.
func (in *Instance) Calibration() calibrate.State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.engine.State()
}

// Matrix returns the active raw to screen matrix, or
// calibrate.ErrCalibrationRequired.
func (in *Instance) Matrix() (f32.Aff3, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.engine.Matrix()
}

func (in *Instance) Stats() Stats {
	return Stats{
		Timeouts:     in.timeouts.Load(),
		Errors:       in.failures.Load(),
		Uncalibrated: in.uncalibrated.Load(),
		Degraded:     in.degraded.Load(),
	}
}

// Position returns the last reported position and whether a contact is
// down.
func (in *Instance) Position() (image.Point, bool, error) {
	if in.degraded.Load() {
		return image.Point{}, false, ErrDegraded
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.engine.State() == calibrate.Uncalibrated {
		return image.Point{}, false, calibrate.ErrCalibrationRequired
	}
	return in.pos, in.filter.Active(), nil
}

// Targets returns the default calibration targets in native display
// coordinates.
func (in *Instance) Targets() []image.Point {
	return calibrate.Targets(in.cfg.Display)
}

// Recalibrate discards the active calibration and selects the
// thresholds of contact type c. Coordinates are unavailable until the
// next successful Calibrate.
func (in *Instance) Recalibrate(c filter.Contact) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.engine.Reset()
	in.contact = c
	in.filter.SetThresholds(in.cfg.Thresholds.For(c))
}

// Calibrate runs the interactive calibration procedure. For every target,
// in native display coordinates, show is called and the instance waits
// for the user to tap and release it. No events are reported meanwhile.
//
// If the taps are inconsistent Calibrate returns an error wrapping
// calibrate.ErrCalibrationInconsistent and the procedure should be
// repeated. The instance is uncalibrated from the start of the procedure
// until it succeeds.
func (in *Instance) Calibrate(ctx context.Context, targets []image.Point, show func(target image.Point)) error {
	taps := make(chan image.Point, 1)
	in.mu.Lock()
	if in.taps != nil {
		in.mu.Unlock()
		return fmt.Errorf("touch: instance %d: calibration in progress", in.id)
	}
	th := in.cfg.Thresholds.For(in.contact)
	in.engine.Reset()
	in.taps = &tapCollector{presence: th.Presence, taps: taps}
	in.mu.Unlock()
	defer func() {
		in.mu.Lock()
		in.taps = nil
		in.mu.Unlock()
	}()

	p := calibrate.NewProcedure(targets, in.cfg.CalibrationTaps, th.Calibrate)
	for {
		target, ok := p.Next()
		if !ok {
			break
		}
		show(target)
		select {
		case tap := <-taps:
			in.log.WithFields(logrus.Fields{"target": target, "raw": tap}).Debug("calibration tap")
			p.Tap(tap)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m, err := p.Solve()
	if err != nil {
		return fmt.Errorf("touch: instance %d: %w", in.id, err)
	}
	in.mu.Lock()
	in.engine.Set(m)
	in.mu.Unlock()
	in.log.WithField("matrix", m).Info("calibrated")
	if in.cfg.Store != nil {
		if err := in.cfg.Store.Save(in.id, m); err != nil {
			return fmt.Errorf("touch: instance %d: save calibration: %w", in.id, err)
		}
	}
	return nil
}

// Reinit reconfigures the controller of a degraded instance and resumes
// sampling.
func (in *Instance) Reinit(ctx context.Context) error {
	in.reinitMu.Lock()
	defer in.reinitMu.Unlock()
	if !in.degraded.Load() {
		return nil
	}
	if err := in.ctrl.Configure(ctx); err != nil {
		return fmt.Errorf("touch: instance %d: reinit: %w", in.id, err)
	}
	in.degraded.Store(false)
	select {
	case in.wake <- struct{}{}:
	default:
	}
	in.log.Info("device recovered")
	return nil
}

func (in *Instance) run(ctx context.Context) {
	defer in.trig.stop()
	for {
		if in.degraded.Load() {
			select {
			case <-in.wake:
				in.consecutive = 0
			case <-ctx.Done():
				return
			}
			continue
		}
		if err := in.trig.wait(ctx, in.tracking()); err != nil {
			return
		}
		var evts []Event
		s, err := in.ctrl.ReadSample(ctx, in.cfg.SlowCPU)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			evts = in.readFailed(err)
			// A failed read leaves the interrupt asserted; retry on the
			// next interval.
			if !in.degraded.Load() && !sleep(ctx, in.cfg.PollInterval) {
				return
			}
		} else {
			in.consecutive = 0
			evts = in.process(s)
		}
		for _, e := range evts {
			if !in.emit(ctx, e) {
				return
			}
		}
	}
}

// tracking reports whether a contact or calibration tap is in progress.
func (in *Instance) tracking() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.filter.Active() || (in.taps != nil && in.taps.n > 0)
}

func (in *Instance) readFailed(err error) []Event {
	in.failures.Add(1)
	if errors.Is(err, bus.ErrTimeout) {
		in.timeouts.Add(1)
	}
	in.consecutive++
	log := in.log.WithError(err).WithField("consecutive", in.consecutive)
	if in.consecutive < in.cfg.RetryCeiling {
		log.Debug("sample discarded")
		return nil
	}
	log.Error("device degraded")
	in.degraded.Store(true)
	in.mu.Lock()
	defer in.mu.Unlock()
	if p, ok := in.filter.Release(); ok {
		in.pos = p
		return []Event{in.event(Up, p)}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (in *Instance) process(s Sample) []Event {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.taps != nil {
		var evts []Event
		if p, ok := in.filter.Release(); ok {
			in.pos = p
			// The rest of the contact is not a calibration tap.
			in.taps.skip = true
			evts = append(evts, in.event(Up, p))
		}
		in.taps.sample(s)
		return evts
	}
	var p image.Point
	if s.Z >= in.filter.Thresholds().Presence {
		var err error
		p, err = in.engine.Map(s.Point())
		if err != nil {
			if in.uncalibrated.Add(1) == 1 {
				in.log.WithError(err).Warn("contact dropped")
			}
			return nil
		}
	}
	act, pos := in.filter.Next(p, s.Z)
	var k Kind
	switch act {
	case filter.Down:
		k = Down
	case filter.Move:
		k = Move
	case filter.Up:
		k = Up
	default:
		return nil
	}
	in.pos = pos
	return []Event{in.event(k, pos)}
}

func (in *Instance) event(k Kind, p image.Point) Event {
	return Event{Instance: in.id, Kind: k, Pos: p, Time: time.Now()}
}

func (in *Instance) emit(ctx context.Context, e Event) bool {
	if in.events == nil {
		return true
	}
	select {
	case in.events <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

// tapCollector averages the raw readings of calibration taps.
type tapCollector struct {
	presence uint16
	// skip ignores samples until the panel is released.
	skip     bool
	sum      image.Point
	n        int
	taps     chan image.Point
}

func (c *tapCollector) sample(s Sample) {
	present := s.Z >= c.presence
	if c.skip {
		c.skip = present
		return
	}
	if present {
		c.sum = c.sum.Add(s.Point())
		c.n++
		return
	}
	if c.n == 0 {
		return
	}
	tap := c.sum.Div(c.n)
	c.sum, c.n = image.Point{}, 0
	select {
	case c.taps <- tap:
	default:
		// Nobody is waiting for a tap.
	}
}
