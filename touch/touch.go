// Package touch turns raw touch controller readings into calibrated,
// debounced pointer events.
//
// A Driver owns one Instance per logical touch input supported by the
// board. Every instance runs its own task that waits for the controller
// to signal data (or polls it), reads a raw sample over the shared bus,
// maps it through the active calibration and filters it into Down, Move
// and Up events.
package touch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/sirupsen/logrus"
	"touchpanel.dev/bus"
	"touchpanel.dev/calibrate"
	"touchpanel.dev/filter"
)

// ErrDegraded is reported by instances that stopped sampling after too
// many consecutive transport failures.
var ErrDegraded = errors.New("touch: device degraded")

// Sample is an unscaled controller reading.
type Sample struct {
	X, Y uint16
	// Z is the contact pressure; zero means no contact.
	Z uint16
}

func (s Sample) Point() image.Point {
	return image.Pt(int(s.X), int(s.Y))
}

// Controller reads samples from a touch controller through a bus
// adapter.
type Controller interface {
	// Configure initializes the controller after power up or reset.
	Configure(ctx context.Context) error
	// ReadSample reads the newest sample. If clearFIFO is set, samples
	// still queued in the controller are discarded after the read.
	ReadSample(ctx context.Context, clearFIFO bool) (Sample, error)
}

type Kind uint8

const (
	Down Kind = 1 + iota
	Move
	Up
)

func (k Kind) String() string {
	switch k {
	case Down:
		return "down"
	case Move:
		return "move"
	case Up:
		return "up"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Event is a pointer transition of one instance.
type Event struct {
	Instance int
	Kind     Kind
	Pos      image.Point
	Time     time.Time
}

func (e Event) String() string {
	return fmt.Sprintf("%v %d %d %d", e.Kind, e.Instance, e.Pos.X, e.Pos.Y)
}

// IsClick reports whether the Down event down and the Up event up of the
// same contact form a click: the release is within the click threshold
// of the press and, if max is positive, no later than max.
func IsClick(down, up Event, t filter.Thresholds, max time.Duration) bool {
	if down.Kind != Down || up.Kind != Up || down.Instance != up.Instance {
		return false
	}
	if max > 0 && up.Time.Sub(down.Time) > max {
		return false
	}
	return filter.IsClick(down.Pos, up.Pos, t)
}

// Config configures a Driver.
type Config struct {
	// Instances is the number of instances to initialize.
	Instances int
	// Controller returns the protocol client for an instance adapter.
	Controller func(a bus.Adapter) Controller

	Thresholds filter.Set
	Contact    filter.Contact

	// Display is the native display size.
	Display     image.Point
	Orientation calibrate.Orientation
	// SelfCalibrate selects analytic calibration from Range. It is less
	// accurate and requires the panel orientation and active area to
	// match the display.
	SelfCalibrate bool
	Range         calibrate.Range
	// Store, if set, loads and saves interactive calibrations.
	Store calibrate.Store
	// CalibrationTaps is the number of taps collected per target.
	CalibrationTaps int

	// IRQ selects interrupt driven sampling. Boards without a wired
	// interrupt line fall back to polling.
	IRQ bool
	// PollInterval is the sampling period when polling, and while a
	// contact is down with IRQ sampling.
	PollInterval time.Duration
	// SlowCPU discards queued controller samples after every read.
	SlowCPU bool
	// RetryCeiling is the number of consecutive failed reads after which
	// an instance is marked degraded.
	RetryCeiling int
	// ExtraBytes is the size of the opaque per-instance board data.
	ExtraBytes int

	Logger logrus.FieldLogger
}

// DefaultConfig is a single interrupt driven instance operated by finger.
var DefaultConfig = Config{
	Instances:       1,
	Thresholds:      filter.Default,
	Contact:         filter.Finger,
	Display:         image.Pt(240, 320),
	Range:           calibrate.Range{Max: image.Pt(4096, 4096)},
	IRQ:             true,
	PollInterval:    25 * time.Millisecond,
	RetryCeiling:    5,
	CalibrationTaps: 1,
}
