// Package filter classifies successive touch readings into contact
// transitions, suppressing jitter below per-contact-type thresholds.
package filter

import (
	"fmt"
	"image"
)

// Contact is the class of object touching the panel.
type Contact int

const (
	Finger Contact = iota
	Pen
)

func (c Contact) String() string {
	switch c {
	case Finger:
		return "finger"
	case Pen:
		return "pen"
	default:
		return fmt.Sprintf("Contact(%d)", int(c))
	}
}

// Thresholds are the maximum displacements, in screen pixels, that are
// treated as noise.
type Thresholds struct {
	// Calibrate bounds the error of a calibration tap.
	Calibrate int
	// Click bounds the displacement between press and release of a click.
	Click int
	// Move bounds the displacement not reported as movement.
	Move int
	// Presence is the minimum raw pressure of a contact.
	Presence uint16
}

// Set holds the thresholds of both contact types.
type Set struct {
	Pen    Thresholds
	Finger Thresholds
}

// Default resolution and accuracy settings.
var Default = Set{
	Pen: Thresholds{
		Calibrate: 8,
		Click:     6,
		Move:      4,
		Presence:  10,
	},
	Finger: Thresholds{
		Calibrate: 14,
		Click:     18,
		Move:      14,
		Presence:  10,
	},
}

func (s Set) For(c Contact) Thresholds {
	if c == Pen {
		return s.Pen
	}
	return s.Finger
}

type Action int

const (
	None Action = iota
	Down
	Move
	Up
)

func (a Action) String() string {
	switch a {
	case None:
		return "none"
	case Down:
		return "down"
	case Move:
		return "move"
	case Up:
		return "up"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Filter tracks a single contact. Additional simultaneous contacts are
// not modelled; the controller reports them as one.
type Filter struct {
	t      Thresholds
	active bool
	// last is the last reported position.
	last image.Point
	down image.Point
}

func New(t Thresholds) *Filter {
	return &Filter{t: t}
}

func (f *Filter) Thresholds() Thresholds {
	return f.t
}

// SetThresholds replaces the thresholds. An active contact stays down.
func (f *Filter) SetThresholds(t Thresholds) {
	f.t = t
}

// Active reports whether a contact is down.
func (f *Filter) Active() bool {
	return f.active
}

// Next classifies a reading at screen position p with raw pressure z. It
// returns the action to report and its position. Positions of readings
// without contact are ignored.
func (f *Filter) Next(p image.Point, z uint16) (Action, image.Point) {
	present := z >= f.t.Presence
	switch {
	case !f.active && present:
		f.active = true
		f.last = p
		f.down = p
		return Down, p
	case f.active && present:
		if Within(p, f.last, f.t.Move) {
			return None, f.last
		}
		f.last = p
		return Move, p
	case f.active && !present:
		f.active = false
		return Up, f.last
	}
	return None, image.Point{}
}

// Release ends an active contact as if it had been lifted.
func (f *Filter) Release() (image.Point, bool) {
	if !f.active {
		return image.Point{}, false
	}
	f.active = false
	return f.last, true
}

// IsClick reports whether a press at down released at up is a click.
func IsClick(down, up image.Point, t Thresholds) bool {
	return Within(down, up, t.Click)
}

// Within reports whether the Euclidean distance between a and b is at
// most limit.
func Within(a, b image.Point, limit int) bool {
	d := a.Sub(b)
	return d.X*d.X+d.Y*d.Y <= limit*limit
}
