package calibrate

import (
	"fmt"
	"image"

	"golang.org/x/image/math/f32"
	"touchpanel.dev/affine"
)

// Targets returns the default calibration targets for a display: three
// corners of the inner quarter box followed by the centre, which checks
// the fit.
func Targets(display image.Point) []image.Point {
	w, h := display.X, display.Y
	return []image.Point{
		{X: w / 4, Y: h / 4},
		{X: w - w/4, Y: h / 4},
		{X: w - w/4, Y: h - h/4},
		{X: w / 2, Y: h / 2},
	}
}

// Procedure collects the raw taps of an interactive calibration.
type Procedure struct {
	targets []image.Point
	taps    int
	limit   int
	raw     [][]image.Point
}

// NewProcedure returns a procedure collecting taps raw readings for each
// target. Each tap must map within limit pixels of its target.
func NewProcedure(targets []image.Point, taps, limit int) *Procedure {
	if taps < 1 {
		taps = 1
	}
	return &Procedure{
		targets: targets,
		taps:    taps,
		limit:   limit,
		raw:     make([][]image.Point, len(targets)),
	}
}

// Next returns the target to present, or false when every target has
// been tapped.
func (p *Procedure) Next() (image.Point, bool) {
	for i, r := range p.raw {
		if len(r) < p.taps {
			return p.targets[i], true
		}
	}
	return image.Point{}, false
}

// Tap records a raw reading for the current target.
func (p *Procedure) Tap(raw image.Point) {
	for i, r := range p.raw {
		if len(r) < p.taps {
			p.raw[i] = append(r, raw)
			return
		}
	}
}

// Solve fits a matrix to the collected taps. It returns
// ErrCalibrationInconsistent if any tap misses its target by more than
// the limit, in which case the procedure should be repeated.
func (p *Procedure) Solve() (f32.Aff3, error) {
	if _, ok := p.Next(); ok {
		return f32.Aff3{}, fmt.Errorf("calibrate: %d targets not tapped", p.remaining())
	}
	var raw, screen []image.Point
	for i, taps := range p.raw {
		for _, r := range taps {
			raw = append(raw, r)
			screen = append(screen, p.targets[i])
		}
	}
	m, err := Solve(raw, screen)
	if err != nil {
		return f32.Aff3{}, err
	}
	for i, r := range raw {
		miss := affine.Length(affine.Sub(affine.Transform(m, affine.Pointf(r)), affine.Pointf(screen[i])))
		if miss > float32(p.limit) {
			return f32.Aff3{}, fmt.Errorf("%w: tap %d missed target %v by %.1f pixels", ErrCalibrationInconsistent, i, screen[i], miss)
		}
	}
	return m, nil
}

func (p *Procedure) remaining() int {
	n := 0
	for _, r := range p.raw {
		if len(r) < p.taps {
			n++
		}
	}
	return n
}
