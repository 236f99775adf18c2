// Package calibrate maps raw touch controller coordinates to screen
// coordinates.
//
// A matrix is obtained either analytically from the raw range of the
// panel (self-calibration, which requires the panel to match the display
// in orientation and active area) or from an interactive procedure where
// the user taps a sequence of targets.
package calibrate

import (
	"errors"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/math/f32"
	"touchpanel.dev/affine"
)

var (
	ErrCalibrationRequired     = errors.New("calibrate: calibration required")
	ErrCalibrationInconsistent = errors.New("calibrate: inconsistent calibration taps")
	ErrDegenerate              = errors.New("calibrate: degenerate reference points")
)

type State int

const (
	Uncalibrated State = iota
	SelfCalibrated
	Calibrated
)

func (s State) String() string {
	switch s {
	case Uncalibrated:
		return "uncalibrated"
	case SelfCalibrated:
		return "self-calibrated"
	case Calibrated:
		return "calibrated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Range is the raw coordinate range covering the display.
type Range struct {
	Min, Max image.Point
}

// Orientation is the clockwise rotation of the display relative to the
// panel.
type Orientation int

const (
	Rotate0 Orientation = iota
	Rotate90
	Rotate180
	Rotate270
)

// Engine holds the active matrix of one touch instance.
type Engine struct {
	state   State
	m       f32.Aff3
	display image.Point
	orient  f32.Aff3
}

// NewEngine returns an uncalibrated engine for a display of the given
// native size.
func NewEngine(display image.Point, o Orientation) *Engine {
	return &Engine{
		display: display,
		orient:  Orienting(display, o),
	}
}

func (e *Engine) State() State {
	return e.state
}

// Matrix returns the active raw to native screen matrix.
func (e *Engine) Matrix() (f32.Aff3, error) {
	if e.state == Uncalibrated {
		return f32.Aff3{}, ErrCalibrationRequired
	}
	return e.m, nil
}

// SelfCalibrate activates the analytic matrix for raw range r.
func (e *Engine) SelfCalibrate(r Range) error {
	m, err := SelfMatrix(r, e.display)
	if err != nil {
		return err
	}
	e.m = m
	e.state = SelfCalibrated
	return nil
}

// Set activates an interactively obtained matrix.
func (e *Engine) Set(m f32.Aff3) {
	e.m = m
	e.state = Calibrated
}

// Reset discards the active matrix, requiring a new calibration.
func (e *Engine) Reset() {
	e.m = f32.Aff3{}
	e.state = Uncalibrated
}

// Map converts a raw point to oriented screen coordinates.
func (e *Engine) Map(raw image.Point) (image.Point, error) {
	if e.state == Uncalibrated {
		return image.Point{}, ErrCalibrationRequired
	}
	return affine.Round(affine.Transform(affine.Mul(e.orient, e.m), affine.Pointf(raw))), nil
}

// SelfMatrix returns the matrix mapping r linearly onto a display of the
// given size: r.Min maps to the origin and r.Max to display.
func SelfMatrix(r Range, display image.Point) (f32.Aff3, error) {
	span := r.Max.Sub(r.Min)
	if span.X == 0 || span.Y == 0 {
		return f32.Aff3{}, ErrDegenerate
	}
	scale := f32.Vec2{
		float32(display.X) / float32(span.X),
		float32(display.Y) / float32(span.Y),
	}
	return affine.Mul(
		affine.Scaling(scale),
		affine.Offsetting(affine.Sub(f32.Vec2{}, affine.Pointf(r.Min))),
	), nil
}

// Orienting returns the matrix rotating native screen coordinates of a
// display of the given size to orientation o.
func Orienting(display image.Point, o Orientation) f32.Aff3 {
	w, h := float32(display.X-1), float32(display.Y-1)
	switch o {
	case Rotate90:
		return affine.Mul(affine.Offsetting(f32.Vec2{0, w}), affine.Rotating(-math.Pi/2))
	case Rotate180:
		return affine.Mul(affine.Offsetting(f32.Vec2{w, h}), affine.Rotating(math.Pi))
	case Rotate270:
		return affine.Mul(affine.Offsetting(f32.Vec2{h, 0}), affine.Rotating(math.Pi/2))
	default:
		return affine.Identity
	}
}

// Solve returns the affine matrix best mapping the raw points to their
// screen counterparts in the least squares sense. Three points determine
// the matrix exactly.
func Solve(raw, screen []image.Point) (f32.Aff3, error) {
	if len(raw) != len(screen) {
		panic("calibrate: mismatched point counts")
	}
	n := float64(len(raw))
	if n < 3 {
		return f32.Aff3{}, ErrDegenerate
	}
	// Center the raw points to keep the normal equations well conditioned.
	var mx, my, sx, sy float64
	for i, r := range raw {
		mx += float64(r.X)
		my += float64(r.Y)
		sx += float64(screen[i].X)
		sy += float64(screen[i].Y)
	}
	mx, my, sx, sy = mx/n, my/n, sx/n, sy/n
	var uu, uv, vv, ux, vx, uy, vy float64
	for i, r := range raw {
		u, v := float64(r.X)-mx, float64(r.Y)-my
		x, y := float64(screen[i].X)-sx, float64(screen[i].Y)-sy
		uu += u * u
		uv += u * v
		vv += v * v
		ux += u * x
		vx += v * x
		uy += u * y
		vy += v * y
	}
	det := uu*vv - uv*uv
	if uu == 0 || vv == 0 || det <= 1e-9*uu*vv {
		return f32.Aff3{}, ErrDegenerate
	}
	a := (ux*vv - vx*uv) / det
	b := (vx*uu - ux*uv) / det
	d := (uy*vv - vy*uv) / det
	e := (vy*uu - uy*uv) / det
	return f32.Aff3{
		float32(a), float32(b), float32(sx - a*mx - b*my),
		float32(d), float32(e), float32(sy - d*mx - e*my),
	}, nil
}
