package calibrate

import (
	"errors"
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/math/f32"
	"touchpanel.dev/affine"
)

var display = image.Pt(240, 320)

const fingerLimit = 14

// panel is a plausible raw to screen mapping of a slightly rotated,
// offset 12-bit resistive panel.
var panel = affine.Mul(
	affine.Offsetting(f32.Vec2{-9, 14}),
	affine.Scaling(f32.Vec2{240.0 / 3700, 320.0 / 3600}),
	affine.Rotating(0.01),
	affine.Offsetting(f32.Vec2{-210, -260}),
)

// rawOf returns the raw reading the panel produces at screen point p.
func rawOf(t *testing.T, m f32.Aff3, p image.Point) image.Point {
	t.Helper()
	inv, ok := affine.Invert(m)
	if !ok {
		t.Fatal("singular panel matrix")
	}
	return affine.Round(affine.Transform(inv, affine.Pointf(p)))
}

func TestRoundTrip(t *testing.T) {
	targets := Targets(display)
	p := NewProcedure(targets, 1, fingerLimit)
	for {
		target, ok := p.Next()
		if !ok {
			break
		}
		p.Tap(rawOf(t, panel, target))
	}
	m, err := p.Solve()
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(display, Rotate0)
	e.Set(m)
	if e.State() != Calibrated {
		t.Errorf("state %v after Set", e.State())
	}
	for _, target := range targets {
		got, err := e.Map(rawOf(t, panel, target))
		if err != nil {
			t.Fatal(err)
		}
		if d := got.Sub(target); abs(d.X) > 1 || abs(d.Y) > 1 {
			t.Errorf("target %v mapped to %v", target, got)
		}
	}
}

func TestSelfMatchesInteractive(t *testing.T) {
	// Spans divide evenly by the display size so raw taps are exact.
	r := Range{Min: image.Pt(200, 300), Max: image.Pt(3800, 3820)}
	self, err := SelfMatrix(r, display)
	if err != nil {
		t.Fatal(err)
	}
	var raw, screen []image.Point
	for _, target := range Targets(display) {
		raw = append(raw, image.Pt(
			r.Min.X+target.X*(r.Max.X-r.Min.X)/display.X,
			r.Min.Y+target.Y*(r.Max.Y-r.Min.Y)/display.Y,
		))
		screen = append(screen, target)
	}
	m, err := Solve(raw, screen)
	if err != nil {
		t.Fatal(err)
	}
	for i := range m {
		// The offsets are in pixels; scale factors are much smaller.
		tol := 1e-3
		if i == 2 || i == 5 {
			tol = 0.05
		}
		if math.Abs(float64(m[i]-self[i])) > tol {
			t.Errorf("coefficient %d: interactive %v, self %v", i, m[i], self[i])
		}
	}
}

func TestInconsistentTaps(t *testing.T) {
	targets := Targets(display)
	p := NewProcedure(targets, 2, 8)
	for i, target := range targets {
		raw := rawOf(t, panel, target)
		p.Tap(raw)
		if i == 1 {
			// The second tap on this target lands far away.
			raw = raw.Add(image.Pt(600, 0))
		}
		p.Tap(raw)
	}
	if _, err := p.Solve(); !errors.Is(err, ErrCalibrationInconsistent) {
		t.Errorf("Solve returned %v, want %v", err, ErrCalibrationInconsistent)
	}
}

func TestIncompleteProcedure(t *testing.T) {
	p := NewProcedure(Targets(display), 1, 8)
	p.Tap(image.Pt(1, 1))
	if _, err := p.Solve(); err == nil {
		t.Error("Solve succeeded with targets left")
	}
}

func TestDegenerate(t *testing.T) {
	line := []image.Point{{0, 0}, {10, 10}, {20, 20}}
	if _, err := Solve(line, line); !errors.Is(err, ErrDegenerate) {
		t.Errorf("collinear Solve returned %v", err)
	}
	if _, err := SelfMatrix(Range{Max: image.Pt(0, 100)}, display); !errors.Is(err, ErrDegenerate) {
		t.Errorf("empty range returned %v", err)
	}
}

func TestEngineStates(t *testing.T) {
	e := NewEngine(display, Rotate0)
	if _, err := e.Map(image.Pt(1, 1)); !errors.Is(err, ErrCalibrationRequired) {
		t.Errorf("uncalibrated Map returned %v", err)
	}
	if err := e.SelfCalibrate(Range{Max: display}); err != nil {
		t.Fatal(err)
	}
	if e.State() != SelfCalibrated {
		t.Errorf("state %v after SelfCalibrate", e.State())
	}
	if p, err := e.Map(image.Pt(17, 33)); err != nil || p != image.Pt(17, 33) {
		t.Errorf("identity Map = %v, %v", p, err)
	}
	e.Reset()
	if e.State() != Uncalibrated {
		t.Errorf("state %v after Reset", e.State())
	}
	if _, err := e.Matrix(); !errors.Is(err, ErrCalibrationRequired) {
		t.Errorf("Matrix after Reset returned %v", err)
	}
}

func TestOrientation(t *testing.T) {
	tests := []struct {
		o    Orientation
		want image.Point
	}{
		{Rotate0, image.Pt(10, 20)},
		{Rotate90, image.Pt(20, 229)},
		{Rotate180, image.Pt(229, 299)},
		{Rotate270, image.Pt(299, 10)},
	}
	for _, test := range tests {
		e := NewEngine(display, test.o)
		if err := e.SelfCalibrate(Range{Max: display}); err != nil {
			t.Fatal(err)
		}
		got, err := e.Map(image.Pt(10, 20))
		if err != nil {
			t.Fatal(err)
		}
		if got != test.want {
			t.Errorf("orientation %d: got %v, want %v", test.o, got, test.want)
		}
	}
}

func TestFileStore(t *testing.T) {
	s := FileStore{Dir: filepath.Join(t.TempDir(), "cal")}
	if _, err := s.Load(0); !errors.Is(err, ErrNotStored) {
		t.Errorf("Load of empty store returned %v", err)
	}
	if err := s.Save(0, panel); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load(0)
	if err != nil {
		t.Fatal(err)
	}
	if got != panel {
		t.Errorf("loaded %v, saved %v", got, panel)
	}

	path := s.path(0)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(0); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Load of damaged record returned %v", err)
	}

	if err := s.Save(1, f32.Aff3{1, 2, 0, 2, 4, 0}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(1); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Load of singular matrix returned %v", err)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
