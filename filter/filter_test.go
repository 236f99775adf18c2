package filter

import (
	"image"
	"testing"
)

type reading struct {
	x, y int
	z    uint16
}

type step struct {
	act Action
	pos image.Point
}

func run(f *Filter, readings []reading) []step {
	var steps []step
	for _, r := range readings {
		act, pos := f.Next(image.Pt(r.x, r.y), r.z)
		if act != None {
			steps = append(steps, step{act, pos})
		}
	}
	return steps
}

func TestFingerStroke(t *testing.T) {
	f := New(Thresholds{Move: 14, Click: 18, Calibrate: 14, Presence: 10})
	got := run(f, []reading{
		{100, 100, 50},
		{101, 101, 50},
		{150, 150, 50},
		{150, 150, 0},
	})
	want := []step{
		{Down, image.Pt(100, 100)},
		{Move, image.Pt(150, 150)},
		{Up, image.Pt(150, 150)},
	}
	if len(got) != len(want) {
		t.Fatalf("got actions %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("action %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestJitterSuppressed(t *testing.T) {
	for _, c := range []Contact{Pen, Finger} {
		th := Default.For(c)
		f := New(th)
		origin := image.Pt(500, 500)
		if act, _ := f.Next(origin, 100); act != Down {
			t.Fatalf("%v: first reading gave %v", c, act)
		}
		for dx := -th.Move; dx <= th.Move; dx++ {
			for dy := -th.Move; dy <= th.Move; dy++ {
				p := origin.Add(image.Pt(dx, dy))
				if !Within(p, origin, th.Move) {
					continue
				}
				if act, _ := f.Next(p, 100); act != None {
					t.Fatalf("%v: jitter %v reported as %v", c, p, act)
				}
			}
		}
	}
}

func TestClick(t *testing.T) {
	th := Default.Finger
	f := New(th)
	down, _ := f.Next(image.Pt(10, 10), 40)
	f.Next(image.Pt(20, 20), 40)
	act, up := f.Next(image.Point{}, 0)
	if down != Down || act != Up {
		t.Fatalf("press and release gave %v, %v", down, act)
	}
	if !IsClick(image.Pt(10, 10), up, th) {
		t.Error("release within click threshold not classified as click")
	}

	f.Next(image.Pt(10, 10), 40)
	f.Next(image.Pt(100, 10), 40)
	_, up = f.Next(image.Point{}, 0)
	if IsClick(image.Pt(10, 10), up, th) {
		t.Error("drag classified as click")
	}
}

func TestNoContact(t *testing.T) {
	f := New(Default.Pen)
	if act, _ := f.Next(image.Pt(3, 3), 9); act != None {
		t.Errorf("reading below presence gave %v", act)
	}
	if _, ok := f.Release(); ok {
		t.Error("Release without contact reported a contact")
	}
}
