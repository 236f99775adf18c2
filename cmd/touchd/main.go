// Command touchd reads a touch panel and reports calibrated pointer
// events as text lines or in the minitouch protocol.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
	"touchpanel.dev/board/rpi"
	"touchpanel.dev/bus"
	"touchpanel.dev/calibrate"
	"touchpanel.dev/driver/ft6x36"
	"touchpanel.dev/driver/stmpe811"
	"touchpanel.dev/filter"
	"touchpanel.dev/minitouch"
	"touchpanel.dev/touch"
)

// Version is set by the Go linker with -ldflags='-X main.Version=...'.
var Version string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "touchd: %v\n", err)
		os.Exit(2)
	}
}

type options struct {
	i2c        string
	irq        string
	addr       uint
	controller string
	sim        bool
	selfcal    bool
	pen        bool
	poll       time.Duration
	slowCPU    bool
	display    string
	rotate     int
	calDir     string
	format     string
	serial     string
	baud       int
	count      int
	mlock      bool
	verbose    bool
}

func newFlags(name string) (*flag.FlagSet, *options) {
	o := new(options)
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&o.i2c, "i2c", "", "I2C bus name (empty selects the first bus)")
	fs.StringVar(&o.irq, "irq", "", "interrupt GPIO name (empty polls the controller)")
	fs.UintVar(&o.addr, "addr", 0, "controller I2C address (zero selects the controller default)")
	fs.StringVar(&o.controller, "controller", "stmpe811", "touch controller (stmpe811, ft6x36)")
	fs.BoolVar(&o.sim, "sim", false, "use a simulated controller")
	fs.BoolVar(&o.selfcal, "selfcal", false, "calibrate from the raw coordinate range")
	fs.BoolVar(&o.pen, "pen", false, "use pen thresholds instead of finger thresholds")
	fs.DurationVar(&o.poll, "poll", touch.DefaultConfig.PollInterval, "sampling period when polling")
	fs.BoolVar(&o.slowCPU, "slowcpu", false, "discard queued samples after every read")
	fs.StringVar(&o.display, "display", "240x320", "native display size")
	fs.IntVar(&o.rotate, "rotate", 0, "display rotation in degrees (0, 90, 180, 270)")
	fs.StringVar(&o.calDir, "cal", "", "calibration directory")
	fs.StringVar(&o.format, "format", "text", "output format (text, minitouch)")
	fs.StringVar(&o.serial, "serial", "", "write minitouch events to serial device")
	fs.IntVar(&o.baud, "baud", 115200, "serial baud rate")
	fs.IntVar(&o.count, "count", 0, "exit after count events (zero means never)")
	fs.BoolVar(&o.mlock, "mlock", false, "lock memory to avoid page faults")
	fs.BoolVar(&o.verbose, "v", false, "verbose logging")
	return fs, o
}

func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	if len(args) == 0 {
		return errors.New("missing command (run, calibrate, version)")
	}
	cmd := args[0]
	args = args[1:]
	switch cmd {
	case "version":
		ver := Version
		if ver == "" {
			ver = "devel"
		}
		fmt.Fprintln(stdout, ver)
		return nil
	case "run", "calibrate":
	default:
		return fmt.Errorf("unknown command: %q", cmd)
	}
	fs, o := newFlags(cmd)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	log := logrus.New()
	log.Out = stderr
	if o.verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	if o.mlock {
		if err := lockMemory(); err != nil {
			log.WithError(err).Warn("memory not locked")
		}
	}
	s, err := o.setup(log)
	if err != nil {
		return err
	}
	if cmd == "calibrate" {
		return s.calibrate(ctx, stdout, o)
	}
	return s.serve(ctx, stdout, o)
}

type setup struct {
	board bus.Board
	sim   *stmpe811.Simulator
	cfg   touch.Config
	log   logrus.FieldLogger
}

func (o *options) setup(log logrus.FieldLogger) (*setup, error) {
	var display image.Point
	if _, err := fmt.Sscanf(o.display, "%dx%d", &display.X, &display.Y); err != nil {
		return nil, fmt.Errorf("invalid display size: %q", o.display)
	}
	orient, err := orientation(o.rotate)
	if err != nil {
		return nil, err
	}
	cfg := touch.DefaultConfig
	cfg.Display = display
	cfg.Orientation = orient
	cfg.PollInterval = o.poll
	cfg.SlowCPU = o.slowCPU
	cfg.SelfCalibrate = o.selfcal
	cfg.Logger = log
	if o.pen {
		cfg.Contact = filter.Pen
	}
	if o.calDir != "" {
		cfg.Store = calibrate.FileStore{Dir: o.calDir}
	}
	s := &setup{cfg: cfg, log: log}
	if o.sim {
		// The simulated panel reports raw coordinates in display
		// space.
		s.cfg.Range = calibrate.Range{Max: display}
		s.cfg.SelfCalibrate = o.selfcal || o.calDir == ""
		s.cfg.Controller = func(a bus.Adapter) touch.Controller {
			return stmpe811.New(a)
		}
		s.sim = stmpe811.NewSimulator(true)
		s.board = s.sim
		return s, nil
	}
	bcfg := bus.DefaultConfig
	switch o.controller {
	case "stmpe811":
		s.cfg.Controller = func(a bus.Adapter) touch.Controller {
			return stmpe811.New(a)
		}
	case "ft6x36":
		bcfg.Address = ft6x36.Address
		s.cfg.Controller = func(a bus.Adapter) touch.Controller {
			return ft6x36.New(a)
		}
	default:
		return nil, fmt.Errorf("unknown controller: %q", o.controller)
	}
	if o.addr != 0 {
		bcfg.Address = uint16(o.addr)
	}
	s.cfg.IRQ = o.irq != ""
	b, err := rpi.Open(o.i2c, o.irq, bcfg)
	if err != nil {
		return nil, err
	}
	s.board = b
	return s, nil
}

func orientation(degrees int) (calibrate.Orientation, error) {
	switch degrees {
	case 0:
		return calibrate.Rotate0, nil
	case 90:
		return calibrate.Rotate90, nil
	case 180:
		return calibrate.Rotate180, nil
	case 270:
		return calibrate.Rotate270, nil
	default:
		return 0, fmt.Errorf("invalid rotation: %d", degrees)
	}
}

func (s *setup) serve(ctx context.Context, stdout io.Writer, o *options) error {
	out, closeOut, err := s.output(stdout, o)
	if err != nil {
		if c, ok := s.board.(io.Closer); ok {
			c.Close()
		}
		return err
	}
	defer closeOut()
	events := make(chan touch.Event, 16)
	drv, err := touch.Open(ctx, s.board, s.cfg, events)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}
	n := 0
	eb := EventBus.New()
	err = eb.Subscribe(touch.Topic, func(e touch.Event) {
		if err := out(e); err != nil {
			finish(err)
			return
		}
		n++
		if o.count > 0 && n == o.count {
			finish(nil)
		}
	})
	if err != nil {
		drv.Close()
		return err
	}
	published := make(chan struct{})
	go func() {
		defer close(published)
		touch.Publish(eb, events)
	}()
	if s.sim != nil {
		go stroke(s.sim, s.cfg.Display)
	}
	select {
	case err = <-done:
	case <-ctx.Done():
	}
	for i := 0; i < drv.Count(); i++ {
		in := drv.Instance(i)
		st := in.Stats()
		s.log.WithFields(logrus.Fields{
			"instance":     in.ID(),
			"timeouts":     st.Timeouts,
			"errors":       st.Errors,
			"uncalibrated": st.Uncalibrated,
			"degraded":     st.Degraded,
		}).Debug("instance stats")
	}
	if cerr := drv.Close(); err == nil {
		err = cerr
	}
	close(events)
	<-published
	return err
}

// output returns the event writer selected by o.
func (s *setup) output(stdout io.Writer, o *options) (func(touch.Event) error, func(), error) {
	var w io.Writer = stdout
	closeOut := func() {}
	format := o.format
	if o.serial != "" {
		p, err := serial.OpenPort(&serial.Config{Name: o.serial, Baud: o.baud})
		if err != nil {
			return nil, nil, fmt.Errorf("serial: %w", err)
		}
		w = p
		closeOut = func() { p.Close() }
		format = "minitouch"
	}
	switch format {
	case "text":
		return func(e touch.Event) error {
			_, err := fmt.Fprintln(w, e)
			return err
		}, closeOut, nil
	case "minitouch":
		mw := minitouch.NewWriter(w, s.log)
		err := mw.WriteHeader(minitouch.Header{
			Version:     1,
			MaxContacts: s.cfg.Instances,
			Max:         s.cfg.Display.Sub(image.Pt(1, 1)),
			MaxPressure: minitouch.Pressure,
			PID:         os.Getpid(),
		})
		if err != nil {
			closeOut()
			return nil, nil, err
		}
		return mw.Write, closeOut, nil
	default:
		closeOut()
		return nil, nil, fmt.Errorf("unknown format: %q", format)
	}
}

func (s *setup) calibrate(ctx context.Context, stdout io.Writer, o *options) error {
	s.cfg.SelfCalibrate = false
	drv, err := touch.Open(ctx, s.board, s.cfg, nil)
	if err != nil {
		return err
	}
	defer drv.Close()
	for i := 0; i < drv.Count(); i++ {
		in := drv.Instance(i)
		err := in.Calibrate(ctx, in.Targets(), func(target image.Point) {
			fmt.Fprintf(stdout, "touch %d %d\n", target.X, target.Y)
			if s.sim != nil {
				s.sim.Feed(
					touch.Sample{X: uint16(target.X), Y: uint16(target.Y), Z: 50},
					touch.Sample{},
				)
			}
		})
		if err != nil {
			return err
		}
		m, err := in.Matrix()
		if err != nil {
			return err
		}
		s.log.WithFields(logrus.Fields{"instance": in.ID(), "matrix": m}).Info("calibration matrix")
		fmt.Fprintf(stdout, "instance %d: %v\n", in.ID(), in.Calibration())
	}
	return nil
}

// stroke feeds a diagonal stroke across the display to the simulator.
func stroke(sim *stmpe811.Simulator, display image.Point) {
	for _, p := range calibrate.Targets(display)[:3] {
		sim.Feed(touch.Sample{X: uint16(p.X), Y: uint16(p.Y), Z: 50})
	}
	sim.Feed(touch.Sample{})
}
