// Package minitouch encodes pointer events in the minitouch line
// protocol, for hosts that inject touches into Android devices.
package minitouch

import (
	"bufio"
	"fmt"
	"image"
	"io"

	log "github.com/sirupsen/logrus"
	"touchpanel.dev/touch"
)

// Pressure is reported for every contact; the controllers' own pressure
// readings are not comparable across panels.
const Pressure = 50

// Header describes the touch surface to the host.
type Header struct {
	Version     int
	MaxContacts int
	Max         image.Point
	MaxPressure int
	PID         int
}

// Writer writes one contact slot per touch instance.
type Writer struct {
	w   *bufio.Writer
	log log.FieldLogger
}

// NewWriter returns a writer logging every event to l at debug level.
func NewWriter(w io.Writer, l log.FieldLogger) *Writer {
	return &Writer{
		w:   bufio.NewWriter(w),
		log: l,
	}
}

func (w *Writer) WriteHeader(h Header) error {
	fmt.Fprintf(w.w, "v %d\n", h.Version)
	fmt.Fprintf(w.w, "^ %d %d %d %d\n", h.MaxContacts, h.Max.X, h.Max.Y, h.MaxPressure)
	fmt.Fprintf(w.w, "$ %d\n", h.PID)
	return w.w.Flush()
}

// Write writes e followed by a commit.
func (w *Writer) Write(e touch.Event) error {
	switch e.Kind {
	case touch.Down:
		fmt.Fprintf(w.w, "d %d %d %d %d\n", e.Instance, e.Pos.X, e.Pos.Y, Pressure)
	case touch.Move:
		fmt.Fprintf(w.w, "m %d %d %d %d\n", e.Instance, e.Pos.X, e.Pos.Y, Pressure)
	case touch.Up:
		fmt.Fprintf(w.w, "u %d\n", e.Instance)
	default:
		return fmt.Errorf("minitouch: unsupported event: %v", e.Kind)
	}
	w.w.WriteString("c\n")
	w.log.WithField("event", e).Debug("minitouch write")
	return w.w.Flush()
}

// ReadHeader reads the header lines written by WriteHeader.
func ReadHeader(r *bufio.Reader) (Header, error) {
	var h Header
	var flag string
	lr := lineReader{r: r}
	lr.scanf("%s %d", &flag, &h.Version)
	lr.scanf("%s %d %d %d %d", &flag, &h.MaxContacts, &h.Max.X, &h.Max.Y, &h.MaxPressure)
	if err := lr.scanf("%s %d", &flag, &h.PID); err != nil {
		return Header{}, fmt.Errorf("minitouch: header: %w", err)
	}
	return h, nil
}

type lineReader struct {
	r   *bufio.Reader
	err error
}

func (l *lineReader) scanf(format string, args ...any) error {
	if l.err != nil {
		return l.err
	}
	var line []byte
	line, _, l.err = l.r.ReadLine()
	if l.err != nil {
		return l.err
	}
	_, l.err = fmt.Sscanf(string(line), format, args...)
	return l.err
}
