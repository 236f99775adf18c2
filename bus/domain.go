package bus

import (
	"context"
	"time"
)

// Domain serializes access to one physical bus. The zero value is not
// usable; use NewDomain.
type Domain struct {
	sem     chan struct{}
	timeout time.Duration
}

// NewDomain returns an unheld domain whose acquisitions give up after
// timeout. A non-positive timeout waits until the context is done.
func NewDomain(timeout time.Duration) *Domain {
	return &Domain{
		sem:     make(chan struct{}, 1),
		timeout: timeout,
	}
}

// Acquire takes the bus. It is not recursive: acquiring a held domain
// from the holder blocks until the timeout.
func (d *Domain) Acquire(ctx context.Context) error {
	select {
	case d.sem <- struct{}{}:
		return nil
	default:
	}
	var expired <-chan time.Time
	if d.timeout > 0 {
		t := time.NewTimer(d.timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case d.sem <- struct{}{}:
		return nil
	case <-expired:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release gives up the bus. It panics if the bus is not held.
func (d *Domain) Release() {
	select {
	case <-d.sem:
	default:
		panic("bus: release of unacquired bus")
	}
}

// Held reports whether the bus is currently acquired.
func (d *Domain) Held() bool {
	return len(d.sem) > 0
}

// Wire tracks the transfer on one physical bus, including a transfer
// abandoned after its timeout that is still in progress.
type Wire struct {
	busy chan struct{}
}

func NewWire() *Wire {
	return &Wire{busy: make(chan struct{}, 1)}
}

// Transfer runs the blocking transfer fn on w and gives up after
// timeout. It waits for an abandoned transfer to finish, within the same
// timeout, so transfers never overlap. On timeout fn keeps running in
// the background and its result is dropped, so fn must only touch memory
// it owns. A non-positive timeout waits indefinitely.
func Transfer[T any](w *Wire, timeout time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		w.busy <- struct{}{}
		defer func() { <-w.busy }()
		return fn()
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case w.busy <- struct{}{}:
	case <-t.C:
		return zero, ErrTimeout
	}
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		// The wire is free only when fn returns.
		defer func() { <-w.busy }()
		v, err := fn()
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-t.C:
		return zero, ErrTimeout
	}
}
