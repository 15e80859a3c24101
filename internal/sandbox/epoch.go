package sandbox

import (
	"context"
	"sync"
	"time"
)

// Epoch is a counter advanced by an external ticker. Runs measure their
// deadline against it.
type Epoch struct {
	mu      sync.Mutex
	value   uint64
	changed chan struct{}
}

// NewEpoch returns an epoch at zero.
func NewEpoch() *Epoch {
	return &Epoch{changed: make(chan struct{})}
}

// Current returns the counter value.
func (e *Epoch) Current() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// Increment advances the counter and wakes every waiter.
func (e *Epoch) Increment() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value++
	close(e.changed)
	e.changed = make(chan struct{})
	epochTicksTotal.Inc()
	return e.value
}

// Changed returns a channel closed by the next Increment.
func (e *Epoch) Changed() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.changed
}

// Tick increments e every interval until the returned stop function is
// called. stop waits for the ticking goroutine to exit.
func (e *Epoch) Tick(interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				e.Increment()
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// deadline is the epoch deadline of one run. It is reset every time the
// guest leaves a host import, and never expires while the guest is inside
// one.
type deadline struct {
	epoch *Epoch

	mu     sync.Mutex
	at     uint64
	inHost int
}

func newDeadline(e *Epoch) *deadline {
	d := &deadline{epoch: e}
	d.at = e.Current() + 1
	return d
}

func (d *deadline) enter() {
	d.mu.Lock()
	d.inHost++
	d.mu.Unlock()
}

func (d *deadline) exit() {
	next := d.epoch.Current() + 1
	d.mu.Lock()
	d.inHost--
	d.at = next
	d.mu.Unlock()
}

// expired reports whether the epoch has reached the deadline while the
// guest was running its own code. The first tick after the run starts, or
// after its last host call returns, is the deadline.
func (d *deadline) expired() bool {
	now := d.epoch.Current()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inHost == 0 && now >= d.at
}

// watch cancels the run with ErrDeadline once the deadline expires. It
// returns when ctx is done.
func (d *deadline) watch(ctx context.Context, cancel context.CancelCauseFunc) {
	for {
		changed := d.epoch.Changed()
		if d.expired() {
			cancel(ErrDeadline)
			return
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return
		}
	}
}
