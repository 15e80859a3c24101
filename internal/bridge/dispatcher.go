package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/wart/internal/oneshot"
)

type job struct {
	req     QueryRequest
	timeout time.Duration
	promise *oneshot.Promise[Result]
}

// Dispatcher runs QueryRequests on a fixed set of workers fed by a bounded
// queue. Guest code never blocks on a backend call at submission; it blocks
// only when it asks for the result of a future.
type Dispatcher struct {
	queue   chan job
	closing chan struct{}
	logger  *slog.Logger

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewDispatcher starts workers goroutines draining a queue of queueSize.
func NewDispatcher(queueSize, workers int, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{
		queue:   make(chan job, queueSize),
		closing: make(chan struct{}),
		logger:  logger,
	}
	d.wg.Add(workers)
	for range workers {
		go d.worker()
	}
	return d
}

// Submit enqueues req and returns the handle its result will arrive on.
// It blocks while the queue is full until ctx is done. timeout bounds the
// backend call once a worker picks it up; zero means no bound.
func (d *Dispatcher) Submit(ctx context.Context, req QueryRequest, timeout time.Duration) (*oneshot.Promise[Result], error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrChannelClosed
	}

	j := job{req: req, timeout: timeout, promise: oneshot.New[Result]()}
	select {
	case d.queue <- j:
		dispatcherQueueDepth.Set(float64(len(d.queue)))
		return j.promise, nil
	case <-d.closing:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, fmt.Errorf("submit %s: %w", req.Op(), ctx.Err())
	}
}

// Call submits req and waits for its result.
func (d *Dispatcher) Call(ctx context.Context, req QueryRequest, timeout time.Duration) (Result, error) {
	p, err := d.Submit(ctx, req, timeout)
	if err != nil {
		return Result{}, err
	}
	res, err := p.Wait(ctx)
	if err != nil {
		p.Abandon()
	}
	return res, err
}

// Close stops accepting requests. Requests still queued are resolved with
// oneshot.ErrDropped. Close waits for in-flight calls to finish.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.closing)
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.queue)
		d.wg.Wait()
	})
}

// Pending returns the number of queued requests.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		dispatcherQueueDepth.Set(float64(len(d.queue)))
		select {
		case <-d.closing:
			j.promise.Close()
			continue
		default:
		}
		if j.promise.IsAbandoned() {
			dispatcherRequestsTotal.WithLabelValues(j.req.Op(), outcomeSkipped).Inc()
			j.promise.Close()
			continue
		}
		d.run(j)
	}
}

func (d *Dispatcher) run(j job) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if j.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), j.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()

	// The waiter going away or the dispatcher shutting down cancels the call.
	go func() {
		select {
		case <-j.promise.Abandoned():
			cancel()
		case <-d.closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	res, err := j.req.execute(ctx)
	dispatcherRequestDuration.WithLabelValues(j.req.Op()).Observe(time.Since(start).Seconds())

	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%s after %s: %w", j.req.Op(), j.timeout, ErrTimeout)
	}
	switch {
	case err == nil:
		dispatcherRequestsTotal.WithLabelValues(j.req.Op(), outcomeOK).Inc()
	case j.promise.IsAbandoned():
		dispatcherRequestsTotal.WithLabelValues(j.req.Op(), outcomeSkipped).Inc()
	default:
		dispatcherRequestsTotal.WithLabelValues(j.req.Op(), KindOf(err).String()).Inc()
		d.logger.Debug("query failed", "op", j.req.Op(), "error", err)
	}
	j.promise.Resolve(res, err)
}
