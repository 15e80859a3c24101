package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/seantiz/wart/internal/bridge"
	"github.com/seantiz/wart/internal/frame"
	"github.com/seantiz/wart/internal/model"
	"github.com/seantiz/wart/internal/sandbox"
)

// resultsBuffer is the capacity of a stream's results channel.
const resultsBuffer = 8

var tracer = otel.Tracer("github.com/seantiz/wart/internal/engine")

// State is the lifecycle position of a Stream.
type State int32

const (
	StateAwaitingConfig State = iota
	StateRunning
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingConfig:
		return "awaiting_config"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Response is the outcome of one request. LastError is set when the guest
// failed; tables produced before the failure are still returned.
type Response struct {
	RunID     string
	Tables    []frame.DataFrame
	Logs      []string
	TimeUsed  time.Duration
	LastError string
}

// Stream runs the requests of one streaming-run call against a session.
// Configure, Submit and Drain must be called from a single goroutine;
// Results may be consumed from another.
type Stream struct {
	engine *Engine
	ctx    context.Context
	cancel context.CancelCauseFunc

	state   atomic.Int32
	results chan Response
	wg      sync.WaitGroup

	sess     *model.Session
	module   *sandbox.Module
	epoch    *sandbox.Epoch
	stopTick func()
	permits  *semaphore.Weighted

	mu    sync.Mutex
	fatal error
	once  sync.Once
}

// NewStream returns a stream awaiting its configuration. Canceling ctx
// aborts the stream as a client disconnect.
func (e *Engine) NewStream(ctx context.Context) *Stream {
	sctx, cancel := context.WithCancelCause(ctx)
	return &Stream{
		engine:  e,
		ctx:     sctx,
		cancel:  cancel,
		results: make(chan Response, resultsBuffer),
	}
}

// State returns the current lifecycle state.
func (s *Stream) State() State { return State(s.state.Load()) }

// Results delivers one Response per completed request. It is closed by
// Drain.
func (s *Stream) Results() <-chan Response { return s.results }

// Done is closed once the stream is aborted, its parent context ends or
// Drain completes.
func (s *Stream) Done() <-chan struct{} { return s.ctx.Done() }

// Err returns the error that ended the stream early, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// Abort ends the stream with err. Running requests are canceled and no
// further responses are delivered.
func (s *Stream) Abort(err error) {
	s.mu.Lock()
	if s.fatal == nil {
		s.fatal = err
	}
	s.mu.Unlock()
	s.cancel(err)
}

// Configure binds the stream to a session: the session's module is compiled,
// the epoch ticker started and the stream starts admitting requests.
func (s *Stream) Configure(token string) error {
	if s.State() != StateAwaitingConfig {
		return &ProtocolError{Msg: "config sent twice"}
	}
	e := s.engine

	sess, err := e.opts.Sessions.Get(s.ctx, token)
	if err != nil {
		return err
	}
	m, err := e.opts.Sandbox.Compile(s.ctx, sess.Module)
	if err != nil {
		return err
	}
	if err := m.Check(); err != nil {
		m.Release(context.Background())
		return err
	}

	s.sess = sess
	s.module = m
	s.permits = semaphore.NewWeighted(sess.Permits())
	s.epoch = sandbox.NewEpoch()
	s.stopTick = s.epoch.Tick(e.opts.EpochInterval)
	s.state.Store(int32(StateRunning))
	streamsActive.Inc()

	e.logger.Debug("stream configured", "token", token, "permits", sess.Permits())
	return nil
}

// Submit admits one request, waiting for a free permit. It returns the
// stream's error once the stream has been aborted.
func (s *Stream) Submit(args []string) error {
	switch s.State() {
	case StateAwaitingConfig:
		return &ProtocolError{Msg: "args before config"}
	case StateDraining, StateClosed:
		return ErrStreamClosed
	}

	if err := s.permits.Acquire(s.ctx, 1); err != nil {
		if ferr := s.Err(); ferr != nil {
			return ferr
		}
		return ErrDisconnected
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.permits.Release(1)
		s.execute(args)
	}()
	return nil
}

// Drain stops admission, waits for admitted requests, stops the epoch ticker
// and closes Results. It is safe to call more than once.
func (s *Stream) Drain() {
	s.once.Do(func() {
		configured := s.State() != StateAwaitingConfig
		s.state.Store(int32(StateDraining))
		s.wg.Wait()
		if configured {
			s.stopTick()
			s.module.Release(context.Background())
			streamsActive.Dec()
		}
		close(s.results)
		s.state.Store(int32(StateClosed))
		s.cancel(ErrStreamClosed)
	})
}

// execute runs one request. A timeout or disconnect aborts the whole stream
// and delivers nothing for the request.
func (s *Stream) execute(args []string) {
	e := s.engine
	run := &model.Run{
		ID:        model.NewID(),
		Token:     s.sess.Token,
		Namespace: s.sess.Namespace,
		Args:      args,
		Status:    model.StatusRunning,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.opts.Store.CreateRun(context.Background(), run); err != nil {
		e.logger.Error("failed to record run", "run_id", run.ID, "error", err)
	}

	ctx, cancel := s.ctx, context.CancelFunc(func() {})
	if s.sess.ExecutionTimeout > 0 {
		ctx, cancel = context.WithTimeout(s.ctx, s.sess.ExecutionTimeout)
	}
	defer cancel()

	ctx, span := tracer.Start(ctx, "wart.run", trace.WithAttributes(
		attribute.String("wart.run_id", run.ID),
		attribute.String("wart.namespace", run.Namespace),
	))
	defer span.End()

	imports := e.imports(s.sess, run.ID)
	res, err := s.runGuest(ctx, imports, args)
	imports.Close()

	if ctx.Err() != nil {
		cause := s.cancelCause(ctx)
		span.SetStatus(codes.Error, cause.Error())
		s.Abort(cause)
		e.finish(run, model.StatusCanceled, res, cause)
		return
	}

	status := model.StatusCompleted
	var trap *sandbox.Trap
	switch {
	case errors.As(err, &trap):
		status = model.StatusTrapped
	case err != nil:
		status = model.StatusFailed
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
	}
	e.finish(run, status, res, err)

	resp := Response{
		RunID:    run.ID,
		Tables:   res.Tables,
		Logs:     res.Logs,
		TimeUsed: res.Duration,
	}
	if err != nil {
		resp.LastError = err.Error()
	}
	select {
	case s.results <- resp:
	case <-s.ctx.Done():
	}
}

func (s *Stream) runGuest(ctx context.Context, imports bridge.Imports, args []string) (sandbox.Result, error) {
	e := s.engine
	inst, err := e.opts.Sandbox.Instantiate(ctx, s.module, imports, args)
	if err != nil {
		return sandbox.Result{Logs: imports.Logs()}, err
	}
	return e.opts.Sandbox.Run(ctx, inst, s.epoch)
}

// cancelCause names why a request context ended.
func (s *Stream) cancelCause(ctx context.Context) error {
	if s.ctx.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrExecutionTimeout, s.sess.ExecutionTimeout)
	}
	if err := s.Err(); err != nil {
		return err
	}
	return ErrDisconnected
}

// finish records a run's outcome in the ledger.
func (e *Engine) finish(run *model.Run, status string, res sandbox.Result, err error) {
	runRequestsTotal.WithLabelValues(status).Inc()
	dur := int(res.Duration.Milliseconds())
	done := &model.Run{
		ID:         run.ID,
		Status:     status,
		Tables:     len(res.Tables),
		DurationMS: &dur,
	}
	if err != nil {
		done.Error = err.Error()
	}
	if ferr := e.opts.Store.FinishRun(context.Background(), done); ferr != nil {
		e.logger.Error("failed to finish run", "run_id", run.ID, "error", ferr)
	}
	e.logger.Debug("run finished", "run_id", run.ID, "token", run.Token, "status", status, "duration_ms", dur)
}
