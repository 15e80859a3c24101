package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/seantiz/wart/internal/backend"
	"github.com/seantiz/wart/internal/bridge"
	"github.com/seantiz/wart/internal/frame"
	"github.com/seantiz/wart/internal/model"
	"github.com/seantiz/wart/internal/sandbox"
	"github.com/seantiz/wart/internal/session"
	"github.com/seantiz/wart/internal/store"
)

// DefaultEpochInterval is used when Options leaves EpochInterval unset.
const DefaultEpochInterval = 100 * time.Millisecond

// Options wires an Engine to its collaborators.
type Options struct {
	Sandbox    *sandbox.Engine
	Sessions   *session.Store
	Registry   *backend.Registry
	Dispatcher *bridge.Dispatcher
	Store      store.Store
	Logger     *slog.Logger

	EpochInterval time.Duration
	// GuestLogLevel drops guest log lines below it.
	GuestLogLevel bridge.Level
}

// Engine executes guest programs on behalf of sessions.
type Engine struct {
	opts   Options
	logger *slog.Logger
	broker *LogBroker
}

// NewEngine creates an execution engine.
func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.EpochInterval <= 0 {
		opts.EpochInterval = DefaultEpochInterval
	}
	return &Engine{
		opts:   opts,
		logger: opts.Logger,
		broker: NewLogBroker(),
	}
}

// Broker returns the engine's log broker for SSE subscription.
func (e *Engine) Broker() *LogBroker {
	return e.broker
}

// Store returns the run ledger.
func (e *Engine) Store() store.Store {
	return e.opts.Store
}

// Registry returns the graph backend registry.
func (e *Engine) Registry() *backend.Registry {
	return e.opts.Registry
}

// Session returns the stored description of an open session.
func (e *Engine) Session(ctx context.Context, token string) (*model.Session, error) {
	return e.opts.Sessions.Get(ctx, token)
}

// OpenSession validates the guest program and persists a new session. The
// program must compile and link against the host imports.
func (e *Engine) OpenSession(ctx context.Context, p session.Params) (*model.Session, error) {
	m, err := e.opts.Sandbox.Compile(ctx, p.Module)
	if err != nil {
		return nil, err
	}
	defer m.Release(ctx)
	if err := m.Check(); err != nil {
		return nil, err
	}

	sess, err := e.opts.Sessions.Create(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	sessionsOpenedTotal.Inc()
	e.logger.Info("session opened",
		"token", sess.Token,
		"namespace", sess.Namespace,
		"module", m.Digest(),
		"parallelism", sess.Parallelism,
	)
	return sess, nil
}

// CloseSession deletes the session and its key-value shards and ends its
// live log topic.
func (e *Engine) CloseSession(ctx context.Context, token string) error {
	if err := e.opts.Sessions.Close(ctx, token); err != nil {
		return err
	}
	e.broker.Close(token)
	e.logger.Info("session closed", "token", token)
	return nil
}

// IncrementEpoch commits the session's staged key-value writes.
func (e *Engine) IncrementEpoch(ctx context.Context, token string) (uint64, error) {
	return e.opts.Sessions.IncrementEpoch(ctx, token)
}

// UpdateStore stages host-side writes to the session key-value store. vals
// holds one value per key; it may be empty for a delete.
func (e *Engine) UpdateStore(ctx context.Context, token string, keys []string, vals frame.Series, merge int32) (int, error) {
	if merge < 0 || merge > int32(session.MergeMov) {
		return 0, &ProtocolError{Msg: fmt.Sprintf("unknown merge type %d", merge)}
	}
	mode := session.Merge(merge)

	vec := vals.Vector()
	if vec.Len() != len(keys) && !(mode == session.MergeDel && vec.Len() == 0) {
		return 0, &ProtocolError{Msg: fmt.Sprintf("%d keys but %d values", len(keys), vec.Len())}
	}
	items := make(frame.Row, len(keys))
	for i, k := range keys {
		items[i] = frame.Item{Key: k}
		if i < vec.Len() {
			items[i].Value = vec.At(i)
		}
	}
	return e.opts.Sessions.UpdateKV(ctx, token, items, mode)
}

// imports builds the capability set of one run. Namespaces without a
// registered graph backend get the offline variant.
func (e *Engine) imports(sess *model.Session, runID string) bridge.Imports {
	var seq atomic.Int32
	opts := bridge.Options{
		Token:      sess.Token,
		Namespace:  sess.Namespace,
		IOTimeout:  sess.IOTimeout,
		KV:         e.opts.Sessions,
		Dispatcher: e.opts.Dispatcher,
		Logger:     e.logger.With("run_id", runID),
		MinLevel:   e.opts.GuestLogLevel,
		OnLog: func(level bridge.Level, line string) {
			n := int(seq.Add(1) - 1)
			if err := e.opts.Store.InsertLogLine(context.Background(), runID, n, level.String(), line); err != nil {
				e.logger.Error("failed to persist log line", "run_id", runID, "seq", n, "error", err)
			}
			e.broker.Publish(sess.Token, model.LogLine{
				RunID:     runID,
				Seq:       n,
				Level:     level.String(),
				Line:      line,
				CreatedAt: time.Now().UTC(),
			})
		},
	}

	graph, ok := e.opts.Registry.Resolve(sess.Namespace)
	if !ok {
		return bridge.NewOffline(opts)
	}
	opts.Graph = graph
	return bridge.NewStorage(opts)
}
