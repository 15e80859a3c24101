package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/seantiz/wart/internal/backend"
	"github.com/seantiz/wart/internal/backend/backendtest"
	"github.com/seantiz/wart/internal/bridge"
	"github.com/seantiz/wart/internal/engine"
	"github.com/seantiz/wart/internal/frame"
	"github.com/seantiz/wart/internal/model"
	"github.com/seantiz/wart/internal/sandbox"
	wasm "github.com/seantiz/wart/internal/sandbox/sandboxtest"
	"github.com/seantiz/wart/internal/session"
	"github.com/seantiz/wart/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type testEnv struct {
	engine   *engine.Engine
	sessions *session.Store
	ledger   store.Store
	fake     *backendtest.Storage
}

func newTestEngine(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	ledger, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	sessions := session.NewStore(rdb, "", discardLogger())

	fake := &backendtest.Storage{}
	target, dial := backendtest.Serve(t, fake)
	client := backend.NewClient("fake", target, 4, discardLogger(), dial)
	t.Cleanup(func() { client.Close() })
	reg := backend.NewRegistry("nebula")
	reg.Register("nebula", client)

	disp := bridge.NewDispatcher(32, 4, discardLogger())
	t.Cleanup(disp.Close)

	sb, err := sandbox.NewEngine(ctx, sandbox.Options{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("sandbox.NewEngine: %v", err)
	}
	t.Cleanup(func() { sb.Close(context.Background()) })

	eng := engine.NewEngine(engine.Options{
		Sandbox:       sb,
		Sessions:      sessions,
		Registry:      reg,
		Dispatcher:    disp,
		Store:         ledger,
		Logger:        discardLogger(),
		EpochInterval: 10 * time.Millisecond,
	})
	return &testEnv{engine: eng, sessions: sessions, ledger: ledger, fake: fake}
}

func i32s(n int) []wasm.ValType {
	out := make([]wasm.ValType, n)
	for i := range out {
		out[i] = wasm.I32
	}
	return out
}

func ptr(v uint32) []byte { return wasm.I32Const(int32(v)) }

// logGuest logs one line per run.
func logGuest(msg string) []byte {
	m := wasm.New()
	log := m.Import("imports", "log", i32s(3), nil)
	p, n := m.Data([]byte(msg))
	m.Func("_start", nil, nil, nil, wasm.I32Const(int32(bridge.LevelInfo)), ptr(p), ptr(n), wasm.Call(log))
	return m.Bytes()
}

// graphGuest waits on one graph query per run.
func graphGuest() []byte {
	m := wasm.New()
	choice := m.Import("imports", "choice_nodes", i32s(3), i32s(1))
	get := m.Import("imports", "future_get", i32s(2), i32s(1))
	tp, tl := m.Data([]byte("player"))
	ret := m.Reserve(8)
	m.Func("_start", nil, nil, i32s(1),
		ptr(tp), ptr(tl), wasm.I32Const(1), wasm.Call(choice), wasm.CheckHandle(0),
		wasm.LocalGet(0), ptr(ret), wasm.Call(get), wasm.CheckOK(),
	)
	return m.WithAllocator().Bytes()
}

func open(t *testing.T, env *testEnv, bin []byte, parallelism uint32, timeout time.Duration) *model.Session {
	t.Helper()
	sess, err := env.engine.OpenSession(context.Background(), session.Params{
		Namespace:        "nebula:nba",
		Module:           bin,
		IOTimeout:        5 * time.Second,
		ExecutionTimeout: timeout,
		Parallelism:      parallelism,
	})
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	return sess
}

// runAll submits every argument list and returns the collected responses.
func runAll(t *testing.T, s *engine.Stream, requests int) []engine.Response {
	t.Helper()
	done := make(chan []engine.Response)
	go func() {
		var out []engine.Response
		for r := range s.Results() {
			out = append(out, r)
		}
		done <- out
	}()
	for i := 0; i < requests; i++ {
		if err := s.Submit([]string{"run"}); err != nil {
			t.Errorf("Submit[%d]: %v", i, err)
			break
		}
	}
	s.Drain()
	return <-done
}

func TestOpenSessionRejectsBadPrograms(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	_, err := env.engine.OpenSession(ctx, session.Params{Module: []byte("garbage")})
	var compileErr *sandbox.CompileError
	if !errors.As(err, &compileErr) {
		t.Errorf("garbage module error = %v, want CompileError", err)
	}

	m := wasm.New()
	m.Import("imports", "no_such_import", nil, nil)
	m.Func("_start", nil, nil, nil)
	_, err = env.engine.OpenSession(ctx, session.Params{Module: m.Bytes()})
	var instErr *sandbox.InstantiateError
	if !errors.As(err, &instErr) {
		t.Errorf("unknown import error = %v, want InstantiateError", err)
	}
}

func TestStreamRequiresConfigFirst(t *testing.T) {
	env := newTestEngine(t)
	s := env.engine.NewStream(context.Background())
	defer s.Drain()

	var perr *engine.ProtocolError
	if err := s.Submit(nil); !errors.As(err, &perr) {
		t.Errorf("Submit before Configure = %v, want ProtocolError", err)
	}
	if s.State() != engine.StateAwaitingConfig {
		t.Errorf("State = %s, want awaiting_config", s.State())
	}
}

func TestStreamUnknownSession(t *testing.T) {
	env := newTestEngine(t)
	s := env.engine.NewStream(context.Background())
	defer s.Drain()

	if err := s.Configure("missing"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Configure = %v, want ErrNotFound", err)
	}
}

func TestStreamRunsAndRecords(t *testing.T) {
	env := newTestEngine(t)
	sess := open(t, env, logGuest("hello"), 2, 5*time.Second)

	live, unsub := env.engine.Broker().Subscribe(sess.Token)
	defer unsub()

	s := env.engine.NewStream(context.Background())
	if err := s.Configure(sess.Token); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	var perr *engine.ProtocolError
	if err := s.Configure(sess.Token); !errors.As(err, &perr) {
		t.Errorf("second Configure = %v, want ProtocolError", err)
	}

	resps := runAll(t, s, 3)
	if s.State() != engine.StateClosed {
		t.Errorf("State = %s, want closed", s.State())
	}
	if len(resps) != 3 {
		t.Fatalf("got %d responses, want 3", len(resps))
	}
	for _, r := range resps {
		if r.LastError != "" {
			t.Errorf("response %s: LastError = %q", r.RunID, r.LastError)
		}
		if len(r.Logs) != 1 || r.Logs[0] != "hello" {
			t.Errorf("response %s: logs = %q", r.RunID, r.Logs)
		}
	}

	runs, total, err := env.ledger.ListRuns(context.Background(), sess.Token, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if total != 3 {
		t.Fatalf("ledger has %d runs, want 3", total)
	}
	for _, r := range runs {
		if r.Status != model.StatusCompleted {
			t.Errorf("run %s status = %s, want completed", r.ID, r.Status)
		}
		lines, _ := env.ledger.GetLogLines(context.Background(), r.ID)
		if len(lines) != 1 || lines[0].Line != "hello" {
			t.Errorf("run %s log lines = %+v", r.ID, lines)
		}
	}

	for i := 0; i < 3; i++ {
		select {
		case l := <-live:
			if l.Line != "hello" {
				t.Errorf("live line = %q", l.Line)
			}
		case <-time.After(time.Second):
			t.Fatalf("live line %d not published", i)
		}
	}
}

func TestStreamTrapBecomesResponse(t *testing.T) {
	env := newTestEngine(t)
	m := wasm.New()
	m.Func("_start", nil, nil, nil, wasm.Unreachable())
	sess := open(t, env, m.Bytes(), 1, 5*time.Second)

	s := env.engine.NewStream(context.Background())
	if err := s.Configure(sess.Token); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	resps := runAll(t, s, 1)
	if len(resps) != 1 || resps[0].LastError == "" {
		t.Fatalf("responses = %+v, want one with LastError", resps)
	}
	if err := s.Err(); err != nil {
		t.Errorf("stream Err = %v, want nil", err)
	}

	run, err := env.ledger.GetRun(context.Background(), resps[0].RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != model.StatusTrapped {
		t.Errorf("run status = %s, want trapped", run.Status)
	}
}

func TestStreamParallelismOneSerializes(t *testing.T) {
	env := newTestEngine(t)
	const delay = 50 * time.Millisecond
	env.fake.SetDelay(delay)
	sess := open(t, env, graphGuest(), 1, 5*time.Second)

	s := env.engine.NewStream(context.Background())
	if err := s.Configure(sess.Token); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	start := time.Now()
	resps := runAll(t, s, 3)
	if elapsed := time.Since(start); elapsed < 3*delay {
		t.Errorf("3 requests with one permit took %v, want at least %v", elapsed, 3*delay)
	}
	for _, r := range resps {
		if r.LastError != "" {
			t.Errorf("LastError = %q", r.LastError)
		}
	}
}

func TestStreamParallelismBoundsConcurrentRuns(t *testing.T) {
	env := newTestEngine(t)
	const parallelism = 3
	env.fake.SetDelay(200 * time.Millisecond)
	sess := open(t, env, graphGuest(), parallelism, 5*time.Second)

	s := env.engine.NewStream(context.Background())
	if err := s.Configure(sess.Token); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	resps := runAll(t, s, parallelism+1)
	if len(resps) != parallelism+1 {
		t.Fatalf("got %d responses, want %d", len(resps), parallelism+1)
	}
	if got := env.fake.MaxInFlight(); got > parallelism {
		t.Errorf("%d runs executed at once, want at most %d", got, parallelism)
	}
	if got := env.fake.MaxInFlight(); got < 2 {
		t.Errorf("max concurrent runs = %d, want runs to overlap", got)
	}
}

func TestStreamExecutionTimeoutCancels(t *testing.T) {
	env := newTestEngine(t)
	env.fake.SetDelay(2 * time.Second)
	sess := open(t, env, graphGuest(), 1, 100*time.Millisecond)

	s := env.engine.NewStream(context.Background())
	if err := s.Configure(sess.Token); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	resps := runAll(t, s, 1)
	if len(resps) != 0 {
		t.Errorf("got %d responses for a timed out request, want 0", len(resps))
	}
	if err := s.Err(); !errors.Is(err, engine.ErrExecutionTimeout) {
		t.Errorf("stream Err = %v, want ErrExecutionTimeout", err)
	}

	runs, _, _ := env.ledger.ListRuns(context.Background(), sess.Token, 10, 0)
	if len(runs) != 1 || runs[0].Status != model.StatusCanceled {
		t.Errorf("ledger runs = %+v, want one canceled run", runs)
	}
}

func TestStreamClientDisconnect(t *testing.T) {
	env := newTestEngine(t)
	env.fake.SetDelay(2 * time.Second)
	sess := open(t, env, graphGuest(), 1, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	s := env.engine.NewStream(ctx)
	if err := s.Configure(sess.Token); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := s.Submit(nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	time.AfterFunc(50*time.Millisecond, cancel)

	done := make(chan struct{})
	go func() {
		s.Drain()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Drain did not return after disconnect")
	}
	if err := s.Err(); !errors.Is(err, engine.ErrDisconnected) {
		t.Errorf("stream Err = %v, want ErrDisconnected", err)
	}
	if _, ok := <-s.Results(); ok {
		t.Error("response delivered after disconnect")
	}
}

func TestGuestKVWritesVisibleAfterEpoch(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	m := wasm.New()
	update := m.Import("imports", "update_kv", i32s(3), i32s(1))
	rp, rl := m.Data(frame.EncodeRow(frame.Row{{Key: "visits", Value: frame.Int64(1)}}))
	m.Func("_start", nil, nil, nil, ptr(rp), ptr(rl), wasm.I32Const(int32(session.MergeAdd)), wasm.Call(update), wasm.CheckOK())
	sess := open(t, env, m.Bytes(), 2, 5*time.Second)

	s := env.engine.NewStream(ctx)
	if err := s.Configure(sess.Token); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	for _, r := range runAll(t, s, 2) {
		if r.LastError != "" {
			t.Fatalf("LastError = %q", r.LastError)
		}
	}

	defaults := frame.Row{{Key: "visits", Value: frame.Int64(0)}}
	got, err := env.sessions.QueryKV(ctx, sess.Token, defaults)
	if err != nil {
		t.Fatalf("QueryKV: %v", err)
	}
	if v, _ := got.Get("visits"); v != frame.Int64(0) {
		t.Errorf("visits before epoch = %v, want 0", v)
	}

	if _, err := env.engine.IncrementEpoch(ctx, sess.Token); err != nil {
		t.Fatalf("IncrementEpoch: %v", err)
	}
	got, _ = env.sessions.QueryKV(ctx, sess.Token, defaults)
	if v, _ := got.Get("visits"); v != frame.Int64(2) {
		t.Errorf("visits after epoch = %v, want 2", v)
	}
}

func TestUpdateStore(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	sess := open(t, env, logGuest("x"), 1, time.Second)

	vals := frame.SeriesOf(frame.Vector{Kind: frame.KindString, Strs: []string{"a", "b"}})
	n, err := env.engine.UpdateStore(ctx, sess.Token, []string{"k1", "k2"}, vals, int32(session.MergeMov))
	if err != nil {
		t.Fatalf("UpdateStore: %v", err)
	}
	if n != 2 {
		t.Errorf("ok count = %d, want 2", n)
	}

	var perr *engine.ProtocolError
	if _, err := env.engine.UpdateStore(ctx, sess.Token, []string{"k1"}, vals, int32(session.MergeMov)); !errors.As(err, &perr) {
		t.Errorf("mismatched lengths = %v, want ProtocolError", err)
	}
	if _, err := env.engine.UpdateStore(ctx, sess.Token, []string{"k1"}, frame.Series{}, 9); !errors.As(err, &perr) {
		t.Errorf("unknown merge = %v, want ProtocolError", err)
	}
	if _, err := env.engine.UpdateStore(ctx, sess.Token, []string{"k1"}, frame.Series{}, int32(session.MergeDel)); err != nil {
		t.Errorf("delete without values: %v", err)
	}
	if _, err := env.engine.UpdateStore(ctx, "missing", []string{"k1", "k2"}, vals, int32(session.MergeMov)); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("unknown session = %v, want ErrNotFound", err)
	}
}

func TestCloseSession(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	sess := open(t, env, logGuest("x"), 1, time.Second)
	live, unsub := env.engine.Broker().Subscribe(sess.Token)
	defer unsub()

	if err := env.engine.CloseSession(ctx, sess.Token); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if _, err := env.sessions.Get(ctx, sess.Token); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Get after close = %v, want ErrNotFound", err)
	}
	if _, ok := <-live; ok {
		t.Error("live log channel still open after close")
	}
	if err := env.engine.CloseSession(ctx, sess.Token); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("second CloseSession = %v, want ErrNotFound", err)
	}
}
