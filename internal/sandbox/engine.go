// Package sandbox compiles guest WebAssembly modules and runs them under an
// epoch deadline, with the storage bridge exposed as the "imports" host
// module.
//
// Guest ABI: standalone strings (log lines, table names, tags) are passed as
// raw UTF-8 (ptr, len) pairs; values, rows, vectors and string lists use the
// frame binary layout. A guest must export _start and, to receive future
// results, canonical_abi_realloc(ptr, old, align, size) -> ptr. The optional
// exports __wasm_call_ctors and __wasm_call_dtors are called around _start.
package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"golang.org/x/sync/semaphore"

	"github.com/seantiz/wart/internal/bridge"
	"github.com/seantiz/wart/internal/frame"
)

const (
	exportStart   = "_start"
	exportCtors   = "__wasm_call_ctors"
	exportDtors   = "__wasm_call_dtors"
	exportRealloc = "canonical_abi_realloc"
)

// Options configures an Engine.
type Options struct {
	// CompileWorkers bounds concurrent compilations. Zero means one per CPU.
	CompileWorkers int
	// CacheDir, when set, persists compiled code across restarts.
	CacheDir string
	Logger   *slog.Logger
}

// Engine owns the wazero runtime shared by every session.
type Engine struct {
	rt     wazero.Runtime
	cache  wazero.CompilationCache
	sem    *semaphore.Weighted
	logger *slog.Logger

	mu      sync.Mutex
	modules map[string]*Module
}

// NewEngine creates the runtime and instantiates the WASI and imports host
// modules.
func NewEngine(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	workers := opts.CompileWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	cache := wazero.NewCompilationCache()
	if opts.CacheDir != "" {
		c, err := wazero.NewCompilationCacheWithDir(opts.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("module cache %s: %w", opts.CacheDir, err)
		}
		cache = c
	}

	cfg := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithCompilationCache(cache)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}
	if _, err := hostModule(rt).Instantiate(ctx); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate host module: %w", err)
	}

	return &Engine{
		rt:      rt,
		cache:   cache,
		sem:     semaphore.NewWeighted(int64(workers)),
		logger:  opts.Logger,
		modules: make(map[string]*Module),
	}, nil
}

// Close releases the runtime and every compiled module.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.modules = make(map[string]*Module)
	e.mu.Unlock()
	modulesCached.Set(0)

	err := e.rt.Close(ctx)
	if cerr := e.cache.Close(ctx); err == nil {
		err = cerr
	}
	return err
}

// Module is a compiled guest program shared by every stream of the sessions
// that uploaded the same bytes.
type Module struct {
	engine   *Engine
	digest   string
	compiled wazero.CompiledModule
	refs     int
}

// Digest returns the hex SHA-256 of the module bytes.
func (m *Module) Digest() string { return m.digest }

// Digest returns the cache key of bin.
func Digest(bin []byte) string {
	sum := sha256.Sum256(bin)
	return hex.EncodeToString(sum[:])
}

// Compile returns the compiled module for bin, compiling it on first use.
// Every successful call must be paired with Release.
func (e *Engine) Compile(ctx context.Context, bin []byte) (*Module, error) {
	digest := Digest(bin)
	if m := e.acquire(digest); m != nil {
		return m, nil
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	start := time.Now()
	compiled, err := e.rt.CompileModule(ctx, bin)
	e.sem.Release(1)
	if err != nil {
		return nil, &CompileError{Err: err}
	}
	compileDuration.Observe(time.Since(start).Seconds())

	e.mu.Lock()
	if m, ok := e.modules[digest]; ok {
		m.refs++
		e.mu.Unlock()
		compiled.Close(ctx)
		return m, nil
	}
	m := &Module{engine: e, digest: digest, compiled: compiled, refs: 1}
	e.modules[digest] = m
	modulesCached.Set(float64(len(e.modules)))
	e.mu.Unlock()

	e.logger.Debug("module compiled", "digest", digest, "duration", time.Since(start))
	return m, nil
}

func (e *Engine) acquire(digest string) *Module {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.modules[digest]
	if !ok {
		return nil
	}
	m.refs++
	return m
}

// Release drops one reference. The compiled code is freed with the last one.
func (m *Module) Release(ctx context.Context) {
	e := m.engine
	e.mu.Lock()
	m.refs--
	last := m.refs == 0
	if last && e.modules[m.digest] == m {
		delete(e.modules, m.digest)
	}
	modulesCached.Set(float64(len(e.modules)))
	e.mu.Unlock()

	if last {
		m.compiled.Close(ctx)
	}
}

// Check verifies that the module exports _start and imports nothing beyond
// WASI and the host imports.
func (m *Module) Check() error {
	if _, ok := m.compiled.ExportedFunctions()[exportStart]; !ok {
		return &InstantiateError{Err: fmt.Errorf("missing export %s", exportStart)}
	}
	for _, def := range m.compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		switch module {
		case wasi_snapshot_preview1.ModuleName:
		case hostModuleName:
			if _, ok := hostFuncs[name]; !ok {
				return &InstantiateError{Err: fmt.Errorf("unknown import %s.%s", module, name)}
			}
		default:
			return &InstantiateError{Err: fmt.Errorf("unknown import module %s (%s)", module, name)}
		}
	}
	return nil
}

// Instance is a fresh instantiation of a module bound to the imports of one
// run.
type Instance struct {
	mod     api.Module
	imports bridge.Imports
	stdout  *lineWriter
	stderr  *lineWriter
}

// Instantiate creates an instance of m with its own linear memory. The
// guest's stdout and stderr are forwarded to imports as info and warn lines.
func (e *Engine) Instantiate(ctx context.Context, m *Module, imports bridge.Imports, args []string) (*Instance, error) {
	if err := m.Check(); err != nil {
		return nil, err
	}
	inst := &Instance{
		imports: imports,
		stdout:  &lineWriter{level: bridge.LevelInfo, log: imports},
		stderr:  &lineWriter{level: bridge.LevelWarn, log: imports},
	}
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs(append([]string{"guest"}, args...)...).
		WithStdout(inst.stdout).
		WithStderr(inst.stderr).
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithStartFunctions()

	mod, err := e.rt.InstantiateModule(ctx, m.compiled, cfg)
	if err != nil {
		return nil, &InstantiateError{Err: err}
	}
	inst.mod = mod
	return inst, nil
}

// Result is what a run produced. Tables and logs are kept even when the run
// ends in a trap.
type Result struct {
	Tables   []frame.DataFrame
	Logs     []string
	Duration time.Duration
}

// Run executes the instance's _start under an epoch deadline and closes the
// instance. The returned error is a *Trap or *HostImportError when the guest
// did not finish normally.
func (e *Engine) Run(ctx context.Context, inst *Instance, epoch *Epoch) (Result, error) {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	d := newDeadline(epoch)
	go d.watch(runCtx, cancel)

	start := time.Now()
	err := e.call(withRun(runCtx, &run{imports: inst.imports, deadline: d}), inst.mod)
	elapsed := time.Since(start)
	err = classify(runCtx, err)

	inst.stdout.Flush()
	inst.stderr.Flush()
	inst.mod.Close(context.Background())

	runsTotal.WithLabelValues(outcome(err)).Inc()
	runDuration.Observe(elapsed.Seconds())

	return Result{
		Tables:   inst.imports.Tables(),
		Logs:     inst.imports.Logs(),
		Duration: elapsed,
	}, err
}

func (e *Engine) call(ctx context.Context, mod api.Module) error {
	if fn := mod.ExportedFunction(exportCtors); fn != nil {
		if _, err := fn.Call(ctx); err != nil {
			return err
		}
	}
	if _, err := mod.ExportedFunction(exportStart).Call(ctx); err != nil {
		return err
	}
	if fn := mod.ExportedFunction(exportDtors); fn != nil {
		if _, err := fn.Call(ctx); err != nil {
			return err
		}
	}
	return nil
}

// classify maps a wazero call error onto the sandbox error taxonomy.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		if errors.Is(context.Cause(ctx), ErrDeadline) {
			return &Trap{Kind: TrapDeadline, Err: ErrDeadline}
		}
		return &Trap{Kind: TrapCanceled, Err: context.Cause(ctx)}
	}

	var hostErr *HostImportError
	if errors.As(err, &hostErr) {
		return hostErr
	}
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == 0 {
			return nil
		}
		return &Trap{Kind: TrapExit, Code: exitErr.ExitCode(), Err: err}
	}
	return &Trap{Kind: TrapFault, Err: err}
}
