package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/wart/internal/backend"
	"github.com/seantiz/wart/internal/frame"
	"github.com/seantiz/wart/internal/oneshot"
	"github.com/seantiz/wart/internal/session"
)

// Names of the tables fed by select_nodes and select_edges.
const (
	SelectedNodes = "selected_nodes"
	SelectedEdges = "selected_edges"
)

// Options configures the Storage of one run.
type Options struct {
	Token     string
	Namespace string
	IOTimeout time.Duration

	Graph      backend.Graph
	KV         KV
	Dispatcher *Dispatcher

	Logger   *slog.Logger
	MinLevel Level
	// OnLog, when set, receives every captured guest log line.
	OnLog func(level Level, line string)
}

// Storage is the Imports of one run: graph and key-value calls go through the
// dispatcher, output tables and log lines accumulate in memory.
type Storage struct {
	opts Options

	mu      sync.Mutex
	tables  []*frame.Builder
	nodes   frame.Vector
	edges   [2]frame.Vector
	futures map[int32]*oneshot.Promise[Result]
	next    int32
	logs    []string
}

var _ Imports = (*Storage)(nil)

// NewStorage creates the Imports for one run.
func NewStorage(opts Options) *Storage {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Storage{
		opts:    opts,
		futures: make(map[int32]*oneshot.Promise[Result]),
	}
}

func (s *Storage) submit(ctx context.Context, req QueryRequest) (int32, error) {
	if s.opts.Dispatcher == nil {
		return 0, ErrChannelClosed
	}
	p, err := s.opts.Dispatcher.Submit(ctx, req, s.opts.IOTimeout)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.next
	s.next++
	s.futures[h] = p
	return h, nil
}

func (s *Storage) graph() backend.Graph {
	if s.opts.Graph == nil {
		return backend.Offline{}
	}
	return s.opts.Graph
}

func (s *Storage) ChoiceNodes(ctx context.Context, tag string, n int32) (int32, error) {
	if n < 0 {
		return 0, fmt.Errorf("choice_nodes count %d: %w", n, ErrInvalidArgument)
	}
	return s.submit(ctx, ChoiceNodes{Graph: s.graph(), Namespace: s.opts.Namespace, Tag: tag, Number: n})
}

func (s *Storage) QueryNode(ctx context.Context, id frame.Value, tag string, keys []string) (int32, error) {
	if err := checkNodeID(id); err != nil {
		return 0, err
	}
	return s.submit(ctx, FetchNode{Graph: s.graph(), Namespace: s.opts.Namespace, ID: id, Tag: tag, Keys: keys})
}

func (s *Storage) QueryNeighbors(ctx context.Context, id frame.Value, tag string, keys []string, reversed bool) (int32, error) {
	if err := checkNodeID(id); err != nil {
		return 0, err
	}
	return s.submit(ctx, FetchNeighbors{
		Graph: s.graph(), Namespace: s.opts.Namespace, ID: id, Tag: tag, Keys: keys, Reversed: reversed,
	})
}

func checkNodeID(id frame.Value) error {
	switch id.Kind {
	case frame.KindInt64, frame.KindString:
		return nil
	}
	return fmt.Errorf("node id of kind %s: %w", id.Kind, ErrInvalidArgument)
}

func (s *Storage) QueryKV(ctx context.Context, defaults frame.Row) (int32, error) {
	return s.submit(ctx, KVGet{KV: s.opts.KV, Token: s.opts.Token, Defaults: defaults})
}

func (s *Storage) UpdateKV(ctx context.Context, items frame.Row, merge session.Merge) (int, error) {
	if !merge.Valid() {
		return 0, fmt.Errorf("merge mode %d: %w", merge, ErrInvalidArgument)
	}
	if merge == session.MergeAdd {
		for _, it := range items {
			if !it.Value.Kind.Numeric() {
				return 0, fmt.Errorf("add %q of kind %s: %w", it.Key, it.Value.Kind, session.ErrNotNumeric)
			}
		}
	}
	if s.opts.Dispatcher == nil {
		return 0, ErrChannelClosed
	}
	res, err := s.opts.Dispatcher.Call(ctx, KVUpdate{KV: s.opts.KV, Token: s.opts.Token, Items: items, Merge: merge}, s.opts.IOTimeout)
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (s *Storage) FutureGet(ctx context.Context, handle int32) ([]byte, error) {
	s.mu.Lock()
	p, ok := s.futures[handle]
	delete(s.futures, handle)
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("future %d: %w", handle, ErrEmpty)
	}

	res, err := p.Wait(ctx)
	if err != nil {
		p.Abandon()
		return nil, err
	}
	return res.Encode(), nil
}

func (s *Storage) FutureDrop(handle int32) {
	s.mu.Lock()
	p, ok := s.futures[handle]
	delete(s.futures, handle)
	s.mu.Unlock()
	if ok {
		p.Abandon()
	}
}

// Close abandons every future the guest never consumed.
func (s *Storage) Close() {
	s.mu.Lock()
	pending := s.futures
	s.futures = make(map[int32]*oneshot.Promise[Result])
	s.mu.Unlock()
	for _, p := range pending {
		p.Abandon()
	}
}

// Pending returns the number of unconsumed futures.
func (s *Storage) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.futures)
}

// SelectNodes appends ids to the selected_nodes table. The first call fixes
// the id kind; later calls with another kind append nothing.
func (s *Storage) SelectNodes(ids frame.Vector) int64 {
	if !isIDVector(ids) {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.nodes.Extend(ids); err != nil {
		return 0
	}
	return int64(ids.Len())
}

// SelectEdges appends src -> dst pairs to the selected_edges table. Both
// vectors must have the same kind and length.
func (s *Storage) SelectEdges(src, dst frame.Vector) int64 {
	if !isIDVector(src) || src.Kind != dst.Kind || src.Len() != dst.Len() {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.edges[0].Len() > 0 && s.edges[0].Kind != src.Kind {
		return 0
	}
	_ = s.edges[0].Extend(src)
	_ = s.edges[1].Extend(dst)
	return int64(src.Len())
}

func isIDVector(v frame.Vector) bool {
	return v.Kind == frame.KindInt64 || v.Kind == frame.KindString
}

func (s *Storage) NewTable(name string, defaults frame.Row) (int32, error) {
	b, err := frame.NewBuilder(name, defaults)
	if err != nil {
		return 0, fmt.Errorf("new_table %q: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = append(s.tables, b)
	return int32(len(s.tables) - 1), nil
}

func (s *Storage) table(h int32) (*frame.Builder, error) {
	if h < 0 || int(h) >= len(s.tables) {
		return nil, fmt.Errorf("table %d: %w", h, ErrEmpty)
	}
	return s.tables[h], nil
}

func (s *Storage) PushRow(h int32, row frame.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.table(h)
	if err != nil {
		return err
	}
	if err := b.Push(row); err != nil {
		return fmt.Errorf("push_row %q: %w: %w", b.Name(), ErrInvalidArgument, err)
	}
	return nil
}

func (s *Storage) TableSize(h int32) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.table(h)
	if err != nil {
		return 0, err
	}
	return int64(b.Len()), nil
}

// Tables returns the output tables in creation order, followed by
// selected_nodes and selected_edges when the guest selected anything.
func (s *Storage) Tables() []frame.DataFrame {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]frame.DataFrame, 0, len(s.tables)+2)
	for _, b := range s.tables {
		out = append(out, b.DataFrame())
	}
	if s.nodes.Len() > 0 {
		out = append(out, frame.FromTable(frame.Table{{Key: "id", Vector: s.nodes}}, SelectedNodes))
	}
	if s.edges[0].Len() > 0 {
		out = append(out, frame.FromTable(frame.Table{
			{Key: "src", Vector: s.edges[0]},
			{Key: "dst", Vector: s.edges[1]},
		}, SelectedEdges))
	}
	return out
}

// Log records a guest log line and re-emits it through the worker logger.
// Lines below the minimum level are dropped.
func (s *Storage) Log(level Level, line string) {
	if !s.LogEnabled(level) {
		return
	}
	s.mu.Lock()
	s.logs = append(s.logs, line)
	s.mu.Unlock()

	s.opts.Logger.Log(context.Background(), slogLevel(level), line,
		"source", "guest", "token", s.opts.Token)
	if s.opts.OnLog != nil {
		s.opts.OnLog(level, line)
	}
}

func (s *Storage) LogEnabled(level Level) bool {
	return level >= s.opts.MinLevel && level <= LevelError
}

// Logs returns the captured guest log lines.
func (s *Storage) Logs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.logs...)
}

func slogLevel(l Level) slog.Level {
	switch l {
	case LevelTrace, LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	}
	return slog.LevelInfo
}
