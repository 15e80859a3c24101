package bridge

import (
	"context"

	"github.com/seantiz/wart/internal/backend"
	"github.com/seantiz/wart/internal/frame"
	"github.com/seantiz/wart/internal/session"
)

// KV is the versioned key-value store of a session.
type KV interface {
	QueryKV(ctx context.Context, token string, defaults frame.Row) (frame.Row, error)
	UpdateKV(ctx context.Context, token string, items frame.Row, merge session.Merge) (int, error)
}

var _ KV = (*session.Store)(nil)

// Result is the resolved value of a query. Exactly one shape is meaningful,
// chosen by the request that produced it.
type Result struct {
	shape shape
	Row   frame.Row
	Table frame.Table
	Count int
}

type shape uint8

const (
	shapeCount shape = iota
	shapeRow
	shapeTable
)

func rowResult(r frame.Row) Result     { return Result{shape: shapeRow, Row: r} }
func tableResult(t frame.Table) Result { return Result{shape: shapeTable, Table: t} }

// Encode renders the result in the guest binary layout.
func (r Result) Encode() []byte {
	switch r.shape {
	case shapeRow:
		return frame.EncodeRow(r.Row)
	case shapeTable:
		return frame.EncodeTable(r.Table)
	}
	return frame.EncodeValue(frame.Int64(int64(r.Count)))
}

// QueryRequest is one asynchronous backend call. The set of requests is
// closed: ChoiceNodes, FetchNode, FetchNeighbors, KVGet and KVUpdate.
type QueryRequest interface {
	// Op names the request for logs and metrics.
	Op() string
	execute(ctx context.Context) (Result, error)
}

// ChoiceNodes samples vertices carrying a tag.
type ChoiceNodes struct {
	Graph     backend.Graph
	Namespace string
	Tag       string
	Number    int32
}

func (ChoiceNodes) Op() string { return "choice_nodes" }

func (r ChoiceNodes) execute(ctx context.Context) (Result, error) {
	df, err := r.Graph.ChoiceNodes(ctx, r.Namespace, r.Tag, r.Number)
	if err != nil {
		return Result{}, &BackendError{Op: r.Op(), Err: err}
	}
	return tableResult(df.Table()), nil
}

// FetchNode reads one vertex. The result is its first row, every key Nil
// when the vertex does not exist.
type FetchNode struct {
	Graph     backend.Graph
	Namespace string
	ID        frame.Value
	Tag       string
	Keys      []string
}

func (FetchNode) Op() string { return "query_node" }

func (r FetchNode) execute(ctx context.Context) (Result, error) {
	df, err := r.Graph.FetchNode(ctx, r.Namespace, r.ID, r.Tag, r.Keys)
	if err != nil {
		return Result{}, &BackendError{Op: r.Op(), Err: err}
	}
	if len(df.Headers) == 0 {
		row := make(frame.Row, len(r.Keys))
		for i, k := range r.Keys {
			row[i] = frame.Item{Key: k}
		}
		return rowResult(row), nil
	}
	return rowResult(df.FirstRow()), nil
}

// FetchNeighbors reads the vertices adjacent to one vertex.
type FetchNeighbors struct {
	Graph     backend.Graph
	Namespace string
	ID        frame.Value
	Tag       string
	Keys      []string
	Reversed  bool
}

func (FetchNeighbors) Op() string { return "query_neighbors" }

func (r FetchNeighbors) execute(ctx context.Context) (Result, error) {
	df, err := r.Graph.FetchNeighbors(ctx, r.Namespace, r.ID, r.Tag, r.Keys, r.Reversed)
	if err != nil {
		return Result{}, &BackendError{Op: r.Op(), Err: err}
	}
	return tableResult(df.Table()), nil
}

// KVGet reads keys at the session's current epoch.
type KVGet struct {
	KV       KV
	Token    string
	Defaults frame.Row
}

func (KVGet) Op() string { return "query_kv" }

func (r KVGet) execute(ctx context.Context) (Result, error) {
	row, err := r.KV.QueryKV(ctx, r.Token, r.Defaults)
	if err != nil {
		return Result{}, &BackendError{Op: r.Op(), Err: err}
	}
	return rowResult(row), nil
}

// KVUpdate stages writes for the session's next epoch.
type KVUpdate struct {
	KV    KV
	Token string
	Items frame.Row
	Merge session.Merge
}

func (KVUpdate) Op() string { return "update_kv" }

func (r KVUpdate) execute(ctx context.Context) (Result, error) {
	n, err := r.KV.UpdateKV(ctx, r.Token, r.Items, r.Merge)
	if err != nil {
		return Result{}, &BackendError{Op: r.Op(), Err: err}
	}
	return Result{shape: shapeCount, Count: n}, nil
}
