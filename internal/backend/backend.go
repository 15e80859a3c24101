package backend

import (
	"context"
	"errors"

	"github.com/seantiz/wart/internal/frame"
)

// ErrUnsupported is returned by graph calls when no graph service is
// configured for a namespace.
var ErrUnsupported = errors.New("graph backend not available")

// Graph is the interface that every graph storage backend must implement.
// Each call carries the session namespace; the context bounds the call by the
// session io timeout.
type Graph interface {
	// ChoiceNodes samples up to n vertices carrying tag.
	ChoiceNodes(ctx context.Context, namespace, tag string, n int32) (frame.DataFrame, error)

	// FetchNode reads the properties keys of the vertex id under tag. The
	// result holds at most one row.
	FetchNode(ctx context.Context, namespace string, id frame.Value, tag string, keys []string) (frame.DataFrame, error)

	// FetchNeighbors reads the properties keys of every vertex adjacent to id
	// along edges of type tag, following incoming edges when reversed is set.
	FetchNeighbors(ctx context.Context, namespace string, id frame.Value, tag string, keys []string, reversed bool) (frame.DataFrame, error)

	// Capabilities describes the backend for the ops surface.
	Capabilities() Capabilities
}

// Capabilities describes a graph backend.
type Capabilities struct {
	Name     string `json:"name"`
	Addr     string `json:"addr,omitempty"`
	PoolSize int    `json:"pool_size"`
	InUse    int    `json:"in_use"`
	Idle     int    `json:"idle"`
}

// Offline is a Graph that rejects every call with ErrUnsupported. It serves
// namespaces whose scheme has no registered backend.
type Offline struct{}

var _ Graph = Offline{}

func (Offline) ChoiceNodes(context.Context, string, string, int32) (frame.DataFrame, error) {
	return frame.DataFrame{}, ErrUnsupported
}

func (Offline) FetchNode(context.Context, string, frame.Value, string, []string) (frame.DataFrame, error) {
	return frame.DataFrame{}, ErrUnsupported
}

func (Offline) FetchNeighbors(context.Context, string, frame.Value, string, []string, bool) (frame.DataFrame, error) {
	return frame.DataFrame{}, ErrUnsupported
}

func (Offline) Capabilities() Capabilities {
	return Capabilities{Name: "offline"}
}
