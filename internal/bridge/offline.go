package bridge

import (
	"context"

	"github.com/seantiz/wart/internal/frame"
)

// Offline is the Imports of a session whose namespace has no graph backend.
// Key-value access, tables and logging behave as in Storage; graph calls fail
// immediately with ErrUnsupported instead of occupying a dispatcher worker.
type Offline struct {
	*Storage
}

var _ Imports = Offline{}

// NewOffline creates the offline Imports for one run.
func NewOffline(opts Options) Offline {
	opts.Graph = nil
	return Offline{Storage: NewStorage(opts)}
}

func (Offline) ChoiceNodes(context.Context, string, int32) (int32, error) {
	return 0, ErrUnsupported
}

func (Offline) QueryNode(context.Context, frame.Value, string, []string) (int32, error) {
	return 0, ErrUnsupported
}

func (Offline) QueryNeighbors(context.Context, frame.Value, string, []string, bool) (int32, error) {
	return 0, ErrUnsupported
}
