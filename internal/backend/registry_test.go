package backend_test

import (
	"context"
	"errors"
	"testing"

	"github.com/seantiz/wart/internal/backend"
	"github.com/seantiz/wart/internal/frame"
)

// stubGraph is a minimal Graph for registry tests.
type stubGraph struct {
	backend.Offline
	name string
}

func (s *stubGraph) Capabilities() backend.Capabilities {
	return backend.Capabilities{Name: s.name, PoolSize: 8}
}

func TestRegistryRegisterAndList(t *testing.T) {
	reg := backend.NewRegistry("nebula")
	reg.Register("nebula", &stubGraph{name: "nebula-graphd"})
	reg.Register("janus", &stubGraph{name: "janus-server"})

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d backends, want 2", len(list))
	}
	if list[0].Scheme != "janus" || list[1].Scheme != "nebula" {
		t.Errorf("List() order = %s, %s, want janus, nebula", list[0].Scheme, list[1].Scheme)
	}
	if list[1].Capabilities.Name != "nebula-graphd" {
		t.Errorf("nebula capabilities name = %q", list[1].Capabilities.Name)
	}
}

func TestRegistryResolve(t *testing.T) {
	reg := backend.NewRegistry("nebula")
	reg.Register("nebula", &stubGraph{name: "nebula-graphd"})

	tests := []struct {
		namespace string
		wantOK    bool
		wantName  string
	}{
		{"nebula:nba", true, "nebula-graphd"},
		{"nba", true, "nebula-graphd"},
		{"janus:social", false, "offline"},
	}
	for _, tc := range tests {
		g, ok := reg.Resolve(tc.namespace)
		if ok != tc.wantOK {
			t.Errorf("Resolve(%q) ok = %v, want %v", tc.namespace, ok, tc.wantOK)
		}
		if g.Capabilities().Name != tc.wantName {
			t.Errorf("Resolve(%q) = %q, want %q", tc.namespace, g.Capabilities().Name, tc.wantName)
		}
	}
}

func TestOfflineRejectsGraphCalls(t *testing.T) {
	var g backend.Graph = backend.Offline{}
	ctx := context.Background()

	if _, err := g.ChoiceNodes(ctx, "x", "player", 1); !errors.Is(err, backend.ErrUnsupported) {
		t.Errorf("ChoiceNodes err = %v, want ErrUnsupported", err)
	}
	if _, err := g.FetchNode(ctx, "x", frame.Int64(1), "player", nil); !errors.Is(err, backend.ErrUnsupported) {
		t.Errorf("FetchNode err = %v, want ErrUnsupported", err)
	}
	if _, err := g.FetchNeighbors(ctx, "x", frame.Int64(1), "follow", nil, true); !errors.Is(err, backend.ErrUnsupported) {
		t.Errorf("FetchNeighbors err = %v, want ErrUnsupported", err)
	}
}
