package backend_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/seantiz/wart/internal/backend"
	"github.com/seantiz/wart/internal/backend/backendtest"
	"github.com/seantiz/wart/internal/frame"
)

func newTestClient(t *testing.T, fake *backendtest.Storage, poolSize int) *backend.Client {
	t.Helper()
	target, dial := backendtest.Serve(t, fake)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	c := backend.NewClient("fake", target, poolSize, logger, dial)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientChoiceNodes(t *testing.T) {
	c := newTestClient(t, &backendtest.Storage{}, 2)

	df, err := c.ChoiceNodes(context.Background(), "nebula:nba", "player", 2)
	if err != nil {
		t.Fatalf("ChoiceNodes: %v", err)
	}
	if got := df.Columns[0].Int64Values.Data; !reflect.DeepEqual(got, []int64{100, 101}) {
		t.Errorf("ids = %v, want [100 101]", got)
	}
}

func TestClientFetchNode(t *testing.T) {
	c := newTestClient(t, &backendtest.Storage{}, 2)

	df, err := c.FetchNode(context.Background(), "nba", frame.Int64(100), "player", []string{"name", "age"})
	if err != nil {
		t.Fatalf("FetchNode: %v", err)
	}
	row := df.FirstRow()
	if v, _ := row.Get("name"); v != frame.String("Tim Duncan") {
		t.Errorf("name = %v", v)
	}
	if v, _ := row.Get("age"); v != frame.Int64(42) {
		t.Errorf("age = %v", v)
	}
}

func TestClientFetchNeighborsReversed(t *testing.T) {
	c := newTestClient(t, &backendtest.Storage{}, 2)

	df, err := c.FetchNeighbors(context.Background(), "nba", frame.Int64(100), "follow", []string{"id"}, true)
	if err != nil {
		t.Fatalf("FetchNeighbors: %v", err)
	}
	if got := df.Columns[0].Int64Values.Data; !reflect.DeepEqual(got, []int64{101}) {
		t.Errorf("followers of 100 = %v, want [101]", got)
	}
}

func TestClientBackendErrorFailsOnlyThatCall(t *testing.T) {
	fake := &backendtest.Storage{Fail: true}
	c := newTestClient(t, fake, 1)

	if _, err := c.ChoiceNodes(context.Background(), "nba", "player", 1); err == nil {
		t.Fatal("expected error from failing backend")
	}
	fake.SetFail(false)
	if _, err := c.ChoiceNodes(context.Background(), "nba", "player", 1); err != nil {
		t.Errorf("call after failure: %v", err)
	}
}

func TestClientRetriesOnFreshConnection(t *testing.T) {
	fake := &backendtest.Storage{}
	c := newTestClient(t, fake, 1)
	if _, err := c.ChoiceNodes(context.Background(), "nba", "player", 1); err != nil {
		t.Fatalf("warm up: %v", err)
	}

	fake.SetUnavailable(1)
	if _, err := c.ChoiceNodes(context.Background(), "nba", "player", 1); err != nil {
		t.Fatalf("ChoiceNodes after broken connection: %v", err)
	}
	if got := fake.Calls(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
	if caps := c.Capabilities(); caps.Idle != 1 || caps.InUse != 0 {
		t.Errorf("Capabilities = %+v, want the fresh connection idle", caps)
	}
}

func TestClientRetriesOnlyOnce(t *testing.T) {
	fake := &backendtest.Storage{}
	c := newTestClient(t, fake, 1)

	fake.SetUnavailable(5)
	if _, err := c.ChoiceNodes(context.Background(), "nba", "player", 1); err == nil {
		t.Fatal("expected error from unavailable backend")
	}
	if got := fake.Calls(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestClientHonorsDeadline(t *testing.T) {
	c := newTestClient(t, &backendtest.Storage{Delay: 200 * time.Millisecond}, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.ChoiceNodes(ctx, "nba", "player", 1)
	if err == nil {
		t.Fatal("expected deadline error")
	}
}

func TestPoolBoundsConnections(t *testing.T) {
	target, dial := backendtest.Serve(t, &backendtest.Storage{})
	c := backend.NewClient("fake", target, 1, slog.New(slog.NewJSONHandler(io.Discard, nil)), dial)
	defer c.Close()

	if caps := c.Capabilities(); caps.PoolSize != 1 || caps.InUse != 0 {
		t.Fatalf("Capabilities = %+v", caps)
	}
	if _, err := c.ChoiceNodes(context.Background(), "nba", "player", 1); err != nil {
		t.Fatal(err)
	}
	if caps := c.Capabilities(); caps.Idle != 1 || caps.InUse != 0 {
		t.Errorf("after call Capabilities = %+v, want 1 idle", caps)
	}
}

func TestPoolAcquireWaitsForSlot(t *testing.T) {
	dials := 0
	p := backend.NewPool(1, func() (*grpc.ClientConn, error) {
		dials++
		return grpc.NewClient("passthrough:///unused", grpc.WithTransportCredentials(insecure.NewCredentials()))
	})
	defer p.Close()

	cc, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire on full pool err = %v, want DeadlineExceeded", err)
	}

	p.Release(cc, false)
	again, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if again != cc || dials != 1 {
		t.Errorf("idle connection not reused (dials = %d)", dials)
	}

	p.Release(again, true)
	fresh, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after broken release: %v", err)
	}
	if fresh == cc || dials != 2 {
		t.Errorf("broken connection reused (dials = %d)", dials)
	}
	p.Release(fresh, false)

	p.Close()
	if _, err := p.Acquire(context.Background()); !errors.Is(err, backend.ErrPoolClosed) {
		t.Errorf("Acquire after Close err = %v, want ErrPoolClosed", err)
	}
}
