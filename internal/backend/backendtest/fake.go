// Package backendtest provides an in-process graph storage service for tests.
package backendtest

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/seantiz/wart/internal/frame"
	"github.com/seantiz/wart/internal/rpc/wartpb"
)

// Storage is a fake wart.WartStorage service over a small fixed graph of
// players. Every call sleeps for Delay before answering.
type Storage struct {
	mu    sync.Mutex
	Delay time.Duration
	Fail  bool
	calls int

	inFlight    int
	maxInFlight int
	unavailable int
}

// SetUnavailable makes the next n calls fail with codes.Unavailable.
func (s *Storage) SetUnavailable(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = n
}

// SetFail makes every following call fail with codes.Internal.
func (s *Storage) SetFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fail = fail
}

// SetDelay changes the per-call delay.
func (s *Storage) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Delay = d
}

// Calls returns how many requests the fake has served.
func (s *Storage) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// MaxInFlight returns the largest number of requests served at once.
func (s *Storage) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}

func (s *Storage) begin(ctx context.Context) error {
	s.mu.Lock()
	s.calls++
	s.inFlight++
	s.maxInFlight = max(s.maxInFlight, s.inFlight)
	delay, fail := s.Delay, s.Fail
	unavailable := s.unavailable > 0
	if unavailable {
		s.unavailable--
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if unavailable {
		return status.Error(codes.Unavailable, "storage unavailable")
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		}
	}
	if fail {
		return status.Error(codes.Internal, "storage failure")
	}
	return nil
}

var players = []struct {
	id   int64
	name string
	age  int64
}{
	{100, "Tim Duncan", 42},
	{101, "Tony Parker", 36},
	{102, "LaMarcus Aldridge", 33},
}

// follows lists directed edges src -> dst.
var follows = [][2]int64{{100, 101}, {100, 102}, {101, 100}}

func playerFrame(ids []int64, keys []string) frame.DataFrame {
	t := make(frame.Table, 0, len(keys))
	for _, k := range keys {
		t = append(t, frame.Column{Key: k})
	}
	for _, id := range ids {
		for _, p := range players {
			if p.id != id {
				continue
			}
			for i, k := range keys {
				switch k {
				case "name":
					_ = t[i].Vector.Append(frame.String(p.name))
				case "age":
					_ = t[i].Vector.Append(frame.Int64(p.age))
				case "id":
					_ = t[i].Vector.Append(frame.Int64(p.id))
				}
			}
		}
	}
	return frame.FromTable(t, "")
}

func (s *Storage) ChoiceNodes(ctx context.Context, req *wartpb.ChoiceNodesRequest) (*wartpb.DataResponse, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	var ids []int64
	for i, p := range players {
		if int32(i) >= req.Number {
			break
		}
		ids = append(ids, p.id)
	}
	df := frame.DataFrame{
		Headers: []string{"id"},
		Columns: []frame.Series{{Int64Values: &frame.Int64Series{Data: ids}}},
	}
	return &wartpb.DataResponse{Data: &df}, nil
}

func (s *Storage) FetchNode(ctx context.Context, req *wartpb.FetchNodeRequest) (*wartpb.DataResponse, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	if req.NodeID.AsInt == nil {
		return nil, status.Error(codes.InvalidArgument, "string ids are not supported")
	}
	df := playerFrame([]int64{*req.NodeID.AsInt}, req.Keys)
	return &wartpb.DataResponse{Data: &df}, nil
}

func (s *Storage) FetchNeighbors(ctx context.Context, req *wartpb.FetchNeighborsRequest) (*wartpb.DataResponse, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	if req.NodeID.AsInt == nil {
		return nil, status.Error(codes.InvalidArgument, "string ids are not supported")
	}
	var ids []int64
	for _, e := range follows {
		src, dst := e[0], e[1]
		if req.Reversely {
			src, dst = dst, src
		}
		if src == *req.NodeID.AsInt {
			ids = append(ids, dst)
		}
	}
	df := playerFrame(ids, req.Keys)
	return &wartpb.DataResponse{Data: &df}, nil
}

// Serve starts s on an in-memory listener and returns the dial option that
// reaches it together with the target to dial. The server stops when the test
// ends.
func Serve(t testing.TB, s *Storage) (target string, dial grpc.DialOption) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	wartpb.RegisterWartStorageServer(srv, s)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return "passthrough:///graph", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

// ServeTCP starts s on a loopback TCP port and returns its address, for
// tests that run the worker as a separate process.
func ServeTCP(t testing.TB, s *Storage) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer()
	wartpb.RegisterWartStorageServer(srv, s)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}
