package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/seantiz/wart/internal/frame"
	"github.com/seantiz/wart/internal/rpc/wartpb"
)

// maxRetries is how many times a call is repeated after its connection broke.
const maxRetries = 1

// Client is a Graph backed by the wart.WartStorage gRPC service.
type Client struct {
	name   string
	addr   string
	pool   *Pool
	logger *slog.Logger
}

var _ Graph = (*Client)(nil)

// DefaultDialOptions returns the dial options used for the graph service.
func DefaultDialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// NewClient creates a client for the graph service at addr holding at most
// poolSize connections. Extra dial options are appended to the defaults.
func NewClient(name, addr string, poolSize int, logger *slog.Logger, opts ...grpc.DialOption) *Client {
	dialOpts := append(DefaultDialOptions(), opts...)
	return &Client{
		name:   name,
		addr:   addr,
		logger: logger,
		pool: NewPool(poolSize, func() (*grpc.ClientConn, error) {
			return grpc.NewClient(addr, dialOpts...)
		}),
	}
}

// Close releases the client's idle connections.
func (c *Client) Close() error {
	return c.pool.Close()
}

func (c *Client) Capabilities() Capabilities {
	size, inUse, idle := c.pool.Stats()
	return Capabilities{
		Name:     c.name,
		Addr:     c.addr,
		PoolSize: size,
		InUse:    inUse,
		Idle:     idle,
	}
}

func (c *Client) ChoiceNodes(ctx context.Context, namespace, tag string, n int32) (frame.DataFrame, error) {
	return c.call(ctx, "ChoiceNodes", func(sc wartpb.WartStorageClient) (*wartpb.DataResponse, error) {
		return sc.ChoiceNodes(ctx, &wartpb.ChoiceNodesRequest{Namespace: namespace, Tag: tag, Number: n})
	})
}

func (c *Client) FetchNode(ctx context.Context, namespace string, id frame.Value, tag string, keys []string) (frame.DataFrame, error) {
	nid, err := wartpb.NodeIDOf(id)
	if err != nil {
		return frame.DataFrame{}, err
	}
	return c.call(ctx, "FetchNode", func(sc wartpb.WartStorageClient) (*wartpb.DataResponse, error) {
		return sc.FetchNode(ctx, &wartpb.FetchNodeRequest{Namespace: namespace, NodeID: nid, Tag: tag, Keys: keys})
	})
}

func (c *Client) FetchNeighbors(ctx context.Context, namespace string, id frame.Value, tag string, keys []string, reversed bool) (frame.DataFrame, error) {
	nid, err := wartpb.NodeIDOf(id)
	if err != nil {
		return frame.DataFrame{}, err
	}
	return c.call(ctx, "FetchNeighbors", func(sc wartpb.WartStorageClient) (*wartpb.DataResponse, error) {
		return sc.FetchNeighbors(ctx, &wartpb.FetchNeighborsRequest{
			Namespace: namespace, NodeID: nid, Tag: tag, Keys: keys, Reversely: reversed,
		})
	})
}

// call runs fn on a pooled connection. A call that fails because its
// connection broke is retried once on a freshly dialed one.
func (c *Client) call(ctx context.Context, method string, fn func(wartpb.WartStorageClient) (*wartpb.DataResponse, error)) (frame.DataFrame, error) {
	start := time.Now()
	var resp *wartpb.DataResponse
	for attempt := 0; attempt <= maxRetries; attempt++ {
		cc, err := c.pool.Acquire(ctx)
		if err != nil {
			graphCallsTotal.WithLabelValues(method, outcomeError).Inc()
			return frame.DataFrame{}, err
		}
		resp, err = fn(wartpb.NewWartStorageClient(cc))
		broken := isBroken(err)
		c.pool.Release(cc, broken)
		if err == nil {
			break
		}
		if !broken || attempt == maxRetries || ctx.Err() != nil {
			graphCallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
			graphCallsTotal.WithLabelValues(method, outcomeError).Inc()
			c.logger.Debug("graph call failed", "method", method, "addr", c.addr, "error", err)
			return frame.DataFrame{}, fmt.Errorf("%s: %w", method, err)
		}
		c.logger.Debug("graph connection broken, retrying", "method", method, "addr", c.addr, "error", err)
	}
	graphCallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	graphCallsTotal.WithLabelValues(method, outcomeOK).Inc()
	if resp.Data == nil {
		return frame.DataFrame{}, nil
	}
	return *resp.Data, nil
}

// isBroken reports whether err means the connection itself is unusable.
func isBroken(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return status.Code(err) == codes.Unavailable
}
