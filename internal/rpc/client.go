package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/seantiz/wart/internal/rpc/wartpb"
)

// Client is a connection to a worker.
type Client struct {
	wartpb.WartWorkerClient
	conn *grpc.ClientConn
}

// Dial connects to the worker at addr. Extra options are appended to the
// insecure, traced defaults.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial worker %s: %w", addr, err)
	}
	return &Client{WartWorkerClient: wartpb.NewWartWorkerClient(conn), conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Run executes one request per argument list over a single streaming run
// and returns the responses in arrival order.
func (c *Client) Run(ctx context.Context, token string, requests [][]string) ([]*wartpb.StreamingRunResponse, error) {
	stream, err := c.StreamingRun(ctx)
	if err != nil {
		return nil, err
	}

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- sendAll(stream, token, requests)
	}()

	var out []*wartpb.StreamingRunResponse
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, resp)
	}
	if err := <-sendErr; err != nil && !errors.Is(err, io.EOF) {
		return out, err
	}
	return out, nil
}

func sendAll(stream grpc.BidiStreamingClient[wartpb.StreamingRunRequest, wartpb.StreamingRunResponse], token string, requests [][]string) error {
	if err := stream.Send(&wartpb.StreamingRunRequest{Config: &wartpb.RunConfig{Token: token}}); err != nil {
		return err
	}
	for _, args := range requests {
		if err := stream.Send(&wartpb.StreamingRunRequest{Args: &wartpb.RunArgs{Args: args}}); err != nil {
			return err
		}
	}
	return stream.CloseSend()
}
