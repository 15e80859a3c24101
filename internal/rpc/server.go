// Package rpc serves the worker gRPC API on top of the execution engine.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/seantiz/wart/internal/engine"
	"github.com/seantiz/wart/internal/rpc/wartpb"
	"github.com/seantiz/wart/internal/sandbox"
	"github.com/seantiz/wart/internal/session"
)

// Server hosts the WartWorker service and the gRPC health service.
type Server struct {
	engine *engine.Engine
	logger *slog.Logger

	grpcServer *grpc.Server
	health     *health.Server
}

// NewServer creates a gRPC server bound to eng. It does not listen until
// Serve is called.
func NewServer(eng *engine.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:     eng,
		logger:     logger,
		grpcServer: grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler())),
		health:     health.NewServer(),
	}
	wartpb.RegisterWartWorkerServer(s.grpcServer, s)
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(wartpb.WartWorker_ServiceDesc.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	return s
}

// Serve accepts connections on lis until ctx is canceled, then stops
// gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.logger.Info("rpc server listening", "addr", lis.Addr().String())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

// Stop closes all connections immediately.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.Stop()
}

func (s *Server) OpenSession(ctx context.Context, req *wartpb.OpenSessionRequest) (*wartpb.OpenSessionResponse, error) {
	if len(req.Program) == 0 {
		return nil, status.Error(codes.InvalidArgument, "program is required")
	}
	sess, err := s.engine.OpenSession(ctx, session.Params{
		Namespace:        req.Namespace,
		Module:           req.Program,
		IOTimeout:        time.Duration(req.IOTimeout) * time.Millisecond,
		ExecutionTimeout: time.Duration(req.ExecutionTimeout) * time.Millisecond,
		Parallelism:      req.Parallelism,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &wartpb.OpenSessionResponse{Token: sess.Token}, nil
}

func (s *Server) CloseSession(ctx context.Context, req *wartpb.CloseSessionRequest) (*wartpb.CloseSessionResponse, error) {
	if err := s.engine.CloseSession(ctx, req.Token); err != nil {
		return nil, toStatus(err)
	}
	return &wartpb.CloseSessionResponse{}, nil
}

func (s *Server) IncrementEpoch(ctx context.Context, req *wartpb.IncrementEpochRequest) (*wartpb.IncrementEpochResponse, error) {
	epoch, err := s.engine.IncrementEpoch(ctx, req.Token)
	if err != nil {
		return nil, toStatus(err)
	}
	return &wartpb.IncrementEpochResponse{Epoch: epoch}, nil
}

// StreamingRun expects a config message first and then any number of args
// messages. Responses are sent in completion order.
func (s *Server) StreamingRun(stream grpc.BidiStreamingServer[wartpb.StreamingRunRequest, wartpb.StreamingRunResponse]) error {
	first, err := stream.Recv()
	if errors.Is(err, io.EOF) {
		return toStatus(&engine.ProtocolError{Msg: "stream ended before config"})
	}
	if err != nil {
		return err
	}
	if first.Config == nil {
		return toStatus(&engine.ProtocolError{Msg: "first message must be config"})
	}

	st := s.engine.NewStream(stream.Context())
	if err := st.Configure(first.Config.Token); err != nil {
		st.Drain()
		return toStatus(err)
	}

	sent := make(chan struct{})
	go func() {
		defer close(sent)
		for resp := range st.Results() {
			if err := stream.Send(toResponse(resp)); err != nil {
				st.Abort(fmt.Errorf("%w: %v", engine.ErrDisconnected, err))
			}
		}
	}()

	recvErr := make(chan error, 1)
	go func() {
		recvErr <- receive(stream, st)
	}()

	var runErr error
	select {
	case runErr = <-recvErr:
	case <-st.Done():
		runErr = st.Err()
		if runErr == nil {
			runErr = engine.ErrDisconnected
		}
	}
	st.Drain()
	<-sent

	if err := st.Err(); err != nil {
		runErr = err
	}
	if runErr != nil {
		s.logger.Debug("streaming run ended", "token", first.Config.Token, "error", runErr)
		return toStatus(runErr)
	}
	return nil
}

// receive submits args messages until the client half-closes.
func receive(stream grpc.BidiStreamingServer[wartpb.StreamingRunRequest, wartpb.StreamingRunResponse], st *engine.Stream) error {
	for {
		req, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			st.Abort(engine.ErrDisconnected)
			return engine.ErrDisconnected
		}
		if req.Config != nil {
			err = st.Configure(req.Config.Token)
		} else if req.Args == nil {
			err = &engine.ProtocolError{Msg: "empty request"}
		} else {
			err = st.Submit(req.Args.Args)
		}
		if err != nil {
			st.Abort(err)
			return err
		}
	}
}

func toResponse(r engine.Response) *wartpb.StreamingRunResponse {
	return &wartpb.StreamingRunResponse{
		Tables:    r.Tables,
		Logs:      r.Logs,
		TimeUsed:  uint64(r.TimeUsed.Microseconds()),
		LastError: r.LastError,
	}
}

// UpdateStore answers each request with the number of keys written.
func (s *Server) UpdateStore(stream grpc.BidiStreamingServer[wartpb.UpdateStoreRequest, wartpb.UpdateStoreResponse]) error {
	ctx := stream.Context()
	for {
		req, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		n, err := s.engine.UpdateStore(ctx, req.Token, req.Keys, req.Vals, req.MergeType)
		if err != nil {
			return toStatus(err)
		}
		if err := stream.Send(&wartpb.UpdateStoreResponse{OkCount: uint32(n)}); err != nil {
			return err
		}
	}
}

// toStatus maps engine errors to gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var (
		perr *engine.ProtocolError
		cerr *sandbox.CompileError
		ierr *sandbox.InstantiateError
	)
	switch {
	case errors.As(err, &perr), errors.As(err, &cerr), errors.As(err, &ierr),
		errors.Is(err, session.ErrNotNumeric):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, session.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, engine.ErrExecutionTimeout),
		errors.Is(err, engine.ErrDisconnected),
		errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Aborted, err.Error())
}
