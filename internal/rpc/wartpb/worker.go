package wartpb

import (
	"context"

	"google.golang.org/grpc"

	"github.com/seantiz/wart/internal/frame"
)

// OpenSessionRequest uploads a guest program. Timeouts are in milliseconds.
type OpenSessionRequest struct {
	Program          []byte `json:"program"`
	Namespace        string `json:"namespace"`
	IOTimeout        uint64 `json:"io_timeout"`
	ExecutionTimeout uint64 `json:"execution_timeout"`
	Parallelism      uint32 `json:"parallelism"`
}

type OpenSessionResponse struct {
	Token string `json:"token"`
}

type CloseSessionRequest struct {
	Token string `json:"token"`
}

type CloseSessionResponse struct{}

type IncrementEpochRequest struct {
	Token string `json:"token"`
}

type IncrementEpochResponse struct {
	Epoch uint64 `json:"epoch"`
}

// StreamingRunRequest carries exactly one of Config or Args. The first
// message of a stream must be Config.
type StreamingRunRequest struct {
	Config *RunConfig `json:"config,omitempty"`
	Args   *RunArgs   `json:"args,omitempty"`
}

type RunConfig struct {
	Token string `json:"token"`
}

type RunArgs struct {
	Args []string `json:"args"`
}

// StreamingRunResponse is the result of one Args request. TimeUsed is in
// microseconds.
type StreamingRunResponse struct {
	Tables    []frame.DataFrame `json:"tables"`
	Logs      []string          `json:"logs,omitempty"`
	TimeUsed  uint64            `json:"time_used"`
	LastError string            `json:"last_error,omitempty"`
}

// UpdateStoreRequest stages key-value writes for a session. Vals is ignored
// for the del merge type.
type UpdateStoreRequest struct {
	Token     string       `json:"token"`
	Keys      []string     `json:"keys"`
	Vals      frame.Series `json:"vals"`
	MergeType int32        `json:"merge_type"`
}

type UpdateStoreResponse struct {
	OkCount uint32 `json:"ok_count"`
}

const (
	WartWorker_OpenSession_FullMethodName    = "/wart.WartWorker/OpenSession"
	WartWorker_CloseSession_FullMethodName   = "/wart.WartWorker/CloseSession"
	WartWorker_IncrementEpoch_FullMethodName = "/wart.WartWorker/IncrementEpoch"
	WartWorker_StreamingRun_FullMethodName   = "/wart.WartWorker/StreamingRun"
	WartWorker_UpdateStore_FullMethodName    = "/wart.WartWorker/UpdateStore"
)

// WartWorkerServer is the server API for the worker service.
type WartWorkerServer interface {
	OpenSession(context.Context, *OpenSessionRequest) (*OpenSessionResponse, error)
	CloseSession(context.Context, *CloseSessionRequest) (*CloseSessionResponse, error)
	IncrementEpoch(context.Context, *IncrementEpochRequest) (*IncrementEpochResponse, error)
	StreamingRun(grpc.BidiStreamingServer[StreamingRunRequest, StreamingRunResponse]) error
	UpdateStore(grpc.BidiStreamingServer[UpdateStoreRequest, UpdateStoreResponse]) error
}

// RegisterWartWorkerServer registers srv on s.
func RegisterWartWorkerServer(s grpc.ServiceRegistrar, srv WartWorkerServer) {
	s.RegisterService(&WartWorker_ServiceDesc, srv)
}

func _WartWorker_OpenSession_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(OpenSessionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WartWorkerServer).OpenSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WartWorker_OpenSession_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WartWorkerServer).OpenSession(ctx, req.(*OpenSessionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WartWorker_CloseSession_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CloseSessionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WartWorkerServer).CloseSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WartWorker_CloseSession_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WartWorkerServer).CloseSession(ctx, req.(*CloseSessionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WartWorker_IncrementEpoch_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(IncrementEpochRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WartWorkerServer).IncrementEpoch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WartWorker_IncrementEpoch_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WartWorkerServer).IncrementEpoch(ctx, req.(*IncrementEpochRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WartWorker_StreamingRun_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(WartWorkerServer).StreamingRun(&grpc.GenericServerStream[StreamingRunRequest, StreamingRunResponse]{ServerStream: stream})
}

func _WartWorker_UpdateStore_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(WartWorkerServer).UpdateStore(&grpc.GenericServerStream[UpdateStoreRequest, UpdateStoreResponse]{ServerStream: stream})
}

// WartWorker_ServiceDesc is the grpc.ServiceDesc for the worker service.
var WartWorker_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "wart.WartWorker",
	HandlerType: (*WartWorkerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "OpenSession", Handler: _WartWorker_OpenSession_Handler},
		{MethodName: "CloseSession", Handler: _WartWorker_CloseSession_Handler},
		{MethodName: "IncrementEpoch", Handler: _WartWorker_IncrementEpoch_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamingRun", Handler: _WartWorker_StreamingRun_Handler, ServerStreams: true, ClientStreams: true},
		{StreamName: "UpdateStore", Handler: _WartWorker_UpdateStore_Handler, ServerStreams: true, ClientStreams: true},
	},
	Metadata: "wart/worker",
}

// WartWorkerClient is the client API for the worker service.
type WartWorkerClient interface {
	OpenSession(ctx context.Context, in *OpenSessionRequest, opts ...grpc.CallOption) (*OpenSessionResponse, error)
	CloseSession(ctx context.Context, in *CloseSessionRequest, opts ...grpc.CallOption) (*CloseSessionResponse, error)
	IncrementEpoch(ctx context.Context, in *IncrementEpochRequest, opts ...grpc.CallOption) (*IncrementEpochResponse, error)
	StreamingRun(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[StreamingRunRequest, StreamingRunResponse], error)
	UpdateStore(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[UpdateStoreRequest, UpdateStoreResponse], error)
}

type wartWorkerClient struct {
	cc grpc.ClientConnInterface
}

// NewWartWorkerClient returns a worker client using the JSON codec.
func NewWartWorkerClient(cc grpc.ClientConnInterface) WartWorkerClient {
	return &wartWorkerClient{cc}
}

func (c *wartWorkerClient) OpenSession(ctx context.Context, in *OpenSessionRequest, opts ...grpc.CallOption) (*OpenSessionResponse, error) {
	out := new(OpenSessionResponse)
	if err := c.cc.Invoke(ctx, WartWorker_OpenSession_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *wartWorkerClient) CloseSession(ctx context.Context, in *CloseSessionRequest, opts ...grpc.CallOption) (*CloseSessionResponse, error) {
	out := new(CloseSessionResponse)
	if err := c.cc.Invoke(ctx, WartWorker_CloseSession_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *wartWorkerClient) IncrementEpoch(ctx context.Context, in *IncrementEpochRequest, opts ...grpc.CallOption) (*IncrementEpochResponse, error) {
	out := new(IncrementEpochResponse)
	if err := c.cc.Invoke(ctx, WartWorker_IncrementEpoch_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *wartWorkerClient) StreamingRun(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[StreamingRunRequest, StreamingRunResponse], error) {
	stream, err := c.cc.NewStream(ctx, &WartWorker_ServiceDesc.Streams[0], WartWorker_StreamingRun_FullMethodName, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[StreamingRunRequest, StreamingRunResponse]{ClientStream: stream}, nil
}

func (c *wartWorkerClient) UpdateStore(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[UpdateStoreRequest, UpdateStoreResponse], error) {
	stream, err := c.cc.NewStream(ctx, &WartWorker_ServiceDesc.Streams[1], WartWorker_UpdateStore_FullMethodName, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[UpdateStoreRequest, UpdateStoreResponse]{ClientStream: stream}, nil
}
