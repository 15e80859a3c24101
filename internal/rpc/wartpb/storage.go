package wartpb

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/seantiz/wart/internal/frame"
)

// NodeID identifies a graph vertex by integer or string id. Exactly one
// field is set.
type NodeID struct {
	AsInt *int64  `json:"as_int,omitempty"`
	AsStr *string `json:"as_str,omitempty"`
}

// NodeIDOf converts an int64 or string value into a NodeID.
func NodeIDOf(v frame.Value) (NodeID, error) {
	switch v.Kind {
	case frame.KindInt64:
		id := v.I64
		return NodeID{AsInt: &id}, nil
	case frame.KindInt32:
		id := int64(v.I32)
		return NodeID{AsInt: &id}, nil
	case frame.KindString:
		id := v.S
		return NodeID{AsStr: &id}, nil
	}
	return NodeID{}, fmt.Errorf("node id of kind %s", v.Kind)
}

func (id NodeID) String() string {
	switch {
	case id.AsInt != nil:
		return fmt.Sprint(*id.AsInt)
	case id.AsStr != nil:
		return *id.AsStr
	}
	return "<none>"
}

type ChoiceNodesRequest struct {
	Namespace string `json:"namespace"`
	Tag       string `json:"tag"`
	Number    int32  `json:"number"`
}

type FetchNodeRequest struct {
	Namespace string   `json:"namespace"`
	NodeID    NodeID   `json:"node_id"`
	Tag       string   `json:"tag"`
	Keys      []string `json:"keys"`
}

type FetchNeighborsRequest struct {
	Namespace string   `json:"namespace"`
	NodeID    NodeID   `json:"node_id"`
	Tag       string   `json:"tag"`
	Keys      []string `json:"keys"`
	Reversely bool     `json:"reversely"`
}

// DataResponse is returned by every storage call.
type DataResponse struct {
	Data *frame.DataFrame `json:"data,omitempty"`
}

const (
	WartStorage_ChoiceNodes_FullMethodName    = "/wart.WartStorage/ChoiceNodes"
	WartStorage_FetchNode_FullMethodName      = "/wart.WartStorage/FetchNode"
	WartStorage_FetchNeighbors_FullMethodName = "/wart.WartStorage/FetchNeighbors"
)

// WartStorageServer is the server API of the graph storage service.
type WartStorageServer interface {
	ChoiceNodes(context.Context, *ChoiceNodesRequest) (*DataResponse, error)
	FetchNode(context.Context, *FetchNodeRequest) (*DataResponse, error)
	FetchNeighbors(context.Context, *FetchNeighborsRequest) (*DataResponse, error)
}

// RegisterWartStorageServer registers srv on s.
func RegisterWartStorageServer(s grpc.ServiceRegistrar, srv WartStorageServer) {
	s.RegisterService(&WartStorage_ServiceDesc, srv)
}

func _WartStorage_ChoiceNodes_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ChoiceNodesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WartStorageServer).ChoiceNodes(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WartStorage_ChoiceNodes_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WartStorageServer).ChoiceNodes(ctx, req.(*ChoiceNodesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WartStorage_FetchNode_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(FetchNodeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WartStorageServer).FetchNode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WartStorage_FetchNode_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WartStorageServer).FetchNode(ctx, req.(*FetchNodeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _WartStorage_FetchNeighbors_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(FetchNeighborsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WartStorageServer).FetchNeighbors(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WartStorage_FetchNeighbors_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WartStorageServer).FetchNeighbors(ctx, req.(*FetchNeighborsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// WartStorage_ServiceDesc is the grpc.ServiceDesc for the storage service.
var WartStorage_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "wart.WartStorage",
	HandlerType: (*WartStorageServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ChoiceNodes", Handler: _WartStorage_ChoiceNodes_Handler},
		{MethodName: "FetchNode", Handler: _WartStorage_FetchNode_Handler},
		{MethodName: "FetchNeighbors", Handler: _WartStorage_FetchNeighbors_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "wart/storage",
}

// WartStorageClient is the client API of the graph storage service.
type WartStorageClient interface {
	ChoiceNodes(ctx context.Context, in *ChoiceNodesRequest, opts ...grpc.CallOption) (*DataResponse, error)
	FetchNode(ctx context.Context, in *FetchNodeRequest, opts ...grpc.CallOption) (*DataResponse, error)
	FetchNeighbors(ctx context.Context, in *FetchNeighborsRequest, opts ...grpc.CallOption) (*DataResponse, error)
}

type wartStorageClient struct {
	cc grpc.ClientConnInterface
}

// NewWartStorageClient returns a storage client using the JSON codec.
func NewWartStorageClient(cc grpc.ClientConnInterface) WartStorageClient {
	return &wartStorageClient{cc}
}

func (c *wartStorageClient) ChoiceNodes(ctx context.Context, in *ChoiceNodesRequest, opts ...grpc.CallOption) (*DataResponse, error) {
	out := new(DataResponse)
	if err := c.cc.Invoke(ctx, WartStorage_ChoiceNodes_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *wartStorageClient) FetchNode(ctx context.Context, in *FetchNodeRequest, opts ...grpc.CallOption) (*DataResponse, error) {
	out := new(DataResponse)
	if err := c.cc.Invoke(ctx, WartStorage_FetchNode_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *wartStorageClient) FetchNeighbors(ctx context.Context, in *FetchNeighborsRequest, opts ...grpc.CallOption) (*DataResponse, error) {
	out := new(DataResponse)
	if err := c.cc.Invoke(ctx, WartStorage_FetchNeighbors_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}
