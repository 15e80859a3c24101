// Package wartpb holds the message types and gRPC service descriptors of the
// worker service (wart.WartWorker) and of the graph storage service it
// consumes (wart.WartStorage). Messages are plain structs carried by a JSON
// codec registered under the "json" content subtype.
package wartpb

import (
	"github.com/bytedance/sonic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype of the JSON codec.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(Codec{})
}

// Codec marshals messages as JSON through sonic.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) { return sonic.Marshal(v) }

func (Codec) Unmarshal(data []byte, v any) error { return sonic.Unmarshal(data, v) }

func (Codec) Name() string { return CodecName }

// withCodec prepends the content subtype selecting the JSON codec.
func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
