// Package wire defines the RPC surface of both services: message types, the
// service descriptors, and thin client stubs. Messages travel as JSON through
// a codec registered with the gRPC encoding registry; clients select it via
// the call content-subtype, so the full gRPC transport (interceptors,
// keep-alive, retry policy, deadlines) applies unchanged.
package wire

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype both sides agree on.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

// CallOption returns the per-call option selecting the JSON codec. Dial with
// grpc.WithDefaultCallOptions(wire.CallOption()) so every call uses it.
func CallOption() grpc.CallOption {
	return grpc.CallContentSubtype(CodecName)
}
