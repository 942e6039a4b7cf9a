package bus

import (
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype of the bridge service.
const CodecName = "msgpack"

// msgpackCodec lets the bridge carry plain Go structs over gRPC without
// generated protobuf stubs.
type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }
func (msgpackCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(msgpackCodec{})
}
