package eyed

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec implements encoding.Codec, standing in for the protobuf wire
// codec a real protoc-gen-go-grpc build would register automatically.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return CodecName }

// CodecName is the content-subtype clients and servers must agree on.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
