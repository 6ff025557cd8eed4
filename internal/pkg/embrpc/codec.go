// Package embrpc holds the pieces every emberql gRPC service shares: a
// codec and a standard interceptor chain. The control plane, data plane
// and client dispatcher protocols (spec.md §6) are plain Go structs, not
// protoc-generated messages — there is no protoc invocation in this build,
// so each service registers its grpc.ServiceDesc by hand (the same shape
// protoc-gen-go-grpc would emit) and rides gRPC's content-subtype codec
// negotiation with a gob codec instead of the default "proto" codec. See
// DESIGN.md for why this was chosen over hand-maintained .pb.go stubs.
package embrpc

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const CodecName = "gob"

type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// DialOption is the call option every client in this codebase dials with
// so its RPCs negotiate the gob codec instead of protobuf.
func DialOption() grpc.DialOption {
	return grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName))
}
