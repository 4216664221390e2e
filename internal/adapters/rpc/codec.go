// Package rpc implements the JobServer RPC contract (§6, SPEC_FULL §12)
// over gRPC: a single bidirectional-streaming method carries Envelope
// messages tagged with a ports.Proc, the way rpc_job.cc frames every
// request as one message type rather than one RPC method per verb. There
// is no .proto in this module — messages are plain Go structs, so the
// wire format is a hand-registered gob codec rather than protobuf.
package rpc

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc's encoding package and forced on both
// sides (grpc.ForceCodec on the client, grpc.ForceServerCodec on the
// server), in place of the "proto" codec neither side has generated stubs
// for.
const codecName = "gob"

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// gobCodec implements encoding.Codec by delegating to encoding/gob. It is
// registered once, at package init, and applies to every Envelope this
// package sends or receives.
type gobCodec struct{}

func (gobCodec) Name() string { return codecName }

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("rpc: gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("rpc: gob decode: %w", err)
	}
	return nil
}
