package rpc

import (
	"go.forgemake.dev/forgemake/internal/core/domain"
	"go.forgemake.dev/forgemake/internal/core/ports"
)

// kind separates a request envelope from its matching reply on the same
// stream, since both directions share one Envelope type and one Proc set.
type kind uint8

const (
	kindRequest kind = iota
	kindReply
)

// Envelope is the single message type exchanged over the Exchange stream.
// Proc says which verb it carries; ReqID pairs a reply to its request, since
// a bidirectional stream may have several calls in flight (a mid-run
// ChkDeps racing the server's own Heartbeat, for instance). Only the fields
// relevant to Proc are populated; the rest travel as zero values, which
// gob encodes cheaply since it omits zero struct fields.
type Envelope struct {
	Kind  kind
	Proc  ports.Proc
	ReqID uint64
	SeqID uint32
	JobID uint32

	// request payloads
	Host    string
	RPCPort int
	Digest  domain.JobDigest
	Deps    []domain.DepDigest
	Paths   []string
	Chunk   []byte

	// reply payloads
	StartReply StartReplyWire
	ChkDeps    ports.ChkDepsVerdict
	CRCs       []domain.CRC

	Err string
}

// StartReplyWire is a type alias for ports.StartReply, not a distinct
// type: gob encodes the port's struct, whose fields are all exported,
// directly.
type StartReplyWire = ports.StartReply
