package ports

import (
	"context"

	"go.forgemake.dev/forgemake/internal/core/domain"
)

// Proc names which verb of the JobServer RPC contract (§6) an Envelope
// carries. The original implementation (rpc_job.cc) frames every request
// as one message type tagged with a proc kind rather than one RPC method
// per verb (SPEC_FULL §12); this port preserves that shape.
type Proc int

const (
	ProcStart Proc = iota
	ProcEnd
	ProcChkDeps
	ProcDepInfos
	ProcHeartbeat
	ProcKill
	ProcLiveOut
)

// String names the proc kind for log lines.
func (p Proc) String() string {
	switch p {
	case ProcStart:
		return "Start"
	case ProcEnd:
		return "End"
	case ProcChkDeps:
		return "ChkDeps"
	case ProcDepInfos:
		return "DepInfos"
	case ProcHeartbeat:
		return "Heartbeat"
	case ProcKill:
		return "Kill"
	case ProcLiveOut:
		return "LiveOut"
	default:
		return "Unknown"
	}
}

// StartReply is the reply to a Start request (§6).
type StartReply struct {
	Cwd            string
	Env            []string
	Interpreter    []string
	Cmd            []string
	Targets        []TargetSpec
	StaticDeps     []string
	Autodep        domain.AutodepEnv
	KillSignals    []int
	Timeout        domain.NanosDuration
	Method         string
	HashAlgo       string
	LiveOut        bool
	KeepTmp        bool
	RemoteAdminDir string
	SmallID        int
}

// TargetSpec is one target entry of a Start reply.
type TargetSpec struct {
	Pattern string
	TFlags  uint32
	IsStar  bool
}

// ChkDepsVerdict is the server's answer to a mid-run ChkDeps query: whether
// the job's deps observed so far are still up-to-date.
type ChkDepsVerdict struct {
	UpToDate bool
}

// JobServerClient is JobExec's view of the JobServer RPC contract (§6):
// the calls a job supervisor makes to the server.
//
//go:generate go run go.uber.org/mock/mockgen -source=rpc.go -destination=mocks/mock_rpc.go -package=mocks
type JobServerClient interface {
	Start(ctx context.Context, seqID, jobID uint32, host string, rpcPort int) (StartReply, error)
	End(ctx context.Context, seqID, jobID uint32, digest domain.JobDigest) error
	ChkDeps(ctx context.Context, seqID, jobID uint32, deps []domain.DepDigest) (ChkDepsVerdict, error)
	DepInfos(ctx context.Context, seqID, jobID uint32, paths []string) ([]domain.CRC, error)
	LiveOut(ctx context.Context, seqID, jobID uint32, chunk []byte) error
	Close() error
}

// JobServerCallbacks is JobExec's side of the contract: handlers for the
// two server-initiated verbs (Heartbeat, Kill) dispatched against a
// running job supervisor over the same connection it used to Start.
type JobServerCallbacks interface {
	// Heartbeat probes liveness; if seqID does not match the job currently
	// tracked under jobID, the implementation should report Lost.
	Heartbeat(ctx context.Context, seqID, jobID uint32) error
	// Kill orders cancellation of the job.
	Kill(ctx context.Context, seqID, jobID uint32) error
}

// JobServerHandler is the server's side of the contract: dispatch targets
// for the five client-initiated verbs, implemented by the make loop.
type JobServerHandler interface {
	Start(ctx context.Context, seqID, jobID uint32, host string, rpcPort int) (StartReply, error)
	End(ctx context.Context, seqID, jobID uint32, digest domain.JobDigest) error
	ChkDeps(ctx context.Context, seqID, jobID uint32, deps []domain.DepDigest) (ChkDepsVerdict, error)
	DepInfos(ctx context.Context, seqID, jobID uint32, paths []string) ([]domain.CRC, error)
	LiveOut(ctx context.Context, seqID, jobID uint32, chunk []byte) error
}
