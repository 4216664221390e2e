package ports

import (
	"context"

	"go.forgemake.dev/forgemake/internal/core/domain"
)

// Backend is the external collaborator that spawns jobs on local or remote
// hosts (§1, out of scope: "the backend... treated as an external
// collaborator exposing a start/monitor/kill contract"). JobExec depends
// only on this interface; no concrete backend ships in this module.
//
//go:generate go run go.uber.org/mock/mockgen -source=backend.go -destination=mocks/mock_backend.go -package=mocks
type Backend interface {
	// StartJob launches spec on the backend and returns a handle used for
	// Monitor/Kill.
	StartJob(ctx context.Context, spec JobSpec) (JobHandle, error)
	// MonitorJob blocks until the backend-side process exits, returning its
	// wait status.
	MonitorJob(ctx context.Context, handle JobHandle) (WaitStatus, error)
	// KillJob escalates through signals against the backend-side process.
	KillJob(ctx context.Context, handle JobHandle, signals []int) error
}

// JobSpec is the subset of a JobServer Start reply a Backend needs to
// launch a job's child process.
type JobSpec struct {
	Cwd         string
	Env         []string
	Cmd         []string
	Interpreter []string
	Timeout     domain.NanosDuration
}

// JobHandle opaquely identifies a job instance on the backend.
type JobHandle struct {
	ID string
}

// WaitStatus is the POSIX wait status of a backend-spawned process.
type WaitStatus struct {
	ExitCode int
	Signaled bool
	Signal   int
}
