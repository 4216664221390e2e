// Package jobexec implements JobExec (§4.4): the per-job supervisor that
// configures a Recorder for its child, launches it through a Backend,
// collects access events, computes target CRCs, and reports the outcome
// to a JobServer.
//
// Grounded on job_exec.cc's main loop (kill_thread_func, handle_server_req,
// the CRC-on-end pass) translated into Go's goroutine-and-channel idiom:
// the C++ version runs a dedicated jthread per concern and a blocking
// socket read loop; here each concern is a goroutine coordinated through
// an errgroup, and the RPC server loop is driven by whatever transport
// internal/adapters/rpc wires up, dispatching into the Heartbeat/Kill
// methods below.
package jobexec

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"go.forgemake.dev/forgemake/internal/core/domain"
	"go.forgemake.dev/forgemake/internal/core/ports"
)

// State is JobExec's position in the Starting -> Running -> Ending -> Done
// state machine (§4.4).
type State int

const (
	StateStarting State = iota
	StateRunning
	StateEnding
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateEnding:
		return "Ending"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Exit codes mirror job_exec.cc's process exit convention (§7, "Process
// exit codes (JobExec)").
const (
	ExitSuccess          = 0
	ExitServerFailure    = 2
	ExitStartSendFailed  = 3
	ExitStartReplyFailed = 4
	ExitConnectFailed    = 5
)

var _ ports.JobServerCallbacks = (*JobExec)(nil)

// JobExec supervises exactly one job instance.
type JobExec struct {
	SeqID uint32
	JobID uint32

	Client  ports.JobServerClient
	Backend ports.Backend
	Hasher  ports.Hasher
	Logger  ports.Logger

	// NewRecorder builds the Recorder for this job's child once the Start
	// reply's AutodepEnv is known; Rec cannot be supplied up front the way
	// Client/Backend are, since the resolver it wraps needs the reply's
	// root/tmp/src directories (§4.1, §6).
	NewRecorder func(env domain.AutodepEnv, cwd string) (ports.Recorder, error)
	Rec         ports.Recorder

	mu     sync.Mutex
	state  State
	lost   bool
	killed bool

	killSignals []int
	killOnce    sync.Once
	killCancel  context.CancelFunc
	handle      ports.JobHandle
}

// State reports JobExec's current position in the state machine.
func (j *JobExec) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *JobExec) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// Run drives the full Starting -> Running -> Ending -> Done sequence and
// returns the process exit code job_exec.cc's main would return.
func (j *JobExec) Run(ctx context.Context, host string, rpcPort int) int {
	reply, err := j.start(ctx, host, rpcPort)
	if err != nil {
		j.Logger.Error("job start failed", "error", err)
		return ExitConnectFailed
	}

	handle, accesses, waitStatus, runErr := j.run(ctx, reply)
	if runErr != nil && j.isLost() {
		return ExitServerFailure
	}

	digest := j.end(ctx, reply, handle, accesses, waitStatus, runErr)

	if err := j.client().End(ctx, j.SeqID, j.JobID, digest); err != nil {
		j.Logger.Error("end report failed", "error", err)
		return ExitServerFailure
	}

	j.setState(StateDone)
	if !reply.KeepTmp && reply.Autodep.TmpDir != "" {
		// §4.4, "Failure semantics: if tmp is not to be kept, it is
		// emptied at the end."
		entries, _ := os.ReadDir(reply.Autodep.TmpDir)
		for _, e := range entries {
			_ = os.RemoveAll(filepath.Join(reply.Autodep.TmpDir, e.Name()))
		}
	}
	return ExitSuccess
}

func (j *JobExec) client() ports.JobServerClient { return j.Client }

// start implements the Starting state (§4.4 step 1).
func (j *JobExec) start(ctx context.Context, host string, rpcPort int) (ports.StartReply, error) {
	j.setState(StateStarting)
	reply, err := j.Client.Start(ctx, j.SeqID, j.JobID, host, rpcPort)
	if err != nil {
		return ports.StartReply{}, err
	}
	j.killSignals = reply.KillSignals
	return reply, nil
}

// runResult is the outcome of the Running state, handed to end().
type runResult struct {
	handle   ports.JobHandle
	accesses []domain.AccessEvent
	wait     ports.WaitStatus
}

// run implements the Running state (§4.4 step 2): spawn the child,
// collect access events from the Recorder, and serve server-initiated
// RPCs until the child exits or is killed.
func (j *JobExec) run(ctx context.Context, reply ports.StartReply) (ports.JobHandle, []domain.AccessEvent, ports.WaitStatus, error) {
	j.setState(StateRunning)

	if j.Rec == nil && j.NewRecorder != nil {
		rec, err := j.NewRecorder(reply.Autodep, reply.Cwd)
		if err != nil {
			return ports.JobHandle{}, nil, ports.WaitStatus{}, err
		}
		j.Rec = rec
	}

	spec := ports.JobSpec{
		Cwd:         reply.Cwd,
		Env:         reply.Env,
		Cmd:         reply.Cmd,
		Interpreter: reply.Interpreter,
		Timeout:     reply.Timeout,
	}

	handle, err := j.Backend.StartJob(ctx, spec)
	if err != nil {
		return ports.JobHandle{}, nil, ports.WaitStatus{}, err
	}
	j.mu.Lock()
	j.handle = handle
	j.mu.Unlock()

	var accesses []domain.AccessEvent
	collectDone := make(chan struct{})
	go func() {
		defer close(collectDone)
		for ev := range j.Rec.Events() {
			accesses = append(accesses, ev)
		}
	}()

	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(reply.Timeout))
	j.killCancel = cancel
	defer cancel()

	wait, waitErr := j.Backend.MonitorJob(waitCtx, handle)

	j.Rec.Close()
	<-collectDone

	return handle, accesses, wait, waitErr
}

// end implements the Ending state (§4.4 step 3): partition accesses into
// deps/targets, compute target CRCs on a bounded pool, and assemble the
// JobDigest.
func (j *JobExec) end(ctx context.Context, reply ports.StartReply, handle ports.JobHandle, accesses []domain.AccessEvent, wait ports.WaitStatus, runErr error) domain.JobDigest {
	j.setState(StateEnding)

	written := make(map[domain.InternedString]bool)
	for _, ev := range accesses {
		if ev.Kind == domain.AccessWrite {
			written[ev.Path] = true
		}
	}

	var deps []domain.DepDigest
	var targetEvents []domain.AccessEvent
	for _, ev := range accesses {
		switch {
		case ev.IsDep() && !written[ev.Path]:
			deps = append(deps, domain.DepDigest{
				Path:     ev.Path,
				Accesses: ev.Accesses,
				DFlags:   ev.DFlags,
				Parallel: ev.ParallelID,
				Date:     ev.FileDate,
			})
		case ev.IsTarget():
			targetEvents = append(targetEvents, ev)
		}
	}

	targets := j.computeTargetCRCs(ctx, targetEvents)

	status := domain.RunStatusComplete
	if j.wasKilled() {
		status = domain.RunStatusKilled
	} else if runErr != nil {
		status = domain.RunStatusErr
	} else if wait.ExitCode != 0 || wait.Signaled {
		status = domain.RunStatusTargetErr
	}

	return domain.JobDigest{
		Status:  status,
		Targets: targets,
		Deps:    deps,
		WStatus: wait.ExitCode,
		EndDate: uint64(time.Now().UnixNano()),
	}
}

// computeTargetCRCs runs Hasher.ComputeCRC over each written target on a
// worker pool sized to min(hardware_concurrency, queue_len), exactly as
// job_exec.cc's CRC thread pool is sized (§4.4 step 3).
func (j *JobExec) computeTargetCRCs(ctx context.Context, events []domain.AccessEvent) []domain.TargetDigest {
	if len(events) == 0 {
		return nil
	}

	poolSize := runtime.GOMAXPROCS(0)
	if poolSize > len(events) {
		poolSize = len(events)
	}

	targets := make([]domain.TargetDigest, len(events))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(poolSize)

	for i, ev := range events {
		i, ev := i, ev
		g.Go(func() error {
			td := domain.TargetDigest{
				Path:     ev.Path,
				Accesses: ev.Accesses,
				Write:    ev.Kind == domain.AccessWrite,
				Unlink:   ev.Kind == domain.AccessUnlink,
			}
			if !td.Unlink {
				crc, err := j.Hasher.ComputeCRC(ev.Path.String())
				if err != nil {
					j.Logger.Warn("crc computation failed", "path", ev.Path.String(), "error", err)
				} else {
					td.CRC = crc
				}
			}
			targets[i] = td
			return nil
		})
	}
	_ = g.Wait()
	return targets
}

// Heartbeat implements ports.JobServerCallbacks: if seqID no longer
// matches this supervisor's job, the job is reported Lost so the server
// can clean it up (§4.4 step 2, Heartbeat).
func (j *JobExec) Heartbeat(ctx context.Context, seqID, jobID uint32) error {
	if seqID != j.SeqID || jobID != j.JobID {
		j.markLost()
		return j.Client.End(ctx, seqID, jobID, domain.JobDigest{Status: domain.RunStatusErr})
	}
	return nil
}

// Kill implements ports.JobServerCallbacks: launches a dedicated killing
// goroutine that sends the configured signals in order, one second apart,
// falling back to SIGKILL (§4.4 step 2, Kill).
func (j *JobExec) Kill(ctx context.Context, seqID, jobID uint32) error {
	if seqID != j.SeqID || jobID != j.JobID {
		return nil
	}
	j.startKiller(ctx)
	return nil
}

func (j *JobExec) startKiller(ctx context.Context) {
	j.killOnce.Do(func() {
		go j.killLoop(ctx)
	})
}

// sigKill is SIGKILL; the killer always escalates to it once the
// configured signal list is exhausted (§4.4 step 2, Kill).
const sigKill = 9

// killGrace is the delay between each escalating signal (§4.4 step 2,
// Kill: "each after a one-second grace").
const killGrace = time.Second

func (j *JobExec) killLoop(ctx context.Context) {
	j.mu.Lock()
	j.killed = true
	handle := j.handle
	signals := append([]int{}, j.killSignals...)
	j.mu.Unlock()

	if len(signals) == 0 || signals[len(signals)-1] != sigKill {
		signals = append(signals, sigKill)
	}

	for _, sig := range signals {
		if err := j.Backend.KillJob(ctx, handle, []int{sig}); err != nil {
			j.Logger.Warn("kill signal failed", "signal", sig, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(killGrace):
		}
	}
}

func (j *JobExec) markLost() {
	j.mu.Lock()
	j.lost = true
	j.mu.Unlock()
}

func (j *JobExec) isLost() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lost
}

func (j *JobExec) wasKilled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.killed
}

// PreActions applies a job's pre-execution cleanup pass (unlink stale
// targets, create missing parent directories, remove directories vacated
// by a star-target match, uniquify a target about to be overwritten) in
// the order the server sent them (original_source rpc_job.cc FileAction;
// SPEC_FULL §12).
func PreActions(actions []domain.FileAction) error {
	for _, act := range actions {
		path := act.Path.String()
		var err error
		switch act.Kind {
		case domain.FileActionUnlnk:
			err = os.Remove(path)
		case domain.FileActionMkdir:
			err = os.MkdirAll(path, 0o750)
		case domain.FileActionRmdir:
			err = os.Remove(path)
		case domain.FileActionUniquify:
			err = uniquify(path)
		}
		if err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// uniquify hard-links path aside as path+".prev", replacing any earlier
// copy there, before the job overwrites it in place, so prior content stays
// addressable
// (domain.FileActionUniquify).
func uniquify(path string) error {
	aside := path + ".prev"
	if err := os.Remove(aside); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Link(path, aside); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}
