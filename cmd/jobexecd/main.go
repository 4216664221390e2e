// Command jobexecd is the per-job supervisor process entrypoint (§4.4): it
// dials the buildd JobServer, receives a Start reply, launches the job's
// command, and reports back an End digest built from whatever the
// Recorder observed plus target CRCs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"

	"go.forgemake.dev/forgemake/internal/adapters/autodep"
	"go.forgemake.dev/forgemake/internal/adapters/casdigest"
	"go.forgemake.dev/forgemake/internal/adapters/jobexec"
	"go.forgemake.dev/forgemake/internal/adapters/logger"
	"go.forgemake.dev/forgemake/internal/adapters/recorder"
	"go.forgemake.dev/forgemake/internal/adapters/rpc"
	"go.forgemake.dev/forgemake/internal/core/domain"
	"go.forgemake.dev/forgemake/internal/core/ports"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(jobexec.ExitServerFailure)
	}
}

func run() error {
	server := flag.String("server", "", "buildd host:port to dial")
	seqID := flag.Uint("seq", 0, "sequence id handed out at submission")
	jobID := flag.Uint("job", 0, "job id handed out at submission")
	host := flag.String("host", "localhost", "this supervisor's reachable host, for server callbacks")
	rpcPort := flag.Int("rpc-port", 0, "this supervisor's callback port")
	interposerSO := flag.String("interposer-so", "", "path to the libc-interposing shared object, LD_PRELOAD'd into the job's child")
	flag.Parse()

	if *server == "" {
		return fmt.Errorf("jobexecd: -server is required")
	}

	log := logger.New()
	hasher := casdigest.New()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	j := &jobexec.JobExec{
		SeqID:  uint32(*seqID),
		JobID:  uint32(*jobID),
		Hasher: hasher,
		Logger: log,
		NewRecorder: func(env domain.AutodepEnv, cwd string) (ports.Recorder, error) {
			resolver, err := autodep.New(env, cwd)
			if err != nil {
				return nil, err
			}
			return recorder.New(env, resolver), nil
		},
	}

	client, err := rpc.Dial(ctx, *server, j)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	j.Client = client
	j.Backend = &localBackend{logger: log, interposerSO: *interposerSO}

	code := j.Run(ctx, *host, *rpcPort)
	if code != jobexec.ExitSuccess {
		return fmt.Errorf("jobexecd: job exited with code %d", code)
	}
	return nil
}

// localBackend runs a job's command as a child of this process (§4.3) with
// the interposing shim LD_PRELOAD'd into it. No transport carries the
// child's accesses back to this supervisor's Recorder (see DESIGN.md on the
// interposer/recorder process boundary).
type localBackend struct {
	logger       ports.Logger
	interposerSO string

	cmd *exec.Cmd
}

var _ ports.Backend = (*localBackend)(nil)

func (b *localBackend) StartJob(ctx context.Context, spec ports.JobSpec) (ports.JobHandle, error) {
	if len(spec.Cmd) == 0 {
		return ports.JobHandle{}, fmt.Errorf("jobexecd: empty command")
	}

	argv := spec.Cmd
	if len(spec.Interpreter) > 0 {
		argv = append(append([]string{}, spec.Interpreter...), spec.Cmd...)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = spec.Cwd
	cmd.Env = append(append([]string{}, spec.Env...), b.preloadEnv()...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return ports.JobHandle{}, err
	}
	b.cmd = cmd
	return ports.JobHandle{ID: strconv.Itoa(cmd.Process.Pid)}, nil
}

func (b *localBackend) preloadEnv() []string {
	if b.interposerSO == "" {
		return nil
	}
	return []string{"LD_PRELOAD=" + b.interposerSO}
}

func (b *localBackend) MonitorJob(_ context.Context, _ ports.JobHandle) (ports.WaitStatus, error) {
	err := b.cmd.Wait()
	ws := ports.WaitStatus{}
	if state := b.cmd.ProcessState; state != nil {
		ws.ExitCode = state.ExitCode()
		if status, ok := state.Sys().(syscall.WaitStatus); ok {
			ws.Signaled = status.Signaled()
			if ws.Signaled {
				ws.Signal = int(status.Signal())
			}
		}
	}
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return ws, nil
		}
		return ws, err
	}
	return ws, nil
}

func (b *localBackend) KillJob(_ context.Context, _ ports.JobHandle, signals []int) error {
	if b.cmd == nil || b.cmd.Process == nil {
		return nil
	}
	for _, sig := range signals {
		if err := b.cmd.Process.Signal(syscall.Signal(sig)); err != nil {
			return err
		}
	}
	return nil
}
