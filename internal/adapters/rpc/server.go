package rpc

import (
	"context"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"

	"go.trai.ch/zerr"

	"go.forgemake.dev/forgemake/internal/core/domain"
	"go.forgemake.dev/forgemake/internal/core/ports"
)

var _ ports.JobServerCallbacks = (*Server)(nil)
var _ exchangeServer = (*Server)(nil)

// Server is the make loop's side of the Exchange stream: one grpc.Server
// accepting a stream per connected JobExec supervisor, dispatching
// Start/End/ChkDeps/DepInfos/LiveOut into handler and routing Heartbeat/
// Kill the other way by jobID, grounded on the daemon server's
// listen-then-GracefulStop-on-cancel pattern.
type Server struct {
	handler ports.JobServerHandler
	logger  ports.Logger

	grpcServer *grpc.Server

	mu    sync.Mutex
	byJob map[uint32]*conn
}

// NewServer creates a Server dispatching client-initiated calls into handler.
func NewServer(handler ports.JobServerHandler, logger ports.Logger) *Server {
	return &Server{
		handler: handler,
		logger:  logger,
		byJob:   make(map[uint32]*conn),
	}
}

// Serve listens on addr and blocks until ctx is cancelled or the listener
// fails, gracefully stopping in-flight job connections on cancellation.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return zerr.Wrap(err, "rpc: listen failed")
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener is Serve against an already-bound listener, so a caller
// (tests, or a supervisor wanting the ephemeral port net.Listen chose) can
// read lis.Addr() before blocking.
func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	s.grpcServer = grpc.NewServer(grpc.ForceServerCodec(gobCodec{}))
	s.grpcServer.RegisterService(&serviceDesc, s)

	errCh := make(chan error, 1)
	go func() { errCh <- s.grpcServer.Serve(lis) }()

	select {
	case <-ctx.Done():
		s.grpcServer.GracefulStop()
		return nil
	case err := <-errCh:
		return zerr.Wrap(err, "rpc: serve failed")
	}
}

// Exchange implements exchangeServer: the per-connection loop for one
// JobExec supervisor, registered under the jobID its first request names.
func (s *Server) Exchange(stream grpc.ServerStream) error {
	var (
		mu    sync.Mutex
		jobID uint32
	)

	var c *conn
	c = newConn(stream, func(env Envelope) Envelope {
		mu.Lock()
		if jobID == 0 {
			jobID = env.JobID
			s.register(jobID, c)
		}
		mu.Unlock()
		return s.dispatch(stream.Context(), env)
	})

	err := c.run(stream.Context())

	mu.Lock()
	if jobID != 0 {
		s.unregister(jobID)
	}
	mu.Unlock()
	return err
}

func (s *Server) register(jobID uint32, c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byJob[jobID] = c
}

func (s *Server) unregister(jobID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byJob, jobID)
}

func (s *Server) lookup(jobID uint32) *conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byJob[jobID]
}

func (s *Server) dispatch(ctx context.Context, env Envelope) Envelope {
	switch env.Proc {
	case ports.ProcStart:
		reply, err := s.handler.Start(ctx, env.SeqID, env.JobID, env.Host, env.RPCPort)
		if err != nil {
			return errEnvelope(env, err)
		}
		return Envelope{Proc: env.Proc, SeqID: env.SeqID, JobID: env.JobID, StartReply: reply}
	case ports.ProcEnd:
		err := s.handler.End(ctx, env.SeqID, env.JobID, env.Digest)
		return errEnvelope(env, err)
	case ports.ProcChkDeps:
		verdict, err := s.handler.ChkDeps(ctx, env.SeqID, env.JobID, env.Deps)
		if err != nil {
			return errEnvelope(env, err)
		}
		return Envelope{Proc: env.Proc, SeqID: env.SeqID, JobID: env.JobID, ChkDeps: verdict}
	case ports.ProcDepInfos:
		crcs, err := s.handler.DepInfos(ctx, env.SeqID, env.JobID, env.Paths)
		if err != nil {
			return errEnvelope(env, err)
		}
		return Envelope{Proc: env.Proc, SeqID: env.SeqID, JobID: env.JobID, CRCs: crcs}
	case ports.ProcLiveOut:
		err := s.handler.LiveOut(ctx, env.SeqID, env.JobID, env.Chunk)
		return errEnvelope(env, err)
	default:
		return errEnvelope(env, fmt.Errorf("rpc: server received unexpected proc %s", env.Proc))
	}
}

// Heartbeat implements ports.JobServerCallbacks by forwarding into the
// connection registered for jobID, letting the make loop probe a
// supervisor's liveness the same way the server would call into it.
func (s *Server) Heartbeat(ctx context.Context, seqID, jobID uint32) error {
	c := s.lookup(jobID)
	if c == nil {
		return domain.ErrLost
	}
	_, err := c.call(ctx, Envelope{Proc: ports.ProcHeartbeat, SeqID: seqID, JobID: jobID})
	return err
}

// Kill implements ports.JobServerCallbacks by forwarding into the
// connection registered for jobID.
func (s *Server) Kill(ctx context.Context, seqID, jobID uint32) error {
	c := s.lookup(jobID)
	if c == nil {
		return domain.ErrLost
	}
	_, err := c.call(ctx, Envelope{Proc: ports.ProcKill, SeqID: seqID, JobID: jobID})
	return err
}
