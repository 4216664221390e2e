package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.trai.ch/zerr"

	"go.forgemake.dev/forgemake/internal/core/domain"
	"go.forgemake.dev/forgemake/internal/core/ports"
)

var _ ports.JobServerClient = (*Client)(nil)

// Client is JobExec's side of the Exchange stream (§6): it opens one
// bidirectional stream at Dial and keeps it for the job's lifetime,
// issuing Start/End/ChkDeps/DepInfos/LiveOut as calls and answering the
// server's Heartbeat/Kill against cb, grounded on the daemon client's
// grpc.NewClient-plus-insecure-credentials dial pattern.
type Client struct {
	cc     *grpc.ClientConn
	conn   *conn
	cb     ports.JobServerCallbacks
	cancel context.CancelFunc
	runErr chan error
}

// Dial connects to target (host:port) and opens the Exchange stream.
// Server-initiated Heartbeat/Kill calls arriving on the stream are
// dispatched to cb.
func Dial(ctx context.Context, target string, cb ports.JobServerCallbacks) (*Client, error) {
	cc, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(gobCodec{})),
	)
	if err != nil {
		return nil, zerr.Wrap(err, "rpc: dial failed")
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := cc.NewStream(streamCtx, &serviceDesc.Streams[0], "/"+serviceName+"/"+exchangeStreamName)
	if err != nil {
		cancel()
		_ = cc.Close()
		return nil, zerr.Wrap(err, "rpc: open exchange stream failed")
	}

	c := &Client{cc: cc, cb: cb, cancel: cancel, runErr: make(chan error, 1)}
	c.conn = newConn(stream, c.handleRequest)
	go func() { c.runErr <- c.conn.run(streamCtx) }()
	return c, nil
}

func (c *Client) handleRequest(env Envelope) Envelope {
	switch env.Proc {
	case ports.ProcHeartbeat:
		return errEnvelope(env, c.cb.Heartbeat(context.Background(), env.SeqID, env.JobID))
	case ports.ProcKill:
		return errEnvelope(env, c.cb.Kill(context.Background(), env.SeqID, env.JobID))
	default:
		return errEnvelope(env, fmt.Errorf("rpc: client received unexpected proc %s", env.Proc))
	}
}

// Start implements ports.JobServerClient.
func (c *Client) Start(ctx context.Context, seqID, jobID uint32, host string, rpcPort int) (ports.StartReply, error) {
	reply, err := c.conn.call(ctx, Envelope{Proc: ports.ProcStart, SeqID: seqID, JobID: jobID, Host: host, RPCPort: rpcPort})
	if err != nil {
		return ports.StartReply{}, err
	}
	return reply.StartReply, nil
}

// End implements ports.JobServerClient.
func (c *Client) End(ctx context.Context, seqID, jobID uint32, digest domain.JobDigest) error {
	_, err := c.conn.call(ctx, Envelope{Proc: ports.ProcEnd, SeqID: seqID, JobID: jobID, Digest: digest})
	return err
}

// ChkDeps implements ports.JobServerClient.
func (c *Client) ChkDeps(ctx context.Context, seqID, jobID uint32, deps []domain.DepDigest) (ports.ChkDepsVerdict, error) {
	reply, err := c.conn.call(ctx, Envelope{Proc: ports.ProcChkDeps, SeqID: seqID, JobID: jobID, Deps: deps})
	if err != nil {
		return ports.ChkDepsVerdict{}, err
	}
	return reply.ChkDeps, nil
}

// DepInfos implements ports.JobServerClient.
func (c *Client) DepInfos(ctx context.Context, seqID, jobID uint32, paths []string) ([]domain.CRC, error) {
	reply, err := c.conn.call(ctx, Envelope{Proc: ports.ProcDepInfos, SeqID: seqID, JobID: jobID, Paths: paths})
	if err != nil {
		return nil, err
	}
	return reply.CRCs, nil
}

// LiveOut implements ports.JobServerClient.
func (c *Client) LiveOut(ctx context.Context, seqID, jobID uint32, chunk []byte) error {
	_, err := c.conn.call(ctx, Envelope{Proc: ports.ProcLiveOut, SeqID: seqID, JobID: jobID, Chunk: chunk})
	return err
}

// Close implements ports.JobServerClient.
func (c *Client) Close() error {
	c.cancel()
	<-c.runErr
	return c.cc.Close()
}
