package rpc

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// msgStream is the part of grpc.ClientStream / grpc.ServerStream this
// package needs. Both satisfy it, so conn drives either direction of the
// Exchange stream identically.
type msgStream interface {
	SendMsg(m any) error
	RecvMsg(m any) error
}

// requestHandler answers an incoming request envelope with the reply to
// send back. It must not block the read loop for long-running work; the
// caller runs it in its own goroutine.
type requestHandler func(Envelope) Envelope

// conn multiplexes calls and server-initiated requests over one Exchange
// stream. Both client.Client and Server.Exchange's per-job connection wrap
// a conn: each side can issue a call and await its reply (JobExec calling
// Start, or the server calling Heartbeat) while also answering requests
// initiated by the other end, all on a single stream (§6).
type conn struct {
	stream  msgStream
	onReq   requestHandler
	nextID  atomic.Uint64
	sendMu  sync.Mutex
	mu      sync.Mutex
	pending map[uint64]chan Envelope
}

func newConn(stream msgStream, onReq requestHandler) *conn {
	return &conn{
		stream:  stream,
		onReq:   onReq,
		pending: make(map[uint64]chan Envelope),
	}
}

func (c *conn) send(env Envelope) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.stream.SendMsg(&env)
}

// call sends env as a request and blocks for the matching reply.
func (c *conn) call(ctx context.Context, env Envelope) (Envelope, error) {
	env.Kind = kindRequest
	env.ReqID = c.nextID.Add(1)

	ch := make(chan Envelope, 1)
	c.mu.Lock()
	c.pending[env.ReqID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, env.ReqID)
		c.mu.Unlock()
	}()

	if err := c.send(env); err != nil {
		return Envelope{}, err
	}

	select {
	case reply := <-ch:
		if reply.Err != "" {
			return reply, errors.New(reply.Err)
		}
		return reply, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// run drains the stream until it closes or ctx is cancelled, routing
// replies to their waiting call and handing requests to onReq.
func (c *conn) run(ctx context.Context) error {
	for {
		var env Envelope
		if err := c.stream.RecvMsg(&env); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if env.Kind == kindReply {
			c.mu.Lock()
			ch, ok := c.pending[env.ReqID]
			c.mu.Unlock()
			if ok {
				ch <- env
			}
			continue
		}

		go func(req Envelope) {
			reply := c.onReq(req)
			reply.Kind = kindReply
			reply.ReqID = req.ReqID
			_ = c.send(reply)
		}(env)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func errEnvelope(req Envelope, err error) Envelope {
	reply := Envelope{Proc: req.Proc, SeqID: req.SeqID, JobID: req.JobID}
	if err != nil {
		reply.Err = err.Error()
	}
	return reply
}
