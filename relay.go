package modelmux

import (
	"context"
	"io"
)

// Stream starts a streaming request against the active backend and returns
// one continuous event sequence to the caller. If the serving backend fails,
// either out-of-band (a transport error from Recv) or in-band (a StreamError
// event before any content has been delivered), the relay hands off to the
// next backend and keeps feeding the same sequence. The
// caller never sees a chunk twice and never sees chunks from two backends
// interleaved: a hand-off only happens after the failed backend's sequence
// has ended.
//
// Recovery after content has been delivered is attempted only when the
// client was built with WithRetryAfterOutput(true) (the default). If policy
// forbids recovery, the sequence terminates with the failure so the caller
// never mistakes a truncated stream for a complete one.
func (c *Client) Stream(ctx context.Context, req Request) (StreamReader, error) {
	c.sel.maybeReset()
	r := &relayStream{
		c:       c,
		req:     req,
		initial: c.sel.current(),
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	if err := r.open(); err != nil {
		r.cancel()
		return nil, err
	}
	return r, nil
}

// relayStream relays one logical stream across one or more backends. It is
// pull-driven and single-caller: Recv must not be called concurrently.
type relayStream struct {
	c      *Client
	ctx    context.Context
	cancel context.CancelFunc
	req    Request

	// initial is the selector index at dispatch time; recovery aborts once
	// the cycle comes back around to it.
	initial int

	src     StreamReader
	srcName string

	delivered bool // a content chunk has reached the caller
	handoffs  int
	done      bool
	err       error // terminal error, io.EOF after a clean end
}

// open dispatches the request to the current backend, switching on
// retryable dispatch failures until a stream is obtained or the cycle is
// exhausted.
func (r *relayStream) open() error {
	for {
		b := r.c.backends[r.c.sel.current()]
		src, err := b.Stream(r.ctx, r.req)
		if err == nil {
			r.src = src
			r.srcName = b.Name()
			return nil
		}
		r.c.notify(r.ctx, err, b.Name())
		if !r.c.retryable(err) {
			return err
		}
		if r.delivered && !r.c.retryAfterOutput {
			return err
		}
		if !r.handoff() {
			return err
		}
	}
}

// handoff advances the selector after a detected stream fault. It returns
// false when the cycle has come back to the call's starting index, or the
// hand-off budget (one per backend) is spent.
func (r *relayStream) handoff() bool {
	r.handoffs++
	if r.handoffs >= len(r.c.backends) {
		return false
	}
	return r.c.sel.advance() != r.initial
}

// Recv returns the next event of the relayed sequence. It returns io.EOF
// after a clean end; any other error terminates the sequence.
func (r *relayStream) Recv() (StreamEvent, error) {
	if r.done {
		return StreamEvent{}, r.err
	}
	for {
		ev, err := r.src.Recv()
		if err == io.EOF {
			return StreamEvent{}, r.terminate(io.EOF)
		}
		if err != nil {
			// Out-of-band transport failure.
			_ = r.src.Close()
			r.c.notify(r.ctx, err, r.srcName)
			if !r.c.retryable(err) {
				return StreamEvent{}, r.terminate(err)
			}
			if r.delivered && !r.c.retryAfterOutput {
				return StreamEvent{}, r.terminate(err)
			}
			if !r.handoff() {
				return StreamEvent{}, r.terminate(err)
			}
			if oerr := r.open(); oerr != nil {
				return StreamEvent{}, r.terminate(oerr)
			}
			continue
		}

		// An in-band error chunk is a stream fault only before any content
		// has been delivered and only when the classifier accepts it;
		// otherwise it is forwarded like any other chunk.
		if ev.Class() == EventError && !r.delivered && r.c.retryable(ev.Err()) {
			_ = r.src.Close()
			ferr := ev.Err()
			r.c.notify(r.ctx, ferr, r.srcName)
			if !r.handoff() {
				return StreamEvent{}, r.terminate(ferr)
			}
			if oerr := r.open(); oerr != nil {
				return StreamEvent{}, r.terminate(oerr)
			}
			continue
		}

		if ev.Class() != EventMeta {
			r.delivered = true
		}
		return ev, nil
	}
}

// terminate ends the relayed sequence, releasing the in-flight backend
// resource, and records the terminal error for subsequent Recv calls.
func (r *relayStream) terminate(err error) error {
	r.done = true
	r.err = err
	if r.src != nil {
		_ = r.src.Close()
	}
	r.cancel()
	return err
}

// Close abandons the stream, releasing the current backend's underlying
// reader. Subsequent Recv calls return ErrClosed unless the stream already
// ended.
func (r *relayStream) Close() error {
	r.cancel()
	if !r.done {
		r.done = true
		r.err = ErrClosed
	}
	if r.src != nil {
		return r.src.Close()
	}
	return nil
}
