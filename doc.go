// Package modelmux multiplexes LLM requests across an ordered list of
// interchangeable backends, failing over transparently when the active
// backend is unavailable, erroring, or rate-limited.
//
// # Architecture
//
//   - Backend / StreamReader: the contract every model endpoint implements
//   - Error classifier: decides retryable vs fatal (default or caller-supplied)
//   - Selector: the shared cursor over the backend list, with cyclic advance
//     and lazy time-based reset to the primary
//   - Client: the multiplexer; drives blocking calls and the stream relay
//
// The Client itself implements Backend, so multiplexers compose with plain
// backends and with each other.
//
// # Quick Start
//
//	primary, _ := providers.New("anthropic:claude-sonnet-4-5")
//	standby, _ := providers.New("openai:gpt-5.2-mini")
//
//	mux, err := modelmux.New(
//	    []modelmux.Backend{primary, standby},
//	    modelmux.WithOnError(func(ctx context.Context, err error, backend string) {
//	        log.Printf("backend %s failed: %v", backend, err)
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resp, err := mux.Complete(ctx, modelmux.Request{
//	    Messages: []modelmux.Message{modelmux.UserMessage("Hello")},
//	})
//
// # Streaming
//
// Stream returns a pull-based StreamReader. If the serving backend fails
// mid-stream, the relay hands off to the next backend and the caller keeps
// reading one continuous sequence; chunks already delivered are never
// retracted or repeated. Recovery after output has begun is governed by
// WithRetryAfterOutput.
//
//	stream, err := mux.Stream(ctx, req)
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for {
//	    ev, err := stream.Recv()
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    if ev.Type == modelmux.TextDelta {
//	        fmt.Print(ev.Delta)
//	    }
//	}
//
// # Failure classification
//
// The default classifier treats rate limits, overload, timeouts, 5xx
// responses, and misconfigured credentials as reasons to switch backends;
// everything else fails the call immediately. Supply WithRetryable to
// replace it.
//
// # Shared selection state
//
// All calls through one Client share the selector: a failure observed by one
// call moves the cursor for the next. The cursor drifts back to the primary
// after a quiet period (WithResetInterval), checked lazily at the start of
// each call rather than on a timer. Concurrent calls may race on switching
// decisions; the fields are individually atomic but no cross-call ordering
// is imposed.
package modelmux
