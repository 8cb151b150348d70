package modelmux

import "context"

// Backend is one interchangeable model endpoint. Implementations translate
// the unified request to their wire format; the multiplexer never inspects
// response content, only errors.
type Backend interface {
	// Name returns a stable identifier for the backend, used in errors and
	// the failure-notification callback.
	Name() string

	// Complete sends a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream starts a streaming request. The returned reader yields events
	// until io.EOF (clean completion) or a transport error.
	Stream(ctx context.Context, req Request) (StreamReader, error)
}

// StreamReader is a pull-based stream of events.
//
// Recv returns the next event. It returns io.EOF after the stream has ended
// cleanly; any other error is an out-of-band transport failure terminating
// the sequence. A backend may also report a failure in-band, as a
// StreamError event returned with a nil error.
type StreamReader interface {
	Recv() (StreamEvent, error)

	// Close releases the underlying connection. It is safe to call Close
	// after Recv has returned an error.
	Close() error
}

// Closer is implemented by backends that hold resources.
type Closer interface {
	Close() error
}
