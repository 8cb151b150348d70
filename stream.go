package modelmux

import (
	"io"
	"strings"
)

// Collect drains a stream into a full Response. It blocks until the stream
// ends. If the stream carried a finish event, its response is returned;
// otherwise a response is assembled from the accumulated text.
func Collect(r StreamReader) (*Response, error) {
	var text strings.Builder
	var final *Response
	for {
		ev, err := r.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch ev.Type {
		case TextDelta:
			text.WriteString(ev.Delta)
		case StreamFinish:
			if ev.Response != nil {
				final = ev.Response
			}
		}
	}
	if final != nil {
		return final, nil
	}
	return &Response{
		Message:      AssistantMessage(text.String()),
		FinishReason: FinishReason{Reason: "stop"},
	}, nil
}

// Channel adapts a pull-based StreamReader to a channel of events. The
// channel is closed when the stream ends; a terminal failure is delivered
// as a final StreamError event before the close.
func Channel(r StreamReader) <-chan StreamEvent {
	ch := make(chan StreamEvent, 64)
	go func() {
		defer close(ch)
		for {
			ev, err := r.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				ch <- StreamEvent{Type: StreamError, Error: err}
				return
			}
			ch <- ev
		}
	}()
	return ch
}

// Replay returns a StreamReader that yields the given events and then ends
// cleanly. Backends without native streaming use it to present a buffered
// response as a stream.
func Replay(events ...StreamEvent) StreamReader {
	return &replayStream{events: events}
}

type replayStream struct {
	events []StreamEvent
	pos    int
	closed bool
}

func (r *replayStream) Recv() (StreamEvent, error) {
	if r.closed {
		return StreamEvent{}, ErrClosed
	}
	if r.pos >= len(r.events) {
		return StreamEvent{}, io.EOF
	}
	ev := r.events[r.pos]
	r.pos++
	return ev, nil
}

func (r *replayStream) Close() error {
	r.closed = true
	return nil
}
