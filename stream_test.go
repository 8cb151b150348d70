package modelmux

import (
	"errors"
	"io"
	"testing"
)

func TestCollectUsesFinishResponse(t *testing.T) {
	final := &Response{
		ID:      "resp_1",
		Backend: "a",
		Message: AssistantMessage("full text"),
		Usage:   Usage{InputTokens: 3, OutputTokens: 7, TotalTokens: 10},
	}
	r := Replay(
		StreamEvent{Type: StreamStart},
		StreamEvent{Type: TextDelta, Delta: "full "},
		StreamEvent{Type: TextDelta, Delta: "text"},
		StreamEvent{Type: StreamFinish, Response: final},
	)

	resp, err := Collect(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != final {
		t.Error("expected the finish event's response")
	}
	if resp.Usage.TotalTokens != 10 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestCollectAssemblesFromDeltas(t *testing.T) {
	r := Replay(
		StreamEvent{Type: TextDelta, Delta: "a"},
		StreamEvent{Type: TextDelta, Delta: "b"},
	)
	resp, err := Collect(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "ab" {
		t.Errorf("expected %q, got %q", "ab", resp.Text())
	}
}

func TestCollectPropagatesFailure(t *testing.T) {
	failure := StatusError(503, "service unavailable", "a")
	r := &scriptedStream{steps: []streamStep{
		delta("partial"),
		transportFailure(failure),
	}}
	_, err := Collect(r)
	if !errors.Is(err, failure) {
		t.Fatalf("expected the stream failure, got %v", err)
	}
}

func TestChannelEmitsTerminalError(t *testing.T) {
	failure := StatusError(500, "internal server error", "a")
	r := &scriptedStream{steps: []streamStep{
		delta("x"),
		transportFailure(failure),
	}}

	var events []StreamEvent
	for ev := range Channel(r) {
		events = append(events, ev)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	last := events[len(events)-1]
	if last.Type != StreamError || !errors.Is(last.Error, failure) {
		t.Errorf("expected a terminal error event, got %+v", last)
	}
}

func TestReplayEndsCleanly(t *testing.T) {
	r := Replay(StreamEvent{Type: TextDelta, Delta: "x"})
	if _, err := r.Recv(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Recv(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Recv(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}

func TestEventClass(t *testing.T) {
	cases := []struct {
		ev   StreamEvent
		want EventClass
	}{
		{StreamEvent{Type: StreamStart}, EventMeta},
		{StreamEvent{Type: TextStart}, EventContent},
		{StreamEvent{Type: TextDelta}, EventContent},
		{StreamEvent{Type: TextEnd}, EventContent},
		{StreamEvent{Type: ToolCall}, EventContent},
		{StreamEvent{Type: StreamFinish}, EventContent},
		{StreamEvent{Type: StreamError}, EventError},
	}
	for _, tc := range cases {
		if got := tc.ev.Class(); got != tc.want {
			t.Errorf("%s: class = %v, want %v", tc.ev.Type, got, tc.want)
		}
	}
}
