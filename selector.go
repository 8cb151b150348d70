package modelmux

import (
	"sync/atomic"
	"time"
)

// selector is the cursor over the ordered backend list. It is shared by
// every call made through one Client: a switch triggered by one call changes
// the backend the next call starts on. The two fields are individually
// atomic; no cross-field transaction is imposed, so concurrent calls may
// race on switching decisions.
type selector struct {
	size       int
	resetAfter time.Duration
	now        func() time.Time

	index      atomic.Int32
	lastSwitch atomic.Int64 // unix nanoseconds
}

func newSelector(size int, resetAfter time.Duration, now func() time.Time) *selector {
	s := &selector{size: size, resetAfter: resetAfter, now: now}
	s.lastSwitch.Store(now().UnixNano())
	return s
}

// current returns the index of the active backend.
func (s *selector) current() int {
	return int(s.index.Load())
}

// advance moves the cursor to the next backend, cyclically, and stamps the
// switch time. It returns the new index.
func (s *selector) advance() int {
	next := (s.index.Load() + 1) % int32(s.size)
	s.index.Store(next)
	s.lastSwitch.Store(s.now().UnixNano())
	return int(next)
}

// maybeReset reverts the cursor to the primary backend if it has been away
// long enough. Called at the start of every call; there is no background
// timer, so a quiet multiplexer keeps its last cursor position until the
// next call arrives.
func (s *selector) maybeReset() {
	if s.index.Load() == 0 {
		return
	}
	now := s.now()
	if now.UnixNano()-s.lastSwitch.Load() >= int64(s.resetAfter) {
		s.index.Store(0)
		s.lastSwitch.Store(now.UnixNano())
	}
}
