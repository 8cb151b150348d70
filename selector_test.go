package modelmux

import (
	"testing"
	"time"
)

func TestSelectorAdvanceWraps(t *testing.T) {
	s := newSelector(3, time.Minute, time.Now)
	if s.current() != 0 {
		t.Fatalf("expected initial index 0, got %d", s.current())
	}
	if got := s.advance(); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
	if got := s.advance(); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
	if got := s.advance(); got != 0 {
		t.Errorf("expected wrap to 0, got %d", got)
	}
}

func TestSelectorLazyReset(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := newSelector(2, time.Minute, clock)

	s.advance()
	if s.current() != 1 {
		t.Fatalf("expected index 1, got %d", s.current())
	}

	// Not enough time has passed.
	now = now.Add(59 * time.Second)
	s.maybeReset()
	if s.current() != 1 {
		t.Errorf("reset fired too early")
	}

	now = now.Add(time.Second)
	s.maybeReset()
	if s.current() != 0 {
		t.Errorf("expected reset to primary, got %d", s.current())
	}
}

func TestSelectorResetOnlyWhenAway(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := newSelector(2, time.Minute, clock)

	now = now.Add(time.Hour)
	s.maybeReset()
	if s.current() != 0 {
		t.Errorf("expected index to stay 0, got %d", s.current())
	}
}

func TestSelectorAdvanceRestampsSwitchTime(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := newSelector(3, time.Minute, clock)

	s.advance()
	now = now.Add(45 * time.Second)
	s.advance() // the interval is measured from the most recent switch

	now = now.Add(45 * time.Second)
	s.maybeReset()
	if s.current() != 2 {
		t.Errorf("reset must measure from the last switch, got index %d", s.current())
	}

	now = now.Add(15 * time.Second)
	s.maybeReset()
	if s.current() != 0 {
		t.Errorf("expected reset to primary, got %d", s.current())
	}
}
