package previews

import (
	"strings"
	"testing"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	s := NewStore()
	h1 := s.Acquire("st-1")
	h2 := s.Acquire("st-1")
	if !strings.HasPrefix(h1, "preview://") {
		t.Fatalf("unexpected handle %s", h1)
	}
	if h1 == h2 {
		t.Fatalf("handles must be unique")
	}
	if got := s.Active("st-1"); got != 2 {
		t.Fatalf("expected 2 active, got %d", got)
	}
	s.Release("st-1", h1)
	if got := s.Active("st-1"); got != 1 {
		t.Fatalf("expected 1 active after release, got %d", got)
	}
	// unknown handle is ignored
	s.Release("st-1", "preview://nope")
	if got := s.Active("st-1"); got != 1 {
		t.Fatalf("expected unknown release ignored, got %d", got)
	}
}

func TestReleaseScopeDropsAll(t *testing.T) {
	s := NewStore()
	s.Acquire("st-1")
	s.Acquire("st-1")
	s.Acquire("st-2")
	if got := s.ReleaseScope("st-1"); got != 2 {
		t.Fatalf("expected 2 released, got %d", got)
	}
	if got := s.Active("st-1"); got != 0 {
		t.Fatalf("expected empty scope, got %d", got)
	}
	if got := s.Active("st-2"); got != 1 {
		t.Fatalf("expected other scope untouched, got %d", got)
	}
	if got := s.ReleaseScope("st-3"); got != 0 {
		t.Fatalf("expected 0 for unknown scope, got %d", got)
	}
}
