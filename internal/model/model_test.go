package model

import (
	"regexp"
	"testing"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusTrapped, true},
		{StatusRunning, StatusCanceled, true},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusCompleted, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	if Terminal(StatusRunning) {
		t.Error("running should not be terminal")
	}
	for _, s := range []string{StatusCompleted, StatusFailed, StatusTrapped, StatusCanceled} {
		if !Terminal(s) {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestSessionPermits(t *testing.T) {
	s := &Session{}
	if got := s.Permits(); got != 1 {
		t.Errorf("Permits() with parallelism 0 = %d, want 1", got)
	}
	s.Parallelism = 4
	if got := s.Permits(); got != 4 {
		t.Errorf("Permits() = %d, want 4", got)
	}
}

func TestNewTokenFormat(t *testing.T) {
	a, b := NewToken(), NewToken()
	if !crockfordBase32.MatchString(a) {
		t.Errorf("NewToken() = %q, does not match ULID format", a)
	}
	if a == b {
		t.Errorf("NewToken() returned %q twice", a)
	}
}
