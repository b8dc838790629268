package idgen

import (
	"strings"
	"testing"
	"time"
)

func TestNewIDShape(t *testing.T) {
	id := NewID("Fix parser crash", "alice", time.Now(), 0)
	if !strings.HasPrefix(id, "td-") {
		t.Errorf("id = %q, want td- prefix", id)
	}
	if len(id) != len("td-")+8 {
		t.Errorf("len(id) = %d, want %d", len(id), len("td-")+8)
	}
	for _, r := range id[len("td-"):] {
		if !strings.ContainsRune(base36Alphabet, r) {
			t.Errorf("id %q contains non-base36 rune %q", id, r)
		}
	}
}

func TestNewIDDeterministic(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewID("Fix parser crash", "alice", ts, 0)
	b := NewID("Fix parser crash", "alice", ts, 0)
	if a != b {
		t.Errorf("same inputs produced %q and %q", a, b)
	}
}

func TestNewIDNonceChangesID(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewID("Fix parser crash", "alice", ts, 0)
	b := NewID("Fix parser crash", "alice", ts, 1)
	if a == b {
		t.Errorf("nonce did not change id: %q", a)
	}
}

func TestEncodeBase36Padding(t *testing.T) {
	got := encodeBase36([]byte{0x01}, 8)
	if len(got) != 8 {
		t.Fatalf("len = %d, want 8", len(got))
	}
	if !strings.HasPrefix(got, "0000000") {
		t.Errorf("encodeBase36(0x01) = %q, want zero padding", got)
	}
}
