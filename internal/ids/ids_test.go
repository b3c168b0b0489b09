package ids

import (
	"strings"
	"testing"
)

func TestNew_Prefix(t *testing.T) {
	id := New("turn")
	if !strings.HasPrefix(id, "turn_") {
		t.Errorf("id = %q, want turn_ prefix", id)
	}
	if len(id) != len("turn_")+8 {
		t.Errorf("id = %q, want 8-char suffix", id)
	}
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New("x")
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestSequentialIDs(t *testing.T) {
	if got := Evidence("RAG", 3); got != "RAG_3" {
		t.Errorf("Evidence = %q, want RAG_3", got)
	}
	if got := Claim(1); got != "c1" {
		t.Errorf("Claim = %q, want c1", got)
	}
	if got := Step(2); got != "s2" {
		t.Errorf("Step = %q, want s2", got)
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint("https://example.com/a", "some text")
	b := Fingerprint("https://example.com/a", "some text")
	if a != b {
		t.Errorf("fingerprints differ: %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("fingerprint length = %d, want 16", len(a))
	}
}

func TestFingerprint_DistinguishesURLAndText(t *testing.T) {
	base := Fingerprint("u1", "t1")
	if Fingerprint("u2", "t1") == base {
		t.Error("different url should change fingerprint")
	}
	if Fingerprint("u1", "t2") == base {
		t.Error("different text should change fingerprint")
	}
}
