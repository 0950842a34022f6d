package audit

import (
	"testing"

	"github.com/outpost-sh/outpost/pkg/types"
)

func logN(c *Chain, n int) {
	for i := 0; i < n; i++ {
		c.Log(Entry{
			APIKeyID:      "key-1",
			AgentOrSource: "web-01",
			Probe:         "agent.ping",
			Status:        types.ProbeStatusSuccess,
			DurationMs:    int64(i),
		})
	}
}

// TestChainGenesis tests that the first entry carries an empty prev hash
func TestChainGenesis(t *testing.T) {
	c := NewChain(8)
	entry := c.Log(Entry{Probe: "agent.ping", Status: types.ProbeStatusSuccess})

	if entry.Sequence != 0 {
		t.Errorf("first sequence = %d, want 0", entry.Sequence)
	}
	if entry.PrevHash != "" {
		t.Errorf("genesis prev hash = %q, want empty", entry.PrevHash)
	}
	if entry.Hash == "" {
		t.Error("genesis hash is empty")
	}
}

// TestChainLinks tests that each entry links to its predecessor
func TestChainLinks(t *testing.T) {
	c := NewChain(8)
	first := c.Log(Entry{Probe: "a", Status: types.ProbeStatusSuccess})
	second := c.Log(Entry{Probe: "b", Status: types.ProbeStatusError})

	if second.PrevHash != first.Hash {
		t.Errorf("second prev hash = %q, want %q", second.PrevHash, first.Hash)
	}
	if second.Sequence != first.Sequence+1 {
		t.Errorf("sequences not consecutive: %d then %d", first.Sequence, second.Sequence)
	}
}

// TestVerifyChain tests verification of an intact chain
func TestVerifyChain(t *testing.T) {
	c := NewChain(16)

	result := c.VerifyChain()
	if !result.Valid {
		t.Error("empty chain should verify")
	}

	logN(c, 10)
	result = c.VerifyChain()
	if !result.Valid {
		t.Errorf("intact chain invalid: %s", result.Reason)
	}
	if result.Entries != 10 {
		t.Errorf("entries = %d, want 10", result.Entries)
	}
}

// TestVerifyChainDetectsTampering tests that an in-place field edit breaks
// verification at the edited entry
func TestVerifyChainDetectsTampering(t *testing.T) {
	c := NewChain(16)
	logN(c, 5)

	c.entries[(c.head+2)%c.capacity].Probe = "tampered"

	result := c.VerifyChain()
	if result.Valid {
		t.Fatal("tampered chain verified")
	}
	if result.BrokenAt != 2 {
		t.Errorf("broken at %d, want 2", result.BrokenAt)
	}
}

// TestVerifyChainAfterEviction tests that a chain whose genesis has been
// evicted by the ring buffer no longer verifies
func TestVerifyChainAfterEviction(t *testing.T) {
	c := NewChain(4)
	logN(c, 4)

	if result := c.VerifyChain(); !result.Valid {
		t.Fatalf("full chain should still verify: %s", result.Reason)
	}

	// One more entry evicts genesis
	logN(c, 1)
	result := c.VerifyChain()
	if result.Valid {
		t.Fatal("chain with evicted genesis verified")
	}
	if result.BrokenAt != 1 {
		t.Errorf("broken at %d, want 1 (oldest retained)", result.BrokenAt)
	}
}

// TestChainCapacity tests that the ring retains exactly capacity entries
func TestChainCapacity(t *testing.T) {
	c := NewChain(4)
	logN(c, 10)

	if c.Len() != 4 {
		t.Errorf("len = %d, want 4", c.Len())
	}

	entries := c.GetRecent(0)
	if len(entries) != 4 {
		t.Fatalf("retained %d entries, want 4", len(entries))
	}
	if entries[0].Sequence != 6 {
		t.Errorf("oldest retained sequence = %d, want 6", entries[0].Sequence)
	}
	if entries[3].Sequence != 9 {
		t.Errorf("newest retained sequence = %d, want 9", entries[3].Sequence)
	}
}

// TestGetRecent tests windowed retrieval in oldest-first order
func TestGetRecent(t *testing.T) {
	c := NewChain(16)
	logN(c, 5)

	got := c.GetRecent(2)
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Sequence != 3 || got[1].Sequence != 4 {
		t.Errorf("sequences = %d,%d, want 3,4", got[0].Sequence, got[1].Sequence)
	}

	// Asking beyond the retained window returns everything
	if len(c.GetRecent(100)) != 5 {
		t.Error("oversized window should return all retained entries")
	}

	// Retrieval must not mutate the chain
	if result := c.VerifyChain(); !result.Valid {
		t.Errorf("chain invalid after GetRecent: %s", result.Reason)
	}
}
