package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/outpost-sh/outpost/pkg/types"
)

// DefaultCapacity is the ring buffer size used when none is configured
const DefaultCapacity = 4096

// Entry captures the inputs to Log; the chain fills in sequence,
// timestamp, and hashes.
type Entry struct {
	APIKeyID      string
	AgentOrSource string
	Probe         string
	Status        types.ProbeStatus
	DurationMs    int64
	RequestJSON   string
	ResponseJSON  string
}

// VerifyResult reports the outcome of a chain verification. When Valid is
// false, BrokenAt holds the sequence number of the first entry whose link
// failed (or the oldest retained entry for a truncated window) and Reason
// localizes the failure.
type VerifyResult struct {
	Valid    bool   `json:"valid"`
	Entries  int    `json:"entries"`
	BrokenAt uint64 `json:"broken_at,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Chain is a hash-linked, fixed-capacity log of probe outcomes. Entries are
// held in a circular buffer: once capacity is exceeded the oldest entry is
// overwritten in O(1). Each entry's hash is a SHA-256 digest over a
// canonical serialization of its fields concatenated with the previous
// entry's hash; the first entry ever logged carries prevHash "".
type Chain struct {
	mu       sync.RWMutex
	entries  []*types.AuditEntry // ring storage, len == capacity
	head     int                 // index of the oldest entry
	size     int                 // number of retained entries
	seq      uint64              // next sequence number
	lastHash string              // hash of the most recently appended entry
	capacity int
}

// NewChain creates an audit chain retaining at most capacity entries
func NewChain(capacity int) *Chain {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Chain{
		entries:  make([]*types.AuditEntry, capacity),
		capacity: capacity,
	}
}

// Log appends an entry whose prevHash is the hash of the most recently
// appended entry ("" for the very first). Returns the stored entry.
func (c *Chain) Log(e Entry) *types.AuditEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &types.AuditEntry{
		Sequence:      c.seq,
		Timestamp:     time.Now().UTC(),
		APIKeyID:      e.APIKeyID,
		AgentOrSource: e.AgentOrSource,
		Probe:         e.Probe,
		Status:        e.Status,
		DurationMs:    e.DurationMs,
		RequestJSON:   e.RequestJSON,
		ResponseJSON:  e.ResponseJSON,
		PrevHash:      c.lastHash,
	}
	entry.Hash = computeHash(entry)

	if c.size < c.capacity {
		c.entries[(c.head+c.size)%c.capacity] = entry
		c.size++
	} else {
		// Full: overwrite the oldest entry and advance the head
		c.entries[c.head] = entry
		c.head = (c.head + 1) % c.capacity
	}

	c.seq++
	c.lastHash = entry.Hash
	return entry
}

// GetRecent returns the last n retained entries oldest-first without
// mutating the chain. n <= 0 or n > len returns everything retained.
func (c *Chain) GetRecent(n int) []*types.AuditEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n <= 0 || n > c.size {
		n = c.size
	}

	out := make([]*types.AuditEntry, 0, n)
	start := c.size - n
	for i := start; i < c.size; i++ {
		out = append(out, c.entries[(c.head+i)%c.capacity])
	}
	return out
}

// Len returns the number of retained entries
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

// VerifyChain walks the retained window, recomputing every entry's hash
// from its fields and the previous entry's stored hash. The chain is valid
// only when every link holds AND the oldest retained entry is a genesis
// entry (prevHash ""). A window truncated by ring-buffer eviction therefore
// never verifies, even when its retained links are internally consistent:
// eviction surfaces as "cannot attest full history" rather than asserting
// integrity of a mere prefix.
func (c *Chain) VerifyChain() VerifyResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.size == 0 {
		return VerifyResult{Valid: true}
	}

	oldest := c.entries[c.head]
	if oldest.PrevHash != "" {
		return VerifyResult{
			Valid:    false,
			Entries:  c.size,
			BrokenAt: oldest.Sequence,
			Reason:   "oldest retained entry is not genesis; history truncated by eviction",
		}
	}

	prevHash := ""
	for i := 0; i < c.size; i++ {
		entry := c.entries[(c.head+i)%c.capacity]
		if entry.PrevHash != prevHash {
			return VerifyResult{
				Valid:    false,
				Entries:  c.size,
				BrokenAt: entry.Sequence,
				Reason:   fmt.Sprintf("entry %d prev-hash does not match preceding entry", entry.Sequence),
			}
		}
		if computeHash(entry) != entry.Hash {
			return VerifyResult{
				Valid:    false,
				Entries:  c.size,
				BrokenAt: entry.Sequence,
				Reason:   fmt.Sprintf("entry %d content does not match its hash", entry.Sequence),
			}
		}
		prevHash = entry.Hash
	}

	return VerifyResult{Valid: true, Entries: c.size}
}

// computeHash digests a canonical, deterministic serialization of the
// entry's fields plus its prevHash. Field order is fixed.
func computeHash(e *types.AuditEntry) string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(e.Sequence, 10))
	b.WriteByte('|')
	b.WriteString(e.Timestamp.Format(time.RFC3339Nano))
	b.WriteByte('|')
	b.WriteString(e.APIKeyID)
	b.WriteByte('|')
	b.WriteString(e.AgentOrSource)
	b.WriteByte('|')
	b.WriteString(e.Probe)
	b.WriteByte('|')
	b.WriteString(string(e.Status))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(e.DurationMs, 10))
	b.WriteByte('|')
	b.WriteString(e.RequestJSON)
	b.WriteByte('|')
	b.WriteString(e.ResponseJSON)
	b.WriteByte('|')
	b.WriteString(e.PrevHash)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
