/*
Package audit implements a tamper-evident log of executed probes.

Every dispatched probe's outcome — success, error, or timeout — is appended
as an AuditEntry whose hash is a SHA-256 digest over a canonical
serialization of the entry's fields plus the previous entry's hash. The
first entry ever logged is the genesis entry with an empty prevHash.

Entries live in a fixed-capacity circular buffer (slice plus head index).
Appending past capacity overwrites the oldest entry in O(1). This bounds
memory but sacrifices full historical verifiability: VerifyChain reports
invalid the moment the oldest retained entry is no longer genesis, by
design — a truncated window cannot attest the full history even when its
retained links are mutually consistent.

The query surface is read-only: GetRecent returns the last n entries
oldest-first and VerifyChain recomputes every retained link. Verification
failures are results, never panics, and carry the sequence number where the
chain broke.
*/
package audit
