/*
Package enroll implements token-gated agent enrollment.

An operator creates a single-use token with a TTL; the agent redeems it
exactly once in exchange for a CA-signed leaf certificate. Redemption is
atomic — the token's used marker is set inside one store write transaction,
so when two agents race on the same token exactly one wins and the other
observes "already used". The issued certificate's fingerprint is pinned on
the Agent record and becomes the agent's durable identity: every later
connection must present a certificate with the same fingerprint.
*/
package enroll
