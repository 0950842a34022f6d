/*
Package dispatch maintains the hub's live agent connection registry and the
correlation table for asynchronous probe request/response pairing.

Each registered agent is indexed by id and by unique name and carries a
status: online while heartbeating, degraded after one missed heartbeat
interval, and offline once the connection drops or a degraded agent stays
silent through a second interval, at which point the monitor tears the
socket down itself. Registering over an existing connection replaces it,
so an agent reconnecting after a partition is not blocked by its half-open
predecessor. Execute assigns a uuid request id, records a pending
entry, writes a probe.request frame on the agent's connection, and blocks
on a buffered channel until HandleResponse delivers the matching
probe.response, the per-request deadline fires, or the caller's context is
cancelled. The pending entry is deleted under the dispatcher lock before
any result is delivered, so every request resolves exactly once even when
a response races a timeout.

Dispatching to any agent that is not online fails immediately with
ErrAgentOffline (or ErrAgentNotFound for unknown references) without a
network attempt; a degraded agent is refused just like a disconnected one.
When a connection drops, every pending request for that agent is failed at
once.
*/
package dispatch
