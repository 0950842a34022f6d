/*
Package api serves the hub's HTTP surface.

Three groups of endpoints share one router: an unauthenticated set (login,
enrollment, the agent websocket, health and metrics), and an authenticated
REST API for operators and API-key callers covering agents, probe
execution, enrollment tokens, API keys, the audit log, users, and access
groups. Session bearer tokens and X-API-Key headers are both accepted; the
middleware resolves either to a Caller before handlers run.

The /ws/agent endpoint upgrades to a websocket and requires an
agent.register frame as the first message. The hub verifies that the
presented certificate chains to its CA and matches the fingerprint pinned
at enrollment before attaching the connection to the dispatcher.
*/
package api
