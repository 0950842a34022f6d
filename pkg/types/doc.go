/*
Package types defines the core data structures used throughout Outpost.

This package contains the domain model shared by the hub and the agent:
identities (CA, enrollment tokens, agents), callers (users, sessions, API
keys, access groups), probe invocations and results, the hash-linked audit
entry, and the JSON frames of the persistent agent connection.

# Core Types

Identity and enrollment:
  - HubCA: the hub's persisted self-signed trust root
  - EnrollmentToken: single-use, expiring credential gating cert issuance
  - Agent: a managed host, bound to its certificate fingerprint

Callers and policy inputs:
  - User, Session: operator logins with sliding expiry
  - APIKey, APIKeyPolicy: scoped machine credentials
  - AccessGroup: per-user visibility scoping

Dispatch and audit:
  - ProbeRequest, ProbeResult, ProbeStatus
  - AuditEntry: hash-linked record of every dispatched probe

Wire protocol (Envelope + payloads):
  - agent.register / hub.ack / hub.reject
  - agent.heartbeat
  - probe.request / probe.response / probe.error

All types serialize to JSON; the agent connection and the bbolt store both
use these encodings directly.
*/
package types
