/*
Package hub composes the Outpost server: storage, certificate authority,
enrollment, connection dispatch, caller auth, and the audit chain.

ExecuteProbe is the single path for probe invocation. It authorizes the
caller in three layers (role permission, API-key allow-lists, access-group
visibility), dispatches through the live connection registry, and appends
exactly one audit entry per dispatched request whatever the outcome.
Authorization denials come back as results with status denied and are kept
out of the audit chain unless audit_denied is configured.
*/
package hub
