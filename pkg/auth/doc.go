/*
Package auth covers the hub's caller authentication: operator sessions and
API keys.

Sessions are store-backed rows with sliding expiry; the JWT handed to the
client carries only the session id, so the row remains authoritative and a
logout or sweep invalidates the token immediately. API keys are presented
as "okp_<id>.<secret>"; the embedded id makes verification a single store
lookup and one bcrypt comparison. Both paths resolve to a Caller, the
identity value the authorization and audit layers consume.
*/
package auth
