/*
Package security implements the hub's certificate authority and the
supporting cryptographic primitives.

# Certificate Authority

CertAuthority owns the hub's self-signed RSA root. It is created lazily the
first time Ensure runs, persisted through the injected storage.Store with
the private key encrypted at rest (AES-256-GCM via SecretsManager), and
reloaded on every later start. The root signs one leaf certificate per
enrolled agent: not-a-CA, clientAuth extended key usage only, CN set to the
agent name.

Verification is chain-based: VerifyCertAgainstCA builds a pool containing
only the hub root, so a leaf signed by any unrelated CA fails. An agent's
durable identity is its CertFingerprint — the SHA-256 digest of the
certificate's DER bytes — which the hub re-derives on every reconnect and
compares to the fingerprint pinned at enrollment.

# At-rest encryption

SecretsManager wraps AES-256-GCM with a random nonce prepended to each
ciphertext. The key is derived from the hub's configured secret with
SHA-256.

# Agent credentials on disk

SaveAgentCredentials / LoadAgentCredentials manage the enrollment-issued
cert/key pair in the agent's credentials directory with owner-only file
permissions.
*/
package security
