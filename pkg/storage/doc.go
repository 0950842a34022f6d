/*
Package storage provides persistent state management for the Outpost hub.

The package defines the Store interface and a BoltDB-backed implementation.
The store is an explicit dependency injected into every component that needs
durable state (certificate authority, enrollment service, auth layer, hub),
which keeps the hub free of ambient globals and makes in-process test
doubles and multiple hub instances possible.

# Buckets

Each record type lives in its own bucket, keyed by id (or the token string
for enrollment tokens). Agent names are kept unique through a secondary
name-to-id index bucket maintained inside the same write transaction as the
agent record itself.

# Concurrency

BoltDB serializes write transactions, which the store relies on for its two
race-sensitive operations: agent-name uniqueness and enrollment-token
redemption. RedeemEnrollmentToken performs its read-check-mark cycle inside
one Update transaction so exactly one concurrent redeemer can consume a
token; every other attempt deterministically observes ErrTokenUsed,
ErrTokenExpired, or ErrNotFound.

# Usage

	store, err := storage.NewBoltStore("/var/lib/outpost")
	if err != nil {
		return err
	}
	defer store.Close()

	agent, err := store.GetAgentByName("web-01")
*/
package storage
