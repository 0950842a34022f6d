/*
Package agent implements the host-side Outpost runtime.

An agent enrolls once by redeeming a single-use token for a hub-signed
certificate, then maintains a persistent websocket connection: it registers
with its certificate, heartbeats on an interval, and executes dispatched
probes concurrently through a Registry of named handlers. Every agent
carries the builtin agent.ping probe; probe packs add their own handlers
before Run.
*/
package agent
