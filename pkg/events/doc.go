/*
Package events provides an in-process publish/subscribe broker for hub
events: agent lifecycle transitions, probe dispatch outcomes, session
churn, and audit-chain alarms.

Subscribers receive events over buffered channels; a slow subscriber whose
buffer fills simply misses events rather than blocking the broker. The
broker is best-effort fan-out for observability surfaces, not a durable
queue.
*/
package events
