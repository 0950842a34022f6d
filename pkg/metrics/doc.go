/*
Package metrics exposes Prometheus instrumentation and health endpoints
for the Outpost hub.

Counters, gauges, and histograms cover the fleet (connected agents,
enrollments), the dispatcher (dispatches by status, round-trip latency,
in-flight requests), authorization denials by layer, the audit chain, and
the HTTP API. Handler serves the standard /metrics endpoint; HealthHandler,
ReadyHandler, and LivenessHandler implement the conventional health
triplet, with readiness gated on the store, CA, and API components.
*/
package metrics
