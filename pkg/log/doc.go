/*
Package log provides structured logging for Outpost built on zerolog.

The package exposes a global Logger configured once at startup via Init,
plus helpers for creating child loggers scoped to a component, agent, or
request:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithComponent("dispatch")
	logger.Info().Str("agent", name).Msg("agent connected")

Console output (human-readable, RFC3339 timestamps) is used for interactive
runs; JSON output is intended for production collection.
*/
package log
