package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"
)

// HandlerFunc executes one probe on the local host. Params is the raw JSON
// parameter object from the request; the returned value is marshaled into
// the response's data field.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Registry maps probe names to handlers. Probe packs register their
// handlers at startup; dispatch looks them up per request.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates a registry preloaded with the builtin probes
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]HandlerFunc)}
	r.Register("agent.ping", pingProbe)
	return r
}

// Register adds or replaces a probe handler
func (r *Registry) Register(name string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
}

// Lookup returns the handler for a probe name
func (r *Registry) Lookup(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[name]
	return handler, ok
}

// Probes returns the sorted list of registered probe names
func (r *Registry) Probes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes the named probe with a deadline
func (r *Registry) Run(ctx context.Context, name string, params json.RawMessage) (json.RawMessage, error) {
	handler, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown probe %q", name)
	}

	value, err := handler(ctx, params)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode probe result: %w", err)
	}
	return data, nil
}

// pingProbe is the builtin liveness probe every agent carries
func pingProbe(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return map[string]interface{}{
		"pong":       true,
		"time":       time.Now().UTC().Format(time.RFC3339Nano),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"goroutines": runtime.NumGoroutine(),
	}, nil
}
