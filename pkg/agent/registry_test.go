package agent

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

// TestRegistryBuiltinPing tests that every registry carries the liveness probe
func TestRegistryBuiltinPing(t *testing.T) {
	r := NewRegistry()

	data, err := r.Run(context.Background(), "agent.ping", nil)
	if err != nil {
		t.Fatalf("Run agent.ping: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("ping result not JSON: %v", err)
	}
	if result["pong"] != true {
		t.Errorf("pong = %v", result["pong"])
	}
	if result["os"] == "" || result["arch"] == "" {
		t.Errorf("missing platform fields: %v", result)
	}
}

// TestRegistryUnknownProbe tests the lookup failure path
func TestRegistryUnknownProbe(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Run(context.Background(), "no.such.probe", nil); err == nil {
		t.Error("unknown probe executed")
	}
	if _, ok := r.Lookup("no.such.probe"); ok {
		t.Error("Lookup found unregistered probe")
	}
}

// TestRegistryRegisterAndRun tests custom handler registration with params
func TestRegistryRegisterAndRun(t *testing.T) {
	r := NewRegistry()
	r.Register("echo", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var in map[string]string
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, err
		}
		return in, nil
	})

	data, err := r.Run(context.Background(), "echo", json.RawMessage(`{"k":"v"}`))
	if err != nil {
		t.Fatalf("Run echo: %v", err)
	}
	if string(data) != `{"k":"v"}` {
		t.Errorf("echo result = %s", data)
	}
}

// TestRegistryHandlerError tests that handler failures propagate
func TestRegistryHandlerError(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	r.Register("failing", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, boom
	})

	if _, err := r.Run(context.Background(), "failing", nil); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

// TestRegistryProbesSorted tests the advertised probe list
func TestRegistryProbesSorted(t *testing.T) {
	r := NewRegistry()
	SystemPack(r)

	names := r.Probes()
	want := []string{
		"agent.ping",
		"net.dns_lookup",
		"net.http_check",
		"net.tcp_check",
		"system.disk_usage",
		"system.info",
	}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("Probes() = %v, want %v", names, want)
	}
}
