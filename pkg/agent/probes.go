package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime"
	"time"
)

// SystemPack registers the system.* probes: host metadata and local
// network reachability checks.
func SystemPack(r *Registry) {
	r.Register("system.info", systemInfoProbe)
	r.Register("system.disk_usage", diskUsageProbe)
	r.Register("net.http_check", httpCheckProbe)
	r.Register("net.tcp_check", tcpCheckProbe)
	r.Register("net.dns_lookup", dnsLookupProbe)
}

func systemInfoProbe(ctx context.Context, params json.RawMessage) (interface{}, error) {
	hostname, _ := os.Hostname()
	return map[string]interface{}{
		"hostname":   hostname,
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"num_cpu":    runtime.NumCPU(),
		"go_version": runtime.Version(),
		"pid":        os.Getpid(),
	}, nil
}

type diskUsageParams struct {
	Path string `json:"path"`
}

func diskUsageProbe(ctx context.Context, params json.RawMessage) (interface{}, error) {
	p := diskUsageParams{Path: "/"}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}
	info, err := os.Stat(p.Path)
	if err != nil {
		return nil, fmt.Errorf("path %s: %w", p.Path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path %s is not a directory", p.Path)
	}
	return diskUsage(p.Path)
}

type httpCheckParams struct {
	URL               string            `json:"url"`
	Method            string            `json:"method,omitempty"`
	Headers           map[string]string `json:"headers,omitempty"`
	ExpectedStatusMin int               `json:"expected_status_min,omitempty"`
	ExpectedStatusMax int               `json:"expected_status_max,omitempty"`
}

// httpCheckProbe requests a URL from the agent's host and reports whether
// the status lands in the expected range
func httpCheckProbe(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p httpCheckParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	if p.Method == "" {
		p.Method = http.MethodGet
	}
	if p.ExpectedStatusMin == 0 {
		p.ExpectedStatusMin = 200
	}
	if p.ExpectedStatusMax == 0 {
		p.ExpectedStatusMax = 399
	}

	req, err := http.NewRequestWithContext(ctx, p.Method, p.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range p.Headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return map[string]interface{}{
			"healthy":     false,
			"message":     fmt.Sprintf("request failed: %v", err),
			"duration_ms": time.Since(start).Milliseconds(),
		}, nil
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= p.ExpectedStatusMin && resp.StatusCode <= p.ExpectedStatusMax
	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if !healthy {
		message = fmt.Sprintf("%s (expected %d-%d)", message, p.ExpectedStatusMin, p.ExpectedStatusMax)
	}

	return map[string]interface{}{
		"healthy":     healthy,
		"status":      resp.StatusCode,
		"message":     message,
		"duration_ms": time.Since(start).Milliseconds(),
	}, nil
}

type tcpCheckParams struct {
	Address string `json:"address"`
}

// tcpCheckProbe attempts a TCP connection from the agent's host
func tcpCheckProbe(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p tcpCheckParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.Address == "" {
		return nil, fmt.Errorf("address is required")
	}

	start := time.Now()
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return map[string]interface{}{
			"healthy":     false,
			"message":     fmt.Sprintf("connection failed: %v", err),
			"duration_ms": time.Since(start).Milliseconds(),
		}, nil
	}
	conn.Close()

	return map[string]interface{}{
		"healthy":     true,
		"message":     fmt.Sprintf("TCP connection to %s successful", p.Address),
		"duration_ms": time.Since(start).Milliseconds(),
	}, nil
}

type dnsLookupParams struct {
	Host string `json:"host"`
}

func dnsLookupProbe(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p dnsLookupParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.Host == "" {
		return nil, fmt.Errorf("host is required")
	}

	start := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(ctx, p.Host)
	if err != nil {
		return nil, fmt.Errorf("lookup failed: %w", err)
	}
	return map[string]interface{}{
		"host":        p.Host,
		"addresses":   addrs,
		"duration_ms": time.Since(start).Milliseconds(),
	}, nil
}
