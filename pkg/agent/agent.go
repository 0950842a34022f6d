package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/outpost-sh/outpost/pkg/enroll"
	"github.com/outpost-sh/outpost/pkg/log"
	"github.com/outpost-sh/outpost/pkg/security"
	"github.com/outpost-sh/outpost/pkg/types"
)

const (
	// DefaultHeartbeatInterval keeps the agent comfortably inside the hub's
	// 90s silence threshold
	DefaultHeartbeatInterval = 30 * time.Second

	reconnectBaseDelay = 2 * time.Second
	reconnectMaxDelay  = 60 * time.Second
)

// Config holds the agent's runtime configuration
type Config struct {
	HubURL            string
	Name              string
	CredDir           string
	Version           string
	Attestation       string
	Packs             []string
	HeartbeatInterval time.Duration
}

// Agent is the host-side runtime: it enrolls once, then maintains a
// persistent connection to the hub and executes dispatched probes.
type Agent struct {
	cfg      Config
	registry *Registry
	logger   zerolog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn
}

// New creates an agent runtime with the builtin probe registry
func New(cfg Config) *Agent {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return &Agent{
		cfg:      cfg,
		registry: NewRegistry(),
		logger:   log.WithComponent("agent"),
	}
}

// Registry exposes the probe registry so packs can register handlers
func (a *Agent) Registry() *Registry {
	return a.registry
}

// Enroll redeems an enrollment token against the hub and persists the
// issued credentials under CredDir. Enrollment is one-shot; an agent with
// existing credentials should not enroll again.
func (a *Agent) Enroll(ctx context.Context, token string) error {
	if security.CredentialsExist(a.cfg.CredDir) {
		return fmt.Errorf("credentials already exist in %s", a.cfg.CredDir)
	}

	body, err := json.Marshal(map[string]string{
		"token":         token,
		"name":          a.cfg.Name,
		"os":            runtime.GOOS,
		"agent_version": a.cfg.Version,
		"attestation":   a.cfg.Attestation,
	})
	if err != nil {
		return fmt.Errorf("failed to encode enrollment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.HubURL+"/api/v1/enroll", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build enrollment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("enrollment request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("enrollment rejected (%d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var creds enroll.Credentials
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return fmt.Errorf("failed to decode enrollment response: %w", err)
	}

	if err := security.SaveAgentCredentials(creds.CertPEM, creds.KeyPEM, a.cfg.CredDir); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(a.cfg.CredDir, "ca.crt"), creds.CACertPEM, 0600); err != nil {
		return fmt.Errorf("failed to write ca certificate: %w", err)
	}
	if err := os.WriteFile(filepath.Join(a.cfg.CredDir, "agent_id"), []byte(creds.AgentID), 0600); err != nil {
		return fmt.Errorf("failed to write agent id: %w", err)
	}

	a.logger.Info().Str("agent_id", creds.AgentID).Msg("enrolled")
	return nil
}

// Run maintains the hub connection until ctx is cancelled, reconnecting
// with capped exponential backoff after failures.
func (a *Agent) Run(ctx context.Context) error {
	if !security.CredentialsExist(a.cfg.CredDir) {
		return fmt.Errorf("no credentials in %s; enroll first", a.cfg.CredDir)
	}

	delay := reconnectBaseDelay
	for {
		err := a.connectAndServe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			a.logger.Warn().Err(err).Dur("retry_in", delay).Msg("connection lost")
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

func (a *Agent) connectAndServe(ctx context.Context) error {
	certPEM, _, err := security.LoadAgentCredentials(a.cfg.CredDir)
	if err != nil {
		return err
	}

	wsURL, err := socketURL(a.cfg.HubURL)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial hub: %w", err)
	}
	a.conn = conn
	defer conn.Close()

	env, err := types.NewEnvelope(types.MsgAgentRegister, &types.RegisterPayload{
		Name:         a.cfg.Name,
		OS:           runtime.GOOS,
		AgentVersion: a.cfg.Version,
		Packs:        a.registry.Probes(),
		CertPEM:      certPEM,
		Attestation:  a.cfg.Attestation,
	})
	if err != nil {
		return err
	}
	if err := a.send(env); err != nil {
		return fmt.Errorf("failed to send register frame: %w", err)
	}

	var reply types.Envelope
	if err := conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("failed to read registration reply: %w", err)
	}
	switch reply.Type {
	case types.MsgHubAck:
		var ack types.AckPayload
		_ = json.Unmarshal(reply.Payload, &ack)
		a.logger.Info().Str("agent_id", ack.AgentID).Msg("registered with hub")
	case types.MsgHubReject:
		var rej types.RejectPayload
		_ = json.Unmarshal(reply.Payload, &rej)
		return fmt.Errorf("hub rejected registration: %s", rej.Reason)
	default:
		return fmt.Errorf("unexpected registration reply %q", reply.Type)
	}

	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.heartbeatLoop(hbCtx)

	return a.readLoop(ctx, conn)
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			env, err := types.NewEnvelope(types.MsgAgentHeartbeat, &types.HeartbeatPayload{
				AgentVersion: a.cfg.Version,
			})
			if err != nil {
				continue
			}
			if err := a.send(env); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (a *Agent) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var env types.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}

		switch env.Type {
		case types.MsgProbeRequest:
			var req types.ProbeRequestPayload
			if err := json.Unmarshal(env.Payload, &req); err != nil {
				a.logger.Debug().Err(err).Msg("malformed probe request")
				continue
			}
			// Probes run concurrently; a slow probe must not block the
			// connection or other probes.
			go a.runProbe(ctx, &req)

		default:
			a.logger.Debug().Str("type", string(env.Type)).Msg("ignoring unexpected frame")
		}
	}
}

func (a *Agent) runProbe(ctx context.Context, req *types.ProbeRequestPayload) {
	timeout := 30 * time.Second
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	data, err := a.registry.Run(probeCtx, req.Probe, req.Params)

	resp := &types.ProbeResponsePayload{
		RequestID:  req.RequestID,
		DurationMs: time.Since(started).Milliseconds(),
	}
	msgType := types.MsgProbeResponse
	if err != nil {
		resp.Status = types.ProbeStatusError
		resp.Error = err.Error()
		msgType = types.MsgProbeError
	} else {
		resp.Status = types.ProbeStatusSuccess
		resp.Data = data
	}

	env, err := types.NewEnvelope(msgType, resp)
	if err != nil {
		a.logger.Error().Err(err).Str("request_id", req.RequestID).Msg("failed to encode probe response")
		return
	}
	if err := a.send(env); err != nil {
		a.logger.Warn().Err(err).Str("request_id", req.RequestID).Msg("failed to send probe response")
	}
}

func (a *Agent) send(env *types.Envelope) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = a.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return a.conn.WriteJSON(env)
}

// socketURL converts the hub's HTTP base URL into the websocket endpoint
func socketURL(hubURL string) (string, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return "", fmt.Errorf("invalid hub url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported hub url scheme %q", u.Scheme)
	}
	u.Path = "/ws/agent"
	return u.String(), nil
}
