package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/outpost-sh/outpost/pkg/auth"
	"github.com/outpost-sh/outpost/pkg/dispatch"
	"github.com/outpost-sh/outpost/pkg/events"
	"github.com/outpost-sh/outpost/pkg/metrics"
	"github.com/outpost-sh/outpost/pkg/policy"
	"github.com/outpost-sh/outpost/pkg/storage"
	"github.com/outpost-sh/outpost/pkg/types"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token   string         `json:"token"`
	Session *types.Session `json:"session"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, session, err := s.hub.Sessions().Login(req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Session: session})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := bearerToken(r); token != "" {
		s.hub.Sessions().Logout(token)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleWhoami(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"type":        caller.Type,
		"role":        caller.Role,
		"permissions": policy.Permissions(caller.Role),
	})
}

type enrollRequest struct {
	Token        string `json:"token"`
	Name         string `json:"name"`
	OS           string `json:"os"`
	AgentVersion string `json:"agent_version"`
	Attestation  string `json:"attestation,omitempty"`
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	creds, err := s.hub.Enrollment().Redeem(req.Token, req.Name, req.OS, req.AgentVersion, req.Attestation)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicateName):
			writeError(w, http.StatusConflict, "agent name already exists")
		case errors.Is(err, storage.ErrTokenUsed),
			errors.Is(err, storage.ErrTokenExpired),
			errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusForbidden, "enrollment token rejected")
		default:
			writeError(w, http.StatusInternalServerError, "enrollment failed")
		}
		return
	}

	metrics.AgentsEnrolledTotal.Inc()
	s.hub.Broker().Publish(&events.Event{
		ID:      uuid.New().String(),
		Type:    events.EventAgentEnrolled,
		Message: "agent " + req.Name + " enrolled",
		Metadata: map[string]string{
			"agent_id": creds.AgentID,
			"name":     req.Name,
		},
	})
	writeJSON(w, http.StatusCreated, creds)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.hub.ListAgents(callerFrom(r))
	if err != nil {
		writeError(w, http.StatusForbidden, "%s", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.hub.GetAgent(callerFrom(r), mux.Vars(r)["ref"])
	if err != nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleExecuteProbe(w http.ResponseWriter, r *http.Request) {
	var req types.ProbeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Probe == "" {
		writeError(w, http.StatusBadRequest, "probe is required")
		return
	}

	result, err := s.hub.ExecuteProbe(r.Context(), callerFrom(r), mux.Vars(r)["ref"], &req)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound), errors.Is(err, dispatch.ErrAgentNotFound):
			writeError(w, http.StatusNotFound, "agent not found")
		case errors.Is(err, dispatch.ErrAgentOffline):
			writeError(w, http.StatusServiceUnavailable, "agent is not connected")
		default:
			writeError(w, http.StatusInternalServerError, "%s", err.Error())
		}
		return
	}

	if result.Status == types.ProbeStatusDenied {
		writeJSON(w, http.StatusForbidden, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type createTokenRequest struct {
	TTL string `json:"ttl,omitempty"`
}

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	if !policy.HasPermission(caller.Role, policy.PermTokensManage) {
		writeError(w, http.StatusForbidden, "insufficient role")
		return
	}

	var req createTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ttl := s.hub.Config().EnrollmentTokenTTL
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid ttl")
			return
		}
		ttl = parsed
	}

	token, err := s.hub.Enrollment().CreateToken(ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	writeJSON(w, http.StatusCreated, token)
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	if !policy.HasPermission(caller.Role, policy.PermTokensManage) {
		writeError(w, http.StatusForbidden, "insufficient role")
		return
	}
	tokens, err := s.hub.Enrollment().ListTokens()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tokens")
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

type createAPIKeyRequest struct {
	Name      string             `json:"name"`
	Role      string             `json:"role"`
	KeyType   types.APIKeyType   `json:"key_type,omitempty"`
	Policy    types.APIKeyPolicy `json:"policy,omitempty"`
	ExpiresIn string             `json:"expires_in,omitempty"`
}

type createAPIKeyResponse struct {
	Key       *types.APIKey `json:"key"`
	Plaintext string        `json:"plaintext"` // shown once, never stored
}

func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	if !policy.HasPermission(caller.Role, policy.PermKeysManage) {
		writeError(w, http.StatusForbidden, "insufficient role")
		return
	}

	var req createAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if policy.RoleLevel(req.Role) == 0 {
		writeError(w, http.StatusBadRequest, "unknown role %q", req.Role)
		return
	}
	// A caller may not mint a key above its own role
	if policy.RoleLevel(req.Role) > policy.RoleLevel(caller.Role) {
		writeError(w, http.StatusForbidden, "cannot create key with higher role")
		return
	}

	keyType := req.KeyType
	if keyType == "" {
		keyType = types.APIKeyTypeMCP
	}

	var expiresAt *time.Time
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid expires_in")
			return
		}
		t := time.Now().Add(d)
		expiresAt = &t
	}

	key, plaintext, err := s.hub.APIKeys().Create(req.Name, req.Role, keyType, req.Policy, caller.UserID, expiresAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create api key")
		return
	}
	key.KeyHash = ""
	writeJSON(w, http.StatusCreated, createAPIKeyResponse{Key: key, Plaintext: plaintext})
}

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	if !policy.HasPermission(caller.Role, policy.PermKeysManage) {
		writeError(w, http.StatusForbidden, "insufficient role")
		return
	}
	keys, err := s.hub.APIKeys().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list api keys")
		return
	}
	for _, key := range keys {
		key.KeyHash = ""
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *Server) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	if !policy.HasPermission(caller.Role, policy.PermKeysManage) {
		writeError(w, http.StatusForbidden, "insufficient role")
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.hub.APIKeys().Revoke(id); err != nil {
		writeError(w, http.StatusNotFound, "api key not found")
		return
	}
	s.hub.Broker().Publish(&events.Event{
		ID:       uuid.New().String(),
		Type:     events.EventAPIKeyRevoked,
		Message:  "api key revoked",
		Metadata: map[string]string{"key_id": id},
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	n := 0
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid n")
			return
		}
		n = parsed
	}
	entries, err := s.hub.AuditRecent(callerFrom(r), n)
	if err != nil {
		writeError(w, http.StatusForbidden, "%s", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	result, err := s.hub.AuditVerify(callerFrom(r))
	if err != nil {
		writeError(w, http.StatusForbidden, "%s", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type createUserRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	if !policy.HasPermission(caller.Role, policy.PermUsersManage) {
		writeError(w, http.StatusForbidden, "insufficient role")
		return
	}

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	if policy.RoleLevel(req.Role) == 0 {
		writeError(w, http.StatusBadRequest, "unknown role %q", req.Role)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}
	user := &types.User{
		ID:           uuid.New().String(),
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		Role:         req.Role,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	if err := s.hub.Store().CreateUser(user); err != nil {
		writeError(w, http.StatusConflict, "failed to create user")
		return
	}
	user.PasswordHash = ""
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	if !policy.HasPermission(caller.Role, policy.PermUsersManage) {
		writeError(w, http.StatusForbidden, "insufficient role")
		return
	}
	users, err := s.hub.Store().ListUsers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	for _, user := range users {
		user.PasswordHash = ""
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	if !policy.HasPermission(caller.Role, policy.PermGroupsManage) {
		writeError(w, http.StatusForbidden, "insufficient role")
		return
	}

	var group types.AccessGroup
	if err := json.NewDecoder(r.Body).Decode(&group); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if group.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	if err := s.hub.Store().CreateAccessGroup(&group); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create group")
		return
	}
	writeJSON(w, http.StatusCreated, &group)
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	if !policy.HasPermission(caller.Role, policy.PermGroupsManage) {
		writeError(w, http.StatusForbidden, "insufficient role")
		return
	}
	groups, err := s.hub.Store().ListAccessGroups()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list groups")
		return
	}
	writeJSON(w, http.StatusOK, groups)
}
