// Package httpapi exposes the sync engine to UI and automation callers:
// trigger, cancel, status, and a live progress stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/driftsync/driftsync/internal/knowledge"
	"github.com/driftsync/driftsync/internal/syncengine"
)

// SyncController is the engine surface the API needs. Satisfied by
// *syncengine.Engine; tests substitute a fake.
type SyncController interface {
	Start(ctx context.Context, targetID string, sources []knowledge.SyncSource) error
	Cancel(ctx context.Context, targetID string) error
	Status(ctx context.Context, targetID string) (knowledge.JobState, error)
}

type ServerConfig struct {
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
}

type Server struct {
	controller  SyncController
	events      *EventHub
	cfg         ServerConfig
	rateLimiter *rateLimiter
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(controller SyncController, events *EventHub) *Server {
	return NewServerWithConfig(controller, events, ServerConfig{})
}

func NewServerWithConfig(controller SyncController, events *EventHub, cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		controller:  controller,
		events:      events,
		cfg:         cfg,
		rateLimiter: limiter,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 4 || parts[0] != "v1" || parts[1] != "targets" {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
		return
	}
	targetID := parts[2]
	if targetID == "" {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
		return
	}

	var requiredScope string
	var route string
	switch {
	case len(parts) == 4 && parts[3] == "sync" && r.Method == http.MethodPost:
		requiredScope = "sync:trigger"
		route = "sync_start"
	case len(parts) == 5 && parts[3] == "sync" && parts[4] == "cancel" && r.Method == http.MethodPost:
		requiredScope = "sync:trigger"
		route = "sync_cancel"
	case len(parts) == 4 && parts[3] == "sync" && r.Method == http.MethodGet:
		requiredScope = "sync:read"
		route = "sync_status"
	case len(parts) == 5 && parts[3] == "sync" && parts[4] == "events" && r.Method == http.MethodGet:
		requiredScope = "sync:read"
		route = "sync_events"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
		return
	}

	claims, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, requiredScope, time.Now().UTC())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}
	if s.rateLimiter != nil {
		key := claims.Subject + "|" + targetID
		if !s.rateLimiter.allow(key, time.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
	}

	switch route {
	case "sync_start":
		s.handleSyncStart(w, r, targetID)
	case "sync_cancel":
		s.handleSyncCancel(w, r, targetID)
	case "sync_status":
		s.handleSyncStatus(w, r, targetID)
	case "sync_events":
		s.handleSyncEvents(w, r, targetID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

type syncStartRequest struct {
	Sources []knowledge.SyncSource `json:"sources"`
}

func (s *Server) handleSyncStart(w http.ResponseWriter, r *http.Request, targetID string) {
	var req syncStartRequest
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
			return
		}
	}
	err := s.controller.Start(r.Context(), targetID, req.Sources)
	if errors.Is(err, syncengine.ErrAlreadySyncing) {
		writeError(w, http.StatusConflict, "already_syncing", "a sync for this target is already in progress")
		return
	}
	if errors.Is(err, knowledge.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid sync request")
		return
	}
	if errors.Is(err, knowledge.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "unknown target")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "targetId": targetID})
}

func (s *Server) handleSyncCancel(w http.ResponseWriter, r *http.Request, targetID string) {
	err := s.controller.Cancel(r.Context(), targetID)
	if errors.Is(err, knowledge.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "unknown target")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "targetId": targetID})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request, targetID string) {
	state, err := s.controller.Status(r.Context(), targetID)
	if errors.Is(err, knowledge.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "unknown target")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}

func (l *rateLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok || now.After(entry.resetAt) {
		l.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(l.window),
		}
		return true
	}
	if entry.count >= l.max {
		return false
	}
	entry.count++
	l.entries[key] = entry
	return true
}
