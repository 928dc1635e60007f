package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scale-server/scale-server-pro/internal/models"
	"github.com/scale-server/scale-server-pro/internal/storage"
)

// ========== Auth handlers ==========

// HandleLogin handles operator login
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !s.auth.Authenticate(req.Username, req.Password) {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	accessToken, refreshToken, err := s.auth.GenerateTokenPair(req.Username)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// HandleRefresh handles token refresh
func (s *RESTServer) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accessToken, refreshToken, err := s.auth.RefreshToken(req.RefreshToken)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// ========== Read handlers ==========

// HandleStatus returns the connection state and pipeline counters
func (s *RESTServer) HandleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.loop.Snapshot()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"state": snap.State,
		"stats": snap.Stats,
	})
}

// HandleWeight returns the latest processing result
func (s *RESTServer) HandleWeight(w http.ResponseWriter, r *http.Request) {
	snap := s.loop.Snapshot()
	if snap.Result == nil {
		s.respondError(w, http.StatusServiceUnavailable, "no weight data available")
		return
	}
	s.respondJSON(w, http.StatusOK, snap.Result)
}

// HandleListNodes returns per-node connectivity bookkeeping
func (s *RESTServer) HandleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes := s.loop.NodeStatuses()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"nodes": nodes,
		"total": len(nodes),
	})
}

// HandleListEvents lists persisted events with filters
func (s *RESTServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	filters := storage.EventLogFilters{}

	if nodeIDStr := r.URL.Query().Get("node_id"); nodeIDStr != "" {
		if id, err := strconv.ParseUint(nodeIDStr, 10, 32); err == nil {
			nodeID := uint32(id)
			filters.NodeID = &nodeID
		}
	}

	if eventType := r.URL.Query().Get("type"); eventType != "" {
		modelEventType := models.EventType(eventType)
		filters.Type = &modelEventType
	}

	if level := r.URL.Query().Get("level"); level != "" {
		modelEventLevel := models.EventLevel(level)
		filters.Level = &modelEventLevel
	}

	if startStr := r.URL.Query().Get("start"); startStr != "" {
		if t, err := time.Parse(time.RFC3339, startStr); err == nil {
			filters.StartTime = &t
		}
	}

	if endStr := r.URL.Query().Get("end"); endStr != "" {
		if t, err := time.Parse(time.RFC3339, endStr); err == nil {
			filters.EndTime = &t
		}
	}

	events, total, err := s.store.ListEventLogs(ctx, filters, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
	})
}

// ========== Control handlers ==========

// HandleConnect queues a connect command
func (s *RESTServer) HandleConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
	}
	// An empty body means "use the configured target".
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	s.queueCommand(w, models.Command{Type: models.CommandConnect, Target: req.Target})
}

// HandleDisconnect queues a disconnect command
func (s *RESTServer) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.queueCommand(w, models.Command{Type: models.CommandDisconnect})
}

// HandleTare queues a tare command
func (s *RESTServer) HandleTare(w http.ResponseWriter, r *http.Request) {
	s.queueCommand(w, models.Command{Type: models.CommandTare})
}

// HandleResetTare queues a tare reset command
func (s *RESTServer) HandleResetTare(w http.ResponseWriter, r *http.Request) {
	s.queueCommand(w, models.Command{Type: models.CommandResetTare})
}

func (s *RESTServer) queueCommand(w http.ResponseWriter, cmd models.Command) {
	if err := s.loop.Send(cmd); err != nil {
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"queued": true,
		"type":   cmd.Type,
	})
}

// ========== Service handlers ==========

// HandleHealth health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"state":  s.loop.State(),
		"time":   time.Now(),
	})
}

// HandleRoot root handler
func (s *RESTServer) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": s.config.Server.Name,
		"version": s.config.Server.Version,
		"health":  "/api/v1/health",
		"live":    "/api/v1/live",
	})
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
