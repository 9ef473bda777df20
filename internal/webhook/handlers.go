package webhook

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voicecore/voicecore/internal/call"
	"github.com/voicecore/voicecore/internal/database"
	"github.com/voicecore/voicecore/internal/database/models"
	"github.com/voicecore/voicecore/internal/dispatch"
	"github.com/voicecore/voicecore/internal/tenant"
)

// maxBodySize bounds webhook request bodies.
const maxBodySize = 64 << 10

// callEventRequest is the provider's new-call event payload.
type callEventRequest struct {
	CallID     string `json:"call_id"`
	From       string `json:"from"`
	To         string `json:"to"`
	CallerName string `json:"caller_name"`
	Extension  string `json:"extension"`
}

// utteranceRequest carries one transcribed caller utterance.
type utteranceRequest struct {
	Text string `json:"text"`
}

// availabilityRequest is an agent presence update.
type availabilityRequest struct {
	Available bool `json:"available"`
}

// decode reads and unmarshals a bounded JSON request body.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// handleInboundCall admits a new call from the provider. Unknown dialed
// numbers are rejected with 404; the provider hangs the call up.
func (s *Server) handleInboundCall(w http.ResponseWriter, r *http.Request) {
	var req callEventRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CallID == "" || req.From == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, "call_id, from, and to are required")
		return
	}

	result, err := s.dispatcher.HandleInbound(r.Context(), dispatch.Inbound{
		CallID:     req.CallID,
		From:       req.From,
		CallerName: req.CallerName,
		To:         req.To,
		Extension:  req.Extension,
	})
	switch {
	case errors.Is(err, tenant.ErrTenantNotFound):
		writeError(w, http.StatusNotFound, "no tenant for dialed number")
		return
	case errors.Is(err, dispatch.ErrDuplicateSession):
		writeError(w, http.StatusConflict, "call already active")
		return
	case err != nil:
		slog.Error("inbound call failed", "call_id", req.CallID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": result.Status,
		"tier":   string(result.Tier),
	})
}

// handleUtterance forwards a transcribed utterance to the call's worker.
func (s *Server) handleUtterance(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "id")

	var req utteranceRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	if err := s.dispatcher.HandleUtterance(callID, req.Text); err != nil {
		writeError(w, http.StatusNotFound, "unknown call")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleHangup processes a caller hangup event.
func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "id")

	if err := s.dispatcher.HandleHangup(callID); err != nil {
		writeError(w, http.StatusNotFound, "unknown call")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ending"})
}

// handleAvailability updates an agent's availability in the live registry.
func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	var req availabilityRequest
	if !decode(w, r, &req) {
		return
	}

	agent, err := s.agents.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("loading agent failed", "agent_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if agent == nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}

	s.dispatcher.SetAgentAvailable(agent, req.Available)
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":  agent.ID,
		"available": req.Available,
	})
}

// auditEventDTO is the read API shape of one audit event.
type auditEventDTO struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	TenantID  int64     `json:"tenant_id"`
	Kind      string    `json:"kind"`
	FromState string    `json:"from_state,omitempty"`
	ToState   string    `json:"to_state,omitempty"`
	Decision  string    `json:"decision,omitempty"`
	Target    string    `json:"target,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// handleAuditTrail returns the full ordered audit trail for a session.
func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	events, err := s.auditLog.ReadAll(r.Context(), sessionID)
	if err != nil {
		slog.Error("reading audit trail failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusNotFound, "no events for session")
		return
	}

	out := make([]auditEventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, auditEventDTO{
			ID:        ev.ID,
			SessionID: ev.SessionID,
			TenantID:  ev.TenantID,
			Kind:      ev.Kind,
			FromState: ev.FromState,
			ToState:   ev.ToState,
			Decision:  ev.Decision,
			Target:    ev.Target,
			Reason:    ev.Reason,
			Timestamp: ev.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleReplay reconstructs a session's final state from its audit trail.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	events, err := s.auditLog.ReadAll(r.Context(), sessionID)
	if err != nil {
		slog.Error("reading audit trail failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusNotFound, "no events for session")
		return
	}

	snap, err := call.Replay(events)
	if err != nil {
		slog.Error("audit replay failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusUnprocessableEntity, "audit trail does not replay")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":        sessionID,
		"state":             snap.State,
		"tier":              snap.Tier,
		"transfer_attempts": snap.TransferAttempts,
		"agent_extension":   snap.AgentExtension,
		"ended_at":          snap.EndedAt,
	})
}

// callRecordDTO is the read API shape of one call summary.
type callRecordDTO struct {
	SessionID        string     `json:"session_id"`
	TenantID         int64      `json:"tenant_id"`
	CallerHash       string     `json:"caller_hash"`
	Callee           string     `json:"callee"`
	FinalState       string     `json:"final_state"`
	PriorityTier     string     `json:"priority_tier"`
	AgentID          *int64     `json:"agent_id,omitempty"`
	TransferAttempts int        `json:"transfer_attempts"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
}

// handleListCalls returns paginated call summaries.
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	filter := database.CallRecordListFilter{Limit: 50}

	q := r.URL.Query()
	if v := q.Get("tenant_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid tenant_id")
			return
		}
		filter.TenantID = id
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}

	records, err := s.records.List(r.Context(), filter)
	if err != nil {
		slog.Error("listing call records failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]callRecordDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, toCallRecordDTO(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func toCallRecordDTO(rec models.CallRecord) callRecordDTO {
	return callRecordDTO{
		SessionID:        rec.SessionID,
		TenantID:         rec.TenantID,
		CallerHash:       rec.CallerHash,
		Callee:           rec.Callee,
		FinalState:       rec.FinalState,
		PriorityTier:     rec.PriorityTier,
		AgentID:          rec.AgentID,
		TransferAttempts: rec.TransferAttempts,
		StartedAt:        rec.StartedAt,
		EndedAt:          rec.EndedAt,
	}
}
