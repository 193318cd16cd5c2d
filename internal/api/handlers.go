// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lumenhq/beacon/internal/admission"
	"github.com/lumenhq/beacon/internal/bus"
	"github.com/lumenhq/beacon/internal/event"
	"github.com/lumenhq/beacon/internal/log"
	"github.com/lumenhq/beacon/internal/metrics"
	"github.com/lumenhq/beacon/internal/session"
)

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStream runs the admission sequence and, on success, holds the
// connection open as an SSE stream until the client disconnects or the
// process shuts down.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "stream")

	token := ExtractStreamToken(r)
	if token == "" {
		s.ctrl.RecordError()
		metrics.IncRejected("missing_token")
		writeErrorCode(w, http.StatusUnauthorized, CodeMissingToken, "authentication token required")
		return
	}

	id, err := s.resolver.Resolve(r.Context(), token)
	if err != nil {
		s.ctrl.RecordError()
		metrics.IncRejected("invalid_token")
		logger.Warn().Str("remote_addr", r.RemoteAddr).Msg("stream credential rejected")
		writeErrorCode(w, http.StatusUnauthorized, CodeInvalidToken, "invalid or expired token")
		return
	}

	ticket, err := s.ctrl.Admit(id.UserID, id.OrganizationID)
	if err != nil {
		if errors.Is(err, admission.ErrConnectionLimit) {
			logger.Warn().
				Str("user_id", id.UserID).
				Str("org_id", id.OrganizationID).
				Msg("organization connection limit reached")
			writeErrorCode(w, http.StatusTooManyRequests, CodeConnectionLimit,
				"organization connection limit exceeded")
			return
		}
		writeErrorCode(w, http.StatusInternalServerError, CodeInvalidToken, "admission failed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.ctrl.Release(ticket)
		writeErrorCode(w, http.StatusInternalServerError, CodeStreamingUnsupported,
			"transport does not support streaming")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := s.hub.Subscribe(bus.Subscriber{
		ClientID:       ticket.ClientID,
		UserID:         ticket.UserID,
		OrganizationID: ticket.OrganizationID,
	})

	sess := session.New(session.Config{
		Ticket:       ticket,
		Subscription: sub,
		Writer:       w,
		Flush:        flusher.Flush,
		Heartbeat:    s.cfg.HeartbeatInterval,
		Releaser:     s.ctrl,
		Logger:       logger.With().Str("client_id", ticket.ClientID).Logger(),
	})
	sess.Run(r.Context())
}

// handleSubscribers lists every live connection with its identity and age.
func (s *Server) handleSubscribers(w http.ResponseWriter, _ *http.Request) {
	snap := s.ctrl.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"totalConnections": snap.Stats.CurrentConnections,
		"metrics":          snap.Stats,
		"connectionsByOrg": snap.ConnectionsByOrg,
		"clients":          snap.Clients,
	})
}

// handleStats returns the raw engine counters.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Stats())
}

type emitRequest struct {
	Type           string         `json:"type"`
	Data           map[string]any `json:"data"`
	UserID         string         `json:"userId"`
	OrganizationID string         `json:"organizationId"`
}

// handleEmit publishes a synthetic event. It reports the current connection
// gauge but not how many sessions matched; matching is evaluated per session
// and never counted centrally.
func (s *Server) handleEmit(w http.ResponseWriter, r *http.Request) {
	var req emitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "event type is required"})
		return
	}

	s.hub.Publish(event.Event{
		Type:           req.Type,
		Data:           req.Data,
		UserID:         req.UserID,
		OrganizationID: req.OrganizationID,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"currentConnections": s.ctrl.Stats().CurrentConnections,
	})
}
