package server

import (
	"net/http"
	"strconv"
	"time"

	mlotel "github.com/petal-labs/monkeyml/otel"
	"github.com/petal-labs/monkeyml/session"
)

// EventResponse is the JSON form of a session event.
type EventResponse struct {
	Kind      string         `json:"kind"`
	SessionID string         `json:"session_id"`
	Origin    string         `json:"origin"`
	Step      int            `json:"step"`
	Seq       uint64         `json:"seq"`
	Time      time.Time      `json:"time"`
	ElapsedMS int64          `json:"elapsed_ms"`
	Payload   map[string]any `json:"payload,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	SpanID    string         `json:"span_id,omitempty"`
}

// NewEventResponse converts an event to its JSON form.
func NewEventResponse(e session.Event) EventResponse {
	return EventResponse{
		Kind:      string(e.Kind),
		SessionID: e.SessionID,
		Origin:    string(e.Origin),
		Step:      e.Step,
		Seq:       e.Seq,
		Time:      e.Time,
		ElapsedMS: e.Elapsed.Milliseconds(),
		Payload:   e.Payload,
		TraceID:   e.TraceID,
		SpanID:    e.SpanID,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.eventStore == nil {
		writeError(w, http.StatusNotFound, "NO_EVENT_STORE", "event store is not configured")
		return
	}
	ids, err := s.eventStore.SessionIDs(r.Context())
	if err != nil {
		s.logger.Error("list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if s.eventStore == nil {
		writeError(w, http.StatusNotFound, "NO_EVENT_STORE", "event store is not configured")
		return
	}
	id := r.PathValue("id")

	var afterSeq uint64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PARAM", "after must be a non-negative integer")
			return
		}
		afterSeq = n
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_PARAM", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	events, err := s.eventStore.List(r.Context(), id, afterSeq, limit)
	if err != nil {
		s.logger.Error("list session events", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if len(events) == 0 && afterSeq == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "session "+id+" not found")
		return
	}

	out := make([]EventResponse, len(events))
	for i, e := range events {
		out[i] = NewEventResponse(e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "events": out})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metricsReader == nil {
		writeError(w, http.StatusNotFound, "NO_METRICS", "metrics are not configured")
		return
	}
	snaps, err := mlotel.Snapshot(r.Context(), s.metricsReader)
	if err != nil {
		s.logger.Error("collect metrics", "error", err)
		writeError(w, http.StatusInternalServerError, "METRICS_ERROR", err.Error())
		return
	}
	if snaps == nil {
		snaps = []mlotel.MetricSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": snaps})
}

func (s *Server) handleSchedules(w http.ResponseWriter, _ *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusOK, map[string]any{"schedules": []ScheduleStatus{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": s.scheduler.Status()})
}
