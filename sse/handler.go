// Package sse streams session events to HTTP clients as Server-Sent Events.
// Stored events are replayed first, then live events follow from the bus.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/petal-labs/monkeyml/bus"
	"github.com/petal-labs/monkeyml/session"
)

// HeartbeatInterval is the interval between SSE heartbeat comments.
const HeartbeatInterval = 15 * time.Second

type sseEvent struct {
	Kind      string         `json:"kind"`
	SessionID string         `json:"session_id"`
	Origin    string         `json:"origin"`
	Step      int            `json:"step"`
	Time      time.Time      `json:"time"`
	ElapsedMs int64          `json:"elapsed_ms"`
	Payload   map[string]any `json:"payload"`
	Seq       uint64         `json:"seq"`
	TraceID   string         `json:"trace_id,omitempty"`
	SpanID    string         `json:"span_id,omitempty"`
}

func toSSEEvent(e session.Event) sseEvent {
	return sseEvent{
		Kind:      string(e.Kind),
		SessionID: e.SessionID,
		Origin:    string(e.Origin),
		Step:      e.Step,
		Time:      e.Time,
		ElapsedMs: e.Elapsed.Milliseconds(),
		Payload:   e.Payload,
		Seq:       e.Seq,
		TraceID:   e.TraceID,
		SpanID:    e.SpanID,
	}
}

// Handler serves an SSE stream of one session's events. The session is
// named by the "id" path value; an optional "after" query parameter is the
// last sequence number the client has seen. Events already replayed from
// the store are skipped on the live stream.
//
// SSE format:
//
//	id: {seq}
//	event: {kind}
//	data: {json}
//
// A heartbeat comment ": ping\n\n" is sent every HeartbeatInterval. The
// stream closes after session.finished or when the client disconnects.
type Handler struct {
	store bus.EventStore
	bus   bus.EventBus
}

// NewHandler creates a Handler. store may be nil, in which case only live
// events are streamed.
func NewHandler(store bus.EventStore, eb bus.EventBus) *Handler {
	return &Handler{
		store: store,
		bus:   eb,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var afterSeq uint64
	if afterStr := r.URL.Query().Get("after"); afterStr != "" {
		parsed, err := strconv.ParseUint(afterStr, 10, 64)
		if err != nil {
			http.Error(w, "invalid after parameter", http.StatusBadRequest)
			return
		}
		afterSeq = parsed
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	st := &stream{w: w, flusher: flusher, lastSeq: afterSeq}

	// Subscribe before replaying so nothing published in between is lost.
	sub := h.bus.Subscribe(sessionID)
	defer sub.Close()

	if h.store != nil {
		events, err := h.store.List(r.Context(), sessionID, afterSeq, 0)
		if err != nil {
			return
		}
		for _, evt := range events {
			if done, err := st.send(evt); done || err != nil {
				return
			}
		}
	}

	st.follow(r.Context(), sub)
}

// stream writes events to one client, tracking the highest sequence
// number sent.
type stream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	lastSeq uint64
}

// send writes evt unless it was already sent. done reports that the
// session has finished and the stream should end.
func (st *stream) send(evt session.Event) (done bool, err error) {
	if evt.Seq <= st.lastSeq {
		return false, nil
	}
	data, err := json.Marshal(toSSEEvent(evt))
	if err != nil {
		return false, err
	}
	if _, err := fmt.Fprintf(st.w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Kind, data); err != nil {
		return false, err
	}
	st.flusher.Flush()
	st.lastSeq = evt.Seq
	return evt.Kind == session.EventSessionFinished, nil
}

// follow relays live events until the session finishes, the subscription
// closes or the client goes away.
func (st *stream) follow(ctx context.Context, sub bus.Subscription) {
	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if done, err := st.send(evt); done || err != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(st.w, ": ping\n\n"); err != nil {
				return
			}
			st.flusher.Flush()
		}
	}
}
