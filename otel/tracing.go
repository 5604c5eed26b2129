// Package otel provides OpenTelemetry integration for monkeyml session
// events.
package otel

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/monkeyml/session"
)

// TracingHandler translates session events into spans. Each session gets a
// root span and each evaluation a child span under it.
type TracingHandler struct {
	tracer trace.Tracer

	mu           sync.RWMutex
	sessionSpans map[string]trace.Span      // session ID -> span
	sessionCtxs  map[string]context.Context // session ID -> context (for child spans)
	evalSpans    map[evalKey]trace.Span     // session ID + step -> span
}

type evalKey struct {
	sessionID string
	step      int
}

// NewTracingHandler creates a TracingHandler that starts spans on tracer.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:       tracer,
		sessionSpans: make(map[string]trace.Span),
		sessionCtxs:  make(map[string]context.Context),
		evalSpans:    make(map[evalKey]trace.Span),
	}
}

// Handle starts or ends spans for one event. It has session.EventHandler
// semantics.
func (h *TracingHandler) Handle(e session.Event) {
	switch e.Kind {
	case session.EventSessionStarted:
		h.handleSessionStarted(e)
	case session.EventEvalStarted:
		h.handleEvalStarted(e)
	case session.EventEvalFinished, session.EventEvalFailed:
		h.handleEvalEnded(e)
	case session.EventSessionFinished:
		h.handleSessionFinished(e)
	}
}

func (h *TracingHandler) handleSessionStarted(e session.Event) {
	spanName := "session:" + string(e.Origin)
	if name := e.PayloadString("name"); name != "" {
		spanName += ":" + name
	}

	ctx, span := h.tracer.Start(context.Background(), spanName,
		trace.WithAttributes(
			attribute.String("monkeyml.session_id", e.SessionID),
			attribute.String("monkeyml.origin", string(e.Origin)),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.sessionSpans[e.SessionID] = span
	h.sessionCtxs[e.SessionID] = ctx
	h.mu.Unlock()
}

func (h *TracingHandler) handleEvalStarted(e session.Event) {
	h.mu.RLock()
	parent, ok := h.sessionCtxs[e.SessionID]
	h.mu.RUnlock()
	if !ok {
		parent = context.Background()
	}

	_, span := h.tracer.Start(parent, "eval:"+strconv.Itoa(e.Step),
		trace.WithAttributes(
			attribute.String("monkeyml.session_id", e.SessionID),
			attribute.Int("monkeyml.step", e.Step),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.evalSpans[evalKey{e.SessionID, e.Step}] = span
	h.mu.Unlock()
}

func (h *TracingHandler) handleEvalEnded(e session.Event) {
	key := evalKey{e.SessionID, e.Step}

	h.mu.Lock()
	span, ok := h.evalSpans[key]
	delete(h.evalSpans, key)
	h.mu.Unlock()
	if !ok {
		return
	}

	if e.Kind == session.EventEvalFailed {
		msg := e.PayloadString("error")
		span.SetAttributes(attribute.String("monkeyml.failure_reason", e.PayloadString("reason")))
		span.SetStatus(codes.Error, msg)
		span.RecordError(spanError(msg), trace.WithTimestamp(e.Time))
	} else {
		if result := e.PayloadString("result"); result != "" {
			span.SetAttributes(attribute.String("monkeyml.result", result))
		}
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) handleSessionFinished(e session.Event) {
	h.mu.Lock()
	span, ok := h.sessionSpans[e.SessionID]
	delete(h.sessionSpans, e.SessionID)
	delete(h.sessionCtxs, e.SessionID)
	h.mu.Unlock()
	if !ok {
		return
	}

	status := e.PayloadString("status")
	span.SetAttributes(
		attribute.String("monkeyml.status", status),
		attribute.String("monkeyml.duration", e.Elapsed.String()),
	)
	if steps, ok := e.Payload["steps"].(int); ok {
		span.SetAttributes(attribute.Int("monkeyml.steps", steps))
	}
	if status == session.StatusFailed {
		msg := e.PayloadString("error")
		if msg == "" {
			msg = "session failed"
		}
		span.SetStatus(codes.Error, msg)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

// ActiveEvalSpanContext returns the span context of the running evaluation
// identified by sessionID and step, or an empty SpanContext.
func (h *TracingHandler) ActiveEvalSpanContext(sessionID string, step int) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.evalSpans[evalKey{sessionID, step}]
	h.mu.RUnlock()
	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// ActiveSessionSpanContext returns the span context of the session root
// span, or an empty SpanContext.
func (h *TracingHandler) ActiveSessionSpanContext(sessionID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.sessionSpans[sessionID]
	h.mu.RUnlock()
	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

type spanError string

func (e spanError) Error() string { return string(e) }
