package otel_test

import (
	"testing"

	mlotel "github.com/petal-labs/monkeyml/otel"
	"github.com/petal-labs/monkeyml/session"
)

func TestEnrichEmitter_StampsTraceIDs(t *testing.T) {
	exporter, tp := newTestTracer()
	tracing := mlotel.NewTracingHandler(tp.Tracer("test"))

	var events []session.Event
	s := session.New(session.OriginScript, session.Options{
		EventHandler: session.MultiEventHandler(tracing.Handle, func(e session.Event) {
			events = append(events, e)
		}),
		EventEmitterDecorator: mlotel.Decorator(tracing),
	})
	if _, err := s.Eval("1", nil); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	s.Close(nil)

	// session.started is enriched before its span exists.
	if events[0].TraceID != "" {
		t.Fatalf("session.started trace id %q", events[0].TraceID)
	}

	spans := exporter.GetSpans()
	root := spanByName(t, spans, "session:script")
	eval := spanByName(t, spans, "eval:1")

	byKind := map[session.EventKind]session.Event{}
	for _, e := range events {
		byKind[e.Kind] = e
	}
	if got := byKind[session.EventEvalStarted].SpanID; got != root.SpanContext.SpanID().String() {
		t.Fatalf("eval.started span %q, want session span", got)
	}
	if got := byKind[session.EventEvalFinished].SpanID; got != eval.SpanContext.SpanID().String() {
		t.Fatalf("eval.finished span %q, want eval span", got)
	}
	if got := byKind[session.EventSessionFinished].TraceID; got != root.SpanContext.TraceID().String() {
		t.Fatalf("session.finished trace %q", got)
	}
}

func TestEnrichEmitter_PassThroughWithoutSpans(t *testing.T) {
	_, tp := newTestTracer()
	tracing := mlotel.NewTracingHandler(tp.Tracer("test"))

	var got session.Event
	emit := mlotel.EnrichEmitter(func(e session.Event) { got = e }, tracing)
	emit(session.NewEvent(session.EventEvalStarted, "none"))
	if got.TraceID != "" || got.SpanID != "" {
		t.Fatalf("expected no trace ids, got %q/%q", got.TraceID, got.SpanID)
	}
}
