package otel

import "github.com/petal-labs/monkeyml/session"

// EnrichEmitter wraps an emitter so that events carry the trace and span
// IDs of the active evaluation span, falling back to the session span.
// Events pass through unchanged when no span is active.
func EnrichEmitter(emit session.EventEmitter, tracing *TracingHandler) session.EventEmitter {
	return func(e session.Event) {
		sc := tracing.ActiveEvalSpanContext(e.SessionID, e.Step)
		if !sc.IsValid() {
			sc = tracing.ActiveSessionSpanContext(e.SessionID)
		}
		if sc.IsValid() {
			e.TraceID = sc.TraceID().String()
			e.SpanID = sc.SpanID().String()
		}
		emit(e)
	}
}

// Decorator returns EnrichEmitter as a session.EventEmitterDecorator.
func Decorator(tracing *TracingHandler) session.EventEmitterDecorator {
	return func(emit session.EventEmitter) session.EventEmitter {
		return EnrichEmitter(emit, tracing)
	}
}
