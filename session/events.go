package session

import "time"

// EventKind identifies the type of event emitted by a session.
type EventKind string

const (
	// EventSessionStarted is emitted when a session is created.
	EventSessionStarted EventKind = "session.started"

	// EventEvalStarted is emitted before a program is evaluated.
	EventEvalStarted EventKind = "eval.started"

	// EventEvalFinished is emitted when a program evaluates to completion.
	EventEvalFinished EventKind = "eval.finished"

	// EventEvalFailed is emitted when a program fails to parse or faults.
	EventEvalFailed EventKind = "eval.failed"

	// EventSessionFinished is emitted once, when the session is closed.
	EventSessionFinished EventKind = "session.finished"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Event is a structured record of what happened during a session.
type Event struct {
	// Kind identifies the event type.
	Kind EventKind

	// SessionID is the unique identifier of the session.
	SessionID string

	// Origin is where the session came from (repl, script, http, schedule).
	Origin Origin

	// Step is the 1-indexed evaluation the event belongs to (0 for
	// session-level events).
	Step int

	// Time is when the event occurred.
	Time time.Time

	// Elapsed is the duration since the session or evaluation started.
	Elapsed time.Duration

	// Payload contains event-specific data.
	Payload map[string]any

	// Seq is a monotonic sequence number per session (1-indexed).
	Seq uint64

	// TraceID is the OpenTelemetry trace ID (hex-encoded, empty when OTel inactive).
	TraceID string

	// SpanID is the OpenTelemetry span ID (hex-encoded, empty when OTel inactive).
	SpanID string
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(kind EventKind, sessionID string) Event {
	return Event{
		Kind:      kind,
		SessionID: sessionID,
		Time:      time.Now(),
		Payload:   make(map[string]any),
	}
}

// WithOrigin sets the session origin on the event.
func (e Event) WithOrigin(origin Origin) Event {
	e.Origin = origin
	return e
}

// WithStep sets the evaluation step on the event.
func (e Event) WithStep(step int) Event {
	e.Step = step
	return e
}

// WithElapsed sets the elapsed duration on the event.
func (e Event) WithElapsed(elapsed time.Duration) Event {
	e.Elapsed = elapsed
	return e
}

// WithPayload adds a key-value pair to the event payload.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// PayloadString returns a string payload entry, or "" when the key is
// absent or not a string.
func (e Event) PayloadString(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// EventEmitter is a function type for emitting events.
type EventEmitter func(Event)

// EventEmitterDecorator wraps an emitter to add cross-cutting behavior,
// such as stamping trace metadata onto events.
type EventEmitterDecorator func(EventEmitter) EventEmitter

// EventPublisher can publish events to external subscribers. It is
// satisfied by bus.EventBus.
type EventPublisher interface {
	Publish(event Event)
}

// EventHandler is a function type for handling events.
type EventHandler func(Event)

// MultiEventHandler combines multiple handlers into one. Nil handlers are
// skipped.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}

// ChannelEventHandler returns a handler that sends events to a channel.
// Events are dropped if the channel is full.
func ChannelEventHandler(ch chan<- Event) EventHandler {
	return func(e Event) {
		select {
		case ch <- e:
		default:
		}
	}
}
