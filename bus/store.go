package bus

import (
	"context"

	"github.com/petal-labs/monkeyml/session"
)

// EventStore persists session events for replay.
type EventStore interface {
	// Append stores an event.
	Append(ctx context.Context, event session.Event) error

	// List returns the events of a session in Seq order.
	// afterSeq: return events with Seq > afterSeq (0 means all)
	// limit: max events to return (0 means no limit)
	List(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]session.Event, error)

	// LatestSeq returns the highest Seq for a session (0 if no events).
	LatestSeq(ctx context.Context, sessionID string) (uint64, error)

	// SessionIDs returns the IDs of stored sessions, oldest first.
	SessionIDs(ctx context.Context) ([]string, error)
}
