package bus

import (
	"context"
	"log/slog"

	"github.com/petal-labs/monkeyml/session"
)

// StoreSubscriber writes events to an EventStore. Its Handle method can be
// used directly as a session.EventHandler, and Drain persists everything a
// bus subscription delivers.
type StoreSubscriber struct {
	store  EventStore
	logger *slog.Logger
}

// NewStoreSubscriber creates a new StoreSubscriber.
func NewStoreSubscriber(store EventStore, logger *slog.Logger) *StoreSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreSubscriber{
		store:  store,
		logger: logger,
	}
}

// Handle persists a single event. Failures are logged, not returned.
func (s *StoreSubscriber) Handle(event session.Event) {
	if err := s.store.Append(context.Background(), event); err != nil {
		s.logger.Error("failed to persist event",
			"session_id", event.SessionID,
			"kind", event.Kind,
			"seq", event.Seq,
			"error", err,
		)
	}
}

// Drain persists events from sub until its channel is closed or ctx is
// done.
func (s *StoreSubscriber) Drain(ctx context.Context, sub Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			s.Handle(e)
		}
	}
}
