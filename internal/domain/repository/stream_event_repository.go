package repository

import (
	"context"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"
)

// StreamEventStore is the durable side of the Event Emitter (spec §2 row
// I, §4.6): an append-only, strictly-increasing-per-session log of
// StreamEvents. Implementations must be linearizable per session id (spec
// §4.8) — two concurrent appends for the same session must not be handed
// the same event_id.
type StreamEventStore interface {
	// AppendStreamEvent persists one event and returns the monotonic
	// event_id it was assigned.
	AppendStreamEvent(ctx context.Context, sessionID string, event session.EventName, data map[string]any) (int64, error)

	// LoadStreamEvents returns persisted events for sessionID with
	// event_id > afterID, in id order, capped at limit (0 = no cap).
	LoadStreamEvents(ctx context.Context, sessionID string, afterID int64, limit int) ([]session.StreamEvent, error)

	// MaxStreamEventID returns the highest event_id persisted for
	// sessionID, or 0 if none exist.
	MaxStreamEventID(ctx context.Context, sessionID string) (int64, error)

	// DeleteStreamEventsBySession purges a session's event log, used when
	// a fresh stream-mode acquire must not show a resuming client stale
	// ids from a prior run of the same session (spec §4.1 step 1).
	DeleteStreamEventsBySession(ctx context.Context, sessionID string) error
}
