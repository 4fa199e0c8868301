// Package eventstream is the Event Emitter (spec §2 row I, §4.6): it
// stamps round info onto every emitted event, assigns it a monotonic
// per-session event_id through the Storage collaborator, fans it out to
// whatever live subscribers are attached (SSE/WebSocket handlers), and
// exposes a resume read path that replays persisted events before
// switching to the live tail.
//
// Grounded on the teacher's infrastructure/eventbus.InMemoryBus (buffered
// channel + fan-out-with-panic-recovery dispatch loop), widened from a
// single global bus with string event types to a per-session subscriber
// registry backed by a durable monotonic id, since the teacher's bus has
// no id assignment or resume concept at all — WAL persistence there
// (PersistentBus) is an audit trail replayed in full, not a per-session
// seek point.
package eventstream

import (
	"context"
	"sync"
	"time"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/repository"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"
	"github.com/ylsdamxssjxxdd/wunder-sub003/pkg/safego"
	"go.uber.org/zap"
)

// DefaultResumePollInterval is STREAM_EVENT_RESUME_POLL_INTERVAL_S (spec
// §4.6): how long a resume stream waits for new events once the session
// has gone terminal before it gives up and closes.
const DefaultResumePollInterval = 2 * time.Second

// subscriberBuffer bounds how far a slow live subscriber may lag before
// events are dropped for it, mirroring the teacher's InMemoryBus buffered-
// channel-with-drop behavior rather than blocking the emitting goroutine.
const subscriberBuffer = 128

// Emitter is the Event Emitter. One Emitter instance is shared across all
// sessions; subscriptions are keyed by session id.
type Emitter struct {
	store  repository.StreamEventStore
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string][]chan session.StreamEvent
}

func NewEmitter(store repository.StreamEventStore, logger *zap.Logger) *Emitter {
	return &Emitter{
		store: store,
		logger: logger,
		subs:   make(map[string][]chan session.StreamEvent),
	}
}

// Emit stamps round info into data, persists the event through Storage to
// obtain its event_id, and publishes it to every live subscriber of
// sessionID. Persistence happens before fan-out (spec §4.6 "append to
// persistent store; publish to the live channel") so a resume client can
// never observe an event id the store doesn't yet have.
func (e *Emitter) Emit(ctx context.Context, sessionID string, name session.EventName, data map[string]any, round session.RoundInfo) (session.StreamEvent, error) {
	if data == nil {
		data = make(map[string]any, 2)
	}
	data["user_round"] = round.UserRound
	if round.ModelRound > 0 {
		data["model_round"] = round.ModelRound
	}

	eventID, err := e.store.AppendStreamEvent(ctx, sessionID, name, data)
	if err != nil {
		return session.StreamEvent{}, err
	}

	ev := session.StreamEvent{
		EventID:   eventID,
		Event:     name,
		Data:      data,
		Timestamp: time.Now(),
	}
	e.publish(sessionID, ev)
	return ev, nil
}

// Subscribe attaches a live tail listener for sessionID. The returned
// cancel func must be called when the caller is done, or the subscriber
// channel leaks for the lifetime of the Emitter.
func (e *Emitter) Subscribe(sessionID string) (<-chan session.StreamEvent, func()) {
	ch := make(chan session.StreamEvent, subscriberBuffer)

	e.mu.Lock()
	e.subs[sessionID] = append(e.subs[sessionID], ch)
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		list := e.subs[sessionID]
		for i, c := range list {
			if c == ch {
				e.subs[sessionID] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(e.subs[sessionID]) == 0 {
			delete(e.subs, sessionID)
		}
		close(ch)
	}
	return ch, cancel
}

func (e *Emitter) publish(sessionID string, ev session.StreamEvent) {
	e.mu.Lock()
	listeners := append([]chan session.StreamEvent(nil), e.subs[sessionID]...)
	e.mu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- ev:
		default:
			e.logger.Warn("Event subscriber buffer full, dropping event",
				zap.String("session_id", sessionID),
				zap.String("event", string(ev.Event)),
				zap.Int64("event_id", ev.EventID))
		}
	}
}

// Resume streams persisted events with event_id > afterID in id order,
// then switches to the live tail while statusFn reports a non-terminal
// status, exiting when the session is terminal and no new event arrives
// within DefaultResumePollInterval (spec §4.6). The returned channel is
// closed when Resume gives up or ctx is cancelled.
func (e *Emitter) Resume(ctx context.Context, sessionID string, afterID int64, statusFn func() session.Status) <-chan session.StreamEvent {
	out := make(chan session.StreamEvent, subscriberBuffer)

	safego.GoCtx(ctx, e.logger, "eventstream:resume", func(ctx context.Context) {
		defer close(out)

		backlog, err := e.store.LoadStreamEvents(ctx, sessionID, afterID, 0)
		if err != nil {
			e.logger.Error("Resume backlog load failed", zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		last := afterID
		for _, ev := range backlog {
			select {
			case out <- ev:
				last = ev.EventID
			case <-ctx.Done():
				return
			}
		}

		live, cancel := e.Subscribe(sessionID)
		defer cancel()

		// A live event may have been published between the backlog load
		// and Subscribe; re-check the store once more so that window
		// can't silently drop an event.
		gap, err := e.store.LoadStreamEvents(ctx, sessionID, last, 0)
		if err == nil {
			for _, ev := range gap {
				select {
				case out <- ev:
					last = ev.EventID
				case <-ctx.Done():
					return
				}
			}
		}

		idle := time.NewTimer(DefaultResumePollInterval)
		defer idle.Stop()
		for {
			select {
			case ev, ok := <-live:
				if !ok {
					return
				}
				if ev.EventID <= last {
					continue // already delivered via the gap catch-up read
				}
				last = ev.EventID
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				if !idle.Stop() {
					<-idle.C
				}
				idle.Reset(DefaultResumePollInterval)
			case <-idle.C:
				if statusFn().Terminal() {
					return
				}
				idle.Reset(DefaultResumePollInterval)
			case <-ctx.Done():
				return
			}
		}
	})

	return out
}

// Purge clears a session's persisted event log, used on a fresh stream-mode
// acquire for a non-admin caller so a resuming client never sees stale ids
// left over from a prior run of the same session id (spec §4.1 step 1).
func (e *Emitter) Purge(ctx context.Context, sessionID string) error {
	return e.store.DeleteStreamEventsBySession(ctx, sessionID)
}
