package relaychat

import (
	"encoding/json"
	"io"
	"log/slog"
)

// ============================================================================
// Live Event Router
// ============================================================================

// wireEvent is the subscription payload: a Message plus its action tag.
type wireEvent struct {
	Message
	Action string `json:"action,omitempty"`
}

// EventRouter applies live delta events to a conversation store. Payloads
// are decoded exactly once at this boundary into the closed Action set;
// downstream code never re-inspects the raw tag.
//
// A malformed payload is logged and dropped; one bad event must never
// take the subscription down.
type EventRouter struct {
	store        *ConversationStore
	logger       *slog.Logger
	suppressEcho bool
	onApplied    func(Event)
}

// NewEventRouter creates a router that mutates store. When suppressEcho is
// set, create events whose sender is the store's owner are ignored; that
// only suits callers that apply their own sends locally.
func NewEventRouter(store *ConversationStore, logger *slog.Logger, suppressEcho bool) *EventRouter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &EventRouter{store: store, logger: logger, suppressEcho: suppressEcho}
}

// OnEvent handles one raw subscription payload. It never panics and never
// returns an error: failures here are logged and the event discarded.
func (r *EventRouter) OnEvent(raw []byte) {
	ev, err := decodeEvent(raw)
	if err != nil {
		r.logger.Warn("dropping malformed event", "error", err)
		return
	}
	r.Apply(ev)
}

// OnApplied registers fn to run after an event has mutated the store.
// Dropped and duplicate events do not fire it. fn runs on the
// subscription read goroutine and must not block.
func (r *EventRouter) OnApplied(fn func(Event)) {
	r.onApplied = fn
}

// Apply routes a decoded event to the matching store operation.
func (r *EventRouter) Apply(ev Event) {
	applied := false
	switch ev.Action {
	case ActionCreate:
		if r.suppressEcho && ev.Message.Sender == r.store.Owner() {
			r.logger.Debug("suppressing self echo", "id", ev.Message.ID)
			return
		}
		applied = r.store.UpsertCreate(ev.Message)
		if !applied {
			r.logger.Debug("duplicate create ignored", "id", ev.Message.ID)
		}
	case ActionUpdate:
		applied = r.store.ApplyUpdate(ev.Message)
		if !applied {
			// Update for a message never seen: a later history reload
			// picks it up.
			r.logger.Debug("update for unknown message dropped", "id", ev.Message.ID)
		}
	case ActionDelete:
		applied = r.store.ApplyDelete(ev.Message)
	default:
		r.logger.Warn("dropping event with unrecognized action", "id", ev.Message.ID)
	}
	if applied && r.onApplied != nil {
		r.onApplied(ev)
	}
}

// decodeEvent parses a wire payload into a tagged Event.
func decodeEvent(raw []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}, err
	}
	return Event{Action: ParseAction(w.Action), Message: w.Message}, nil
}
