package peer

import "github.com/dkeye/Huddle/internal/domain"

type EventKind int

const (
	// EventStateChanged fires on every transition, Closed included.
	EventStateChanged EventKind = iota
	// EventCandidateQueued fires when a remote candidate waits for the
	// remote description.
	EventCandidateQueued
	// EventCandidateApplied fires when a remote candidate reaches the media
	// connection.
	EventCandidateApplied
	// EventError reports a failure that closed the negotiation.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state-changed"
	case EventCandidateQueued:
		return "candidate-queued"
	case EventCandidateApplied:
		return "candidate-applied"
	case EventError:
		return "error"
	}
	return "unknown"
}

type Event struct {
	Kind   EventKind
	Remote domain.PeerID
	From   State
	To     State
	Err    error
}

// Observer receives negotiation events. Events are delivered after the
// negotiator's lock is released, so an observer may call back into it.
type Observer interface {
	OnEvent(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

type nopObserver struct{}

func (nopObserver) OnEvent(Event) {}

// NopObserver discards every event.
var NopObserver Observer = nopObserver{}
