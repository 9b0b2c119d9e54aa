package peer

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// maxPendingCandidates bounds the queue held before the remote description.
const maxPendingCandidates = 128

// MediaConnection is the local end of the media path. CreateOffer and
// CreateAnswer also install the result as the local description.
type MediaConnection interface {
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetRemoteDescription(sdp webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	Close() error
}

// SignalSender delivers negotiation payloads to a remote peer through the
// signaling channel.
type SignalSender interface {
	SendOffer(to domain.PeerID, sdp webrtc.SessionDescription) error
	SendAnswer(to domain.PeerID, sdp webrtc.SessionDescription) error
	SendCandidate(to domain.PeerID, c webrtc.ICECandidateInit) error
}

type Option func(*Negotiator)

func WithObserver(o Observer) Option {
	return func(n *Negotiator) {
		if o != nil {
			n.observer = o
		}
	}
}

// Negotiator is the state machine for one remote peer. It is safe for
// concurrent use: signaling frames and media callbacks may arrive from
// different goroutines.
type Negotiator struct {
	remote   domain.PeerID
	media    MediaConnection
	signal   SignalSender
	observer Observer

	mu        sync.Mutex
	state     State
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	events    []Event
}

func NewNegotiator(remote domain.PeerID, media MediaConnection, signal SignalSender, opts ...Option) *Negotiator {
	n := &Negotiator{
		remote:   remote,
		media:    media,
		signal:   signal,
		observer: NopObserver,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Negotiator) Remote() domain.PeerID { return n.remote }

func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Start makes this side the initiator: it creates and sends the offer.
func (n *Negotiator) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.unlock()
	if err := n.check(OfferSent); err != nil {
		return err
	}
	offer, err := n.media.CreateOffer(ctx)
	if err != nil {
		return n.failLocked(fmt.Errorf("create offer: %w", err))
	}
	if err := n.signal.SendOffer(n.remote, offer); err != nil {
		return n.failLocked(fmt.Errorf("send offer: %w", err))
	}
	n.moveLocked(OfferSent)
	return nil
}

// HandleOffer makes this side the responder: it applies the remote offer
// and answers it.
func (n *Negotiator) HandleOffer(ctx context.Context, offer webrtc.SessionDescription) error {
	n.mu.Lock()
	defer n.unlock()
	if err := n.check(OfferReceived); err != nil {
		return err
	}
	if err := n.media.SetRemoteDescription(offer); err != nil {
		return n.failLocked(fmt.Errorf("apply offer: %w", err))
	}
	n.moveLocked(OfferReceived)
	n.remoteSet = true
	n.flushLocked()

	answer, err := n.media.CreateAnswer(ctx)
	if err != nil {
		return n.failLocked(fmt.Errorf("create answer: %w", err))
	}
	if err := n.signal.SendAnswer(n.remote, answer); err != nil {
		return n.failLocked(fmt.Errorf("send answer: %w", err))
	}
	n.moveLocked(AnswerSent)
	return nil
}

func (n *Negotiator) HandleAnswer(answer webrtc.SessionDescription) error {
	n.mu.Lock()
	defer n.unlock()
	if err := n.check(AnswerReceived); err != nil {
		return err
	}
	if err := n.media.SetRemoteDescription(answer); err != nil {
		return n.failLocked(fmt.Errorf("apply answer: %w", err))
	}
	n.moveLocked(AnswerReceived)
	n.remoteSet = true
	n.flushLocked()
	return nil
}

// HandleCandidate applies a remote candidate, or queues it until the
// remote description is set. It never changes the state.
func (n *Negotiator) HandleCandidate(c webrtc.ICECandidateInit) error {
	n.mu.Lock()
	defer n.unlock()
	if n.state == Closed {
		return ErrClosed
	}
	if !n.remoteSet {
		if len(n.pending) >= maxPendingCandidates {
			log.Warn().Str("module", "peer").Str("remote", string(n.remote)).Msg("candidate queue full, dropping")
			return nil
		}
		n.pending = append(n.pending, c)
		n.events = append(n.events, Event{Kind: EventCandidateQueued, Remote: n.remote, From: n.state, To: n.state})
		return nil
	}
	n.applyLocked(c)
	return nil
}

// LocalCandidate forwards a candidate gathered by the media connection.
func (n *Negotiator) LocalCandidate(c webrtc.ICECandidateInit) error {
	n.mu.Lock()
	closed := n.state == Closed
	n.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return n.signal.SendCandidate(n.remote, c)
}

// MarkConnected records that the media path is up.
func (n *Negotiator) MarkConnected() error {
	n.mu.Lock()
	defer n.unlock()
	if n.state == Connected {
		return nil
	}
	if err := n.check(Connected); err != nil {
		return err
	}
	n.moveLocked(Connected)
	return nil
}

// Fail closes the negotiation after a transport failure.
func (n *Negotiator) Fail(err error) {
	n.mu.Lock()
	defer n.unlock()
	if n.state == Closed {
		return
	}
	_ = n.failLocked(err)
}

// Close tears the negotiation down. Closed is terminal and Close is
// idempotent.
func (n *Negotiator) Close() {
	n.mu.Lock()
	defer n.unlock()
	n.closeLocked()
}

func (n *Negotiator) check(to State) error {
	if n.state == Closed {
		return ErrClosed
	}
	if !canMove(n.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, n.state, to)
	}
	return nil
}

func (n *Negotiator) moveLocked(to State) {
	from := n.state
	n.state = to
	n.events = append(n.events, Event{Kind: EventStateChanged, Remote: n.remote, From: from, To: to})
	log.Debug().Str("module", "peer").Str("remote", string(n.remote)).
		Str("from", from.String()).Str("to", to.String()).Msg("transition")
}

func (n *Negotiator) applyLocked(c webrtc.ICECandidateInit) {
	if err := n.media.AddICECandidate(c); err != nil {
		// a bad candidate costs one path, not the negotiation
		log.Warn().Err(err).Str("module", "peer").Str("remote", string(n.remote)).Msg("add candidate")
		return
	}
	n.events = append(n.events, Event{Kind: EventCandidateApplied, Remote: n.remote, From: n.state, To: n.state})
}

func (n *Negotiator) flushLocked() {
	pending := n.pending
	n.pending = nil
	for _, c := range pending {
		n.applyLocked(c)
	}
}

func (n *Negotiator) failLocked(err error) error {
	n.events = append(n.events, Event{Kind: EventError, Remote: n.remote, From: n.state, To: Closed, Err: err})
	log.Warn().Err(err).Str("module", "peer").Str("remote", string(n.remote)).Msg("negotiation failed")
	n.closeLocked()
	return err
}

func (n *Negotiator) closeLocked() {
	if n.state == Closed {
		return
	}
	n.moveLocked(Closed)
	n.pending = nil
	if err := n.media.Close(); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("remote", string(n.remote)).Msg("media close")
	}
}

// unlock releases the lock and then delivers the events collected under it.
func (n *Negotiator) unlock() {
	events := n.events
	n.events = nil
	n.mu.Unlock()
	for _, e := range events {
		n.observer.OnEvent(e)
	}
}
