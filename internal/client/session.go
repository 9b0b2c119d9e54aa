// Package client is the participant side of the signaling protocol: it
// keeps one negotiator per remote peer and assigns roles so only the
// newcomer ever offers.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/peer"
	"github.com/dkeye/Huddle/internal/wire"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Sender writes one frame to the signaling socket.
type Sender interface {
	Send(frame []byte) error
}

// MediaHooks are the callbacks a media connection reports through.
type MediaHooks struct {
	OnCandidate func(webrtc.ICECandidateInit)
	OnConnected func()
	OnFailed    func(error)
}

// MediaFactory opens the media end toward one remote peer.
type MediaFactory func(ctx context.Context, remote domain.PeerID, hooks MediaHooks) (peer.MediaConnection, error)

type SessionConfig struct {
	RoomID domain.RoomID
	UserID domain.UserID
	PeerID domain.PeerID
}

// VoiceSession is one join of one room. It is not reused: a reconnect
// builds a new session with a new peer id.
type VoiceSession struct {
	cfg      SessionConfig
	out      Sender
	media    MediaFactory
	observer peer.Observer

	mu     sync.Mutex
	peers  map[domain.PeerID]*peer.Negotiator
	joined bool
	closed bool
}

func NewVoiceSession(cfg SessionConfig, out Sender, media MediaFactory, observer peer.Observer) *VoiceSession {
	if observer == nil {
		observer = peer.NopObserver
	}
	return &VoiceSession{
		cfg:      cfg,
		out:      out,
		media:    media,
		observer: observer,
		peers:    make(map[domain.PeerID]*peer.Negotiator),
	}
}

func (s *VoiceSession) PeerID() domain.PeerID { return s.cfg.PeerID }

func (s *VoiceSession) Join() error {
	return s.send(wire.Join{Type: wire.TypeJoin, RoomID: s.cfg.RoomID, UserID: s.cfg.UserID, PeerID: s.cfg.PeerID})
}

// Joined reports whether the room answered the join with its snapshot.
func (s *VoiceSession) Joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined
}

// HandleFrame applies one frame received on the signaling socket.
func (s *VoiceSession) HandleFrame(ctx context.Context, data []byte) error {
	kind, err := wire.PeekType(data)
	if err != nil {
		return err
	}
	switch kind {
	case wire.TypePeers:
		var m wire.Peers
		if err := wire.Decode(data, &m); err != nil {
			return err
		}
		return s.onPeers(ctx, m.Peers)
	case wire.TypePeerJoined:
		var m wire.PeerJoined
		if err := wire.Decode(data, &m); err != nil {
			return err
		}
		// the newcomer offers, we wait
		log.Info().Str("module", "client").Str("peer", string(m.PeerID)).Str("user", string(m.UserID)).Msg("peer joined")
		return nil
	case wire.TypePeerLeft:
		var m wire.PeerLeft
		if err := wire.Decode(data, &m); err != nil {
			return err
		}
		s.drop(m.PeerID)
		return nil
	case wire.TypeOffer, wire.TypeAnswer, wire.TypeICECandidate:
		var n wire.Negotiation
		if err := wire.Decode(data, &n); err != nil {
			return err
		}
		if n.PeerID == "" {
			return fmt.Errorf("%w: %s without sender", wire.ErrInvalid, kind)
		}
		return s.onNegotiation(ctx, n)
	case wire.TypePong:
		return nil
	}
	log.Debug().Str("module", "client").Str("type", kind).Msg("ignored frame")
	return nil
}

// onPeers starts an offer toward every peer that was in the room first.
func (s *VoiceSession) onPeers(ctx context.Context, peers []wire.PeerInfo) error {
	s.mu.Lock()
	s.joined = true
	s.mu.Unlock()

	var errs []error
	for _, p := range peers {
		if p.PeerID == s.cfg.PeerID {
			continue
		}
		n, err := s.open(ctx, p.PeerID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := n.Start(ctx); err != nil {
			errs = append(errs, fmt.Errorf("offer to %s: %w", p.PeerID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *VoiceSession) onNegotiation(ctx context.Context, n wire.Negotiation) error {
	switch n.Type {
	case wire.TypeOffer:
		var sdp webrtc.SessionDescription
		if err := json.Unmarshal(n.Offer, &sdp); err != nil {
			return fmt.Errorf("%w: offer: %w", wire.ErrMalformed, err)
		}
		neg, err := s.open(ctx, n.PeerID)
		if err != nil {
			return err
		}
		return neg.HandleOffer(ctx, sdp)
	case wire.TypeAnswer:
		var sdp webrtc.SessionDescription
		if err := json.Unmarshal(n.Answer, &sdp); err != nil {
			return fmt.Errorf("%w: answer: %w", wire.ErrMalformed, err)
		}
		neg, ok := s.Negotiator(n.PeerID)
		if !ok {
			log.Debug().Str("module", "client").Str("peer", string(n.PeerID)).Msg("answer from unknown peer")
			return nil
		}
		return neg.HandleAnswer(sdp)
	default:
		var c webrtc.ICECandidateInit
		if err := json.Unmarshal(n.Candidate, &c); err != nil {
			return fmt.Errorf("%w: candidate: %w", wire.ErrMalformed, err)
		}
		neg, ok := s.Negotiator(n.PeerID)
		if !ok {
			log.Debug().Str("module", "client").Str("peer", string(n.PeerID)).Msg("candidate from unknown peer")
			return nil
		}
		return neg.HandleCandidate(c)
	}
}

// open returns a fresh negotiator for remote. A negotiator that already
// left Idle is replaced, since a new offer means the remote started over.
func (s *VoiceSession) open(ctx context.Context, remote domain.PeerID) (*peer.Negotiator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, peer.ErrClosed
	}
	if n, ok := s.peers[remote]; ok {
		if n.State() == peer.Idle {
			return n, nil
		}
		n.Close()
		delete(s.peers, remote)
	}

	var n *peer.Negotiator
	media, err := s.media(ctx, remote, MediaHooks{
		OnCandidate: func(c webrtc.ICECandidateInit) {
			if err := n.LocalCandidate(c); err != nil && !errors.Is(err, peer.ErrClosed) {
				log.Warn().Err(err).Str("module", "client").Str("peer", string(remote)).Msg("send candidate")
			}
		},
		OnConnected: func() {
			if err := n.MarkConnected(); err != nil {
				log.Warn().Err(err).Str("module", "client").Str("peer", string(remote)).Msg("mark connected")
			}
		},
		OnFailed: func(err error) { n.Fail(err) },
	})
	if err != nil {
		return nil, fmt.Errorf("open media to %s: %w", remote, err)
	}
	n = peer.NewNegotiator(remote, media, signalSender{out: s.out}, peer.WithObserver(s.observer))
	s.peers[remote] = n
	return n, nil
}

func (s *VoiceSession) drop(remote domain.PeerID) {
	s.mu.Lock()
	n, ok := s.peers[remote]
	delete(s.peers, remote)
	s.mu.Unlock()
	if ok {
		n.Close()
		log.Info().Str("module", "client").Str("peer", string(remote)).Msg("peer left")
	}
}

func (s *VoiceSession) Negotiator(remote domain.PeerID) (*peer.Negotiator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.peers[remote]
	return n, ok
}

// Remotes lists the peers this session negotiates with, ordered.
func (s *VoiceSession) Remotes() []domain.PeerID {
	s.mu.Lock()
	ids := lo.Keys(s.peers)
	s.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// Leave tells the room and closes every negotiation.
func (s *VoiceSession) Leave() error {
	err := s.send(wire.Control{Type: wire.TypeLeave})
	s.Close()
	return err
}

// Close ends every negotiation without telling the room.
func (s *VoiceSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	peers := s.peers
	s.peers = make(map[domain.PeerID]*peer.Negotiator)
	s.mu.Unlock()
	for _, n := range peers {
		n.Close()
	}
}

func (s *VoiceSession) send(v any) error {
	b, err := wire.Encode(v)
	if err != nil {
		return err
	}
	return s.out.Send(b)
}

// signalSender turns negotiator output into relay frames.
type signalSender struct {
	out Sender
}

func (s signalSender) SendOffer(to domain.PeerID, sdp webrtc.SessionDescription) error {
	return s.relay(wire.TypeOffer, to, sdp)
}

func (s signalSender) SendAnswer(to domain.PeerID, sdp webrtc.SessionDescription) error {
	return s.relay(wire.TypeAnswer, to, sdp)
}

func (s signalSender) SendCandidate(to domain.PeerID, c webrtc.ICECandidateInit) error {
	return s.relay(wire.TypeICECandidate, to, c)
}

func (s signalSender) relay(kind string, to domain.PeerID, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	n, err := wire.NewNegotiation(kind, raw)
	if err != nil {
		return err
	}
	n.TargetPeerID = to
	b, err := wire.Encode(n)
	if err != nil {
		return err
	}
	return s.out.Send(b)
}
