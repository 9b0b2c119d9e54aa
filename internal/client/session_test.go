package client

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/peer"
	"github.com/dkeye/Huddle/internal/wire"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func newSession(self string) (*VoiceSession, *outbox, *mediaBox) {
	out, box := &outbox{}, newMediaBox()
	s := NewVoiceSession(SessionConfig{RoomID: "v1", UserID: "U", PeerID: domain.PeerID(self)}, out, box.factory, nil)
	return s, out, box
}

func TestVoiceSession_Join_Frame(t *testing.T) {
	req := require.New(t)
	s, out, _ := newSession("p1")

	req.NoError(s.Join())

	var j wire.Join
	req.NoError(json.Unmarshal(out.frames[0], &j))
	req.Equal(wire.Join{Type: wire.TypeJoin, RoomID: "v1", UserID: "U", PeerID: "p1"}, j)
	req.False(s.Joined())
}

func TestVoiceSession_Newcomer_Offers_To_Every_Listed_Peer(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, out, _ := newSession("p3")

	// given the room snapshot lists two earlier peers
	req.NoError(s.HandleFrame(ctx, frame(t, wire.Peers{Type: wire.TypePeers, Peers: []wire.PeerInfo{
		{UserID: "A", PeerID: "p1"}, {UserID: "B", PeerID: "p2"},
	}})))

	// then an offer goes to each of them
	req.True(s.Joined())
	sent := out.negotiations(t)
	req.Len(sent, 2)
	targets := []domain.PeerID{sent[0].TargetPeerID, sent[1].TargetPeerID}
	req.ElementsMatch([]domain.PeerID{"p1", "p2"}, targets)
	for _, n := range sent {
		req.Equal(wire.TypeOffer, n.Type)
		var sdp webrtc.SessionDescription
		req.NoError(json.Unmarshal(n.Offer, &sdp))
		req.Equal("offer-sdp", sdp.SDP)
	}
	req.Equal([]domain.PeerID{"p1", "p2"}, s.Remotes())

	// and the answer moves that negotiation on
	answer, err := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "a"})
	req.NoError(err)
	req.NoError(s.HandleFrame(ctx, frame(t, wire.Negotiation{Type: wire.TypeAnswer, PeerID: "p1", UserID: "A", Answer: answer})))
	n, ok := s.Negotiator("p1")
	req.True(ok)
	req.Equal(peer.AnswerReceived, n.State())
}

func TestVoiceSession_Existing_Member_Waits_Then_Answers(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, out, box := newSession("p1")
	req.NoError(s.HandleFrame(ctx, frame(t, wire.Peers{Type: wire.TypePeers})))

	// given a newcomer appears
	req.NoError(s.HandleFrame(ctx, frame(t, wire.PeerJoined{Type: wire.TypePeerJoined, UserID: "B", PeerID: "p2"})))

	// then nothing is offered
	req.Empty(out.negotiations(t))
	req.Empty(s.Remotes())

	// when its offer arrives
	offer, err := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "o"})
	req.NoError(err)
	req.NoError(s.HandleFrame(ctx, frame(t, wire.Negotiation{Type: wire.TypeOffer, PeerID: "p2", UserID: "B", Offer: offer})))

	// then this side answers
	sent := out.negotiations(t)
	req.Len(sent, 1)
	req.Equal(wire.TypeAnswer, sent[0].Type)
	req.Equal(domain.PeerID("p2"), sent[0].TargetPeerID)

	cand, err := json.Marshal(webrtc.ICECandidateInit{Candidate: "candidate:1"})
	req.NoError(err)
	req.NoError(s.HandleFrame(ctx, frame(t, wire.Negotiation{Type: wire.TypeICECandidate, PeerID: "p2", Candidate: cand})))
	req.Equal([]string{"candidate:1"}, box.get("p2").candidates)

	// local candidates and media state flow through the hooks
	box.get("p2").hooks.OnCandidate(webrtc.ICECandidateInit{Candidate: "candidate:local"})
	sent = out.negotiations(t)
	req.Equal(wire.TypeICECandidate, sent[1].Type)
	box.get("p2").hooks.OnConnected()
	n, _ := s.Negotiator("p2")
	req.Equal(peer.Connected, n.State())

	// peer-left closes and forgets it
	req.NoError(s.HandleFrame(ctx, frame(t, wire.PeerLeft{Type: wire.TypePeerLeft, PeerID: "p2"})))
	req.True(box.get("p2").isClosed())
	_, ok := s.Negotiator("p2")
	req.False(ok)
	req.Equal(peer.Closed, n.State())
}

func TestVoiceSession_Ignores_Unknown_Senders(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, out, _ := newSession("p1")

	answer, _ := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "a"})
	req.NoError(s.HandleFrame(ctx, frame(t, wire.Negotiation{Type: wire.TypeAnswer, PeerID: "ghost", Answer: answer})))
	req.NoError(s.HandleFrame(ctx, frame(t, wire.PeerLeft{Type: wire.TypePeerLeft, PeerID: "ghost"})))
	req.Empty(out.frames)

	req.ErrorIs(s.HandleFrame(ctx, []byte(`{"type":"offer","offer":{}}`)), wire.ErrInvalid)
	req.ErrorIs(s.HandleFrame(ctx, []byte(`{`)), wire.ErrMalformed)
}

func TestVoiceSession_Transport_Failure_Then_Fresh_Offer(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, _, box := newSession("p1")
	offer, _ := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "o"})
	msg := frame(t, wire.Negotiation{Type: wire.TypeOffer, PeerID: "p2", Offer: offer})

	req.NoError(s.HandleFrame(ctx, msg))
	first, _ := s.Negotiator("p2")
	firstMedia := box.get("p2")
	firstMedia.hooks.OnFailed(context.DeadlineExceeded)
	req.Equal(peer.Closed, first.State())

	// a new offer from the same peer gets a new negotiator
	req.NoError(s.HandleFrame(ctx, msg))
	second, _ := s.Negotiator("p2")
	req.NotSame(first, second)
	req.Equal(peer.AnswerSent, second.State())
}

func TestVoiceSession_Leave_Closes_All(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, out, box := newSession("p3")
	req.NoError(s.HandleFrame(ctx, frame(t, wire.Peers{Type: wire.TypePeers, Peers: []wire.PeerInfo{{UserID: "A", PeerID: "p1"}}})))

	req.NoError(s.Leave())

	req.True(box.get("p1").isClosed())
	req.Empty(s.Remotes())
	kind, err := wire.PeekType(out.frames[len(out.frames)-1])
	req.NoError(err)
	req.Equal(wire.TypeLeave, kind)

	// a closed session opens nothing
	err = s.HandleFrame(ctx, frame(t, wire.Peers{Type: wire.TypePeers, Peers: []wire.PeerInfo{{UserID: "B", PeerID: "p9"}}}))
	req.ErrorIs(err, peer.ErrClosed)
	req.Empty(s.Remotes())
}
