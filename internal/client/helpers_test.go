package client

import (
	"context"
	"sync"
	"testing"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/peer"
	"github.com/dkeye/Huddle/internal/wire"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

type outbox struct {
	mu     sync.Mutex
	frames [][]byte
}

func (o *outbox) Send(frame []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames = append(o.frames, frame)
	return nil
}

func (o *outbox) negotiations(t *testing.T) []wire.Negotiation {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []wire.Negotiation
	for _, f := range o.frames {
		kind, err := wire.PeekType(f)
		require.NoError(t, err)
		if !wire.IsNegotiation(kind) {
			continue
		}
		var n wire.Negotiation
		require.NoError(t, wire.Decode(f, &n))
		out = append(out, n)
	}
	return out
}

type stubMedia struct {
	mu         sync.Mutex
	remoteSet  bool
	candidates []string
	closed     bool
	hooks      MediaHooks
}

func (m *stubMedia) CreateOffer(context.Context) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (m *stubMedia) CreateAnswer(context.Context) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (m *stubMedia) SetRemoteDescription(webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remoteSet = true
	return nil
}

func (m *stubMedia) AddICECandidate(c webrtc.ICECandidateInit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = append(m.candidates, c.Candidate)
	return nil
}

func (m *stubMedia) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *stubMedia) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// mediaBox hands out stubMedia and remembers them by remote peer.
type mediaBox struct {
	mu    sync.Mutex
	media map[domain.PeerID]*stubMedia
}

func newMediaBox() *mediaBox { return &mediaBox{media: make(map[domain.PeerID]*stubMedia)} }

func (b *mediaBox) factory(_ context.Context, remote domain.PeerID, hooks MediaHooks) (peer.MediaConnection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := &stubMedia{hooks: hooks}
	b.media[remote] = m
	return m, nil
}

func (b *mediaBox) get(remote domain.PeerID) *stubMedia {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.media[remote]
}

func frame(t *testing.T, v any) []byte {
	t.Helper()
	b, err := wire.Encode(v)
	require.NoError(t, err)
	return b
}
