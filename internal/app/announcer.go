package app

import (
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/wire"
	"github.com/rs/zerolog/log"
)

// WireAnnouncer encodes room membership events as signaling frames.
type WireAnnouncer struct{}

func (WireAnnouncer) Peers(existing []domain.Peer) core.Frame {
	return encodeFrame(wire.Peers{Type: wire.TypePeers, Peers: wire.PeerInfos(existing)})
}

func (WireAnnouncer) PeerJoined(p domain.Peer) core.Frame {
	return encodeFrame(wire.PeerJoined{Type: wire.TypePeerJoined, UserID: p.UserID, PeerID: p.ID})
}

func (WireAnnouncer) PeerLeft(p domain.Peer) core.Frame {
	return encodeFrame(wire.PeerLeft{Type: wire.TypePeerLeft, PeerID: p.ID})
}

func encodeFrame(v any) core.Frame {
	b, err := wire.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.rooms").Msg("encode frame")
		return nil
	}
	return b
}
