package signal

import (
	"github.com/dkeye/Huddle/internal/wire"
	"github.com/rs/zerolog/log"
)

// handleRelay forwards an offer, answer or ice-candidate to its target
// peer. Payloads are not inspected and unroutable frames are dropped.
func (ctl *SignalWSController) handleRelay(p *peerSocket, data []byte) {
	n, err := wire.DecodeNegotiation(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad negotiation payload")
		return
	}
	if err := ctl.Orch.Rooms.Relay(p.conn, n.Type, n.TargetPeerID, n.Payload()); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("type", n.Type).
			Str("target", string(n.TargetPeerID)).Msg("relay dropped")
	}
}
