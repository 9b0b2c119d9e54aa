package signal

import (
	"github.com/dkeye/Huddle/internal/wire"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleSignal(p *peerSocket, data []byte) {
	kind, err := wire.PeekType(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch kind {
	case wire.TypeJoin:
		ctl.handleJoin(p, data)
	case wire.TypeLeave:
		ctl.handleLeave(p)
	case wire.TypePing:
		ctl.handlePing(p)
	case wire.TypeOffer, wire.TypeAnswer, wire.TypeICECandidate:
		ctl.handleRelay(p, data)
	default:
		log.Warn().Str("module", "signal").Str("type", kind).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) sendJSON(p *peerSocket, v any) {
	b, err := wire.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = p.conn.TrySend(b)
}
