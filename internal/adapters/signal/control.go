package signal

import "github.com/dkeye/Huddle/internal/wire"

func (ctl *SignalWSController) handlePing(p *peerSocket) {
	ctl.sendJSON(p, wire.Control{Type: wire.TypePong})
}
