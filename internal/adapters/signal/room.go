package signal

import (
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/wire"
	"github.com/rs/zerolog/log"
)

// handleJoin puts the socket into a room. The room itself sends the peers
// snapshot and the peer-joined notices.
func (ctl *SignalWSController) handleJoin(p *peerSocket, data []byte) {
	var m wire.Join
	if err := wire.Decode(data, &m); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad join payload")
		return
	}
	if p.user != "" {
		m.UserID = p.user
	}
	if m.UserID == "" {
		log.Warn().Str("module", "signal").Str("room", string(m.RoomID)).Msg("join without user id")
		return
	}
	if ctl.JoinLimiter != nil && !ctl.JoinLimiter.Allow(p.key) {
		log.Warn().Str("module", "signal").Str("key", p.key).Msg("join rate limited")
		return
	}

	existing, err := ctl.Orch.Rooms.Join(app.JoinRequest{RoomID: m.RoomID, UserID: m.UserID, PeerID: m.PeerID}, p.conn)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("room", string(m.RoomID)).
			Str("peer", string(m.PeerID)).Msg("join dropped")
		return
	}
	log.Info().Str("module", "signal").Str("room", string(m.RoomID)).Str("peer", string(m.PeerID)).
		Str("user", string(m.UserID)).Int("existing", len(existing)).Msg("join")
}

// handleLeave leaves the current room; the socket stays open.
func (ctl *SignalWSController) handleLeave(p *peerSocket) {
	if ctl.Orch.Rooms.Leave(p.conn) {
		log.Info().Str("module", "signal").Str("user", string(p.user)).Msg("leave")
	}
}
