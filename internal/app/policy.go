package app

import (
	"github.com/dkeye/Huddle/internal/core"
	"github.com/rs/zerolog/log"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a socket whose send queue is full.
type Policy interface {
	OnBackPressure(conn core.Connection) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.Connection) BackpressureAction {
	return KickMember
}

// applyPolicy runs policy for every connection a send skipped. Closing a
// kicked socket makes its own worker run the usual disconnect cleanup.
func applyPolicy(policy Policy, module string, dropped []core.Connection) {
	if policy == nil {
		return
	}
	for _, conn := range dropped {
		switch policy.OnBackPressure(conn) {
		case KickMember:
			log.Warn().Str("module", module).Msg("slow consumer kicked")
			conn.Close()
		case MarkSlow:
			log.Warn().Str("module", module).Msg("slow consumer")
		case DropFrame, NoAction:
		}
	}
}
