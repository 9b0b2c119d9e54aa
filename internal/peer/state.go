// Package peer drives the offer/answer/candidate exchange with one remote
// peer until the media path is connected or torn down.
package peer

import (
	"errors"
	"fmt"
)

type State int

const (
	Idle State = iota
	OfferSent
	OfferReceived
	AnswerSent
	AnswerReceived
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case OfferSent:
		return "offer-sent"
	case OfferReceived:
		return "offer-received"
	case AnswerSent:
		return "answer-sent"
	case AnswerReceived:
		return "answer-received"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrInvalidTransition = errors.New("invalid negotiation transition")
	ErrClosed            = errors.New("negotiation closed")
)

// transitions lists the moves allowed out of each state. Closed is reachable
// from everywhere and leads nowhere.
var transitions = map[State][]State{
	Idle:           {OfferSent, OfferReceived},
	OfferSent:      {AnswerReceived},
	OfferReceived:  {AnswerSent},
	AnswerSent:     {Connected},
	AnswerReceived: {Connected},
}

func canMove(from, to State) bool {
	if from == Closed {
		return false
	}
	if to == Closed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
