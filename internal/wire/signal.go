package wire

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Huddle/internal/domain"
)

// Join asks the room manager to add a peer to a voice room.
type Join struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId" validate:"required,max=128"`
	// UserID may be omitted when the socket carries a verified identity.
	UserID domain.UserID `json:"userId" validate:"max=128"`
	PeerID domain.PeerID `json:"peerId" validate:"required,max=128"`
}

type PeerInfo struct {
	UserID domain.UserID `json:"userId"`
	PeerID domain.PeerID `json:"peerId"`
}

type Peers struct {
	Type  string     `json:"type"`
	Peers []PeerInfo `json:"peers"`
}

type PeerJoined struct {
	Type   string        `json:"type"`
	UserID domain.UserID `json:"userId"`
	PeerID domain.PeerID `json:"peerId"`
}

type PeerLeft struct {
	Type   string        `json:"type"`
	PeerID domain.PeerID `json:"peerId"`
}

// Negotiation is an offer, answer or ice-candidate frame. The payload fields
// are opaque to the server and relayed untouched.
// TargetPeerID is set on frames sent to the server; PeerID and UserID are set
// on frames the server delivers, naming the sender.
type Negotiation struct {
	Type         string          `json:"type"`
	TargetPeerID domain.PeerID   `json:"targetPeerId,omitempty"`
	PeerID       domain.PeerID   `json:"peerId,omitempty"`
	UserID       domain.UserID   `json:"userId,omitempty"`
	Offer        json.RawMessage `json:"offer,omitempty"`
	Answer       json.RawMessage `json:"answer,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
}

// IsNegotiation reports whether kind is relayed peer to peer.
func IsNegotiation(kind string) bool {
	switch kind {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	}
	return false
}

// Payload returns the opaque body matching the frame kind.
func (n Negotiation) Payload() json.RawMessage {
	switch n.Type {
	case TypeOffer:
		return n.Offer
	case TypeAnswer:
		return n.Answer
	case TypeICECandidate:
		return n.Candidate
	}
	return nil
}

// NewNegotiation builds a negotiation frame of the given kind.
func NewNegotiation(kind string, payload json.RawMessage) (Negotiation, error) {
	n := Negotiation{Type: kind}
	switch kind {
	case TypeOffer:
		n.Offer = payload
	case TypeAnswer:
		n.Answer = payload
	case TypeICECandidate:
		n.Candidate = payload
	default:
		return Negotiation{}, fmt.Errorf("%w: %q is not a negotiation kind", ErrInvalid, kind)
	}
	return n, nil
}

// DecodeNegotiation decodes an inbound relay request and checks that it names
// a target and carries the payload matching its kind.
func DecodeNegotiation(data []byte) (Negotiation, error) {
	var n Negotiation
	if err := Decode(data, &n); err != nil {
		return Negotiation{}, err
	}
	if !IsNegotiation(n.Type) {
		return Negotiation{}, fmt.Errorf("%w: %q is not a negotiation kind", ErrInvalid, n.Type)
	}
	if n.TargetPeerID == "" {
		return Negotiation{}, fmt.Errorf("%w: missing targetPeerId", ErrInvalid)
	}
	if len(n.Payload()) == 0 {
		return Negotiation{}, fmt.Errorf("%w: missing %s payload", ErrInvalid, n.Type)
	}
	return n, nil
}

func PeerInfos(peers []domain.Peer) []PeerInfo {
	out := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		out = append(out, PeerInfo{UserID: p.UserID, PeerID: p.ID})
	}
	return out
}
