package domain

// Peer is one participant's signaling identity inside a voice room.
// No transport or lifecycle logic here.
type Peer struct {
	ID     PeerID `json:"peerId"`
	UserID UserID `json:"userId"`
}

// NewPeer avoids raw literals in adapters and keeps construction obvious.
func NewPeer(id PeerID, user UserID) Peer {
	return Peer{ID: id, UserID: user}
}
