package core

import (
	"errors"

	"github.com/dkeye/Huddle/internal/domain"
)

var (
	ErrRoomClosed   = errors.New("room closed")
	ErrPeerIDTaken  = errors.New("peer id already in room")
	ErrPeerNotFound = errors.New("peer not found")
)

// PeerRecord binds a peer to the socket it signals on.
// It is owned exclusively by its room.
type PeerRecord struct {
	Peer   domain.Peer
	RoomID domain.RoomID
	Conn   Connection
}

// PublishResult reports delivery stats/backpressure to the caller.
type PublishResult struct {
	SendTo  int
	Dropped []PeerRecord
}

// Announcer builds the frames a room emits on membership changes.
// A nil frame is not sent.
type Announcer interface {
	Peers(existing []domain.Peer) Frame
	PeerJoined(p domain.Peer) Frame
	PeerLeft(p domain.Peer) Frame
}

// RoomService is the core-facing API of a signaling room.
// It owns the peer set but never closes transport resources.
type RoomService interface {
	ID() domain.RoomID
	PeerCount() int
	PeersSnapshot() []domain.Peer

	// Join snapshots the peers present before rec, inserts rec, sends the
	// snapshot to rec.Conn and announces rec to everyone else.
	Join(rec PeerRecord) ([]domain.Peer, PublishResult, error)
	// Leave removes the peer, announces it to the remaining peers and
	// reports how many are left. A room that reaches zero is closed for good.
	Leave(id domain.PeerID) (remaining int, res PublishResult, ok bool)
	// Relay delivers frame to the target peer on behalf of from. A target
	// whose queue is full is reported in Dropped.
	Relay(from, to domain.PeerID, frame Frame) (PublishResult, error)
}
