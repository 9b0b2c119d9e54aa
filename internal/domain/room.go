package domain

type (
	// RoomID is the id of the voice channel a room signals for.
	RoomID string
	// PeerID is generated by the client, unique per connection attempt.
	PeerID string
)

type Room struct {
	ID        RoomID `json:"id"`
	PeerCount int    `json:"peerCount"`
}
