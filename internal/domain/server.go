package domain

import "time"

type (
	ServerID  string
	ChannelID string
)

type ChannelKind string

const (
	ChannelText  ChannelKind = "text"
	ChannelVoice ChannelKind = "voice"
)

type Server struct {
	ID        ServerID  `json:"id"`
	Name      string    `json:"name"`
	Icon      string    `json:"icon,omitempty"`
	OwnerID   UserID    `json:"owner"`
	Members   []UserID  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}

type Channel struct {
	ID        ChannelID   `json:"id"`
	Name      string      `json:"name"`
	Kind      ChannelKind `json:"type"`
	ServerID  ServerID    `json:"server"`
	Category  string      `json:"category"`
	Position  int         `json:"position"`
	CreatedAt time.Time   `json:"createdAt"`
}

// DefaultChannels are created together with every new server.
func DefaultChannels(server ServerID) []Channel {
	return []Channel{
		{Name: "general", Kind: ChannelText, ServerID: server, Category: "TEXT CHANNELS"},
		{Name: "General Voice", Kind: ChannelVoice, ServerID: server, Category: "VOICE CHANNELS"},
	}
}
