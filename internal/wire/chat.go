package wire

import "github.com/dkeye/Huddle/internal/domain"

// Inbound chat frames.

type Authenticate struct {
	Type  string `json:"type"`
	Token string `json:"token" validate:"required"`
}

type SendMessage struct {
	Type      string           `json:"type"`
	ChannelID domain.ChannelID `json:"channelId" validate:"required"`
	Content   string           `json:"content" validate:"required"`
	Encrypted bool             `json:"encrypted"`
}

type Typing struct {
	Type      string           `json:"type"`
	ChannelID domain.ChannelID `json:"channelId" validate:"required"`
}

type StatusChange struct {
	Type   string `json:"type"`
	Status string `json:"status" validate:"required,oneof=online idle dnd offline"`
}

type VoiceState struct {
	Type      string           `json:"type"`
	ChannelID domain.ChannelID `json:"channelId" validate:"required"`
	Connected bool             `json:"connected"`
	Muted     *bool            `json:"muted,omitempty"`
	Deafened  *bool            `json:"deafened,omitempty"`
}

// Outbound chat frames.

type Authenticated struct {
	Type   string        `json:"type"`
	UserID domain.UserID `json:"userId"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type NewMessage struct {
	Type    string         `json:"type"`
	Message domain.Message `json:"message"`
}

type TypingNotice struct {
	Type      string           `json:"type"`
	UserID    domain.UserID    `json:"userId"`
	ChannelID domain.ChannelID `json:"channelId"`
}

type UserStatus struct {
	Type   string        `json:"type"`
	UserID domain.UserID `json:"userId"`
	Status domain.Status `json:"status"`
}

type VoiceStateNotice struct {
	Type      string           `json:"type"`
	UserID    domain.UserID    `json:"userId"`
	ChannelID domain.ChannelID `json:"channelId"`
	Connected bool             `json:"connected"`
	Muted     *bool            `json:"muted,omitempty"`
	Deafened  *bool            `json:"deafened,omitempty"`
}

func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}
