package domain

import (
	"errors"
	"strings"
	"time"
)

const DefaultMaxContentLen = 4000

var (
	ErrEmptyContent   = errors.New("message content empty")
	ErrContentTooLong = errors.New("message content too long")
	ErrEmptyChannel   = errors.New("channel id empty")
)

type Author struct {
	ID          UserID `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
}

// Message is a chat event. It is immutable once persisted.
type Message struct {
	ID        string    `json:"id"`
	ChannelID ChannelID `json:"channel"`
	Author    Author    `json:"author"`
	Content   string    `json:"content"`
	Encrypted bool      `json:"encrypted"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessage validates an inbound chat event before it is persisted.
// Encrypted content is opaque ciphertext and is kept as-is.
func NewMessage(author UserID, channel ChannelID, content string, encrypted bool, maxLen int) (Message, error) {
	if channel == "" {
		return Message{}, ErrEmptyChannel
	}
	if !encrypted {
		content = strings.TrimSpace(content)
	}
	if content == "" {
		return Message{}, ErrEmptyContent
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxContentLen
	}
	if len([]rune(content)) > maxLen {
		return Message{}, ErrContentTooLong
	}
	return Message{
		ChannelID: channel,
		Author:    Author{ID: author},
		Content:   content,
		Encrypted: encrypted,
		CreatedAt: time.Now().UTC(),
	}, nil
}
