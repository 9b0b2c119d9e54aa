// Package orch glues the chat socket protocol to the hub services.
package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/wire"
	"github.com/rs/zerolog/log"
)

var ErrUnauthorized = errors.New("invalid token")

// TokenVerifier resolves a bearer token to the user it was issued for.
type TokenVerifier interface {
	UserID(token string) (domain.UserID, error)
}

type Orchestrator struct {
	Registry *app.Registry
	Chat     *app.Broadcaster
	Rooms    *app.RoomManager
	Tokens   TokenVerifier
}

// Authenticate binds conn to the token's user and tells the user's
// contacts it came online.
func (o *Orchestrator) Authenticate(ctx context.Context, token string, conn core.Connection) (domain.UserID, error) {
	user, err := o.Tokens.UserID(token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	o.Registry.Register(ctx, user, conn, o.announceStatus)
	return user, nil
}

func (o *Orchestrator) PostMessage(ctx context.Context, user domain.UserID, m wire.SendMessage) error {
	_, err := o.Chat.Submit(ctx, user, app.SubmitRequest{
		ChannelID: m.ChannelID,
		Content:   m.Content,
		Encrypted: m.Encrypted,
	})
	return err
}

func (o *Orchestrator) Typing(ctx context.Context, user domain.UserID, channel domain.ChannelID) error {
	frame, err := wire.Encode(wire.TypingNotice{Type: wire.TypeTyping, UserID: user, ChannelID: channel})
	if err != nil {
		return err
	}
	_, err = o.Chat.Fanout(ctx, channel, user, frame)
	return err
}

func (o *Orchestrator) ChangeStatus(ctx context.Context, user domain.UserID, raw string) error {
	status, err := domain.ParseStatus(raw)
	if err != nil {
		return err
	}
	return o.Registry.SetStatus(ctx, user, status, o.announceStatus)
}

func (o *Orchestrator) VoiceState(ctx context.Context, user domain.UserID, v wire.VoiceState) error {
	frame, err := wire.Encode(wire.VoiceStateNotice{
		Type:      wire.TypeVoiceState,
		UserID:    user,
		ChannelID: v.ChannelID,
		Connected: v.Connected,
		Muted:     v.Muted,
		Deafened:  v.Deafened,
	})
	if err != nil {
		return err
	}
	_, err = o.Chat.Fanout(ctx, v.ChannelID, user, frame)
	return err
}

// OnChatDisconnect drops the registry entry if conn still owns it.
func (o *Orchestrator) OnChatDisconnect(ctx context.Context, user domain.UserID, conn core.Connection) {
	if user == "" {
		return
	}
	o.Registry.Unregister(ctx, user, conn, o.announceStatus)
}

// OnSignalDisconnect removes whatever room membership conn still holds.
func (o *Orchestrator) OnSignalDisconnect(conn core.Connection) {
	if o.Rooms.Leave(conn) {
		log.Debug().Str("module", "orch").Msg("signal socket left its room on close")
	}
}

func (o *Orchestrator) announceStatus(ctx context.Context, user domain.UserID, status domain.Status) {
	frame, err := wire.Encode(wire.UserStatus{Type: wire.TypeUserStatus, UserID: user, Status: status})
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode user_status")
		return
	}
	if _, err := o.Chat.FanoutToContacts(ctx, user, frame); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("user", string(user)).Msg("status fanout failed")
	}
}
