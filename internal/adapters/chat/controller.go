// Package chat serves the chat socket: authenticate once, then messages,
// typing, status and voice state. Bad input is answered with an error frame.
package chat

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/Huddle/internal/adapters/wsconn"
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/storage"
	"github.com/dkeye/Huddle/internal/wire"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Controller struct {
	Orch     *orch.Orchestrator
	Options  wsconn.Options
	upgrader websocket.Upgrader
}

func NewController(o *orch.Orchestrator, opts wsconn.Options) *Controller {
	return &Controller{
		Orch:    o,
		Options: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// session is the per-socket state, touched only by the socket's reader.
type session struct {
	conn *wsconn.Conn
	user domain.UserID
}

// Handle upgrades the request and serves the socket until it closes. The
// registry entry is gone by the time Handle returns.
func (ctl *Controller) Handle(ctx context.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Str("module", "chat").Msg("ws upgrade")
			return
		}
		s := &session{conn: wsconn.New(ws, ctl.Options, "chat")}
		log.Info().Str("module", "chat").Str("remote", c.ClientIP()).Msg("new chat connection")

		s.conn.Run(ctx, func(data []byte) { ctl.handleFrame(ctx, s, data) })

		ctl.Orch.OnChatDisconnect(context.WithoutCancel(ctx), s.user, s.conn)
		log.Info().Str("module", "chat").Str("user", string(s.user)).Msg("chat connection closed")
	}
}

func (ctl *Controller) handleFrame(ctx context.Context, s *session, data []byte) {
	kind, err := wire.PeekType(data)
	if err != nil {
		ctl.reject(s, err)
		return
	}

	switch kind {
	case wire.TypePing:
		sendJSON(s, wire.Control{Type: wire.TypePong})
		return
	case wire.TypeAuthenticate:
		ctl.handleAuthenticate(ctx, s, data)
		return
	}

	if s.user == "" {
		ctl.reject(s, app.ErrNotAuthenticated)
		return
	}

	switch kind {
	case wire.TypeMessage:
		var m wire.SendMessage
		if err := wire.Decode(data, &m); err != nil {
			ctl.reject(s, err)
			return
		}
		ctl.reply(s, ctl.Orch.PostMessage(ctx, s.user, m))
	case wire.TypeTyping:
		var m wire.Typing
		if err := wire.Decode(data, &m); err != nil {
			ctl.reject(s, err)
			return
		}
		ctl.reply(s, ctl.Orch.Typing(ctx, s.user, m.ChannelID))
	case wire.TypeStatusChange:
		var m wire.StatusChange
		if err := wire.Decode(data, &m); err != nil {
			ctl.reject(s, err)
			return
		}
		ctl.reply(s, ctl.Orch.ChangeStatus(ctx, s.user, m.Status))
	case wire.TypeVoiceState:
		var m wire.VoiceState
		if err := wire.Decode(data, &m); err != nil {
			ctl.reject(s, err)
			return
		}
		ctl.reply(s, ctl.Orch.VoiceState(ctx, s.user, m))
	default:
		log.Warn().Str("module", "chat").Str("type", kind).Msg("unknown chat frame")
		sendJSON(s, wire.NewError("Unknown message type"))
	}
}

func (ctl *Controller) handleAuthenticate(ctx context.Context, s *session, data []byte) {
	var m wire.Authenticate
	if err := wire.Decode(data, &m); err != nil {
		ctl.reject(s, err)
		return
	}
	user, err := ctl.Orch.Authenticate(ctx, m.Token, s.conn)
	if err != nil {
		ctl.reject(s, err)
		return
	}
	if s.user != "" && s.user != user {
		ctl.Orch.OnChatDisconnect(ctx, s.user, s.conn)
	}
	s.user = user
	log.Info().Str("module", "chat").Str("user", string(user)).Msg("authenticated")
	sendJSON(s, wire.Authenticated{Type: wire.TypeAuthenticated, UserID: user})
}

func (ctl *Controller) reply(s *session, err error) {
	if err != nil {
		ctl.reject(s, err)
	}
}

func (ctl *Controller) reject(s *session, err error) {
	log.Debug().Err(err).Str("module", "chat").Str("user", string(s.user)).Msg("frame rejected")
	sendJSON(s, wire.NewError(errorText(err)))
}

// errorText maps an error to the message shown to the client.
func errorText(err error) string {
	switch {
	case errors.Is(err, wire.ErrMalformed):
		return "Malformed message"
	case errors.Is(err, wire.ErrInvalid):
		return "Invalid message"
	case errors.Is(err, orch.ErrUnauthorized):
		return "Invalid token"
	case errors.Is(err, app.ErrNotAuthenticated):
		return "Not authenticated"
	case errors.Is(err, app.ErrNotMember):
		return "Access denied"
	case errors.Is(err, domain.ErrEmptyContent):
		return "Message is empty"
	case errors.Is(err, domain.ErrContentTooLong):
		return "Message is too long"
	case errors.Is(err, domain.ErrUnknownStatus):
		return "Unknown status"
	case errors.Is(err, storage.ErrNotFound):
		return "Channel not found"
	case errors.Is(err, app.ErrPersist):
		return "Failed to save message"
	default:
		return "Server error"
	}
}

func sendJSON(s *session, v any) {
	b, err := wire.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "chat").Msg("sendJSON marshal")
		return
	}
	_ = s.conn.TrySend(b)
}
