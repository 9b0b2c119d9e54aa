// Package signal serves the signaling socket. It routes join, leave and
// negotiation frames to the room manager and never answers bad input.
package signal

import (
	"context"
	"net/http"

	"github.com/dkeye/Huddle/internal/adapters/wsconn"
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// UserKey is the gin context key an auth middleware may set; when present
// it replaces the userId a client claims in join.
const UserKey = "user_id"

type SignalWSController struct {
	Orch        *orch.Orchestrator
	JoinLimiter *app.RateLimiter
	Options     wsconn.Options
}

func NewSignalWSController(o *orch.Orchestrator, joinLimiter *app.RateLimiter, opts wsconn.Options) *SignalWSController {
	return &SignalWSController{Orch: o, JoinLimiter: joinLimiter, Options: opts}
}

// peerSocket is the per-socket state, touched only by the socket's reader.
type peerSocket struct {
	conn *wsconn.Conn
	// user is the verified identity, empty on anonymous sockets.
	user domain.UserID
	// key identifies the socket for join rate limiting.
	key string
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves the socket until it closes.
// The socket has left its room by the time HandleSignal returns.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	p := &peerSocket{
		conn: wsconn.New(ws, ctl.Options, "signal"),
		user: domain.UserID(c.GetString(UserKey)),
		key:  c.ClientIP(),
	}
	if p.user != "" {
		p.key = string(p.user)
	}
	log.Info().Str("module", "signal").Str("remote", c.ClientIP()).Str("user", string(p.user)).Msg("new WS connection")

	p.conn.Run(ctx, func(data []byte) { ctl.handleSignal(p, data) })

	ctl.Orch.OnSignalDisconnect(p.conn)
	log.Info().Str("module", "signal").Str("user", string(p.user)).Msg("WS connection closed")
}
