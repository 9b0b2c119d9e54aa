package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/Huddle/internal/adapters/chat"
	"github.com/dkeye/Huddle/internal/adapters/rtc"
	"github.com/dkeye/Huddle/internal/adapters/signal"
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/identity"
	"github.com/dkeye/Huddle/internal/storage"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const sessionName = "HuddleSessions"

// Deps are the services the router exposes.
type Deps struct {
	Orch     *orch.Orchestrator
	Identity *identity.Service
	Store    storage.Store
	// Presence answers live user status; nil falls back to Store.
	Presence storage.PresenceStore
	Chat     *chat.Controller
	Signal   *signal.SignalWSController
	// APILimiter throttles /api per client IP; nil disables it.
	APILimiter *app.RateLimiter
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.Auth.TokenTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(sessionName, store))

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	presence := deps.Presence
	if presence == nil {
		presence = deps.Store
	}
	h := &handlers{
		ids:      deps.Identity,
		store:    deps.Store,
		presence: presence,
		rooms:    deps.Orch.Rooms,
		ice:      rtc.Config(cfg.Signal.ICEServers).ICEServers,
		started:  time.Now(),
	}
	tokens := deps.Orch.Tokens

	r.GET("/health", h.health)
	r.GET("/ws", deps.Chat.Handle(ctx))
	r.GET("/webrtc", SignalAuthMiddleware(tokens, cfg.Signal.RequireAuth), func(c *gin.Context) {
		deps.Signal.HandleSignal(ctx, c)
	})

	api := r.Group("/api")
	if deps.APILimiter != nil {
		api.Use(RateLimitMiddleware(deps.APILimiter))
	}

	auth := api.Group("/auth")
	auth.POST("/register", h.register)
	auth.POST("/login", h.login)
	auth.POST("/logout", h.logout)
	api.GET("/ice-servers", h.iceServers)

	private := api.Group("")
	private.Use(AuthMiddleware(tokens))
	private.GET("/me", h.me)
	private.GET("/servers", h.listServers)
	private.POST("/servers", h.createServer)
	private.GET("/servers/:serverId/channels", h.listChannels)
	private.GET("/servers/:serverId/members", h.listMembers)
	private.POST("/servers/:serverId/members", h.addMember)
	private.GET("/channels/:channelId/messages", h.listMessages)
	private.GET("/rooms", h.listRooms)
	private.GET("/rooms/:roomId/peers", h.roomPeers)

	return r
}
