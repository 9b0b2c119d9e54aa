package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/identity"
	"github.com/dkeye/Huddle/internal/storage"
	"github.com/dkeye/Huddle/internal/wire"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const maxMessageLimit = 100

type handlers struct {
	ids      *identity.Service
	store    storage.Store
	presence storage.PresenceStore
	rooms    *app.RoomManager
	ice      []webrtc.ICEServer
	started  time.Time
}

type RegisterRequest struct {
	Username    string `json:"username" binding:"required,max=32"`
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=6,max=72"`
	DisplayName string `json:"displayName" binding:"required,max=64"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type CreateServerRequest struct {
	Name string `json:"name" binding:"required,max=100"`
	Icon string `json:"icon" binding:"max=512"`
}

type AddMemberRequest struct {
	UserID domain.UserID `json:"userId" binding:"required"`
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// fail maps store and service errors to a status; anything unknown is a 500.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		abort(c, http.StatusNotFound, "Not found")
	case errors.Is(err, app.ErrNotMember):
		abort(c, http.StatusForbidden, "Access denied")
	default:
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
		abort(c, http.StatusInternalServerError, "Server error")
	}
}

func (h *handlers) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	status, store := http.StatusOK, "ok"
	if err := h.store.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("health: store ping")
		status, store = http.StatusServiceUnavailable, "unavailable"
	}
	c.JSON(status, gin.H{
		"status": http.StatusText(status),
		"store":  store,
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *handlers) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "All fields are required")
		return
	}
	sess, err := h.ids.Register(c.Request.Context(), identity.RegisterInput{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	switch {
	case errors.Is(err, identity.ErrUserExists):
		abort(c, http.StatusBadRequest, "User already exists")
		return
	case errors.Is(err, identity.ErrInvalidEmail),
		errors.Is(err, identity.ErrWeakPassword),
		errors.Is(err, domain.ErrUsernameEmpty),
		errors.Is(err, domain.ErrUsernameTooLong),
		errors.Is(err, domain.ErrDisplayNameLong):
		abort(c, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		fail(c, err)
		return
	}
	h.remember(c, sess.Token)
	c.JSON(http.StatusCreated, sess)
}

func (h *handlers) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "Email and password are required")
		return
	}
	sess, err := h.ids.Login(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		abort(c, http.StatusBadRequest, "Invalid credentials")
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	h.remember(c, sess.Token)
	c.JSON(http.StatusOK, sess)
}

// remember stores the token in the cookie session for browser clients.
func (h *handlers) remember(c *gin.Context, token string) {
	s := sessions.Default(c)
	s.Set(sessionKey, token)
	if err := s.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
	}
}

func (h *handlers) logout(c *gin.Context) {
	s := sessions.Default(c)
	s.Clear()
	s.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := s.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("session clear")
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (h *handlers) me(c *gin.Context) {
	ctx := c.Request.Context()
	u, err := h.store.User(ctx, currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.withPresence(ctx, u))
}

// withPresence replaces the stored status with the live one. The stored
// status is kept when the presence store cannot answer.
func (h *handlers) withPresence(ctx context.Context, u domain.User) domain.User {
	if h.presence == nil {
		return u
	}
	status, err := h.presence.Status(ctx, u.ID)
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Str("user", string(u.ID)).Msg("presence lookup")
		return u
	}
	u.Status = status
	return u
}

func (h *handlers) listServers(c *gin.Context) {
	servers, err := h.store.ServersOf(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"servers": servers})
}

func (h *handlers) createServer(c *gin.Context) {
	var req CreateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "Server name is required")
		return
	}
	srv, channels, err := h.store.CreateServer(c.Request.Context(), currentUser(c), req.Name, req.Icon)
	if err != nil {
		fail(c, err)
		return
	}
	log.Info().Str("module", "adapters.http").Str("server", string(srv.ID)).Msg("server created")
	c.JSON(http.StatusCreated, gin.H{"server": srv, "channels": channels})
}

// memberServer loads the path's server and checks the caller belongs to it.
func (h *handlers) memberServer(c *gin.Context) (domain.Server, bool) {
	srv, err := h.store.Server(c.Request.Context(), domain.ServerID(c.Param("serverId")))
	if err != nil {
		fail(c, err)
		return domain.Server{}, false
	}
	if !lo.Contains(srv.Members, currentUser(c)) {
		fail(c, app.ErrNotMember)
		return domain.Server{}, false
	}
	return srv, true
}

func (h *handlers) listChannels(c *gin.Context) {
	srv, ok := h.memberServer(c)
	if !ok {
		return
	}
	channels, err := h.store.Channels(c.Request.Context(), srv.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

func (h *handlers) listMembers(c *gin.Context) {
	srv, ok := h.memberServer(c)
	if !ok {
		return
	}
	members, err := h.store.ServerMembers(c.Request.Context(), srv.ID)
	if err != nil {
		fail(c, err)
		return
	}
	ctx := c.Request.Context()
	c.JSON(http.StatusOK, gin.H{"members": lo.Map(members, func(u domain.User, _ int) domain.User {
		u.Email = ""
		return h.withPresence(ctx, u)
	})})
}

func (h *handlers) addMember(c *gin.Context) {
	srv, ok := h.memberServer(c)
	if !ok {
		return
	}
	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "userId is required")
		return
	}
	if err := h.store.AddMember(c.Request.Context(), srv.ID, req.UserID); err != nil {
		fail(c, err)
		return
	}
	log.Info().Str("module", "adapters.http").Str("server", string(srv.ID)).
		Str("user", string(req.UserID)).Msg("member added")
	c.Status(http.StatusNoContent)
}

func (h *handlers) listMessages(c *gin.Context) {
	ctx := c.Request.Context()
	channel := domain.ChannelID(c.Param("channelId"))
	limit := storage.DefaultMessageLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			abort(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxMessageLimit)
	}

	if _, err := h.store.Channel(ctx, channel); err != nil {
		fail(c, err)
		return
	}
	members, err := h.store.ChannelMembers(ctx, channel)
	if err != nil {
		fail(c, err)
		return
	}
	if !lo.Contains(members, currentUser(c)) {
		fail(c, app.ErrNotMember)
		return
	}
	msgs, err := h.store.Messages(ctx, channel, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *handlers) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.rooms.List()})
}

func (h *handlers) roomPeers(c *gin.Context) {
	peers, ok := h.rooms.Peers(domain.RoomID(c.Param("roomId")))
	if !ok {
		abort(c, http.StatusNotFound, "Room not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"peers": wire.PeerInfos(peers)})
}

func (h *handlers) iceServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iceServers": h.ice})
}
