package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/adapters/chat"
	"github.com/dkeye/Huddle/internal/adapters/signal"
	"github.com/dkeye/Huddle/internal/adapters/wsconn"
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/identity"
	"github.com/dkeye/Huddle/internal/storage"
	"github.com/dkeye/Huddle/internal/storage/mocks"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"
)

type apiFixture struct {
	t      *testing.T
	router *gin.Engine
	store  *storage.MemoryStore
}

func newAPI(t *testing.T, limiter *app.RateLimiter) *apiFixture {
	t.Helper()
	return newAPIWithPresence(t, limiter, nil)
}

func newAPIWithPresence(t *testing.T, limiter *app.RateLimiter, presence storage.PresenceStore) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Config{
		Mode:       "test",
		StaticPath: t.TempDir(),
		Secret:     "cookie-secret-0123456789",
		Auth:       config.AuthConfig{TokenTTL: time.Hour},
	}
	store := storage.NewMemoryStore()
	issuer, err := identity.NewIssuer("jwt-secret-0123456789", "huddle-test", time.Hour)
	require.NoError(t, err)

	reg := app.NewRegistry(store)
	o := &orch.Orchestrator{
		Registry: reg,
		Chat:     app.NewBroadcaster(reg, store, store, app.SimplePolicy{}, 0),
		Rooms:    app.NewRoomManager(app.WireAnnouncer{}, app.SimplePolicy{}),
		Tokens:   issuer,
	}
	r := SetupRouter(ctx, cfg, Deps{
		Orch:       o,
		Identity:   identity.NewService(store, store, issuer, bcrypt.MinCost),
		Store:      store,
		Presence:   presence,
		Chat:       chat.NewController(o, wsconn.Options{}),
		Signal:     signal.NewSignalWSController(o, nil, wsconn.Options{}),
		APILimiter: limiter,
	})
	return &apiFixture{t: t, router: r, store: store}
}

type call struct {
	method, path, token string
	body                any
	cookies             []*http.Cookie
}

func (f *apiFixture) do(c call) *httptest.ResponseRecorder {
	f.t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		require.NoError(f.t, json.NewEncoder(&body).Encode(c.body))
	}
	r := httptest.NewRequest(c.method, c.path, &body)
	r.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}
	for _, ck := range c.cookies {
		r.AddCookie(ck)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	return w
}

func (f *apiFixture) register(name string) identity.Session {
	f.t.Helper()
	w := f.do(call{method: http.MethodPost, path: "/api/auth/register", body: RegisterRequest{
		Username: name, Email: name + "@example.com", Password: "hunter22", DisplayName: name,
	}})
	require.Equal(f.t, http.StatusCreated, w.Code, w.Body.String())
	var s identity.Session
	require.NoError(f.t, json.Unmarshal(w.Body.Bytes(), &s))
	return s
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestAPI_Register_And_Login(t *testing.T) {
	req := require.New(t)
	f := newAPI(t, nil)

	s := f.register("alice")
	req.NotEmpty(s.Token)
	req.Equal(domain.StatusOnline, s.User.Status)

	w := f.do(call{method: http.MethodPost, path: "/api/auth/register", body: RegisterRequest{
		Username: "alice", Email: "other@example.com", Password: "hunter22", DisplayName: "a",
	}})
	req.Equal(http.StatusBadRequest, w.Code)
	req.Equal("User already exists", decodeError(t, w))

	w = f.do(call{method: http.MethodPost, path: "/api/auth/register", body: gin.H{"username": "bob"}})
	req.Equal(http.StatusBadRequest, w.Code)

	w = f.do(call{method: http.MethodPost, path: "/api/auth/login", body: LoginRequest{Email: "alice@example.com", Password: "wrong-pass"}})
	req.Equal(http.StatusBadRequest, w.Code)
	req.Equal("Invalid credentials", decodeError(t, w))

	// a successful login also sets the session cookie
	w = f.do(call{method: http.MethodPost, path: "/api/auth/login", body: LoginRequest{Email: "alice@example.com", Password: "hunter22"}})
	req.Equal(http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	req.NotEmpty(cookies)

	w = f.do(call{method: http.MethodGet, path: "/api/me", cookies: cookies})
	req.Equal(http.StatusOK, w.Code)
	var me domain.User
	req.NoError(json.Unmarshal(w.Body.Bytes(), &me))
	req.Equal(s.User.ID, me.ID)
}

func TestAPI_Requires_Token(t *testing.T) {
	req := require.New(t)
	f := newAPI(t, nil)

	w := f.do(call{method: http.MethodGet, path: "/api/servers"})
	req.Equal(http.StatusUnauthorized, w.Code)

	w = f.do(call{method: http.MethodGet, path: "/api/servers", token: "not-a-jwt"})
	req.Equal(http.StatusForbidden, w.Code)
	req.Equal("Invalid or expired token", decodeError(t, w))
}

func TestAPI_Servers_Channels_Messages(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newAPI(t, nil)
	alice, bob := f.register("alice"), f.register("bob")

	// given alice creates a server
	w := f.do(call{method: http.MethodPost, path: "/api/servers", token: alice.Token, body: CreateServerRequest{Name: "guild"}})
	req.Equal(http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Server   domain.Server    `json:"server"`
		Channels []domain.Channel `json:"channels"`
	}
	req.NoError(json.Unmarshal(w.Body.Bytes(), &created))
	req.Len(created.Channels, 2)
	general := created.Channels[0]
	req.Equal("general", general.Name)

	_, err := f.store.SaveMessage(ctx, domain.Message{ChannelID: general.ID, Author: domain.Author{ID: alice.User.ID}, Content: "first"})
	req.NoError(err)
	_, err = f.store.SaveMessage(ctx, domain.Message{ChannelID: general.ID, Author: domain.Author{ID: alice.User.ID}, Content: "second"})
	req.NoError(err)

	// then bob, not a member yet, is refused
	messagesPath := "/api/channels/" + string(general.ID) + "/messages"
	w = f.do(call{method: http.MethodGet, path: messagesPath, token: bob.Token})
	req.Equal(http.StatusForbidden, w.Code)
	w = f.do(call{method: http.MethodGet, path: "/api/servers/" + string(created.Server.ID) + "/members", token: bob.Token})
	req.Equal(http.StatusForbidden, w.Code)

	// when alice adds him
	w = f.do(call{method: http.MethodPost, path: "/api/servers/" + string(created.Server.ID) + "/members",
		token: alice.Token, body: AddMemberRequest{UserID: bob.User.ID}})
	req.Equal(http.StatusNoContent, w.Code)

	// then he reads history oldest first and honours the limit
	w = f.do(call{method: http.MethodGet, path: messagesPath + "?limit=1", token: bob.Token})
	req.Equal(http.StatusOK, w.Code)
	var history struct {
		Messages []domain.Message `json:"messages"`
	}
	req.NoError(json.Unmarshal(w.Body.Bytes(), &history))
	req.Len(history.Messages, 1)
	req.Equal("second", history.Messages[0].Content)

	w = f.do(call{method: http.MethodGet, path: messagesPath, token: bob.Token})
	req.NoError(json.Unmarshal(w.Body.Bytes(), &history))
	req.Len(history.Messages, 2)
	req.Equal([]string{"first", "second"}, []string{history.Messages[0].Content, history.Messages[1].Content})

	w = f.do(call{method: http.MethodGet, path: messagesPath + "?limit=zero", token: bob.Token})
	req.Equal(http.StatusBadRequest, w.Code)

	// members never expose emails
	w = f.do(call{method: http.MethodGet, path: "/api/servers/" + string(created.Server.ID) + "/members", token: bob.Token})
	req.Equal(http.StatusOK, w.Code)
	var roster struct {
		Members []domain.User `json:"members"`
	}
	req.NoError(json.Unmarshal(w.Body.Bytes(), &roster))
	req.Len(roster.Members, 2)
	for _, m := range roster.Members {
		req.Empty(m.Email)
	}

	w = f.do(call{method: http.MethodGet, path: "/api/servers/" + string(created.Server.ID) + "/channels", token: bob.Token})
	req.Equal(http.StatusOK, w.Code)
	var listed struct {
		Channels []domain.Channel `json:"channels"`
	}
	req.NoError(json.Unmarshal(w.Body.Bytes(), &listed))
	req.Len(listed.Channels, 2)

	w = f.do(call{method: http.MethodGet, path: "/api/servers", token: bob.Token})
	var mine struct {
		Servers []domain.Server `json:"servers"`
	}
	req.NoError(json.Unmarshal(w.Body.Bytes(), &mine))
	req.Len(mine.Servers, 1)

	w = f.do(call{method: http.MethodGet, path: "/api/channels/nope/messages", token: bob.Token})
	req.Equal(http.StatusNotFound, w.Code)
}

func TestAPI_Rooms(t *testing.T) {
	req := require.New(t)
	f := newAPI(t, nil)
	s := f.register("alice")

	w := f.do(call{method: http.MethodGet, path: "/api/rooms", token: s.Token})
	req.Equal(http.StatusOK, w.Code)
	req.JSONEq(`{"rooms":[]}`, w.Body.String())

	w = f.do(call{method: http.MethodGet, path: "/api/rooms/ghost/peers", token: s.Token})
	req.Equal(http.StatusNotFound, w.Code)
}

func TestAPI_Status_From_Presence_Store(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	presence := mocks.NewMockPresenceStore(ctrl)
	f := newAPIWithPresence(t, nil, presence)
	alice, bob := f.register("alice"), f.register("bob")

	// Given the presence store says alice is dnd and cannot answer for bob
	presence.EXPECT().Status(gomock.Any(), alice.User.ID).Return(domain.StatusDND, nil).AnyTimes()
	presence.EXPECT().Status(gomock.Any(), bob.User.ID).Return(domain.Status(""), errors.New("down")).AnyTimes()

	// When alice reads her profile
	w := f.do(call{method: http.MethodGet, path: "/api/me", token: alice.Token})

	// Then the live status wins over the stored one
	req.Equal(http.StatusOK, w.Code)
	var me domain.User
	req.NoError(json.Unmarshal(w.Body.Bytes(), &me))
	req.Equal(domain.StatusDND, me.Status)

	w = f.do(call{method: http.MethodPost, path: "/api/servers", token: alice.Token, body: CreateServerRequest{Name: "guild"}})
	req.Equal(http.StatusCreated, w.Code)
	var created struct {
		Server domain.Server `json:"server"`
	}
	req.NoError(json.Unmarshal(w.Body.Bytes(), &created))
	w = f.do(call{method: http.MethodPost, path: "/api/servers/" + string(created.Server.ID) + "/members",
		token: alice.Token, body: AddMemberRequest{UserID: bob.User.ID}})
	req.Equal(http.StatusNoContent, w.Code)

	// And the member list overlays it too, keeping bob's stored status
	w = f.do(call{method: http.MethodGet, path: "/api/servers/" + string(created.Server.ID) + "/members", token: alice.Token})
	req.Equal(http.StatusOK, w.Code)
	var roster struct {
		Members []domain.User `json:"members"`
	}
	req.NoError(json.Unmarshal(w.Body.Bytes(), &roster))
	statuses := map[domain.UserID]domain.Status{}
	for _, m := range roster.Members {
		statuses[m.ID] = m.Status
	}
	req.Equal(map[domain.UserID]domain.Status{
		alice.User.ID: domain.StatusDND,
		bob.User.ID:   bob.User.Status,
	}, statuses)
}

func TestAPI_ICE_Servers(t *testing.T) {
	req := require.New(t)
	f := newAPI(t, nil)

	// public, no token needed
	w := f.do(call{method: http.MethodGet, path: "/api/ice-servers"})
	req.Equal(http.StatusOK, w.Code)
	req.Contains(w.Body.String(), "stun:stun.l.google.com:19302")
}

func TestAPI_Rate_Limit(t *testing.T) {
	req := require.New(t)
	f := newAPI(t, app.NewRateLimiter(2, time.Minute))

	for range 2 {
		w := f.do(call{method: http.MethodGet, path: "/api/servers"})
		req.Equal(http.StatusUnauthorized, w.Code)
	}
	w := f.do(call{method: http.MethodGet, path: "/api/servers"})
	req.Equal(http.StatusTooManyRequests, w.Code)

	// health is outside /api
	w = f.do(call{method: http.MethodGet, path: "/health"})
	req.Equal(http.StatusOK, w.Code)
}

func TestSignalAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	issuer, err := identity.NewIssuer("jwt-secret-0123456789", "", time.Hour)
	require.NoError(t, err)
	tok, err := issuer.Issue(domain.User{ID: "u1", Username: "alice"})
	require.NoError(t, err)

	cases := []struct {
		name     string
		required bool
		query    string
		code     int
		user     string
	}{
		{name: "optional anonymous", query: "", code: http.StatusOK},
		{name: "optional bad token", query: "?token=bad", code: http.StatusOK},
		{name: "optional verified", query: "?token=" + tok, code: http.StatusOK, user: "u1"},
		{name: "required anonymous", required: true, query: "", code: http.StatusUnauthorized},
		{name: "required verified", required: true, query: "?token=" + tok, code: http.StatusOK, user: "u1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/webrtc", SignalAuthMiddleware(issuer, tc.required), func(c *gin.Context) {
				c.String(http.StatusOK, c.GetString(userKey))
			})
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webrtc"+tc.query, nil))
			require.Equal(t, tc.code, w.Code)
			if tc.code == http.StatusOK {
				require.Equal(t, tc.user, w.Body.String())
			}
		})
	}
}
