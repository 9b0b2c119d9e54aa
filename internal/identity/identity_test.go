package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/storage"
	"github.com/dkeye/Huddle/internal/storage/mocks"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestHashAndCompare(t *testing.T) {
	req := require.New(t)

	hash, err := HashPassword("s3cret-pass", bcrypt.MinCost)
	req.NoError(err)
	req.True(strings.HasPrefix(hash, "$2a$"))

	match, err := ComparePassword("s3cret-pass", hash)
	req.NoError(err)
	req.True(match)

	match, err = ComparePassword("wrong-pass", hash)
	req.NoError(err)
	req.False(match)

	_, err = HashPassword("short", bcrypt.MinCost)
	req.ErrorIs(err, ErrWeakPassword)
}

func TestIssuer_Issue_And_Verify(t *testing.T) {
	req := require.New(t)
	issuer, err := NewIssuer(testSecret, "huddle", time.Hour)
	req.NoError(err)

	token, err := issuer.Issue(domain.User{ID: "u1", Username: "alice"})
	req.NoError(err)

	claims, err := issuer.Verify(token)
	req.NoError(err)
	req.EqualValues("u1", claims.UserID)
	req.Equal("alice", claims.Username)

	id, err := issuer.UserID(token)
	req.NoError(err)
	req.EqualValues("u1", id)
}

func TestIssuer_Verify_Rejects(t *testing.T) {
	issuer, err := NewIssuer(testSecret, "huddle", time.Hour)
	require.NoError(t, err)
	good, err := issuer.Issue(domain.User{ID: "u1"})
	require.NoError(t, err)

	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.Verify("not-a-token")
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other secret", func(t *testing.T) {
		other, err := NewIssuer("ffffffffffffffffffffffffffffffff", "huddle", time.Hour)
		require.NoError(t, err)
		_, err = other.Verify(good)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		expired, err := NewIssuer(testSecret, "huddle", time.Minute)
		require.NoError(t, err)
		expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
		token, err := expired.Issue(domain.User{ID: "u1"})
		require.NoError(t, err)
		_, err = issuer.Verify(token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		claims := &Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{Issuer: "huddle"}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = issuer.Verify(token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestNewIssuer_Short_Secret(t *testing.T) {
	_, err := NewIssuer("short", "huddle", 0)
	require.Error(t, err)
}

func newTestService(t *testing.T, users storage.UserStore, presence storage.PresenceStore) *Service {
	t.Helper()
	issuer, err := NewIssuer(testSecret, "huddle", time.Hour)
	require.NoError(t, err)
	return NewService(users, presence, issuer, bcrypt.MinCost)
}

func TestService_Register_Then_Login(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := newTestService(t, store, store)

	// Given a registered user
	reg, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@example.com", Password: "hunter22", DisplayName: "Alice"})
	req.NoError(err)
	req.NotEmpty(reg.Token)
	req.Equal(domain.StatusOnline, reg.User.Status)

	// When registering again with the same email
	_, err = svc.Register(ctx, RegisterInput{Username: "alice2", Email: "alice@example.com", Password: "hunter22", DisplayName: "A"})
	req.ErrorIs(err, ErrUserExists)

	// Then login works with the right password only
	sess, err := svc.Login(ctx, "alice@example.com", "hunter22")
	req.NoError(err)
	id, err := svc.Tokens().UserID(sess.Token)
	req.NoError(err)
	req.Equal(reg.User.ID, id)

	_, err = svc.Login(ctx, "alice@example.com", "wrong-password")
	req.ErrorIs(err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "nobody@example.com", "hunter22")
	req.ErrorIs(err, ErrInvalidCredentials)
}

func TestService_Register_Validation(t *testing.T) {
	svc := newTestService(t, storage.NewMemoryStore(), nil)
	tests := []struct {
		name string
		in   RegisterInput
		want error
	}{
		{"empty username", RegisterInput{Email: "a@example.com", Password: "hunter22", DisplayName: "A"}, domain.ErrUsernameEmpty},
		{"bad email", RegisterInput{Username: "a", Email: "nope", Password: "hunter22", DisplayName: "A"}, ErrInvalidEmail},
		{"short password", RegisterInput{Username: "a", Email: "a@example.com", Password: "x", DisplayName: "A"}, ErrWeakPassword},
		{"no display name", RegisterInput{Username: "a", Email: "a@example.com", Password: "hunter22"}, domain.ErrUsernameEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.in)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestService_Login_Store_Failure(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserStore(ctrl)
	svc := newTestService(t, users, nil)

	// Given a store that is down
	boom := errors.New("connection refused")
	users.EXPECT().UserByEmail(gomock.Any(), "alice@example.com").Return(domain.User{}, "", boom).Times(1)

	// When logging in
	_, err := svc.Login(context.Background(), "alice@example.com", "hunter22")

	// Then the failure is reported, not masked as bad credentials
	req.ErrorIs(err, boom)
	req.NotErrorIs(err, ErrInvalidCredentials)
}
