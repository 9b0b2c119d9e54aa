package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openPostgresForTest(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("HUDDLE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HUDDLE_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := NewPostgresStore(ctx, PostgresConfig{DSN: dsn, ApplicationName: "huddle-test"})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestPostgresStore_Roundtrip(t *testing.T) {
	s := openPostgresForTest(t)
	req := require.New(t)
	ctx := context.Background()
	suffix := uuid.NewString()[:8]

	alice, err := s.CreateUser(ctx, NewUser{Username: "alice-" + suffix, Email: "alice-" + suffix + "@example.com", PasswordHash: "h", DisplayName: "Alice"})
	req.NoError(err)
	bob, err := s.CreateUser(ctx, NewUser{Username: "bob-" + suffix, Email: "bob-" + suffix + "@example.com", PasswordHash: "h", DisplayName: "Bob"})
	req.NoError(err)

	_, err = s.CreateUser(ctx, NewUser{Username: "x-" + suffix, Email: alice.Email, PasswordHash: "h", DisplayName: "X"})
	req.ErrorIs(err, ErrAlreadyExists)

	srv, channels, err := s.CreateServer(ctx, alice.ID, "guild", "")
	req.NoError(err)
	req.Len(channels, 2)
	req.NoError(s.AddMember(ctx, srv.ID, bob.ID))

	members, err := s.ChannelMembers(ctx, channels[0].ID)
	req.NoError(err)
	req.ElementsMatch([]domain.UserID{alice.ID, bob.ID}, members)

	msg, err := domain.NewMessage(bob.ID, channels[0].ID, "hello", false, 0)
	req.NoError(err)
	saved, err := s.SaveMessage(ctx, msg)
	req.NoError(err)
	req.Equal("Bob", saved.Author.DisplayName)

	history, err := s.Messages(ctx, channels[0].ID, 10)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal(saved.ID, history[0].ID)

	req.NoError(s.SetStatus(ctx, bob.ID, domain.StatusIdle))
	st, err := s.Status(ctx, bob.ID)
	req.NoError(err)
	req.Equal(domain.StatusIdle, st)

	_, err = s.Channel(ctx, "missing")
	req.ErrorIs(err, ErrNotFound)
}
