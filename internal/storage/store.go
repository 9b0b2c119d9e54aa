//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks

// Package storage is the persistence collaborator of the hub: users, servers,
// channels, messages, membership lookups and presence.
package storage

import (
	"context"
	"errors"

	"github.com/dkeye/Huddle/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// DefaultMessageLimit is used when a caller asks for a non-positive limit.
const DefaultMessageLimit = 50

type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
	DisplayName  string
}

type UserStore interface {
	CreateUser(ctx context.Context, u NewUser) (domain.User, error)
	// UserByEmail returns the user and its password hash.
	UserByEmail(ctx context.Context, email string) (domain.User, string, error)
	User(ctx context.Context, id domain.UserID) (domain.User, error)
}

type ServerStore interface {
	// CreateServer creates a server owned by owner, with the default channels.
	CreateServer(ctx context.Context, owner domain.UserID, name, icon string) (domain.Server, []domain.Channel, error)
	AddMember(ctx context.Context, server domain.ServerID, user domain.UserID) error
	ServersOf(ctx context.Context, user domain.UserID) ([]domain.Server, error)
	Server(ctx context.Context, id domain.ServerID) (domain.Server, error)
	ServerMembers(ctx context.Context, id domain.ServerID) ([]domain.User, error)
	Channels(ctx context.Context, server domain.ServerID) ([]domain.Channel, error)
	Channel(ctx context.Context, id domain.ChannelID) (domain.Channel, error)
}

type MessageStore interface {
	// SaveMessage persists msg and returns it with its id and author
	// display fields filled in.
	SaveMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
	// Messages returns the latest limit messages of a channel, oldest first.
	Messages(ctx context.Context, channel domain.ChannelID, limit int) ([]domain.Message, error)
}

// MembershipResolver answers who may receive events of a channel or a user.
type MembershipResolver interface {
	// ChannelMembers returns the members of the channel's parent server.
	ChannelMembers(ctx context.Context, channel domain.ChannelID) ([]domain.UserID, error)
	// Contacts returns every user sharing at least one server with user.
	Contacts(ctx context.Context, user domain.UserID) ([]domain.UserID, error)
}

type PresenceStore interface {
	SetStatus(ctx context.Context, user domain.UserID, status domain.Status) error
	Status(ctx context.Context, user domain.UserID) (domain.Status, error)
}

// Store is the full persistence surface used by the server binary.
type Store interface {
	UserStore
	ServerStore
	MessageStore
	MembershipResolver
	PresenceStore
	Ping(ctx context.Context) error
	Close()
}
