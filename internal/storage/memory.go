package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type memoryUser struct {
	user domain.User
	hash string
}

// MemoryStore keeps everything in process memory. It backs tests and
// single-process development runs.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[domain.UserID]*memoryUser
	byEmail  map[string]domain.UserID
	servers  map[domain.ServerID]*domain.Server
	channels map[domain.ChannelID]domain.Channel
	messages map[domain.ChannelID][]domain.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[domain.UserID]*memoryUser),
		byEmail:  make(map[string]domain.UserID),
		servers:  make(map[domain.ServerID]*domain.Server),
		channels: make(map[domain.ChannelID]domain.Channel),
		messages: make(map[domain.ChannelID][]domain.Message),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close()                     {}

func (s *MemoryStore) CreateUser(_ context.Context, u NewUser) (domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(u.Email))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return domain.User{}, fmt.Errorf("user %s: %w", email, ErrAlreadyExists)
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.user.Username, u.Username) {
			return domain.User{}, fmt.Errorf("user %s: %w", u.Username, ErrAlreadyExists)
		}
	}
	user := domain.User{
		ID:          domain.UserID(uuid.NewString()),
		Username:    u.Username,
		Email:       email,
		DisplayName: u.DisplayName,
		Status:      domain.StatusOffline,
		CreatedAt:   time.Now().UTC(),
	}
	s.users[user.ID] = &memoryUser{user: user, hash: u.PasswordHash}
	s.byEmail[email] = user.ID
	return user, nil
}

func (s *MemoryStore) UserByEmail(_ context.Context, email string) (domain.User, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return domain.User{}, "", fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	u := s.users[id]
	return u.user, u.hash, nil
}

func (s *MemoryStore) User(_ context.Context, id domain.UserID) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u.user, nil
}

func (s *MemoryStore) CreateServer(_ context.Context, owner domain.UserID, name, icon string) (domain.Server, []domain.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[owner]; !ok {
		return domain.Server{}, nil, fmt.Errorf("owner %s: %w", owner, ErrNotFound)
	}
	now := time.Now().UTC()
	srv := &domain.Server{
		ID:        domain.ServerID(uuid.NewString()),
		Name:      name,
		Icon:      icon,
		OwnerID:   owner,
		Members:   []domain.UserID{owner},
		CreatedAt: now,
	}
	s.servers[srv.ID] = srv
	channels := domain.DefaultChannels(srv.ID)
	for i := range channels {
		channels[i].ID = domain.ChannelID(uuid.NewString())
		channels[i].CreatedAt = now
		s.channels[channels[i].ID] = channels[i]
	}
	return cloneServer(srv), channels, nil
}

func (s *MemoryStore) AddMember(_ context.Context, server domain.ServerID, user domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.servers[server]
	if !ok {
		return fmt.Errorf("server %s: %w", server, ErrNotFound)
	}
	if _, ok := s.users[user]; !ok {
		return fmt.Errorf("user %s: %w", user, ErrNotFound)
	}
	if !slices.Contains(srv.Members, user) {
		srv.Members = append(srv.Members, user)
	}
	return nil
}

func (s *MemoryStore) ServersOf(_ context.Context, user domain.UserID) ([]domain.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Server, 0)
	for _, srv := range s.servers {
		if slices.Contains(srv.Members, user) {
			out = append(out, cloneServer(srv))
		}
	}
	slices.SortFunc(out, func(a, b domain.Server) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (s *MemoryStore) Server(_ context.Context, id domain.ServerID) (domain.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	srv, ok := s.servers[id]
	if !ok {
		return domain.Server{}, fmt.Errorf("server %s: %w", id, ErrNotFound)
	}
	return cloneServer(srv), nil
}

func (s *MemoryStore) ServerMembers(_ context.Context, id domain.ServerID) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	srv, ok := s.servers[id]
	if !ok {
		return nil, fmt.Errorf("server %s: %w", id, ErrNotFound)
	}
	return lo.FilterMap(srv.Members, func(uid domain.UserID, _ int) (domain.User, bool) {
		u, ok := s.users[uid]
		if !ok {
			return domain.User{}, false
		}
		return u.user, true
	}), nil
}

func (s *MemoryStore) Channels(_ context.Context, server domain.ServerID) ([]domain.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.servers[server]; !ok {
		return nil, fmt.Errorf("server %s: %w", server, ErrNotFound)
	}
	out := lo.Filter(lo.Values(s.channels), func(c domain.Channel, _ int) bool { return c.ServerID == server })
	slices.SortFunc(out, func(a, b domain.Channel) int {
		if a.Position != b.Position {
			return a.Position - b.Position
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (s *MemoryStore) Channel(_ context.Context, id domain.ChannelID) (domain.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[id]
	if !ok {
		return domain.Channel{}, fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	return c, nil
}

func (s *MemoryStore) SaveMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[msg.ChannelID]; !ok {
		return domain.Message{}, fmt.Errorf("channel %s: %w", msg.ChannelID, ErrNotFound)
	}
	author, ok := s.users[msg.Author.ID]
	if !ok {
		return domain.Message{}, fmt.Errorf("author %s: %w", msg.Author.ID, ErrNotFound)
	}
	msg.ID = uuid.NewString()
	msg.Author = author.user.Author()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages[msg.ChannelID] = append(s.messages[msg.ChannelID], msg)
	return msg, nil
}

func (s *MemoryStore) Messages(_ context.Context, channel domain.ChannelID, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.channels[channel]; !ok {
		return nil, fmt.Errorf("channel %s: %w", channel, ErrNotFound)
	}
	all := s.messages[channel]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return slices.Clone(all), nil
}

func (s *MemoryStore) ChannelMembers(_ context.Context, channel domain.ChannelID) ([]domain.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[channel]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", channel, ErrNotFound)
	}
	srv, ok := s.servers[c.ServerID]
	if !ok {
		return nil, fmt.Errorf("server %s: %w", c.ServerID, ErrNotFound)
	}
	return slices.Clone(srv.Members), nil
}

func (s *MemoryStore) Contacts(_ context.Context, user domain.UserID) ([]domain.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.UserID
	for _, srv := range s.servers {
		if slices.Contains(srv.Members, user) {
			out = append(out, srv.Members...)
		}
	}
	return lo.Without(lo.Uniq(out), user), nil
}

func (s *MemoryStore) SetStatus(_ context.Context, user domain.UserID, status domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[user]
	if !ok {
		return fmt.Errorf("user %s: %w", user, ErrNotFound)
	}
	u.user.Status = status
	return nil
}

func (s *MemoryStore) Status(_ context.Context, user domain.UserID) (domain.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[user]
	if !ok {
		return "", fmt.Errorf("user %s: %w", user, ErrNotFound)
	}
	return u.user.Status, nil
}

func cloneServer(s *domain.Server) domain.Server {
	out := *s
	out.Members = slices.Clone(s.Members)
	return out
}
