package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/storage"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrUserExists         = errors.New("user already exists")
)

type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	DisplayName string
}

// Session is what register and login hand back to the client.
type Session struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

// Service implements register and login on top of a user store.
type Service struct {
	users    storage.UserStore
	presence storage.PresenceStore
	tokens   *Issuer
	cost     int
}

func NewService(users storage.UserStore, presence storage.PresenceStore, tokens *Issuer, bcryptCost int) *Service {
	return &Service{users: users, presence: presence, tokens: tokens, cost: bcryptCost}
}

func (s *Service) Tokens() *Issuer { return s.tokens }

func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if err := domain.ValidateUsername(in.Username); err != nil {
		return Session{}, err
	}
	if err := domain.ValidateDisplayName(in.DisplayName); err != nil {
		return Session{}, err
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return Session{}, ErrInvalidEmail
	}
	hash, err := HashPassword(in.Password, s.cost)
	if err != nil {
		return Session{}, err
	}
	u, err := s.users.CreateUser(ctx, storage.NewUser{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		DisplayName:  in.DisplayName,
	})
	if errors.Is(err, storage.ErrAlreadyExists) {
		return Session{}, ErrUserExists
	}
	if err != nil {
		return Session{}, fmt.Errorf("create user: %w", err)
	}
	log.Info().Str("module", "identity").Str("user", string(u.ID)).Msg("user registered")
	return s.session(ctx, u)
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	u, hash, err := s.users.UserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("lookup user: %w", err)
	}
	ok, err := ComparePassword(password, hash)
	if err != nil {
		return Session{}, fmt.Errorf("compare password: %w", err)
	}
	if !ok {
		return Session{}, ErrInvalidCredentials
	}
	return s.session(ctx, u)
}

// session marks the user online and signs a token for it.
func (s *Service) session(ctx context.Context, u domain.User) (Session, error) {
	if s.presence != nil {
		if err := s.presence.SetStatus(ctx, u.ID, domain.StatusOnline); err != nil {
			log.Warn().Str("module", "identity").Str("user", string(u.ID)).Err(err).Msg("set status failed")
		} else {
			u.Status = domain.StatusOnline
		}
	}
	token, err := s.tokens.Issue(u)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{Token: token, User: u}, nil
}
