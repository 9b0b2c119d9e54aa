package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	ApplicationName string
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	log.Info().Str("module", "storage.postgres").Str("host", poolCfg.ConnConfig.Host).Msg("pool opened")
	return &PostgresStore{pool: pool}, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	display_name TEXT NOT NULL,
	avatar TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'offline',
	created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS servers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	icon TEXT NOT NULL DEFAULT '',
	owner_id TEXT NOT NULL REFERENCES users(id),
	created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS server_members (
	server_id TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	joined_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (server_id, user_id)
)`,
	`CREATE TABLE IF NOT EXISTS channels (
	id TEXT PRIMARY KEY,
	server_id TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	category TEXT NOT NULL,
	position INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
	author_id TEXT NOT NULL REFERENCES users(id),
	content TEXT NOT NULL,
	encrypted BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS messages_channel_created_idx ON messages (channel_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS server_members_user_idx ON server_members (user_id)`,
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() { s.pool.Close() }

const userColumns = `id, username, email, display_name, avatar, status, created_at`

func scanUser(row pgx.Row, extra ...any) (domain.User, error) {
	var (
		u          domain.User
		id, status string
	)
	dest := append([]any{&id, &u.Username, &u.Email, &u.DisplayName, &u.Avatar, &status, &u.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return domain.User{}, err
	}
	u.ID = domain.UserID(id)
	u.Status = domain.Status(status)
	return u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, nu NewUser) (domain.User, error) {
	u := domain.User{
		ID:          domain.UserID(uuid.NewString()),
		Username:    nu.Username,
		Email:       strings.ToLower(strings.TrimSpace(nu.Email)),
		DisplayName: nu.DisplayName,
		Status:      domain.StatusOffline,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO users (id, username, email, password_hash, display_name, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(u.ID), u.Username, u.Email, nu.PasswordHash, u.DisplayName, string(u.Status), u.CreatedAt)
	if isUniqueViolation(err) {
		return domain.User{}, fmt.Errorf("user %s: %w", u.Email, ErrAlreadyExists)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) UserByEmail(ctx context.Context, email string) (domain.User, string, error) {
	var hash string
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+`, password_hash FROM users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)))
	u, err := scanUser(row, &hash)
	if err != nil {
		return domain.User{}, "", notFound(err, "user "+email)
	}
	return u, hash, nil
}

func (s *PostgresStore) User(ctx context.Context, id domain.UserID) (domain.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, string(id)))
	if err != nil {
		return domain.User{}, notFound(err, "user "+string(id))
	}
	return u, nil
}

func (s *PostgresStore) CreateServer(ctx context.Context, owner domain.UserID, name, icon string) (domain.Server, []domain.Channel, error) {
	now := time.Now().UTC()
	srv := domain.Server{
		ID:        domain.ServerID(uuid.NewString()),
		Name:      name,
		Icon:      icon,
		OwnerID:   owner,
		Members:   []domain.UserID{owner},
		CreatedAt: now,
	}
	channels := domain.DefaultChannels(srv.ID)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO servers (id, name, icon, owner_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
			string(srv.ID), srv.Name, srv.Icon, string(owner), now); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO server_members (server_id, user_id, joined_at) VALUES ($1, $2, $3)`,
			string(srv.ID), string(owner), now); err != nil {
			return err
		}
		for i := range channels {
			channels[i].ID = domain.ChannelID(uuid.NewString())
			channels[i].CreatedAt = now
			c := channels[i]
			if _, err := tx.Exec(ctx, `
INSERT INTO channels (id, server_id, name, kind, category, position, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				string(c.ID), string(c.ServerID), c.Name, string(c.Kind), c.Category, c.Position, c.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Server{}, nil, fmt.Errorf("create server: %w", err)
	}
	return srv, channels, nil
}

func (s *PostgresStore) AddMember(ctx context.Context, server domain.ServerID, user domain.UserID) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO server_members (server_id, user_id, joined_at) VALUES ($1, $2, $3)
ON CONFLICT (server_id, user_id) DO NOTHING`, string(server), string(user), time.Now().UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("server %s or user %s: %w", server, user, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (s *PostgresStore) ServersOf(ctx context.Context, user domain.UserID) ([]domain.Server, error) {
	rows, err := s.pool.Query(ctx, `
SELECT s.id, s.name, s.icon, s.owner_id, s.created_at,
       ARRAY(SELECT m.user_id FROM server_members m WHERE m.server_id = s.id ORDER BY m.joined_at)
FROM servers s
JOIN server_members sm ON sm.server_id = s.id
WHERE sm.user_id = $1
ORDER BY s.created_at DESC`, string(user))
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()
	out := make([]domain.Server, 0)
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		out = append(out, srv)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Server(ctx context.Context, id domain.ServerID) (domain.Server, error) {
	srv, err := scanServer(s.pool.QueryRow(ctx, `
SELECT s.id, s.name, s.icon, s.owner_id, s.created_at,
       ARRAY(SELECT m.user_id FROM server_members m WHERE m.server_id = s.id ORDER BY m.joined_at)
FROM servers s WHERE s.id = $1`, string(id)))
	if err != nil {
		return domain.Server{}, notFound(err, "server "+string(id))
	}
	return srv, nil
}

func scanServer(row pgx.Row) (domain.Server, error) {
	var (
		srv       domain.Server
		id, owner string
		members   []string
	)
	if err := row.Scan(&id, &srv.Name, &srv.Icon, &owner, &srv.CreatedAt, &members); err != nil {
		return domain.Server{}, err
	}
	srv.ID = domain.ServerID(id)
	srv.OwnerID = domain.UserID(owner)
	srv.Members = make([]domain.UserID, 0, len(members))
	for _, m := range members {
		srv.Members = append(srv.Members, domain.UserID(m))
	}
	return srv, nil
}

func (s *PostgresStore) ServerMembers(ctx context.Context, id domain.ServerID) ([]domain.User, error) {
	if _, err := s.Server(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
SELECT u.id, u.username, u.email, u.display_name, u.avatar, u.status, u.created_at
FROM users u JOIN server_members m ON m.user_id = u.id
WHERE m.server_id = $1
ORDER BY m.joined_at`, string(id))
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()
	out := make([]domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

const channelColumns = `id, server_id, name, kind, category, position, created_at`

func scanChannel(row pgx.Row) (domain.Channel, error) {
	var (
		c                domain.Channel
		id, server, kind string
	)
	if err := row.Scan(&id, &server, &c.Name, &kind, &c.Category, &c.Position, &c.CreatedAt); err != nil {
		return domain.Channel{}, err
	}
	c.ID = domain.ChannelID(id)
	c.ServerID = domain.ServerID(server)
	c.Kind = domain.ChannelKind(kind)
	return c, nil
}

func (s *PostgresStore) Channels(ctx context.Context, server domain.ServerID) ([]domain.Channel, error) {
	if _, err := s.Server(ctx, server); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+channelColumns+` FROM channels WHERE server_id = $1 ORDER BY position, name`, string(server))
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()
	out := make([]domain.Channel, 0)
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Channel(ctx context.Context, id domain.ChannelID) (domain.Channel, error) {
	c, err := scanChannel(s.pool.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, string(id)))
	if err != nil {
		return domain.Channel{}, notFound(err, "channel "+string(id))
	}
	return c, nil
}

func (s *PostgresStore) SaveMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	author, err := s.User(ctx, msg.Author.ID)
	if err != nil {
		return domain.Message{}, err
	}
	msg.ID = uuid.NewString()
	msg.Author = author.Author()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO messages (id, channel_id, author_id, content, encrypted, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, string(msg.ChannelID), string(author.ID), msg.Content, msg.Encrypted, msg.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return domain.Message{}, fmt.Errorf("channel %s: %w", msg.ChannelID, ErrNotFound)
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) Messages(ctx context.Context, channel domain.ChannelID, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	if _, err := s.Channel(ctx, channel); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, channel_id, author_id, username, display_name, avatar, content, encrypted, created_at FROM (
	SELECT m.id, m.channel_id, m.author_id, u.username, u.display_name, u.avatar, m.content, m.encrypted, m.created_at
	FROM messages m JOIN users u ON u.id = m.author_id
	WHERE m.channel_id = $1
	ORDER BY m.created_at DESC
	LIMIT $2
) latest ORDER BY created_at`, string(channel), limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	out := make([]domain.Message, 0, limit)
	for rows.Next() {
		var (
			m                 domain.Message
			channelID, author string
		)
		if err := rows.Scan(&m.ID, &channelID, &author, &m.Author.Username, &m.Author.DisplayName,
			&m.Author.Avatar, &m.Content, &m.Encrypted, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ChannelID = domain.ChannelID(channelID)
		m.Author.ID = domain.UserID(author)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ChannelMembers(ctx context.Context, channel domain.ChannelID) ([]domain.UserID, error) {
	c, err := s.Channel(ctx, channel)
	if err != nil {
		return nil, err
	}
	return s.userIDs(ctx, `SELECT user_id FROM server_members WHERE server_id = $1`, string(c.ServerID))
}

func (s *PostgresStore) Contacts(ctx context.Context, user domain.UserID) ([]domain.UserID, error) {
	return s.userIDs(ctx, `
SELECT DISTINCT other.user_id
FROM server_members mine
JOIN server_members other ON other.server_id = mine.server_id
WHERE mine.user_id = $1 AND other.user_id <> $1`, string(user))
}

func (s *PostgresStore) userIDs(ctx context.Context, query string, arg string) ([]domain.UserID, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("resolve members: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("resolve members: %w", err)
	}
	out := make([]domain.UserID, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.UserID(id))
	}
	return out, nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, user domain.UserID, status domain.Status) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET status = $2 WHERE id = $1`, string(user), string(status))
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", user, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Status(ctx context.Context, user domain.UserID) (domain.Status, error) {
	var status string
	if err := s.pool.QueryRow(ctx, `SELECT status FROM users WHERE id = $1`, string(user)).Scan(&status); err != nil {
		return "", notFound(err, "user "+string(user))
	}
	return domain.Status(status), nil
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
