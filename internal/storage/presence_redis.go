package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	redis "github.com/redis/go-redis/v9"
)

type RedisPresenceConfig struct {
	Addrs    []string
	Username string
	Password string
	Prefix   string
	// TTL bounds how long a status survives a crashed process.
	TTL time.Duration
}

// RedisPresence keeps user status in Redis so several hub processes share
// one view of who is online. A missing key reads as offline.
type RedisPresence struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisPresence(cfg RedisPresenceConfig) (*RedisPresence, error) {
	addrs := make([]string, 0, len(cfg.Addrs))
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      addrs,
		Username:   strings.TrimSpace(cfg.Username),
		Password:   cfg.Password,
		MaxRetries: 2,
	})
	return NewRedisPresenceWithClient(client, cfg.Prefix, cfg.TTL), nil
}

func NewRedisPresenceWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisPresence {
	if prefix == "" {
		prefix = "huddle:presence:"
	}
	return &RedisPresence{client: client, prefix: prefix, ttl: ttl}
}

func (p *RedisPresence) key(user domain.UserID) string {
	return p.prefix + string(user)
}

func (p *RedisPresence) SetStatus(ctx context.Context, user domain.UserID, status domain.Status) error {
	if status == domain.StatusOffline {
		if err := p.client.Del(ctx, p.key(user)).Err(); err != nil {
			return fmt.Errorf("presence del: %w", err)
		}
		return nil
	}
	if err := p.client.Set(ctx, p.key(user), string(status), p.ttl).Err(); err != nil {
		return fmt.Errorf("presence set: %w", err)
	}
	return nil
}

func (p *RedisPresence) Status(ctx context.Context, user domain.UserID) (domain.Status, error) {
	v, err := p.client.Get(ctx, p.key(user)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.StatusOffline, nil
	}
	if err != nil {
		return "", fmt.Errorf("presence get: %w", err)
	}
	return domain.ParseStatus(v)
}

func (p *RedisPresence) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPresence) Close() error {
	return p.client.Close()
}
