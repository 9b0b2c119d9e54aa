package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode            string        `mapstructure:"mode"`
	Port            int           `mapstructure:"port"`
	StaticPath      string        `mapstructure:"static_path"`
	ReadLimit       int64         `mapstructure:"read_limit"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	Secret          string        `mapstructure:"secret"`
	LogLevel        string        `mapstructure:"log_level"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	Auth      AuthConfig      `mapstructure:"auth"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Signal    SignalConfig    `mapstructure:"signal"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
}

type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	Issuer     string        `mapstructure:"issuer"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
}

type ChatConfig struct {
	MaxMessageLen int `mapstructure:"max_message_len"`
}

type SignalConfig struct {
	// RequireAuth makes /webrtc demand ?token= and pins the join userId to it.
	RequireAuth    bool     `mapstructure:"require_auth"`
	JoinsPerMinute int      `mapstructure:"joins_per_minute"`
	ICEServers     []string `mapstructure:"ice_servers"`
}

type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	MaxConns    int32  `mapstructure:"max_conns"`
	Migrate     bool   `mapstructure:"migrate"`
}

type RedisConfig struct {
	Addrs    []string      `mapstructure:"addrs"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("shutdown_timeout", "5s")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "huddle")
	v.SetDefault("auth.token_ttl", "168h")
	v.SetDefault("auth.bcrypt_cost", 10)

	v.SetDefault("chat.max_message_len", 4000)

	v.SetDefault("signal.require_auth", false)
	v.SetDefault("signal.joins_per_minute", 30)
	v.SetDefault("signal.ice_servers", []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"})

	v.SetDefault("rate_limit.requests", 100)
	v.SetDefault("rate_limit.window", "15m")

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.max_conns", 10)
	v.SetDefault("storage.migrate", true)

	v.SetDefault("redis.addrs", []string{})
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.prefix", "huddle:presence:")
	v.SetDefault("redis.ttl", "24h")
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default) on top of the
// defaults. A .env file is loaded first, and HUDDLE_* variables override
// file values (HUDDLE_AUTH_JWT_SECRET for auth.jwt_secret).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("module", "config").Msg("read .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("HUDDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("storage", cfg.Storage.Driver).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth.jwt_secret must be at least 16 bytes")
	}
	if len(c.Secret) < 16 {
		return fmt.Errorf("secret must be at least 16 bytes")
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn required for postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.PingPeriod <= 0 {
		return fmt.Errorf("ping_period must be positive")
	}
	return nil
}
