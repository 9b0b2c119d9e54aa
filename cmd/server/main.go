package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Huddle/internal/adapters/http"
	"github.com/dkeye/Huddle/internal/adapters/chat"
	signalws "github.com/dkeye/Huddle/internal/adapters/signal"
	"github.com/dkeye/Huddle/internal/adapters/wsconn"
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/identity"
	"github.com/dkeye/Huddle/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}

// setupLogger keeps the console writer in debug mode and switches to JSON
// lines otherwise.
func setupLogger(cfg *config.Config) {
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.Storage.Driver != "postgres" {
		log.Info().Str("module", "storage").Msg("using in-memory store")
		return storage.NewMemoryStore(), nil
	}
	pg, err := storage.NewPostgresStore(ctx, storage.PostgresConfig{
		DSN:             cfg.Storage.PostgresDSN,
		MaxConns:        cfg.Storage.MaxConns,
		ApplicationName: "huddle",
	})
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
	}
	return pg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	var presence storage.PresenceStore = store
	if len(cfg.Redis.Addrs) > 0 {
		rp, err := storage.NewRedisPresence(storage.RedisPresenceConfig{
			Addrs:    cfg.Redis.Addrs,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			return fmt.Errorf("open redis presence: %w", err)
		}
		defer func() { _ = rp.Close() }()
		if err := rp.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		log.Info().Str("module", "storage").Strs("addrs", cfg.Redis.Addrs).Msg("presence in redis")
		presence = rp
	}

	tokens, err := identity.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	policy := app.SimplePolicy{}
	reg := app.NewRegistry(presence)
	o := &orch.Orchestrator{
		Registry: reg,
		Chat:     app.NewBroadcaster(reg, store, store, policy, cfg.Chat.MaxMessageLen),
		Rooms:    app.NewRoomManager(app.WireAnnouncer{}, policy),
		Tokens:   tokens,
	}

	wsOpts := wsconn.Options{
		SendBuffer: cfg.SendBuffer,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		WriteWait:  cfg.WriteWait,
	}
	apiLimiter := app.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	joinLimiter := app.NewRateLimiter(cfg.Signal.JoinsPerMinute, time.Minute)

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Orch:       o,
		Identity:   identity.NewService(store, presence, tokens, cfg.Auth.BcryptCost),
		Store:      store,
		Presence:   presence,
		Chat:       chat.NewController(o, wsOpts),
		Signal:     signalws.NewSignalWSController(o, joinLimiter, wsOpts),
		APILimiter: apiLimiter,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Huddle server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return runSweeper(gctx, time.Minute, apiLimiter, joinLimiter)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		return nil
	})
	return g.Wait()
}
