// Command voicebot joins a voice room as a headless participant. It
// receives every peer's audio and can send silence to look present.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dkeye/Huddle/internal/adapters/rtc"
	"github.com/dkeye/Huddle/internal/client"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/peer"
)

type botConfig struct {
	URL        string   `mapstructure:"url"`
	Room       string   `mapstructure:"room"`
	User       string   `mapstructure:"user"`
	Token      string   `mapstructure:"token"`
	ICEServers []string `mapstructure:"ice"`
	Beacon     bool     `mapstructure:"beacon"`
	Retries    int      `mapstructure:"retries"`
	Debug      bool     `mapstructure:"debug"`
}

func loadConfig(args []string) (*botConfig, error) {
	fs := pflag.NewFlagSet("voicebot", pflag.ContinueOnError)
	fs.String("url", "ws://localhost:8080/webrtc", "signaling socket url")
	fs.String("room", "", "voice room id to join")
	fs.String("user", "voicebot", "user id announced in join")
	fs.String("token", "", "bearer token, required when the server pins identities")
	fs.StringSlice("ice", rtc.DefaultICEServers, "ICE server urls")
	fs.Bool("beacon", false, "send silent audio")
	fs.Int("retries", client.DefaultReconnectPolicy().MaxAttempts, "reconnect attempts, 0 for unlimited")
	fs.Bool("debug", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("HUDDLE_BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}

	var cfg botConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.Room == "" {
		return nil, errors.New("--room is required")
	}
	return &cfg, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Str("module", "voicebot").Msg("bad flags")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	var local *webrtc.TrackLocalStaticRTP
	if cfg.Beacon {
		if local, err = rtc.NewOpusTrack("huddle-" + cfg.User); err != nil {
			log.Fatal().Err(err).Str("module", "voicebot").Msg("create track")
		}
		go func() {
			if err := rtc.SendSilence(ctx, local); err != nil {
				log.Error().Err(err).Str("module", "voicebot").Msg("beacon stopped")
			}
		}()
	}

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	policy := client.DefaultReconnectPolicy()
	policy.MaxAttempts = cfg.Retries

	c := &client.Client{
		URL:    cfg.URL,
		Header: header,
		RoomID: domain.RoomID(cfg.Room),
		UserID: domain.UserID(cfg.User),
		Media:  mediaFactory(rtc.Config(cfg.ICEServers), local),
		Policy: policy,
		Observer: peer.ObserverFunc(func(e peer.Event) {
			ev := log.Info().Str("module", "voicebot").Str("remote", string(e.Remote)).Str("event", e.Kind.String())
			if e.Kind == peer.EventStateChanged {
				ev = ev.Str("from", e.From.String()).Str("to", e.To.String())
			}
			if e.Err != nil {
				ev = ev.Err(e.Err)
			}
			ev.Msg("negotiation")
		}),
	}

	log.Info().Str("module", "voicebot").Str("url", cfg.URL).Str("room", cfg.Room).Bool("beacon", cfg.Beacon).Msg("starting")
	if err := c.Run(ctx); err != nil {
		log.Error().Err(err).Str("module", "voicebot").Msg("stopped")
		os.Exit(1)
	}
	log.Info().Str("module", "voicebot").Msg("bye")
}

func mediaFactory(cfg webrtc.Configuration, local *webrtc.TrackLocalStaticRTP) client.MediaFactory {
	return func(ctx context.Context, remote domain.PeerID, hooks client.MediaHooks) (peer.MediaConnection, error) {
		conn, err := rtc.NewWebRTCConnection(cfg, remote, local)
		if err != nil {
			return nil, err
		}
		conn.OnICECandidate(hooks.OnCandidate)
		conn.OnConnected(hooks.OnConnected)
		conn.OnFailed(hooks.OnFailed)
		conn.OnTrack(drainTrack)
		if err := conn.Start(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil
	}
}

// drainTrack reads a remote track until it ends and logs how much arrived.
func drainTrack(_ context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	go func() {
		packets, bytes := 0, 0
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				log.Info().Str("module", "voicebot").Str("track_id", track.ID()).
					Int("packets", packets).Int("bytes", bytes).Msg("track ended")
				return
			}
			packets++
			bytes += len(pkt.Payload)
		}
	}()
}
