// Package rtc implements the media end of a negotiation on pion/webrtc.
package rtc

import (
	"context"
	"sync"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config builds a pion configuration from ICE server urls, falling back to
// the public STUN servers.
func Config(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = DefaultICEServers
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

// WebRTCConnection wraps one PeerConnection toward a remote peer. The
// callbacks must be set before Start.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	remote domain.PeerID

	onICE       func(webrtc.ICECandidateInit)
	onConnected func()
	onFailed    func(error)
	onTrack     func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewWebRTCConnection opens a PeerConnection toward remote. With a local
// track the audio is sent both ways, without one it is receive only.
func NewWebRTCConnection(cfg webrtc.Configuration, remote domain.PeerID, local *webrtc.TrackLocalStaticRTP) (*WebRTCConnection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &WebRTCConnection{pc: pc, remote: remote}
	if local != nil {
		_, err = c.AddLocalTrack(local)
	} else {
		_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
	}
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	return c, nil
}

func (c *WebRTCConnection) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("remote", string(c.remote)).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("remote", string(c.remote)).Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if c.onConnected != nil {
				c.onConnected()
			}
		case webrtc.PeerConnectionStateFailed:
			if c.onFailed != nil {
				c.onFailed(errTransport(s))
			}
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("remote", string(c.remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if c.onTrack != nil {
			c.onTrack(c.ctx, track, receiver)
		}
	})

	return nil
}

func (c *WebRTCConnection) CreateOffer(context.Context) (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (c *WebRTCConnection) CreateAnswer(context.Context) (webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (c *WebRTCConnection) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(sdp)
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *WebRTCConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if err = c.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "webrtc").Str("remote", string(c.remote)).Msg("close error")
			return
		}
		log.Info().Str("module", "webrtc").Str("remote", string(c.remote)).Msg("closed")
	})
	return err
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }

func (c *WebRTCConnection) OnConnected(fn func()) { c.onConnected = fn }

// OnFailed is called when the media path drops after negotiation.
func (c *WebRTCConnection) OnFailed(fn func(error)) { c.onFailed = fn }

// OnTrack sets application-level callback for remote tracks.
func (c *WebRTCConnection) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.onTrack = fn
}

// AddLocalTrack attaches a local static RTP track to the PeerConnection.
func (c *WebRTCConnection) AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error) {
	return c.pc.AddTrack(track)
}
