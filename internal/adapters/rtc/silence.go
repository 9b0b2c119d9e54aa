package rtc

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

const (
	opusClockRate   = 48000
	frameDuration   = 20 * time.Millisecond
	samplesPerFrame = opusClockRate / 1000 * 20
)

// opusSilence is one 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// NewOpusTrack returns a local audio track that can be shared by every
// connection of one participant.
func NewOpusTrack(streamID string) (*webrtc.TrackLocalStaticRTP, error) {
	return webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
		"audio", streamID,
	)
}

// SendSilence writes silent Opus frames to track every 20ms until ctx ends,
// so a bot shows up as a live audio participant.
func SendSilence(ctx context.Context, track *webrtc.TrackLocalStaticRTP) error {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SequenceNumber: uint16(rand.UintN(1 << 16)),
			Timestamp:      rand.Uint32(),
		},
		Payload: opusSilence,
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := track.WriteRTP(pkt); err != nil {
				return err
			}
			pkt.SequenceNumber++
			pkt.Timestamp += samplesPerFrame
		}
	}
}
