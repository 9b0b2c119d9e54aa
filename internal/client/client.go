package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/peer"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Client keeps a participant in one voice room, rejoining with a fresh
// peer id after the signaling socket drops.
type Client struct {
	URL    string
	Header http.Header
	RoomID domain.RoomID
	UserID domain.UserID

	Media    MediaFactory
	Observer peer.Observer
	Policy   ReconnectPolicy

	// Dial and NewPeerID default to the websocket dialer and a uuid.
	Dial      func(ctx context.Context, url string, header http.Header) (Conn, error)
	NewPeerID func() domain.PeerID
	// OnSession is called with every session once it has sent its join.
	OnSession func(*VoiceSession)
}

// Run blocks until ctx ends or the reconnect policy gives up.
func (c *Client) Run(ctx context.Context) error {
	dial := c.Dial
	if dial == nil {
		dial = Dial
	}
	newPeerID := c.NewPeerID
	if newPeerID == nil {
		newPeerID = func() domain.PeerID { return domain.PeerID(uuid.NewString()) }
	}

	attempt := 0
	for {
		joined, err := c.runOnce(ctx, dial, newPeerID())
		if ctx.Err() != nil {
			return nil
		}
		if joined {
			attempt = 0
		}
		delay, ok := c.Policy.Delay(attempt)
		if !ok {
			return fmt.Errorf("%w: %w", ErrGaveUp, err)
		}
		attempt++
		log.Warn().Err(err).Str("module", "client").Int("attempt", attempt).Dur("delay", delay).Msg("signaling lost, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// runOnce serves one signaling socket and reports whether the room
// accepted the join before it dropped.
func (c *Client) runOnce(ctx context.Context, dial func(context.Context, string, http.Header) (Conn, error), peerID domain.PeerID) (bool, error) {
	conn, err := dial(ctx, c.URL, c.Header)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	session := NewVoiceSession(SessionConfig{RoomID: c.RoomID, UserID: c.UserID, PeerID: peerID}, conn, c.Media, c.Observer)
	defer session.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = session.Leave()
			_ = conn.Close()
		case <-stop:
		}
	}()

	if err := session.Join(); err != nil {
		_ = conn.Close()
		return false, fmt.Errorf("join: %w", err)
	}
	log.Info().Str("module", "client").Str("room", string(c.RoomID)).Str("peer", string(peerID)).Msg("joined")
	if c.OnSession != nil {
		c.OnSession(session)
	}

	for {
		data, err := conn.Read()
		if err != nil {
			_ = conn.Close()
			return session.Joined(), fmt.Errorf("read: %w", err)
		}
		if err := session.HandleFrame(ctx, data); err != nil {
			if errors.Is(err, peer.ErrClosed) {
				continue
			}
			log.Warn().Err(err).Str("module", "client").Msg("frame")
		}
	}
}
