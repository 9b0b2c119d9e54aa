package core

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

type roomEntry struct {
	rec PeerRecord
	seq uint64
}

// roomImpl is a threadsafe in-memory signaling room.
// Every mutation and every send happens under mu, so peers observe
// membership changes and relays in lock order.
type roomImpl struct {
	id       domain.RoomID
	announce Announcer

	mu     sync.Mutex
	peers  map[domain.PeerID]roomEntry
	seq    uint64
	closed bool
}

func NewRoomService(id domain.RoomID, announce Announcer) RoomService {
	return &roomImpl{
		id:       id,
		announce: announce,
		peers:    make(map[domain.PeerID]roomEntry),
	}
}

func (r *roomImpl) ID() domain.RoomID { return r.id }

func (r *roomImpl) PeerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

func (r *roomImpl) PeersSnapshot() []domain.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// snapshotLocked returns peers in join order.
func (r *roomImpl) snapshotLocked() []domain.Peer {
	entries := make([]roomEntry, 0, len(r.peers))
	for _, e := range r.peers {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b roomEntry) int { return cmp.Compare(a.seq, b.seq) })
	out := make([]domain.Peer, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.rec.Peer)
	}
	return out
}

func (r *roomImpl) Join(rec PeerRecord) ([]domain.Peer, PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := PublishResult{}
	if r.closed {
		return nil, res, ErrRoomClosed
	}
	if _, taken := r.peers[rec.Peer.ID]; taken {
		return nil, res, fmt.Errorf("%w: %s", ErrPeerIDTaken, rec.Peer.ID)
	}

	existing := r.snapshotLocked()
	r.seq++
	rec.RoomID = r.id
	r.peers[rec.Peer.ID] = roomEntry{rec: rec, seq: r.seq}

	r.send(rec, r.announce.Peers(existing), &res)
	joined := r.announce.PeerJoined(rec.Peer)
	for id, e := range r.peers {
		if id == rec.Peer.ID {
			continue
		}
		r.send(e.rec, joined, &res)
	}
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("peer", string(rec.Peer.ID)).
		Str("user", string(rec.Peer.UserID)).Int("peers", len(r.peers)).Msg("peer joined")
	return existing, res, nil
}

func (r *roomImpl) Leave(id domain.PeerID) (int, PublishResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := PublishResult{}
	e, ok := r.peers[id]
	if !ok {
		return len(r.peers), res, false
	}
	delete(r.peers, id)

	left := r.announce.PeerLeft(e.rec.Peer)
	for _, other := range r.peers {
		r.send(other.rec, left, &res)
	}
	if len(r.peers) == 0 {
		r.closed = true
	}
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("peer", string(id)).
		Int("peers", len(r.peers)).Msg("peer left")
	return len(r.peers), res, true
}

func (r *roomImpl) Relay(from, to domain.PeerID, frame Frame) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := PublishResult{}
	if _, ok := r.peers[from]; !ok {
		return res, fmt.Errorf("sender %s: %w", from, ErrPeerNotFound)
	}
	target, ok := r.peers[to]
	if !ok {
		return res, fmt.Errorf("target %s: %w", to, ErrPeerNotFound)
	}
	err := target.rec.Conn.TrySend(frame)
	switch {
	case err == nil:
		res.SendTo++
	case errors.Is(err, ErrBackpressure):
		res.Dropped = append(res.Dropped, target.rec)
	}
	return res, err
}

func (r *roomImpl) send(rec PeerRecord, frame Frame, res *PublishResult) {
	if frame == nil {
		return
	}
	if err := rec.Conn.TrySend(frame); err != nil {
		res.Dropped = append(res.Dropped, rec)
		return
	}
	res.SendTo++
}
