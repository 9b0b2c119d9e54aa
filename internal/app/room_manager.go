package app

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/wire"
	"github.com/rs/zerolog/log"
)

type JoinRequest struct {
	RoomID domain.RoomID
	UserID domain.UserID
	PeerID domain.PeerID
}

type membership struct {
	room core.RoomService
	peer domain.Peer
}

// RoomManager owns the table of live signaling rooms and knows which room
// each signaling socket is in. Room contents are guarded by the room's own
// lock; mu only guards the two maps.
// Calls for one socket are expected from that socket's read worker only.
type RoomManager struct {
	mu       sync.RWMutex
	rooms    map[domain.RoomID]core.RoomService
	bySocket map[core.Connection]membership

	announce core.Announcer
	policy   Policy
}

func NewRoomManager(announce core.Announcer, policy Policy) *RoomManager {
	return &RoomManager{
		rooms:    make(map[domain.RoomID]core.RoomService),
		bySocket: make(map[core.Connection]membership),
		announce: announce,
		policy:   policy,
	}
}

func (m *RoomManager) getOrCreate(id domain.RoomID) core.RoomService {
	m.mu.RLock()
	room, ok := m.rooms[id]
	m.mu.RUnlock()
	if ok {
		return room
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok = m.rooms[id]; ok {
		return room
	}
	room = core.NewRoomService(id, m.announce)
	m.rooms[id] = room
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room created")
	return room
}

// dropRoom removes room from the table unless it was already replaced.
func (m *RoomManager) dropRoom(room core.RoomService) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.rooms[room.ID()]; ok && cur == room {
		delete(m.rooms, room.ID())
		log.Info().Str("module", "app.rooms").Str("room", string(room.ID())).Msg("room destroyed")
	}
}

// Join adds the socket's peer to a room and returns the peers that were
// there before it. A socket already in a room leaves it only once the new
// join succeeded, so a rejected join changes nothing.
func (m *RoomManager) Join(req JoinRequest, conn core.Connection) ([]domain.Peer, error) {
	m.mu.RLock()
	prev, inRoom := m.bySocket[conn]
	m.mu.RUnlock()

	if inRoom && prev.room.ID() == req.RoomID {
		// rejoining the same room: the old peer must be gone before the new
		// one is announced
		if req.PeerID != prev.peer.ID && hasPeer(prev.room, req.PeerID) {
			return nil, fmt.Errorf("%w: %s", core.ErrPeerIDTaken, req.PeerID)
		}
		m.Leave(conn)
		inRoom = false
	}

	peer := domain.NewPeer(req.PeerID, req.UserID)
	rec := core.PeerRecord{Peer: peer, RoomID: req.RoomID, Conn: conn}
	for {
		room := m.getOrCreate(req.RoomID)
		existing, res, err := room.Join(rec)
		if errors.Is(err, core.ErrRoomClosed) {
			// lost the race with the last peer leaving
			m.dropRoom(room)
			continue
		}
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.bySocket[conn] = membership{room: room, peer: peer}
		m.mu.Unlock()
		m.handleDropped(res)

		if inRoom {
			m.leave(prev)
		}
		return existing, nil
	}
}

// Leave removes the socket's peer from its room. It is a no-op for a
// socket that is not in a room, so a repeated leave announces nothing.
func (m *RoomManager) Leave(conn core.Connection) bool {
	m.mu.Lock()
	mem, ok := m.bySocket[conn]
	delete(m.bySocket, conn)
	m.mu.Unlock()
	if !ok {
		return false
	}
	return m.leave(mem)
}

func (m *RoomManager) leave(mem membership) bool {
	remaining, res, left := mem.room.Leave(mem.peer.ID)
	if left && remaining == 0 {
		m.dropRoom(mem.room)
	}
	m.handleDropped(res)
	return left
}

func hasPeer(room core.RoomService, id domain.PeerID) bool {
	return slices.ContainsFunc(room.PeersSnapshot(), func(p domain.Peer) bool { return p.ID == id })
}

// Relay forwards an opaque negotiation payload to target inside the
// sender's room, stamped with the sender's peer and user id.
func (m *RoomManager) Relay(conn core.Connection, kind string, target domain.PeerID, payload json.RawMessage) error {
	m.mu.RLock()
	mem, ok := m.bySocket[conn]
	m.mu.RUnlock()
	if !ok {
		return ErrNotJoined
	}

	n, err := wire.NewNegotiation(kind, payload)
	if err != nil {
		return err
	}
	n.PeerID = mem.peer.ID
	n.UserID = mem.peer.UserID
	frame, err := wire.Encode(n)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}

	res, err := mem.room.Relay(mem.peer.ID, target, frame)
	m.handleDropped(res)
	return err
}

// PeerOf reports the peer a socket is signaling as.
func (m *RoomManager) PeerOf(conn core.Connection) (domain.Peer, domain.RoomID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.bySocket[conn]
	if !ok {
		return domain.Peer{}, "", false
	}
	return mem.peer, mem.room.ID(), true
}

func (m *RoomManager) handleDropped(res core.PublishResult) {
	if len(res.Dropped) == 0 {
		return
	}
	conns := make([]core.Connection, 0, len(res.Dropped))
	for _, rec := range res.Dropped {
		conns = append(conns, rec.Conn)
	}
	applyPolicy(m.policy, "app.rooms", conns)
}

// List returns the live rooms ordered by id.
func (m *RoomManager) List() []domain.Room {
	m.mu.RLock()
	rooms := make([]core.RoomService, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	out := make([]domain.Room, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, domain.Room{ID: r.ID(), PeerCount: r.PeerCount()})
	}
	slices.SortFunc(out, func(a, b domain.Room) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (m *RoomManager) Peers(id domain.RoomID) ([]domain.Peer, bool) {
	m.mu.RLock()
	room, ok := m.rooms[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return room.PeersSnapshot(), true
}

func (m *RoomManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}
