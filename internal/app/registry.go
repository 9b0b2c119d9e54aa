package app

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/storage"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Conn   core.Connection
	Status domain.Status
	Since  time.Time
}

// StatusNotifier is told about a user's status change while the user's
// registry lock is still held, so announcements keep the order of the writes.
type StatusNotifier func(ctx context.Context, id domain.UserID, status domain.Status)

// Registry maps every authenticated user to its one live chat socket.
// Changes for one user are serialized through users so the presence
// store never ends on a stale status.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.UserID]*sessionEntry
	presence storage.PresenceStore
	users    *keyedMutex
}

func NewRegistry(presence storage.PresenceStore) *Registry {
	return &Registry{
		sessions: make(map[domain.UserID]*sessionEntry),
		presence: presence,
		users:    newKeyedMutex(),
	}
}

// Register binds conn to id. A previous socket for the same user is closed,
// its own disconnect then finds a newer entry and leaves it alone.
func (r *Registry) Register(ctx context.Context, id domain.UserID, conn core.Connection, notify ...StatusNotifier) {
	unlock := r.users.Lock(string(id))
	defer unlock()

	r.mu.Lock()
	prev, had := r.sessions[id]
	r.sessions[id] = &sessionEntry{Conn: conn, Status: domain.StatusOnline, Since: time.Now()}
	r.mu.Unlock()

	if had && prev.Conn != conn {
		log.Info().Str("module", "app.registry").Str("user", string(id)).Msg("superseded session closed")
		prev.Conn.Close()
	}
	log.Info().Str("module", "app.registry").Str("user", string(id)).Msg("registered")
	r.publish(ctx, id, domain.StatusOnline, notify)
}

func (r *Registry) Lookup(id domain.UserID) (core.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[id]; ok {
		return e.Conn, true
	}
	return nil, false
}

// Unregister removes id only while it still points at conn, so a stale
// close never evicts a newer session.
func (r *Registry) Unregister(ctx context.Context, id domain.UserID, conn core.Connection, notify ...StatusNotifier) bool {
	unlock := r.users.Lock(string(id))
	defer unlock()

	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok || e.Conn != conn {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("user", string(id)).Msg("unregistered")
	r.publish(ctx, id, domain.StatusOffline, notify)
	return true
}

func (r *Registry) SetStatus(ctx context.Context, id domain.UserID, status domain.Status, notify ...StatusNotifier) error {
	unlock := r.users.Lock(string(id))
	defer unlock()

	r.mu.Lock()
	e, ok := r.sessions[id]
	if ok {
		e.Status = status
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotAuthenticated
	}
	r.publish(ctx, id, status, notify)
	return nil
}

func (r *Registry) Status(id domain.UserID) (domain.Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[id]; ok {
		return e.Status, true
	}
	return domain.StatusOffline, false
}

// Online returns the registered user ids, sorted.
func (r *Registry) Online() []domain.UserID {
	r.mu.RLock()
	out := make([]domain.UserID, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) publish(ctx context.Context, id domain.UserID, status domain.Status, notify []StatusNotifier) {
	r.writePresence(ctx, id, status)
	for _, fn := range notify {
		fn(ctx, id, status)
	}
}

func (r *Registry) writePresence(ctx context.Context, id domain.UserID, status domain.Status) {
	if r.presence == nil {
		return
	}
	if err := r.presence.SetStatus(ctx, id, status); err != nil {
		log.Warn().Err(err).Str("module", "app.registry").Str("user", string(id)).
			Str("status", string(status)).Msg("presence update failed")
	}
}
