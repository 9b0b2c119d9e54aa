package app

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/storage"
	"github.com/dkeye/Huddle/internal/wire"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type SubmitRequest struct {
	ChannelID domain.ChannelID
	Content   string
	Encrypted bool
}

// Broadcaster persists chat events and pushes them to the live sessions of
// the channel's members.
type Broadcaster struct {
	registry *Registry
	messages storage.MessageStore
	members  storage.MembershipResolver
	policy   Policy
	maxLen   int
	channels *keyedMutex
}

func NewBroadcaster(
	registry *Registry,
	messages storage.MessageStore,
	members storage.MembershipResolver,
	policy Policy,
	maxContentLen int,
) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		messages: messages,
		members:  members,
		policy:   policy,
		maxLen:   maxContentLen,
		channels: newKeyedMutex(),
	}
}

// Submit validates, persists and fans out one message. Submissions to the
// same channel are delivered in the order they get the channel lock.
// Nothing is sent when persisting fails.
func (b *Broadcaster) Submit(ctx context.Context, sender domain.UserID, req SubmitRequest) (domain.Message, error) {
	if _, ok := b.registry.Lookup(sender); !ok {
		return domain.Message{}, ErrNotAuthenticated
	}
	msg, err := domain.NewMessage(sender, req.ChannelID, req.Content, req.Encrypted, b.maxLen)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	unlock := b.channels.Lock(string(req.ChannelID))
	defer unlock()

	members, err := b.members.ChannelMembers(ctx, req.ChannelID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("resolve members of %s: %w", req.ChannelID, err)
	}
	if !slices.Contains(members, sender) {
		return domain.Message{}, ErrNotMember
	}

	saved, err := b.messages.SaveMessage(ctx, msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	frame, err := wire.Encode(wire.NewMessage{Type: wire.TypeNewMessage, Message: saved})
	if err != nil {
		return saved, fmt.Errorf("encode new_message: %w", err)
	}
	sent := b.deliver(members, "", frame)
	log.Debug().Str("module", "app.broadcast").Str("channel", string(req.ChannelID)).
		Str("message", saved.ID).Int("members", len(members)).Int("sent", sent).Msg("message broadcast")
	return saved, nil
}

// Fanout sends frame to every live member of channel except exclude.
func (b *Broadcaster) Fanout(ctx context.Context, channel domain.ChannelID, exclude domain.UserID, frame core.Frame) (int, error) {
	members, err := b.members.ChannelMembers(ctx, channel)
	if err != nil {
		return 0, fmt.Errorf("resolve members of %s: %w", channel, err)
	}
	if exclude != "" && !slices.Contains(members, exclude) {
		return 0, ErrNotMember
	}
	return b.deliver(members, exclude, frame), nil
}

// FanoutToContacts sends frame to every live user sharing a server with user.
func (b *Broadcaster) FanoutToContacts(ctx context.Context, user domain.UserID, frame core.Frame) (int, error) {
	contacts, err := b.members.Contacts(ctx, user)
	if err != nil {
		return 0, fmt.Errorf("resolve contacts of %s: %w", user, err)
	}
	return b.deliver(contacts, user, frame), nil
}

// deliver pushes frame once to each distinct recipient with a live session.
func (b *Broadcaster) deliver(recipients []domain.UserID, exclude domain.UserID, frame core.Frame) int {
	var (
		sent    int
		dropped []core.Connection
	)
	for _, id := range lo.Uniq(recipients) {
		if id == exclude {
			continue
		}
		conn, ok := b.registry.Lookup(id)
		if !ok {
			continue
		}
		err := conn.TrySend(frame)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, core.ErrBackpressure):
			dropped = append(dropped, conn)
		default:
			log.Debug().Err(err).Str("module", "app.broadcast").Str("user", string(id)).Msg("send skipped")
		}
	}
	applyPolicy(b.policy, "app.broadcast", dropped)
	return sent
}
