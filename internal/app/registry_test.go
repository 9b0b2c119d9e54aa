package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/storage/mocks"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestRegistry_Register_Supersedes_Previous_Session(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	reg := NewRegistry(nil)
	a, b := &fakeConn{}, &fakeConn{}

	// Given alice registered on socket A then on socket B
	reg.Register(ctx, "alice", a)
	reg.Register(ctx, "alice", b)

	// Then lookup returns B and A was closed
	got, ok := reg.Lookup("alice")
	req.True(ok)
	req.Same(b, got)
	req.True(a.isClosed())
	req.False(b.isClosed())

	// When A's close fires late, B survives
	req.False(reg.Unregister(ctx, "alice", a))
	got, ok = reg.Lookup("alice")
	req.True(ok)
	req.Same(b, got)

	req.True(reg.Unregister(ctx, "alice", b))
	_, ok = reg.Lookup("alice")
	req.False(ok)
	req.Equal(0, reg.Count())
}

func TestRegistry_Register_Same_Socket_Twice(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry(nil)
	a := &fakeConn{}

	reg.Register(context.Background(), "alice", a)
	reg.Register(context.Background(), "alice", a)

	req.False(a.isClosed())
	req.Equal(1, reg.Count())
}

func TestRegistry_Presence_Side_Effects(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	presence := mocks.NewMockPresenceStore(ctrl)
	reg := NewRegistry(presence)
	a := &fakeConn{}

	gomock.InOrder(
		presence.EXPECT().SetStatus(gomock.Any(), domain.UserID("alice"), domain.StatusOnline).Return(nil).Times(1),
		presence.EXPECT().SetStatus(gomock.Any(), domain.UserID("alice"), domain.StatusDND).Return(nil).Times(1),
		presence.EXPECT().SetStatus(gomock.Any(), domain.UserID("alice"), domain.StatusOffline).Return(errors.New("down")).Times(1),
	)

	reg.Register(ctx, "alice", a)
	req.NoError(reg.SetStatus(ctx, "alice", domain.StatusDND))
	st, ok := reg.Status("alice")
	req.True(ok)
	req.Equal(domain.StatusDND, st)

	// a presence failure does not block unregistering
	req.True(reg.Unregister(ctx, "alice", a))
	_, ok = reg.Lookup("alice")
	req.False(ok)
}

func TestRegistry_SetStatus_Requires_Session(t *testing.T) {
	reg := NewRegistry(nil)
	require.ErrorIs(t, reg.SetStatus(context.Background(), "ghost", domain.StatusIdle), ErrNotAuthenticated)
}

func TestRegistry_Online_Sorted(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(context.Background(), "carol", &fakeConn{})
	reg.Register(context.Background(), "alice", &fakeConn{})
	reg.Register(context.Background(), "bob", &fakeConn{})

	require.Equal(t, []domain.UserID{"alice", "bob", "carol"}, reg.Online())
}

func TestRegistry_Stale_Unregister_Does_Not_Win(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	presence := mocks.NewMockPresenceStore(ctrl)
	reg := NewRegistry(presence)
	a, b := &fakeConn{}, &fakeConn{}

	var mu sync.Mutex
	var written, announced []domain.Status
	record := func(list *[]domain.Status, st domain.Status) {
		mu.Lock()
		defer mu.Unlock()
		*list = append(*list, st)
	}
	snapshot := func(list *[]domain.Status) []domain.Status {
		mu.Lock()
		defer mu.Unlock()
		return append([]domain.Status(nil), *list...)
	}
	notify := func(_ context.Context, _ domain.UserID, st domain.Status) { record(&announced, st) }

	offlineStarted := make(chan struct{})
	release := make(chan struct{})
	presence.EXPECT().SetStatus(gomock.Any(), domain.UserID("alice"), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ domain.UserID, st domain.Status) error {
			if st == domain.StatusOffline {
				close(offlineStarted)
				<-release
			}
			record(&written, st)
			return nil
		}).Times(3)

	// Given alice on socket A whose disconnect is stuck writing offline
	reg.Register(ctx, "alice", a, notify)
	unregistered := make(chan bool, 1)
	go func() { unregistered <- reg.Unregister(ctx, "alice", a, notify) }()
	<-offlineStarted

	// When alice reconnects on socket B meanwhile
	registered := make(chan struct{})
	go func() {
		reg.Register(ctx, "alice", b, notify)
		close(registered)
	}()

	// Then B waits for the stale write to finish
	req.Never(func() bool {
		select {
		case <-registered:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond)
	close(release)
	req.True(<-unregistered)
	<-registered

	// And online is the last word everywhere
	want := []domain.Status{domain.StatusOnline, domain.StatusOffline, domain.StatusOnline}
	req.Equal(want, snapshot(&written))
	req.Equal(want, snapshot(&announced))
	got, ok := reg.Lookup("alice")
	req.True(ok)
	req.Same(b, got)
}
