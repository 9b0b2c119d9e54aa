package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingSweeper struct{ n atomic.Int32 }

func (s *countingSweeper) Sweep() { s.n.Add(1) }

func TestRunSweeper(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a, b := &countingSweeper{}, &countingSweeper{}
	done := make(chan error, 1)
	go func() { done <- runSweeper(ctx, time.Millisecond, a, b) }()

	require.Eventually(t, func() bool { return a.n.Load() >= 2 && b.n.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRunSweeper_Disabled_Waits_For_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &countingSweeper{}
	done := make(chan error, 1)
	go func() { done <- runSweeper(ctx, 0, s) }()
	cancel()
	require.NoError(t, <-done)
	require.Zero(t, s.n.Load())
}
