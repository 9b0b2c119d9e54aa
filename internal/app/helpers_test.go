package app

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/wire"
	"github.com/stretchr/testify/require"
)

// fakeConn records every frame it accepts.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, append([]byte(nil), f...))
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeConn) types(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		kind, err := wire.PeekType(f)
		require.NoError(t, err)
		out = append(out, kind)
	}
	return out
}

// frame decodes the i-th recorded frame into v.
func (c *fakeConn) frame(t *testing.T, i int, v any) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Less(t, i, len(c.frames))
	require.NoError(t, json.Unmarshal(c.frames[i], v))
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}
