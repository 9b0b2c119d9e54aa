// Package wsconn adapts a WebSocket to core.Connection: a bounded send
// queue drained by one writer, and one reader feeding a frame handler.
package wsconn

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

var (
	ErrBackpressure = core.ErrBackpressure
	ErrClosed       = core.ErrConnClosed
)

// Socket is an indirection over *websocket.Conn to ease testing.
type Socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	WriteControl(mt int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

type Options struct {
	SendBuffer int
	ReadLimit  int64
	PingPeriod time.Duration
	WriteWait  time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	return o
}

// pongWait is how long the reader waits for any frame or pong.
func (o Options) pongWait() time.Duration {
	return o.PingPeriod * 10 / 9
}

type Conn struct {
	ws     Socket
	opts   Options
	logger zerolog.Logger
	send   chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func New(ws Socket, opts Options, module string) *Conn {
	opts = opts.withDefaults()
	return &Conn{
		ws:     ws,
		opts:   opts,
		logger: log.With().Str("module", module).Logger(),
		send:   make(chan core.Frame, opts.SendBuffer),
	}
}

func (c *Conn) Logger() *zerolog.Logger { return &c.logger }

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.ws.Close()
	c.mu.Unlock()
}

func (c *Conn) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Run drives both pumps until the socket is closed or ctx ends. A panic in
// handle is logged and only drops that frame.
func (c *Conn) Run(ctx context.Context, handle func([]byte)) {
	var wg conc.WaitGroup
	wg.Go(func() { c.writePump(ctx) })
	wg.Go(func() { c.readPump(ctx, handle) })
	if r := wg.WaitAndRecover(); r != nil {
		c.logger.Error().Str("panic", r.String()).Msg("pump panic")
		c.Close()
	}
}

func (c *Conn) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug().Msg("writePump ctx done")
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
				time.Now().Add(c.opts.WriteWait))
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				c.logger.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn().Err(err).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				c.logger.Warn().Err(err).Msg("writePump ping error")
				return
			}
		}
	}
}

func (c *Conn) readPump(ctx context.Context, handle func([]byte)) {
	defer func() {
		c.logger.Debug().Msg("readPump closing")
		c.Close()
	}()

	c.ws.SetReadLimit(c.opts.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.pongWait()))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.pongWait()))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("readPump read error")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.pongWait()))

		var pc panics.Catcher
		pc.Try(func() { handle(data) })
		if r := pc.Recovered(); r != nil {
			c.logger.Error().Str("panic", r.String()).Msg("frame handler panic")
		}
	}
}
