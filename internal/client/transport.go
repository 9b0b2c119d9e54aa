package client

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Conn is a signaling socket as the client sees it.
type Conn interface {
	Sender
	Read() ([]byte, error)
	Close() error
}

// WSConn is a Conn over gorilla/websocket. Send is safe for concurrent
// use; Read must be called from one goroutine.
type WSConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return &WSConn{ws: ws}, nil
}

func (c *WSConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *WSConn) Read() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *WSConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return c.ws.Close()
}
