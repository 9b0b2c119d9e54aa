package core

import "errors"

// Frame is a raw encoded message ready to be written to a socket.
type Frame []byte

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Connection abstracts the send path of one live socket.
// Owned by the adapter; the adapter must Close() it.
// TrySend never blocks and is safe for concurrent callers: it returns
// ErrBackpressure when the socket's queue is full and ErrConnClosed after Close.
type Connection interface {
	TrySend(Frame) error
	Close()
}
