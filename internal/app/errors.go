package app

import "errors"

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotMember        = errors.New("not a member of this channel")
	ErrPersist          = errors.New("persist failed")
	ErrInvalidMessage   = errors.New("invalid message")
	ErrNotJoined        = errors.New("socket has not joined a room")
)
