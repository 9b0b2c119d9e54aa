// Package wire defines the JSON frames exchanged on the chat and signaling
// sockets. Every frame is an object tagged by its "type" field.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Chat channel kinds.
const (
	TypeAuthenticate  = "authenticate"
	TypeAuthenticated = "authenticated"
	TypeError         = "error"
	TypeMessage       = "message"
	TypeNewMessage    = "new_message"
	TypeTyping        = "typing"
	TypeStatusChange  = "status_change"
	TypeUserStatus    = "user_status"
	TypeVoiceState    = "voice_state"
)

// Signaling channel kinds.
const (
	TypeJoin         = "join"
	TypePeers        = "peers"
	TypePeerJoined   = "peer-joined"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeLeave        = "leave"
	TypePeerLeft     = "peer-left"
)

// Shared control kinds.
const (
	TypePing = "ping"
	TypePong = "pong"
)

var (
	ErrMalformed = errors.New("malformed frame")
	ErrInvalid   = errors.New("invalid frame")
)

var validate = validator.New()

// Envelope is decoded first to dispatch on the frame kind.
type Envelope struct {
	Type string `json:"type"`
}

// PeekType returns the "type" of a raw frame.
func PeekType(data []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrInvalid)
	}
	return env.Type, nil
}

// Decode unmarshals data into v and validates its struct tags.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Encode marshals an outbound frame.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Control is used for frames that carry nothing but their kind (ping, pong, leave).
type Control struct {
	Type string `json:"type"`
}
