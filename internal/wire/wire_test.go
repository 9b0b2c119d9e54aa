package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPeekType(t *testing.T) {
	req := require.New(t)

	kind, err := PeekType([]byte(`{"type":"join","roomId":"r"}`))
	req.NoError(err)
	req.Equal(TypeJoin, kind)

	_, err = PeekType([]byte(`not json`))
	req.ErrorIs(err, ErrMalformed)

	_, err = PeekType([]byte(`{"roomId":"r"}`))
	req.ErrorIs(err, ErrInvalid)
}

func TestDecode_Validates_Required_Fields(t *testing.T) {
	req := require.New(t)

	var join Join
	req.NoError(Decode([]byte(`{"type":"join","roomId":"voice-1","userId":"u1","peerId":"p1"}`), &join))
	req.EqualValues("voice-1", join.RoomID)

	err := Decode([]byte(`{"type":"join","roomId":"voice-1","userId":"u1"}`), &join)
	req.ErrorIs(err, ErrInvalid)

	// the user id is left to the socket's verified identity
	join = Join{}
	req.NoError(Decode([]byte(`{"type":"join","roomId":"voice-1","peerId":"p1"}`), &join))
	req.Empty(join.UserID)

	var status StatusChange
	err = Decode([]byte(`{"type":"status_change","status":"away"}`), &status)
	req.ErrorIs(err, ErrInvalid)
	req.NoError(Decode([]byte(`{"type":"status_change","status":"dnd"}`), &status))
}

func TestDecodeNegotiation(t *testing.T) {
	req := require.New(t)

	n, err := DecodeNegotiation([]byte(`{"type":"offer","targetPeerId":"p2","offer":{"type":"offer","sdp":"v=0"}}`))
	req.NoError(err)
	req.EqualValues("p2", n.TargetPeerID)
	req.JSONEq(`{"type":"offer","sdp":"v=0"}`, string(n.Payload()))

	_, err = DecodeNegotiation([]byte(`{"type":"offer","offer":{}}`))
	req.ErrorIs(err, ErrInvalid)

	_, err = DecodeNegotiation([]byte(`{"type":"answer","targetPeerId":"p2","offer":{}}`))
	req.ErrorIs(err, ErrInvalid)
}

func TestNegotiation_Relayed_Shape(t *testing.T) {
	req := require.New(t)

	n, err := NewNegotiation(TypeICECandidate, json.RawMessage(`{"candidate":"c1"}`))
	req.NoError(err)
	n.PeerID, n.UserID = "p1", "alice"
	b, err := Encode(n)
	req.NoError(err)
	req.JSONEq(`{"type":"ice-candidate","peerId":"p1","userId":"alice","candidate":{"candidate":"c1"}}`, string(b))

	_, err = NewNegotiation(TypeJoin, nil)
	req.ErrorIs(err, ErrInvalid)
}
