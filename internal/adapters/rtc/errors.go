package rtc

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var ErrTransport = errors.New("media transport failed")

func errTransport(s webrtc.PeerConnectionState) error {
	return fmt.Errorf("%w: peer connection %s", ErrTransport, s)
}
