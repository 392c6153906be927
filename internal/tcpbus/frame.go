// Package tcpbus implements spec.md §4.9's TCP unicast variant of the
// message bus: MessagePublisher/MessageReceiver share the event stream's
// session/sequencing semantics but frame messages over a single
// connection-oriented byte stream instead of MoldUDP64 datagrams, with a
// 10s-inactivity/1s-cadence heartbeat and a catch-up-from-sequence
// handshake on connect instead of discovery+rewind.
//
// Grounded on xtaci-kcptun's tcpraw dependency (dropped - see
// SPEC_FULL.md - but its plain net.Conn read/write loop shape is what this
// package's loop imitates) and smux/session.go's keepalive ticker for the
// cadence/timeout behavior.
package tcpbus

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/jimgreco/core-sub000/internal/session"
)

const (
	// heartbeatMarker is the length-field value (interpreted as a signed
	// 16-bit int) that identifies a heartbeat frame instead of a message.
	heartbeatMarker = -2
	// lenFieldLen is the width of a frame's length field.
	lenFieldLen = 2
	// heartbeatBodyLen is session[10] + nextSeqNum[8].
	heartbeatBodyLen = session.NameLen + 8
	// heartbeatFrameLen is the full heartbeat frame: len field + body.
	heartbeatFrameLen = lenFieldLen + heartbeatBodyLen

	// heartbeatInterval is the 1s cadence spec.md §4.9 mandates for both
	// sending heartbeats (publisher side) and checking for inactivity
	// (receiver side).
	heartbeatInterval = 1
	// inactivityTimeoutTicks is how many heartbeatInterval ticks of silence
	// trigger a reconnect (10s / 1s).
	inactivityTimeoutTicks = 10
)

// ErrMalformedFrame is returned when a length field is zero or implies a
// body the stream cannot contain (neither a positive message length nor
// the heartbeat marker).
var ErrMalformedFrame = errors.New("tcpbus: malformed frame")

// encodeHeartbeat writes a heartbeat frame into buf (which must be at
// least heartbeatFrameLen bytes) and returns its length.
func encodeHeartbeat(buf []byte, sessionName string, nextSeq uint64) int {
	binary.BigEndian.PutUint16(buf[0:2], uint16(int16(heartbeatMarker)))
	copy(buf[2:2+session.NameLen], sessionName)
	binary.BigEndian.PutUint64(buf[2+session.NameLen:heartbeatFrameLen], nextSeq)
	return heartbeatFrameLen
}

// encodeMessageFrame writes a (len, bytes) message frame into buf (which
// must be at least lenFieldLen+len(msg) bytes) and returns its length.
func encodeMessageFrame(buf []byte, msg []byte) int {
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(msg)))
	copy(buf[2:2+len(msg)], msg)
	return lenFieldLen + len(msg)
}

// encodeHandshake writes the 8-byte nextSeqNum a MessageReceiver sends
// immediately after connecting, indicating where the stream should start.
func encodeHandshake(buf []byte, nextSeqNum uint64) int {
	binary.BigEndian.PutUint64(buf[0:8], nextSeqNum)
	return 8
}

// decodeHandshake parses the 8-byte nextSeqNum a MessagePublisher reads
// right after accepting a connection.
func decodeHandshake(buf []byte) (uint64, error) {
	if len(buf) < 8 {
		return 0, ErrMalformedFrame
	}
	return binary.BigEndian.Uint64(buf[0:8]), nil
}
