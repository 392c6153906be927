// Package wire implements the MoldUDP64-derived packet framing: a fixed
// 20-byte header followed by N length-prefixed messages.
//
// Framing here is grounded on the xtaci/smux frame codec's style - a fixed
// rawHeader byte array with accessor methods and a single binary.BigEndian
// layout - adapted from smux's per-stream multiplexing frame to this
// protocol's fixed session/sequence/count header.
package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	// HeaderLen is the fixed MoldUDP64 packet header size.
	HeaderLen = 20
	// SessionLen is the width of the session name field within the header.
	SessionLen = 10
	// MaxMessageLen is the largest single event/message body allowed.
	MaxMessageLen = 1450
	// MTU is the wire MTU packets are built against.
	MTU = 1472
	// lengthPrefixLen is the width of each message's length prefix.
	lengthPrefixLen = 2
)

// ErrMalformed is returned when a buffer is too short to hold a valid
// header or a framed message.
var ErrMalformed = errors.New("wire: malformed packet")

// Header is the parsed form of a MoldUDP64 packet header.
type Header struct {
	Session  string
	FirstSeq uint64
	Count    uint16
}

// EncodeHeader writes session, firstSeq and msgCount into buf[0:HeaderLen]
// in MoldUDP64 layout. session must be exactly SessionLen bytes; callers
// pad/validate upstream (Session.Name already guarantees this).
func EncodeHeader(buf []byte, session string, firstSeq uint64, msgCount uint16) {
	copy(buf[0:SessionLen], session)
	if len(session) < SessionLen {
		for i := len(session); i < SessionLen; i++ {
			buf[i] = 0
		}
	}
	binary.BigEndian.PutUint64(buf[10:18], firstSeq)
	binary.BigEndian.PutUint16(buf[18:20], msgCount)
}

// ParseHeader parses the first HeaderLen bytes of buf[:bytesRead]. Returns
// ErrMalformed if bytesRead < HeaderLen.
func ParseHeader(buf []byte, bytesRead int) (Header, error) {
	if bytesRead < HeaderLen {
		return Header{}, ErrMalformed
	}
	return Header{
		Session:  string(buf[0:SessionLen]),
		FirstSeq: binary.BigEndian.Uint64(buf[10:18]),
		Count:    binary.BigEndian.Uint16(buf[18:20]),
	}, nil
}

// MessageIter walks the length-prefixed messages following a packet header.
type MessageIter struct {
	buf    []byte
	cursor int
	end    int
}

// NewMessageIter starts message iteration at offset HeaderLen within
// buf[:bytesRead].
func NewMessageIter(buf []byte, bytesRead int) *MessageIter {
	return &MessageIter{buf: buf, cursor: HeaderLen, end: bytesRead}
}

// Next returns the next message's bytes (a view into buf, not a copy) and
// true, or (nil, false) once the buffer is exhausted. Returns ErrMalformed
// if a length prefix would read past end.
func (it *MessageIter) Next() ([]byte, bool, error) {
	if it.cursor >= it.end {
		return nil, false, nil
	}
	if it.cursor+lengthPrefixLen > it.end {
		return nil, false, ErrMalformed
	}
	l := int(binary.BigEndian.Uint16(it.buf[it.cursor : it.cursor+lengthPrefixLen]))
	start := it.cursor + lengthPrefixLen
	if start+l > it.end {
		return nil, false, ErrMalformed
	}
	msg := it.buf[start : start+l]
	it.cursor = start + l
	return msg, true, nil
}

// PutMessageLen writes a message's 2-byte big-endian length prefix at
// buf[offset:offset+2].
func PutMessageLen(buf []byte, offset int, length int) {
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(length))
}

// MessageLen reads a 2-byte big-endian length prefix at buf[offset:offset+2].
func MessageLen(buf []byte, offset int) int {
	return int(binary.BigEndian.Uint16(buf[offset : offset+2]))
}
