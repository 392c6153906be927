package eventbus

import (
	"github.com/pkg/errors"

	"github.com/jimgreco/core-sub000/internal/logx"
	"github.com/jimgreco/core-sub000/internal/session"
	"github.com/jimgreco/core-sub000/internal/store"
	"github.com/jimgreco/core-sub000/internal/wire"
)

// DiscoveryPingPayload is the one-byte discovery ping spec.md §6 defines.
const DiscoveryPingPayload = 'D'

// ErrInvalidRewindRequest is returned when a rewind request fails the
// validation rules in spec.md §4.5.
var ErrInvalidRewindRequest = errors.New("eventbus: invalid rewind request")

// Rewinder answers discovery pings with its advertised rewind address and
// serves unicast rewind requests from the Store, per spec.md §4.5. It has
// no socket of its own - callers feed it raw datagrams from whichever
// sockets they own and get back bytes to write in response, matching
// spec.md §5's "read/write callbacks must return promptly" rule (a rewind
// reply is built and returned in one call, never spread across calls).
type Rewinder struct {
	sess *session.Session
	st   store.Store
	addr string
	log  *logx.Logger
}

// NewRewinder returns a Rewinder advertising addr (an "inet:host:port" string, see
// internal/netutil) as the place to send rewind requests.
func NewRewinder(sess *session.Session, st store.Store, addr string) *Rewinder {
	return &Rewinder{sess: sess, st: st, addr: addr, log: logx.New("rewinder")}
}

// HandleDiscoveryPing replies to a one-byte 'D' ping with the ASCII form of
// the rewind socket's address. Returns ok=false for anything else, which
// the caller should silently drop.
func (r *Rewinder) HandleDiscoveryPing(payload []byte) (reply []byte, ok bool) {
	if len(payload) != 1 || payload[0] != DiscoveryPingPayload {
		return nil, false
	}
	return []byte(r.addr), true
}

// HandleRewindRequest parses and validates a rewind request per spec.md
// §4.5 and, if valid, returns a ready-to-send Mold packet (header + as many
// framed messages as fit within one MTU, possibly fewer than requested).
// Returns ErrInvalidRewindRequest (to be logged and dropped, not surfaced)
// for a malformed or out-of-range request.
func (r *Rewinder) HandleRewindRequest(req []byte, n int) ([]byte, error) {
	hdr, err := wire.ParseHeader(req, n)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidRewindRequest, err.Error())
	}
	firstSeq := hdr.FirstSeq
	count := uint64(hdr.Count)

	name, ok := r.sess.Name()
	if !ok || hdr.Session != name {
		return nil, ErrInvalidRewindRequest
	}
	if firstSeq == 0 || count == 0 || firstSeq+count > r.sess.NextSeq() {
		return nil, ErrInvalidRewindRequest
	}

	out := make([]byte, wire.MTU)
	bodyLimit := wire.MTU - wire.HeaderLen
	off := 0
	packed := uint16(0)

	msgBuf := make([]byte, wire.MaxMessageLen)
	for seq := firstSeq; seq < firstSeq+count; seq++ {
		l, err := r.st.Read(msgBuf, 0, seq)
		if err != nil {
			return nil, errors.Wrap(err, "eventbus: rewinder store read")
		}
		if off+2+l > bodyLimit {
			break
		}
		wire.PutMessageLen(out, wire.HeaderLen+off, l)
		copy(out[wire.HeaderLen+off+2:wire.HeaderLen+off+2+l], msgBuf[:l])
		off += 2 + l
		packed++
	}

	wire.EncodeHeader(out, name, firstSeq, packed)
	return out[:wire.HeaderLen+off], nil
}
