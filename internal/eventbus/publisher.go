// Package eventbus implements the sequencer-side event stream: building
// and persisting packets (EventPublisher, spec.md §4.4), serving rewinds
// (Rewinder, §4.5), and consuming the stream with gap detection (§4.6).
//
// The publish/persist/advance cycle is new code written to spec.md §4.4's
// acquire/commit/send contract; its "caller borrows a slot from a shared
// buffer, then the owner flushes it" shape is grounded on
// xtaci-kcptun/vendor/.../kcp-go/v5/sess.go's Write/WriteBuffers path, which
// buffers application writes before an output() flush in the same way.
package eventbus

import (
	"github.com/pkg/errors"

	"github.com/jimgreco/core-sub000/internal/activation"
	"github.com/jimgreco/core-sub000/internal/logx"
	"github.com/jimgreco/core-sub000/internal/session"
	"github.com/jimgreco/core-sub000/internal/store"
	"github.com/jimgreco/core-sub000/internal/wire"
)

// ErrTooLarge is returned by Commit when a message exceeds wire.MaxMessageLen.
var ErrTooLarge = errors.New("eventbus: message exceeds maximum length")

// ErrNoOutstandingAcquire is returned by Commit without a matching Acquire.
var ErrNoOutstandingAcquire = errors.New("eventbus: commit without acquire")

// ErrAcquireInFlight is returned by Acquire when a previous Acquire's
// Commit hasn't happened yet; spec.md §4.4 allows only one outstanding
// acquire per packet.
var ErrAcquireInFlight = errors.New("eventbus: acquire already outstanding")

// Sender performs the packet's "gather write" - header and body are
// logically one datagram but kept as separate slices until the transport
// writes them, matching spec.md §4.4's "emit ... as a gather write".
type Sender interface {
	Send(header, body []byte) error
}

// EventPublisher batches committed events into a packet, persists them via
// Store, advances the Session, and emits the packet through Sender.
type EventPublisher struct {
	sess   *session.Session
	store  store.Store
	sender Sender
	log    *logx.Logger
	act    *activation.Activator

	buf      []byte
	cursor   int
	lengths  []int
	header   [wire.HeaderLen]byte
	acquired bool
}

// NewPublisher returns an EventPublisher over store, advancing sess and sending
// through sender. act is notified (NotReady+Stop) on a critical send error,
// per spec.md §7's I/O-on-the-critical-path policy.
func NewPublisher(sess *session.Session, st store.Store, sender Sender, act *activation.Activator) *EventPublisher {
	return &EventPublisher{
		sess:   sess,
		store:  st,
		sender: sender,
		log:    logx.New("event-publisher"),
		act:    act,
		buf:    st.Acquire(),
	}
}

// Acquire returns a writer positioned just after the current packet's last
// message slot, with 2 bytes reserved ahead of it for the length prefix
// Commit will fill in. Only one Acquire may be outstanding at a time.
func (p *EventPublisher) Acquire() ([]byte, error) {
	if p.acquired {
		return nil, ErrAcquireInFlight
	}
	p.acquired = true
	return p.buf[p.cursor+2:], nil
}

// Commit finalizes the most recently acquired message: writes its 2-byte
// length prefix and records its length. The caller must already have
// stamped applicationId, applicationSequenceNumber and timestamp at the
// schema's offsets within the slice Acquire returned.
func (p *EventPublisher) Commit(length int) error {
	if !p.acquired {
		return ErrNoOutstandingAcquire
	}
	if length > wire.MaxMessageLen {
		p.acquired = false
		return ErrTooLarge
	}
	wire.PutMessageLen(p.buf, p.cursor, length)
	p.cursor += 2 + length
	p.lengths = append(p.lengths, length)
	p.acquired = false
	return nil
}

// Send flushes the current packet: persists it to the store, advances the
// session, and emits it on the wire. A no-op if nothing has been committed
// since the last Send.
//
// Per spec.md §4.4, a store failure is fatal to this publisher (logged,
// NotReady+Stop, session NOT advanced - the partial write must not be
// observable as progress) and a send/I-O failure is also fatal, but only
// after the store commit (and session advance) already succeeded: the
// event is durable and in the authoritative sequence even if this
// particular datagram was lost, exactly as retransmit-by-rewind expects.
func (p *EventPublisher) Send() error {
	count := len(p.lengths)
	if count == 0 {
		return nil
	}

	name, ok := p.sess.Name()
	if !ok {
		return errors.New("eventbus: session name not set")
	}

	firstSeq := p.sess.NextSeq()

	if _, err := p.store.Commit(p.lengths, 0, count); err != nil {
		p.log.Fatalf("store commit failed, session cannot advance: %v", err)
		p.act.NotReady()
		p.act.Stop()
		return errors.Wrap(err, "eventbus: store commit")
	}

	p.sess.Advance(uint64(count))

	wire.EncodeHeader(p.header[:], name, firstSeq, uint16(count))
	err := p.sender.Send(p.header[:], p.buf[:p.cursor])

	// The packet is already persisted and sequenced, so its state is reset
	// whether or not the datagram went out.
	p.cursor = 0
	p.lengths = p.lengths[:0]

	if err != nil {
		p.log.Warnf("send failed: %v", err)
		p.act.NotReady()
		p.act.Stop()
		return errors.Wrap(err, "eventbus: send")
	}
	return nil
}

// Pending reports how many messages are committed into the current,
// not-yet-sent packet.
func (p *EventPublisher) Pending() int {
	return len(p.lengths)
}
