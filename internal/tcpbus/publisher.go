package tcpbus

import (
	"time"

	"github.com/pkg/errors"

	"github.com/jimgreco/core-sub000/internal/activation"
	"github.com/jimgreco/core-sub000/internal/logx"
	"github.com/jimgreco/core-sub000/internal/scheduler"
	"github.com/jimgreco/core-sub000/internal/session"
	"github.com/jimgreco/core-sub000/internal/store"
	"github.com/jimgreco/core-sub000/internal/wire"
)

// Sender writes raw bytes to the TCP connection backing one MessagePublisher.
// One Publisher serves exactly one accepted connection; a host accepting
// multiple receivers runs one Publisher per connection, each against the
// same shared Store.
type Sender interface {
	Write(p []byte) (int, error)
}

// Publisher is MessagePublisher (spec.md §4.9): it streams a session's
// messages to one connected receiver starting from the sequence number the
// receiver handshook with, then keeps streaming newly committed messages
// live, interleaved with a 1s heartbeat.
type Publisher struct {
	sess  *session.Session
	store store.Store
	conn  Sender
	sched *scheduler.Scheduler
	act   *activation.Activator
	log   *logx.Logger

	nextSeqToSend   uint64
	heartbeatTaskID scheduler.TaskID

	readBuf  []byte
	frameBuf []byte
}

// NewPublisher returns a Publisher that will begin streaming from startSeq, the
// value the receiver sent in its connect handshake (see DecodeHandshake).
func NewPublisher(sess *session.Session, st store.Store, conn Sender, sched *scheduler.Scheduler, act *activation.Activator, startSeq uint64) *Publisher {
	if startSeq == 0 {
		startSeq = 1
	}
	return &Publisher{
		sess:          sess,
		store:         st,
		conn:          conn,
		sched:         sched,
		act:           act,
		log:           logx.New("message-publisher"),
		nextSeqToSend: startSeq,
		readBuf:       make([]byte, wire.MaxMessageLen),
		frameBuf:      make([]byte, lenFieldLen+wire.MaxMessageLen),
	}
}

// DecodeHandshake parses the 8-byte nextSeqNum a just-accepted connection
// is expected to write first.
func DecodeHandshake(buf []byte) (uint64, error) {
	return decodeHandshake(buf)
}

// Start flushes any backlog between startSeq and the store's current
// count, then arms the 1s heartbeat cadence. Call once after the
// handshake has been read.
func (p *Publisher) Start() error {
	if err := p.Pump(); err != nil {
		return err
	}
	p.armHeartbeat()
	return nil
}

// Pump writes every committed message from nextSeqToSend up to the
// store's current count. Call after every EventPublisher.Send() that
// might have grown the store, to keep a caught-up receiver live.
func (p *Publisher) Pump() error {
	for p.nextSeqToSend <= p.store.Count() {
		l, err := p.store.Read(p.readBuf, 0, p.nextSeqToSend)
		if err != nil {
			p.log.Fatalf("store read for seq %d failed: %v", p.nextSeqToSend, err)
			p.act.NotReady()
			p.act.Stop()
			return errors.Wrap(err, "tcpbus: store read")
		}
		n := encodeMessageFrame(p.frameBuf, p.readBuf[:l])
		if _, err := p.conn.Write(p.frameBuf[:n]); err != nil {
			p.log.Warnf("write failed: %v", err)
			p.act.NotReady()
			p.act.Stop()
			return errors.Wrap(err, "tcpbus: write")
		}
		p.nextSeqToSend++
	}
	return nil
}

func (p *Publisher) armHeartbeat() {
	p.heartbeatTaskID = p.sched.ScheduleIn(heartbeatInterval*time.Second, p.onHeartbeat, "message-publisher-heartbeat", nil)
}

func (p *Publisher) onHeartbeat(scheduler.TaskID, string, interface{}) {
	name, ok := p.sess.Name()
	if ok {
		buf := make([]byte, heartbeatFrameLen)
		n := encodeHeartbeat(buf, name, p.sess.NextSeq())
		if _, err := p.conn.Write(buf[:n]); err != nil {
			p.log.Warnf("heartbeat write failed: %v", err)
			p.act.NotReady()
			p.act.Stop()
			return
		}
	}
	p.armHeartbeat()
}

// Close cancels the heartbeat timer. Callers close the underlying
// connection themselves.
func (p *Publisher) Close() {
	if p.heartbeatTaskID != 0 {
		p.sched.Cancel(p.heartbeatTaskID)
		p.heartbeatTaskID = 0
	}
}
