package tcpbus

import (
	"encoding/binary"
	"time"

	"github.com/jimgreco/core-sub000/internal/activation"
	"github.com/jimgreco/core-sub000/internal/dispatch"
	"github.com/jimgreco/core-sub000/internal/logx"
	"github.com/jimgreco/core-sub000/internal/schema"
	"github.com/jimgreco/core-sub000/internal/scheduler"
	"github.com/jimgreco/core-sub000/internal/session"
)

// Idle is the narrow callback a Receiver uses to ask its owner to
// reconnect after 10s of silence, per spec.md §4.9. Reconnection itself -
// dialing, re-sending the handshake, re-registering with the event loop -
// is the owner's concern; this package only detects the timeout.
type Idle func()

// Receiver is MessageReceiver (spec.md §4.9): it consumes one TCP
// connection's interleaved message/heartbeat stream, delivering messages
// to its Dispatcher in order (the stream itself guarantees no loss or
// reordering, so unlike EventReceiver there is no gap/rewind logic - the
// receiver only tracks nextSeqNum and the connection's liveness) and
// adopting the session name from the first heartbeat it sees, per the
// same rule §4.6 uses for multicast packets.
type Receiver struct {
	sess       *session.Session
	dispatcher *dispatch.Dispatcher
	sc         schema.Schema // optional
	sched      *scheduler.Scheduler
	act        *activation.Activator
	log        *logx.Logger
	onIdle     Idle

	nextSeqNum    uint64
	buf           []byte
	ticksSinceRX  int
	tickTaskID    scheduler.TaskID
	ready         bool
}

// NewReceiver returns a Receiver that will hand its handshake value (resumeFrom,
// or 1 for a fresh connection) to the owner to send right after
// connecting.
func NewReceiver(sess *session.Session, d *dispatch.Dispatcher, sc schema.Schema, sched *scheduler.Scheduler, act *activation.Activator, onIdle Idle, resumeFrom uint64) *Receiver {
	if resumeFrom == 0 {
		resumeFrom = 1
	}
	return &Receiver{
		sess:       sess,
		dispatcher: d,
		sc:         sc,
		sched:      sched,
		act:        act,
		log:        logx.New("message-receiver"),
		onIdle:     onIdle,
		nextSeqNum: resumeFrom,
	}
}

// Handshake returns the 8-byte payload this receiver should write
// immediately after connecting, indicating where the stream should start.
func (r *Receiver) Handshake() []byte {
	buf := make([]byte, 8)
	encodeHandshake(buf, r.nextSeqNum)
	return buf
}

// Start arms the 1s tick used to detect a 10s-silent connection. Call once
// after the connection is established and the handshake has been written.
func (r *Receiver) Start() {
	r.ticksSinceRX = 0
	r.armTick()
}

func (r *Receiver) armTick() {
	r.tickTaskID = r.sched.ScheduleIn(heartbeatInterval*time.Second, r.onTick, "message-receiver-tick", nil)
}

func (r *Receiver) onTick(scheduler.TaskID, string, interface{}) {
	r.ticksSinceRX++
	if r.ticksSinceRX >= inactivityTimeoutTicks {
		r.log.Warnf("no data for %ds, reconnecting", inactivityTimeoutTicks)
		r.act.NotReady()
		r.act.Stop()
		if r.onIdle != nil {
			r.onIdle()
		}
		return
	}
	r.armTick()
}

// Stop cancels the inactivity-detection tick.
func (r *Receiver) Stop() {
	if r.tickTaskID != 0 {
		r.sched.Cancel(r.tickTaskID)
		r.tickTaskID = 0
	}
}

// FeedBytes appends newly read bytes from the connection and parses as
// many complete frames as are now available, delivering messages and
// processing heartbeats; any trailing partial frame is buffered for the
// next call. Any bytes arriving at all reset the inactivity counter.
func (r *Receiver) FeedBytes(data []byte) error {
	r.ticksSinceRX = 0
	r.buf = append(r.buf, data...)

	for {
		if len(r.buf) < lenFieldLen {
			return nil
		}
		l := int16(binary.BigEndian.Uint16(r.buf[0:2]))

		if l == heartbeatMarker {
			if len(r.buf) < heartbeatFrameLen {
				return nil
			}
			sessionName := string(r.buf[lenFieldLen : lenFieldLen+session.NameLen])
			newNext := binary.BigEndian.Uint64(r.buf[lenFieldLen+session.NameLen : heartbeatFrameLen])
			r.handleHeartbeat(sessionName, newNext)
			r.buf = r.buf[heartbeatFrameLen:]
			continue
		}
		if l <= 0 {
			return ErrMalformedFrame
		}
		need := lenFieldLen + int(l)
		if len(r.buf) < need {
			return nil
		}
		msg := r.buf[lenFieldLen:need]
		r.handleMessage(msg)
		r.buf = r.buf[need:]
	}
}

func (r *Receiver) handleHeartbeat(sessionName string, newNext uint64) {
	name, known := r.sess.Name()
	if !known {
		if err := r.sess.SetName(sessionName); err != nil {
			r.log.Warnf("failed to adopt session %q: %v", sessionName, err)
			return
		}
	} else if sessionName != name {
		r.log.Warnf("heartbeat for session %q, expected %q", sessionName, name)
		return
	}
	r.sess.AdvanceTo(newNext)
	r.maybeReady()
}

func (r *Receiver) handleMessage(msg []byte) {
	name := ""
	if r.sc != nil {
		name = r.sc.MessageName(msg)
	}
	r.dispatcher.Dispatch(r.nextSeqNum, name, msg)
	r.nextSeqNum++
	r.sess.AdvanceTo(r.nextSeqNum)
	r.maybeReady()
}

func (r *Receiver) maybeReady() {
	if !r.ready && r.nextSeqNum >= r.sess.NextSeq() {
		r.ready = true
		r.act.Ready()
	}
}

// NextSeqNum returns the next sequence number this receiver expects.
func (r *Receiver) NextSeqNum() uint64 {
	return r.nextSeqNum
}
