package cmdbus

import (
	"github.com/jimgreco/core-sub000/internal/dispatch"
	"github.com/jimgreco/core-sub000/internal/logx"
	"github.com/jimgreco/core-sub000/internal/schema"
	"github.com/jimgreco/core-sub000/internal/session"
	"github.com/jimgreco/core-sub000/internal/wire"
)

// Receiver is CommandReceiver (spec.md §4.8): it consumes the command
// packet stream and hands each framed message body to the sequencer via
// its Dispatcher, with no ordering or gap-detection logic of its own -
// unlike the event stream, the command channel has no single reader that
// must reconstruct a total order; the sequencer is simply another
// listener on whatever commands happen to arrive.
type Receiver struct {
	sess       *session.Session
	dispatcher *dispatch.Dispatcher
	sc         schema.Schema // optional; nil means named dispatch is skipped
	log        *logx.Logger
}

// NewReceiver returns a Receiver delivering to d. sc may be nil if named dispatch
// isn't needed.
func NewReceiver(sess *session.Session, d *dispatch.Dispatcher, sc schema.Schema) *Receiver {
	return &Receiver{sess: sess, dispatcher: d, sc: sc, log: logx.New("command-receiver")}
}

// HandlePacket feeds one datagram read from the command channel.
// Malformed packets (short header, session mismatch, a length prefix that
// overruns the buffer) are dropped with a warning; per spec.md §4.8 they
// do not stop the receiver.
func (r *Receiver) HandlePacket(buf []byte, n int) {
	hdr, err := wire.ParseHeader(buf, n)
	if err != nil {
		r.log.Warnf("dropping malformed command packet: %v", err)
		return
	}

	name, known := r.sess.Name()
	if !known {
		if err := r.sess.SetName(hdr.Session); err != nil {
			r.log.Warnf("failed to adopt session %q: %v", hdr.Session, err)
			return
		}
		name = hdr.Session
	} else if hdr.Session != name {
		r.log.Warnf("dropping command packet for session %q, expected %q", hdr.Session, name)
		return
	}

	// Per internal/dispatch's Listener doc, command bodies carry no
	// sessionSequenceNumber of their own - applicationSequenceNumber is
	// scoped per-publisher, not a single total order - so seq is always 0
	// here.
	it := wire.NewMessageIter(buf, n)
	for {
		msg, ok, err := it.Next()
		if err != nil {
			r.log.Warnf("malformed message in command packet from session %q: %v", hdr.Session, err)
			return
		}
		if !ok {
			return
		}
		msgName := ""
		if r.sc != nil {
			msgName = r.sc.MessageName(msg)
		}
		r.dispatcher.Dispatch(0, msgName, msg)
	}
}
