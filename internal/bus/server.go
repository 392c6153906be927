package bus

import (
	"time"

	"github.com/pkg/errors"

	"github.com/jimgreco/core-sub000/internal/activation"
	"github.com/jimgreco/core-sub000/internal/cmdbus"
	"github.com/jimgreco/core-sub000/internal/dispatch"
	"github.com/jimgreco/core-sub000/internal/eventbus"
	"github.com/jimgreco/core-sub000/internal/schema"
	"github.com/jimgreco/core-sub000/internal/tcpbus"
)

// reservedApplicationID is the applicationId a Server stamps onto events it
// commits directly (as opposed to commands it forwards from a
// CommandReceiver, which already carry their originating publisher's
// applicationId). 0 is otherwise reserved by cmdbus for the
// identity-bootstrap applicationDefinition message, so a Server uses it too
// - a Server-originated event and a not-yet-identified publisher's
// commands are both, in effect, anonymous with respect to application
// sequencing.
const reservedApplicationID = 0

// Server is BusServer (spec.md §4.10): the sequencer-side facade. It wraps
// an EventPublisher for acquire/commit/send, stamps the schema-defined
// applicationId/applicationSequenceNumber/timestamp fields that spec.md
// §4.10 says the server's own commit() stamps (as opposed to the raw
// eventbus.EventPublisher.Commit, which leaves that to the caller), and
// exposes the command stream as a second listener registry alongside the
// event dispatcher.
type Server struct {
	sc            schema.Schema
	dispatcher    *dispatch.Dispatcher
	cmdDispatcher *dispatch.Dispatcher
	pub           *eventbus.EventPublisher
	cmdRecv       *cmdbus.Receiver
	act           *activation.Activator

	nextAppSeqNum uint32
	acquired      []byte

	// standby, when set, is the warm-standby ingest path the TCP bus-server
	// variant uses (spec.md §4.9's "activate/deactivate invert the
	// underlying message-receiver's state"): while this Server is inactive
	// it pumps bytes fed to it into the event dispatcher exactly like an
	// active receiver would, so it can take over instantly on activation.
	standby *tcpbus.Receiver
	active  *tcpbus.Publisher
}

// NewServer returns a Server driving pub for acquire/commit/send and
// cmdRecv for the incoming command stream. d is the event dispatcher;
// cmdDispatcher must be the same Dispatcher passed to cmdbus.NewReceiver when
// cmdRecv was built, so SetCommandListener registrations actually reach
// it - a separate dispatcher is used for commands so application code can
// distinguish "an event was delivered" from "a command arrived to act on".
func NewServer(sc schema.Schema, d *dispatch.Dispatcher, pub *eventbus.EventPublisher, cmdRecv *cmdbus.Receiver, cmdDispatcher *dispatch.Dispatcher, act *activation.Activator) *Server {
	return &Server{
		sc:            sc,
		dispatcher:    d,
		cmdDispatcher: cmdDispatcher,
		pub:           pub,
		cmdRecv:       cmdRecv,
		act:           act,
		nextAppSeqNum: 1,
	}
}

// Schema returns the message schema this server was built against.
func (s *Server) Schema() schema.Schema {
	return s.sc
}

// Dispatcher returns the event dispatcher, fed by this server's own
// Send() (active) or by the standby ingest path (inactive).
func (s *Server) Dispatcher() *dispatch.Dispatcher {
	return s.dispatcher
}

// IsActive reports whether this server currently owns the authoritative
// event stream.
func (s *Server) IsActive() bool {
	return s.act.IsReady()
}

// ApplicationID is the applicationId this server stamps onto events it
// commits directly, per spec.md §4.10.
func (s *Server) ApplicationID() uint16 {
	return reservedApplicationID
}

// ApplicationSeqNum returns the applicationSequenceNumber the next direct
// commit will use, without consuming it.
func (s *Server) ApplicationSeqNum() uint32 {
	return s.nextAppSeqNum
}

// IncApplicationSeqNum consumes and returns the next
// applicationSequenceNumber for a direct commit.
func (s *Server) IncApplicationSeqNum() uint32 {
	n := s.nextAppSeqNum
	s.nextAppSeqNum++
	return n
}

// Acquire reserves room for the next event, per eventbus.EventPublisher's
// Acquire/Commit cycle. The returned slice is cached so Commit/CommitAt can
// stamp the sequencing fields into it without a second Acquire call (only
// one may be outstanding at a time).
func (s *Server) Acquire() ([]byte, error) {
	buf, err := s.pub.Acquire()
	if err != nil {
		return nil, err
	}
	s.acquired = buf
	return buf, nil
}

// Commit finalizes the acquired event, stamping its applicationId and
// applicationSequenceNumber and, while active, the current time as its
// timestamp (the caller's payload is left alone - use CommitAt to supply
// the timestamp, per spec.md §4.10's "commit(len, ts)").
func (s *Server) Commit(length int) error {
	return s.commit(length, time.Now().UnixNano(), true)
}

// CommitAt finalizes the acquired event exactly as Commit does, additionally
// stamping the schema-defined timestamp field with ts (nanoseconds since
// epoch). Per spec.md §4.10, an active server always stamps the timestamp;
// CommitAt lets the caller supply one explicitly (e.g. a recorded
// request-arrival time) rather than "now".
func (s *Server) CommitAt(length int, ts int64) error {
	return s.commit(length, ts, true)
}

func (s *Server) commit(length int, ts int64, stampTS bool) error {
	if s.acquired == nil {
		return errors.New("bus: commit without acquire")
	}
	buf := s.acquired
	s.acquired = nil
	if length > len(buf) {
		return errors.New("bus: commit length exceeds acquired buffer")
	}
	schema.PutApplicationID(s.sc, buf, reservedApplicationID)
	schema.PutApplicationSeqNum(s.sc, buf, s.IncApplicationSeqNum())
	if stampTS && s.act.IsReady() {
		schema.PutTimestamp(s.sc, buf, ts)
	}
	return s.pub.Commit(length)
}

// Send flushes any events Commit has built up onto the wire, persisting
// them to the store first.
func (s *Server) Send() error {
	return s.pub.Send()
}

// Copy acquires a slot, copies body into it verbatim, and commits - the
// "forward a command through as an event" path spec.md §4.10 names (e.g. an
// echo sequencer that republishes a command's decoded body unchanged). The
// applicationId and applicationSequenceNumber the body already carries are
// kept. While active, the timestamp is stamped with ts's first value if
// supplied, matching commit(len, ts), or with the current time otherwise.
func (s *Server) Copy(body []byte, ts ...int64) error {
	buf, err := s.Acquire()
	if err != nil {
		return err
	}
	if len(body) > len(buf) {
		return errors.New("bus: copy body exceeds acquired buffer")
	}
	copy(buf, body)
	s.acquired = nil
	if s.act.IsReady() {
		stamp := time.Now().UnixNano()
		if len(ts) > 0 {
			stamp = ts[0]
		}
		schema.PutTimestamp(s.sc, buf, stamp)
	}
	return s.pub.Commit(len(body))
}

// SetEventListener registers fn to run for every event that flows through
// this server, whether just committed (active) or ingested from the
// warm-standby stream (inactive).
func (s *Server) SetEventListener(fn dispatch.Listener) {
	s.dispatcher.AddListener(fn)
}

// SetCommandListener registers fn to run for every command body delivered
// by the CommandReceiver.
func (s *Server) SetCommandListener(fn dispatch.Listener) {
	s.cmdDispatcher.AddListener(fn)
}

// HandleCommandPacket feeds one datagram read from the command channel to
// the underlying CommandReceiver, which dispatches to SetCommandListener's
// registrants.
func (s *Server) HandleCommandPacket(buf []byte, n int) {
	s.cmdRecv.HandlePacket(buf, n)
}

// SetStandbyIngest wires r as the warm-standby ingest path the TCP
// bus-server variant uses while this server is inactive, and p as the
// active-side MessagePublisher it switches to once activated. Both are
// optional; a server with neither behaves like the plain UDP multicast
// variant, where activation only toggles the Activator.
func (s *Server) SetStandbyIngest(r *tcpbus.Receiver, p *tcpbus.Publisher) {
	s.standby = r
	s.active = p
}

// Activate promotes this server to the authoritative event source. Per
// spec.md §4.9, the TCP bus-server variant inverts the underlying
// message-receiver's role here: the standby ingest receiver is stopped
// (it was the one listening to the previously-active peer) and the active
// publisher side begins streaming from the store.
func (s *Server) Activate() error {
	if s.standby != nil {
		s.standby.Stop()
	}
	s.act.Ready()
	if s.active != nil {
		return s.active.Start()
	}
	return nil
}

// Deactivate demotes this server back to standby. The active publisher's
// heartbeat is stopped and, if a standby ingest receiver was configured, it
// resumes listening to whichever peer is now active.
func (s *Server) Deactivate() {
	if s.active != nil {
		s.active.Close()
	}
	s.act.NotReady()
	if s.standby != nil {
		s.standby.Start()
	}
}
