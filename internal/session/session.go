// Package session holds the identity of a single MoldUDP64-derived event
// stream: a 10-byte session name and the monotonically advancing sequence
// counter every other component in this module measures itself against.
package session

import (
	"time"

	"github.com/pkg/errors"
)

// NameLen is the fixed width of a session name: an 8-digit UTC date plus a
// 2-byte operator-supplied suffix.
const NameLen = 10

// ErrAlreadySet is returned by Create/SetName once the name has been fixed.
var ErrAlreadySet = errors.New("session: name already set")

// ErrBadSuffix is returned by Create when the suffix is not exactly two
// ASCII bytes.
var ErrBadSuffix = errors.New("session: suffix must be two ASCII bytes")

// ErrBadName is returned by SetName when the supplied name is not exactly
// NameLen bytes.
var ErrBadName = errors.New("session: name must be ten bytes")

// Listener is invoked once, synchronously, the moment the session name
// becomes known - either immediately (if already set when registered) or
// the instant it transitions from unset to set.
type Listener func(name string)

// Session is owned by exactly one goroutine (the event-loop thread); it is
// not safe for concurrent use, matching the single-threaded ownership model
// the rest of this module assumes.
type Session struct {
	// Now is the time source used by Create; overridable in tests.
	Now func() time.Time

	name    string
	set     bool
	nextSeq uint64

	listeners []Listener
}

// New returns a Session with no name set and nextSequenceNumber at its
// initial value of 1.
func New() *Session {
	return &Session{
		Now:     time.Now,
		nextSeq: 1,
	}
}

// Create derives a session name from the current UTC date and a two-byte
// operator suffix, e.g. "20240101AA". Fails with ErrAlreadySet if a name is
// already fixed, or ErrBadSuffix if suffix isn't two ASCII bytes.
func (s *Session) Create(suffix string) error {
	if len(suffix) != 2 {
		return ErrBadSuffix
	}
	for i := 0; i < 2; i++ {
		if suffix[i] < 0x20 || suffix[i] > 0x7e {
			return ErrBadSuffix
		}
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	date := now().UTC().Format("20060102")
	return s.setName(date + suffix)
}

// SetName fixes the session name as learned from the network (e.g. by an
// EventReceiver adopting the first packet's session field). Fails with
// ErrAlreadySet if already fixed, ErrBadName if not NameLen bytes.
func (s *Session) SetName(name string) error {
	if len(name) != NameLen {
		return ErrBadName
	}
	return s.setName(name)
}

func (s *Session) setName(name string) error {
	if s.set {
		return ErrAlreadySet
	}
	s.name = name
	s.set = true
	for _, l := range s.listeners {
		l(s.name)
	}
	return nil
}

// Name returns the session name and whether it has been set yet.
func (s *Session) Name() (string, bool) {
	return s.name, s.set
}

// AddOpenListener registers fn to be called exactly once when the name
// becomes known. If the name is already known, fn is invoked synchronously
// before AddOpenListener returns.
func (s *Session) AddOpenListener(fn Listener) {
	if s.set {
		fn(s.name)
		return
	}
	s.listeners = append(s.listeners, fn)
}

// NextSeq returns the next sequence number to be assigned - the first
// sequence number of a packet not yet sent (sequencer side) or not yet
// fully seen (receiver side).
func (s *Session) NextSeq() uint64 {
	return s.nextSeq
}

// Advance moves nextSequenceNumber forward by by. It never moves backward;
// callers that only know a lower bound (e.g. EventReceiver folding in a
// packet's first_seq+count) should use AdvanceTo instead.
func (s *Session) Advance(by uint64) {
	s.nextSeq += by
}

// AdvanceTo raises nextSequenceNumber to at least to, leaving it unchanged
// if it is already that high. This is the "max(next_seq, first_seq+count)"
// update spec.md's EventReceiver packet intake performs.
func (s *Session) AdvanceTo(to uint64) {
	if to > s.nextSeq {
		s.nextSeq = to
	}
}
