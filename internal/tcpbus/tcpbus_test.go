package tcpbus

import (
	"testing"
	"time"

	"github.com/jimgreco/core-sub000/internal/activation"
	"github.com/jimgreco/core-sub000/internal/dispatch"
	"github.com/jimgreco/core-sub000/internal/scheduler"
	"github.com/jimgreco/core-sub000/internal/session"
	"github.com/jimgreco/core-sub000/internal/store"
	"github.com/jimgreco/core-sub000/internal/wire"
)

type byteSink struct {
	written []byte
	failing bool
}

func (s *byteSink) Write(p []byte) (int, error) {
	if s.failing {
		return 0, errWrite
	}
	s.written = append(s.written, p...)
	return len(p), nil
}

var errWrite = &writeErr{}

type writeErr struct{}

func (*writeErr) Error() string { return "write failed" }

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	s := session.New()
	s.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.Create("AA"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return s
}

func TestPublisherCatchUpThenLive(t *testing.T) {
	sess := newTestSession(t)
	st := store.NewMemStore()

	for _, msg := range [][]byte{[]byte("aaaa"), []byte("bb"), []byte("cccccc")} {
		buf := st.Acquire()
		wire.PutMessageLen(buf, 0, len(msg))
		copy(buf[2:], msg)
		if _, err := st.Commit([]int{len(msg)}, 0, 1); err != nil {
			t.Fatalf("store commit: %v", err)
		}
		sess.Advance(1)
	}

	sink := &byteSink{}
	sched := scheduler.New()
	act := activation.New()
	p := NewPublisher(sess, st, sink, sched, act, 1)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	recvSess := session.New()
	d := dispatch.New()
	var delivered [][]byte
	d.AddListener(func(seq uint64, msg []byte) {
		cp := make([]byte, len(msg))
		copy(cp, msg)
		delivered = append(delivered, cp)
	})
	rAct := activation.New()
	r := NewReceiver(recvSess, d, nil, scheduler.New(), rAct, nil, 1)
	if err := r.FeedBytes(sink.written); err != nil {
		t.Fatalf("FeedBytes: %v", err)
	}

	if len(delivered) != 3 {
		t.Fatalf("expected 3 messages delivered, got %d", len(delivered))
	}
	if string(delivered[0]) != "aaaa" || string(delivered[1]) != "bb" || string(delivered[2]) != "cccccc" {
		t.Fatalf("unexpected delivered contents: %q", delivered)
	}
	if r.NextSeqNum() != 4 {
		t.Fatalf("expected nextSeqNum 4, got %d", r.NextSeqNum())
	}
}

func TestReceiverAdoptsSessionFromHeartbeat(t *testing.T) {
	recvSess := session.New()
	d := dispatch.New()
	act := activation.New()
	r := NewReceiver(recvSess, d, nil, scheduler.New(), act, nil, 1)

	buf := make([]byte, heartbeatFrameLen)
	encodeHeartbeat(buf, "20240101AA", 1)
	if err := r.FeedBytes(buf); err != nil {
		t.Fatalf("FeedBytes: %v", err)
	}

	name, ok := recvSess.Name()
	if !ok || name != "20240101AA" {
		t.Fatalf("expected session adopted, got %q ok=%v", name, ok)
	}
}

func TestReceiverHandlesSplitFrames(t *testing.T) {
	recvSess := session.New()
	d := dispatch.New()
	act := activation.New()
	r := NewReceiver(recvSess, d, nil, scheduler.New(), act, nil, 1)

	var delivered int
	d.AddListener(func(uint64, []byte) { delivered++ })

	full := make([]byte, lenFieldLen+4)
	n := encodeMessageFrame(full, []byte("abcd"))
	full = full[:n]

	if err := r.FeedBytes(full[:3]); err != nil {
		t.Fatalf("FeedBytes part1: %v", err)
	}
	if delivered != 0 {
		t.Fatalf("expected no delivery on partial frame, got %d", delivered)
	}
	if err := r.FeedBytes(full[3:]); err != nil {
		t.Fatalf("FeedBytes part2: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("expected 1 delivery after completing frame, got %d", delivered)
	}
}

func TestReceiverReconnectsAfterInactivity(t *testing.T) {
	recvSess := session.New()
	d := dispatch.New()
	act := activation.New()
	sched := scheduler.New()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sched.Now = func() time.Time { return now }

	idleCalled := false
	r := NewReceiver(recvSess, d, nil, sched, act, func() { idleCalled = true }, 1)
	r.Start()

	for i := 0; i < inactivityTimeoutTicks; i++ {
		now = now.Add(heartbeatInterval * time.Second)
		sched.RunDue()
	}

	if !idleCalled {
		t.Fatalf("expected idle callback after %d ticks of silence", inactivityTimeoutTicks)
	}
	if act.Stopped() != true {
		t.Fatalf("expected activator stopped after inactivity timeout")
	}
}

func TestPublisherHeartbeatCadence(t *testing.T) {
	sess := newTestSession(t)
	st := store.NewMemStore()
	sink := &byteSink{}
	sched := scheduler.New()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sched.Now = func() time.Time { return now }
	act := activation.New()

	p := NewPublisher(sess, st, sink, sched, act, 1)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	now = now.Add(heartbeatInterval * time.Second)
	if n := sched.RunDue(); n != 1 {
		t.Fatalf("expected heartbeat timer to fire once, got %d", n)
	}
	if len(sink.written) != heartbeatFrameLen {
		t.Fatalf("expected 1 heartbeat frame written, got %d bytes", len(sink.written))
	}
}
