package eventbus

import (
	"testing"
	"time"

	"github.com/jimgreco/core-sub000/internal/activation"
	"github.com/jimgreco/core-sub000/internal/dispatch"
	"github.com/jimgreco/core-sub000/internal/scheduler"
	"github.com/jimgreco/core-sub000/internal/session"
	"github.com/jimgreco/core-sub000/internal/wire"
)

type fakeTransport struct {
	pings        int
	connected    []string
	rewindReqs   []struct {
		firstSeq uint64
		count    uint16
	}
	pingErr   error
	connErr   error
	rewindErr error
}

func (f *fakeTransport) SendDiscoveryPing() error {
	f.pings++
	return f.pingErr
}

func (f *fakeTransport) ConnectRewind(addr string) error {
	f.connected = append(f.connected, addr)
	return f.connErr
}

func (f *fakeTransport) SendRewindRequest(firstSeq uint64, count uint16) error {
	f.rewindReqs = append(f.rewindReqs, struct {
		firstSeq uint64
		count    uint16
	}{firstSeq, count})
	return f.rewindErr
}

func packetFor(t *testing.T, sessionName string, firstSeq uint64, bodies [][]byte) []byte {
	t.Helper()
	body := make([]byte, 0, 256)
	for _, b := range bodies {
		prefix := make([]byte, 2)
		wire.PutMessageLen(prefix, 0, len(b))
		body = append(body, prefix...)
		body = append(body, b...)
	}
	hdr := make([]byte, wire.HeaderLen)
	wire.EncodeHeader(hdr, sessionName, firstSeq, uint16(len(bodies)))
	return append(hdr, body...)
}

func newReceiverTestEnv(t *testing.T) (*Receiver, *session.Session, *fakeTransport, *scheduler.Scheduler, *dispatch.Dispatcher) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sess := session.New()
	sess.Now = func() time.Time { return base }
	d := dispatch.New()
	transport := &fakeTransport{}
	sched := scheduler.New()
	sched.Now = func() time.Time { return base }
	act := activation.New()
	r := NewReceiver(sess, d, nil, transport, sched, act)
	return r, sess, transport, sched, d
}

func TestReceiverInOrderDelivery(t *testing.T) {
	r, sess, _, _, d := newReceiverTestEnv(t)
	if err := sess.SetName("20240101AA"); err != nil {
		t.Fatalf("SetName: %v", err)
	}

	var delivered [][]byte
	d.AddListener(func(seq uint64, msg []byte) {
		cp := make([]byte, len(msg))
		copy(cp, msg)
		delivered = append(delivered, cp)
	})

	pkt := packetFor(t, "20240101AA", 1, [][]byte{[]byte("one"), []byte("two")})
	r.HandlePacket(pkt, len(pkt))

	if r.NextSeqNum() != 3 {
		t.Fatalf("expected next seq num 3, got %d", r.NextSeqNum())
	}
	if !r.IsReady() {
		t.Fatalf("expected receiver ready after catching up")
	}
	if len(delivered) != 2 || string(delivered[0]) != "one" || string(delivered[1]) != "two" {
		t.Fatalf("unexpected deliveries: %q", delivered)
	}
}

func TestReceiverDropsDuplicateMessages(t *testing.T) {
	r, sess, _, _, d := newReceiverTestEnv(t)
	sess.SetName("20240101AA")

	count := 0
	d.AddListener(func(uint64, []byte) { count++ })

	pkt := packetFor(t, "20240101AA", 1, [][]byte{[]byte("one")})
	r.HandlePacket(pkt, len(pkt))
	// Redelivery of the same packet (e.g. duplicate multicast datagram).
	r.HandlePacket(pkt, len(pkt))

	if count != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", count)
	}
	if r.NextSeqNum() != 2 {
		t.Fatalf("expected next seq num 2, got %d", r.NextSeqNum())
	}
}

func TestReceiverGapTriggersDiscoveryThenRewind(t *testing.T) {
	r, sess, transport, sched, d := newReceiverTestEnv(t)
	sess.SetName("20240101AA")

	var delivered []uint64
	d.AddListener(func(seq uint64, msg []byte) { delivered = append(delivered, seq) })

	// Packet for seq 3-4 arrives first: receiver is missing 1-2, so this is
	// a gap. AdvanceTo makes the session aware of seq 5 as next.
	pkt := packetFor(t, "20240101AA", 3, [][]byte{[]byte("three"), []byte("four")})
	r.HandlePacket(pkt, len(pkt))

	if r.IsReady() {
		t.Fatalf("receiver should not be ready while behind")
	}
	if len(delivered) != 0 {
		t.Fatalf("expected no delivery yet (gap at head), got %v", delivered)
	}
	if transport.pings != 1 {
		t.Fatalf("expected 1 discovery ping sent, got %d", transport.pings)
	}

	// Simulate the discovery reply arriving with a rewind address.
	r.HandleDiscoveryReply("inet:10.0.0.1:9000:eth0")
	if len(transport.connected) != 1 || transport.connected[0] != "inet:10.0.0.1:9000:eth0" {
		t.Fatalf("expected rewind connect to learned address, got %v", transport.connected)
	}
	if len(transport.rewindReqs) != 1 {
		t.Fatalf("expected 1 rewind request, got %d", len(transport.rewindReqs))
	}
	req := transport.rewindReqs[0]
	if req.firstSeq != 1 || req.count != 4 {
		t.Fatalf("expected rewind request for [1,4], got firstSeq=%d count=%d", req.firstSeq, req.count)
	}

	// Rewind reply fills the gap.
	rewindPkt := packetFor(t, "20240101AA", 1, [][]byte{[]byte("one"), []byte("two"), []byte("three"), []byte("four")})
	r.HandlePacket(rewindPkt, len(rewindPkt))

	if !r.IsReady() {
		t.Fatalf("expected receiver ready after rewind fills the gap")
	}
	if len(delivered) != 4 {
		t.Fatalf("expected 4 messages delivered total, got %d: %v", len(delivered), delivered)
	}
	if sched.Pending() != 0 {
		t.Fatalf("expected no pending recovery timers once caught up, got %d", sched.Pending())
	}
}

func TestReceiverRewindTimeoutRetriesNextAddress(t *testing.T) {
	r, sess, transport, sched, _ := newReceiverTestEnv(t)
	sess.SetName("20240101AA")

	pkt := packetFor(t, "20240101AA", 2, [][]byte{[]byte("two")})
	r.HandlePacket(pkt, len(pkt))
	if transport.pings != 1 {
		t.Fatalf("expected discovery ping, got %d pings", transport.pings)
	}

	r.HandleDiscoveryReply("inet:10.0.0.1:9000:eth0")
	r.HandleDiscoveryReply("inet:10.0.0.2:9000:eth0")
	if len(transport.connected) != 1 {
		t.Fatalf("expected only the first address to be used so far, got %v", transport.connected)
	}

	now := time.Date(2024, 1, 1, 0, 0, 2, 0, time.UTC)
	sched.Now = func() time.Time { return now }
	ran := sched.RunDue()
	if ran == 0 {
		t.Fatalf("expected the rewind timeout to fire")
	}

	if len(transport.connected) != 2 || transport.connected[1] != "inet:10.0.0.2:9000:eth0" {
		t.Fatalf("expected retry against second learned address, got %v", transport.connected)
	}
}

func TestReceiverRejectsWrongSession(t *testing.T) {
	r, sess, _, _, d := newReceiverTestEnv(t)
	sess.SetName("20240101AA")

	count := 0
	d.AddListener(func(uint64, []byte) { count++ })

	pkt := packetFor(t, "20240101ZZ", 1, [][]byte{[]byte("nope")})
	r.HandlePacket(pkt, len(pkt))

	if count != 0 {
		t.Fatalf("expected packet for wrong session to be dropped")
	}
	if r.NextSeqNum() != 1 {
		t.Fatalf("expected next seq num unchanged, got %d", r.NextSeqNum())
	}
}

func TestReceiverReadyNeverReverts(t *testing.T) {
	r, sess, _, _, _ := newReceiverTestEnv(t)
	sess.SetName("20240101AA")

	pkt := packetFor(t, "20240101AA", 1, [][]byte{[]byte("one")})
	r.HandlePacket(pkt, len(pkt))
	if !r.IsReady() {
		t.Fatalf("expected ready after first in-order packet")
	}

	// Falling behind again (a gap) must not un-ready the receiver.
	pkt2 := packetFor(t, "20240101AA", 5, [][]byte{[]byte("five")})
	r.HandlePacket(pkt2, len(pkt2))
	if !r.IsReady() {
		t.Fatalf("IsReady must never revert to false once achieved")
	}
}
