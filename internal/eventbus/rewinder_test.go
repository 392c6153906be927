package eventbus

import (
	"testing"

	"github.com/jimgreco/core-sub000/internal/activation"
	"github.com/jimgreco/core-sub000/internal/store"
	"github.com/jimgreco/core-sub000/internal/wire"
)

func TestRewinderDiscoveryPing(t *testing.T) {
	sess := newTestSession(t)
	r := NewRewinder(sess, store.NewMemStore(), "inet:239.1.1.1:12000:eth0")

	reply, ok := r.HandleDiscoveryPing([]byte{DiscoveryPingPayload})
	if !ok {
		t.Fatalf("expected ok reply to discovery ping")
	}
	if string(reply) != "inet:239.1.1.1:12000:eth0" {
		t.Fatalf("unexpected reply: %q", reply)
	}

	if _, ok := r.HandleDiscoveryPing([]byte{'X'}); ok {
		t.Fatalf("expected non-D payload to be rejected")
	}
	if _, ok := r.HandleDiscoveryPing([]byte{}); ok {
		t.Fatalf("expected empty payload to be rejected")
	}
}

func TestRewinderServesRewindRequest(t *testing.T) {
	sess := newTestSession(t)
	st := store.NewMemStore()
	p := NewPublisher(sess, st, &fakeSender{}, activation.New())
	commitEvent(t, p, []byte("aaaa"))
	commitEvent(t, p, []byte("bbbbbbbb"))
	commitEvent(t, p, []byte("cc"))
	if err := p.Send(); err != nil {
		t.Fatalf("Send: %v", err)
	}

	r := NewRewinder(sess, st, "inet:239.1.1.1:12000:eth0")

	name, _ := sess.Name()
	req := make([]byte, wire.HeaderLen)
	wire.EncodeHeader(req, name, 1, 3)

	reply, err := r.HandleRewindRequest(req, len(req))
	if err != nil {
		t.Fatalf("HandleRewindRequest: %v", err)
	}

	hdr, err := wire.ParseHeader(reply, len(reply))
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if hdr.FirstSeq != 1 || hdr.Count != 3 {
		t.Fatalf("unexpected reply header: %+v", hdr)
	}

	it := wire.NewMessageIter(reply, len(reply))
	var got [][]byte
	for {
		msg, ok, err := it.Next()
		if err != nil {
			t.Fatalf("iter: %v", err)
		}
		if !ok {
			break
		}
		cp := make([]byte, len(msg))
		copy(cp, msg)
		got = append(got, cp)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if string(got[0]) != "aaaa" || string(got[1]) != "bbbbbbbb" || string(got[2]) != "cc" {
		t.Fatalf("unexpected message bodies: %q", got)
	}
}

func TestRewinderRejectsInvalidRequest(t *testing.T) {
	sess := newTestSession(t)
	st := store.NewMemStore()
	p := NewPublisher(sess, st, &fakeSender{}, activation.New())
	commitEvent(t, p, []byte("aaaa"))
	if err := p.Send(); err != nil {
		t.Fatalf("Send: %v", err)
	}

	r := NewRewinder(sess, st, "inet:239.1.1.1:12000:eth0")
	name, _ := sess.Name()

	// firstSeq+count beyond what's been sequenced.
	req := make([]byte, wire.HeaderLen)
	wire.EncodeHeader(req, name, 1, 5)
	if _, err := r.HandleRewindRequest(req, len(req)); err != ErrInvalidRewindRequest {
		t.Fatalf("expected ErrInvalidRewindRequest, got %v", err)
	}

	// firstSeq of 0 is invalid (sequence numbers start at 1).
	req2 := make([]byte, wire.HeaderLen)
	wire.EncodeHeader(req2, name, 0, 1)
	if _, err := r.HandleRewindRequest(req2, len(req2)); err != ErrInvalidRewindRequest {
		t.Fatalf("expected ErrInvalidRewindRequest for firstSeq=0, got %v", err)
	}

	// Wrong session name.
	req3 := make([]byte, wire.HeaderLen)
	wire.EncodeHeader(req3, "0000000000", 1, 1)
	if _, err := r.HandleRewindRequest(req3, len(req3)); err != ErrInvalidRewindRequest {
		t.Fatalf("expected ErrInvalidRewindRequest for wrong session, got %v", err)
	}
}

func TestRewinderSplitsAcrossMTU(t *testing.T) {
	sess := newTestSession(t)
	st := store.NewMemStore()
	p := NewPublisher(sess, st, &fakeSender{}, activation.New())

	const n = 40
	for i := 0; i < n; i++ {
		body := make([]byte, 100)
		commitEvent(t, p, body)
	}
	if err := p.Send(); err != nil {
		t.Fatalf("Send: %v", err)
	}

	r := NewRewinder(sess, st, "inet:239.1.1.1:12000:eth0")
	name, _ := sess.Name()
	req := make([]byte, wire.HeaderLen)
	wire.EncodeHeader(req, name, 1, n)

	reply, err := r.HandleRewindRequest(req, len(req))
	if err != nil {
		t.Fatalf("HandleRewindRequest: %v", err)
	}
	hdr, err := wire.ParseHeader(reply, len(reply))
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if hdr.Count >= n {
		t.Fatalf("expected reply to be MTU-truncated below requested count %d, got %d", n, hdr.Count)
	}
	if len(reply) > wire.MTU {
		t.Fatalf("reply exceeds MTU: %d", len(reply))
	}
}
