package cmdbus

import (
	"testing"

	"github.com/jimgreco/core-sub000/internal/dispatch"
	"github.com/jimgreco/core-sub000/internal/schema"
	"github.com/jimgreco/core-sub000/internal/session"
	"github.com/jimgreco/core-sub000/internal/wire"
)

func buildCommandPacket(t *testing.T, sessionName string, firstSeq uint64, msgs [][]byte) []byte {
	t.Helper()
	body := 0
	for _, m := range msgs {
		body += 2 + len(m)
	}
	buf := make([]byte, wire.HeaderLen+body)
	wire.EncodeHeader(buf, sessionName, firstSeq, uint16(len(msgs)))
	off := wire.HeaderLen
	for _, m := range msgs {
		wire.PutMessageLen(buf, off, len(m))
		copy(buf[off+2:], m)
		off += 2 + len(m)
	}
	return buf
}

func TestCommandReceiverDeliversMessages(t *testing.T) {
	sess := session.New()
	d := dispatch.New()
	r := NewReceiver(sess, d, nil)

	if err := sess.SetName("20240101AA"); err != nil {
		t.Fatalf("SetName: %v", err)
	}

	var delivered [][]byte
	d.AddListener(func(seq uint64, msg []byte) {
		if seq != 0 {
			t.Fatalf("expected seq 0 for command bodies, got %d", seq)
		}
		cp := make([]byte, len(msg))
		copy(cp, msg)
		delivered = append(delivered, cp)
	})

	pkt := buildCommandPacket(t, "20240101AA", 1, [][]byte{[]byte("one"), []byte("two")})
	r.HandlePacket(pkt, len(pkt))

	if len(delivered) != 2 {
		t.Fatalf("expected 2 messages delivered, got %d", len(delivered))
	}
	if string(delivered[0]) != "one" || string(delivered[1]) != "two" {
		t.Fatalf("unexpected delivered contents: %q", delivered)
	}
}

func TestCommandReceiverAdoptsSessionOnce(t *testing.T) {
	sess := session.New()
	d := dispatch.New()
	r := NewReceiver(sess, d, nil)

	pkt := buildCommandPacket(t, "20240101AA", 1, [][]byte{[]byte("hi")})
	r.HandlePacket(pkt, len(pkt))

	name, ok := sess.Name()
	if !ok || name != "20240101AA" {
		t.Fatalf("expected session adopted, got %q ok=%v", name, ok)
	}

	otherPkt := buildCommandPacket(t, "20240101BB", 1, [][]byte{[]byte("hi")})
	var delivered int
	d.AddListener(func(uint64, []byte) { delivered++ })
	r.HandlePacket(otherPkt, len(otherPkt))
	if delivered != 0 {
		t.Fatalf("expected mismatched-session packet dropped, delivered %d", delivered)
	}
}

func TestCommandReceiverDropsMalformedPacket(t *testing.T) {
	sess := session.New()
	d := dispatch.New()
	r := NewReceiver(sess, d, nil)

	var delivered int
	d.AddListener(func(uint64, []byte) { delivered++ })

	r.HandlePacket([]byte{1, 2, 3}, 3) // too short for a header
	if delivered != 0 {
		t.Fatalf("expected no delivery for malformed packet, got %d", delivered)
	}
}

func TestCommandReceiverWithSchemaNamedDispatch(t *testing.T) {
	sess := session.New()
	d := dispatch.New()
	sc := schema.Default()
	r := NewReceiver(sess, d, sc)

	var named int
	d.AddNamedListener("ping", func(uint64, []byte) { named++ })

	msg := make([]byte, sc.FixedHeaderLen())
	sc.PutMessageName(msg, "ping")
	pkt := buildCommandPacket(t, "20240101AA", 1, [][]byte{msg})
	r.HandlePacket(pkt, len(pkt))

	if named != 1 {
		t.Fatalf("expected named listener invoked once, got %d", named)
	}
}
