// Package cmdbus implements the out-of-band command path: CommandPublisher
// (spec.md §4.7), which delivers each command into the event stream exactly
// once despite UDP loss by retransmitting until echoed, and CommandReceiver
// (§4.8), which hands framed command bodies to the sequencer.
//
// Grounded on xtaci-kcptun/vendor/.../kcp-go/v5's ARQ retransmit idiom - a
// single outstanding RTO timer guarding one in-flight send at a time,
// exactly §4.7's "single sendTimeoutTaskId guard" - and on
// onthegit-livekit/pkg/utils/opsqueue.go's use of gammazero/deque for a
// queue that grows on demand, which here stands in for §3's "packet ring
// doubles": PushBack/PopFront against a deque.Deque already gives unbounded,
// amortized O(1) growth, so there is no manual modular-index doubling to
// write.
package cmdbus

import (
	"github.com/gammazero/deque"

	"github.com/jimgreco/core-sub000/internal/wire"
)

// cmdPacket is one ring slot: a single MTU-sized framed packet body holding
// messages with contiguous applicationSequenceNumbers
// [firstAppSeqNum, firstAppSeqNum+count).
type cmdPacket struct {
	buf         []byte
	cursor      int
	count       int
	firstAppSeq uint32
	msgOffsets  []int // byte offset of each message's body (just past its length prefix), for applicationId rewrite
}

func newCmdPacket() *cmdPacket {
	return &cmdPacket{buf: make([]byte, wire.MTU-wire.HeaderLen)}
}

func (p *cmdPacket) reset() {
	p.cursor = 0
	p.count = 0
	p.firstAppSeq = 0
	p.msgOffsets = p.msgOffsets[:0]
}

// fits reports whether a message of msgLen bytes still has room in p.
func (p *cmdPacket) fits(msgLen int) bool {
	return p.cursor+2+msgLen <= len(p.buf)
}

// append copies msg into the next free slot, recording its offset for a
// later applicationId rewrite (spec.md §4.7's "rewrite the applicationId of
// every still-buffered message" on identity learning).
func (p *cmdPacket) append(seq uint32, msg []byte) {
	if p.count == 0 {
		p.firstAppSeq = seq
	}
	wire.PutMessageLen(p.buf, p.cursor, len(msg))
	off := p.cursor + 2
	copy(p.buf[off:off+len(msg)], msg)
	p.msgOffsets = append(p.msgOffsets, off)
	p.cursor += 2 + len(msg)
	p.count++
}

// ring is the growable sequence of in-flight cmdPackets, confirmed entries
// popped from the front as the event stream echoes them.
type ring struct {
	d deque.Deque[*cmdPacket]
}

func (r *ring) len() int              { return r.d.Len() }
func (r *ring) pushBack(p *cmdPacket) { r.d.PushBack(p) }
func (r *ring) front() *cmdPacket     { return r.d.Front() }
func (r *ring) popFront() *cmdPacket  { return r.d.PopFront() }
func (r *ring) at(i int) *cmdPacket   { return r.d.At(i) }

func (r *ring) clear() {
	for r.d.Len() > 0 {
		r.d.PopFront()
	}
}
