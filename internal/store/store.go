// Package store implements spec.md §4.2's MessageStore: an append-only
// paired (messages, index) log supporting acquire/commit for the writer
// and read(seq) for the rewinder. Two backends share the Store interface:
// FileStore (persistent) and MemStore (tests/tools).
package store

import "github.com/pkg/errors"

// ErrOutOfRange is returned by Read when seq is not in [1, count].
var ErrOutOfRange = errors.New("store: sequence number out of range")

// scratchSize is the size of the scratch buffer Acquire returns: enough to
// hold many queued, wire-framed (2-byte-length-prefixed) messages between
// sends, well beyond wire.MTU. Sized generously since it's reused across
// the lifetime of a session rather than allocated per packet.
const scratchSize = 1 << 20

// Store is the contract both backends satisfy. It is not safe for
// concurrent use from multiple goroutines without external synchronization
// beyond what's documented per-method; in this module's single-threaded
// model, the EventPublisher (writer) and Rewinder (reader) share one Store
// instance on the same event-loop thread, so no locking is needed - spec.md
// §5 requires only that the Rewinder "never read a partially written
// entry", which Commit's ordering (grow index only after the message bytes
// are durable) guarantees even to a hypothetical concurrent reader.
type Store interface {
	// Acquire returns the writable scratch buffer (scratchSize bytes);
	// callers write messages into it back-to-back as (len:2, content)
	// records, starting at offset 0, before calling Commit.
	Acquire() []byte
	// Commit appends count consecutive messages whose lengths are
	// lengths[index:index+count], read back-to-back from the buffer
	// returned by the most recent Acquire, and returns the first assigned
	// sequence number.
	Commit(lengths []int, index, count int) (firstSeq uint64, err error)
	// Read copies message seq's bytes into dst[dstIndex:] and returns its
	// length. Fails with ErrOutOfRange if seq is not in [1, Count()].
	Read(dst []byte, dstIndex int, seq uint64) (int, error)
	// Count returns the number of messages committed so far
	// (nextSequenceNumber - 1).
	Count() uint64
	// Close releases any resources held by the store.
	Close() error
}
