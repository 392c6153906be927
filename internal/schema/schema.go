// Package schema describes the host-supplied message layout spec.md treats
// as an opaque descriptor: byte offsets for applicationId,
// applicationSequenceNumber and timestamp within an event, plus the
// message-name registry the dispatcher (internal/dispatch) and
// internal/cmdbus's applicationDefinition/applicationDiscovery recognition
// key off of.
//
// Grounded on the fixed-offset message-struct idiom of the MTBT receiver
// reference file (a3461ab0_prathamdesaianv-spec-MTBT_Go__mtbt_receiver.go.go
// in the examples pack: StreamHeader/OrderMessage/... as byte-offset
// structs), generalized from hardcoded Go structs to a pluggable offset
// descriptor so a host can remap field positions without recompiling this
// module.
package schema

import "encoding/binary"

// Well-known message names recognized by internal/cmdbus, per spec.md
// §4.7's applicationDefinition/application-discovery supplement (see
// SPEC_FULL.md).
const (
	ApplicationDefinitionName = "applicationDefinition"
	ApplicationDiscoveryName  = "applicationDiscovery"
)

// Discovery status bytes for applicationDiscovery messages.
const (
	StatusUp   byte = 'U'
	StatusDown byte = 'D'
)

// Schema describes where the sequencing fields live within an event body,
// and how to recover a message's name for dispatch.
type Schema interface {
	// ApplicationIDOffset is the byte offset of the 2-byte applicationId.
	ApplicationIDOffset() int
	// ApplicationSeqNumOffset is the byte offset of the 4-byte
	// applicationSequenceNumber.
	ApplicationSeqNumOffset() int
	// TimestampOffset is the byte offset of the 8-byte timestamp
	// (nanoseconds since epoch).
	TimestampOffset() int
	// MessageName returns the dispatch key for msg, e.g. a fixed-width name
	// field or a type-byte mapped to a human-readable string.
	MessageName(msg []byte) string
	// PutMessageName writes name into msg's name field, the inverse of
	// MessageName. internal/cmdbus uses this to construct the
	// applicationDefinition/applicationDiscovery messages it originates
	// itself (§4.7's identity-bootstrap and discovery events).
	PutMessageName(msg []byte, name string)
	// FixedHeaderLen is the width of the schema-defined prefix (sequencing
	// fields plus the message-name field) that precedes a message's
	// variable-length payload. internal/cmdbus uses this to place the
	// payload of the messages it constructs itself (applicationDefinition,
	// applicationDiscovery).
	FixedHeaderLen() int
}

// StaticSchema is a fixed-offset Schema, sufficient for tests and the
// sample cmd/ tools. Production hosts with a richer message catalog supply
// their own Schema implementation.
type StaticSchema struct {
	AppIDOffset  int
	AppSeqOffset int
	TimestampOff int
	NameOffset   int
	NameLen      int
}

func (s StaticSchema) ApplicationIDOffset() int     { return s.AppIDOffset }
func (s StaticSchema) ApplicationSeqNumOffset() int { return s.AppSeqOffset }
func (s StaticSchema) TimestampOffset() int         { return s.TimestampOff }
func (s StaticSchema) FixedHeaderLen() int          { return s.NameOffset + s.NameLen }

func (s StaticSchema) MessageName(msg []byte) string {
	if s.NameOffset+s.NameLen > len(msg) {
		return ""
	}
	b := msg[s.NameOffset : s.NameOffset+s.NameLen]
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end])
}

// PutMessageName writes name, zero-padded/truncated to NameLen bytes, into
// msg's name field.
func (s StaticSchema) PutMessageName(msg []byte, name string) {
	b := msg[s.NameOffset : s.NameOffset+s.NameLen]
	n := copy(b, name)
	for ; n < len(b); n++ {
		b[n] = 0
	}
}

// Default returns the StaticSchema used by this module's tests and sample
// tools: applicationId at offset 0 (2 bytes), applicationSequenceNumber at
// offset 2 (4 bytes), timestamp at offset 6 (8 bytes), and a 16-byte
// null-padded message name at offset 14.
func Default() StaticSchema {
	return StaticSchema{
		AppIDOffset:  0,
		AppSeqOffset: 2,
		TimestampOff: 6,
		NameOffset:   14,
		NameLen:      16,
	}
}

// GetApplicationID reads the 2-byte applicationId at s's offset within msg.
func GetApplicationID(s Schema, msg []byte) uint16 {
	o := s.ApplicationIDOffset()
	return binary.BigEndian.Uint16(msg[o : o+2])
}

// PutApplicationID writes the 2-byte applicationId at s's offset within msg.
func PutApplicationID(s Schema, msg []byte, id uint16) {
	o := s.ApplicationIDOffset()
	binary.BigEndian.PutUint16(msg[o:o+2], id)
}

// GetApplicationSeqNum reads the 4-byte applicationSequenceNumber.
func GetApplicationSeqNum(s Schema, msg []byte) uint32 {
	o := s.ApplicationSeqNumOffset()
	return binary.BigEndian.Uint32(msg[o : o+4])
}

// PutApplicationSeqNum writes the 4-byte applicationSequenceNumber.
func PutApplicationSeqNum(s Schema, msg []byte, seq uint32) {
	o := s.ApplicationSeqNumOffset()
	binary.BigEndian.PutUint32(msg[o:o+4], seq)
}

// GetTimestamp reads the 8-byte timestamp (nanoseconds since epoch).
func GetTimestamp(s Schema, msg []byte) int64 {
	o := s.TimestampOffset()
	return int64(binary.BigEndian.Uint64(msg[o : o+8]))
}

// PutTimestamp writes the 8-byte timestamp (nanoseconds since epoch).
func PutTimestamp(s Schema, msg []byte, ts int64) {
	o := s.TimestampOffset()
	binary.BigEndian.PutUint64(msg[o:o+8], uint64(ts))
}
