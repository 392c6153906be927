package cmdbus

import "github.com/jimgreco/core-sub000/internal/schema"

// These two message kinds are constructed entirely by this package (the
// sequencer and this publisher agree on their layout out of band from the
// host schema): the fixed sequencing header at the schema's offsets,
// followed by a field this package alone reads and writes. Per spec.md
// §4.7/§9's supplement, applicationDefinition is how a publisher's name is
// mapped to an applicationId and applicationDiscovery is how a publisher
// announces presence.

// encodeApplicationDefinition builds the identity-bootstrap message body:
// schema header fields (applicationId stamped 0 by the caller, message
// name set to ApplicationDefinitionName) followed by the publisher's ASCII
// name.
func encodeApplicationDefinition(sc schema.Schema, appName string) []byte {
	headerLen := sc.FixedHeaderLen()
	msg := make([]byte, headerLen+len(appName))
	sc.PutMessageName(msg, schema.ApplicationDefinitionName)
	copy(msg[headerLen:], appName)
	return msg
}

// applicationDefinitionName extracts the ASCII name carried after the
// schema header fields of an applicationDefinition message.
func applicationDefinitionName(headerLen int, msg []byte) string {
	if len(msg) <= headerLen {
		return ""
	}
	return string(msg[headerLen:])
}

// encodeApplicationDiscovery builds an application-discovery event body:
// schema header fields (message name set to ApplicationDiscoveryName)
// followed by vmName, a NUL separator, commandPath, a NUL separator, the
// per-activation instance token, a NUL separator, and the one-byte status.
// instanceToken distinguishes successive activations of the same
// vmName/commandPath pair (e.g. after a restart) from one another; callers
// generate it once per Activate call (see Publisher.Activate).
func encodeApplicationDiscovery(sc schema.Schema, vmName, commandPath, instanceToken string, status byte) []byte {
	headerLen := sc.FixedHeaderLen()
	msg := make([]byte, headerLen+len(vmName)+1+len(commandPath)+1+len(instanceToken)+1+1)
	sc.PutMessageName(msg, schema.ApplicationDiscoveryName)
	off := headerLen
	off += copy(msg[off:], vmName)
	msg[off] = 0
	off++
	off += copy(msg[off:], commandPath)
	msg[off] = 0
	off++
	off += copy(msg[off:], instanceToken)
	msg[off] = 0
	off++
	msg[off] = status
	return msg
}
