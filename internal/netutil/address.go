// Package netutil parses and formats the "inet:<host>[:<port>[:<interface>]]"
// address strings spec.md §6 defines for discovery replies and rewind
// address lists.
//
// Grounded on xtaci-kcptun/client/main.go's address-string handling
// (net.SplitHostPort plus manual validation before dialing), generalized to
// the three-component grammar and to reporting the byte offset of a parse
// failure, as §6 requires ("parse failures report byte positions").
package netutil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Scheme is the fixed leading token of every address string.
const Scheme = "inet"

// ParseError reports the byte offset within the input where parsing failed.
type ParseError struct {
	Input  string
	Offset int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("netutil: %s at byte %d of %q", e.Reason, e.Offset, e.Input)
}

// Address is a parsed "inet:host:port:interface" address. Port and
// Interface may be empty/zero when omitted.
type Address struct {
	Host      string
	Port      int
	Interface string
}

// Parse parses s in the form "inet:<host>[:<port>[:<interface>]]".
// Any component may be empty (e.g. "inet::29900" binds all hosts on port
// 29900).
func Parse(s string) (Address, error) {
	if !strings.HasPrefix(s, Scheme+":") {
		return Address{}, &ParseError{Input: s, Offset: 0, Reason: "missing 'inet:' scheme"}
	}
	rest := s[len(Scheme)+1:]
	parts := strings.SplitN(rest, ":", 3)

	addr := Address{Host: parts[0]}
	offset := len(Scheme) + 1 + len(parts[0]) + 1

	if len(parts) >= 2 && parts[1] != "" {
		p, err := strconv.Atoi(parts[1])
		if err != nil || p < 0 || p > 65535 {
			return Address{}, &ParseError{Input: s, Offset: offset, Reason: "invalid port"}
		}
		addr.Port = p
	}
	if len(parts) >= 2 {
		offset += len(parts[1]) + 1
	}
	if len(parts) == 3 {
		addr.Interface = parts[2]
	}
	return addr, nil
}

// String formats addr back into "inet:<host>:<port>:<interface>" form,
// omitting the interface component if empty.
func (a Address) String() string {
	if a.Interface == "" {
		return fmt.Sprintf("%s:%s:%d", Scheme, a.Host, a.Port)
	}
	return fmt.Sprintf("%s:%s:%d:%s", Scheme, a.Host, a.Port, a.Interface)
}

// HostPort returns "host:port", the form net.Dial/net.ResolveUDPAddr expect.
func (a Address) HostPort() string {
	return a.Host + ":" + strconv.Itoa(a.Port)
}

// FormatHostPort builds an Address wire string directly from a dialable
// "host:port" pair, as the Rewinder does when replying to a discovery ping
// with its bound unicast address.
func FormatHostPort(hostPort string) (string, error) {
	idx := strings.LastIndex(hostPort, ":")
	if idx < 0 {
		return "", errors.Errorf("netutil: %q is not host:port", hostPort)
	}
	host, portStr := hostPort[:idx], hostPort[idx+1:]
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", errors.Wrapf(err, "netutil: bad port in %q", hostPort)
	}
	return Address{Host: host, Port: port}.String(), nil
}
