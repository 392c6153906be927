// Package config holds the JSON-file-plus-CLI-flag configuration shape
// shared by cmd/sequencer and cmd/publisher, styled after
// xtaci-kcptun/server/config.go and client/main.go: a plain struct decoded
// with encoding/json, whose fields a urfave/cli App.Action overlays with
// flag values before any json file override is applied.
package config

import (
	"encoding/json"
	"os"
)

// Config is the superset of settings either cmd/ binary needs. Both
// binaries populate only the fields relevant to their role and leave the
// rest at their flag-supplied defaults.
type Config struct {
	// Session identity.
	SessionSuffix string `json:"sessionsuffix"`

	// Event stream (multicast) addresses, "inet:host:port[:iface]".
	EventListen  string `json:"eventlisten"`
	EventTarget  string `json:"eventtarget"`
	Discovery    string `json:"discovery"`
	RewindListen string `json:"rewindlisten"`

	// Command stream address.
	CommandListen string `json:"commandlisten"`
	CommandTarget string `json:"commandtarget"`

	// TCP variant.
	TCP        bool   `json:"tcp"`
	TCPListen  string `json:"tcplisten"`
	TCPTarget  string `json:"tcptarget"`

	// Storage.
	StoreDir string `json:"storedir"`

	// Publisher identity (cmd/publisher only).
	AppName     string `json:"appname"`
	VMName      string `json:"vmname"`
	CommandPath string `json:"commandpath"`

	Log   string `json:"log"`
	Quiet bool   `json:"quiet"`

	// C is not itself persisted to JSON; it names the JSON file (if any)
	// that was used to override the flag-derived values above.
	C string `json:"-"`
}

// ParseJSONConfig decodes the JSON file at path into cfg, overriding any
// flag-derived defaults already set on it - the teacher's own
// parseJSONConfig contract in server/config.go and client/main.go.
func ParseJSONConfig(cfg *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewDecoder(file).Decode(cfg)
}
