// cmd/publisher is the sample command-publisher binary: it joins the
// event multicast stream as a BusClient, registers one associated
// command Provider, and commits one command per line read from stdin,
// retransmitting each until the loopback sequencer's echo confirms it.
//
// Styled after xtaci-kcptun/client/main.go + client/dial.go: a
// urfave/cli App wiring raw sockets into the session layer, with a
// JSON-config-file override and a colored startup banner.
package main

import (
	"bufio"
	"log"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/jimgreco/core-sub000/internal/activation"
	"github.com/jimgreco/core-sub000/internal/bus"
	"github.com/jimgreco/core-sub000/internal/config"
	"github.com/jimgreco/core-sub000/internal/dispatch"
	"github.com/jimgreco/core-sub000/internal/eventbus"
	"github.com/jimgreco/core-sub000/internal/logx"
	"github.com/jimgreco/core-sub000/internal/netutil"
	"github.com/jimgreco/core-sub000/internal/schema"
	"github.com/jimgreco/core-sub000/internal/scheduler"
	"github.com/jimgreco/core-sub000/internal/session"
	"github.com/jimgreco/core-sub000/internal/wire"
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

// commandMessageName is the dispatch name this sample tool stamps on every
// command it commits; a real host would carry a richer message catalog.
const commandMessageName = "command"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "publisher"
	myApp.Usage = "command publisher for the MoldUDP64-derived event bus"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{Name: "eventlisten", Value: "inet:224.0.1.10:29101", Usage: "event multicast group to join"},
		cli.StringFlag{Name: "discovery", Value: "inet:224.0.1.10:29102", Usage: "discovery multicast group to ping"},
		cli.StringFlag{Name: "commandtarget", Value: "inet:224.0.1.10:29104", Usage: "command multicast group to publish to"},
		cli.StringFlag{Name: "appname", Value: "sample-publisher", Usage: "this publisher's application name"},
		cli.StringFlag{Name: "vmname", Value: "", Usage: "host name reported in application-discovery events, default os.Hostname()"},
		cli.StringFlag{Name: "commandpath", Value: os.Args[0], Usage: "command path reported in application-discovery events"},
		cli.StringFlag{Name: "log", Value: "", Usage: "specify a log file to output, default goes to stderr"},
		cli.StringFlag{Name: "c", Value: "", Usage: "config from json file, which will override the command from shell"},
	}
	myApp.Action = run

	if err := myApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfg := config.Config{
		EventListen:   c.String("eventlisten"),
		Discovery:     c.String("discovery"),
		CommandTarget: c.String("commandtarget"),
		AppName:       c.String("appname"),
		VMName:        c.String("vmname"),
		CommandPath:   c.String("commandpath"),
		Log:           c.String("log"),
	}
	if path := c.String("c"); path != "" {
		if err := config.ParseJSONConfig(&cfg, path); err != nil {
			return err
		}
	}
	if cfg.Log != "" {
		f, err := os.OpenFile(cfg.Log, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		log.SetOutput(f)
	}
	if cfg.VMName == "" {
		cfg.VMName, _ = os.Hostname()
	}

	logx.Banner("publisher %q starting", cfg.AppName)

	eventConn, _, err := listenMulticast(cfg.EventListen)
	if err != nil {
		return err
	}
	defer eventConn.Close()

	discoveryConn, discoveryGroup, err := discoveryClientSocket(cfg.Discovery)
	if err != nil {
		return err
	}
	defer discoveryConn.Close()

	commandConn, err := dialMulticast(cfg.CommandTarget)
	if err != nil {
		return err
	}
	defer commandConn.Close()

	sc := schema.Default()
	sess := session.New()
	sched := scheduler.New()
	recvAct := activation.New()
	pubAct := activation.New()
	dispatcher := dispatch.New()

	packets := make(chan inbound, 64)

	transport := &recoveryTransport{
		sess:          sess,
		discoveryConn: discoveryConn,
		discoveryAddr: discoveryGroup,
		packets:       packets,
	}

	recv := eventbus.NewReceiver(sess, dispatcher, sc, transport, sched, recvAct)
	recvAct.OnStop(func() { log.Printf("WARN event receiver stopped") })

	client := bus.NewClient(sess, sc, dispatcher, recv, sched, recvAct)

	commandSender := &udpSender{conn: commandConn}
	provider := client.Provider(commandSender, sched, pubAct, cfg.AppName, true)

	// The session name is network-learned (spec.md §4.1): it only becomes
	// known once the first event packet arrives, so activation - which
	// sends over the command channel and needs a session name to frame its
	// header - waits for AddOpenSessionListener rather than firing here.
	client.AddOpenSessionListener(func(name string) {
		log.Printf("adopted session %q", name)
		if err := provider.Activate(cfg.VMName, cfg.CommandPath); err != nil {
			log.Printf("ERROR activating application %q: %v", cfg.AppName, err)
		}
	})

	dispatcher.AddNamedListener(commandMessageName, func(seq uint64, msg []byte) {
		log.Printf("event %d: %s", seq, string(msg[sc.FixedHeaderLen():]))
	})

	reader := func(conn *net.UDPConn, kind int) {
		buf := make([]byte, 65536)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			cp := make([]byte, n)
			copy(cp, buf[:n])
			packets <- inbound{kind: kind, buf: cp, n: n}
		}
	}
	go reader(eventConn, kindEvent)
	go reader(discoveryConn, kindDiscoveryReply)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	logx.Banner("ready: event=%s discovery=%s command=%s - type commands, one per line", cfg.EventListen, cfg.Discovery, cfg.CommandTarget)

	// tick periodically drains the scheduler's send-retry/discovery/
	// rewind timers - the only source of time-based work in this
	// process, since all socket reads arrive on packets/lines instead.
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case p, ok := <-packets:
			if !ok {
				return nil
			}
			switch p.kind {
			case kindEvent:
				recv.HandlePacket(p.buf, p.n)
			case kindDiscoveryReply:
				recv.HandleDiscoveryReply(string(p.buf[:p.n]))
			case kindRewindReply:
				recv.HandlePacket(p.buf, p.n)
			}
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			msg := buildCommandMessage(sc, commandMessageName, []byte(line))
			if _, err := provider.Commit(msg); err != nil {
				log.Printf("ERROR committing command: %v", err)
				continue
			}
			if err := provider.Send(); err != nil {
				log.Printf("ERROR sending command: %v", err)
			}
		case <-tick.C:
			sched.RunDue()
		}
	}
}

// inbound is one datagram read off any of this process's UDP sockets,
// tagged with which logical channel it came from.
type inbound struct {
	kind int
	buf  []byte
	n    int
}

const (
	kindEvent = iota
	kindDiscoveryReply
	kindRewindReply
)

// buildCommandMessage lays out a command body: the schema's fixed
// sequencing-and-name header (populated with name), followed by payload.
// internal/cmdbus.Publisher.Commit only stamps the sequencing fields; the
// caller supplies the rest, per spec.md §4.7.
func buildCommandMessage(sc schema.Schema, name string, payload []byte) []byte {
	headerLen := sc.FixedHeaderLen()
	msg := make([]byte, headerLen+len(payload))
	sc.PutMessageName(msg, name)
	copy(msg[headerLen:], payload)
	return msg
}

// recoveryTransport adapts eventbus.RecoveryTransport to real UDP sockets.
// discoveryConn is an unconnected socket bound to an ephemeral local port
// (a reply's source is the rewinder's own address, not the multicast group,
// so a connected socket would filter it out) used to send pings and, via
// the caller's own reader goroutine, receive replies. The rewind socket is
// redialed on every ConnectRewind call since each gap recovery may be
// served by a different rewinder address.
type recoveryTransport struct {
	sess          *session.Session
	discoveryConn *net.UDPConn
	discoveryAddr *net.UDPAddr
	rewindConn    *net.UDPConn
	packets       chan<- inbound
}

func (t *recoveryTransport) SendDiscoveryPing() error {
	_, err := t.discoveryConn.WriteToUDP([]byte{eventbus.DiscoveryPingPayload}, t.discoveryAddr)
	return err
}

func (t *recoveryTransport) ConnectRewind(addr string) error {
	a, err := netutil.Parse(addr)
	if err != nil {
		return err
	}
	raddr, err := net.ResolveUDPAddr("udp", a.HostPort())
	if err != nil {
		return err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return err
	}
	if t.rewindConn != nil {
		t.rewindConn.Close()
	}
	t.rewindConn = conn

	packets := t.packets
	go func(conn *net.UDPConn) {
		buf := make([]byte, 65536)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			cp := make([]byte, n)
			copy(cp, buf[:n])
			packets <- inbound{kind: kindRewindReply, buf: cp, n: n}
		}
	}(conn)
	return nil
}

func (t *recoveryTransport) SendRewindRequest(firstSeq uint64, count uint16) error {
	name, ok := t.sess.Name()
	if !ok {
		return errSessionUnset
	}
	var buf [wire.HeaderLen]byte
	wire.EncodeHeader(buf[:], name, firstSeq, count)
	_, err := t.rewindConn.Write(buf[:])
	return err
}

var errSessionUnset = errors.New("publisher: session name not set")

// udpSender adapts a connected *net.UDPConn to cmdbus.Sender's gather
// write: header and body are copied into one buffer so they go out as a
// single datagram.
type udpSender struct {
	conn *net.UDPConn
	buf  []byte
}

func (s *udpSender) Send(header, body []byte) error {
	need := len(header) + len(body)
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	s.buf = s.buf[:need]
	n := copy(s.buf, header)
	copy(s.buf[n:], body)
	_, err := s.conn.Write(s.buf)
	return err
}

// dialMulticast returns a UDP socket connected to addr (an "inet:host:port"
// string) for outbound multicast sends with no reply expected back.
func dialMulticast(addrStr string) (*net.UDPConn, error) {
	a, err := netutil.Parse(addrStr)
	if err != nil {
		return nil, err
	}
	raddr, err := net.ResolveUDPAddr("udp", a.HostPort())
	if err != nil {
		return nil, err
	}
	return net.DialUDP("udp", nil, raddr)
}

// discoveryClientSocket returns an unconnected UDP socket bound to an
// ephemeral local port, plus the resolved multicast group address pings
// should be sent to. Unconnected because the rewinder's reply is sourced
// from its own unicast address, not the multicast group - a connected
// socket would discard it.
func discoveryClientSocket(addrStr string) (*net.UDPConn, *net.UDPAddr, error) {
	a, err := netutil.Parse(addrStr)
	if err != nil {
		return nil, nil, err
	}
	group, err := net.ResolveUDPAddr("udp", a.HostPort())
	if err != nil {
		return nil, nil, err
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, nil, err
	}
	return conn, group, nil
}

// listenMulticast joins the multicast group named by addrStr (an
// "inet:host:port[:iface]" string) and returns the bound socket alongside
// the group address it joined.
func listenMulticast(addrStr string) (*net.UDPConn, string, error) {
	a, err := netutil.Parse(addrStr)
	if err != nil {
		return nil, "", err
	}
	var iface *net.Interface
	if a.Interface != "" {
		iface, err = net.InterfaceByName(a.Interface)
		if err != nil {
			return nil, "", err
		}
	}
	group, err := net.ResolveUDPAddr("udp", a.HostPort())
	if err != nil {
		return nil, "", err
	}
	conn, err := net.ListenMulticastUDP("udp", iface, group)
	if err != nil {
		return nil, "", err
	}
	return conn, a.String(), nil
}
