// cmd/sequencer is the sample authoritative-sequencer binary: it wires a
// bus.Server over real UDP multicast/unicast sockets and runs a
// loopback-echo sequencer (spec.md §8's testable property 3 and S1-S6's
// "driven by a loopback sequencer that copies commands to events") -
// every command delivered by the CommandReceiver is copied straight back
// out as an event, stamped with the current time.
//
// Styled after xtaci-kcptun/server/main.go + server/config.go: a
// urfave/cli App with a JSON-config-file override, a colored startup
// banner, and a single flat Config struct.
package main

import (
	"log"
	"net"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/jimgreco/core-sub000/internal/activation"
	"github.com/jimgreco/core-sub000/internal/bus"
	"github.com/jimgreco/core-sub000/internal/cmdbus"
	"github.com/jimgreco/core-sub000/internal/config"
	"github.com/jimgreco/core-sub000/internal/dispatch"
	"github.com/jimgreco/core-sub000/internal/eventbus"
	"github.com/jimgreco/core-sub000/internal/logx"
	"github.com/jimgreco/core-sub000/internal/netutil"
	"github.com/jimgreco/core-sub000/internal/schema"
	"github.com/jimgreco/core-sub000/internal/session"
	"github.com/jimgreco/core-sub000/internal/store"
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "sequencer"
	myApp.Usage = "MoldUDP64-derived event sequencer"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{Name: "sessionsuffix", Value: "AA", Usage: "two-character session suffix appended to today's UTC date"},
		cli.StringFlag{Name: "eventtarget", Value: "inet:224.0.1.10:29101", Usage: "event multicast group to publish to"},
		cli.StringFlag{Name: "discovery", Value: "inet:224.0.1.10:29102", Usage: "discovery multicast group to listen on"},
		cli.StringFlag{Name: "rewindlisten", Value: "inet::29103", Usage: "unicast address the rewinder binds for rewind requests"},
		cli.StringFlag{Name: "commandlisten", Value: "inet:224.0.1.10:29104", Usage: "command multicast group to listen on"},
		cli.StringFlag{Name: "storedir", Value: ".", Usage: "directory holding the <session>.events.dat/<session>.index.dat files"},
		cli.StringFlag{Name: "log", Value: "", Usage: "specify a log file to output, default goes to stderr"},
		cli.BoolFlag{Name: "quiet", Usage: "suppress per-event info logging"},
		cli.StringFlag{Name: "c", Value: "", Usage: "config from json file, which will override the command from shell"},
	}
	myApp.Action = run

	if err := myApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfg := config.Config{
		SessionSuffix: c.String("sessionsuffix"),
		EventTarget:   c.String("eventtarget"),
		Discovery:     c.String("discovery"),
		RewindListen:  c.String("rewindlisten"),
		CommandListen: c.String("commandlisten"),
		StoreDir:      c.String("storedir"),
		Log:           c.String("log"),
		Quiet:         c.Bool("quiet"),
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

	logx.Banner("sequencer starting, session suffix %q", cfg.SessionSuffix)

	sess := session.New()
	if err := sess.Create(cfg.SessionSuffix); err != nil {
		return err
	}
	name, _ := sess.Name()

	st, err := store.OpenFileStore(cfg.StoreDir, name)
	if err != nil {
		return err
	}
	defer st.Close()

	eventConn, err := dialMulticast(cfg.EventTarget)
	if err != nil {
		return err
	}
	defer eventConn.Close()

	discoveryConn, discoveryAddr, err := listenMulticast(cfg.Discovery)
	if err != nil {
		return err
	}
	defer discoveryConn.Close()

	rewindAddr, err := netutil.Parse(cfg.RewindListen)
	if err != nil {
		return err
	}
	rewindConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(rewindAddr.Host), Port: rewindAddr.Port})
	if err != nil {
		return err
	}
	defer rewindConn.Close()
	rewindPublicAddr, err := netutil.FormatHostPort(rewindConn.LocalAddr().String())
	if err != nil {
		return err
	}

	commandConn, _, err := listenMulticast(cfg.CommandListen)
	if err != nil {
		return err
	}
	defer commandConn.Close()

	sc := schema.Default()
	act := activation.New()
	dispatcher := dispatch.New()
	cmdDispatcher := dispatch.New()

	pub := eventbus.NewPublisher(sess, st, &udpSender{conn: eventConn}, act)
	rewinder := eventbus.NewRewinder(sess, st, rewindPublicAddr)
	cmdRecv := cmdbus.NewReceiver(sess, cmdDispatcher, sc)

	srv := bus.NewServer(sc, dispatcher, pub, cmdRecv, cmdDispatcher, act)
	act.Ready()

	srv.SetCommandListener(func(_ uint64, msg []byte) {
		if err := srv.Copy(msg, time.Now().UnixNano()); err != nil {
			log.Printf("ERROR copying command to event stream: %v", err)
			return
		}
		if err := srv.Send(); err != nil {
			log.Printf("ERROR flushing event stream: %v", err)
		}
	})
	if !cfg.Quiet {
		srv.SetEventListener(func(seq uint64, msg []byte) {
			log.Printf("event %d (%d bytes)", seq, len(msg))
		})
	}

	logx.Banner("listening: discovery=%s rewind=%s command=%s event-target=%s", discoveryAddr, rewindPublicAddr, cfg.CommandListen, cfg.EventTarget)

	type packet struct {
		buf  []byte
		n    int
		from *net.UDPAddr
		kind int
	}
	const (
		kindDiscovery = iota
		kindRewind
		kindCommand
	)
	packets := make(chan packet, 64)

	reader := func(conn *net.UDPConn, kind int) {
		buf := make([]byte, 65536)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			cp := make([]byte, n)
			copy(cp, buf[:n])
			packets <- packet{buf: cp, n: n, from: from, kind: kind}
		}
	}
	go reader(discoveryConn, kindDiscovery)
	go reader(rewindConn, kindRewind)
	go reader(commandConn, kindCommand)

	for p := range packets {
		switch p.kind {
		case kindDiscovery:
			if reply, ok := rewinder.HandleDiscoveryPing(p.buf[:p.n]); ok {
				if _, err := discoveryConn.WriteToUDP(reply, p.from); err != nil {
					log.Printf("WARN discovery reply failed: %v", err)
				}
			}
		case kindRewind:
			reply, err := rewinder.HandleRewindRequest(p.buf, p.n)
			if err != nil {
				log.Printf("WARN rewind request dropped: %v", err)
				continue
			}
			if _, err := rewindConn.WriteToUDP(reply, p.from); err != nil {
				log.Printf("WARN rewind reply failed: %v", err)
			}
		case kindCommand:
			srv.HandleCommandPacket(p.buf, p.n)
		}
	}
	return nil
}

// udpSender adapts a connected *net.UDPConn to eventbus.Sender's gather
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
// string) for outbound multicast sends.
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

// listenMulticast joins the multicast group named by addrStr (an
// "inet:host:port[:iface]" string) and returns the bound socket alongside
// the group address it joined, per other_examples' MTBT receiver's
// net.ListenMulticastUDP usage.
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
