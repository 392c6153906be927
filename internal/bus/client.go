// Package bus composes the lower-level components (session, store, wire,
// eventbus, cmdbus, tcpbus, dispatch, schema, scheduler, activation) into
// the two application-facing roles spec.md §4.10 calls for: BusClient,
// the receiver-plus-command-publishers role, and BusServer, the
// sequencer role.
//
// Grounded on xtaci-kcptun/client/dial.go's single entry point that wires
// a raw transport into the session layer (here: wiring raw sockets into
// EventReceiver/CommandPublisher instead of a kcp.UDPSession), generalized
// to the read/write-facade shape spec.md §4.10 describes.
package bus

import (
	"github.com/jimgreco/core-sub000/internal/activation"
	"github.com/jimgreco/core-sub000/internal/cmdbus"
	"github.com/jimgreco/core-sub000/internal/dispatch"
	"github.com/jimgreco/core-sub000/internal/eventbus"
	"github.com/jimgreco/core-sub000/internal/schema"
	"github.com/jimgreco/core-sub000/internal/scheduler"
	"github.com/jimgreco/core-sub000/internal/session"
)

// Provider wraps one CommandPublisher with the schema so application code
// can commit messages without re-deriving offsets itself, per spec.md
// §4.10's "a provider wraps a CommandPublisher with a schema-generated
// encoder".
type Provider struct {
	sc  schema.Schema
	pub *cmdbus.Publisher
}

// Commit stamps msg's applicationId/applicationSequenceNumber via the
// publisher and frames it for send. Callers still fill in the message's
// own payload and (if associated with the event stream) leave the
// timestamp field for the sequencer to stamp on echo.
func (p *Provider) Commit(msg []byte) (uint32, error) {
	return p.pub.Commit(msg)
}

// Send flushes any packets Commit has built up.
func (p *Provider) Send() error {
	return p.pub.Send()
}

// IsCurrent reports whether every committed message has been confirmed by
// the event stream.
func (p *Provider) IsCurrent() bool {
	return p.pub.IsCurrent()
}

// Activate announces this provider's application as up.
func (p *Provider) Activate(vmName, commandPath string) error {
	return p.pub.Activate(vmName, commandPath)
}

// Deactivate announces this provider's application as down.
func (p *Provider) Deactivate(vmName, commandPath string) error {
	return p.pub.Deactivate(vmName, commandPath)
}

// Publisher returns the underlying CommandPublisher, for callers that need
// access beyond the Provider's narrow surface (e.g. registering OnEvent on
// a Dispatcher).
func (p *Provider) Publisher() *cmdbus.Publisher {
	return p.pub
}

// Client is BusClient (spec.md §4.10): the receiving side of the bus, plus
// zero or more command Providers an application uses to submit commands
// and observe their own confirmed echoes.
type Client struct {
	sess       *session.Session
	sc         schema.Schema
	dispatcher *dispatch.Dispatcher
	receiver   *eventbus.Receiver
	sched      *scheduler.Scheduler
	act        *activation.Activator

	providers map[string]*Provider
}

// NewClient returns a Client over an already-constructed EventReceiver; act
// is the same Activator passed to eventbus.NewReceiver for recv, so this facade can
// observe the connectivity loss AddCloseSessionListener watches for.
func NewClient(sess *session.Session, sc schema.Schema, d *dispatch.Dispatcher, recv *eventbus.Receiver, sched *scheduler.Scheduler, act *activation.Activator) *Client {
	return &Client{
		sess:       sess,
		sc:         sc,
		dispatcher: d,
		receiver:   recv,
		sched:      sched,
		act:        act,
		providers:  make(map[string]*Provider),
	}
}

// Schema returns the message schema this client was built against.
func (c *Client) Schema() schema.Schema {
	return c.sc
}

// Dispatcher returns the event dispatcher application listeners register
// against.
func (c *Client) Dispatcher() *dispatch.Dispatcher {
	return c.dispatcher
}

// Session returns the adopted session name, and whether one has been
// learned yet.
func (c *Client) Session() (string, bool) {
	return c.sess.Name()
}

// AddOpenSessionListener registers fn to run once, the instant the session
// name becomes known (or immediately, if already known).
func (c *Client) AddOpenSessionListener(fn session.Listener) {
	c.sess.AddOpenListener(fn)
}

// AddCloseSessionListener registers fn to run when this client's
// connectivity to the event stream is lost. Session names are immutable
// for their lifetime once learned (spec.md §3) - there is no "session
// closed" event at that layer - so this is wired to the EventReceiver's
// Activator instead, which is what actually observes connectivity loss
// (a critical read/rewind failure per spec.md §7).
func (c *Client) AddCloseSessionListener(fn func()) {
	c.act.OnStop(fn)
}

// Provider returns (creating if needed) the command Provider for appName.
// associated, when true, also registers the provider's CommandPublisher as
// a before-dispatch listener on the event dispatcher, so it observes its
// own confirmations as events arrive (spec.md §9's cyclic-reference
// resolution) - an unassociated provider is driven externally instead
// (e.g. a host that wants to observe confirmations itself).
func (c *Client) Provider(sender cmdbus.Sender, sched *scheduler.Scheduler, act *activation.Activator, appName string, associated bool) *Provider {
	if p, ok := c.providers[appName]; ok {
		return p
	}
	pub := cmdbus.NewPublisher(c.sess, c.sc, sender, sched, act, appName)
	if associated {
		c.dispatcher.AddBeforeListener(pub.OnEvent)
	}
	p := &Provider{sc: c.sc, pub: pub}
	c.providers[appName] = p
	return p
}
