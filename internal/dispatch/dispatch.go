// Package dispatch implements the message-dispatch pipeline spec.md §9
// calls for: "a small trie or hash over the name bytes; avoid
// class-hierarchy modeling". Listeners are data, not a type hierarchy.
//
// Grounded on xtaci-kcptun/vendor/.../smux/mux.go's cmd-byte-keyed
// frame dispatch (a switch over a small fixed command byte), generalized
// here to an arbitrary-length name key since this protocol's messages
// aren't limited to a handful of wire commands.
package dispatch

// Listener receives a message body delivered in strict sessionSequenceNumber
// order. seq is the assigned sessionSequenceNumber (0 if not applicable,
// e.g. for raw command bodies on the CommandReceiver side).
type Listener func(seq uint64, msg []byte)

// Dispatcher fans a delivered message out to every registered listener,
// plus the "before-dispatch" listeners spec.md §9 uses to resolve the
// EventReceiver/CommandPublisher cyclic reference without an ownership
// cycle: the publisher registers a before-dispatch listener on the
// receiver's dispatcher instead of the receiver depending on the publisher.
type Dispatcher struct {
	before []Listener
	all    []Listener
	byName map[string][]Listener
}

// New returns an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{byName: make(map[string][]Listener)}
}

// AddBeforeListener registers fn to run before any by-name or catch-all
// listener, for every delivered message.
func (d *Dispatcher) AddBeforeListener(fn Listener) {
	d.before = append(d.before, fn)
}

// AddListener registers fn to run for every delivered message, after the
// before-dispatch listeners.
func (d *Dispatcher) AddListener(fn Listener) {
	d.all = append(d.all, fn)
}

// AddNamedListener registers fn to run only for messages whose schema-
// derived name equals name.
func (d *Dispatcher) AddNamedListener(name string, fn Listener) {
	d.byName[name] = append(d.byName[name], fn)
}

// Dispatch delivers msg (assigned sessionSequenceNumber seq) to every
// before-dispatch listener, then every catch-all listener, then any
// listeners registered for name. name may be empty if the caller has no
// schema-derived name (e.g. CommandReceiver delivering raw bodies).
func (d *Dispatcher) Dispatch(seq uint64, name string, msg []byte) {
	for _, fn := range d.before {
		fn(seq, msg)
	}
	for _, fn := range d.all {
		fn(seq, msg)
	}
	if name == "" {
		return
	}
	for _, fn := range d.byName[name] {
		fn(seq, msg)
	}
}
