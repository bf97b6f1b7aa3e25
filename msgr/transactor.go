package msgr

import "github.com/redfish/redfish/wire"

// Event is delivered to a Callback exactly once per invocation,
// describing what just happened to the transactor.
type Event int

const (
	// EventSent fires once an outbound message has been fully written.
	EventSent Event = iota
	// EventRecv fires once an inbound message has been fully read.
	EventRecv
	// EventError fires when the connection carrying this transactor is
	// torn down (timeout, reset, or shutdown) before completion.
	EventError
)

// Callback is invoked from the event-loop goroutine. Inside the
// callback the application may call EXACTLY ONE of SendNext, RecvNext,
// or Free on the Transactor passed in.
type Callback func(tr *Transactor, ev Event, msg wire.Message, err error)

// AcceptCallback runs for the first inbound message on a newly
// accepted connection; it picks the Callback that will drive the rest
// of that transactor's life.
type AcceptCallback func(tr *Transactor, msg wire.Message) Callback

// transactor is the event-loop-private bookkeeping for one RPC
// exchange; Transactor is the handle exposed to application code.
type transactor struct {
	id       uint32
	remoteID uint32
	c        *conn
	cb       Callback

	// acted records whether the callback has already made its
	// exactly-once disposition call, to catch misuse.
	acted bool
	freed bool
}

// Transactor is the caller-visible handle for one in-flight RPC.
type Transactor struct {
	t *transactor
	m *Messenger
}

// ID returns the transactor's locally-assigned id, echoed on the wire
// as tran_id/rem_tran_id depending on direction.
func (tr *Transactor) ID() uint32 { return tr.t.id }

// SendNext queues another outbound message on the same connection that
// carried this transactor. Legal only from inside the Callback.
func (tr *Transactor) SendNext(msg wire.Message) {
	tr.m.sendNextLocked(tr.t, msg)
}

// RecvNext keeps the transactor active, expecting another inbound
// message on the same connection. Legal only from inside the Callback.
func (tr *Transactor) RecvNext() {
	tr.m.recvNextLocked(tr.t)
}

// Free releases the transactor. Legal only from inside the Callback.
func (tr *Transactor) Free() {
	tr.m.freeLocked(tr.t)
}
