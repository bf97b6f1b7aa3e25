package msgr

import (
	"github.com/redfish/redfish/wire"
)

// connState is the per-connection state machine driven by the event
// loop.
type connState int

const (
	stateConnecting connState = iota
	stateQuiescent
	stateWriting
	stateAwaitingHeader
	stateReadingHeader
	stateReadingBody
)

// conn wraps one TCP connection owned by the event loop. Every field is
// touched only from the event-loop goroutine; cross-goroutine access
// goes through the pending queue and the notifier pipe.
type conn struct {
	fd       int
	peerIP   uint32
	peerPort uint16

	state connState

	// outbound
	pending   []*outboundMsg
	writeBuf  []byte
	writeOff  int

	// inbound
	readBuf    []byte
	readOff    int
	readHeader [wire.HeaderSize]byte

	activeTr map[uint32]*transactor

	// pending* describe the transactor/type/remote-id for the body
	// currently being read, set once the header has been decoded.
	pendingTr    *transactor
	pendingType  wire.Type
	pendingRemID uint32

	idleCount int
}

type outboundMsg struct {
	tr      *transactor
	msg     wire.Message
	encoded []byte
}

func peerKey(ip uint32, port uint16) uint64 {
	return uint64(ip)<<16 | uint64(port)
}
