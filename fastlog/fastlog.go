// Package fastlog implements a lock-free, fixed-size circular log
// intended to be active at all times in production: each goroutine that
// wants to record high-frequency trace events (connection state
// transitions, transactor allocation, timeouts) gets its own ring, and a
// crash handler or monitor request can dump every registered ring
// through a caller-supplied line writer. Copying a ring out uses
// preallocated scratch space and does not allocate; formatting each
// record as a text line (fmt.Sprintf) does.
//
// Entries are fixed size (32 bytes, matching the original's on-the-wire
// fast_log_entry layout): a 2-byte type code and three 8-byte
// type-specific payload fields, padded to 32 bytes. Records are
// rendered as human-readable text via Describe.
package fastlog

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// EntrySize is the fixed size of every fast-log record, mirroring the
// original's packed, 8-byte-aligned fast_log_entry struct.
const EntrySize = 32

// Type codes, one per distinct event the messenger/bsend/ostor layers
// care about recording on the hot path.
type Type uint16

const (
	TypeNone Type = iota
	TranNonesuch
	TranMultiConn
	ConnTimedOut
	ConnEstablished
	ConnTornDown
	TranAllocated
	TranFreed
)

func (t Type) String() string {
	switch t {
	case TranNonesuch:
		return "MTRAN_NONESUCH"
	case TranMultiConn:
		return "MTRAN_MULTI_CONN"
	case ConnTimedOut:
		return "CONN_TIMED_OUT"
	case ConnEstablished:
		return "CONN_ESTABLISHED"
	case ConnTornDown:
		return "CONN_TORN_DOWN"
	case TranAllocated:
		return "TRAN_ALLOCATED"
	case TranFreed:
		return "TRAN_FREED"
	default:
		return "UNKNOWN"
	}
}

// Record is one fast-log entry, decoded.
type Record struct {
	Type Type
	A    uint64
	B    uint64
	C    uint64
}

// Describe renders a Record as a single human-readable line, without
// allocating beyond what fmt.Sprintf itself needs (the dump path calls
// this only outside of the signal-safe ring copy, never during it).
func (r Record) Describe() string {
	return fmt.Sprintf("%s a=%d b=%d c=%d", r.Type, r.A, r.B, r.C)
}

// ringSize is the number of entries held per buffer. Old entries are
// overwritten once the ring wraps; fast_log trades history depth for a
// guarantee of O(1), allocation-free writes.
const ringSize = 1024

// Buf is a single goroutine's fast-log ring. The zero value is not
// usable; construct with New.
type Buf struct {
	name    string
	entries [ringSize]Record
	next    atomic.Uint64
}

// New allocates a named fast-log buffer and registers it with the
// default Manager so that DumpAll picks it up.
func New(name string) *Buf {
	b := &Buf{name: name}
	defaultManager.register(b)
	return b
}

// Log appends a record. Safe for exactly one writer goroutine; readers
// (DumpAll) may race with the writer and can observe a torn entry, which
// is acceptable for a best-effort diagnostic dump.
func (b *Buf) Log(t Type, a, b2, c uint64) {
	idx := b.next.Add(1) - 1
	slot := &b.entries[idx%ringSize]
	slot.Type = t
	slot.A = a
	slot.B = b2
	slot.C = c
}

// snapshot copies up to ringSize most-recent entries into dst, which the
// caller preallocates (see Manager.DumpAll). No allocation happens here.
func (b *Buf) snapshot(dst []Record) []Record {
	n := b.next.Load()
	count := ringSize
	if n < ringSize {
		count = int(n)
	}
	dst = dst[:0]
	for i := 0; i < count; i++ {
		idx := (n - uint64(count) + uint64(i)) % ringSize
		dst = append(dst, b.entries[idx])
	}
	return dst
}

// Manager tracks every registered Buf and performs signal-safe dumps.
// Scratch space for the dump is preallocated once at construction, per
// the "signal-safe dump" design note: the dump path never calls make or
// append growth beyond that preallocated capacity.
type Manager struct {
	mu      sync.Mutex
	bufs    []*Buf
	scratch []Record
}

// NewManager creates a Manager with scratch space sized for the busiest
// single ring (ringSize entries); DumpAll reuses it for every buffer in
// turn.
func NewManager() *Manager {
	return &Manager{scratch: make([]Record, 0, ringSize)}
}

var defaultManager = NewManager()

// DefaultManager returns the process-wide fast-log manager that New
// registers buffers with.
func DefaultManager() *Manager { return defaultManager }

func (m *Manager) register(b *Buf) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bufs = append(m.bufs, b)
}

// DumpAll writes every registered buffer's recent history to w, prefixed
// by its name. Uses the manager's preallocated scratch buffer, so no
// allocation occurs on the copy-out path itself.
func (m *Manager) DumpAll(w func(line string)) {
	m.mu.Lock()
	bufs := m.bufs
	m.mu.Unlock()

	for _, b := range bufs {
		m.scratch = b.snapshot(m.scratch)
		w(fmt.Sprintf("=== fast_log %s ===", b.name))
		for _, rec := range m.scratch {
			w(rec.Describe())
		}
	}
}
