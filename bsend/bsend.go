// Package bsend lets a worker goroutine fan out a batch of RPCs over a
// Messenger and block until every one of them finishes or the batch is
// cancelled, with a single shared cancellation flag for the whole
// batch.
package bsend

import (
	"sync"

	"github.com/redfish/redfish/fastlog"
	"github.com/redfish/redfish/metrics"
	"github.com/redfish/redfish/msgr"
	"github.com/redfish/redfish/rerr"
	"github.com/redfish/redfish/wire"
)

// Flags controls how an added transactor completes.
type Flags uint8

// ExpectResponse marks a transactor as completing only once a response
// has been received, rather than as soon as the request is sent.
const ExpectResponse Flags = 1 << 0

// btran is one slot in the batch: the transactor plus the result it
// ends up holding (a message on success, an error otherwise).
type btran struct {
	tr    *msgr.Transactor
	flags Flags
	msg   wire.Message
	err   error
}

// Bsend is one blocking-RPC batch context. Not safe for concurrent use
// by more than one joining goroutine; Cancel may be called from any
// goroutine.
type Bsend struct {
	fastLog *fastlog.Buf
	maxTr   int
	timeout int
	metrics *metrics.Metrics

	mu          sync.Mutex
	cond        *sync.Cond
	btrs        []btran
	numFinished int
	cancelled   bool

	// generation is bumped by Reset. A callback captures the generation
	// in effect when it was added; if that no longer matches by the
	// time the real event fires, the batch it belonged to is gone and
	// the callback must not touch btrs.
	generation uint64
}

// New creates a batch context that can hold up to maxTr transactors at
// once. timeout (seconds) is stored but not enforced: Add takes no
// deadline and bsend starts no timer, so Join returns only once every
// transactor has completed (successfully or with a connection error)
// or Cancel has been called.
func New(fastLog *fastlog.Buf, maxTr int, timeout int) *Bsend {
	if fastLog == nil {
		fastLog = fastlog.New("bsend")
	}
	b := &Bsend{fastLog: fastLog, maxTr: maxTr, timeout: timeout}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// SetMetrics attaches the counters this batch context updates as RPCs
// complete. Nil disables metrics recording.
func (b *Bsend) SetMetrics(m *metrics.Metrics) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = m
}

// Add allocates a fresh transactor, sends msg to (ip, port) over m, and
// adds it to the batch. If flags has ExpectResponse set, the
// transactor completes once a reply is received; otherwise it
// completes as soon as the request has been sent.
func (b *Bsend) Add(m *msgr.Messenger, flags Flags, msg wire.Message, ip uint32, port uint16) error {
	b.mu.Lock()
	if len(b.btrs) >= b.maxTr {
		b.mu.Unlock()
		return rerr.New("bsend.Add", rerr.TooManyFiles, "too many transactors in this batch")
	}
	if b.cancelled {
		b.mu.Unlock()
		return rerr.New("bsend.Add", rerr.Canceled, "batch already cancelled")
	}
	gen := b.generation
	idx := len(b.btrs)
	b.btrs = append(b.btrs, btran{flags: flags})
	b.mu.Unlock()

	tr := m.Send(ip, port, msg, b.callbackFor(gen, idx, flags))
	b.mu.Lock()
	if gen == b.generation && idx < len(b.btrs) {
		b.btrs[idx].tr = tr
	}
	b.mu.Unlock()
	b.fastLog.Log(fastlog.TranAllocated, uint64(ip), uint64(port), uint64(flags))
	return nil
}

// callbackFor closes over the generation the transactor was added
// under, not just its index, so that a late event arriving after the
// batch has moved on to Reset (or after it's been cancelled) is
// recognized as stale instead of indexing into a slice that's since
// been cleared or reused.
func (b *Bsend) callbackFor(gen uint64, idx int, flags Flags) msgr.Callback {
	return func(tr *msgr.Transactor, ev msgr.Event, msg wire.Message, err error) {
		switch ev {
		case msgr.EventSent:
			if flags&ExpectResponse != 0 && !b.settled(gen) {
				tr.RecvNext()
				return
			}
			b.complete(gen, idx, msg, nil)
			tr.Free()
		case msgr.EventRecv:
			b.complete(gen, idx, msg, nil)
			tr.Free()
		case msgr.EventError:
			b.complete(gen, idx, wire.Message{}, err)
			tr.Free()
		}
	}
}

// settled reports whether the batch gen belonged to has already been
// decided, either by Reset starting a new generation or by Cancel. A
// transactor whose batch is settled has nothing left to wait for, so
// its callback frees it immediately instead of arming RecvNext.
func (b *Bsend) settled(gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return gen != b.generation || b.cancelled
}

func (b *Bsend) complete(gen uint64, idx int, msg wire.Message, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.generation {
		// Reset already tore down the batch this transactor belonged
		// to; b.btrs may be nil or hold an unrelated batch now.
		return
	}
	if b.cancelled {
		// Cancel already gave every slot its final Canceled result.
		return
	}
	if idx >= len(b.btrs) {
		return
	}
	b.btrs[idx].msg = msg
	b.btrs[idx].err = err
	b.numFinished++
	if b.numFinished == len(b.btrs) {
		b.cond.Broadcast()
	}
	if b.metrics != nil {
		switch {
		case err == nil:
			b.metrics.RPCsSent.Add(1)
		case rerr.Is(err, rerr.Timedout):
			b.metrics.RPCsTimedOut.Add(1)
		}
	}
}

// Join blocks until every added transactor has completed or the batch
// has been cancelled, and returns the number of transactors that were
// added.
func (b *Bsend) Join() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if b.cancelled {
			return len(b.btrs), rerr.New("bsend.Join", rerr.Canceled, "batch cancelled")
		}
		if b.numFinished == len(b.btrs) {
			return len(b.btrs), nil
		}
		b.cond.Wait()
	}
}

// Get returns the i-th transactor's result after Join: either the
// message it received (or the empty message, if it completed at Sent
// with ExpectResponse unset) or the error it failed with.
func (b *Bsend) Get(i int) (wire.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i >= len(b.btrs) {
		return wire.Message{}, rerr.New("bsend.Get", rerr.Invalid, "index out of range")
	}
	return b.btrs[i].msg, b.btrs[i].err
}

// Reset frees every transactor slot and prepares the context for a new
// batch. Must not be called while transactors are still outstanding.
func (b *Bsend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.numFinished != len(b.btrs) && !b.cancelled {
		panic("bsend: Reset called with transactors still outstanding")
	}
	b.btrs = nil
	b.numFinished = 0
	b.cancelled = false
	b.generation++
	b.fastLog.Log(fastlog.TranFreed, 0, 0, 0)
}

// Cancel marks the batch cancelled, wakes any joiner, and makes every
// outstanding transactor's result read as Canceled — including ones
// that had already completed successfully, so the whole batch fails
// atomically together. Transactors still in flight with the messenger
// aren't freed here (Free is only legal from the event-loop goroutine
// that owns them); instead settled makes their eventual callback free
// them on arrival instead of arming RecvNext, so every one is still
// detached, just not synchronously with Cancel.
func (b *Bsend) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelled {
		return
	}
	b.cancelled = true
	cancelErr := rerr.New("bsend", rerr.Canceled, "batch cancelled")
	uncancelled := len(b.btrs) - b.numFinished
	for i := range b.btrs {
		b.btrs[i].err = cancelErr
		b.btrs[i].msg = wire.Message{}
	}
	b.numFinished = len(b.btrs)
	b.cond.Broadcast()
	if b.metrics != nil && uncancelled > 0 {
		b.metrics.RPCsCanceled.Add(uint64(uncancelled))
	}
}
