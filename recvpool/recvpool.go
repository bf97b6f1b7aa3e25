// Package recvpool runs a fixed set of worker goroutines that each
// call a handler for every inbound transactor handed to the messenger,
// so that a slow or blocking handler (e.g. one that performs its own
// RPC round trip via bsend) never stalls the event-loop goroutine.
package recvpool

import (
	"sync"

	"github.com/redfish/redfish/msgr"
	"github.com/redfish/redfish/wire"
)

// Handler processes one inbound transactor. It typically ends by
// calling exactly one of tr.SendNext, tr.RecvNext, or tr.Free.
type Handler func(tr *msgr.Transactor, msg wire.Message)

type item struct {
	tr  *msgr.Transactor
	msg wire.Message
}

// Pool is a fixed-size worker pool draining a shared queue of inbound
// transactors. The pool does not grow; a burst of inbound work queues
// up rather than spawning more goroutines, matching the bounded
// worker-count shape used elsewhere in this system.
type Pool struct {
	handler Handler

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []item
	canceled bool

	wg sync.WaitGroup
}

// New starts numWorkers goroutines, each pulling from a shared queue
// and invoking handler for every item pushed with Push.
func New(numWorkers int, handler Handler) *Pool {
	p := &Pool{handler: handler}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Push enqueues an inbound transactor for a worker to pick up. Safe to
// call from the messenger's event-loop callback.
func (p *Pool) Push(tr *msgr.Transactor, msg wire.Message) {
	p.mu.Lock()
	p.queue = append(p.queue, item{tr: tr, msg: msg})
	p.cond.Signal()
	p.mu.Unlock()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.canceled {
			p.cond.Wait()
		}
		if p.canceled && len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		it := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.handler(it.tr, it.msg)
	}
}

// Join flips the cancel flag, wakes every worker, and waits for them to
// drain the queue and exit.
func (p *Pool) Join() {
	p.mu.Lock()
	p.canceled = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}
