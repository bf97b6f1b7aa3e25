package recvpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redfish/redfish/msgr"
	"github.com/redfish/redfish/wire"
)

const loopbackIP = uint32(127)<<24 | 1

func TestPoolProcessesPushedTransactors(t *testing.T) {
	const n = 20
	var processed atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)

	pool := New(4, func(tr *msgr.Transactor, msg wire.Message) {
		processed.Add(1)
		tr.Free()
		wg.Done()
	})
	defer pool.Join()

	server := msgr.New(msgr.Config{})
	err := server.Listen(0, func(tr *msgr.Transactor, msg wire.Message) msgr.Callback {
		return func(tr *msgr.Transactor, ev msgr.Event, msg wire.Message, err error) {
			if ev == msgr.EventRecv {
				pool.Push(tr, msg)
			}
		}
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("server Start: %v", err)
	}
	defer server.Shutdown()
	port := server.Port()

	client := msgr.New(msgr.Config{})
	if err := client.Start(); err != nil {
		t.Fatalf("client Start: %v", err)
	}
	defer client.Shutdown()

	for i := 0; i < n; i++ {
		client.Send(loopbackIP, port, wire.Message{Type: wire.TypeStatReq}, func(tr *msgr.Transactor, ev msgr.Event, msg wire.Message, err error) {
			if ev == msgr.EventSent {
				tr.Free()
			}
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("only processed %d/%d transactors before timeout", processed.Load(), n)
	}
	if got := processed.Load(); got != n {
		t.Fatalf("processed = %d, want %d", got, n)
	}
}
