package bsend

import (
	"testing"
	"time"

	"github.com/redfish/redfish/msgr"
	"github.com/redfish/redfish/wire"
)

const loopbackIP = uint32(127)<<24 | 1

// startEchoServer listens on an OS-assigned ephemeral port so tests in
// this package can run in parallel without colliding on a fixed port.
func startEchoServer(t *testing.T) uint16 {
	t.Helper()
	m := msgr.New(msgr.Config{})
	err := m.Listen(0, func(tr *msgr.Transactor, msg wire.Message) msgr.Callback {
		return func(tr *msgr.Transactor, ev msgr.Event, msg wire.Message, err error) {
			if ev != msgr.EventRecv {
				return
			}
			tr.SendNext(wire.Message{Type: wire.TypeGenericResp, Payload: wire.EncodeGenericResp(wire.GenericResp{Error: 0})})
		}
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(m.Shutdown)
	return m.Port()
}

func TestAddJoinGetExpectResponse(t *testing.T) {
	port := startEchoServer(t)

	client := msgr.New(msgr.Config{})
	if err := client.Start(); err != nil {
		t.Fatalf("client Start: %v", err)
	}
	defer client.Shutdown()

	b := New(nil, 4, 5)
	req := wire.Message{Type: wire.TypeStatReq, Payload: wire.EncodeStatReq(wire.StatReq{User: "alice", Path: "/"})}
	if err := b.Add(client, ExpectResponse, req, loopbackIP, port); err != nil {
		t.Fatalf("Add: %v", err)
	}

	done := make(chan struct{})
	var n int
	var joinErr error
	go func() {
		n, joinErr = b.Join()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Join never returned")
	}
	if joinErr != nil {
		t.Fatalf("Join: %v", joinErr)
	}
	if n != 1 {
		t.Fatalf("n = %d, want 1", n)
	}

	msg, err := b.Get(0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp, decErr := wire.DecodeGenericResp(msg.Payload)
	if decErr != nil {
		t.Fatalf("DecodeGenericResp: %v", decErr)
	}
	if resp.Error != 0 {
		t.Fatalf("resp.Error = %d, want 0", resp.Error)
	}
}

func TestCancelMarksOutstandingTransactorsCancelled(t *testing.T) {
	client := msgr.New(msgr.Config{})
	if err := client.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer client.Shutdown()

	b := New(nil, 4, 5)
	// Port 1 has nobody listening; the RPC will never complete on its own.
	req := wire.Message{Type: wire.TypeStatReq}
	if err := b.Add(client, ExpectResponse, req, loopbackIP, 1); err != nil {
		t.Fatalf("Add: %v", err)
	}

	b.Cancel()

	n, err := b.Join()
	if err == nil {
		t.Fatal("expected Join to report cancellation")
	}
	if n != 1 {
		t.Fatalf("n = %d, want 1", n)
	}
	_, getErr := b.Get(0)
	if getErr == nil {
		t.Fatal("expected Get to report the cancellation error")
	}
}

func TestCancelJoinResetTreatsLateCallbackAsStale(t *testing.T) {
	port := startEchoServer(t)

	client := msgr.New(msgr.Config{})
	if err := client.Start(); err != nil {
		t.Fatalf("client Start: %v", err)
	}
	defer client.Shutdown()

	b := New(nil, 4, 5)
	req := wire.Message{Type: wire.TypeStatReq, Payload: wire.EncodeStatReq(wire.StatReq{User: "alice", Path: "/"})}
	if err := b.Add(client, ExpectResponse, req, loopbackIP, port); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Cancel, Join and Reset right away, before the echo server's real
	// reply has had any chance to land. The real completion still
	// arrives later on the messenger's event-loop goroutine, driving
	// this same transactor's callback against a batch that's already
	// moved on to a new generation.
	b.Cancel()
	if _, err := b.Join(); err == nil {
		t.Fatal("expected Join to report cancellation")
	}
	b.Reset()

	// Give the stale completion time to arrive. Before the generation
	// guard this indexed into the btrs slice Reset had already wiped
	// and panicked on the messenger's single event-loop goroutine,
	// taking the whole process down with it.
	time.Sleep(200 * time.Millisecond)
}

func TestAddRejectsOverCapacity(t *testing.T) {
	client := msgr.New(msgr.Config{})
	if err := client.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer client.Shutdown()

	b := New(nil, 1, 5)
	req := wire.Message{Type: wire.TypeStatReq}
	if err := b.Add(client, 0, req, loopbackIP, 1); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := b.Add(client, 0, req, loopbackIP, 1); err == nil {
		t.Fatal("expected second Add to fail over capacity")
	}
}
