package msgr

import (
	"sync"
	"testing"
	"time"

	"github.com/redfish/redfish/wire"
)

const loopbackIP = uint32(127)<<24 | 1

func TestPingPongRoundTrip(t *testing.T) {
	server := New(Config{})
	var gotPayload []byte
	serverDone := make(chan struct{})
	err := server.Listen(0, func(tr *Transactor, msg wire.Message) Callback {
		return func(tr *Transactor, ev Event, msg wire.Message, err error) {
			if ev != EventRecv {
				return
			}
			gotPayload = msg.Payload
			close(serverDone)
			tr.SendNext(wire.Message{Type: wire.TypeGenericResp, Payload: wire.EncodeGenericResp(wire.GenericResp{Error: 0})})
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

	client := New(Config{})
	if err := client.Start(); err != nil {
		t.Fatalf("client Start: %v", err)
	}
	defer client.Shutdown()

	clientDone := make(chan wire.GenericResp, 1)
	req := wire.Message{Type: wire.TypeMkdirsReq, Payload: wire.EncodeMkdirsReq(wire.MkdirsReq{User: "alice", Path: "/a", Mode: 0755})}
	client.Send(loopbackIP, port, req, func(tr *Transactor, ev Event, msg wire.Message, err error) {
		switch ev {
		case EventSent:
			tr.RecvNext()
		case EventRecv:
			resp, _ := wire.DecodeGenericResp(msg.Payload)
			clientDone <- resp
			tr.Free()
		case EventError:
			clientDone <- wire.GenericResp{Error: -1}
		}
	})

	select {
	case resp := <-clientDone:
		if resp.Error != 0 {
			t.Fatalf("unexpected error response: %d", resp.Error)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for round trip")
	}

	select {
	case <-serverDone:
	case <-time.After(time.Second):
		t.Fatal("server never observed the request")
	}
	if string(gotPayload) == "" {
		t.Fatal("server saw an empty payload")
	}
}

func TestShutdownCancelsOutstandingTransactors(t *testing.T) {
	m := New(Config{})
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var mu sync.Mutex
	var gotErr error
	var wg sync.WaitGroup
	wg.Add(1)
	m.Send(loopbackIP, 1, wire.Message{Type: wire.TypeStatReq}, func(tr *Transactor, ev Event, msg wire.Message, err error) {
		if ev == EventError {
			mu.Lock()
			gotErr = err
			mu.Unlock()
			wg.Done()
		}
	})

	// Give the dial attempt (which will likely fail or hang against a
	// closed port) a moment to land in the pending/connecting state
	// before shutting down.
	time.Sleep(50 * time.Millisecond)
	m.Shutdown()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if gotErr == nil {
		t.Fatal("expected a non-nil error on shutdown")
	}
}
