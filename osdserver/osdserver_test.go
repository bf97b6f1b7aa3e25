package osdserver

import (
	"testing"
	"time"

	"github.com/redfish/redfish/msgr"
	"github.com/redfish/redfish/ostor"
	"github.com/redfish/redfish/wire"
)

const loopbackIP = uint32(127)<<24 | 1

func startServer(t *testing.T) uint16 {
	t.Helper()
	store, err := ostor.Open(t.TempDir(), 8, time.Minute)
	if err != nil {
		t.Fatalf("ostor.Open: %v", err)
	}
	t.Cleanup(store.Shutdown)

	srv := New(store)
	m := msgr.New(msgr.Config{})
	err = m.Listen(0, func(tr *msgr.Transactor, msg wire.Message) msgr.Callback {
		return func(tr *msgr.Transactor, ev msgr.Event, msg wire.Message, err error) {
			if ev == msgr.EventRecv {
				srv.Handle(tr, msg)
			}
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

func roundTrip(t *testing.T, client *msgr.Messenger, port uint16, req wire.Message) wire.Message {
	t.Helper()
	respCh := make(chan wire.Message, 1)
	client.Send(loopbackIP, port, req, func(tr *msgr.Transactor, ev msgr.Event, msg wire.Message, err error) {
		switch ev {
		case msgr.EventSent:
			tr.RecvNext()
		case msgr.EventRecv:
			respCh <- msg
			tr.Free()
		case msgr.EventError:
			tr.Free()
		}
	})
	select {
	case resp := <-respCh:
		return resp
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for response")
		return wire.Message{}
	}
}

func TestPutThenReadRoundTrip(t *testing.T) {
	port := startServer(t)

	client := msgr.New(msgr.Config{})
	if err := client.Start(); err != nil {
		t.Fatalf("client Start: %v", err)
	}
	defer client.Shutdown()

	putReq := wire.Message{
		Type:    wire.TypeOsdHflushReq,
		Payload: wire.EncodeOsdHflushReq(wire.OsdHflushReq{Cid: 42, Data: []byte("hello chunk")}),
	}
	resp := roundTrip(t, client, port, putReq)
	genResp, err := wire.DecodeGenericResp(resp.Payload)
	if err != nil {
		t.Fatalf("DecodeGenericResp: %v", err)
	}
	if genResp.Error != 0 {
		t.Fatalf("put error = %d, want 0", genResp.Error)
	}

	readReq := wire.Message{
		Type:    wire.TypeOsdReadReq,
		Payload: wire.EncodeOsdReadReq(wire.OsdReadReq{Cid: 42, Start: 0, Len: 11}),
	}
	resp = roundTrip(t, client, port, readReq)
	readResp, err := wire.DecodeOsdReadResp(resp.Payload)
	if err != nil {
		t.Fatalf("DecodeOsdReadResp: %v", err)
	}
	if readResp.Error != 0 {
		t.Fatalf("read error = %d, want 0", readResp.Error)
	}
	if string(readResp.Data) != "hello chunk" {
		t.Fatalf("read data = %q, want %q", readResp.Data, "hello chunk")
	}
}

func TestReadMissingChunkReportsError(t *testing.T) {
	port := startServer(t)

	client := msgr.New(msgr.Config{})
	if err := client.Start(); err != nil {
		t.Fatalf("client Start: %v", err)
	}
	defer client.Shutdown()

	readReq := wire.Message{
		Type:    wire.TypeOsdReadReq,
		Payload: wire.EncodeOsdReadReq(wire.OsdReadReq{Cid: 999, Start: 0, Len: 8}),
	}
	resp := roundTrip(t, client, port, readReq)
	readResp, err := wire.DecodeOsdReadResp(resp.Payload)
	if err != nil {
		t.Fatalf("DecodeOsdReadResp: %v", err)
	}
	if readResp.Error == 0 {
		t.Fatal("expected a nonzero error for a missing chunk")
	}
}
