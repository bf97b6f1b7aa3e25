package wire

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	m := &Message{TranID: 7, RemTranID: 0, Type: TypeLocateReq, Reserved: 0, Payload: []byte("hi")}
	buf := EncodeHeader(m)
	if len(buf) != HeaderSize {
		t.Fatalf("len(buf) = %d, want %d", len(buf), HeaderSize)
	}
	tranID, remTranID, length, typ, err := DecodeHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if tranID != 7 || remTranID != 0 || length != 2 || typ != TypeLocateReq {
		t.Fatalf("got (%d,%d,%d,%d)", tranID, remTranID, length, typ)
	}
}

func TestMkdirsReqRoundTrip(t *testing.T) {
	req := MkdirsReq{User: "alice", Path: "/a/b/c", Mode: 0755, Ctime: 1234567890}
	buf := EncodeMkdirsReq(req)
	got, err := DecodeMkdirsReq(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != req {
		t.Fatalf("got %+v, want %+v", got, req)
	}
}

func TestLocateRespRoundTrip(t *testing.T) {
	resp := LocateResp{
		Error: 0,
		Locs: []ChunkLoc{
			{Start: 0, Len: 4096, Endpoints: []Endpoint{{IP: 0x7f000001, Port: 8080}, {IP: 0x7f000001, Port: 8081}}},
			{Start: 4096, Len: 4096, Endpoints: []Endpoint{{IP: 0x7f000001, Port: 8082}}},
		},
	}
	buf := EncodeLocateResp(resp)
	got, err := DecodeLocateResp(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Locs) != 2 || len(got.Locs[0].Endpoints) != 2 || len(got.Locs[1].Endpoints) != 1 {
		t.Fatalf("got %+v", got)
	}
	if got.Locs[0].Endpoints[1].Port != 8081 {
		t.Fatalf("unexpected endpoint: %+v", got.Locs[0].Endpoints[1])
	}
}

func TestOsdHflushReqRoundTrip(t *testing.T) {
	req := OsdHflushReq{Cid: 123, Flags: HflushNone, Data: []byte("payload")}
	buf := EncodeOsdHflushReq(req)
	got, err := DecodeOsdHflushReq(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Cid != req.Cid || !bytes.Equal(got.Data, req.Data) {
		t.Fatalf("got %+v", got)
	}
}

func TestOsdReadRespTrailingData(t *testing.T) {
	resp := OsdReadResp{Error: 0, Data: []byte("0123456789")}
	buf := EncodeOsdReadResp(resp)
	got, err := DecodeOsdReadResp(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Data, resp.Data) {
		t.Fatalf("got %q, want %q", got.Data, resp.Data)
	}
}

func TestGenericRespIsPrefixOfEveryResponse(t *testing.T) {
	statBuf := EncodeStatResp(StatResp{Error: -2})
	generic, err := DecodeGenericResp(statBuf[:4])
	if err != nil {
		t.Fatal(err)
	}
	if generic.Error != -2 {
		t.Fatalf("generic.Error = %d, want -2", generic.Error)
	}
}
