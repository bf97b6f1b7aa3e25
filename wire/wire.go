// Package wire defines the on-the-wire message framing and the typed
// request/response payloads exchanged between clients, MDSes, and OSDs.
// Framing is the stable part of the protocol; payload encoding is the
// hand-rolled big-endian layout described alongside each message type
// (a real deployment would drive this from a schema compiler, per the
// wire-format-evolution design note, but the framing header itself never
// changes shape).
package wire

import "github.com/redfish/redfish/pack"

// HeaderSize is the fixed size of a Message header:
// tran_id(4) + rem_tran_id(4) + len(4) + type(2) + reserved(2).
const HeaderSize = 4 + 4 + 4 + 2 + 2

// Message is one framed wire message: a transactor-routing header plus
// an opaque, type-tagged payload.
type Message struct {
	TranID    uint32
	RemTranID uint32
	Type      Type
	Reserved  uint16
	Payload   []byte
}

// Type is the message's integer type tag.
type Type uint16

const (
	TypeMkdirsReq Type = iota + 1
	TypeGenericResp
	TypeLocateReq
	TypeLocateResp
	TypeStatReq
	TypeStatResp
	TypeOsdHflushReq
	TypeOsdPutChunkReq
	TypeOsdReadReq
	TypeOsdReadResp
	TypeGetMdsStatusReq
	TypeMdsStatusResp
)

// EncodeHeader writes a Message's header (not including payload) into a
// HeaderSize-byte buffer.
func EncodeHeader(m *Message) []byte {
	w := pack.NewWriter(HeaderSize)
	w.PutUint32(m.TranID)
	w.PutUint32(m.RemTranID)
	w.PutUint32(uint32(len(m.Payload)))
	w.PutUint16(uint16(m.Type))
	w.PutUint16(m.Reserved)
	return w.Bytes()
}

// DecodeHeader parses a HeaderSize-byte buffer into tran_id, rem_tran_id,
// payload length, and type; it does not touch the payload itself (the
// messenger reads headers and bodies in separate I/O steps).
func DecodeHeader(buf []byte) (tranID, remTranID, length uint32, typ Type, err error) {
	r := pack.NewReader(buf)
	tranID = r.Uint32()
	remTranID = r.Uint32()
	length = r.Uint32()
	typ = Type(r.Uint16())
	_ = r.Uint16() // reserved
	return tranID, remTranID, length, typ, r.Err()
}

// GenericResp is the shared response prefix: every reply begins with a
// signed error field so a caller can decode "did this fail" without
// knowing the specific response type.
type GenericResp struct {
	Error int32
}

func EncodeGenericResp(r GenericResp) []byte {
	w := pack.NewWriter(4)
	w.PutUint32(uint32(r.Error))
	return w.Bytes()
}

func DecodeGenericResp(buf []byte) (GenericResp, error) {
	r := pack.NewReader(buf)
	resp := GenericResp{Error: int32(r.Uint32())}
	return resp, r.Err()
}

// MkdirsReq requests recursive directory creation.
type MkdirsReq struct {
	User  string
	Path  string
	Mode  uint16
	Ctime int64
}

func EncodeMkdirsReq(r MkdirsReq) []byte {
	w := pack.NewWriter(64)
	w.PutString(r.User)
	w.PutString(r.Path)
	w.PutUint16(r.Mode)
	w.PutUint64(uint64(r.Ctime))
	return w.Bytes()
}

func DecodeMkdirsReq(buf []byte) (MkdirsReq, error) {
	r := pack.NewReader(buf)
	req := MkdirsReq{
		User: r.String(),
		Path: r.String(),
		Mode: r.Uint16(),
	}
	req.Ctime = int64(r.Uint64())
	return req, r.Err()
}

// Endpoint addresses a daemon.
type Endpoint struct {
	IP   uint32
	Port uint16
}

// ChunkLoc describes where one byte range of a file lives.
type ChunkLoc struct {
	Start     uint64
	Len       uint64
	Endpoints []Endpoint
}

// LocateReq asks an MDS for the chunk locations backing a byte range.
type LocateReq struct {
	User  string
	Path  string
	Start uint64
	Len   uint64
}

func EncodeLocateReq(r LocateReq) []byte {
	w := pack.NewWriter(64)
	w.PutString(r.User)
	w.PutString(r.Path)
	w.PutUint64(r.Start)
	w.PutUint64(r.Len)
	return w.Bytes()
}

func DecodeLocateReq(buf []byte) (LocateReq, error) {
	r := pack.NewReader(buf)
	req := LocateReq{User: r.String(), Path: r.String()}
	req.Start = r.Uint64()
	req.Len = r.Uint64()
	return req, r.Err()
}

// LocateResp answers a LocateReq.
type LocateResp struct {
	Error int32
	Locs  []ChunkLoc
}

func EncodeLocateResp(r LocateResp) []byte {
	w := pack.NewWriter(64)
	w.PutUint32(uint32(r.Error))
	w.PutUint32(uint32(len(r.Locs)))
	for _, loc := range r.Locs {
		w.PutUint64(loc.Start)
		w.PutUint64(loc.Len)
		w.PutUint32(uint32(len(loc.Endpoints)))
		for _, ep := range loc.Endpoints {
			w.PutUint32(ep.IP)
			w.PutUint16(ep.Port)
		}
	}
	return w.Bytes()
}

func DecodeLocateResp(buf []byte) (LocateResp, error) {
	r := pack.NewReader(buf)
	resp := LocateResp{Error: int32(r.Uint32())}
	n := r.Uint32()
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		loc := ChunkLoc{Start: r.Uint64(), Len: r.Uint64()}
		numEp := r.Uint32()
		for j := uint32(0); j < numEp && r.Err() == nil; j++ {
			loc.Endpoints = append(loc.Endpoints, Endpoint{IP: r.Uint32(), Port: r.Uint16()})
		}
		resp.Locs = append(resp.Locs, loc)
	}
	return resp, r.Err()
}

// StatReq requests a node's metadata.
type StatReq struct {
	User string
	Path string
}

func EncodeStatReq(r StatReq) []byte {
	w := pack.NewWriter(32)
	w.PutString(r.User)
	w.PutString(r.Path)
	return w.Bytes()
}

func DecodeStatReq(buf []byte) (StatReq, error) {
	r := pack.NewReader(buf)
	req := StatReq{User: r.String(), Path: r.String()}
	return req, r.Err()
}

// Stat describes a node's metadata.
type Stat struct {
	Length      uint64
	ModeAndType uint16
	Mtime       int64
	Atime       int64
	Owner       string
	Group       string
	BlockSz     uint32
	Replication uint16
	NodeID      uint64
}

type StatResp struct {
	Error int32
	Stat  Stat
}

func EncodeStatResp(r StatResp) []byte {
	w := pack.NewWriter(64)
	w.PutUint32(uint32(r.Error))
	w.PutUint64(r.Stat.Length)
	w.PutUint16(r.Stat.ModeAndType)
	w.PutUint64(uint64(r.Stat.Mtime))
	w.PutUint64(uint64(r.Stat.Atime))
	w.PutString(r.Stat.Owner)
	w.PutString(r.Stat.Group)
	w.PutUint32(r.Stat.BlockSz)
	w.PutUint16(r.Stat.Replication)
	w.PutUint64(r.Stat.NodeID)
	return w.Bytes()
}

func DecodeStatResp(buf []byte) (StatResp, error) {
	r := pack.NewReader(buf)
	resp := StatResp{Error: int32(r.Uint32())}
	resp.Stat.Length = r.Uint64()
	resp.Stat.ModeAndType = r.Uint16()
	resp.Stat.Mtime = int64(r.Uint64())
	resp.Stat.Atime = int64(r.Uint64())
	resp.Stat.Owner = r.String()
	resp.Stat.Group = r.String()
	resp.Stat.BlockSz = r.Uint32()
	resp.Stat.Replication = r.Uint16()
	resp.Stat.NodeID = r.Uint64()
	return resp, r.Err()
}

// OsdHflushReq appends data to a chunk and commits it; flags=0 means
// plain append-and-commit.
type OsdHflushReq struct {
	Cid   uint64
	Flags uint32
	Data  []byte
}

// HFLUSH flag bits.
const (
	HflushNone = 0
)

func EncodeOsdHflushReq(r OsdHflushReq) []byte {
	w := pack.NewWriter(16 + len(r.Data))
	w.PutUint64(r.Cid)
	w.PutUint32(r.Flags)
	w.PutUint32(uint32(len(r.Data)))
	w.PutBytes(r.Data)
	return w.Bytes()
}

func DecodeOsdHflushReq(buf []byte) (OsdHflushReq, error) {
	r := pack.NewReader(buf)
	req := OsdHflushReq{Cid: r.Uint64(), Flags: r.Uint32()}
	n := r.Uint32()
	req.Data = r.Bytes(int(n))
	return req, r.Err()
}

// OsdPutChunkReq appends data without forcing a flush; same wire shape
// as OsdHflushReq.
type OsdPutChunkReq = OsdHflushReq

func EncodeOsdPutChunkReq(r OsdPutChunkReq) []byte  { return EncodeOsdHflushReq(r) }
func DecodeOsdPutChunkReq(buf []byte) (OsdPutChunkReq, error) { return DecodeOsdHflushReq(buf) }

// OsdReadReq requests a byte range from a chunk.
type OsdReadReq struct {
	Cid   uint64
	Start uint64
	Len   uint32
}

func EncodeOsdReadReq(r OsdReadReq) []byte {
	w := pack.NewWriter(20)
	w.PutUint64(r.Cid)
	w.PutUint64(r.Start)
	w.PutUint32(r.Len)
	return w.Bytes()
}

func DecodeOsdReadReq(buf []byte) (OsdReadReq, error) {
	r := pack.NewReader(buf)
	req := OsdReadReq{Cid: r.Uint64(), Start: r.Uint64(), Len: r.Uint32()}
	return req, r.Err()
}

// OsdReadResp carries the error prefix followed by the raw (not further
// encoded) data payload as trailing bytes.
type OsdReadResp struct {
	Error int32
	Data  []byte
}

func EncodeOsdReadResp(r OsdReadResp) []byte {
	w := pack.NewWriter(4 + len(r.Data))
	w.PutUint32(uint32(r.Error))
	w.PutBytes(r.Data)
	return w.Bytes()
}

func DecodeOsdReadResp(buf []byte) (OsdReadResp, error) {
	r := pack.NewReader(buf)
	resp := OsdReadResp{Error: int32(r.Uint32())}
	resp.Data = r.Remaining()
	return resp, r.Err()
}

// GetMdsStatusReq has no fields; it asks an MDS who it thinks the
// primary is.
type GetMdsStatusReq struct{}

func EncodeGetMdsStatusReq(GetMdsStatusReq) []byte { return nil }

// MdsStatusResp reports the responder's view of the primary MDS id.
type MdsStatusResp struct {
	PriMid uint16
}

func EncodeMdsStatusResp(r MdsStatusResp) []byte {
	w := pack.NewWriter(2)
	w.PutUint16(r.PriMid)
	return w.Bytes()
}

func DecodeMdsStatusResp(buf []byte) (MdsStatusResp, error) {
	r := pack.NewReader(buf)
	resp := MdsStatusResp{PriMid: r.Uint16()}
	return resp, r.Err()
}
