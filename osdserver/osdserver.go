// Package osdserver adapts the messenger's inbound-transactor stream to
// ostor operations: it decodes a chunk request, calls into the local
// chunk store, and sends back the matching typed response.
package osdserver

import (
	"github.com/redfish/redfish/msgr"
	"github.com/redfish/redfish/ostor"
	"github.com/redfish/redfish/rerr"
	"github.com/redfish/redfish/wire"
)

// Server dispatches OSD chunk requests against a local chunk store.
type Server struct {
	store *ostor.Store
}

// New builds a dispatcher over store.
func New(store *ostor.Store) *Server {
	return &Server{store: store}
}

// Handle is a recvpool.Handler for inbound OSD requests.
func (s *Server) Handle(tr *msgr.Transactor, msg wire.Message) {
	switch msg.Type {
	case wire.TypeOsdHflushReq:
		s.handlePut(tr, msg)
	case wire.TypeOsdPutChunkReq:
		s.handlePut(tr, msg)
	case wire.TypeOsdReadReq:
		s.handleRead(tr, msg)
	default:
		tr.SendNext(wire.Message{
			Type:    wire.TypeGenericResp,
			Payload: wire.EncodeGenericResp(wire.GenericResp{Error: errnoFor(rerr.NotImplemented)}),
		})
	}
}

func (s *Server) handlePut(tr *msgr.Transactor, msg wire.Message) {
	req, err := wire.DecodeOsdHflushReq(msg.Payload)
	if err != nil {
		tr.SendNext(wire.Message{Type: wire.TypeGenericResp, Payload: wire.EncodeGenericResp(wire.GenericResp{Error: errnoFor(rerr.Invalid)})})
		return
	}
	_, err = s.store.Write(req.Cid, req.Data)
	tr.SendNext(wire.Message{Type: wire.TypeGenericResp, Payload: wire.EncodeGenericResp(wire.GenericResp{Error: errnoForErr(err)})})
}

func (s *Server) handleRead(tr *msgr.Transactor, msg wire.Message) {
	req, err := wire.DecodeOsdReadReq(msg.Payload)
	if err != nil {
		tr.SendNext(wire.Message{Type: wire.TypeOsdReadResp, Payload: wire.EncodeOsdReadResp(wire.OsdReadResp{Error: errnoFor(rerr.Invalid)})})
		return
	}
	buf := make([]byte, req.Len)
	n, err := s.store.Read(req.Cid, req.Start, buf)
	if err != nil {
		tr.SendNext(wire.Message{Type: wire.TypeOsdReadResp, Payload: wire.EncodeOsdReadResp(wire.OsdReadResp{Error: errnoForErr(err)})})
		return
	}
	tr.SendNext(wire.Message{Type: wire.TypeOsdReadResp, Payload: wire.EncodeOsdReadResp(wire.OsdReadResp{Data: buf[:n]})})
}

func errnoForErr(err error) int32 {
	if err == nil {
		return 0
	}
	rerrErr, ok := err.(*rerr.Error)
	if !ok {
		return errnoFor(rerr.IOError)
	}
	return errnoFor(rerrErr.Code)
}

func errnoFor(code rerr.Code) int32 {
	switch code {
	case rerr.NotFound:
		return -2
	case rerr.Perm:
		return -13
	case rerr.Exist:
		return -17
	case rerr.Invalid:
		return -22
	case rerr.NotImplemented:
		return -38
	default:
		return -5
	}
}
