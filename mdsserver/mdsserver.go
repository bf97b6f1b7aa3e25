// Package mdsserver adapts the messenger's inbound-transactor stream to
// mstor operations: it decodes a request payload, calls into the
// metadata store, and sends back the matching typed response.
package mdsserver

import (
	"github.com/redfish/redfish/msgr"
	"github.com/redfish/redfish/mstor"
	"github.com/redfish/redfish/rerr"
	"github.com/redfish/redfish/wire"
)

// Server dispatches MDS requests against a metadata store and reports
// its own primary/secondary role for GET_MDS_STATUS probes.
type Server struct {
	store  *mstor.Store
	mid    uint16
	priMid func() uint16
}

// New builds a dispatcher over store. mid is this process's own MDS id;
// priMid reports the id this process currently believes is primary (for
// a standalone single-MDS deployment, pass a func that always returns
// mid).
func New(store *mstor.Store, mid uint16, priMid func() uint16) *Server {
	return &Server{store: store, mid: mid, priMid: priMid}
}

// Handle is a recvpool.Handler: it decodes msg by its wire type, calls
// the matching store operation, and replies on the same transactor.
func (s *Server) Handle(tr *msgr.Transactor, msg wire.Message) {
	switch msg.Type {
	case wire.TypeMkdirsReq:
		s.handleMkdirs(tr, msg)
	case wire.TypeStatReq:
		s.handleStat(tr, msg)
	case wire.TypeLocateReq:
		s.handleLocate(tr, msg)
	case wire.TypeGetMdsStatusReq:
		s.handleGetStatus(tr, msg)
	default:
		tr.SendNext(wire.Message{
			Type:    wire.TypeGenericResp,
			Payload: wire.EncodeGenericResp(wire.GenericResp{Error: errnoFor(rerr.NotImplemented)}),
		})
	}
}

func (s *Server) handleMkdirs(tr *msgr.Transactor, msg wire.Message) {
	req, err := wire.DecodeMkdirsReq(msg.Payload)
	if err != nil {
		tr.SendNext(genericErr(err))
		return
	}
	err = s.store.Mkdirs(req.User, req.User, req.Path, req.Mode, req.Ctime)
	tr.SendNext(genericErr(err))
}

func (s *Server) handleStat(tr *msgr.Transactor, msg wire.Message) {
	req, err := wire.DecodeStatReq(msg.Payload)
	if err != nil {
		tr.SendNext(wire.Message{Type: wire.TypeStatResp, Payload: wire.EncodeStatResp(wire.StatResp{Error: errnoFor(rerr.Invalid)})})
		return
	}
	nid, node, err := s.store.Stat(req.User, req.User, req.Path)
	if err != nil {
		tr.SendNext(wire.Message{Type: wire.TypeStatResp, Payload: wire.EncodeStatResp(wire.StatResp{Error: errnoForErr(err)})})
		return
	}
	resp := wire.StatResp{
		Stat: wire.Stat{
			ModeAndType: node.ModeAndType,
			Mtime:       node.Mtime,
			Atime:       node.Atime,
			Owner:       node.Owner,
			Group:       node.Group,
			NodeID:      nid,
		},
	}
	tr.SendNext(wire.Message{Type: wire.TypeStatResp, Payload: wire.EncodeStatResp(resp)})
}

// handleLocate answers which OSDs hold the requested byte range. This
// server has no chunk-placement state of its own yet (no file write
// path is wired into mstor); it always reports an empty location list,
// which is a legal answer for a sparse/empty file.
func (s *Server) handleLocate(tr *msgr.Transactor, msg wire.Message) {
	req, err := wire.DecodeLocateReq(msg.Payload)
	if err != nil {
		tr.SendNext(wire.Message{Type: wire.TypeLocateResp, Payload: wire.EncodeLocateResp(wire.LocateResp{Error: errnoFor(rerr.Invalid)})})
		return
	}
	if _, _, err := s.store.Stat(req.User, req.User, req.Path); err != nil {
		tr.SendNext(wire.Message{Type: wire.TypeLocateResp, Payload: wire.EncodeLocateResp(wire.LocateResp{Error: errnoForErr(err)})})
		return
	}
	tr.SendNext(wire.Message{Type: wire.TypeLocateResp, Payload: wire.EncodeLocateResp(wire.LocateResp{})})
}

func (s *Server) handleGetStatus(tr *msgr.Transactor, msg wire.Message) {
	tr.SendNext(wire.Message{
		Type:    wire.TypeMdsStatusResp,
		Payload: wire.EncodeMdsStatusResp(wire.MdsStatusResp{PriMid: s.priMid()}),
	})
}

func genericErr(err error) wire.Message {
	return wire.Message{Type: wire.TypeGenericResp, Payload: wire.EncodeGenericResp(wire.GenericResp{Error: errnoForErr(err)})}
}

// errnoForErr maps an error returned by mstor into the signed wire
// errno convention: 0 for success, a small negative code otherwise.
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
	case rerr.NotDir:
		return -20
	case rerr.IsDir:
		return -21
	case rerr.Invalid:
		return -22
	case rerr.NotImplemented:
		return -38
	default:
		return -5
	}
}
