// Package msgr owns a pool of TCP connections and drives all socket
// I/O from a single pinned goroutine using a readiness-based epoll
// event loop, multiplexing many transactors over each connection.
package msgr

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/redfish/redfish/fastlog"
	"github.com/redfish/redfish/metrics"
	"github.com/redfish/redfish/rerr"
	"github.com/redfish/redfish/rlog"
	"github.com/redfish/redfish/wire"
)

// Config carries the tunables named by the public new() operation:
// connection and transactor limits, teardown timing, and the shared
// fast-log buffer this messenger's event loop logs into.
type Config struct {
	MaxConns        int
	MaxTrPerConn    int
	TeardownTimeout time.Duration
	HeartbeatPeriod time.Duration
	TimeoutCntMax   int
	Log             *rlog.Logger
	FastLog         *fastlog.Buf

	// Metrics, if set, is updated with connection and message counts as
	// the event loop runs. Nil disables metrics recording.
	Metrics *metrics.Metrics
}

func (c *Config) setDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 1024
	}
	if c.MaxTrPerConn == 0 {
		c.MaxTrPerConn = 64
	}
	if c.TeardownTimeout == 0 {
		c.TeardownTimeout = 30 * time.Second
	}
	if c.HeartbeatPeriod == 0 {
		c.HeartbeatPeriod = time.Second
	}
	if c.TimeoutCntMax == 0 {
		c.TimeoutCntMax = 30
	}
	if c.Log == nil {
		c.Log = rlog.Default()
	}
	if c.FastLog == nil {
		c.FastLog = fastlog.New("msgr")
	}
}

// sendReq is how Send hands a new outbound transactor to the event
// loop across the cross-thread boundary. Per-RPC timeouts are handled
// one layer up, by bsend; msgr only tracks connection-level idle time.
type sendReq struct {
	tr   *transactor
	ip   uint32
	port uint16
	msg  wire.Message
}

// Messenger is the top-level handle; New returns one unstarted, ready
// to accept Listen registrations before Start.
type Messenger struct {
	conf Config

	epfd       int
	wakeR      int
	wakeW      int
	listenFd   int
	listenPort uint16
	acceptCb   AcceptCallback

	conns    map[int]*conn        // by fd
	byPeer   map[uint64]*conn     // by (ip,port), for accept-path dedup
	nextTrID uint32

	mu        sync.Mutex
	pending   []sendReq
	shutdown  bool

	started chan struct{}
	done    chan struct{}
}

// New constructs a Messenger from conf, applying documented defaults
// for any zero-valued tunable.
func New(conf Config) *Messenger {
	conf.setDefaults()
	return &Messenger{
		conf:     conf,
		conns:    make(map[int]*conn),
		byPeer:   make(map[uint64]*conn),
		listenFd: -1,
		started:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Listen registers a listening socket on port; the callback runs once,
// for the first inbound message of each newly accepted connection, to
// decide the Callback that drives the rest of that transactor's life.
// Must be called before Start. Port 0 asks the kernel for an unused
// ephemeral port, which Port reports back once Listen returns.
func (m *Messenger) Listen(port uint16, callback AcceptCallback) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return rerr.Wrap("msgr.Listen", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return rerr.Wrap("msgr.Listen", err)
	}
	addr := &unix.SockaddrInet4{Port: int(port)}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return rerr.Wrap("msgr.Listen", err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return rerr.Wrap("msgr.Listen", err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return rerr.Wrap("msgr.Listen", err)
	}
	sa4, ok := bound.(*unix.SockaddrInet4)
	if !ok {
		unix.Close(fd)
		return rerr.New("msgr.Listen", rerr.Invalid, "listening socket is not AF_INET")
	}
	m.listenFd = fd
	m.listenPort = uint16(sa4.Port)
	m.acceptCb = callback
	return nil
}

// Port returns the port this messenger is listening on, resolving the
// actual kernel-assigned port if Listen was called with 0.
func (m *Messenger) Port() uint16 { return m.listenPort }

// Start spawns the event-loop goroutine, pinned to its OS thread since
// the fds it manages are only meaningful there. After Start returns,
// only Send and Shutdown are legal from other goroutines.
func (m *Messenger) Start() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return rerr.Wrap("msgr.Start", err)
	}
	m.epfd = epfd

	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(epfd)
		return rerr.Wrap("msgr.Start", err)
	}
	m.wakeR, m.wakeW = fds[0], fds[1]

	if err := m.epollAdd(m.wakeR, unix.EPOLLIN); err != nil {
		return err
	}
	if m.listenFd >= 0 {
		if err := m.epollAdd(m.listenFd, unix.EPOLLIN); err != nil {
			return err
		}
	}

	go m.loop()
	<-m.started
	return nil
}

func (m *Messenger) epollAdd(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return rerr.Wrap("msgr.epollAdd", err)
	}
	return nil
}

func (m *Messenger) epollMod(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return rerr.Wrap("msgr.epollMod", err)
	}
	return nil
}

// Send allocates a fresh transactor for msg, registers cb as the
// callback that will receive its Sent/Recv/Error events, enqueues it on
// the internal pending list, and wakes the event loop via the self-pipe
// notifier. Thread-safe; returns immediately.
func (m *Messenger) Send(ip uint32, port uint16, msg wire.Message, cb Callback) *Transactor {
	t := &transactor{cb: cb}
	m.mu.Lock()
	m.pending = append(m.pending, sendReq{tr: t, ip: ip, port: port, msg: msg})
	m.mu.Unlock()
	m.wake()
	return &Transactor{t: t, m: m}
}

// SendWithTransactor is the add_tr variant: it enqueues msg using a
// transactor the caller already owns (and whose Callback is already
// fixed), instead of allocating a fresh one.
func (m *Messenger) SendWithTransactor(tr *Transactor, ip uint32, port uint16, msg wire.Message) {
	m.mu.Lock()
	m.pending = append(m.pending, sendReq{tr: tr.t, ip: ip, port: port, msg: msg})
	m.mu.Unlock()
	m.wake()
}

// NewTransactor allocates a Transactor bound to cb without sending
// anything yet, for callers (bsend) that want to fix up bookkeeping
// before the first Send.
func (m *Messenger) NewTransactor(cb Callback) *Transactor {
	t := &transactor{cb: cb}
	return &Transactor{t: t, m: m}
}

func (m *Messenger) wake() {
	var b [1]byte
	unix.Write(m.wakeW, b[:])
}

// Shutdown signals the event loop to exit, joins it, and tears down
// every connection, delivering an rerr.Shutdown error to every
// outstanding transactor.
func (m *Messenger) Shutdown() {
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()
	m.wake()
	<-m.done
}

func (m *Messenger) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(m.done)
	close(m.started)

	events := make([]unix.EpollEvent, 64)
	heartbeatMs := int(m.conf.HeartbeatPeriod / time.Millisecond)
	if heartbeatMs <= 0 {
		heartbeatMs = 1000
	}
	beat := time.Duration(heartbeatMs) * time.Millisecond
	lastBeat := time.Now()

	for {
		m.mu.Lock()
		if m.shutdown {
			m.mu.Unlock()
			m.teardownAll(rerr.New("msgr", rerr.Shutdown, "messenger shut down"))
			return
		}
		m.mu.Unlock()

		n, err := unix.EpollWait(m.epfd, events, heartbeatMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			m.conf.Log.Errorf("msgr: epoll_wait: %v", err)
			continue
		}
		for i := 0; i < n; i++ {
			m.handleEvent(events[i])
		}
		m.drainPending()
		if time.Since(lastBeat) >= beat {
			lastBeat = time.Now()
			m.onHeartbeat()
		}
	}
}

func (m *Messenger) handleEvent(ev unix.EpollEvent) {
	fd := int(ev.Fd)
	switch {
	case fd == m.wakeR:
		var buf [64]byte
		for {
			n, err := unix.Read(m.wakeR, buf[:])
			if n <= 0 || err != nil {
				break
			}
		}
	case fd == m.listenFd:
		m.onAcceptable()
	default:
		c, ok := m.conns[fd]
		if !ok {
			return
		}
		if ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			m.teardownConn(c, rerr.New("msgr", rerr.ConnReset, "connection reset"))
			return
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			m.onWritable(c)
		}
		if ev.Events&unix.EPOLLIN != 0 {
			m.onReadable(c)
		}
	}
}

func (m *Messenger) drainPending() {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, req := range pending {
		m.dispatchPending(req)
	}
}

func (m *Messenger) dispatchPending(req sendReq) {
	key := peerKey(req.ip, req.port)
	c, ok := m.byPeer[key]
	if !ok {
		var err error
		c, err = m.dialConn(req.ip, req.port)
		if err != nil {
			m.conf.Log.Warnf("msgr: dial %s failed: %v", fmt.Sprintf("%d.%d.%d.%d:%d", req.ip>>24, (req.ip>>16)&0xff, (req.ip>>8)&0xff, req.ip&0xff, req.port), err)
			return
		}
	}
	req.tr.id = m.allocTrID(c)
	req.tr.c = c
	c.activeTr[req.tr.id] = req.tr

	req.msg.TranID = req.tr.remoteID
	req.msg.RemTranID = req.tr.id
	header := wire.EncodeHeader(&req.msg)
	c.pending = append(c.pending, &outboundMsg{tr: req.tr, msg: req.msg, encoded: append(header, req.msg.Payload...)})
	if c.state == stateQuiescent {
		m.startWriting(c)
	}
}

func (m *Messenger) allocTrID(c *conn) uint32 {
	for {
		m.nextTrID++
		if m.nextTrID == 0 {
			m.nextTrID = 1
		}
		if _, ok := c.activeTr[m.nextTrID]; !ok {
			return m.nextTrID
		}
	}
}

// dialConn opens a new non-blocking outbound connection to (ip, port)
// and registers it with the event loop in the Connecting state.
func (m *Messenger) dialConn(ip uint32, port uint16) (*conn, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, rerr.Wrap("msgr.dialConn", err)
	}
	sa := &unix.SockaddrInet4{Port: int(port)}
	sa.Addr[0] = byte(ip >> 24)
	sa.Addr[1] = byte(ip >> 16)
	sa.Addr[2] = byte(ip >> 8)
	sa.Addr[3] = byte(ip)
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, rerr.Wrap("msgr.dialConn", err)
	}
	c := &conn{fd: fd, peerIP: ip, peerPort: port, state: stateConnecting, activeTr: make(map[uint32]*transactor)}
	m.conns[fd] = c
	m.byPeer[peerKey(ip, port)] = c
	if addErr := m.epollAdd(fd, unix.EPOLLOUT); addErr != nil {
		delete(m.conns, fd)
		delete(m.byPeer, peerKey(ip, port))
		unix.Close(fd)
		return nil, addErr
	}
	return c, nil
}

// onAcceptable accepts every connection currently queued on the
// listening socket, rejecting a new one if a connection already exists
// for its (peer_ip, peer_port) pair, per the accept-path dedup rule.
func (m *Messenger) onAcceptable() {
	for {
		fd, sa, err := unix.Accept4(m.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			return
		}
		sa4, ok := sa.(*unix.SockaddrInet4)
		if !ok {
			unix.Close(fd)
			continue
		}
		ip := uint32(sa4.Addr[0])<<24 | uint32(sa4.Addr[1])<<16 | uint32(sa4.Addr[2])<<8 | uint32(sa4.Addr[3])
		port := uint16(sa4.Port)
		key := peerKey(ip, port)
		if _, exists := m.byPeer[key]; exists {
			m.conf.FastLog.Log(fastlog.TranMultiConn, uint64(ip), uint64(port), 0)
			unix.Close(fd)
			continue
		}
		c := &conn{fd: fd, peerIP: ip, peerPort: port, state: stateQuiescent, activeTr: make(map[uint32]*transactor)}
		m.conns[fd] = c
		m.byPeer[key] = c
		if err := m.epollAdd(fd, unix.EPOLLIN); err != nil {
			delete(m.conns, fd)
			delete(m.byPeer, key)
			unix.Close(fd)
			continue
		}
		m.conf.FastLog.Log(fastlog.ConnEstablished, uint64(ip), uint64(port), 0)
		if m.conf.Metrics != nil {
			m.conf.Metrics.ConnsAccepted.Add(1)
		}
	}
}

func (m *Messenger) startWriting(c *conn) {
	if len(c.pending) == 0 {
		return
	}
	c.state = stateWriting
	c.writeBuf = c.pending[0].encoded
	c.writeOff = 0
	m.epollMod(c.fd, unix.EPOLLIN|unix.EPOLLOUT)
}

func (m *Messenger) onWritable(c *conn) {
	c.idleCount = 0
	if c.state == stateConnecting {
		errno, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil || errno != 0 {
			m.teardownConn(c, rerr.New("msgr", rerr.ConnReset, "connect failed"))
			return
		}
		c.state = stateQuiescent
		m.epollMod(c.fd, unix.EPOLLIN)
		if len(c.pending) > 0 {
			m.startWriting(c)
		}
		return
	}
	if c.state != stateWriting {
		return
	}
	n, err := unix.Write(c.fd, c.writeBuf[c.writeOff:])
	if err != nil {
		if err == unix.EAGAIN {
			return
		}
		m.teardownConn(c, rerr.Wrap("msgr", err))
		return
	}
	c.writeOff += n
	if c.writeOff < len(c.writeBuf) {
		return
	}
	sent := c.pending[0]
	c.pending = c.pending[1:]
	c.writeBuf = nil
	c.writeOff = 0
	c.state = stateQuiescent
	if len(c.pending) == 0 {
		m.epollMod(c.fd, unix.EPOLLIN)
	} else {
		m.startWriting(c)
	}
	if m.conf.Metrics != nil {
		m.conf.Metrics.MsgsSent.Add(1)
	}
	m.invokeCallback(sent.tr, EventSent, wire.Message{}, nil)
}

func (m *Messenger) onReadable(c *conn) {
	c.idleCount = 0
	if c.state == stateQuiescent || c.state == stateAwaitingHeader {
		c.readOff = 0
		c.state = stateReadingHeader
	}
	if c.state == stateReadingHeader {
		need := wire.HeaderSize - c.readOff
		n, err := unix.Read(c.fd, c.readHeader[c.readOff:wire.HeaderSize])
		if !m.checkReadResult(c, n, err) {
			return
		}
		c.readOff += n
		if n < need {
			return
		}
		tranID, remTranID, length, typ, decErr := wire.DecodeHeader(c.readHeader[:])
		if decErr != nil {
			m.teardownConn(c, rerr.Wrap("msgr", decErr))
			return
		}
		tr, ok := m.resolveInboundTransactor(c, tranID, remTranID)
		if !ok {
			c.state = stateQuiescent
			c.readOff = 0
			return
		}
		c.readBuf = make([]byte, length)
		c.readOff = 0
		c.state = stateReadingBody
		c.pendingTr = tr
		c.pendingType = typ
		c.pendingRemID = remTranID
		if length == 0 {
			m.completeInbound(c)
		}
		return
	}
	if c.state == stateReadingBody {
		n, err := unix.Read(c.fd, c.readBuf[c.readOff:])
		if !m.checkReadResult(c, n, err) {
			return
		}
		c.readOff += n
		if c.readOff < len(c.readBuf) {
			return
		}
		m.completeInbound(c)
	}
}

func (m *Messenger) checkReadResult(c *conn, n int, err error) bool {
	if err != nil {
		if err == unix.EAGAIN {
			return false
		}
		m.teardownConn(c, rerr.Wrap("msgr", err))
		return false
	}
	if n == 0 {
		m.teardownConn(c, rerr.New("msgr", rerr.ConnReset, "peer closed connection"))
		return false
	}
	return true
}

// resolveInboundTransactor implements the tran_id==0 fresh-allocation
// rule and the rem_tran_id mismatch abort rule from the event-loop
// state table.
func (m *Messenger) resolveInboundTransactor(c *conn, tranID, remTranID uint32) (*transactor, bool) {
	if tranID == 0 {
		t := &transactor{id: m.allocTrID(c), remoteID: remTranID, c: c}
		if m.acceptCb == nil {
			return nil, false
		}
		c.activeTr[t.id] = t
		return t, true
	}
	t, ok := c.activeTr[tranID]
	if !ok {
		m.conf.FastLog.Log(fastlog.TranNonesuch, uint64(tranID), uint64(remTranID), 0)
		return nil, false
	}
	if t.remoteID != 0 && t.remoteID != remTranID {
		m.conf.FastLog.Log(fastlog.TranNonesuch, uint64(tranID), uint64(remTranID), 1)
		return nil, false
	}
	t.remoteID = remTranID
	return t, true
}

func (m *Messenger) completeInbound(c *conn) {
	msg := wire.Message{
		TranID:    c.pendingTr.id,
		RemTranID: c.pendingRemID,
		Type:      c.pendingType,
		Payload:   c.readBuf,
	}
	tr := c.pendingTr
	c.pendingTr = nil
	c.readBuf = nil
	c.readOff = 0
	c.state = stateQuiescent

	cb := tr.cb
	if cb == nil && m.acceptCb != nil {
		cb = m.acceptCb(&Transactor{t: tr, m: m}, msg)
		tr.cb = cb
	}
	if m.conf.Metrics != nil {
		m.conf.Metrics.MsgsReceived.Add(1)
	}
	m.invokeCallback(tr, EventRecv, msg, nil)
}

func (m *Messenger) invokeCallback(t *transactor, ev Event, msg wire.Message, err error) {
	if t.cb == nil {
		return
	}
	t.acted = false
	t.cb(&Transactor{t: t, m: m}, ev, msg, err)
}

func (m *Messenger) sendNextLocked(t *transactor, msg wire.Message) {
	if t.acted {
		panic("msgr: callback made more than one disposition call")
	}
	t.acted = true
	c := t.c
	msg.TranID = t.remoteID
	msg.RemTranID = t.id
	header := wire.EncodeHeader(&msg)
	c.pending = append(c.pending, &outboundMsg{tr: t, msg: msg, encoded: append(header, msg.Payload...)})
	if c.state == stateQuiescent {
		m.startWriting(c)
	}
}

func (m *Messenger) recvNextLocked(t *transactor) {
	if t.acted {
		panic("msgr: callback made more than one disposition call")
	}
	t.acted = true
}

func (m *Messenger) freeLocked(t *transactor) {
	if t.acted {
		panic("msgr: callback made more than one disposition call")
	}
	t.acted = true
	if t.freed {
		return
	}
	t.freed = true
	delete(t.c.activeTr, t.id)
	m.conf.FastLog.Log(fastlog.TranFreed, uint64(t.id), 0, 0)
}

// onHeartbeat runs from the event loop once per heartbeat_period,
// whether or not other fds were ready in the meantime: every
// connection's idle_count is incremented, and connections at
// timeout_cnt_max are torn down with ETIMEDOUT.
func (m *Messenger) onHeartbeat() {
	for _, c := range m.conns {
		c.idleCount++
		if c.idleCount >= m.conf.TimeoutCntMax {
			m.conf.FastLog.Log(fastlog.ConnTimedOut, uint64(c.peerIP), uint64(c.peerPort), 0)
			if m.conf.Metrics != nil {
				m.conf.Metrics.ConnsTimedOut.Add(1)
			}
			m.teardownConn(c, rerr.New("msgr", rerr.Timedout, "connection idle timeout"))
		}
	}
}

func (m *Messenger) teardownConn(c *conn, err error) {
	unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, c.fd, nil)
	unix.Close(c.fd)
	delete(m.conns, c.fd)
	delete(m.byPeer, peerKey(c.peerIP, c.peerPort))
	m.conf.FastLog.Log(fastlog.ConnTornDown, uint64(c.peerIP), uint64(c.peerPort), 0)
	if m.conf.Metrics != nil {
		m.conf.Metrics.ConnsTornDown.Add(1)
	}

	// A transactor with a queued message is also in activeTr; notify it
	// only once.
	notified := make(map[*transactor]bool, len(c.pending))
	for _, pending := range c.pending {
		if notified[pending.tr] {
			continue
		}
		notified[pending.tr] = true
		m.invokeCallback(pending.tr, EventError, wire.Message{}, err)
	}
	for _, tr := range c.activeTr {
		if !notified[tr] {
			m.invokeCallback(tr, EventError, wire.Message{}, err)
		}
	}
}

func (m *Messenger) teardownAll(err error) {
	for _, c := range m.conns {
		m.teardownConn(c, err)
	}
	if m.listenFd >= 0 {
		unix.Close(m.listenFd)
	}
	unix.Close(m.wakeR)
	unix.Close(m.wakeW)
	unix.Close(m.epfd)
}
