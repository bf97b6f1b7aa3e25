// Package mdsclient runs the client-side MDS failover loop: when an RPC
// reports its primary has failed, a single long-lived worker probes
// every MDS in the cluster map round-robin until one confirms itself
// (or is confirmed) as the new primary, then broadcasts the change to
// every blocked caller.
package mdsclient

import (
	"sync"
	"time"

	"github.com/redfish/redfish/bsend"
	"github.com/redfish/redfish/cluster"
	"github.com/redfish/redfish/metrics"
	"github.com/redfish/redfish/msgr"
	"github.com/redfish/redfish/rlog"
	"github.com/redfish/redfish/wire"
)

// LongSleep is how long the failover worker sleeps between full sweeps
// of the MDS set when a sweep finds no confirmed primary.
const LongSleep = 2 * time.Second

// Client tracks the current primary MDS and runs the failover sweep
// that keeps it up to date.
type Client struct {
	m    *msgr.Messenger
	log  *rlog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	cmap    *cluster.Map
	priMid  uint16
	failed  bool
	stopped bool
	metrics *metrics.Metrics

	done chan struct{}
}

// New starts the failover worker goroutine. cmap is the initial
// cluster map; priMid is the MDS believed to be primary at startup.
func New(m *msgr.Messenger, log *rlog.Logger, cmap *cluster.Map, priMid uint16) *Client {
	if log == nil {
		log = rlog.Default()
	}
	c := &Client{m: m, log: log, cmap: cmap, priMid: priMid, done: make(chan struct{})}
	c.cond = sync.NewCond(&c.mu)
	go c.failoverLoop()
	return c
}

// SetMessenger attaches the messenger used to send GET_MDS_STATUS
// probes. Needed because the messenger used to reach other MDSes is
// often constructed after the client (it may also need to be wired to
// the client for Listen), and ReportFailure cannot fire before the
// caller has finished setting up its own event loop.
func (c *Client) SetMessenger(m *msgr.Messenger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = m
}

// SetMetrics attaches the counters the failover sweep's probe RPCs
// update. Nil disables metrics recording.
func (c *Client) SetMetrics(m *metrics.Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// Primary returns the MDS id currently believed to be primary.
func (c *Client) Primary() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.priMid
}

// UpdateMap swaps in a newer cluster map; callers read the cluster map
// under this lock to get a consistent snapshot, per the monotone-epoch
// ordering rule.
func (c *Client) UpdateMap(cmap *cluster.Map) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cmap.Epoch < c.cmap.Epoch {
		return
	}
	c.cmap = cmap
}

// ReportFailure marks the current primary as failed and wakes the
// failover worker. Called by the RPC path (mds_rpc) when an RPC to the
// believed primary fails.
func (c *Client) ReportFailure() {
	c.mu.Lock()
	c.failed = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// WaitForPrimaryChange blocks the calling RPC until either the primary
// changes or deadline elapses, then returns the (possibly unchanged)
// current primary id, per the "re-read cluster map entry on wakeup"
// rule.
func (c *Client) WaitForPrimaryChange(oldPrimary uint16, deadline time.Duration) uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()

	timedOut := make(chan struct{})
	timer := time.AfterFunc(deadline, func() {
		close(timedOut)
		c.cond.Broadcast()
	})
	defer timer.Stop()

	for c.priMid == oldPrimary {
		select {
		case <-timedOut:
			return c.priMid
		default:
		}
		c.cond.Wait()
	}
	return c.priMid
}

// Stop ends the failover worker goroutine.
func (c *Client) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.cond.Broadcast()
	<-c.done
}

func (c *Client) failoverLoop() {
	defer close(c.done)
	for {
		c.mu.Lock()
		for !c.failed && !c.stopped {
			c.cond.Wait()
		}
		if c.stopped {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		if c.sweep() {
			c.mu.Lock()
			c.failed = false
			c.mu.Unlock()
			c.cond.Broadcast()
			continue
		}
		time.Sleep(LongSleep)
	}
}

// sweep probes every MDS starting at pri_mid+1, accepting the first
// reply that reports itself as primary, or that is itself the old
// primary confirming it still holds the role.
func (c *Client) sweep() bool {
	c.mu.Lock()
	oldPrimary := c.priMid
	cmap := c.cmap
	m := c.m
	mtr := c.metrics
	c.mu.Unlock()

	if m == nil {
		return false
	}
	numMDS := uint16(len(cmap.MDSes))
	if numMDS == 0 {
		return false
	}

	for i := uint16(0); i < numMDS; i++ {
		mid := (oldPrimary + 1 + i) % numMDS
		mds := cmap.MDSes[mid]
		if !mds.IsIn {
			continue
		}

		b := bsend.New(nil, 1, 5)
		b.SetMetrics(mtr)
		req := wire.Message{Type: wire.TypeGetMdsStatusReq}
		if err := b.Add(m, bsend.ExpectResponse, req, mds.IP, mds.Port); err != nil {
			continue
		}
		if _, err := b.Join(); err != nil {
			continue
		}
		msg, err := b.Get(0)
		if err != nil {
			continue
		}
		resp, decErr := wire.DecodeMdsStatusResp(msg.Payload)
		if decErr != nil {
			continue
		}
		if resp.PriMid == mid || (mid == oldPrimary && resp.PriMid == oldPrimary) {
			c.mu.Lock()
			c.priMid = resp.PriMid
			c.mu.Unlock()
			c.log.Infof("mdsclient: new primary mid=%d", resp.PriMid)
			return true
		}
	}
	return false
}
