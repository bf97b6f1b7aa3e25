// Package metrics tracks operational counters for the messenger, bsend,
// and ostor layers, and exposes them both as a point-in-time Snapshot
// (for logging/debugging) and as Prometheus collectors (for scraping).
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LatencyBuckets are the histogram bucket upper bounds in nanoseconds,
// covering 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics holds every atomic counter the redfish daemons export.
type Metrics struct {
	// messenger
	ConnsAccepted  atomic.Uint64
	ConnsTornDown  atomic.Uint64
	ConnsTimedOut  atomic.Uint64
	MsgsSent       atomic.Uint64
	MsgsReceived   atomic.Uint64

	// bsend
	RPCsSent     atomic.Uint64
	RPCsTimedOut atomic.Uint64
	RPCsCanceled atomic.Uint64

	// ostor
	ChunkReads   atomic.Uint64
	ChunkWrites  atomic.Uint64
	ChunkUnlinks atomic.Uint64
	ChunkEvicts  atomic.Uint64
	ChunkBytesRead    atomic.Uint64
	ChunkBytesWritten atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// New creates a zeroed Metrics with StartTime set to now.
func New() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// Stop records process shutdown time, used to compute a final uptime.
func (m *Metrics) Stop() { m.StopTime.Store(time.Now().UnixNano()) }

func (m *Metrics) recordLatency(ns uint64) {
	m.TotalLatencyNs.Add(ns)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if ns <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// RecordChunkRead records a completed (or failed) ostor read.
func (m *Metrics) RecordChunkRead(bytes uint64, latencyNs uint64) {
	m.ChunkReads.Add(1)
	m.ChunkBytesRead.Add(bytes)
	m.recordLatency(latencyNs)
}

// RecordChunkWrite records a completed ostor write.
func (m *Metrics) RecordChunkWrite(bytes uint64, latencyNs uint64) {
	m.ChunkWrites.Add(1)
	m.ChunkBytesWritten.Add(bytes)
	m.recordLatency(latencyNs)
}

// RecordRPC records a bsend-level RPC completion.
func (m *Metrics) RecordRPC(latencyNs uint64) {
	m.RPCsSent.Add(1)
	m.recordLatency(latencyNs)
}

// Snapshot is a point-in-time, non-atomic view of Metrics for logging.
type Snapshot struct {
	ConnsAccepted, ConnsTornDown, ConnsTimedOut uint64
	MsgsSent, MsgsReceived                      uint64
	RPCsSent, RPCsTimedOut, RPCsCanceled        uint64
	ChunkReads, ChunkWrites, ChunkUnlinks       uint64
	ChunkBytesRead, ChunkBytesWritten           uint64
	AvgLatencyNs                                uint64
	UptimeNs                                    uint64
}

// Snapshot computes a consistent-enough point-in-time view; individual
// fields may be a few nanoseconds stale relative to each other since
// each is read independently, which is acceptable for a diagnostic
// snapshot.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		ConnsAccepted:     m.ConnsAccepted.Load(),
		ConnsTornDown:     m.ConnsTornDown.Load(),
		ConnsTimedOut:     m.ConnsTimedOut.Load(),
		MsgsSent:          m.MsgsSent.Load(),
		MsgsReceived:      m.MsgsReceived.Load(),
		RPCsSent:          m.RPCsSent.Load(),
		RPCsTimedOut:      m.RPCsTimedOut.Load(),
		RPCsCanceled:      m.RPCsCanceled.Load(),
		ChunkReads:        m.ChunkReads.Load(),
		ChunkWrites:       m.ChunkWrites.Load(),
		ChunkUnlinks:      m.ChunkUnlinks.Load(),
		ChunkBytesRead:    m.ChunkBytesRead.Load(),
		ChunkBytesWritten: m.ChunkBytesWritten.Load(),
	}
	opCount := m.OpCount.Load()
	if opCount > 0 {
		s.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}
	start := m.StartTime.Load()
	stop := m.StopTime.Load()
	if stop > 0 {
		s.UptimeNs = uint64(stop - start)
	} else {
		s.UptimeNs = uint64(time.Now().UnixNano() - start)
	}
	return s
}

// Registry adapts Metrics to prometheus.Collector so a daemon can
// register it once with a prometheus.Registry and serve /metrics.
type Registry struct {
	m *Metrics

	connsAccepted *prometheus.Desc
	connsTornDown *prometheus.Desc
	rpcsSent      *prometheus.Desc
	chunkReads    *prometheus.Desc
	chunkWrites   *prometheus.Desc
	chunkBytesIn  *prometheus.Desc
	chunkBytesOut *prometheus.Desc
}

// NewRegistry wraps m as a prometheus.Collector.
func NewRegistry(m *Metrics) *Registry {
	return &Registry{
		m:             m,
		connsAccepted: prometheus.NewDesc("redfish_conns_accepted_total", "TCP connections accepted by the messenger", nil, nil),
		connsTornDown: prometheus.NewDesc("redfish_conns_torn_down_total", "Connections torn down (timeout, error, or shutdown)", nil, nil),
		rpcsSent:      prometheus.NewDesc("redfish_rpcs_sent_total", "RPCs sent via bsend", nil, nil),
		chunkReads:    prometheus.NewDesc("redfish_chunk_reads_total", "Chunk reads served by ostor", nil, nil),
		chunkWrites:   prometheus.NewDesc("redfish_chunk_writes_total", "Chunk writes served by ostor", nil, nil),
		chunkBytesIn:  prometheus.NewDesc("redfish_chunk_bytes_read_total", "Bytes read from chunk files", nil, nil),
		chunkBytesOut: prometheus.NewDesc("redfish_chunk_bytes_written_total", "Bytes written to chunk files", nil, nil),
	}
}

func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	ch <- r.connsAccepted
	ch <- r.connsTornDown
	ch <- r.rpcsSent
	ch <- r.chunkReads
	ch <- r.chunkWrites
	ch <- r.chunkBytesIn
	ch <- r.chunkBytesOut
}

func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	s := r.m.Snapshot()
	ch <- prometheus.MustNewConstMetric(r.connsAccepted, prometheus.CounterValue, float64(s.ConnsAccepted))
	ch <- prometheus.MustNewConstMetric(r.connsTornDown, prometheus.CounterValue, float64(s.ConnsTornDown))
	ch <- prometheus.MustNewConstMetric(r.rpcsSent, prometheus.CounterValue, float64(s.RPCsSent))
	ch <- prometheus.MustNewConstMetric(r.chunkReads, prometheus.CounterValue, float64(s.ChunkReads))
	ch <- prometheus.MustNewConstMetric(r.chunkWrites, prometheus.CounterValue, float64(s.ChunkWrites))
	ch <- prometheus.MustNewConstMetric(r.chunkBytesIn, prometheus.CounterValue, float64(s.ChunkBytesRead))
	ch <- prometheus.MustNewConstMetric(r.chunkBytesOut, prometheus.CounterValue, float64(s.ChunkBytesWritten))
}

var _ prometheus.Collector = (*Registry)(nil)
