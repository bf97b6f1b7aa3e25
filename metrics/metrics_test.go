package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRecordChunkReadWrite(t *testing.T) {
	m := New()
	m.RecordChunkRead(100, 5_000)
	m.RecordChunkWrite(200, 50_000)

	s := m.Snapshot()
	if s.ChunkReads != 1 || s.ChunkBytesRead != 100 {
		t.Fatalf("unexpected read stats: %+v", s)
	}
	if s.ChunkWrites != 1 || s.ChunkBytesWritten != 200 {
		t.Fatalf("unexpected write stats: %+v", s)
	}
	if s.AvgLatencyNs == 0 {
		t.Fatalf("expected nonzero avg latency")
	}
}

func TestLatencyHistogramBuckets(t *testing.T) {
	m := New()
	m.recordLatency(500) // falls in every bucket
	m.recordLatency(5_000_000_000) // falls only in the 10s bucket
	if m.LatencyBuckets[0].Load() != 1 {
		t.Fatalf("bucket 0 = %d, want 1", m.LatencyBuckets[0].Load())
	}
	if m.LatencyBuckets[numLatencyBuckets-1].Load() != 2 {
		t.Fatalf("last bucket = %d, want 2", m.LatencyBuckets[numLatencyBuckets-1].Load())
	}
}

func TestRegistryCollect(t *testing.T) {
	m := New()
	m.RecordChunkRead(10, 1000)
	reg := NewRegistry(m)

	metricCh := make(chan prometheus.Metric, 16)
	reg.Collect(metricCh)
	close(metricCh)

	var count int
	for range metricCh {
		count++
	}
	if count != 7 {
		t.Fatalf("got %d metrics, want 7", count)
	}
}
