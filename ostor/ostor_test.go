package ostor

import (
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T, maxOpen int, timeo time.Duration) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, maxOpen, timeo)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(s.Shutdown)
	return s
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := openTestStore(t, 8, time.Minute)

	if _, err := s.Write(1, []byte("hello ")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := s.Write(1, []byte("world")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 11)
	n, err := s.Read(1, 0, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello world" {
		t.Fatalf("got %q, want %q", buf[:n], "hello world")
	}
}

func TestReadMissingChunkIsNotFound(t *testing.T) {
	s := openTestStore(t, 8, time.Minute)
	buf := make([]byte, 4)
	if _, err := s.Read(42, 0, buf); err == nil {
		t.Fatal("expected not-found error reading a chunk never written")
	}
}

func TestInvalidCidRejected(t *testing.T) {
	s := openTestStore(t, 8, time.Minute)
	if _, err := s.Write(InvalidCid, []byte("x")); err == nil {
		t.Fatal("expected error writing to the invalid chunk id")
	}
}

func TestUnlinkRemovesChunk(t *testing.T) {
	s := openTestStore(t, 8, time.Minute)
	if _, err := s.Write(7, []byte("data")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Unlink(7); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := s.Read(7, 0, buf); err == nil {
		t.Fatal("expected chunk to be gone after unlink")
	}
}

func TestUnlinkMissingChunkIsNotFound(t *testing.T) {
	s := openTestStore(t, 8, time.Minute)
	if err := s.Unlink(999); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestShutdownRejectsFurtherOps(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 8, time.Minute)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Shutdown()
	if _, err := s.Write(1, []byte("x")); err == nil {
		t.Fatal("expected shutdown error")
	}
}

func TestConcurrentWritesToDistinctChunksWithSmallCache(t *testing.T) {
	// maxOpen smaller than the number of distinct chunks forces the LRU
	// evictor to reclaim descriptors while writers keep going.
	s := openTestStore(t, 2, 10*time.Millisecond)

	var wg sync.WaitGroup
	for i := uint64(1); i <= 10; i++ {
		wg.Add(1)
		go func(cid uint64) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if _, err := s.Write(cid, []byte("x")); err != nil {
					t.Errorf("Write(%d): %v", cid, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}
