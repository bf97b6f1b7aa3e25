// Package ostor is the OSD's local chunk store: a directory of files,
// each holding one chunk's bytes, fronted by a bounded LRU cache of
// open file descriptors so that repeated reads and writes don't pay an
// open/close cycle every time.
package ostor

import (
	"container/list"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/redfish/redfish/metrics"
	"github.com/redfish/redfish/rerr"
)

// InvalidCid marks an unset chunk id; operations on it always fail.
const InvalidCid uint64 = 0

const testDirName = "test.tmp"

// ochunk is one entry in the open-file cache. refcnt == -1 marks a
// chunk mid-creation or mid-eviction; no reader or writer may touch its
// fd while in that state.
type ochunk struct {
	cid    uint64
	fd     int
	refcnt int32
	atime  time.Time

	// elem is this chunk's node in the atime-ordered LRU list, valid
	// only while refcnt == 0 (idle and eligible for eviction).
	elem *list.Element
}

// Store manages chunk files under a root directory, bounding the
// number of simultaneously open file descriptors.
type Store struct {
	dirPath     string
	maxOpen     int
	atimeTimeo  time.Duration
	metrics     *metrics.Metrics

	mu        sync.Mutex
	cond      *sync.Cond // signaled when a chunk's state settles (created/evicted/released)
	allocCond *sync.Cond // signaled when num_open drops, freeing a slot
	lruCond   *sync.Cond // signaled to wake the LRU goroutine early

	shutdown bool
	numOpen  int
	needLRU  int

	byCid   map[uint64]*ochunk
	byAtime *list.List // oldest-accessed at Front

	lruDone chan struct{}
}

// Open creates dirPath if it does not exist (verifying it is writable
// via a throwaway probe directory) and starts the background LRU
// eviction goroutine.
func Open(dirPath string, maxOpen int, atimeTimeo time.Duration) (*Store, error) {
	if err := os.MkdirAll(dirPath, 0770); err != nil {
		return nil, rerr.Wrap("ostor.Open", err)
	}
	tpath := filepath.Join(dirPath, testDirName)
	if err := os.Mkdir(tpath, 0770); err != nil && !os.IsExist(err) {
		return nil, rerr.Newf("ostor.Open", rerr.Perm, "cannot create probe dir under %s: %v", dirPath, err)
	}
	if err := os.Remove(tpath); err != nil {
		return nil, rerr.Wrap("ostor.Open", err)
	}

	s := &Store{
		dirPath:    dirPath,
		maxOpen:    maxOpen,
		atimeTimeo: atimeTimeo,
		byCid:      make(map[uint64]*ochunk),
		byAtime:    list.New(),
		lruDone:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	s.allocCond = sync.NewCond(&s.mu)
	s.lruCond = sync.NewCond(&s.mu)

	go s.lruLoop()
	return s, nil
}

// SetMetrics attaches the counters this store updates as chunks are
// read, written, unlinked, and evicted. Nil disables metrics recording.
func (s *Store) SetMetrics(m *metrics.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// Shutdown marks the store closed, wakes every waiter so in-flight
// calls fail with rerr.Shutdown, and waits for the LRU goroutine to
// exit.
func (s *Store) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.cond.Broadcast()
	s.allocCond.Broadcast()
	s.lruCond.Broadcast()
	s.mu.Unlock()
	<-s.lruDone
}

func dirForCid(cid uint64) string {
	return fmt.Sprintf("%02x", cid&0xff)
}

func (s *Store) dpath(cid uint64) string {
	return filepath.Join(s.dirPath, dirForCid(cid))
}

func (s *Store) path(cid uint64) string {
	return filepath.Join(s.dpath(cid), fmt.Sprintf("%014x", cid>>16))
}

// acquire returns the ochunk for cid, opening (and optionally creating)
// its backing file as needed, with refcnt incremented by one and
// pulled out of the idle LRU list. Caller must call release when done.
func (s *Store) acquire(cid uint64, create bool) (*ochunk, error) {
	if cid == InvalidCid {
		return nil, rerr.New("ostor.acquire", rerr.Invalid, "invalid chunk id")
	}

	s.mu.Lock()
	for {
		if s.shutdown {
			s.mu.Unlock()
			return nil, rerr.New("ostor.acquire", rerr.Shutdown, "ostor is shutting down")
		}
		ch, ok := s.byCid[cid]
		if ok {
			if ch.refcnt != -1 {
				if ch.elem != nil {
					s.byAtime.Remove(ch.elem)
					ch.elem = nil
				}
				ch.refcnt++
				s.mu.Unlock()
				return ch, nil
			}
			if !create {
				s.mu.Unlock()
				return nil, rerr.New("ostor.acquire", rerr.NotFound, "chunk does not exist")
			}
			// A racing create or destroy is in flight; wait for it to settle.
			s.cond.Wait()
			continue
		}
		if s.numOpen < s.maxOpen {
			ch = &ochunk{cid: cid, fd: -1, refcnt: -1}
			s.byCid[cid] = ch
			s.numOpen++
			s.mu.Unlock()

			fd, err := s.openFile(cid, create)

			s.mu.Lock()
			if err != nil {
				s.evictLocked(ch)
				s.cond.Broadcast()
				s.mu.Unlock()
				return nil, err
			}
			ch.fd = fd
			ch.refcnt = 0
			s.cond.Broadcast()
			ch.refcnt++
			s.mu.Unlock()
			return ch, nil
		}
		s.needLRU++
		s.lruCond.Signal()
		s.allocCond.Wait()
	}
}

// release returns ch to the idle pool, recording the current time as
// its last-access time and making it eligible for LRU eviction.
func (s *Store) release(ch *ochunk) {
	s.mu.Lock()
	ch.atime = time.Now()
	if ch.refcnt == -1 {
		panic("ostor: release of a chunk with refcnt -1")
	}
	ch.refcnt--
	if ch.refcnt == 0 {
		ch.elem = s.byAtime.PushBack(ch)
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

// openFile opens (and, if create is set, creates) the backing file for
// cid. Must be called with the store lock released.
func (s *Store) openFile(cid uint64, create bool) (int, error) {
	flags := unix.O_APPEND | unix.O_RDWR | unix.O_CLOEXEC
	if create {
		flags |= unix.O_CREAT
	}
	path := s.path(cid)
	fd, err := unix.Open(path, flags, 0660)
	if err == nil {
		return fd, nil
	}
	if err != unix.ENOENT || !create {
		return -1, rerr.Wrap("ostor.openFile", err)
	}
	if mkErr := os.MkdirAll(s.dpath(cid), 0770); mkErr != nil {
		return -1, rerr.Wrap("ostor.openFile", mkErr)
	}
	fd, err = unix.Open(path, flags, 0660)
	if err != nil {
		return -1, rerr.Wrap("ostor.openFile", err)
	}
	return fd, nil
}

// evictLocked closes ch's fd (if open), removes it from every index,
// and wakes one allocator waiter. Must be called with the store lock
// held; refcnt must already be -1.
func (s *Store) evictLocked(ch *ochunk) {
	if ch.refcnt != -1 {
		panic("ostor: eviction of a chunk not marked for destruction")
	}
	if ch.fd >= 0 {
		s.mu.Unlock()
		unix.Close(ch.fd)
		s.mu.Lock()
		ch.fd = -1
	}
	delete(s.byCid, ch.cid)
	if s.needLRU > 0 {
		s.needLRU--
	}
	s.numOpen--
	s.allocCond.Signal()
}

// Write appends data to the chunk cid, creating it if it does not yet
// exist.
func (s *Store) Write(cid uint64, data []byte) (int, error) {
	start := time.Now()
	ch, err := s.acquire(cid, true)
	if err != nil {
		return 0, err
	}
	defer s.release(ch)
	n, err := unix.Write(ch.fd, data)
	if err != nil {
		return n, rerr.Wrap("ostor.Write", err)
	}
	if s.metrics != nil {
		s.metrics.RecordChunkWrite(uint64(n), uint64(time.Since(start)))
	}
	return n, nil
}

// Read reads up to len(data) bytes from chunk cid at offset off.
func (s *Store) Read(cid uint64, off uint64, data []byte) (int, error) {
	start := time.Now()
	ch, err := s.acquire(cid, false)
	if err != nil {
		return 0, err
	}
	defer s.release(ch)
	n, err := unix.Pread(ch.fd, data, int64(off))
	if err != nil {
		return n, rerr.Wrap("ostor.Read", err)
	}
	if s.metrics != nil {
		s.metrics.RecordChunkRead(uint64(n), uint64(time.Since(start)))
	}
	return n, nil
}

// Unlink waits for outstanding readers and writers to finish, then
// deletes the backing file and evicts the chunk from the cache. It
// cannot race a concurrent create, since the chunk is marked refcnt=-1
// before the backing file is removed.
func (s *Store) Unlink(cid uint64) error {
	if cid == InvalidCid {
		return rerr.New("ostor.Unlink", rerr.Invalid, "invalid chunk id")
	}

	s.mu.Lock()
	var ch *ochunk
	for {
		if s.shutdown {
			s.mu.Unlock()
			return rerr.New("ostor.Unlink", rerr.Shutdown, "ostor is shutting down")
		}
		var ok bool
		ch, ok = s.byCid[cid]
		if !ok {
			s.mu.Unlock()
			return rerr.New("ostor.Unlink", rerr.NotFound, "chunk does not exist")
		}
		if ch.refcnt == -1 {
			s.mu.Unlock()
			return rerr.New("ostor.Unlink", rerr.NotFound, "chunk does not exist")
		}
		if ch.refcnt == 0 {
			break
		}
		s.cond.Wait()
	}
	ch.refcnt = -1
	if ch.elem != nil {
		s.byAtime.Remove(ch.elem)
		ch.elem = nil
	}
	s.mu.Unlock()

	if err := unix.Unlink(s.path(cid)); err != nil && err != unix.ENOENT {
		return rerr.Wrap("ostor.Unlink", err)
	}

	s.mu.Lock()
	s.evictLocked(ch)
	s.cond.Broadcast()
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ChunkUnlinks.Add(1)
	}
	return nil
}

const lruPeriod = 60 * time.Second

// findDisposableChunk returns the oldest idle chunk if it is either
// old enough to evict, or eviction is urgently needed to make room for
// a new open.
func (s *Store) findDisposableChunk(now time.Time) *ochunk {
	for e := s.byAtime.Front(); e != nil; e = e.Next() {
		ch := e.Value.(*ochunk)
		if ch.refcnt != 0 {
			continue
		}
		if s.needLRU == 0 && ch.atime.Add(s.atimeTimeo).After(now) {
			return nil
		}
		return ch
	}
	return nil
}

// lruLoop periodically evicts idle, stale file descriptors, waking
// early whenever acquire signals that the store is out of open slots.
func (s *Store) lruLoop() {
	defer close(s.lruDone)
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.shutdown {
			return
		}
		ch := s.findDisposableChunk(time.Now())
		if ch == nil {
			s.waitWithTimeout(lruPeriod)
			continue
		}
		s.byAtime.Remove(ch.elem)
		ch.elem = nil
		ch.refcnt = -1
		s.evictLocked(ch)
		s.cond.Broadcast()
		if s.metrics != nil {
			s.metrics.ChunkEvicts.Add(1)
		}
	}
}

// waitWithTimeout waits on lruCond for at most d, releasing the lock
// while parked. sync.Cond has no timed wait, so this arms a timer that
// broadcasts lruCond if nothing else does first.
func (s *Store) waitWithTimeout(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		s.mu.Lock()
		s.lruCond.Broadcast()
		s.mu.Unlock()
	})
	s.lruCond.Wait()
	timer.Stop()
}
