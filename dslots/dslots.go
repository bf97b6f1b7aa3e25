// Package dslots implements a sharded, lock-striped container of
// delegations: a fixed bank of buckets, each guarded by its own mutex,
// with batch add/remove operations that sort by bucket index first so
// that a whole batch only ever takes each bucket's lock once, in a
// globally consistent order (eliminating deadlock risk and lock thrash
// across concurrent batches).
package dslots

import (
	"sort"
	"sync"

	"github.com/redfish/redfish/rerr"
)

// MdsInfo identifies one MDS replica's view of a delegation.
type MdsInfo struct {
	Mid      uint16
	IP       uint32
	Port     uint16
	SendTime int64
	RecvTime int64
}

// Delegation is one entry in a dslot bucket.
type Delegation struct {
	Dgid     uint64
	Primary  MdsInfo
	Replicas []MdsInfo
}

type bucket struct {
	mu  sync.Mutex
	dgs map[uint64]*Delegation
}

// Dslots is a fixed-size bank of lock-striped buckets.
type Dslots struct {
	buckets []bucket
}

// New creates a Dslots with numBuckets shards.
func New(numBuckets int) *Dslots {
	d := &Dslots{buckets: make([]bucket, numBuckets)}
	for i := range d.buckets {
		d.buckets[i].dgs = make(map[uint64]*Delegation)
	}
	return d
}

// hash implements the bucket-index formula from the data model:
// ((17 + dgid) * 13) mod N.
func (d *Dslots) hash(dgid uint64) int {
	return int(((17 + dgid) * 13) % uint64(len(d.buckets)))
}

// sortedIndices returns, for each dgid, its bucket index, sorted by
// bucket index so callers can acquire each needed bucket's lock exactly
// once, in ascending order.
func (d *Dslots) sortedIndices(dgids []uint64) []struct {
	dgid   uint64
	bucket int
} {
	idx := make([]struct {
		dgid   uint64
		bucket int
	}, len(dgids))
	for i, id := range dgids {
		idx[i] = struct {
			dgid   uint64
			bucket int
		}{dgid: id, bucket: d.hash(id)}
	}
	sort.Slice(idx, func(i, j int) bool { return idx[i].bucket < idx[j].bucket })
	return idx
}

// Add inserts every delegation in dgs, sorting by bucket index first so
// each affected bucket's mutex is taken exactly once for the whole
// batch.
func (d *Dslots) Add(dgs []*Delegation) {
	dgids := make([]uint64, len(dgs))
	byDgid := make(map[uint64]*Delegation, len(dgs))
	for i, dg := range dgs {
		dgids[i] = dg.Dgid
		byDgid[dg.Dgid] = dg
	}
	idx := d.sortedIndices(dgids)

	prevBucket := -1
	for _, e := range idx {
		if e.bucket != prevBucket {
			if prevBucket != -1 {
				d.buckets[prevBucket].mu.Unlock()
			}
			d.buckets[e.bucket].mu.Lock()
			prevBucket = e.bucket
		}
		b := &d.buckets[e.bucket]
		b.dgs[e.dgid] = byDgid[e.dgid]
	}
	if prevBucket != -1 {
		d.buckets[prevBucket].mu.Unlock()
	}
}

// Remove deletes every dgid in dgids, with the same sort-then-lock-once
// discipline as Add. Returns the number actually removed.
func (d *Dslots) Remove(dgids []uint64) int {
	idx := d.sortedIndices(dgids)
	removed := 0

	prevBucket := -1
	for _, e := range idx {
		if e.bucket != prevBucket {
			if prevBucket != -1 {
				d.buckets[prevBucket].mu.Unlock()
			}
			d.buckets[e.bucket].mu.Lock()
			prevBucket = e.bucket
		}
		b := &d.buckets[e.bucket]
		if _, ok := b.dgs[e.dgid]; ok {
			delete(b.dgs, e.dgid)
			removed++
		}
	}
	if prevBucket != -1 {
		d.buckets[prevBucket].mu.Unlock()
	}
	return removed
}

// Lock locates dgid's bucket, locks it, and returns the delegation if
// present. The caller MUST pair a successful Lock with Unlock. Returns
// rerr.NotFound (with the bucket left unlocked) if dgid is absent.
func (d *Dslots) Lock(dgid uint64) (*Delegation, error) {
	idx := d.hash(dgid)
	b := &d.buckets[idx]
	b.mu.Lock()
	dg, ok := b.dgs[dgid]
	if !ok {
		b.mu.Unlock()
		return nil, rerr.New("dslots.Lock", rerr.NotFound, "no such delegation")
	}
	return dg, nil
}

// Unlock releases the bucket lock taken by a successful Lock for the
// same dgid's delegation.
func (d *Dslots) Unlock(dg *Delegation) {
	idx := d.hash(dg.Dgid)
	d.buckets[idx].mu.Unlock()
}
