package mstor

import (
	"github.com/redfish/redfish/pack"
)

// Key prefixes, as laid out in the data model: node records, child
// edges, chunk-to-OSD-list mappings, and file-to-chunk mappings all
// share one ordered keyspace so that a single engine instance backs the
// entire namespace.
const (
	prefixNode  = 'n'
	prefixChild = 'c'
	prefixChunk = 'h'
	prefixFile  = 'f'
)

// RootNid is the node id of the filesystem root.
const RootNid uint64 = 1

func nodeKey(nid uint64) string {
	w := pack.NewWriter(9)
	w.PutBytes([]byte{prefixNode})
	w.PutUint64(nid)
	return string(w.Bytes())
}

func childKey(parent uint64, name string) string {
	w := pack.NewWriter(9 + len(name))
	w.PutBytes([]byte{prefixChild})
	w.PutUint64(parent)
	w.PutBytes([]byte(name))
	return string(w.Bytes())
}

func chunkKey(chunkID uint64) string {
	w := pack.NewWriter(9)
	w.PutBytes([]byte{prefixChunk})
	w.PutUint64(chunkID)
	return string(w.Bytes())
}

func fileKey(nid, offset uint64) string {
	w := pack.NewWriter(17)
	w.PutBytes([]byte{prefixFile})
	w.PutUint64(nid)
	w.PutUint64(offset)
	return string(w.Bytes())
}

// nodeKeyPrefix is used to scan every node record at startup, to recover
// the high-water mark for next-nid generation.
const nodeKeyPrefix = string(rune(prefixNode))
