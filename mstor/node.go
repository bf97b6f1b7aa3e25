package mstor

import "github.com/redfish/redfish/pack"

// Permission bits, applied at each of the three positions documented in
// the permission-check algorithm: world (bits 0-2), group (bits 3-5),
// owner (bits 6-8).
const (
	PermExec  uint16 = 1
	PermWrite uint16 = 2
	PermRead  uint16 = 4
)

// IsDirFlag marks a node as a directory; it is stored in the high bits
// of ModeAndType, outside the permission bits.
const IsDirFlag uint16 = 0x8000

// Node is the metadata record stored under the 'n'-prefixed key.
type Node struct {
	ModeAndType uint16
	Mtime       int64
	Atime       int64
	Owner       string
	Group       string
}

func (n Node) IsDir() bool { return n.ModeAndType&IsDirFlag != 0 }

func (n Node) encode() string {
	w := pack.NewWriter(32 + len(n.Owner) + len(n.Group))
	w.PutUint16(n.ModeAndType)
	w.PutUint64(uint64(n.Mtime))
	w.PutUint64(uint64(n.Atime))
	w.PutString(n.Owner)
	w.PutString(n.Group)
	return string(w.Bytes())
}

func decodeNode(buf string) (Node, error) {
	r := pack.NewReader([]byte(buf))
	n := Node{
		ModeAndType: r.Uint16(),
	}
	n.Mtime = int64(r.Uint64())
	n.Atime = int64(r.Uint64())
	n.Owner = r.String()
	n.Group = r.String()
	return n, r.Err()
}

func encodeNid(nid uint64) string {
	w := pack.NewWriter(8)
	w.PutUint64(nid)
	return string(w.Bytes())
}

func decodeNid(buf string) (uint64, error) {
	r := pack.NewReader([]byte(buf))
	nid := r.Uint64()
	return nid, r.Err()
}
