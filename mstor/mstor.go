// Package mstor implements the metadata store: a path-walking layer on
// top of an ordered key/value engine (github.com/tidwall/buntdb),
// providing directory creation, stat, and permission-checked lookups
// exactly as specified for the namespace half of redfish.
package mstor

import (
	"path"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/buntdb"

	"github.com/redfish/redfish/rerr"
)

// Store is the metadata store for one MDS's shard of the namespace.
type Store struct {
	db *buntdb.DB

	mu      sync.Mutex
	nextNid uint64
}

// Open opens (creating if necessary) the ordered-KV-backed metadata
// store at dbPath, seeding the in-memory next-nid counter from the
// highest existing 'n'-prefixed key, and ensuring a root node exists.
func Open(dbPath string, createRoot bool, rootMode uint16) (*Store, error) {
	db, err := buntdb.Open(dbPath)
	if err != nil {
		return nil, rerr.Wrap("mstor.Open", err)
	}
	s := &Store{db: db, nextNid: RootNid + 1}

	if err := s.scanMaxNid(); err != nil {
		db.Close()
		return nil, err
	}

	if createRoot {
		if err := s.ensureRoot(rootMode); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// scanMaxNid recovers the next-nid high-water mark by scanning existing
// node records in key order, per the "Next node id generation" design:
// next_nid is seeded from the max 'n'-prefixed key at startup.
func (s *Store) scanMaxNid() error {
	return s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendGreaterOrEqual("", nodeKeyPrefix, func(key, value string) bool {
			if len(key) == 0 || key[0] != prefixNode {
				return false
			}
			nid, err := decodeNid(key[1:])
			if err != nil {
				return true
			}
			if nid+1 > s.nextNid {
				s.nextNid = nid + 1
			}
			return true
		})
	})
}

func (s *Store) ensureRoot(mode uint16) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Get(nodeKey(RootNid))
		if err == nil {
			return nil
		}
		if err != buntdb.ErrNotFound {
			return err
		}
		root := Node{
			ModeAndType: mode | IsDirFlag,
			Mtime:       time.Now().Unix(),
			Atime:       time.Now().Unix(),
			Owner:       "root",
			Group:       "root",
		}
		_, _, err = tx.Set(nodeKey(RootNid), root.encode(), nil)
		return err
	})
}

// allocNid atomically hands out the next node id.
func (s *Store) allocNid() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	nid := s.nextNid
	s.nextNid++
	return nid
}

func canonicalize(p string) string {
	p = path.Clean("/" + p)
	if p == "/" {
		return ""
	}
	return strings.TrimPrefix(p, "/")
}

func splitComponents(p string) []string {
	c := canonicalize(p)
	if c == "" {
		return nil
	}
	return strings.Split(c, "/")
}

// walkResult is the terminal state of a path walk: the final
// component's parent nid, its own nid (0 if it does not exist), and its
// node record (zero value if it does not exist).
type walkResult struct {
	parentNid uint64
	name      string
	nid       uint64
	node      Node
	exists    bool
}

// walk resolves path to its final component, checking exec permission
// on every intermediate directory along the way. It does not require
// the final component to exist; callers decide what "missing" means for
// their operation (ENOENT for Stat, "create it" for Mkdirs).
func (s *Store) walk(tx *buntdb.Tx, user, group, p string) (walkResult, error) {
	comps := splitComponents(p)
	parentNid := RootNid
	var parentNode Node
	if err := s.getNode(tx, parentNid, &parentNode); err != nil {
		return walkResult{}, err
	}

	if len(comps) == 0 {
		return walkResult{parentNid: 0, name: "", nid: RootNid, node: parentNode, exists: true}, nil
	}

	for i, c := range comps {
		if !parentNode.IsDir() {
			return walkResult{}, rerr.New("mstor.walk", rerr.NotDir, p)
		}
		if err := checkPerm(parentNode, user, group, PermExec); err != nil {
			return walkResult{}, err
		}
		childNid, ok, err := s.getChild(tx, parentNid, c)
		if err != nil {
			return walkResult{}, err
		}
		if !ok {
			if i == len(comps)-1 {
				return walkResult{parentNid: parentNid, name: c, exists: false}, nil
			}
			return walkResult{}, rerr.New("mstor.walk", rerr.NotFound, p)
		}
		var childNode Node
		if err := s.getNode(tx, childNid, &childNode); err != nil {
			return walkResult{}, err
		}
		if i == len(comps)-1 {
			return walkResult{parentNid: parentNid, name: c, nid: childNid, node: childNode, exists: true}, nil
		}
		parentNid = childNid
		parentNode = childNode
	}
	return walkResult{}, rerr.New("mstor.walk", rerr.Invalid, p)
}

func (s *Store) getNode(tx *buntdb.Tx, nid uint64, out *Node) error {
	val, err := tx.Get(nodeKey(nid))
	if err == buntdb.ErrNotFound {
		return rerr.New("mstor.getNode", rerr.NotFound, "no such node")
	}
	if err != nil {
		return rerr.Wrap("mstor.getNode", err)
	}
	n, decErr := decodeNode(val)
	if decErr != nil {
		return rerr.Wrap("mstor.getNode", decErr)
	}
	*out = n
	return nil
}

func (s *Store) getChild(tx *buntdb.Tx, parent uint64, name string) (uint64, bool, error) {
	val, err := tx.Get(childKey(parent, name))
	if err == buntdb.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, rerr.Wrap("mstor.getChild", err)
	}
	nid, decErr := decodeNid(val)
	if decErr != nil {
		return 0, false, rerr.Wrap("mstor.getChild", decErr)
	}
	return nid, true, nil
}

// createChild atomically writes the parent-child edge and the new
// node's record in a single KV transaction; the engine's Update call
// rolls back both puts on any error.
func (s *Store) createChild(tx *buntdb.Tx, parent uint64, name string, node Node) (uint64, error) {
	nid := s.allocNid()
	if _, _, err := tx.Set(childKey(parent, name), encodeNid(nid), nil); err != nil {
		return 0, rerr.Wrap("mstor.createChild", err)
	}
	if _, _, err := tx.Set(nodeKey(nid), node.encode(), nil); err != nil {
		return 0, rerr.Wrap("mstor.createChild", err)
	}
	return nid, nil
}

// Stat resolves path and returns its node record, enforcing exec
// permission on every intermediate directory.
func (s *Store) Stat(user, group, p string) (nid uint64, node Node, err error) {
	txErr := s.db.View(func(tx *buntdb.Tx) error {
		res, werr := s.walk(tx, user, group, p)
		if werr != nil {
			return werr
		}
		if !res.exists {
			return rerr.New("mstor.Stat", rerr.NotFound, p)
		}
		nid, node = res.nid, res.node
		return nil
	})
	if txErr != nil {
		return 0, Node{}, txErr
	}
	return nid, node, nil
}

// Mkdirs creates path and any missing intermediate directories with
// mode. It is not an error for path to already exist as a directory;
// it IS an error for an existing non-directory component to be in the
// way.
func (s *Store) Mkdirs(user, group, p string, mode uint16, ctime int64) error {
	comps := splitComponents(p)
	if len(comps) == 0 {
		return nil // root always exists
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		parentNid := RootNid
		var parentNode Node
		if err := s.getNode(tx, parentNid, &parentNode); err != nil {
			return err
		}
		for _, c := range comps {
			if !parentNode.IsDir() {
				return rerr.New("mstor.Mkdirs", rerr.NotDir, p)
			}
			if err := checkPerm(parentNode, user, group, PermExec); err != nil {
				return err
			}
			childNid, ok, err := s.getChild(tx, parentNid, c)
			if err != nil {
				return err
			}
			if !ok {
				if err := checkPerm(parentNode, user, group, PermWrite); err != nil {
					return err
				}
				node := Node{
					ModeAndType: mode | IsDirFlag,
					Mtime:       ctime,
					Atime:       ctime,
					Owner:       user,
					Group:       group,
				}
				childNid, err = s.createChild(tx, parentNid, c, node)
				if err != nil {
					return err
				}
				parentNid, parentNode = childNid, node
				continue
			}
			var childNode Node
			if err := s.getNode(tx, childNid, &childNode); err != nil {
				return err
			}
			parentNid, parentNode = childNid, childNode
		}
		if !parentNode.IsDir() {
			return rerr.New("mstor.Mkdirs", rerr.NotDir, p)
		}
		return nil
	})
}

// Create makes a single new node named by the final component of path;
// per CREAT semantics, the final component must not already exist.
func (s *Store) Create(user, group, p string, mode uint16, isDir bool, ctime int64) (uint64, error) {
	var nid uint64
	err := s.db.Update(func(tx *buntdb.Tx) error {
		res, werr := s.walk(tx, user, group, p)
		if werr != nil {
			return werr
		}
		if res.exists {
			return rerr.New("mstor.Create", rerr.Exist, p)
		}
		var parentNode Node
		if err := s.getNode(tx, res.parentNid, &parentNode); err != nil {
			return err
		}
		if err := checkPerm(parentNode, user, group, PermWrite); err != nil {
			return err
		}
		mt := mode
		if isDir {
			mt |= IsDirFlag
		}
		node := Node{ModeAndType: mt, Mtime: ctime, Atime: ctime, Owner: user, Group: group}
		var err error
		nid, err = s.createChild(tx, res.parentNid, res.name, node)
		return err
	})
	if err != nil {
		return 0, err
	}
	return nid, nil
}

// DumpEntry is one node record surfaced by Dump, identified by its raw
// node id rather than its path (Dump does not reconstruct paths; it is
// an offline inspection aid, not a namespace walk).
type DumpEntry struct {
	Nid  uint64
	Node Node
}

// Dump returns every node record in the store in key order, for the
// offline inspection tool. It takes no locks beyond the underlying
// engine's read transaction and must not be called against a store
// that a live daemon is concurrently writing to.
func (s *Store) Dump() ([]DumpEntry, error) {
	var entries []DumpEntry
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendGreaterOrEqual("", nodeKeyPrefix, func(key, value string) bool {
			if len(key) == 0 || key[0] != prefixNode {
				return false
			}
			nid, derr := decodeNid(key[1:])
			if derr != nil {
				return true
			}
			node, derr := decodeNode(value)
			if derr != nil {
				return true
			}
			entries = append(entries, DumpEntry{Nid: nid, Node: node})
			return true
		})
	})
	if err != nil {
		return nil, rerr.Wrap("mstor.Dump", err)
	}
	return entries, nil
}
