// Package dmap implements the delegation map: a trie keyed by path
// component that answers "which delegation group owns this path?" by
// returning the dgid of the deepest ancestor (including the path itself)
// that carries one.
//
// Nodes are modeled as a sum type: a node in the trie is either a Placeholder (exists only to connect a
// deeper Owned node to the root, carries no dgid of its own) or Owned
// (carries a dgid). There is no explicit "Empty" node value — an empty
// slot is simply absent from its parent's children map.
package dmap

import (
	"strings"

	"github.com/redfish/redfish/rerr"
)

// RootDgid is the delegation id implicitly owned by the root of every
// dmap.
const RootDgid uint64 = 0

type kind int

const (
	placeholder kind = iota
	owned
)

type node struct {
	kind     kind
	dgid     uint64
	children map[string]*node
}

// Dmap is a path-component trie mapping subtrees to delegation ids.
type Dmap struct {
	root *node
}

// New returns an empty Dmap whose root owns RootDgid.
func New() *Dmap {
	return &Dmap{root: &node{kind: owned, dgid: RootDgid}}
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Lookup returns the dgid of the deepest ancestor of path (including
// path itself) that carries one; at minimum, RootDgid.
func (d *Dmap) Lookup(path string) uint64 {
	comps := splitPath(path)
	cur := d.root
	last := d.root.dgid
	for _, c := range comps {
		child, ok := cur.children[c]
		if !ok {
			return last
		}
		cur = child
		if cur.kind == owned {
			last = cur.dgid
		}
	}
	return last
}

// Add assigns dgid to path, creating placeholder ancestors as needed. It
// fails with rerr.Exist if path already carries a dgid.
func (d *Dmap) Add(path string, dgid uint64) error {
	comps := splitPath(path)
	if len(comps) == 0 {
		return rerr.New("dmap.Add", rerr.Invalid, "cannot add a delegation at the root")
	}
	cur := d.root
	for i, c := range comps {
		child, ok := cur.children[c]
		if !ok {
			child = &node{kind: placeholder}
			if cur.children == nil {
				cur.children = make(map[string]*node)
			}
			cur.children[c] = child
		}
		if i == len(comps)-1 {
			if child.kind == owned {
				return rerr.New("dmap.Add", rerr.Exist, path)
			}
			child.kind = owned
			child.dgid = dgid
			return nil
		}
		cur = child
	}
	return nil
}

// Remove clears the dgid on path and cascade-deletes any now-childless,
// now-unowned placeholder ancestors. The root cannot be removed.
func (d *Dmap) Remove(path string) error {
	comps := splitPath(path)
	if len(comps) == 0 {
		return rerr.New("dmap.Remove", rerr.Invalid, "cannot remove the root delegation")
	}

	type step struct {
		parent *node
		key    string
		node   *node
	}
	steps := make([]step, 0, len(comps))
	cur := d.root
	for _, c := range comps {
		child, ok := cur.children[c]
		if !ok {
			return rerr.New("dmap.Remove", rerr.NotFound, path)
		}
		steps = append(steps, step{parent: cur, key: c, node: child})
		cur = child
	}

	target := steps[len(steps)-1].node
	if target.kind != owned {
		return rerr.New("dmap.Remove", rerr.NotFound, path)
	}
	target.kind = placeholder
	target.dgid = 0

	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if s.node.kind == owned || len(s.node.children) > 0 {
			break
		}
		delete(s.parent.children, s.key)
	}
	return nil
}
