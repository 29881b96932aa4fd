/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package index

import (
	"sync"

	"scdb/internal/storage"
)

// DefaultDegree is the minimum degree (t) spec.md §4.4 names as the
// example configuration: up to 2t-1 = 5 keys per node.
const DefaultDegree = 3

type btreeNode struct {
	leaf     bool
	keys     []storage.Value
	refs     [][]storage.Ref // refs[i] are the refs recorded against keys[i], in insertion order
	children []*btreeNode
}

func newBTreeNode(leaf bool) *btreeNode {
	return &btreeNode{leaf: leaf}
}

// BTree is an in-memory B-tree index over a single column. Keys compare
// under col's collation (storage.CompareValues); duplicate keys are
// supported by accumulating a ref list per unique key rather than
// repeating the key across multiple node entries.
type BTree struct {
	mu     sync.RWMutex
	col    storage.Column
	degree int
	root   *btreeNode
	stale  bool

	entries int64 // total (key,ref) pairs currently indexed
}

// NewBTree builds an empty B-tree index over col with the given minimum
// degree (DefaultDegree if degree <= 1).
func NewBTree(col storage.Column, degree int) *BTree {
	if degree <= 1 {
		degree = DefaultDegree
	}
	return &BTree{col: col, degree: degree, root: newBTreeNode(true)}
}

// compareErr carries a comparison failure (mismatched Kinds, an unresolvable
// locale) up through the tree's recursive helpers, which compare keys too
// often to thread an error return through every call site; public entry
// points recover it at the boundary and return it as an ordinary error.
type compareErr struct{ err error }

func (b *BTree) compare(a, c storage.Value) int {
	n, err := storage.CompareValues(b.col, a, c)
	if err != nil {
		panic(compareErr{err})
	}
	return n
}

// catch recovers a compareErr panic raised by compare, leaving any other
// panic to propagate, and assigns it to *errOut.
func catch(errOut *error) {
	if r := recover(); r != nil {
		if ce, ok := r.(compareErr); ok {
			*errOut = ce.err
			return
		}
		panic(r)
	}
}

func (b *BTree) maxKeys() int { return 2*b.degree - 1 }

// Add inserts (key, ref) into the tree, splitting the root if it is full.
func (b *BTree) Add(key storage.Value, ref storage.Ref) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer catch(&err)

	if len(b.root.keys) == b.maxKeys() {
		newRoot := newBTreeNode(false)
		newRoot.children = append(newRoot.children, b.root)
		b.splitChild(newRoot, 0)
		b.root = newRoot
	}
	b.insertNonFull(b.root, key, ref)
	b.entries++
	return nil
}

// splitChild splits the full child at parent.children[i] into two nodes,
// promoting its median key into parent at position i.
func (b *BTree) splitChild(parent *btreeNode, i int) {
	t := b.degree
	y := parent.children[i]
	z := newBTreeNode(y.leaf)

	midKey := y.keys[t-1]
	midRefs := y.refs[t-1]

	z.keys = append(z.keys, y.keys[t:]...)
	z.refs = append(z.refs, y.refs[t:]...)
	if !y.leaf {
		z.children = append(z.children, y.children[t:]...)
		y.children = y.children[:t]
	}
	y.keys = y.keys[:t-1]
	y.refs = y.refs[:t-1]

	parent.children = append(parent.children, nil)
	copy(parent.children[i+2:], parent.children[i+1:])
	parent.children[i+1] = z

	parent.keys = append(parent.keys, storage.Value{})
	copy(parent.keys[i+1:], parent.keys[i:])
	parent.keys[i] = midKey

	parent.refs = append(parent.refs, nil)
	copy(parent.refs[i+1:], parent.refs[i:])
	parent.refs[i] = midRefs
}

func (b *BTree) insertNonFull(node *btreeNode, key storage.Value, ref storage.Ref) {
	i := 0
	for i < len(node.keys) && b.compare(key, node.keys[i]) > 0 {
		i++
	}
	if i < len(node.keys) && b.compare(key, node.keys[i]) == 0 {
		node.refs[i] = append(node.refs[i], ref)
		return
	}
	if node.leaf {
		node.keys = append(node.keys, storage.Value{})
		copy(node.keys[i+1:], node.keys[i:])
		node.keys[i] = key

		node.refs = append(node.refs, nil)
		copy(node.refs[i+1:], node.refs[i:])
		node.refs[i] = []storage.Ref{ref}
		return
	}
	if len(node.children[i].keys) == b.maxKeys() {
		b.splitChild(node, i)
		switch {
		case b.compare(key, node.keys[i]) > 0:
			i++
		case b.compare(key, node.keys[i]) == 0:
			node.refs[i] = append(node.refs[i], ref)
			return
		}
	}
	b.insertNonFull(node.children[i], key, ref)
}

// Find returns every ref recorded against key, in insertion order.
func (b *BTree) Find(key storage.Value) (_ []storage.Ref, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	defer catch(&err)
	_, i, node := b.search(b.root, key)
	if node == nil {
		return nil, nil
	}
	out := make([]storage.Ref, len(node.refs[i]))
	copy(out, node.refs[i])
	return out, nil
}

// search locates key anywhere in the tree (internal nodes may hold a
// promoted duplicate-bearing key), returning the owning node and index.
func (b *BTree) search(node *btreeNode, key storage.Value) (int, int, *btreeNode) {
	if node == nil {
		return 0, 0, nil
	}
	i := 0
	for i < len(node.keys) && b.compare(key, node.keys[i]) > 0 {
		i++
	}
	if i < len(node.keys) && b.compare(key, node.keys[i]) == 0 {
		return 0, i, node
	}
	if node.leaf {
		return 0, 0, nil
	}
	return b.search(node.children[i], key)
}

// FindRange returns refs for every entry with key in [lo, hi], in
// ascending key order, ties within a key broken by insertion order. A NULL
// hi leaves the range open above; since NULL sorts lowest, a NULL lo
// already leaves it open below.
func (b *BTree) FindRange(lo, hi storage.Value) (out []storage.Ref, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	defer catch(&err)
	b.collectRange(b.root, lo, hi, &out)
	return out, nil
}

func (b *BTree) collectRange(node *btreeNode, lo, hi storage.Value, out *[]storage.Ref) {
	if node == nil {
		return
	}
	for i := 0; i < len(node.keys); i++ {
		if !node.leaf {
			b.collectRange(node.children[i], lo, hi, out)
		}
		if b.compare(node.keys[i], lo) >= 0 && (hi.Kind == storage.KindNull || b.compare(node.keys[i], hi) <= 0) {
			*out = append(*out, node.refs[i]...)
		}
	}
	if !node.leaf {
		b.collectRange(node.children[len(node.keys)], lo, hi, out)
	}
}

// Remove drops ref from key's ref list. If the list becomes empty the key
// entry is removed outright; removing a key that lives on an internal
// node replaces it with its in-order predecessor, pulled up recursively.
// Underfull nodes left behind are not rebalanced (no borrow/merge): this
// trades strict node-fill guarantees for simplicity, the same tradeoff
// the B-tree reference this package is grounded on takes for its own
// delete path ("merge is an optimization, not critical for correctness").
func (b *BTree) Remove(key storage.Value, ref storage.Ref) (removed bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer catch(&err)
	removed = b.removeRef(b.root, key, ref)
	if removed {
		b.entries--
	}
	return removed, nil
}

func (b *BTree) removeRef(node *btreeNode, key storage.Value, ref storage.Ref) bool {
	if node == nil {
		return false
	}
	i := 0
	for i < len(node.keys) && b.compare(key, node.keys[i]) > 0 {
		i++
	}
	if i < len(node.keys) && b.compare(key, node.keys[i]) == 0 {
		list := node.refs[i]
		for j, r := range list {
			if r == ref {
				node.refs[i] = append(list[:j], list[j+1:]...)
				if len(node.refs[i]) == 0 {
					b.removeKeyAt(node, i)
				}
				return true
			}
		}
		return false
	}
	if node.leaf {
		return false
	}
	return b.removeRef(node.children[i], key, ref)
}

// removeKeyAt deletes an emptied key entry at index i of node.
func (b *BTree) removeKeyAt(node *btreeNode, i int) {
	if node.leaf {
		node.keys = append(node.keys[:i], node.keys[i+1:]...)
		node.refs = append(node.refs[:i], node.refs[i+1:]...)
		return
	}
	predKey, predRefs := b.removeMax(node.children[i])
	node.keys[i] = predKey
	node.refs[i] = predRefs
}

// removeMax removes and returns the maximum key entry in the subtree
// rooted at node.
func (b *BTree) removeMax(node *btreeNode) (storage.Value, []storage.Ref) {
	if node.leaf {
		last := len(node.keys) - 1
		key, refs := node.keys[last], node.refs[last]
		node.keys = node.keys[:last]
		node.refs = node.refs[:last]
		return key, refs
	}
	return b.removeMax(node.children[len(node.children)-1])
}

// Clear discards the tree's contents.
func (b *BTree) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.root = newBTreeNode(true)
	b.entries = 0
	b.stale = false
}

// Stale reports whether the index needs a rebuild before its next probe.
func (b *BTree) Stale() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stale
}

// MarkStale flags the index as needing a rebuild.
func (b *BTree) MarkStale() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stale = true
}

// Stats reports spec.md §4.4's named statistics.
func (b *BTree) Stats() Statistics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	uniqueKeys := int64(0)
	memBytes := int64(0)
	var walk func(*btreeNode)
	walk = func(n *btreeNode) {
		if n == nil {
			return
		}
		uniqueKeys += int64(len(n.keys))
		memBytes += int64(len(n.keys)) * 48
		for i := range n.refs {
			memBytes += int64(len(n.refs[i])) * 8
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(b.root)
	stats := Statistics{
		UniqueKeys:       uniqueKeys,
		TotalEntries:     b.entries,
		MemoryUsageBytes: memBytes,
	}
	if uniqueKeys > 0 {
		stats.AverageEntriesPerKey = float64(b.entries) / float64(uniqueKeys)
	}
	if b.entries > 0 {
		stats.Selectivity = float64(uniqueKeys) / float64(b.entries)
	}
	return stats
}

var _ Index = (*BTree)(nil)
