// Package container implements the ordered collection the index façade
// builds on (component F): a persistent, path-copying order-statistics AVL
// tree of (z, tuple, hint) records, grounded on the public shape of
// hashicorp/go-immutable-radix (examined in the Thesis go.mod but rejected
// as the comparator itself, since it indexes byte-string prefixes rather
// than a fixed-width key with a tie-break hint). What survives from that
// library is its persistence model: mutation path-copies rather than
// mutates in place, so a previously captured Iterator keeps walking the
// tree exactly as it was at capture time even after further inserts or
// deletes, which is what Cursor.Freeze relies on to give a snapshot
// iterator a stable view.
//
// Tree carries one other knob, zOnly, mirroring
// memtx_zcurve_index_update_def's selection of tree.arg in the original
// engine (src/box/memtx_zcurve.c): a unique, non-nullable index compares
// by Z alone so a second record at the same Z is always a duplicate; every
// other index compares by (Z, Hint) so distinct tuples can share a Z.
package container

import (
	"math/rand"

	"github.com/zeebo/xxh3"

	"github.com/olegrok/memtx-zcurve/zaddr"
)

// Record is one indexed entry: a Z-address, the externally owned tuple
// handle it refers to, and the tie-break hint used to order records that
// share a Z-address.
type Record struct {
	Z     zaddr.Address
	Tuple zaddr.TupleHandle
	Hint  uint64
}

// compareRecords orders by Z (MSW-first), then by Hint, matching §4.F's
// comparator: "compare by z ... break ties with the host-supplied tuple
// comparator using the hint".
func compareRecords(a, b Record) int {
	if c := zaddr.Compare(a.Z, b.Z); c != 0 {
		return c
	}
	switch {
	case a.Hint < b.Hint:
		return -1
	case a.Hint > b.Hint:
		return 1
	default:
		return 0
	}
}

// compareByZ orders by Z alone, ignoring Hint.
func compareByZ(a, b Record) int {
	return zaddr.Compare(a.Z, b.Z)
}

type node struct {
	rec         Record
	left, right *node
	height      int
	size        int
}

func height(n *node) int {
	if n == nil {
		return 0
	}
	return n.height
}

func size(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func newNode(rec Record, left, right *node) *node {
	h := height(left)
	if hr := height(right); hr > h {
		h = hr
	}
	return &node{
		rec:    rec,
		left:   left,
		right:  right,
		height: h + 1,
		size:   size(left) + size(right) + 1,
	}
}

func balanceFactor(n *node) int {
	return height(n.left) - height(n.right)
}

func rotateRight(n *node) *node {
	l := n.left
	return newNode(l.rec, l.left, newNode(n.rec, l.right, n.right))
}

func rotateLeft(n *node) *node {
	r := n.right
	return newNode(r.rec, newNode(n.rec, n.left, r.left), r.right)
}

func rebalance(n *node) *node {
	bf := balanceFactor(n)
	switch {
	case bf > 1:
		if balanceFactor(n.left) < 0 {
			n = newNode(n.rec, rotateLeft(n.left), n.right)
		}
		return rotateRight(n)
	case bf < -1:
		if balanceFactor(n.right) > 0 {
			n = newNode(n.rec, n.left, rotateRight(n.right))
		}
		return rotateLeft(n)
	default:
		return n
	}
}

// Tree is a persistent order-statistics AVL tree. The zero value is an
// empty, non-unique tree (records compared by Z then Hint).
type Tree struct {
	root  *node
	count int
	zOnly bool
}

// NewTree returns an empty tree. zOnly selects the comparator the tree
// orders and deduplicates on: true compares by Z alone, so a second
// Insert at an already-present Z always reports a duplicate regardless of
// Hint; false (the zero value's behavior) compares by (Z, Hint), letting
// distinct tuples share a Z as long as their hints differ.
//
// This mirrors memtx_zcurve_index_update_def's choice of tree.arg in the
// original engine: a unique, non-nullable index uses the Z-only key_def
// comparator, everything else (non-unique, or unique-but-nullable, since a
// unique index can still store multiple NULLs) uses the extended
// key+hint cmp_def. index.New passes keyDef.Unique && !keyDef.Nullable.
func NewTree(zOnly bool) Tree {
	return Tree{zOnly: zOnly}
}

func (t *Tree) cmp(a, b Record) int {
	if t.zOnly {
		return compareByZ(a, b)
	}
	return compareRecords(a, b)
}

// Size returns the number of records in the tree.
func (t *Tree) Size() int { return t.count }

const nodeOverheadBytes = 64 // two child pointers, tuple pointer, hint, height, size

// MemUsed estimates the container's own byte footprint, excluding the
// Z-address payloads themselves (those are accounted separately via
// bitvec.Bsize at the index layer, per §4.G's "C.mem_used + size *
// bit_vector_bsize(d)").
func (t *Tree) MemUsed() int { return t.count * nodeOverheadBytes }

// Insert adds rec, rebalancing as needed. If a record comparator-equal to
// rec already existed — same Z for a zOnly tree, same (Z, Hint) otherwise
// — it is replaced and returned alongside true.
func (t *Tree) Insert(rec Record) (dup Record, hadDup bool) {
	newRoot, old, had := insert(t.root, rec, t.cmp)
	t.root = newRoot
	if !had {
		t.count++
	}
	return old, had
}

func insert(n *node, rec Record, cmp func(Record, Record) int) (*node, Record, bool) {
	if n == nil {
		return newNode(rec, nil, nil), Record{}, false
	}
	c := cmp(rec, n.rec)
	switch {
	case c < 0:
		left, old, had := insert(n.left, rec, cmp)
		return rebalance(newNode(n.rec, left, n.right)), old, had
	case c > 0:
		right, old, had := insert(n.right, rec, cmp)
		return rebalance(newNode(n.rec, n.left, right)), old, had
	default:
		return newNode(rec, n.left, n.right), n.rec, true
	}
}

// Delete removes the record comparator-equal to rec (exact match under the
// tree's own comparator, zOnly or not), reporting whether one was found.
func (t *Tree) Delete(rec Record) bool {
	newRoot, removed := remove(t.root, rec, t.cmp)
	if removed {
		t.root = newRoot
		t.count--
	}
	return removed
}

func remove(n *node, rec Record, cmp func(Record, Record) int) (*node, bool) {
	if n == nil {
		return nil, false
	}
	c := cmp(rec, n.rec)
	switch {
	case c < 0:
		left, removed := remove(n.left, rec, cmp)
		if !removed {
			return n, false
		}
		return rebalance(newNode(n.rec, left, n.right)), true
	case c > 0:
		right, removed := remove(n.right, rec, cmp)
		if !removed {
			return n, false
		}
		return rebalance(newNode(n.rec, n.left, right)), true
	default:
		if n.left == nil {
			return n.right, true
		}
		if n.right == nil {
			return n.left, true
		}
		succ := leftmost(n.right)
		newRight, _ := remove(n.right, succ.rec, cmp)
		return rebalance(newNode(succ.rec, n.left, newRight)), true
	}
}

func leftmost(n *node) *node {
	for n.left != nil {
		n = n.left
	}
	return n
}

// Find returns the first record (lowest Hint) with exactly Z == z.
func (t *Tree) Find(z zaddr.Address) (Record, bool) {
	it, exact := t.LowerBound(z)
	if !exact {
		return Record{}, false
	}
	rec, _ := it.Element()
	return rec, true
}

// Cursor walks the tree in ascending Z order via a path from the root to
// the current node, which lets Next/Prev run in amortized O(1) without
// parent pointers on the (immutable) nodes.
type Cursor struct {
	path []*node
}

// Element implements boxquery.Cursor: the record at the cursor, or false if
// the cursor has run off either end.
func (c *Cursor) Element() (Record, bool) {
	if len(c.path) == 0 {
		return Record{}, false
	}
	return c.path[len(c.path)-1].rec, true
}

// IsInvalid reports whether the cursor is positioned past either end.
func (c *Cursor) IsInvalid() bool { return len(c.path) == 0 }

// Next advances the cursor to the successor record.
func (c *Cursor) Next() {
	if len(c.path) == 0 {
		return
	}
	cur := c.path[len(c.path)-1]
	if cur.right != nil {
		n := cur.right
		c.path = append(c.path, n)
		for n.left != nil {
			n = n.left
			c.path = append(c.path, n)
		}
		return
	}
	for len(c.path) > 1 {
		child := c.path[len(c.path)-1]
		c.path = c.path[:len(c.path)-1]
		parent := c.path[len(c.path)-1]
		if parent.left == child {
			return
		}
	}
	c.path = nil
}

// Prev moves the cursor to the predecessor record.
func (c *Cursor) Prev() {
	if len(c.path) == 0 {
		return
	}
	cur := c.path[len(c.path)-1]
	if cur.left != nil {
		n := cur.left
		c.path = append(c.path, n)
		for n.right != nil {
			n = n.right
			c.path = append(c.path, n)
		}
		return
	}
	for len(c.path) > 1 {
		child := c.path[len(c.path)-1]
		c.path = c.path[:len(c.path)-1]
		parent := c.path[len(c.path)-1]
		if parent.right == child {
			return
		}
	}
	c.path = nil
}

// Freeze returns an independent copy of the cursor's current path. Because
// tree nodes are never mutated in place (insert/delete path-copy), the
// original cursor already keeps walking whatever tree shape existed at
// capture time; Freeze exists to hand the caller its own slice header so
// advancing one cursor can never alias the other's path array.
func (c *Cursor) Freeze() *Cursor {
	frozen := make([]*node, len(c.path))
	copy(frozen, c.path)
	return &Cursor{path: frozen}
}

// SeekLowerBound repositions the cursor at the first record with
// Z >= target, matching boxquery.Cursor.
func (c *Cursor) SeekLowerBound(target zaddr.Address) {
	c.path = seekPath(c.path, target)
}

func seekPath(path []*node, target zaddr.Address) []*node {
	var root *node
	if len(path) > 0 {
		root = path[0]
	}
	return descendGE(root, target)
}

func descendGE(n *node, target zaddr.Address) []*node {
	var path []*node
	keep := 0
	for n != nil {
		path = append(path, n)
		if zaddr.Compare(n.rec.Z, target) >= 0 {
			keep = len(path)
			n = n.left
		} else {
			n = n.right
		}
	}
	return path[:keep]
}

func descendGT(n *node, target zaddr.Address) []*node {
	var path []*node
	keep := 0
	for n != nil {
		path = append(path, n)
		if zaddr.Compare(n.rec.Z, target) > 0 {
			keep = len(path)
			n = n.left
		} else {
			n = n.right
		}
	}
	return path[:keep]
}

func descendElemGE(n *node, target Record) []*node {
	var path []*node
	keep := 0
	for n != nil {
		path = append(path, n)
		if compareRecords(n.rec, target) >= 0 {
			keep = len(path)
			n = n.left
		} else {
			n = n.right
		}
	}
	return path[:keep]
}

func descendElemGT(n *node, target Record) []*node {
	var path []*node
	keep := 0
	for n != nil {
		path = append(path, n)
		if compareRecords(n.rec, target) > 0 {
			keep = len(path)
			n = n.left
		} else {
			n = n.right
		}
	}
	return path[:keep]
}

// LowerBound returns a cursor at the first record with Z >= z, and whether
// an exact Z match sits there.
func (t *Tree) LowerBound(z zaddr.Address) (*Cursor, bool) {
	path := descendGE(t.root, z)
	cur := &Cursor{path: path}
	if len(path) == 0 {
		return cur, false
	}
	return cur, zaddr.Compare(path[len(path)-1].rec.Z, z) == 0
}

// UpperBound returns a cursor at the first record with Z > z, and whether
// an exact Z match existed anywhere in the tree (checked via LowerBound).
func (t *Tree) UpperBound(z zaddr.Address) (*Cursor, bool) {
	_, exact := t.LowerBound(z)
	path := descendGT(t.root, z)
	return &Cursor{path: path}, exact
}

// LowerBoundElem returns a cursor at the first record >= rec under the full
// (Z, Hint) comparator.
func (t *Tree) LowerBoundElem(rec Record) *Cursor {
	return &Cursor{path: descendElemGE(t.root, rec)}
}

// UpperBoundElem returns a cursor at the first record > rec under the full
// (Z, Hint) comparator.
func (t *Tree) UpperBoundElem(rec Record) *Cursor {
	return &Cursor{path: descendElemGT(t.root, rec)}
}

// IteratorFirst returns a cursor at the lowest-Z record, or an invalid
// cursor if the tree is empty.
func (t *Tree) IteratorFirst() *Cursor {
	var path []*node
	n := t.root
	for n != nil {
		path = append(path, n)
		n = n.left
	}
	return &Cursor{path: path}
}

// Build discards the current contents and bulk-loads from records, which
// must already be sorted ascending by the (Z, Hint) comparator (the index
// façade sorts the pending build array with github.com/dgryski/go-radixsort
// before calling this).
func (t *Tree) Build(records []Record) {
	t.root = buildBalanced(records)
	t.count = len(records)
}

func buildBalanced(records []Record) *node {
	if len(records) == 0 {
		return nil
	}
	mid := len(records) / 2
	return newNode(records[mid], buildBalanced(records[:mid]), buildBalanced(records[mid+1:]))
}

// Random returns a uniformly chosen record, or false if the tree is empty.
// The selection index is drawn from rnd but salted through xxh3 so that a
// caller reusing a low-entropy rnd stream across many calls does not walk
// the same modulo-biased sequence of tree positions every time.
func (t *Tree) Random(rnd *rand.Rand) (Record, bool) {
	if t.count == 0 {
		return Record{}, false
	}
	var buf [8]byte
	rnd.Read(buf[:])
	salted := xxh3.Hash(buf[:])
	idx := int(salted % uint64(t.count))
	return nth(t.root, idx).rec, true
}

func nth(n *node, idx int) *node {
	for {
		ls := size(n.left)
		switch {
		case idx < ls:
			n = n.left
		case idx > ls:
			idx -= ls + 1
			n = n.right
		default:
			return n
		}
	}
}
