// Package index implements the secondary-index façade described in §4.G:
// point lookup, replace-based mutation, ALL/EQ/GE iteration, bulk build,
// and chunked destruction, composing zaddr, boxquery, and container behind
// a single public type.
package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"

	humanize "github.com/dustin/go-humanize"
	radixsort "github.com/dgryski/go-radixsort"

	"github.com/olegrok/memtx-zcurve/bitvec"
	"github.com/olegrok/memtx-zcurve/boxquery"
	"github.com/olegrok/memtx-zcurve/container"
	"github.com/olegrok/memtx-zcurve/internal/buildlog"
	"github.com/olegrok/memtx-zcurve/internal/fiber"
	"github.com/olegrok/memtx-zcurve/lane"
	"github.com/olegrok/memtx-zcurve/zaddr"
)

// Error kinds from §7.
var (
	ErrOutOfMemory             = errors.New("index: out of memory")
	ErrUnsupportedIteratorType = errors.New("index: unsupported iterator type")
	ErrUnsupportedDimension    = errors.New("index: unsupported dimension")
	ErrInvalidKeyShape         = errors.New("index: invalid key shape")
	ErrDuplicateConflict       = errors.New("index: duplicate conflict")
)

// IteratorType is the iterator selector accepted by CreateIterator. Only
// All, EQ, and GE are supported; every other form (strict greater-than,
// reverse orders) is rejected per §6.3's restrictive contract.
type IteratorType uint8

const (
	All IteratorType = iota
	EQ
	GE
)

// ReplaceMode controls duplicate resolution in Replace, mirroring the
// original engine's dup_replace_mode: ModeReplace always clobbers an
// existing duplicate (insert-or-replace), ModeNoClobber fails if one
// already exists, ModeStrict fails unless one already exists.
type ReplaceMode uint8

const (
	ModeReplace ReplaceMode = iota
	ModeNoClobber
	ModeStrict
)

// BuildMode selects the chunked-destroy yield cadence from §5: N=1000 in
// production, N=10 under debug so tests exercise the yield path without
// needing thousands of records.
type BuildMode uint8

const (
	BuildProduction BuildMode = iota
	BuildDebug
)

func destroyYieldEvery(mode BuildMode) int {
	if mode == BuildDebug {
		return 10
	}
	return 1000
}

// Options configures an Index at construction time.
type Options struct {
	KeyDef    *zaddr.KeyDef
	BuildMode BuildMode
	// Yielder overrides the cooperative-yield implementation used by
	// chunked destroy. Defaults to fiber.GoroutineYielder.
	Yielder fiber.Yielder
	// PrimaryRole marks this index as the engine's primary index, which
	// is the one that owns chunked background teardown of tuple
	// references on Destroy (§4.G). Secondary indexes free synchronously.
	PrimaryRole bool
}

// Index is the secondary-index façade: one zaddr.Builder, one
// container.Tree, and the fixed key definition, per §4.G.
type Index struct {
	keyDef  *zaddr.KeyDef
	builder *zaddr.Builder
	tree    container.Tree
	opts    Options

	building   bool
	buildQueue []container.Record
}

// New constructs an empty Index for keyDef. keyDef.Dim() must fall within
// [1, zaddr.MaxDimension].
func New(keyDef *zaddr.KeyDef, opts Options) (*Index, error) {
	d := keyDef.Dim()
	if d < 1 || d > zaddr.MaxDimension {
		return nil, fmt.Errorf("%w: dimension %d", ErrUnsupportedDimension, d)
	}
	builder, err := zaddr.NewBuilder(keyDef)
	if err != nil {
		return nil, fmt.Errorf("index: build interleave tables: %w", err)
	}
	if opts.Yielder == nil {
		opts.Yielder = fiber.GoroutineYielder{}
	}
	opts.KeyDef = keyDef
	return &Index{keyDef: keyDef, builder: builder, tree: newTree(keyDef), opts: opts}, nil
}

// newTree builds a container.Tree with the comparator §3's uniqueness
// invariant requires: a unique, non-nullable key_def dedupes by Z alone,
// matching the original engine's tree.arg choice between key_def and
// cmp_def (src/box/memtx_zcurve.c). Unique-but-nullable indexes fall back
// to the (Z, Hint) comparator, since a unique index can still store
// multiple NULLs.
func newTree(keyDef *zaddr.KeyDef) container.Tree {
	return container.NewTree(keyDef.Unique && !keyDef.Nullable)
}

func (ix *Index) requirePartCount(partCount, want int) error {
	if partCount != want {
		return fmt.Errorf("%w: expected %d parts, got %d", ErrInvalidKeyShape, want, partCount)
	}
	return nil
}

// Get resolves a point key (part_count == d) to its tuple, if present.
func (ix *Index) Get(key []lane.Value) (zaddr.TupleHandle, error) {
	d := ix.keyDef.Dim()
	if err := ix.requirePartCount(len(key), d); err != nil {
		return nil, err
	}
	z, err := ix.builder.EncodePoint(key)
	if err != nil {
		return nil, fmt.Errorf("index: encode point: %w", err)
	}
	rec, ok := ix.tree.Find(z)
	if !ok {
		return nil, nil
	}
	return rec.Tuple, nil
}

// Replace inserts newTuple (if non-nil), removes oldTuple (if non-nil), and
// returns the tuple displaced by the operation, per §4.G.
func (ix *Index) Replace(oldTuple, newTuple zaddr.TupleHandle, newKey []lane.Value, hint uint64, mode ReplaceMode) (displaced zaddr.TupleHandle, err error) {
	if newTuple != nil {
		d := ix.keyDef.Dim()
		if err := ix.requirePartCount(len(newKey), d); err != nil {
			return nil, err
		}
		z, err := ix.builder.EncodePoint(newKey)
		if err != nil {
			return nil, fmt.Errorf("index: encode point: %w", err)
		}
		rec := container.Record{Z: z, Tuple: newTuple, Hint: hint}
		old, had := ix.tree.Insert(rec)

		if had {
			switch mode {
			case ModeNoClobber:
				ix.tree.Insert(old) // rollback
				return nil, fmt.Errorf("%w: key already present", ErrDuplicateConflict)
			case ModeReplace, ModeStrict:
				// clobber is exactly what happened; fall through
			}
			newTuple.Retain()
			old.Tuple.Release()
			return old.Tuple, nil
		}

		if mode == ModeStrict {
			ix.tree.Delete(rec) // rollback: strict requires a pre-existing duplicate
			return nil, fmt.Errorf("%w: no existing record to replace", ErrDuplicateConflict)
		}
		newTuple.Retain()
		return nil, nil
	}

	if oldTuple != nil {
		d := ix.keyDef.Dim()
		if err := ix.requirePartCount(len(newKey), d); err != nil {
			return nil, err
		}
		z, err := ix.builder.EncodePoint(newKey)
		if err != nil {
			return nil, fmt.Errorf("index: encode point: %w", err)
		}
		rec, ok := ix.tree.Find(z)
		if !ok {
			return nil, nil
		}
		ix.tree.Delete(rec)
		rec.Tuple.Release()
		return rec.Tuple, nil
	}

	return nil, nil
}

// Iterator walks the index in Z order within [lo, hi], skipping irrelevant
// runs via boxquery's scroll policy.
type Iterator struct {
	cur    *container.Cursor
	lo, hi zaddr.Address
}

func (it *Iterator) zOf(r container.Record) zaddr.Address { return r.Z }

// Next returns the next matching tuple, or false when the iterator is
// exhausted.
func (it *Iterator) Next() (zaddr.TupleHandle, bool) {
	rec, ok := boxquery.Scroll[container.Record](it.cur, it.lo, it.hi, it.zOf)
	if !ok {
		return nil, false
	}
	it.cur.Next()
	return rec.Tuple, true
}

// CreateIterator builds an iterator per §4.G's key-layout rules. key has
// length 0 (full range sentinel), d (point, optionally EQ), or 2d
// (interleaved range, forces GE).
//
// §6.3 states "EQ yields at most the records with the exact argument Z";
// §4.G's own bullet list describes the d-part case as hi=ones regardless
// of type, checking exactness only at the first step. Those two can't both
// hold for a key shared across many records: hi=ones would let the scroll
// keep yielding every higher Z once the exact run ends. This implementation
// follows §6.3 and pins hi=lo for EQ, so the box collapses to the single
// Z value and the scroll naturally stops at the end of that run.
func (ix *Index) CreateIterator(kind IteratorType, key []lane.Value) (*Iterator, error) {
	if kind != All && kind != EQ && kind != GE {
		return nil, ErrUnsupportedIteratorType
	}

	d := ix.keyDef.Dim()
	var lo, hi zaddr.Address

	switch {
	case len(key) == 0 || kind == All:
		lo, hi = zaddr.Zeros(d), zaddr.Ones(d)
	case len(key) == d:
		var err error
		lo, err = ix.builder.EncodePoint(key)
		if err != nil {
			return nil, fmt.Errorf("index: encode point: %w", err)
		}
		if kind == EQ {
			hi = lo
		} else {
			hi = zaddr.Ones(d)
		}
	case len(key) == 2*d:
		var err error
		lo, hi, err = ix.builder.EncodeRange(key)
		if err != nil {
			return nil, fmt.Errorf("index: encode range: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: part count %d for dimension %d", ErrInvalidKeyShape, len(key), d)
	}

	cur, _ := ix.tree.LowerBound(lo)
	return &Iterator{cur: cur, lo: lo, hi: hi}, nil
}

// CreateSnapshotIterator returns a full-range iterator pinned to a frozen
// view of the tree: later mutations never disturb it (§5).
func (ix *Index) CreateSnapshotIterator() *Iterator {
	d := ix.keyDef.Dim()
	cur := ix.tree.IteratorFirst().Freeze()
	return &Iterator{cur: cur, lo: zaddr.Zeros(d), hi: zaddr.Ones(d)}
}

// BeginBuild opens an empty pending build batch. The index keeps its
// current contents until EndBuild replaces them with the batch.
func (ix *Index) BeginBuild() {
	ix.building = true
	ix.buildQueue = ix.buildQueue[:0]
	buildlog.Printf("index: begin build dim=%d", ix.keyDef.Dim())
}

// BuildNext appends one tuple's key into the pending build batch.
func (ix *Index) BuildNext(tuple zaddr.TupleHandle, key []lane.Value, hint uint64) error {
	if !ix.building {
		return fmt.Errorf("index: BuildNext called outside a build")
	}
	d := ix.keyDef.Dim()
	if err := ix.requirePartCount(len(key), d); err != nil {
		return err
	}
	z, err := ix.builder.EncodePoint(key)
	if err != nil {
		return fmt.Errorf("index: encode point: %w", err)
	}
	tuple.Retain()
	ix.buildQueue = append(ix.buildQueue, container.Record{Z: z, Tuple: tuple, Hint: hint})
	return nil
}

// EndBuild sorts the pending batch and bulk-loads it into the container,
// per §4.G's "sort by (z, hint, tuple) and hand to C.build". The sort runs
// over fixed-width byte keys (Z words MSW-first, then hint, then the
// original slice index as a stable tie-breaker) via
// github.com/dgryski/go-radixsort, which only operates on byte slices and
// so needs the build array flattened into that shape first.
func (ix *Index) EndBuild() {
	ix.buildQueue = radixSortedByZThenHint(ix.buildQueue, ix.keyDef.Dim())
	ix.tree.Build(ix.buildQueue)
	ix.building = false
	buildlog.Printf("index: end build size=%d", ix.tree.Size())
}

const radixKeyTailBytes = 8 + 4 // hint + original index

func radixSortedByZThenHint(records []container.Record, dim int) []container.Record {
	if len(records) == 0 {
		return records
	}
	keyLen := dim*8 + radixKeyTailBytes
	keys := make([][]byte, len(records))
	for i, rec := range records {
		buf := make([]byte, keyLen)
		pos := 0
		for w := dim - 1; w >= 0; w-- {
			binary.BigEndian.PutUint64(buf[pos:], rec.Z.Vector().Word(w))
			pos += 8
		}
		binary.BigEndian.PutUint64(buf[pos:], rec.Hint)
		pos += 8
		binary.BigEndian.PutUint32(buf[pos:], uint32(i))
		keys[i] = buf
	}

	radixsort.Bytes(keys)

	sorted := make([]container.Record, len(records))
	for i, k := range keys {
		origIdx := binary.BigEndian.Uint32(k[keyLen-4:])
		sorted[i] = records[origIdx]
	}
	return sorted
}

// Size returns the element count.
func (ix *Index) Size() int { return ix.tree.Size() }

// Bsize returns the index's estimated byte footprint: the container's own
// bookkeeping plus one Z-address's worth of bit-vector storage per record,
// per §4.G ("C.mem_used + size * bit_vector_bsize(d)").
func (ix *Index) Bsize() int {
	return ix.tree.MemUsed() + ix.tree.Size()*bitvec.Bsize(ix.keyDef.Dim())
}

// BsizeHuman renders Bsize with github.com/dustin/go-humanize for
// cmd/zcurvebench's summary output.
func (ix *Index) BsizeHuman() string {
	return humanize.Bytes(uint64(ix.Bsize()))
}

// Count reports how many tuples an iterator of this shape would yield.
// ALL short-circuits to Size(); everything else falls back to draining a
// real iterator, per §4.G.
func (ix *Index) Count(kind IteratorType, key []lane.Value) (int, error) {
	if kind == All && len(key) == 0 {
		return ix.Size(), nil
	}
	it, err := ix.CreateIterator(kind, key)
	if err != nil {
		return 0, err
	}
	n := 0
	for {
		_, ok := it.Next()
		if !ok {
			break
		}
		n++
	}
	return n, nil
}

// Random delegates to the container's reservoir pick.
func (ix *Index) Random(rnd *rand.Rand) (zaddr.TupleHandle, bool) {
	rec, ok := ix.tree.Random(rnd)
	if !ok {
		return nil, false
	}
	return rec.Tuple, true
}

// Destroy tears the index down. A primary-role index releases tuple
// references in chunks, yielding to the fiber scheduler every N releases
// so a large index's teardown never blocks the process past a single
// scheduler quantum; other roles free synchronously.
func (ix *Index) Destroy() {
	every := destroyYieldEvery(ix.opts.BuildMode)
	cur := ix.tree.IteratorFirst()
	released := 0
	for {
		rec, ok := cur.Element()
		if !ok {
			break
		}
		if ix.opts.PrimaryRole {
			rec.Tuple.Release()
		}
		cur.Next()
		released++
		if ix.opts.PrimaryRole && released%every == 0 {
			buildlog.Printf("index: destroy progress released=%d", released)
			ix.opts.Yielder.Yield()
		}
	}
	ix.tree = newTree(ix.keyDef)
}

