package index

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/olegrok/memtx-zcurve/internal/fiber"
	"github.com/olegrok/memtx-zcurve/lane"
	"github.com/olegrok/memtx-zcurve/zaddr"
)

type testTuple struct {
	id       int
	refs     *int
	x, y     uint64
	released bool
}

func newTestTuple(id int, x, y uint64) *testTuple {
	refs := 1
	return &testTuple{id: id, refs: &refs, x: x, y: y}
}

func (t *testTuple) Retain()  { *t.refs++ }
func (t *testTuple) Release() { *t.refs--; t.released = true }

func point(x, y uint64) []lane.Value { return []lane.Value{lane.Unsigned(x), lane.Unsigned(y)} }

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	kd, err := zaddr.NewKeyDef([]zaddr.PartType{zaddr.Unsigned, zaddr.Unsigned}, true, false)
	require.NoError(t, err)
	ix, err := New(kd, Options{})
	require.NoError(t, err)
	return ix
}

func TestNewKeyDefRejectsBadDimension(t *testing.T) {
	kd, err := zaddr.NewKeyDef(make([]zaddr.PartType, zaddr.MaxDimension+1), true, false)
	require.Error(t, err)
	require.Nil(t, kd)
}

func TestGetAndReplaceRoundTrip(t *testing.T) {
	ix := newTestIndex(t)
	tup := newTestTuple(1, 3, 4)

	_, err := ix.Replace(nil, tup, point(3, 4), 1, ModeReplace)
	require.NoError(t, err)

	got, err := ix.Get(point(3, 4))
	require.NoError(t, err)
	require.Equal(t, tup, got)

	miss, err := ix.Get(point(9, 9))
	require.NoError(t, err)
	require.Nil(t, miss)
}

func TestReplaceNoClobberRejectsDuplicate(t *testing.T) {
	ix := newTestIndex(t)
	tupA := newTestTuple(1, 5, 5)
	tupB := newTestTuple(2, 5, 5)

	_, err := ix.Replace(nil, tupA, point(5, 5), 1, ModeNoClobber)
	require.NoError(t, err)

	_, err = ix.Replace(nil, tupB, point(5, 5), 1, ModeNoClobber)
	require.ErrorIs(t, err, ErrDuplicateConflict)

	got, err := ix.Get(point(5, 5))
	require.NoError(t, err)
	require.Equal(t, tupA, got, "rejected replace must not disturb the existing record")
}

func TestReplaceStrictRequiresExisting(t *testing.T) {
	ix := newTestIndex(t)
	tupA := newTestTuple(1, 1, 1)

	_, err := ix.Replace(nil, tupA, point(1, 1), 1, ModeStrict)
	require.ErrorIs(t, err, ErrDuplicateConflict)
	_, err = ix.Get(point(1, 1))
	require.NoError(t, err)
	got, _ := ix.Get(point(1, 1))
	require.Nil(t, got, "failed strict replace must leave nothing behind")

	_, err = ix.Replace(nil, tupA, point(1, 1), 1, ModeReplace)
	require.NoError(t, err)

	tupB := newTestTuple(2, 1, 1)
	displaced, err := ix.Replace(nil, tupB, point(1, 1), 1, ModeStrict)
	require.NoError(t, err)
	require.Equal(t, tupA, displaced)
}

func TestReplaceDeletesOldTuple(t *testing.T) {
	ix := newTestIndex(t)
	tup := newTestTuple(1, 2, 2)
	_, err := ix.Replace(nil, tup, point(2, 2), 1, ModeReplace)
	require.NoError(t, err)

	removed, err := ix.Replace(tup, nil, point(2, 2), 1, ModeReplace)
	require.NoError(t, err)
	require.Equal(t, tup, removed)
	require.True(t, tup.released)

	got, err := ix.Get(point(2, 2))
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestCreateIteratorAll(t *testing.T) {
	ix := newTestIndex(t)
	for i := uint64(0); i < 10; i++ {
		ix.Replace(nil, newTestTuple(int(i), i, i), point(i, i), i, ModeReplace)
	}

	it, err := ix.CreateIterator(All, nil)
	require.NoError(t, err)
	count := 0
	for {
		_, ok := it.Next()
		if !ok {
			break
		}
		count++
	}
	require.Equal(t, 10, count)
}

func TestCreateIteratorEQYieldsOnlyExactMatches(t *testing.T) {
	ix := newTestIndex(t)
	ix.Replace(nil, newTestTuple(1, 3, 3), point(3, 3), 1, ModeReplace)
	// newTestIndex builds a unique index, so a second tuple at the same Z
	// is a duplicate regardless of hint; see TestReplaceUniqueRejectsSameZDifferentHint.
	_, err := ix.Replace(nil, newTestTuple(2, 3, 3), point(3, 3), 2, ModeNoClobber)
	require.ErrorIs(t, err, ErrDuplicateConflict)
	ix.Replace(nil, newTestTuple(3, 5, 5), point(5, 5), 3, ModeReplace)

	it, err := ix.CreateIterator(EQ, point(3, 3))
	require.NoError(t, err)
	n := 0
	for {
		tup, ok := it.Next()
		if !ok {
			break
		}
		require.Equal(t, uint64(3), tup.(*testTuple).x)
		n++
	}
	require.Equal(t, 1, n)

	it2, err := ix.CreateIterator(EQ, point(100, 100))
	require.NoError(t, err)
	_, ok := it2.Next()
	require.False(t, ok)
}

// TestReplaceUniqueRejectsSameZDifferentHint locks down spec §3's
// uniqueness invariant: on a unique, non-nullable index, two distinct
// tuples sharing a Z must never both be accepted, even though their
// tie-break hints differ.
func TestReplaceUniqueRejectsSameZDifferentHint(t *testing.T) {
	ix := newTestIndex(t)
	tupA := newTestTuple(1, 3, 3)
	tupB := newTestTuple(2, 3, 3)

	_, err := ix.Replace(nil, tupA, point(3, 3), 10, ModeReplace)
	require.NoError(t, err)

	_, err = ix.Replace(nil, tupB, point(3, 3), 20, ModeNoClobber)
	require.ErrorIs(t, err, ErrDuplicateConflict)

	got, err := ix.Get(point(3, 3))
	require.NoError(t, err)
	require.Equal(t, tupA, got)
	require.Equal(t, 1, ix.Size())
}

func TestReplaceNonUniqueAllowsSameZDifferentHint(t *testing.T) {
	kd, err := zaddr.NewKeyDef([]zaddr.PartType{zaddr.Unsigned, zaddr.Unsigned}, false, false)
	require.NoError(t, err)
	ix, err := New(kd, Options{})
	require.NoError(t, err)

	_, err = ix.Replace(nil, newTestTuple(1, 3, 3), point(3, 3), 10, ModeNoClobber)
	require.NoError(t, err)
	_, err = ix.Replace(nil, newTestTuple(2, 3, 3), point(3, 3), 20, ModeNoClobber)
	require.NoError(t, err, "non-unique index must allow distinct hints at the same Z")
	require.Equal(t, 2, ix.Size())
}

func TestCreateIteratorGERange(t *testing.T) {
	ix := newTestIndex(t)
	for x := uint64(0); x < 5; x++ {
		for y := uint64(0); y < 5; y++ {
			ix.Replace(nil, newTestTuple(int(x*5+y), x, y), point(x, y), x*5+y, ModeReplace)
		}
	}

	key := []lane.Value{lane.Unsigned(1), lane.Unsigned(4), lane.Unsigned(1), lane.Unsigned(4)}
	it, err := ix.CreateIterator(GE, key)
	require.NoError(t, err)
	n := 0
	for {
		tup, ok := it.Next()
		if !ok {
			break
		}
		tt := tup.(*testTuple)
		require.GreaterOrEqual(t, tt.x, uint64(1))
		require.LessOrEqual(t, tt.x, uint64(4))
		require.GreaterOrEqual(t, tt.y, uint64(1))
		require.LessOrEqual(t, tt.y, uint64(4))
		n++
	}
	require.Equal(t, 16, n)
}

func TestCreateIteratorRejectsUnsupportedType(t *testing.T) {
	ix := newTestIndex(t)
	_, err := ix.CreateIterator(IteratorType(99), nil)
	require.ErrorIs(t, err, ErrUnsupportedIteratorType)
}

func TestCreateIteratorRejectsBadKeyShape(t *testing.T) {
	ix := newTestIndex(t)
	_, err := ix.CreateIterator(GE, []lane.Value{lane.Unsigned(1)})
	require.ErrorIs(t, err, ErrInvalidKeyShape)
}

func TestBuildRoundTrip(t *testing.T) {
	ix := newTestIndex(t)
	ix.BeginBuild()
	rng := rand.New(rand.NewSource(5))
	var tuples []*testTuple
	for i := 0; i < 50; i++ {
		x, y := rng.Uint64()%1000, rng.Uint64()%1000
		tup := newTestTuple(i, x, y)
		tuples = append(tuples, tup)
		require.NoError(t, ix.BuildNext(tup, point(x, y), uint64(i)))
	}
	ix.EndBuild()
	require.Equal(t, 50, ix.Size())

	for _, tup := range tuples {
		got, err := ix.Get(point(tup.x, tup.y))
		require.NoError(t, err)
		require.NotNil(t, got)
	}
}

func TestBsizeGrowsWithSize(t *testing.T) {
	ix := newTestIndex(t)
	base := ix.Bsize()
	ix.Replace(nil, newTestTuple(1, 1, 1), point(1, 1), 1, ModeReplace)
	require.Greater(t, ix.Bsize(), base)
	require.NotEmpty(t, ix.BsizeHuman())
}

func TestCountAllMatchesSize(t *testing.T) {
	ix := newTestIndex(t)
	for i := uint64(0); i < 7; i++ {
		ix.Replace(nil, newTestTuple(int(i), i, i), point(i, i), i, ModeReplace)
	}
	n, err := ix.Count(All, nil)
	require.NoError(t, err)
	require.Equal(t, ix.Size(), n)
}

func TestRandomReturnsExistingTuple(t *testing.T) {
	ix := newTestIndex(t)
	for i := uint64(0); i < 3; i++ {
		ix.Replace(nil, newTestTuple(int(i), i, i), point(i, i), i, ModeReplace)
	}
	rng := rand.New(rand.NewSource(1))
	tup, ok := ix.Random(rng)
	require.True(t, ok)
	require.NotNil(t, tup)
}

type countingYielder struct{ count int }

func (y *countingYielder) Yield() { y.count++ }

var _ fiber.Yielder = (*countingYielder)(nil)

func TestDestroyPrimaryRoleYieldsAndReleases(t *testing.T) {
	kd, err := zaddr.NewKeyDef([]zaddr.PartType{zaddr.Unsigned, zaddr.Unsigned}, true, false)
	require.NoError(t, err)
	yielder := &countingYielder{}
	ix, err := New(kd, Options{PrimaryRole: true, BuildMode: BuildDebug, Yielder: yielder})
	require.NoError(t, err)

	var tuples []*testTuple
	for i := uint64(0); i < 25; i++ {
		tup := newTestTuple(int(i), i, i)
		tuples = append(tuples, tup)
		ix.Replace(nil, tup, point(i, i), i, ModeReplace)
	}

	ix.Destroy()

	for _, tup := range tuples {
		require.True(t, tup.released)
	}
	require.Greater(t, yielder.count, 0)
	require.Equal(t, 0, ix.Size())
}

func TestDestroySecondaryRoleDoesNotRelease(t *testing.T) {
	ix := newTestIndex(t)
	tup := newTestTuple(1, 1, 1)
	ix.Replace(nil, tup, point(1, 1), 1, ModeReplace)

	ix.Destroy()
	require.False(t, tup.released)
}

// TestPlainIteratorAlsoIgnoresLaterWrites locks in the collapse documented
// in SPEC_FULL.md §5: because container.Tree path-copies on mutation,
// even a non-snapshot iterator never observes a write made after it was
// created, so it needs no stale-cursor re-seek.
func TestPlainIteratorAlsoIgnoresLaterWrites(t *testing.T) {
	ix := newTestIndex(t)
	for i := uint64(0); i < 5; i++ {
		ix.Replace(nil, newTestTuple(int(i), i, i), point(i, i), i, ModeReplace)
	}

	it, err := ix.CreateIterator(All, nil)
	require.NoError(t, err)
	ix.Replace(nil, newTestTuple(100, 100, 100), point(100, 100), 100, ModeReplace)

	n := 0
	for {
		_, ok := it.Next()
		if !ok {
			break
		}
		n++
	}
	require.Equal(t, 5, n, "a live iterator must not observe writes made after it was created")
}

func TestSnapshotIteratorSurvivesMutation(t *testing.T) {
	ix := newTestIndex(t)
	for i := uint64(0); i < 5; i++ {
		ix.Replace(nil, newTestTuple(int(i), i, i), point(i, i), i, ModeReplace)
	}

	snap := ix.CreateSnapshotIterator()
	ix.Replace(nil, newTestTuple(100, 100, 100), point(100, 100), 100, ModeReplace)

	n := 0
	for {
		_, ok := snap.Next()
		if !ok {
			break
		}
		n++
	}
	require.Equal(t, 5, n, "snapshot iterator must not observe records added after capture")
}
