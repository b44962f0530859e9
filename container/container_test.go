package container

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"

	"github.com/olegrok/memtx-zcurve/bitvec"
	"github.com/olegrok/memtx-zcurve/zaddr"
)

type fakeTuple struct{ id int }

func (fakeTuple) Retain()  {}
func (fakeTuple) Release() {}

func addr(dim int, v uint64) zaddr.Address {
	vec := bitvec.New(dim)
	vec.SetWord(0, v)
	return zaddr.FromVector(vec)
}

func rec(v uint64, hint uint64) Record {
	return Record{Z: addr(1, v), Tuple: fakeTuple{id: int(v)}, Hint: hint}
}

func TestInsertFindDelete(t *testing.T) {
	var tr Tree
	_, had := tr.Insert(rec(10, 0))
	require.False(t, had)
	_, had = tr.Insert(rec(5, 0))
	require.False(t, had)
	_, had = tr.Insert(rec(20, 0))
	require.False(t, had)
	require.Equal(t, 3, tr.Size())

	got, ok := tr.Find(addr(1, 5))
	require.True(t, ok)
	require.Equal(t, uint64(5), got.Z.Vector().Word(0))

	_, ok = tr.Find(addr(1, 999))
	require.False(t, ok)

	require.True(t, tr.Delete(rec(5, 0)))
	require.Equal(t, 2, tr.Size())
	_, ok = tr.Find(addr(1, 5))
	require.False(t, ok)

	require.False(t, tr.Delete(rec(5, 0)))
}

func TestInsertReplacesComparatorEqual(t *testing.T) {
	var tr Tree
	tr.Insert(rec(10, 3))
	dup, had := tr.Insert(Record{Z: addr(1, 10), Tuple: fakeTuple{id: 99}, Hint: 3})
	require.True(t, had)
	require.Equal(t, fakeTuple{id: 10}, dup.Tuple)
	require.Equal(t, 1, tr.Size())
}

func TestSameZDifferentHintBothKept(t *testing.T) {
	var tr Tree
	tr.Insert(rec(10, 1))
	tr.Insert(rec(10, 2))
	require.Equal(t, 2, tr.Size())

	cur := tr.IteratorFirst()
	first, ok := cur.Element()
	require.True(t, ok)
	require.Equal(t, uint64(1), first.Hint)
	cur.Next()
	second, ok := cur.Element()
	require.True(t, ok)
	require.Equal(t, uint64(2), second.Hint)
}

func TestIteratorWalksInAscendingOrder(t *testing.T) {
	var tr Tree
	rng := rand.New(rand.NewSource(7))
	var values []uint64
	for i := 0; i < 200; i++ {
		v := rng.Uint64() % 100000
		values = append(values, v)
		tr.Insert(rec(v, uint64(i)))
	}

	cur := tr.IteratorFirst()
	var walked []uint64
	for {
		r, ok := cur.Element()
		if !ok {
			break
		}
		walked = append(walked, r.Z.Vector().Word(0))
		cur.Next()
	}

	sorted := append([]uint64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	require.True(t, slices.Equal(sorted, walked), "iterator order mismatch")
}

func TestPrevMirrorsNext(t *testing.T) {
	var tr Tree
	for _, v := range []uint64{3, 1, 4, 1_000, 5, 9, 2} {
		tr.Insert(Record{Z: addr(1, v), Tuple: fakeTuple{}, Hint: v})
	}

	cur := tr.IteratorFirst()
	var forward []uint64
	for {
		r, ok := cur.Element()
		if !ok {
			break
		}
		forward = append(forward, r.Z.Vector().Word(0))
		cur.Next()
	}

	// walk back from the last element
	last := tr.LowerBoundElem(Record{Z: addr(1, 1_000), Hint: 1_000})
	var backward []uint64
	for {
		r, ok := last.Element()
		if !ok {
			break
		}
		backward = append(backward, r.Z.Vector().Word(0))
		last.Prev()
	}

	reversed := append([]uint64(nil), backward...)
	slices.Reverse(reversed)
	require.True(t, slices.Equal(forward, reversed), "backward walk must mirror forward walk")
}

func TestSeekLowerBoundReseeks(t *testing.T) {
	var tr Tree
	for _, v := range []uint64{2, 4, 6, 8, 10} {
		tr.Insert(rec(v, 0))
	}

	cur := tr.IteratorFirst()
	cur.SeekLowerBound(addr(1, 5))
	got, ok := cur.Element()
	require.True(t, ok)
	require.Equal(t, uint64(6), got.Z.Vector().Word(0))

	cur.SeekLowerBound(addr(1, 999))
	_, ok = cur.Element()
	require.False(t, ok)
}

func TestBuildFromSortedMatchesSequentialInsert(t *testing.T) {
	var sortedRecs []Record
	for _, v := range []uint64{1, 2, 3, 4, 5, 6, 7} {
		sortedRecs = append(sortedRecs, rec(v, 0))
	}

	var built Tree
	built.Build(sortedRecs)
	require.Equal(t, len(sortedRecs), built.Size())

	cur := built.IteratorFirst()
	for _, want := range sortedRecs {
		got, ok := cur.Element()
		require.True(t, ok)
		require.Equal(t, want.Z.Vector().Word(0), got.Z.Vector().Word(0))
		cur.Next()
	}
}

func TestFreezeSurvivesLaterMutation(t *testing.T) {
	var tr Tree
	for _, v := range []uint64{1, 2, 3, 4, 5} {
		tr.Insert(rec(v, 0))
	}

	cur := tr.IteratorFirst()
	frozen := cur.Freeze()

	tr.Delete(rec(1, 0))
	tr.Insert(rec(100, 0))

	r, ok := frozen.Element()
	require.True(t, ok)
	require.Equal(t, uint64(1), r.Z.Vector().Word(0), "frozen cursor must not observe the later delete")
}

func TestRandomEventuallyCoversAllElements(t *testing.T) {
	var tr Tree
	for _, v := range []uint64{1, 2, 3, 4, 5} {
		tr.Insert(rec(v, 0))
	}

	rng := rand.New(rand.NewSource(1))
	seen := map[uint64]bool{}
	for i := 0; i < 500; i++ {
		r, ok := tr.Random(rng)
		require.True(t, ok)
		seen[r.Z.Vector().Word(0)] = true
	}
	require.Len(t, seen, 5)
}

func TestZOnlyTreeDedupesIgnoringHint(t *testing.T) {
	tr := NewTree(true)
	_, had := tr.Insert(rec(10, 1))
	require.False(t, had)

	dup, had := tr.Insert(rec(10, 2))
	require.True(t, had, "same Z with a different hint must still count as a duplicate")
	require.Equal(t, uint64(1), dup.Hint)
	require.Equal(t, 1, tr.Size())
}

func TestNonUniqueTreeKeepsBothHints(t *testing.T) {
	tr := NewTree(false)
	tr.Insert(rec(10, 1))
	_, had := tr.Insert(rec(10, 2))
	require.False(t, had)
	require.Equal(t, 2, tr.Size())
}

func TestMemUsedGrowsWithSize(t *testing.T) {
	var tr Tree
	require.Equal(t, 0, tr.MemUsed())
	tr.Insert(rec(1, 0))
	tr.Insert(rec(2, 0))
	require.Equal(t, 2*nodeOverheadBytes, tr.MemUsed())
}
