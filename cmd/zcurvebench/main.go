// Command zcurvebench is a load-generator and correctness harness for the
// Z-order index: it builds a random index, issues random box queries
// against it, cross-checks each query against a brute-force scan, and
// reports throughput and occupancy. Styled after
// mmph/paramselect/cmd/psig_study/main.go's scenario-sweep-to-CSV shape.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	humanize "github.com/dustin/go-humanize"

	"github.com/olegrok/memtx-zcurve/index"
	"github.com/olegrok/memtx-zcurve/lane"
	"github.com/olegrok/memtx-zcurve/zaddr"
)

func main() {
	var (
		dim       = flag.Int("dim", 2, "index dimension")
		points    = flag.Int("points", 100000, "number of indexed points")
		queries   = flag.Int("queries", 1000, "number of random box queries")
		coordMax  = flag.Uint64("coord-max", 1<<20, "exclusive upper bound for each coordinate")
		boxSpan   = flag.Uint64("box-span", 1<<16, "maximum per-dimension box width")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "base RNG seed")
		outPath   = flag.String("out", "", "optional CSV path to append a summary row to")
		verifyPct = flag.Int("verify-pct", 100, "percentage of queries to cross-check against a brute-force scan")
	)
	flag.Parse()

	if *dim < 1 || *dim > zaddr.MaxDimension {
		fail("dim must be in [1, %d]", zaddr.MaxDimension)
	}
	if *points <= 0 || *queries <= 0 {
		fail("points and queries must be > 0")
	}

	kd, err := zaddr.NewKeyDef(unsignedParts(*dim), true, false)
	if err != nil {
		fail("build key def: %v", err)
	}
	ix, err := index.New(kd, index.Options{})
	if err != nil {
		fail("build index: %v", err)
	}

	rng := rand.New(rand.NewSource(*seed))
	recordSeed := mixSeed(*seed, "zcurvebench-build")
	fmt.Printf("building %d points, dim=%d, seed=%d\n", *points, *dim, recordSeed)

	corpus := make([][]uint64, *points)
	t0 := time.Now()
	ix.BeginBuild()
	for i := 0; i < *points; i++ {
		coords := randomPoint(rng, *dim, *coordMax)
		corpus[i] = coords
		tup := &fixtureTuple{id: i, coords: coords}
		key := toLaneValues(coords)
		hint := xxhash.Sum64(fixtureHintBytes(i))
		if err := ix.BuildNext(tup, key, hint); err != nil {
			fail("build_next: %v", err)
		}
	}
	ix.EndBuild()
	buildElapsed := time.Since(t0)

	fmt.Printf("built %d points in %s (%s)\n", ix.Size(), buildElapsed, ix.BsizeHuman())

	verified, mismatches := 0, 0
	t1 := time.Now()
	for q := 0; q < *queries; q++ {
		lo, hi := randomBox(rng, *dim, *coordMax, *boxSpan)
		key := toRangeLaneValues(lo, hi)

		it, err := ix.CreateIterator(index.GE, key)
		if err != nil {
			fail("create_iterator: %v", err)
		}
		var got []int
		for {
			tup, ok := it.Next()
			if !ok {
				break
			}
			got = append(got, tup.(*fixtureTuple).id)
		}

		if rng.Intn(100) < *verifyPct {
			verified++
			want := bruteForceBox(corpus, lo, hi)
			if len(want) != len(got) {
				mismatches++
				fmt.Printf("mismatch at query %d: want %d hits, got %d\n", q, len(want), len(got))
			}
		}
	}
	queryElapsed := time.Since(t1)

	fmt.Printf("ran %d queries in %s (%.1f us/query), verified %d, mismatches %d\n",
		*queries, queryElapsed, float64(queryElapsed.Microseconds())/float64(*queries), verified, mismatches)
	fmt.Printf("final size %d, bytes %s\n", ix.Size(), humanize.Bytes(uint64(ix.Bsize())))

	if *outPath != "" {
		if err := appendSummaryRow(*outPath, *dim, *points, *queries, mismatches, buildElapsed, queryElapsed, ix.Bsize()); err != nil {
			fail("write summary csv: %v", err)
		}
	}

	if mismatches > 0 {
		os.Exit(1)
	}
}

type fixtureTuple struct {
	id     int
	coords []uint64
}

func (f *fixtureTuple) Retain()  {}
func (f *fixtureTuple) Release() {}

func unsignedParts(dim int) []zaddr.PartType {
	types := make([]zaddr.PartType, dim)
	for i := range types {
		types[i] = zaddr.Unsigned
	}
	return types
}

func randomPoint(rng *rand.Rand, dim int, coordMax uint64) []uint64 {
	coords := make([]uint64, dim)
	for i := range coords {
		coords[i] = uint64(rng.Int63n(int64(coordMax)))
	}
	return coords
}

func randomBox(rng *rand.Rand, dim int, coordMax, boxSpan uint64) (lo, hi []uint64) {
	lo = make([]uint64, dim)
	hi = make([]uint64, dim)
	for i := 0; i < dim; i++ {
		lo[i] = uint64(rng.Int63n(int64(coordMax)))
		span := uint64(rng.Int63n(int64(boxSpan) + 1))
		hi[i] = lo[i] + span
	}
	return lo, hi
}

func toLaneValues(coords []uint64) []lane.Value {
	vals := make([]lane.Value, len(coords))
	for i, c := range coords {
		vals[i] = lane.Unsigned(c)
	}
	return vals
}

func toRangeLaneValues(lo, hi []uint64) []lane.Value {
	vals := make([]lane.Value, 0, 2*len(lo))
	for i := range lo {
		vals = append(vals, lane.Unsigned(lo[i]), lane.Unsigned(hi[i]))
	}
	return vals
}

func bruteForceBox(corpus [][]uint64, lo, hi []uint64) []int {
	var hits []int
	for id, coords := range corpus {
		inside := true
		for d := range coords {
			if coords[d] < lo[d] || coords[d] > hi[d] {
				inside = false
				break
			}
		}
		if inside {
			hits = append(hits, id)
		}
	}
	return hits
}

func fixtureHintBytes(id int) []byte {
	return []byte(fmt.Sprintf("fixture-%d", id))
}

func mixSeed(seed int64, tag string) uint64 {
	return xxhash.Sum64(append([]byte(tag+":"), byte(seed), byte(seed>>8), byte(seed>>16), byte(seed>>24)))
}

func appendSummaryRow(path string, dim, points, queries, mismatches int, buildElapsed, queryElapsed time.Duration, bsize int) error {
	exists := false
	if _, err := os.Stat(path); err == nil {
		exists = true
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	if !exists {
		if err := w.Write([]string{"dim", "points", "queries", "mismatches", "build_ms", "query_ms", "bsize_bytes"}); err != nil {
			return err
		}
	}
	row := []string{
		fmt.Sprint(dim),
		fmt.Sprint(points),
		fmt.Sprint(queries),
		fmt.Sprint(mismatches),
		fmt.Sprint(buildElapsed.Milliseconds()),
		fmt.Sprint(queryElapsed.Milliseconds()),
		fmt.Sprint(bsize),
	}
	return w.Write(row)
}

func fail(format string, args ...any) {
	fmt.Fprintln(os.Stderr, "zcurvebench: "+strings.TrimRight(fmt.Sprintf(format, args...), "\n"))
	os.Exit(1)
}
