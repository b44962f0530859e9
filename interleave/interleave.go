// Package interleave builds and applies the per-dimension byte lookup
// tables that scatter a dimension's lane bits into Morton-order positions
// in the interleaved Z-address (component B).
//
// Grounded on original_source/src/lib/salad/bit_array.c's
// bit_array_interleave_new_lookup_tables/bit_array_interleave: a pure
// bitwise interleave of d 64-bit lanes costs d*64 scalar bit operations;
// table-driven interleave amortizes that to 8 table lookups plus a shift
// per lane, at the cost of 256*d bit_vector-sized tables built once per
// index and reused for every encode.
package interleave

import (
	"fmt"

	"github.com/olegrok/memtx-zcurve/bitvec"
)

const tableSize = 256
const octetBits = 8
const octetCount = 8 // a uint64 lane has 8 bytes

// TableSet holds dim 256-entry lookup tables plus the scratch vector used
// while interleaving. The scratch buffer is a field here rather than a
// pool-allocated temporary (see bitvec's package doc): table construction
// and use are single-threaded per TableSet, so there is never contention
// for it.
type TableSet struct {
	dim     int
	tables  [][tableSize]bitvec.Vector
	scratch bitvec.Vector
}

// NewTableSet builds the interleave tables for the given dimension. dim
// must be in [1, bitvec.MaxWords] since each produced Z-address spans dim
// 64-bit words.
func NewTableSet(dim int) (*TableSet, error) {
	if dim < 1 || dim > bitvec.MaxWords {
		return nil, fmt.Errorf("interleave: unsupported dimension %d", dim)
	}

	ts := &TableSet{
		dim:     dim,
		tables:  make([][tableSize]bitvec.Vector, dim), /* it's a table for each dimension */
		scratch: bitvec.New(dim),
	}

	for i := 0; i < dim; i++ {
		fillTable(&ts.tables[i], dim, i)
	}
	return ts, nil
}

// fillTable fills the 256-entry table for dimension i: entry b has a set
// bit at position dim*k+i for every k in 0..7 such that byte b's bit k is
// set.
func fillTable(table *[tableSize]bitvec.Vector, dim, i int) {
	for b := 0; b < tableSize; b++ {
		v := bitvec.New(dim)
		for k := 0; k < 8; k++ {
			if b&(1<<uint(k)) != 0 {
				v.Set(dim*k + i)
			}
		}
		table[b] = v
	}
}

// Dim reports the dimension this table set was built for.
func (ts *TableSet) Dim() int { return ts.dim }

// Interleave scatters dim 64-bit lanes into out's bits, Z-order style: for
// each of the 8 byte positions (low to high), the corresponding byte of
// every lane is looked up in that dimension's table, OR'd together, shifted
// into place, and OR'd into out. out is zeroed first.
func (ts *TableSet) Interleave(lanes []uint64, out *bitvec.Vector) {
	if len(lanes) != ts.dim {
		panic(fmt.Sprintf("interleave: expected %d lanes, got %d", ts.dim, len(lanes)))
	}

	out.ClearAll()
	for p := 0; p < octetCount; p++ {
		shift := uint(octetBits * p)
		ts.scratch.ClearAll()
		for j := 0; j < ts.dim; j++ {
			octet := byte(lanes[j] >> shift)
			ts.scratch.Or(ts.tables[j][octet])
		}
		ts.scratch.ShiftLeft(ts.dim * octetBits * p)
		out.Or(ts.scratch)
	}
}
