// Package bitvec implements a fixed-width, word-granular bit string: the
// packed bit-vector at the bottom of the Z-order index (component A).
//
// The original C implementation (salad/bit_array.c) keeps a header plus an
// externally allocated word array and frees it through a mempool. Because a
// Z-address never exceeds ZCURVE_MAX_DIMENSION (20) 64-bit words, Vector
// instead holds its words inline in a fixed array, so values copy by plain
// assignment and never touch the allocator on the scan hot path (the
// "pointer-chase bit arrays -> owned byte buffers" redesign note).
package bitvec

import (
	"math/bits"

	"github.com/olegrok/memtx-zcurve/internal/errutil"
)

// MaxWords bounds the number of 64-bit words a Vector can hold, matching
// ZCURVE_MAX_DIMENSION from the original implementation.
const MaxWords = 20

const wordBits = 64

// Vector is a fixed-width bit string, little-endian across words: word
// index 0 holds the least-significant bits. Length is always a multiple of
// 64 and equal to n*64 where n = Words().
type Vector struct {
	words [MaxWords]uint64
	n     int
}

// New returns an all-zero Vector of n words.
func New(n int) Vector {
	errutil.BugOn(n <= 0 || n > MaxWords, "bitvec: invalid word count %d", n)
	return Vector{n: n}
}

// Zeros is an alias for New, matching the original zeros() constructor
// name used throughout zcurve.c.
func Zeros(n int) Vector { return New(n) }

// Ones returns a Vector of n words with every bit set.
func Ones(n int) Vector {
	v := New(n)
	v.SetAll()
	return v
}

// Bsize returns the byte footprint of an n-word vector: n 64-bit words plus
// a small fixed header, mirroring bit_array_bsize's "header + words" cost
// model from the original (there the header is a real heap allocation; here
// it approximates the portion of the Vector struct not covered by the word
// payload, for the accounting §4.G's Bsize relies on).
func Bsize(n int) int {
	errutil.BugOn(n <= 0, "bitvec: invalid word count %d", n)
	const headerBytes = 8 // discriminator/length field
	return n*8 + headerBytes
}

// Words reports how many 64-bit words this vector spans.
func (v Vector) Words() int { return v.n }

// Length returns the vector's bit length, n*64.
func (v Vector) Length() int { return v.n * wordBits }

// Clone returns an independent copy. Vector is a value type, so this is
// only useful for documenting intent at call sites.
func (v Vector) Clone() Vector { return v }

// CopyFrom overwrites v's words with src's. Both must have the same word
// count.
func (v *Vector) CopyFrom(src Vector) {
	errutil.BugOnNotEq(v.n, src.n)
	v.words = src.words
	v.n = src.n
}

// Get reads bit i (0 = least significant bit of word 0).
func (v Vector) Get(i int) bool {
	w, off := i/wordBits, i%wordBits
	return v.words[w]&(uint64(1)<<uint(off)) != 0
}

// Set sets bit i to 1.
func (v *Vector) Set(i int) {
	w, off := i/wordBits, i%wordBits
	v.words[w] |= uint64(1) << uint(off)
}

// Clear sets bit i to 0.
func (v *Vector) Clear(i int) {
	w, off := i/wordBits, i%wordBits
	v.words[w] &^= uint64(1) << uint(off)
}

// Assign sets bit i to the given value.
func (v *Vector) Assign(i int, bit bool) {
	if bit {
		v.Set(i)
	} else {
		v.Clear(i)
	}
}

// Word returns the k-th 64-bit word (word 0 is least significant).
func (v Vector) Word(k int) uint64 { return v.words[k] }

// SetWord overwrites the k-th 64-bit word.
func (v *Vector) SetWord(k int, w uint64) { v.words[k] = w }

// SetAll sets every bit.
func (v *Vector) SetAll() {
	for i := 0; i < v.n; i++ {
		v.words[i] = ^uint64(0)
	}
}

// ClearAll clears every bit.
func (v *Vector) ClearAll() {
	for i := 0; i < v.n; i++ {
		v.words[i] = 0
	}
}

// Or sets dst = dst | src, word by word.
func (v *Vector) Or(src Vector) {
	errutil.BugOnNotEq(v.n, src.n)
	for i := 0; i < v.n; i++ {
		v.words[i] |= src.words[i]
	}
}

// And sets dst = dst & src, word by word.
func (v *Vector) And(src Vector) {
	errutil.BugOnNotEq(v.n, src.n)
	for i := 0; i < v.n; i++ {
		v.words[i] &= src.words[i]
	}
}

// Add performs a full-width ripple-carry add: dst <- dst + src.
func (v *Vector) Add(src Vector) {
	errutil.BugOnNotEq(v.n, src.n)
	var carry uint64
	for i := 0; i < v.n; i++ {
		sum, c := bits.Add64(v.words[i], src.words[i], carry)
		v.words[i] = sum
		carry = c
	}
}

// AddWord adds a 64-bit constant to the low word, propagating carry into
// higher words as needed.
func (v *Vector) AddWord(w uint64) {
	var carry = w
	for i := 0; i < v.n && carry != 0; i++ {
		sum, c := bits.Add64(v.words[i], carry, 0)
		v.words[i] = sum
		carry = c
	}
}

// ShiftLeft shifts the vector left by dist bits in place. Bits that fall
// off the high end are discarded; new low bits are zero. A shift distance
// greater than or equal to the vector's total length clears it.
func (v *Vector) ShiftLeft(dist int) {
	total := v.n * wordBits
	if dist <= 0 {
		return
	}
	if dist >= total {
		v.ClearAll()
		return
	}

	wordShift := dist / wordBits
	bitShift := uint(dist % wordBits)

	for i := v.n - 1; i >= 0; i-- {
		srcIdx := i - wordShift
		var word uint64
		if srcIdx >= 0 {
			word = v.words[srcIdx] << bitShift
			if bitShift > 0 && srcIdx-1 >= 0 {
				word |= v.words[srcIdx-1] >> (wordBits - bitShift)
			}
		}
		v.words[i] = word
	}
}

// Compare returns the sign of the unsigned comparison of a and b, scanning
// from the most significant word down (not a lexicographic byte compare).
func Compare(a, b Vector) int {
	errutil.BugOnNotEq(a.n, b.n)
	for i := a.n - 1; i >= 0; i-- {
		if a.words[i] != b.words[i] {
			if a.words[i] > b.words[i] {
				return 1
			}
			return -1
		}
	}
	return 0
}
