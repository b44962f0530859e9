// Package zaddr builds Z-addresses from keys: it composes bitvec and
// interleave (the bit-level machinery) with lane (the per-type scalar
// normalizer) to produce the d*64-bit interleaved key the index actually
// orders on (component D).
package zaddr

import (
	"fmt"

	"github.com/olegrok/memtx-zcurve/bitvec"
	"github.com/olegrok/memtx-zcurve/interleave"
	"github.com/olegrok/memtx-zcurve/lane"
)

// PartType is the declared scalar type of one key part, fixed for the
// index's lifetime by its KeyDef.
type PartType uint8

const (
	Unsigned PartType = iota
	Integer
	Number
	String
)

// MaxDimension is the largest index dimension this package supports,
// matching ZCURVE_MAX_DIMENSION from the original implementation.
const MaxDimension = bitvec.MaxWords

// KeyDef is the immutable descriptor fixed at index creation: dimension,
// per-part type, and the uniqueness/nullability flags spec.md §3 lists.
type KeyDef struct {
	PartTypes []PartType
	Unique    bool
	Nullable  bool
}

// Dim is the number of key parts, i.e. the index dimension.
func (kd *KeyDef) Dim() int { return len(kd.PartTypes) }

// NewKeyDef validates and returns a KeyDef. Dimension must fall in
// [1, MaxDimension] per spec.md §3.
func NewKeyDef(partTypes []PartType, unique, nullable bool) (*KeyDef, error) {
	d := len(partTypes)
	if d < 1 || d > MaxDimension {
		return nil, fmt.Errorf("zaddr: unsupported dimension %d", d)
	}
	return &KeyDef{PartTypes: append([]PartType(nil), partTypes...), Unique: unique, Nullable: nullable}, nil
}

// TupleHandle is an externally owned, reference-counted tuple reference.
// The index never allocates or frees the underlying storage; it only
// retains one reference per record it holds and releases it on removal,
// per spec.md §3's indexed-record lifecycle.
type TupleHandle interface {
	Retain()
	Release()
}

// FieldExtractor resolves one key part's value out of a tuple. This is the
// external tuple-format/field-extraction service spec.md §1 places out of
// scope; the index only consumes its semantic output.
type FieldExtractor interface {
	Extract(tuple TupleHandle, partIndex int) (lane.Value, error)
}

// Address is an immutable d*64-bit Z-address.
type Address struct {
	bits bitvec.Vector
}

// Dim reports the number of 64-bit words (equivalently, the dimension the
// Address was built for).
func (a Address) Dim() int { return a.bits.Words() }

// Vector exposes the underlying packed bits for callers that need to walk
// them directly (boxquery does).
func (a Address) Vector() bitvec.Vector { return a.bits }

// FromVector wraps an already-built bit-vector as an Address. Used by
// boxquery to hand back the litmax/bigmin result without re-deriving it
// through the interleave tables.
func FromVector(v bitvec.Vector) Address { return Address{bits: v} }

// Compare orders two same-dimension addresses, most-significant-word
// first.
func Compare(a, b Address) int { return bitvec.Compare(a.bits, b.bits) }

// Zeros returns the all-zero Z-address for dim dimensions: the sentinel
// lower bound for a full-range scan.
func Zeros(dim int) Address { return Address{bitvec.Zeros(dim)} }

// Ones returns the all-ones Z-address for dim dimensions: the sentinel
// upper bound for a full-range scan.
func Ones(dim int) Address { return Address{bitvec.Ones(dim)} }

// Builder composes one TableSet with a KeyDef to encode keys into
// Z-addresses. A Builder is owned by exactly one index instance for that
// index's lifetime, matching spec.md §3's "interleave table set is pure
// ... its lifetime covers the index."
type Builder struct {
	keyDef *KeyDef
	tables *interleave.TableSet
}

// NewBuilder constructs the interleave tables for keyDef's dimension once.
func NewBuilder(keyDef *KeyDef) (*Builder, error) {
	tables, err := interleave.NewTableSet(keyDef.Dim())
	if err != nil {
		return nil, err
	}
	return &Builder{keyDef: keyDef, tables: tables}, nil
}

// KeyDef returns the builder's key definition.
func (b *Builder) KeyDef() *KeyDef { return b.keyDef }

// EncodePoint normalizes and interleaves a full point key (len(parts) ==
// dim) into a single Z-address.
func (b *Builder) EncodePoint(parts []lane.Value) (Address, error) {
	d := b.keyDef.Dim()
	if len(parts) != d {
		return Address{}, fmt.Errorf("zaddr: expected %d parts, got %d", d, len(parts))
	}

	lanes := make([]uint64, d)
	for i, p := range parts {
		lanes[i] = lane.From(p, lane.CornerLower)
	}

	out := bitvec.New(d)
	b.tables.Interleave(lanes, &out)
	return Address{out}, nil
}

// EncodeRange normalizes and interleaves a 2*dim-length alternating
// low/high part list into a (lo, hi) Z-address pair, splitting even
// indices into the lower corner and odd indices into the upper corner per
// spec.md §4.C's range-decoding rule.
func (b *Builder) EncodeRange(parts []lane.Value) (lo, hi Address, err error) {
	d := b.keyDef.Dim()
	if len(parts) != 2*d {
		return Address{}, Address{}, fmt.Errorf("zaddr: expected %d parts, got %d", 2*d, len(parts))
	}

	loLanes := make([]uint64, d)
	hiLanes := make([]uint64, d)
	for j := 0; j < d; j++ {
		loLanes[j] = lane.From(parts[2*j], lane.CornerLower)
		hiLanes[j] = lane.From(parts[2*j+1], lane.CornerUpper)
	}

	loOut := bitvec.New(d)
	hiOut := bitvec.New(d)
	b.tables.Interleave(loLanes, &loOut)
	b.tables.Interleave(hiLanes, &hiOut)
	return Address{loOut}, Address{hiOut}, nil
}

// ExtractFromTuple resolves each key part from tuple via extractor, then
// encodes the resulting point key.
func (b *Builder) ExtractFromTuple(tuple TupleHandle, extractor FieldExtractor) (Address, error) {
	d := b.keyDef.Dim()
	parts := make([]lane.Value, d)
	for i := 0; i < d; i++ {
		v, err := extractor.Extract(tuple, i)
		if err != nil {
			return Address{}, fmt.Errorf("zaddr: extract part %d: %w", i, err)
		}
		parts[i] = v
	}
	return b.EncodePoint(parts)
}
