// Package boxquery implements the range-scan engine: the is-relevant test
// and the litmax/bigmin next-jump algorithm that let an iterator walk the
// ordered container in Z-order while skipping runs of Z-addresses that
// provably lie outside the query box (component E).
//
// Both functions are ported bit-for-bit from
// original_source/src/lib/salad/zcurve.c's z_value_is_relevant and
// get_next_zvalue, adapted to operate on zaddr.Address/bitvec.Vector and
// generalized from the original's fixed IS_RELEVANT_MASK_MAXLEN=32 cap to
// the zaddr.MaxDimension=20 bound (still comfortably under
// 32, so the save_min/save_max dimension bitmasks remain plain uint32s).
package boxquery

import (
	"github.com/olegrok/memtx-zcurve/zaddr"
)

// IsRelevant reports whether z falls inside the box [lo, hi]: for every
// dimension i, lane_i(lo) <= lane_i(z) <= lane_i(hi). It walks bit
// positions from the most significant down, short-circuiting whole 64-bit
// words where z, lo, and hi agree (the common case once most high-order
// bits match across the triple).
func IsRelevant(z, lo, hi zaddr.Address) bool {
	dim := z.Dim()
	mask := dimMask(dim)

	zv, lov, hiv := z.Vector(), lo.Vector(), hi.Vector()

	var saveMin, saveMax uint32
	for w := dim - 1; w >= 0; w-- {
		zw, low, hiw := zv.Word(w), lov.Word(w), hiv.Word(w)
		if zw == low && low == hiw {
			continue
		}

		for b := 63; b >= 0; b-- {
			bit := uint64(1) << uint(b)
			zBit := zw&bit != 0
			loBit := low&bit != 0
			hiBit := hiw&bit != 0

			if zBit == loBit && zBit == hiBit {
				continue
			}

			d := (w*64 + b) % dim
			dbit := uint32(1) << uint(d)

			if zBit != loBit {
				if saveMin&dbit == 0 {
					if zBit && !loBit {
						saveMin |= dbit
					} else {
						return false
					}
				}
			}

			if zBit != hiBit {
				if saveMax&dbit == 0 {
					if !zBit && hiBit {
						saveMax |= dbit
					} else {
						return false
					}
				}
			}

			if saveMin == mask && saveMax == mask {
				return true
			}
		}
	}
	return true
}

// GetNextZValue computes the smallest Z-address z* >= z that is <= hi and
// relevant to [lo, hi], given that z itself is not relevant but lo <= z <=
// hi (the litmax/bigmin construction from Tropf & Herzog). Callers detect
// exhaustion by comparing the result against hi.
func GetNextZValue(z, lo, hi zaddr.Address) zaddr.Address {
	dim := z.Dim()
	keyLen := dim * 64
	mask := dimMask(dim)

	zv, lov, hiv := z.Vector(), lo.Vector(), hi.Vector()
	out := z.Vector() // start as a copy of z

	flag := make([]int8, dim)
	outStep := make([]int, dim)
	saveMin := make([]int, dim)
	saveMax := make([]int, dim)
	for i := range flag {
		outStep[i] = -1
		saveMin[i] = -1
		saveMax[i] = -1
	}

	var saveMinMask, saveMaxMask uint32

scan:
	for w := dim - 1; w >= 0; w-- {
		zw, low, hiw := zv.Word(w), lov.Word(w), hiv.Word(w)
		if zw == low && low == hiw {
			continue
		}

		for b := 63; b >= 0; b-- {
			bit := uint64(1) << uint(b)
			zBit := zw&bit != 0
			loBit := low&bit != 0
			hiBit := hiw&bit != 0

			if zBit == loBit && zBit == hiBit {
				continue
			}

			bp := w*64 + b
			d := bp % dim
			step := bp / dim

			switch {
			case zBit && !loBit: // z > lo in this dim
				if saveMin[d] == -1 {
					saveMinMask |= 1 << uint(d)
					saveMin[d] = step
				}
			case !zBit && loBit: // z < lo in this dim
				if flag[d] == 0 && saveMin[d] == -1 {
					outStep[d] = step
					flag[d] = -1
				}
			}

			switch {
			case !zBit && hiBit: // z < hi in this dim
				if saveMax[d] == -1 {
					saveMaxMask |= 1 << uint(d)
					saveMax[d] = step
				}
			case zBit && !hiBit: // z > hi in this dim
				if flag[d] == 0 && saveMax[d] == -1 {
					outStep[d] = step
					flag[d] = 1
				}
			}

			if saveMinMask == mask && saveMaxMask == mask {
				break scan
			}
		}
	}

	maxDim := 0
	maxOutStep := -1
	for i := dim - 1; i >= 0; i-- {
		if maxOutStep < outStep[i] {
			maxOutStep = outStep[i]
			maxDim = i
		}
	}
	maxBp := dim*maxOutStep + maxDim

	if flag[maxDim] == 1 {
		// z overshot hi in maxDim: borrow into a higher bit that is still
		// safely within the established max for its dimension and is
		// currently zero in z.
		for newBp := maxBp + 1; newBp < keyLen; newBp++ {
			d := newBp % dim
			step := newBp / dim
			if step <= saveMax[d] && !zv.Get(newBp) {
				maxBp = newBp
				break
			}
		}
		maxBpDim := maxBp % dim
		saveMin[maxBpDim] = maxBp / dim
		flag[maxBpDim] = 0
	}

	for d := 0; d < dim; d++ {
		if flag[d] >= 0 {
			threshold := dim*saveMin[d] + d
			if maxBp <= threshold {
				for bp := d; bp < keyLen; bp += dim {
					if bp >= maxBp {
						break
					}
					out.Clear(bp)
				}
			} else {
				for bp := d; bp < keyLen; bp += dim {
					if bp >= maxBp {
						break
					}
					out.Assign(bp, lov.Get(bp))
				}
			}
		} else {
			for bp := d; bp < keyLen; bp += dim {
				out.Assign(bp, lov.Get(bp))
			}
		}
	}

	out.Set(maxBp)
	return zaddr.FromVector(out)
}

func dimMask(dim int) uint32 {
	return uint32(1)<<uint(dim) - 1
}

// Cursor is the minimal shape the scroll loop needs from an ordered
// container's positional cursor: read the element there (if any) and
// re-seek to the lower bound of an arbitrary Z-address. *container.Cursor
// implements this (index.Iterator passes its cursor in), so the scroll
// policy below can stay free of any dependency on the concrete container
// implementation.
type Cursor[Elem any] interface {
	// Element returns the record at the cursor and whether one exists.
	Element() (Elem, bool)
	// SeekLowerBound repositions the cursor at the first element with
	// Z-address >= target.
	SeekLowerBound(target zaddr.Address)
}

// Scroll implements the iterator stepping policy from spec.md §4.E.3: read
// the element at the cursor; stop if it is past hi or absent; yield it if
// relevant; otherwise jump via GetNextZValue and re-seek. zOf extracts an
// element's Z-address so Scroll stays independent of the container's
// record type.
func Scroll[Elem any](cur Cursor[Elem], lo, hi zaddr.Address, zOf func(Elem) zaddr.Address) (Elem, bool) {
	for {
		elem, ok := cur.Element()
		if !ok {
			var zero Elem
			return zero, false
		}
		z := zOf(elem)
		if zaddr.Compare(z, hi) > 0 {
			var zero Elem
			return zero, false
		}
		if IsRelevant(z, lo, hi) {
			return elem, true
		}
		next := GetNextZValue(z, lo, hi)
		cur.SeekLowerBound(next)
	}
}
