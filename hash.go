package opteryx

import (
	"encoding/binary"
	"math"

	"github.com/zeebo/xxh3"
)

// HashColumn fills outHashes[i] with a 64-bit hash of column's value at row
// i, for every row. NULL gets a fixed sentinel hash distinct from any real
// value's hash. This is an "identity hash": the join and group-by hash
// tables never rehash the key themselves, they trust these values — which
// is why the hash must be computed identically on both the build and probe
// side for the same logical value (replaces the teacher's Zig SIMD hash
// kernels and its FNV-1a string fallback with one real hash function for
// every dtype except Bool, whose values hash to 1 and 0 directly).
func HashColumn(col *Column, outHashes []uint64) {
	const nullHash = uint64(0x9e3779b97f4a7c15) // golden-ratio constant, used as a fixed non-zero NULL sentinel

	switch col.DType {
	case Float64:
		for i, v := range col.f64 {
			if !col.IsValid(i) {
				outHashes[i] = nullHash
				continue
			}
			outHashes[i] = hashFloat64(v)
		}
	case Float32:
		for i, v := range col.f32 {
			if !col.IsValid(i) {
				outHashes[i] = nullHash
				continue
			}
			outHashes[i] = hashFloat64(float64(v))
		}
	case Int64, TimestampNanos, Decimal:
		for i, v := range col.i64 {
			if !col.IsValid(i) {
				outHashes[i] = nullHash
				continue
			}
			outHashes[i] = hashInt64(v)
		}
	case Int32, Date32:
		for i, v := range col.i32 {
			if !col.IsValid(i) {
				outHashes[i] = nullHash
				continue
			}
			outHashes[i] = hashInt64(int64(v))
		}
	case Bool:
		for i, v := range col.b {
			if !col.IsValid(i) {
				outHashes[i] = nullHash
				continue
			}
			if v {
				outHashes[i] = 1
			} else {
				outHashes[i] = 0
			}
		}
	case String:
		for i, v := range col.str {
			if !col.IsValid(i) {
				outHashes[i] = nullHash
				continue
			}
			outHashes[i] = xxh3.HashString(v)
		}
	case Binary:
		for i, v := range col.bin {
			if !col.IsValid(i) {
				outHashes[i] = nullHash
				continue
			}
			outHashes[i] = xxh3.Hash(v)
		}
	case Categorical:
		// Hash the resolved string, not the dictionary code: two categorical
		// columns built from different dictionaries must still hash equal
		// values equally for a join between them to match correctly.
		for i := range col.catCodes {
			s, ok := col.AtString(i)
			if !ok {
				outHashes[i] = nullHash
				continue
			}
			outHashes[i] = xxh3.HashString(s)
		}
	case Null:
		for i := 0; i < col.Length; i++ {
			outHashes[i] = nullHash
		}
	default:
		for i := 0; i < col.Length; i++ {
			outHashes[i] = nullHash
		}
	}
}

func hashFloat64(v float64) uint64 {
	// Normalize -0.0 to 0.0 so they hash (and compare) equal, matching SQL
	// numeric equality rather than IEEE-754 bit equality.
	if v == 0 {
		v = 0
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	return xxh3.Hash(buf[:])
}

func hashInt64(v int64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	return xxh3.Hash(buf[:])
}

// CombineHashes folds src into dst element-wise (dst[i] = combine(dst[i],
// src[i])), used to build one 64-bit join/group key hash out of several key
// columns. The combiner is associative-enough in practice (order of
// CombineHashes calls matches column order, kept stable so the same key
// always folds the same way) and mixes bits thoroughly so that differing in
// any one column changes the final hash with high probability.
func CombineHashes(dst, src []uint64) {
	for i := range dst {
		dst[i] = combineHash(dst[i], src[i])
	}
}

func combineHash(a, b uint64) uint64 {
	// boost::hash_combine-style mixing, adapted to 64 bits.
	a ^= b + 0x9e3779b97f4a7c15 + (a << 6) + (a >> 2)
	return a
}

// HashKeyColumns computes the combined row hash for a set of key columns,
// in column order. All columns must have equal length.
func HashKeyColumns(cols []*Column) []uint64 {
	if len(cols) == 0 {
		return nil
	}
	n := cols[0].Length
	combined := make([]uint64, n)
	HashColumn(cols[0], combined)

	if len(cols) == 1 {
		return combined
	}
	scratch := make([]uint64, n)
	for i := 1; i < len(cols); i++ {
		HashColumn(cols[i], scratch)
		CombineHashes(combined, scratch)
	}
	return combined
}
