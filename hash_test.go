package opteryx

import (
	"math"
	"testing"
)

func TestHashColumnIsDeterministic(t *testing.T) {
	col := NewColumnI64("k", []int64{1, 2, 3})
	h1 := make([]uint64, 3)
	h2 := make([]uint64, 3)
	HashColumn(col, h1)
	HashColumn(col, h2)
	for i := range h1 {
		if h1[i] != h2[i] {
			t.Fatalf("hash not deterministic at row %d: %d != %d", i, h1[i], h2[i])
		}
	}
	if h1[0] == h1[1] || h1[1] == h1[2] {
		t.Fatalf("distinct values hashed to the same bucket: %v", h1)
	}
}

func TestHashColumnNullSentinel(t *testing.T) {
	col := NewColumnF64WithNulls("x", []float64{1.0, 0, 2.0}, []bool{true, false, true})
	hashes := make([]uint64, 3)
	HashColumn(col, hashes)
	if hashes[1] == hashes[0] || hashes[1] == hashes[2] {
		t.Fatalf("null hash collided with a real value's hash: %v", hashes)
	}
}

func TestHashFloatNegativeZeroEqualsPositiveZero(t *testing.T) {
	col := NewColumnF64("x", []float64{0.0, 0.0})
	colNeg := NewColumnF64("x", []float64{math.Copysign(0, -1)})
	hPos := make([]uint64, 2)
	HashColumn(col, hPos)
	hNeg := make([]uint64, 1)
	HashColumn(colNeg, hNeg)
	if hPos[0] != hNeg[0] {
		t.Fatalf("+0.0 and -0.0 should hash equal: %d != %d", hPos[0], hNeg[0])
	}
}

func TestHashKeyColumnsCombinesMultipleColumns(t *testing.T) {
	a := NewColumnI64("a", []int64{1, 1, 2})
	b := NewColumnString("b", []string{"x", "y", "x"})
	hashes := HashKeyColumns([]*Column{a, b})
	if len(hashes) != 3 {
		t.Fatalf("len(hashes) = %d, want 3", len(hashes))
	}
	if hashes[0] == hashes[1] {
		t.Fatalf("rows differing only in column b should hash differently: %v", hashes)
	}
}
