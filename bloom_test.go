package opteryx

import "testing"

func TestBloomFilterNoFalseNegatives(t *testing.T) {
	cols := []*Column{NewColumnI64("k", []int64{1, 2, 3, 4, 5})}
	hashes := HashKeyColumns(cols)

	bf := NewBloomFilter(len(hashes))
	if bf == nil {
		t.Fatal("expected a filter for a small key set")
	}
	for _, h := range hashes {
		bf.Insert(h)
	}
	for _, h := range hashes {
		if !bf.MightContain(h) {
			t.Fatalf("inserted hash %d reported as absent", h)
		}
	}
	if bf.Count() != len(hashes) {
		t.Fatalf("Count() = %d, want %d", bf.Count(), len(hashes))
	}
}

func TestBloomFilterRejectsPastCardinalityCeiling(t *testing.T) {
	if bf := NewBloomFilter(bloomMaxBuildCardinality + 1); bf != nil {
		t.Fatal("expected nil filter past the build-cardinality ceiling")
	}
}

func TestBloomFilterNeverInsertedLikelyAbsent(t *testing.T) {
	cols := []*Column{NewColumnI64("k", []int64{100, 200, 300})}
	hashes := HashKeyColumns(cols)
	bf := NewBloomFilter(len(hashes))
	for _, h := range hashes {
		bf.Insert(h)
	}

	other := []*Column{NewColumnI64("k", []int64{999999})}
	otherHash := HashKeyColumns(other)[0]

	var falsePositive bool
	for _, h := range hashes {
		if h == otherHash {
			falsePositive = true
		}
	}
	if !falsePositive && bf.MightContain(otherHash) {
		// A small bloom filter can legitimately false-positive on a
		// never-inserted key, so this is logged rather than failed.
		t.Logf("MightContain reported true for a never-inserted key (acceptable false positive)")
	}
}
