package opteryx

// HashTable is an open-addressed table keyed by pre-hashed 64-bit values.
// It never hashes a key itself — every caller (join build, group-by
// build) is expected to have already computed the key hash via HashColumn
// / HashKeyColumns, so the same hash function is used consistently across
// the whole query rather than re-derived per table (the "identity hash"
// contract of the data model).
//
// Collisions within one hash bucket are resolved by linear probing;
// distinct rows that happen to share a hash (a true collision, not just a
// full bucket) are chained onto the same entry's row-id list, so entries
// map one hash value to potentially many row ids.
type HashTable struct {
	entries    []htEntry
	occupied   []bool
	count      int
	loadFactor float64
}

type htEntry struct {
	hash   uint64
	rowIDs []uint32 // run-length-ish: appended in insertion order, one id per row sharing this hash
}

const hashTableMaxLoadFactor = 0.75

// NewHashTable builds an empty table sized for at least capacityHint
// distinct hash values.
func NewHashTable(capacityHint int) *HashTable {
	size := nextPowerOfTwo(int(float64(capacityHint)/hashTableMaxLoadFactor) + 1)
	if size < 16 {
		size = 16
	}
	return &HashTable{
		entries:    make([]htEntry, size),
		occupied:   make([]bool, size),
		loadFactor: hashTableMaxLoadFactor,
	}
}

func nextPowerOfTwo(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Insert records rowID under hash, appending to an existing entry if hash
// is already present (a real collision between distinct key values, or a
// genuine duplicate key — both are valid join/group-by inputs).
func (ht *HashTable) Insert(hash uint64, rowID uint32) {
	if ht.count+1 > int(float64(len(ht.entries))*ht.loadFactor) {
		ht.grow()
	}
	idx := ht.findSlot(hash)
	if !ht.occupied[idx] {
		ht.occupied[idx] = true
		ht.entries[idx] = htEntry{hash: hash, rowIDs: []uint32{rowID}}
		ht.count++
		return
	}
	ht.entries[idx].rowIDs = append(ht.entries[idx].rowIDs, rowID)
}

// findSlot returns the slot index for hash: either an existing entry with
// that hash, or the first open slot on its probe sequence.
func (ht *HashTable) findSlot(hash uint64) int {
	mask := uint64(len(ht.entries) - 1)
	idx := hash & mask
	for {
		if !ht.occupied[idx] || ht.entries[idx].hash == hash {
			return int(idx)
		}
		idx = (idx + 1) & mask
	}
}

func (ht *HashTable) grow() {
	old := ht.entries
	oldOccupied := ht.occupied
	newSize := len(ht.entries) * 2
	ht.entries = make([]htEntry, newSize)
	ht.occupied = make([]bool, newSize)
	for i, was := range oldOccupied {
		if !was {
			continue
		}
		idx := ht.findSlot(old[i].hash)
		ht.occupied[idx] = true
		ht.entries[idx] = old[i]
	}
}

// Get returns the row ids stored under hash, and whether hash was found at
// all. The caller is still responsible for verifying true key equality on
// each returned row id (two distinct keys can share a hash).
func (ht *HashTable) Get(hash uint64) ([]uint32, bool) {
	mask := uint64(len(ht.entries) - 1)
	idx := hash & mask
	for {
		if !ht.occupied[idx] {
			return nil, false
		}
		if ht.entries[idx].hash == hash {
			return ht.entries[idx].rowIDs, true
		}
		idx = (idx + 1) & mask
	}
}

// Len returns the number of distinct hash values stored (not row count).
func (ht *HashTable) Len() int { return ht.count }

// IterEntries calls fn once per distinct hash value with its row-id list,
// in table-storage order (unspecified, stable only for a given table
// instance). Used by Merge to replay another table's entries.
func (ht *HashTable) IterEntries(fn func(hash uint64, rowIDs []uint32)) {
	for i, was := range ht.occupied {
		if was {
			fn(ht.entries[i].hash, ht.entries[i].rowIDs)
		}
	}
}

// Merge absorbs other's entries into ht by replaying each row id through
// Insert. Safe for tables built by partitioning build rows on low bits of
// the same hash (§4.4: "partition the build side by low bits of the hash
// to parallelize, then merge partitions by concatenation") — a given hash
// value lands in exactly one partition, so Merge never needs to reconcile
// the same hash appearing in two source tables, only preserve the
// insertion order already recorded within each partition's row-id list.
func (ht *HashTable) Merge(other *HashTable) {
	other.IterEntries(func(hash uint64, rowIDs []uint32) {
		for _, id := range rowIDs {
			ht.Insert(hash, id)
		}
	})
}
