package opteryx

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// atomicSetBit sets bit i of a packed uint64 bitmap via CAS, so a future
// parallel probe mode can mark the same seen_left bitmap from multiple
// goroutines without a lock — idempotent, so a racing double-set is
// harmless (§5: "seen_left updated via atomic-set ops, idempotent,
// last-writer-wins safe without locking").
func atomicSetBit(bits []uint64, i int) {
	word := i / 64
	mask := uint64(1) << uint(i%64)
	addr := &bits[word]
	for {
		old := atomic.LoadUint64(addr)
		if old&mask != 0 {
			return
		}
		if atomic.CompareAndSwapUint64(addr, old, old|mask) {
			return
		}
	}
}

// JoinType enumerates the supported physical join strategies (§4.5). Inner,
// LeftOuter, Semi, Anti, and Cross come from the base spec; RightOuter and
// FullOuter are supplemented here since any complete hash-join family needs
// them and they fall out of the same build/probe machinery with the sides
// swapped.
type JoinType int

const (
	InnerJoin JoinType = iota
	LeftOuterJoin
	RightOuterJoin
	FullOuterJoin
	SemiJoin
	AntiJoin
	CrossJoin
)

func (t JoinType) String() string {
	switch t {
	case InnerJoin:
		return "InnerJoin"
	case LeftOuterJoin:
		return "LeftOuterJoin"
	case RightOuterJoin:
		return "RightOuterJoin"
	case FullOuterJoin:
		return "FullOuterJoin"
	case SemiJoin:
		return "SemiJoin"
	case AntiJoin:
		return "AntiJoin"
	case CrossJoin:
		return "CrossJoin"
	default:
		return "UnknownJoin"
	}
}

// JoinOptions names the key columns on each side and the suffix applied to
// a right-side column whose name collides with a left-side one. Modeled on
// the teacher's JoinOptions/On/WithSuffix chain, generalized to the
// streaming build/probe model instead of DataFrame.Join's eager API.
type JoinOptions struct {
	LeftKeys  []string
	RightKeys []string
	Suffix    string
}

// DefaultJoinOptions returns the baseline options: no keys set, "_right"
// collision suffix.
func DefaultJoinOptions() JoinOptions {
	return JoinOptions{Suffix: "_right"}
}

// On sets LeftKeys and RightKeys to the same column names, for the common
// case of joining on identically named columns.
func (o JoinOptions) On(columns ...string) JoinOptions {
	o.LeftKeys = columns
	o.RightKeys = columns
	return o
}

// Keys sets distinct left/right key column lists, for joins where the two
// sides name their join columns differently.
func (o JoinOptions) Keys(left, right []string) JoinOptions {
	o.LeftKeys = left
	o.RightKeys = right
	return o
}

// WithSuffix overrides the collision suffix.
func (o JoinOptions) WithSuffix(suffix string) JoinOptions {
	o.Suffix = suffix
	return o
}

// buildSide records which input operator the join fully materializes into a
// hash table. §4.5's description of left outer join ("seen_left bitmap... of
// size |build side|... unmatched build rows emitted after probe stream
// ends") implies the build side is the one whose rows must all survive to
// the output, so each join type picks whichever side that invariant applies
// to; the other side streams through the probe.
type buildSide int

const (
	buildLeft buildSide = iota
	buildRight
)

func sideFor(t JoinType) buildSide {
	switch t {
	case LeftOuterJoin, FullOuterJoin:
		return buildLeft
	default: // Inner, RightOuter, Semi, Anti, Cross
		return buildRight
	}
}

type joinPhase int

const (
	phaseInit joinPhase = iota
	phaseBuilding
	phaseProbing
	phaseDrainingUnmatched
	phaseDone
)

// HashJoinOperator implements every member of the hash join family (§4.5)
// as one state machine: Init -> Building -> Probing -> (DrainingUnmatched)
// -> Done, cancellable in any state. Inner/Semi/Anti/Cross skip
// DrainingUnmatched entirely; LeftOuter/RightOuter/FullOuter all drain
// unmatched build-side rows once the probe stream ends (the build side is
// whichever one sideFor picked to preserve for that join type).
type HashJoinOperator struct {
	joinType JoinType
	opts     JoinOptions

	leftOp, rightOp Operator
	side            buildSide

	cfg    *ExecutorConfig
	cancel *cancelFlag

	outSchema   *Schema
	leftSchema  *Schema
	rightSchema *Schema
	leftKeyIdx  []int
	rightKeyIdx []int

	phase joinPhase

	buildMorsel    *Morsel
	buildKeyHashes []uint64
	buildHasKey    []bool // false where any key column is NULL; these rows never match and are never inserted
	table          *HashTable
	bloom          *BloomFilter
	seenLeft       []uint64 // atomic-OR bitmap over buildMorsel rows; only allocated for LeftOuter/RightOuter/FullOuter

	// bloom pre-probe gating (§4.3): measured over the first few probe
	// morsels, then kept only if the elimination rate earns back its cost.
	bloomMorselsSeen    int
	bloomRowsSeen       int64
	bloomEliminatedSeen int64
	bloomDisabled       bool

	// currentProbe holds the probe morsel currently being matched and the
	// queued (build_idx, probe_idx) output pairs not yet flushed, so a
	// single probe morsel that overflows one output morsel can be drained
	// across several Next() calls without re-matching it.
	currentProbe   *Morsel
	pendingBuild   []uint32
	pendingBuildOK []bool // false => emit NULLs for build side at this position (full outer unmatched-probe row)
	pendingProbe   []uint32
	pendingOnly    bool // true: pending rows are probe-only (Semi/Anti), pendingProbe indexes currentProbe, pendingBuild unused
	cursor         int

	crossRowsEmitted int64
	crossProbeRow    int // row cursor into currentProbe for CrossJoin's per-row expansion
	crossBuildCursor int

	stats OperatorStats
}

// NewHashJoinOperator wires up a join between left and right.
func NewHashJoinOperator(joinType JoinType, left, right Operator, opts JoinOptions, cfg *ExecutorConfig, cancel *cancelFlag) (*HashJoinOperator, error) {
	if cfg == nil {
		cfg = GetExecutorConfig()
	}
	leftSchema, rightSchema := left.Schema(), right.Schema()

	var outSchema *Schema
	var err error
	switch joinType {
	case SemiJoin, AntiJoin:
		outSchema = leftSchema
	default:
		outSchema, err = combinedSchema(leftSchema, rightSchema, opts.Suffix)
	}
	if err != nil {
		return nil, err
	}

	var leftKeyIdx, rightKeyIdx []int
	if joinType != CrossJoin {
		leftKeyIdx, err = keyIndices(leftSchema, opts.LeftKeys)
		if err != nil {
			return nil, err
		}
		rightKeyIdx, err = keyIndices(rightSchema, opts.RightKeys)
		if err != nil {
			return nil, err
		}
		if len(leftKeyIdx) != len(rightKeyIdx) || len(leftKeyIdx) == 0 {
			return nil, NewSchemaError("NewHashJoinOperator", "left and right key column counts must match and be non-empty")
		}
	}

	return &HashJoinOperator{
		joinType: joinType, opts: opts,
		leftOp: left, rightOp: right, side: sideFor(joinType),
		cfg: cfg, cancel: cancel,
		outSchema: outSchema, leftSchema: leftSchema, rightSchema: rightSchema,
		leftKeyIdx: leftKeyIdx, rightKeyIdx: rightKeyIdx,
		phase: phaseInit,
	}, nil
}

func keyIndices(schema *Schema, names []string) ([]int, error) {
	idx := make([]int, len(names))
	for i, n := range names {
		idx[i] = schema.IndexOf(n)
		if idx[i] < 0 {
			return nil, NewSchemaError("keyIndices", fmt.Sprintf("join key %q not found", n))
		}
	}
	return idx, nil
}

// combinedSchema concatenates left and right fields, appending opts.Suffix
// to a right field whose name collides with a left one.
func combinedSchema(left, right *Schema, suffix string) (*Schema, error) {
	if suffix == "" {
		suffix = "_right"
	}
	fields := append([]Field{}, left.Fields()...)
	leftNames := make(map[string]bool, left.Len())
	for _, f := range left.Fields() {
		leftNames[f.Name] = true
	}
	for _, f := range right.Fields() {
		if leftNames[f.Name] {
			f.Name = f.Name + suffix
		}
		fields = append(fields, f)
	}
	return NewSchema(fields)
}

func (j *HashJoinOperator) Schema() *Schema { return j.outSchema }

func (j *HashJoinOperator) buildOp() Operator {
	if j.side == buildLeft {
		return j.leftOp
	}
	return j.rightOp
}

func (j *HashJoinOperator) probeOp() Operator {
	if j.side == buildLeft {
		return j.rightOp
	}
	return j.leftOp
}

func (j *HashJoinOperator) buildKeyIdx() []int {
	if j.side == buildLeft {
		return j.leftKeyIdx
	}
	return j.rightKeyIdx
}

func (j *HashJoinOperator) probeKeyIdx() []int {
	if j.side == buildLeft {
		return j.rightKeyIdx
	}
	return j.leftKeyIdx
}

// Next drives the state machine one step at a time, returning a morsel as
// soon as one is available, or (nil, nil) once Done.
func (j *HashJoinOperator) Next() (*Morsel, error) {
	for {
		if j.cancel != nil && j.cancel.IsCancelled() {
			return nil, ErrCancelled
		}
		switch j.phase {
		case phaseInit:
			j.phase = phaseBuilding
		case phaseBuilding:
			if err := j.build(); err != nil {
				return nil, err
			}
			j.phase = phaseProbing
		case phaseProbing:
			out, done, err := j.probeStep()
			if err != nil {
				return nil, err
			}
			if out != nil {
				return out, nil
			}
			if done {
				if j.joinType == LeftOuterJoin || j.joinType == RightOuterJoin || j.joinType == FullOuterJoin {
					j.phase = phaseDrainingUnmatched
					j.cursor = 0
				} else {
					j.phase = phaseDone
				}
			}
		case phaseDrainingUnmatched:
			out, done := j.drainUnmatchedStep()
			if out != nil {
				return out, nil
			}
			if done {
				j.phase = phaseDone
			}
		case phaseDone:
			return nil, nil
		}
	}
}

// build fully materializes the build side, computes its key hashes, and
// constructs the hash table plus bloom filter. Cross join skips hashing
// entirely since it has no keys.
func (j *HashJoinOperator) build() error {
	var morsels []*Morsel
	buildOp := j.buildOp()
	for {
		m, err := buildOp.Next()
		if err != nil {
			return err
		}
		if m == nil {
			break
		}
		j.stats.MorselsIn++
		j.stats.RowsIn += int64(m.RowCount)
		morsels = append(morsels, m.Materialize())
	}

	var schema *Schema
	if j.side == buildLeft {
		schema = j.leftSchema
	} else {
		schema = j.rightSchema
	}

	if len(morsels) == 0 {
		empty := make([]*Column, schema.Len())
		for i, f := range schema.Fields() {
			empty[i] = emptyColumn(f)
		}
		merged, err := NewMorsel(schema, empty, 0)
		if err != nil {
			return err
		}
		j.buildMorsel = merged
	} else {
		merged, err := ConcatMorsels(morsels)
		if err != nil {
			return err
		}
		j.buildMorsel = merged
	}

	if j.joinType == CrossJoin {
		if int64(j.buildMorsel.RowCount) > j.cfg.MaxCrossJoinRows {
			return &CrossJoinTooLarge{Estimated: int64(j.buildMorsel.RowCount), Limit: j.cfg.MaxCrossJoinRows}
		}
		return nil
	}

	n := j.buildMorsel.RowCount
	keyCols := make([]*Column, len(j.buildKeyIdx()))
	for i, idx := range j.buildKeyIdx() {
		keyCols[i] = j.buildMorsel.Column(idx)
	}
	j.buildKeyHashes = HashKeyColumns(keyCols)
	j.buildHasKey = make([]bool, n)
	for i := 0; i < n; i++ {
		j.buildHasKey[i] = rowKeyPresent(keyCols, i)
	}

	if j.cfg.shouldParallelize(n) {
		table, err := j.buildHashTableParallel(n)
		if err != nil {
			return err
		}
		j.table = table
	} else {
		j.table = NewHashTable(n)
		for i := 0; i < n; i++ {
			if !j.buildHasKey[i] {
				continue // NULL join keys never match (§4.5 common contract); excluded from the index entirely
			}
			j.table.Insert(j.buildKeyHashes[i], uint32(i))
		}
	}

	j.bloom = NewBloomFilter(n)
	if j.bloom != nil {
		for i := 0; i < n; i++ {
			if j.buildHasKey[i] {
				j.bloom.Insert(j.buildKeyHashes[i])
			}
		}
	}

	// seenLeft (despite the name) tracks matched rows of whichever side is
	// the build side here, so it must be allocated for every outer join
	// whose preserved side is the build side — that's all three outer
	// variants, since sideFor always builds on the side an outer join
	// needs to preserve.
	if j.joinType == LeftOuterJoin || j.joinType == RightOuterJoin || j.joinType == FullOuterJoin {
		j.seenLeft = make([]uint64, bitmapWords(n))
	}
	return nil
}

// buildHashTableParallel builds the build-side hash table by partitioning
// rows on low bits of their key hash across cfg's worker count, building
// each partition's table in its own goroutine, then merging partitions by
// concatenation — no rehash needed, since a row's hash determines both its
// partition and its final table slot (§4.4). Bucketing is done up front in
// a single sequential pass so each goroutine only ever touches its own
// partition's rows.
func (j *HashJoinOperator) buildHashTableParallel(n int) (*HashTable, error) {
	numP := nextPowerOfTwo(j.cfg.numWorkers())
	if numP < 1 {
		numP = 1
	}
	if numP > n {
		numP = 1
	}
	mask := uint64(numP - 1)

	buckets := make([][]uint32, numP)
	for i := 0; i < n; i++ {
		if !j.buildHasKey[i] {
			continue // NULL join keys never match (§4.5 common contract); excluded from the index entirely
		}
		p := j.buildKeyHashes[i] & mask
		buckets[p] = append(buckets[p], uint32(i))
	}

	partTables := make([]*HashTable, numP)
	g := new(errgroup.Group)
	for p := 0; p < numP; p++ {
		p := p
		g.Go(func() error {
			rows := buckets[p]
			t := NewHashTable(len(rows))
			for _, rid := range rows {
				t.Insert(j.buildKeyHashes[rid], rid)
			}
			partTables[p] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := NewHashTable(n)
	for _, t := range partTables {
		merged.Merge(t)
	}
	return merged, nil
}

// rowKeyPresent reports whether every key column has a non-NULL value at
// row i.
func rowKeyPresent(keyCols []*Column, i int) bool {
	for _, c := range keyCols {
		if !c.IsValid(i) {
			return false
		}
	}
	return true
}

func emptyColumn(f Field) *Column {
	switch f.DType {
	case Float64:
		return NewColumnF64(f.Name, nil)
	case Float32:
		return NewColumnF32(f.Name, nil)
	case Int64, TimestampNanos:
		return NewColumnI64(f.Name, nil)
	case Int32, Date32:
		return NewColumnI32(f.Name, nil)
	case Bool:
		return NewColumnBool(f.Name, nil)
	case String:
		return NewColumnString(f.Name, nil)
	case Binary:
		return NewColumnBinary(f.Name, nil)
	case Decimal:
		return NewColumnDecimal(f.Name, nil, f.Decimal)
	default:
		return NewColumnNull(f.Name, 0)
	}
}

// probeStep pulls at most one probe morsel (if none is already queued),
// matches it, and returns one output-sized chunk. The bool return is true
// once the probe side is fully exhausted and flushed.
func (j *HashJoinOperator) probeStep() (*Morsel, bool, error) {
	if j.currentProbe == nil {
		m, err := j.probeOp().Next()
		if err != nil {
			return nil, false, err
		}
		if m == nil {
			return nil, true, nil
		}
		j.stats.MorselsIn++
		j.stats.RowsIn += int64(m.RowCount)
		j.currentProbe = m.Materialize()
		j.cursor = 0
		if j.joinType == CrossJoin {
			j.crossProbeRow = 0
			j.crossBuildCursor = 0
		} else if err := j.matchProbeMorsel(); err != nil {
			return nil, false, err
		}
	}

	var out *Morsel
	var err error
	if j.joinType == CrossJoin {
		out, err = j.flushCross()
	} else if j.pendingOnly {
		out, err = j.flushProbeOnly()
	} else {
		out, err = j.flushPairs()
	}
	if err != nil {
		return nil, false, err
	}
	return out, false, nil
}

// bloomMeasurementMorsels is how many probe morsels the pre-probe runs on
// unconditionally before the elimination rate decides whether it keeps
// running (§4.3).
const bloomMeasurementMorsels = 3

// bloomMinEliminationRate is the elimination rate, measured over the first
// bloomMeasurementMorsels probe morsels, at or below which the bloom pre-probe's
// own MightContain cost isn't earning its keep and it is disabled for the
// rest of the probe side.
const bloomMinEliminationRate = 0.05

// bloomActive reports whether the bloom pre-probe should run against the
// probe morsel currently being matched: always during the measurement
// window, then only if the measured elimination rate cleared the bar.
func (j *HashJoinOperator) bloomActive() bool {
	if j.bloom == nil {
		return false
	}
	if j.bloomMorselsSeen < bloomMeasurementMorsels {
		return true
	}
	return !j.bloomDisabled
}

// recordBloomMeasurement folds one morsel's elimination count into the
// running rate and, once the measurement window closes, decides whether
// the filter stays enabled for the remainder of the probe.
func (j *HashJoinOperator) recordBloomMeasurement(rowsThisMorsel, eliminatedThisMorsel int64) {
	if j.bloomMorselsSeen >= bloomMeasurementMorsels {
		return
	}
	j.bloomMorselsSeen++
	j.bloomRowsSeen += rowsThisMorsel
	j.bloomEliminatedSeen += eliminatedThisMorsel
	if j.bloomMorselsSeen >= bloomMeasurementMorsels {
		rate := 0.0
		if j.bloomRowsSeen > 0 {
			rate = float64(j.bloomEliminatedSeen) / float64(j.bloomRowsSeen)
		}
		j.bloomDisabled = rate <= bloomMinEliminationRate
	}
}

// matchProbeMorsel computes key hashes for the current probe morsel and
// queues output pairs according to the join type's emission rule.
func (j *HashJoinOperator) matchProbeMorsel() error {
	probeKeyIdx := j.probeKeyIdx()
	keyCols := make([]*Column, len(probeKeyIdx))
	for i, idx := range probeKeyIdx {
		keyCols[i] = j.currentProbe.Column(idx)
	}
	hashes := HashKeyColumns(keyCols)
	n := j.currentProbe.RowCount

	useBloom := j.bloomActive()
	eliminatedBefore := j.stats.BloomEliminations

	switch j.joinType {
	case SemiJoin:
		j.pendingOnly = true
		j.pendingProbe = j.pendingProbe[:0]
		for i := 0; i < n; i++ {
			if !rowKeyPresent(keyCols, i) {
				continue
			}
			if useBloom && !j.bloom.MightContain(hashes[i]) {
				j.stats.BloomEliminations++
				continue
			}
			if ids, ok := j.table.Get(hashes[i]); ok && j.anyTrueMatch(keyCols, i, ids) {
				j.pendingProbe = append(j.pendingProbe, uint32(i))
			}
		}
	case AntiJoin:
		j.pendingOnly = true
		j.pendingProbe = j.pendingProbe[:0]
		for i := 0; i < n; i++ {
			if !rowKeyPresent(keyCols, i) {
				j.pendingProbe = append(j.pendingProbe, uint32(i))
				continue
			}
			matched := false
			if useBloom && !j.bloom.MightContain(hashes[i]) {
				j.stats.BloomEliminations++
			} else if ids, ok := j.table.Get(hashes[i]); ok && j.anyTrueMatch(keyCols, i, ids) {
				matched = true
			}
			if !matched {
				j.pendingProbe = append(j.pendingProbe, uint32(i))
			}
		}
	default: // Inner, LeftOuter, RightOuter, FullOuter
		j.pendingOnly = false
		j.pendingBuild = j.pendingBuild[:0]
		j.pendingBuildOK = j.pendingBuildOK[:0]
		j.pendingProbe = j.pendingProbe[:0]
		for i := 0; i < n; i++ {
			if !rowKeyPresent(keyCols, i) {
				if j.joinType == FullOuterJoin {
					j.pendingBuild = append(j.pendingBuild, 0)
					j.pendingBuildOK = append(j.pendingBuildOK, false)
					j.pendingProbe = append(j.pendingProbe, uint32(i))
				}
				continue
			}
			if useBloom && !j.bloom.MightContain(hashes[i]) {
				j.stats.BloomEliminations++
				if j.joinType == FullOuterJoin {
					j.pendingBuild = append(j.pendingBuild, 0)
					j.pendingBuildOK = append(j.pendingBuildOK, false)
					j.pendingProbe = append(j.pendingProbe, uint32(i))
				}
				continue
			}
			ids, ok := j.table.Get(hashes[i])
			matched := false
			if ok {
				for _, bid := range ids {
					if !j.rowsEqual(keyCols, i, bid) {
						continue
					}
					matched = true
					j.pendingBuild = append(j.pendingBuild, bid)
					j.pendingBuildOK = append(j.pendingBuildOK, true)
					j.pendingProbe = append(j.pendingProbe, uint32(i))
					if j.seenLeft != nil {
						atomicSetBit(j.seenLeft, int(bid))
					}
				}
			}
			if !matched && j.joinType == FullOuterJoin {
				j.pendingBuild = append(j.pendingBuild, 0)
				j.pendingBuildOK = append(j.pendingBuildOK, false)
				j.pendingProbe = append(j.pendingProbe, uint32(i))
			}
		}
	}
	if useBloom {
		j.recordBloomMeasurement(int64(n), j.stats.BloomEliminations-eliminatedBefore)
	}
	j.cursor = 0
	return nil
}

// anyTrueMatch verifies at least one candidate row id is a genuine key
// match (same hash does not imply same key).
func (j *HashJoinOperator) anyTrueMatch(probeKeyCols []*Column, probeIdx int, candidateBuildIDs []uint32) bool {
	for _, bid := range candidateBuildIDs {
		if j.rowsEqual(probeKeyCols, probeIdx, bid) {
			return true
		}
	}
	return false
}

// rowsEqual compares probe row probeIdx (whose key columns are
// probeKeyCols) against build row buildIdx, column by column.
func (j *HashJoinOperator) rowsEqual(probeKeyCols []*Column, probeIdx int, buildIdx uint32) bool {
	buildKeyIdx := j.buildKeyIdx()
	for k, idx := range buildKeyIdx {
		bc := j.buildMorsel.Column(idx)
		if !valuesEqualAt(probeKeyCols[k], probeIdx, bc, int(buildIdx)) {
			return false
		}
	}
	return true
}

// valuesEqualAt reports whether a[ai] equals b[bi], treating any NULL as
// non-matching.
func valuesEqualAt(a *Column, ai int, b *Column, bi int) bool {
	if !a.IsValid(ai) || !b.IsValid(bi) {
		return false
	}
	if a.DType != b.DType {
		av, aok := asInt64Value(a, ai)
		bv, bok := asInt64Value(b, bi)
		return aok && bok && av == bv
	}
	switch a.DType {
	case Float64:
		av, _ := a.AtF64(ai)
		bv, _ := b.AtF64(bi)
		return av == bv
	case Float32:
		av, _ := a.AtF32(ai)
		bv, _ := b.AtF32(bi)
		return av == bv
	case Int64, TimestampNanos, Decimal:
		av, _ := a.AtI64(ai)
		bv, _ := b.AtI64(bi)
		return av == bv
	case Int32, Date32:
		av, _ := a.AtI32(ai)
		bv, _ := b.AtI32(bi)
		return av == bv
	case Bool:
		av, _ := a.AtBool(ai)
		bv, _ := b.AtBool(bi)
		return av == bv
	case String, Categorical:
		av, _ := a.AtString(ai)
		bv, _ := b.AtString(bi)
		return av == bv
	case Binary:
		av, _ := a.AtBinary(ai)
		bv, _ := b.AtBinary(bi)
		return string(av) == string(bv)
	default:
		return false
	}
}

func asInt64Value(c *Column, i int) (int64, bool) {
	switch c.DType {
	case Int64, TimestampNanos, Decimal:
		return c.AtI64(i)
	case Int32, Date32:
		v, ok := c.AtI32(i)
		return int64(v), ok
	default:
		return 0, false
	}
}

// flushPairs emits up to one MorselSize chunk of the queued (build, probe)
// row pairs as a materialized output morsel.
func (j *HashJoinOperator) flushPairs() (*Morsel, error) {
	total := len(j.pendingProbe)
	if j.cursor >= total {
		j.currentProbe = nil
		return nil, nil
	}
	end := j.cursor + j.cfg.MorselSize
	if end > total {
		end = total
	}
	buildIdx := j.pendingBuild[j.cursor:end]
	buildOK := j.pendingBuildOK[j.cursor:end]
	probeIdx := j.pendingProbe[j.cursor:end]
	j.cursor = end

	buildCols, probeCols := j.sideColumns(buildIdx, buildOK, probeIdx)

	out, err := assembleOutput(j.outSchema, j.side, buildCols, probeCols)
	if err != nil {
		return nil, err
	}
	j.stats.MorselsOut++
	j.stats.RowsOut += int64(out.RowCount)
	return out, nil
}

// sideColumns gathers the build-side and probe-side columns for one output
// chunk, producing NULL-filled build columns at positions where buildOK is
// false (a full-outer unmatched-probe row).
func (j *HashJoinOperator) sideColumns(buildIdx []uint32, buildOK []bool, probeIdx []uint32) ([]*Column, []*Column) {
	buildCols := make([]*Column, j.buildMorsel.Schema.Len())
	for c := 0; c < j.buildMorsel.Schema.Len(); c++ {
		src := j.buildMorsel.Column(c)
		buildCols[c] = gatherWithNullMask(src, buildIdx, buildOK)
	}
	probeSchema := j.currentProbe.Schema
	probeCols := make([]*Column, probeSchema.Len())
	for c := 0; c < probeSchema.Len(); c++ {
		probeCols[c] = j.currentProbe.Column(c).Gather(probeIdx)
	}
	return buildCols, probeCols
}

// gatherWithNullMask gathers src at idx, but forces the result NULL at any
// position where ok is false (the NULL build-side half of an unmatched
// full-outer probe row).
func gatherWithNullMask(src *Column, idx []uint32, ok []bool) *Column {
	safeIdx := make([]uint32, len(idx))
	copy(safeIdx, idx)
	anyForced := false
	for i, v := range ok {
		if !v {
			anyForced = true
			if src.Length > 0 {
				safeIdx[i] = 0 // placeholder row; its value is discarded by the forced-invalid flag below
			}
		}
	}
	gathered := src.Gather(safeIdx)
	if !anyForced {
		return gathered
	}
	flags := make([]bool, len(idx))
	for i, v := range ok {
		flags[i] = v && gathered.IsValid(i)
	}
	gathered.valid, gathered.nullCount = newBitmapFromBools(flags)
	return gathered
}

// flushProbeOnly emits queued probe-only row indices (Semi/Anti join) as a
// morsel over the probe (left) schema alone.
func (j *HashJoinOperator) flushProbeOnly() (*Morsel, error) {
	total := len(j.pendingProbe)
	if j.cursor >= total {
		j.currentProbe = nil
		j.pendingOnly = false
		return nil, nil
	}
	end := j.cursor + j.cfg.MorselSize
	if end > total {
		end = total
	}
	idx := j.pendingProbe[j.cursor:end]
	j.cursor = end

	cols := make([]*Column, j.currentProbe.Schema.Len())
	for c := range cols {
		cols[c] = j.currentProbe.Column(c).Gather(idx)
	}
	out, err := NewMorsel(j.outSchema, cols, len(idx))
	if err != nil {
		return nil, err
	}
	j.stats.MorselsOut++
	j.stats.RowsOut += int64(out.RowCount)
	return out, nil
}

// flushCross expands the current probe morsel against the whole build
// morsel in MorselSize-sized output chunks, enforcing MaxCrossJoinRows
// against the running total as it goes.
func (j *HashJoinOperator) flushCross() (*Morsel, error) {
	buildRows := j.buildMorsel.RowCount
	probeRows := j.currentProbe.RowCount
	if buildRows == 0 || probeRows == 0 {
		j.currentProbe = nil
		return nil, nil
	}

	var buildIdx, probeIdx []uint32
	for len(buildIdx) < j.cfg.MorselSize && j.crossProbeRow < probeRows {
		remaining := j.cfg.MorselSize - len(buildIdx)
		take := buildRows - j.crossBuildCursor
		if take > remaining {
			take = remaining
		}
		for k := 0; k < take; k++ {
			buildIdx = append(buildIdx, uint32(j.crossBuildCursor+k))
			probeIdx = append(probeIdx, uint32(j.crossProbeRow))
		}
		j.crossBuildCursor += take
		if j.crossBuildCursor >= buildRows {
			j.crossBuildCursor = 0
			j.crossProbeRow++
		}
	}

	if len(buildIdx) == 0 {
		j.currentProbe = nil
		return nil, nil
	}

	j.crossRowsEmitted += int64(len(buildIdx))
	if j.crossRowsEmitted > j.cfg.MaxCrossJoinRows {
		return nil, &CrossJoinTooLarge{Estimated: j.crossRowsEmitted, Limit: j.cfg.MaxCrossJoinRows}
	}

	buildCols := make([]*Column, j.buildMorsel.Schema.Len())
	for c := range buildCols {
		buildCols[c] = j.buildMorsel.Column(c).Gather(buildIdx)
	}
	probeCols := make([]*Column, j.currentProbe.Schema.Len())
	for c := range probeCols {
		probeCols[c] = j.currentProbe.Column(c).Gather(probeIdx)
	}

	out, err := assembleOutput(j.outSchema, j.side, buildCols, probeCols)
	if err != nil {
		return nil, err
	}
	j.stats.MorselsOut++
	j.stats.RowsOut += int64(out.RowCount)
	return out, nil
}

// assembleOutput places build-side and probe-side column sets back into
// left-then-right order regardless of which physically served as the hash
// table's build side.
func assembleOutput(outSchema *Schema, side buildSide, buildCols, probeCols []*Column) (*Morsel, error) {
	var leftCols, rightCols []*Column
	if side == buildLeft {
		leftCols, rightCols = buildCols, probeCols
	} else {
		leftCols, rightCols = probeCols, buildCols
	}
	cols := make([]*Column, 0, len(leftCols)+len(rightCols))
	cols = append(cols, leftCols...)
	cols = append(cols, rightCols...)
	rowCount := 0
	if len(cols) > 0 {
		rowCount = cols[0].Length
	}
	return NewMorsel(outSchema, cols, rowCount)
}

// drainUnmatchedStep emits unmatched build-side rows (LeftOuter/RightOuter/FullOuter)
// once the probe stream is exhausted, in MorselSize-sized chunks, with
// NULLs standing in for the probe side.
func (j *HashJoinOperator) drainUnmatchedStep() (*Morsel, bool) {
	n := j.buildMorsel.RowCount
	var idx []uint32
	for len(idx) < j.cfg.MorselSize && j.cursor < n {
		if !bitSet(j.seenLeft, j.cursor) {
			idx = append(idx, uint32(j.cursor))
		}
		j.cursor++
	}
	if len(idx) == 0 {
		return nil, j.cursor >= n
	}

	buildCols := make([]*Column, j.buildMorsel.Schema.Len())
	for c := range buildCols {
		buildCols[c] = j.buildMorsel.Column(c).Gather(idx)
	}
	probeSchema := j.probeOp().Schema()
	probeCols := make([]*Column, probeSchema.Len())
	for c, f := range probeSchema.Fields() {
		probeCols[c] = NewColumnNull(f.Name, len(idx))
	}

	out, err := assembleOutput(j.outSchema, j.side, buildCols, probeCols)
	if err != nil {
		// A schema mismatch here would be a construction-time bug already
		// caught by NewHashJoinOperator, not a runtime data condition.
		return nil, true
	}
	j.stats.MorselsOut++
	j.stats.RowsOut += int64(out.RowCount)
	return out, j.cursor >= n
}

func bitSet(bits []uint64, i int) bool {
	return bits[i/64]&(1<<uint(i%64)) != 0
}

func (j *HashJoinOperator) Statistics() OperatorStats { return j.stats }

func (j *HashJoinOperator) Close() error {
	j.table = nil
	j.bloom = nil
	j.buildMorsel = nil
	j.seenLeft = nil
	leftErr := j.leftOp.Close()
	rightErr := j.rightOp.Close()
	if leftErr != nil {
		return leftErr
	}
	return rightErr
}
