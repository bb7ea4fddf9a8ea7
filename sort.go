package opteryx

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"
)

// SortKeySpec is one ORDER BY term: the expression to sort on, its
// direction, and where NULLs sort (§4.7: "explicit NULL-first or NULL-last
// policy per column").
type SortKeySpec struct {
	Expr       Expr
	Ascending  bool
	NullsFirst bool
}

// ---------------------------------------------------------------------
// Row comparison shared by Sort and Top-N
// ---------------------------------------------------------------------

// compareBoxed orders two boxed scalar values of the same underlying Go
// type (float64, int64, bool, or string), as produced by boxColumnValue.
// nil represents SQL NULL.
func compareBoxed(a, b interface{}, spec SortKeySpec) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		if spec.NullsFirst {
			return -1
		}
		return 1
	}
	if b == nil {
		if spec.NullsFirst {
			return 1
		}
		return -1
	}
	cmp := 0
	switch av := a.(type) {
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			cmp = -1
		case av > bv:
			cmp = 1
		}
	case int64:
		bv := b.(int64)
		switch {
		case av < bv:
			cmp = -1
		case av > bv:
			cmp = 1
		}
	case bool:
		bv := b.(bool)
		switch {
		case !av && bv:
			cmp = -1
		case av && !bv:
			cmp = 1
		}
	case string:
		bv := b.(string)
		switch {
		case av < bv:
			cmp = -1
		case av > bv:
			cmp = 1
		}
	}
	if !spec.Ascending {
		cmp = -cmp
	}
	return cmp
}

// compareRows applies compareBoxed key-by-key, returning the first non-zero
// result — a stable multi-key comparator (equal keys preserve input order
// because callers always sort with a stable algorithm or an explicit
// tie-break on original position).
func compareRows(aVals, bVals []interface{}, specs []SortKeySpec) int {
	for i, spec := range specs {
		if c := compareBoxed(aVals[i], bVals[i], spec); c != 0 {
			return c
		}
	}
	return 0
}

// ---------------------------------------------------------------------
// Sort: external merge-capable stable sort (§4.7)
// ---------------------------------------------------------------------

// SortOperator buffers incoming morsels into an in-memory run; once the run
// exceeds the configured row/byte threshold it is stably sorted and spilled
// to a temp file, mirroring the teacher's Sorter (flushChunk on a full
// buffer, kWayMerge at Finalize) but keyed on evaluated sort expressions
// instead of a fixed byte key, and spilling full rows instead of an
// offset index since this operator has no backing file to re-read from.
type SortOperator struct {
	child Operator
	specs []SortKeySpec
	cfg   *ExecutorConfig

	outSchema *Schema

	bufMorsels []*Morsel
	bufRows    int
	bufBytes   int64
	runFiles   []string

	merging bool
	runs    []*loadedRun
	heap    sortHeap

	cursor  int
	inMem   *loadedRun // used only when nothing was ever spilled
	emitted bool

	stats OperatorStats
}

func NewSortOperator(child Operator, specs []SortKeySpec, cfg *ExecutorConfig) *SortOperator {
	if cfg == nil {
		cfg = GetExecutorConfig()
	}
	return &SortOperator{child: child, specs: specs, cfg: cfg, outSchema: child.Schema()}
}

func (s *SortOperator) Schema() *Schema { return s.outSchema }

func (s *SortOperator) Next() (*Morsel, error) {
	if !s.merging && s.inMem == nil {
		if err := s.drainChild(); err != nil {
			return nil, err
		}
	}
	if s.merging {
		return s.mergeStep()
	}
	return s.inMemStep()
}

func (s *SortOperator) drainChild() error {
	for {
		m, err := s.child.Next()
		if err != nil {
			return err
		}
		if m == nil {
			break
		}
		s.stats.MorselsIn++
		s.stats.RowsIn += int64(m.RowCount)
		mat := m.Materialize()
		s.bufMorsels = append(s.bufMorsels, mat)
		s.bufRows += mat.RowCount
		s.bufBytes += estimateMorselBytes(mat)

		if s.bufRows >= s.cfg.SortSpillRows || (s.cfg.SortSpillBytes > 0 && s.bufBytes >= s.cfg.SortSpillBytes) {
			if err := s.spillCurrentRun(); err != nil {
				return err
			}
		}
	}

	if len(s.runFiles) == 0 {
		// Never spilled: sort the single buffered run in memory.
		run, err := newLoadedRunFromMorsels(s.bufMorsels, s.specs, s.outSchema)
		if err != nil {
			return err
		}
		sortLoadedRun(run, s.specs)
		s.inMem = run
		s.bufMorsels = nil
		return nil
	}

	if s.bufRows > 0 {
		if err := s.spillCurrentRun(); err != nil {
			return err
		}
	}
	if err := s.beginMerge(); err != nil {
		return err
	}
	return nil
}

func (s *SortOperator) spillCurrentRun() error {
	run, err := newLoadedRunFromMorsels(s.bufMorsels, s.specs, s.outSchema)
	if err != nil {
		return err
	}
	sortLoadedRun(run, s.specs)
	path, err := writeSpillRun(run.morsel)
	if err != nil {
		return err
	}
	s.runFiles = append(s.runFiles, path)
	s.bufMorsels = nil
	s.bufRows = 0
	s.bufBytes = 0
	return nil
}

func (s *SortOperator) beginMerge() error {
	s.runs = make([]*loadedRun, len(s.runFiles))
	for i, path := range s.runFiles {
		m, err := readSpillRun(path, s.outSchema)
		if err != nil {
			return err
		}
		run, err := newLoadedRunFromMorsels([]*Morsel{m}, s.specs, s.outSchema)
		if err != nil {
			return err
		}
		// Runs are already individually sorted from the spill pass; no
		// re-sort needed here.
		s.runs[i] = run
	}
	s.heap = sortHeap{specs: s.specs}
	for i, r := range s.runs {
		if r.len() > 0 {
			s.heap.items = append(s.heap.items, heapItem{run: i, row: 0, key: r.keyRow(0)})
		}
	}
	s.heap.init()
	s.merging = true
	return nil
}

func (s *SortOperator) mergeStep() (*Morsel, error) {
	var idx []rowRef
	for len(idx) < s.cfg.MorselSize && len(s.heap.items) > 0 {
		item := s.heap.pop()
		idx = append(idx, rowRef{run: item.run, row: item.row})
		run := s.runs[item.run]
		next := item.row + 1
		if next < run.len() {
			s.heap.push(heapItem{run: item.run, row: next, key: run.keyRow(next)})
		}
	}
	if len(idx) == 0 {
		s.cleanupSpillFiles()
		return nil, nil
	}
	out, err := gatherFromRuns(s.outSchema, s.runs, idx)
	if err != nil {
		return nil, err
	}
	s.stats.MorselsOut++
	s.stats.RowsOut += int64(out.RowCount)
	return out, nil
}

func (s *SortOperator) inMemStep() (*Morsel, error) {
	if s.inMem == nil || s.cursor >= s.inMem.len() {
		return nil, nil
	}
	end := s.cursor + s.cfg.MorselSize
	if end > s.inMem.len() {
		end = s.inMem.len()
	}
	idx := make([]uint32, end-s.cursor)
	for i := range idx {
		idx[i] = uint32(s.cursor + i)
	}
	s.cursor = end
	cols := make([]*Column, s.inMem.morsel.Schema.Len())
	for c := range cols {
		cols[c] = s.inMem.morsel.Column(c).Gather(idx)
	}
	out, err := NewMorsel(s.outSchema, cols, len(idx))
	if err != nil {
		return nil, err
	}
	s.stats.MorselsOut++
	s.stats.RowsOut += int64(out.RowCount)
	return out, nil
}

func (s *SortOperator) cleanupSpillFiles() {
	for _, p := range s.runFiles {
		_ = os.Remove(p)
	}
	s.runFiles = nil
}

func (s *SortOperator) Statistics() OperatorStats { return s.stats }
func (s *SortOperator) Close() error {
	s.cleanupSpillFiles()
	return s.child.Close()
}

// estimateMorselBytes is a coarse per-morsel memory estimate used only to
// decide when to spill, not an exact accounting.
func estimateMorselBytes(m *Morsel) int64 {
	total := int64(0)
	for _, c := range m.Columns {
		width := c.DType.Size()
		if width < 0 {
			width = 32 // rough average for variable-width data
		}
		total += int64(width) * int64(c.Length)
	}
	return total
}

// ---------------------------------------------------------------------
// loadedRun: one sorted run held fully in memory, with its sort keys
// pre-evaluated and boxed for cheap repeated comparison during k-way merge.
// ---------------------------------------------------------------------

type loadedRun struct {
	morsel  *Morsel
	keyCols [][]interface{} // keyCols[k][row]
}

func newLoadedRunFromMorsels(morsels []*Morsel, specs []SortKeySpec, schema *Schema) (*loadedRun, error) {
	var merged *Morsel
	var err error
	if len(morsels) == 0 {
		empty := make([]*Column, schema.Len())
		for i, f := range schema.Fields() {
			empty[i] = emptyColumn(f)
		}
		merged, err = NewMorsel(schema, empty, 0)
	} else if len(morsels) == 1 {
		merged = morsels[0]
	} else {
		merged, err = ConcatMorsels(morsels)
	}
	if err != nil {
		return nil, err
	}
	keyCols := make([][]interface{}, len(specs))
	for k, spec := range specs {
		col, err := spec.Expr.Eval(merged, GetExecutorConfig())
		if err != nil {
			return nil, err
		}
		vals := make([]interface{}, merged.RowCount)
		for r := 0; r < merged.RowCount; r++ {
			vals[r] = boxColumnValue(col, r)
		}
		keyCols[k] = vals
	}
	return &loadedRun{morsel: merged, keyCols: keyCols}, nil
}

func (r *loadedRun) len() int { return r.morsel.RowCount }

func (r *loadedRun) keyRow(i int) []interface{} {
	row := make([]interface{}, len(r.keyCols))
	for k := range r.keyCols {
		row[k] = r.keyCols[k][i]
	}
	return row
}

// sortLoadedRun stably reorders run's rows (and their precomputed keys) by
// specs. Stability matters for §8's sort-stability invariant.
func sortLoadedRun(run *loadedRun, specs []SortKeySpec) {
	n := run.len()
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(i, j int) bool {
		return compareRows(run.keyRow(perm[i]), run.keyRow(perm[j]), specs) < 0
	})

	idx := make([]uint32, n)
	for i, p := range perm {
		idx[i] = uint32(p)
	}
	cols := make([]*Column, run.morsel.Schema.Len())
	for c := range cols {
		cols[c] = run.morsel.Column(c).Gather(idx)
	}
	reordered, _ := NewMorsel(run.morsel.Schema, cols, n)
	run.morsel = reordered

	newKeys := make([][]interface{}, len(run.keyCols))
	for k, vals := range run.keyCols {
		reorderedVals := make([]interface{}, n)
		for i, p := range perm {
			reorderedVals[i] = vals[p]
		}
		newKeys[k] = reorderedVals
	}
	run.keyCols = newKeys
}

type rowRef struct {
	run, row int
}

func gatherFromRuns(schema *Schema, runs []*loadedRun, refs []rowRef) (*Morsel, error) {
	numCols := schema.Len()
	cols := make([]*Column, numCols)
	byRun := make(map[int][]int) // run -> ordinal positions in refs sharing that run
	for i, r := range refs {
		byRun[r.run] = append(byRun[r.run], i)
	}

	for c := 0; c < numCols; c++ {
		parts := make([]*Column, len(refs))
		for runIdx, positions := range byRun {
			idx := make([]uint32, len(positions))
			for k, pos := range positions {
				idx[k] = uint32(refs[pos].row)
			}
			gathered := runs[runIdx].morsel.Column(c).Gather(idx)
			for k, pos := range positions {
				parts[pos] = gathered.Slice(k, k+1)
			}
		}
		cols[c] = concatColumns(parts)
	}
	return NewMorsel(schema, cols, len(refs))
}

// ---------------------------------------------------------------------
// Manual min-heap for k-way merge — avoids container/heap's interface
// boxing per the teacher's sorter.go rationale.
// ---------------------------------------------------------------------

type heapItem struct {
	run, row int
	key      []interface{}
}

// sortHeap is a min-heap ordered by compareRows under specs — each item
// names the run it came from so the merge loop knows which run to pull the
// next row from after popping the current minimum.
type sortHeap struct {
	items []heapItem
	specs []SortKeySpec
}

func (h *sortHeap) less(i, j int) bool {
	if c := compareRows(h.items[i].key, h.items[j].key, h.specs); c != 0 {
		return c < 0
	}
	// Equal keys: the earlier run holds earlier input rows, so it wins.
	return h.items[i].run < h.items[j].run
}

func (h *sortHeap) init() {
	n := len(h.items)
	for i := n/2 - 1; i >= 0; i-- {
		h.siftDown(i, n)
	}
}

func (h *sortHeap) push(item heapItem) {
	h.items = append(h.items, item)
	h.siftUp(len(h.items) - 1)
}

func (h *sortHeap) pop() heapItem {
	n := len(h.items)
	top := h.items[0]
	h.items[0] = h.items[n-1]
	h.items = h.items[:n-1]
	h.siftDown(0, len(h.items))
	return top
}

func (h *sortHeap) siftUp(j int) {
	for {
		i := (j - 1) / 2
		if i == j || !h.less(j, i) {
			break
		}
		h.items[i], h.items[j] = h.items[j], h.items[i]
		j = i
	}
}

func (h *sortHeap) siftDown(i0, n int) {
	i := i0
	for {
		j1 := 2*i + 1
		if j1 >= n || j1 < 0 {
			break
		}
		j := j1
		if j2 := j1 + 1; j2 < n && h.less(j2, j1) {
			j = j2
		}
		if !h.less(j, i) {
			break
		}
		h.items[i], h.items[j] = h.items[j], h.items[i]
		i = j
	}
}

// ---------------------------------------------------------------------
// Spill file format (§6): "OPSP" magic, version, row_count header, then
// per-column type_id/byte_length/raw bytes/null bitmap sections, the whole
// thing LZ4-compressed the way the teacher's chunk files are.
// ---------------------------------------------------------------------

var opspMagic = [4]byte{'O', 'P', 'S', 'P'}

const opspVersion = uint32(1)

// writeSpillRun writes m to a new temp file and returns its path. The name
// carries a fresh per-run uuid rather than relying solely on CreateTemp's
// own randomness, so a spill file can be told apart from those of other
// runs and of concurrently executing queries.
func writeSpillRun(m *Morsel) (string, error) {
	pattern := "opteryx-sort-run-" + uuid.NewString() + "-*.opsp"
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", NewIoError("writeSpillRun", err)
	}
	path := f.Name()
	defer f.Close()

	zw := lz4.NewWriter(f)
	bw := bufio.NewWriterSize(zw, 256*1024)

	if err := writeOPSP(bw, m); err != nil {
		zw.Close()
		os.Remove(path)
		return "", err
	}
	if err := bw.Flush(); err != nil {
		zw.Close()
		os.Remove(path)
		return "", NewIoError("writeSpillRun", err)
	}
	if err := zw.Close(); err != nil {
		os.Remove(path)
		return "", NewIoError("writeSpillRun", err)
	}
	return path, nil
}

func readSpillRun(path string, schema *Schema) (*Morsel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewIoError("readSpillRun", err)
	}
	defer f.Close()
	zr := lz4.NewReader(f)
	br := bufio.NewReaderSize(zr, 64*1024)
	return readOPSP(br, schema)
}

func writeOPSP(w *bufio.Writer, m *Morsel) error {
	if _, err := w.Write(opspMagic[:]); err != nil {
		return NewIoError("writeOPSP", err)
	}
	if err := binary.Write(w, binary.LittleEndian, opspVersion); err != nil {
		return NewIoError("writeOPSP", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(m.RowCount)); err != nil {
		return NewIoError("writeOPSP", err)
	}
	for i := 0; i < m.Schema.Len(); i++ {
		if err := writeOPSPColumn(w, m.Column(i)); err != nil {
			return err
		}
	}
	return nil
}

func writeOPSPColumn(w *bufio.Writer, c *Column) error {
	payload, err := encodeColumnPayload(c)
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(c.DType)); err != nil {
		return NewIoError("writeOPSPColumn", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(payload))); err != nil {
		return NewIoError("writeOPSPColumn", err)
	}
	if _, err := w.Write(payload); err != nil {
		return NewIoError("writeOPSPColumn", err)
	}
	// Null bitmap: word count + words (0 words means "no nulls").
	words := uint64(0)
	if c.valid != nil {
		words = uint64(len(c.valid))
	}
	if err := binary.Write(w, binary.LittleEndian, words); err != nil {
		return NewIoError("writeOPSPColumn", err)
	}
	for i := uint64(0); i < words; i++ {
		if err := binary.Write(w, binary.LittleEndian, c.valid[i]); err != nil {
			return NewIoError("writeOPSPColumn", err)
		}
	}
	return nil
}

// encodeColumnPayload serializes the scalar dtypes a Sort spill run is
// expected to carry. List/Struct columns are not supported by the spill
// path (sorting on or carrying nested columns through a spilled run is an
// edge case outside this core's scope); encoding one returns a
// ResourceError rather than silently truncating data.
func encodeColumnPayload(c *Column) ([]byte, error) {
	switch c.DType {
	case Float64:
		buf := make([]byte, 8*len(c.f64))
		for i, v := range c.f64 {
			binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
		}
		return buf, nil
	case Float32:
		buf := make([]byte, 4*len(c.f32))
		for i, v := range c.f32 {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		}
		return buf, nil
	case Int64, TimestampNanos, Decimal:
		buf := make([]byte, 8*len(c.i64))
		for i, v := range c.i64 {
			binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
		}
		return buf, nil
	case Int32, Date32:
		buf := make([]byte, 4*len(c.i32))
		for i, v := range c.i32 {
			binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
		}
		return buf, nil
	case Bool:
		buf := make([]byte, len(c.b))
		for i, v := range c.b {
			if v {
				buf[i] = 1
			}
		}
		return buf, nil
	case String, Categorical:
		var buf []byte
		n := c.Length
		lengths := make([]uint32, n)
		var data []byte
		for i := 0; i < n; i++ {
			s, _ := c.AtString(i)
			lengths[i] = uint32(len(s))
			data = append(data, s...)
		}
		buf = make([]byte, 4*n)
		for i, l := range lengths {
			binary.LittleEndian.PutUint32(buf[i*4:], l)
		}
		return append(buf, data...), nil
	case Binary:
		var buf []byte
		n := len(c.bin)
		lengths := make([]uint32, n)
		var data []byte
		for i, v := range c.bin {
			lengths[i] = uint32(len(v))
			data = append(data, v...)
		}
		buf = make([]byte, 4*n)
		for i, l := range lengths {
			binary.LittleEndian.PutUint32(buf[i*4:], l)
		}
		return append(buf, data...), nil
	case Null:
		return nil, nil
	default:
		return nil, NewResourceError(fmt.Sprintf("sort spill does not support column type %s", c.DType))
	}
}

func readOPSP(r *bufio.Reader, schema *Schema) (*Morsel, error) {
	var magic [4]byte
	if _, err := readFull(r, magic[:]); err != nil {
		return nil, err
	}
	if magic != opspMagic {
		return nil, NewIoError("readOPSP", fmt.Errorf("bad spill file magic"))
	}
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, NewIoError("readOPSP", err)
	}
	var rowCount uint64
	if err := binary.Read(r, binary.LittleEndian, &rowCount); err != nil {
		return nil, NewIoError("readOPSP", err)
	}
	cols := make([]*Column, schema.Len())
	for i := 0; i < schema.Len(); i++ {
		c, err := readOPSPColumn(r, schema.Field(i), int(rowCount))
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	return NewMorsel(schema, cols, int(rowCount))
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		k, err := r.Read(buf[n:])
		n += k
		if err != nil {
			return n, NewIoError("readFull", err)
		}
	}
	return n, nil
}

func readOPSPColumn(r *bufio.Reader, f Field, rowCount int) (*Column, error) {
	var typeID uint32
	if err := binary.Read(r, binary.LittleEndian, &typeID); err != nil {
		return nil, NewIoError("readOPSPColumn", err)
	}
	var byteLen uint64
	if err := binary.Read(r, binary.LittleEndian, &byteLen); err != nil {
		return nil, NewIoError("readOPSPColumn", err)
	}
	payload := make([]byte, byteLen)
	if byteLen > 0 {
		if _, err := readFull(r, payload); err != nil {
			return nil, err
		}
	}
	var words uint64
	if err := binary.Read(r, binary.LittleEndian, &words); err != nil {
		return nil, NewIoError("readOPSPColumn", err)
	}
	valid := make([]uint64, words)
	for i := range valid {
		if err := binary.Read(r, binary.LittleEndian, &valid[i]); err != nil {
			return nil, NewIoError("readOPSPColumn", err)
		}
	}
	col, err := decodeColumnPayload(f, DType(typeID), payload, rowCount)
	if err != nil {
		return nil, err
	}
	if words > 0 {
		col.valid = valid
		count := 0
		for i := 0; i < rowCount; i++ {
			if !col.IsValid(i) {
				count++
			}
		}
		col.nullCount = count
	}
	return col, nil
}

func decodeColumnPayload(f Field, dtype DType, payload []byte, rowCount int) (*Column, error) {
	switch dtype {
	case Float64:
		vals := make([]float64, rowCount)
		for i := range vals {
			vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(payload[i*8:]))
		}
		return NewColumnF64(f.Name, vals), nil
	case Float32:
		vals := make([]float32, rowCount)
		for i := range vals {
			vals[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
		}
		return NewColumnF32(f.Name, vals), nil
	case Int64, TimestampNanos, Decimal:
		vals := make([]int64, rowCount)
		for i := range vals {
			vals[i] = int64(binary.LittleEndian.Uint64(payload[i*8:]))
		}
		if dtype == Decimal {
			return NewColumnDecimal(f.Name, vals, f.Decimal), nil
		}
		c := NewColumnI64(f.Name, vals)
		c.DType = dtype
		return c, nil
	case Int32, Date32:
		vals := make([]int32, rowCount)
		for i := range vals {
			vals[i] = int32(binary.LittleEndian.Uint32(payload[i*4:]))
		}
		c := NewColumnI32(f.Name, vals)
		c.DType = dtype
		return c, nil
	case Bool:
		vals := make([]bool, rowCount)
		for i := range vals {
			vals[i] = payload[i] != 0
		}
		return NewColumnBool(f.Name, vals), nil
	case String, Categorical:
		lengths := make([]uint32, rowCount)
		for i := range lengths {
			lengths[i] = binary.LittleEndian.Uint32(payload[i*4:])
		}
		data := payload[4*rowCount:]
		vals := make([]string, rowCount)
		offset := 0
		for i, l := range lengths {
			vals[i] = string(data[offset : offset+int(l)])
			offset += int(l)
		}
		return NewColumnString(f.Name, vals), nil
	case Binary:
		lengths := make([]uint32, rowCount)
		for i := range lengths {
			lengths[i] = binary.LittleEndian.Uint32(payload[i*4:])
		}
		data := payload[4*rowCount:]
		vals := make([][]byte, rowCount)
		offset := 0
		for i, l := range lengths {
			vals[i] = append([]byte{}, data[offset:offset+int(l)]...)
			offset += int(l)
		}
		return NewColumnBinary(f.Name, vals), nil
	case Null:
		return NewColumnNull(f.Name, rowCount), nil
	default:
		return nil, NewResourceError(fmt.Sprintf("sort spill does not support column type %s", dtype))
	}
}

// ---------------------------------------------------------------------
// Top-N (§4.7): bounded heap, no spill, not stable.
// ---------------------------------------------------------------------

// topNMaxK is the fallback boundary above which Top-N degrades to a full
// Sort + Limit, per §4.7 ("correct for k ≤ 1M; above that, falls back").
const topNMaxK = 1_000_000

// TopNOperator holds the current best k rows in a bounded heap, comparing
// each new row against the heap root in O(log k) and never spilling.
type TopNOperator struct {
	child Operator
	specs []SortKeySpec
	k     int
	cfg   *ExecutorConfig

	outSchema *Schema
	heap      topNHeap
	onlyRun   *loadedRun
	done      bool
	emitted   bool
	cursor    int
	final     []heapItem // sorted ascending by key, emitted best-first
	stats     OperatorStats
}

// NewTopNOperator returns a TopNOperator for k <= topNMaxK, or nil with ok
// = false when the caller should fall back to Sort + Limit instead.
func NewTopNOperator(child Operator, specs []SortKeySpec, k int, cfg *ExecutorConfig) (*TopNOperator, bool) {
	if k > topNMaxK {
		return nil, false
	}
	if cfg == nil {
		cfg = GetExecutorConfig()
	}
	return &TopNOperator{child: child, specs: specs, k: k, cfg: cfg, outSchema: child.Schema()}, true
}

func (t *TopNOperator) Schema() *Schema { return t.outSchema }

// topNHeap is a max-heap over "worse than" so the current worst of the k
// kept rows sits at the root and can be evicted in O(log k) by a better
// incoming row — the inverse comparator of sortHeap's min-heap merge use.
type topNHeap struct {
	items []heapItem
	specs []SortKeySpec
}

func (h *topNHeap) worse(i, j int) bool {
	// "worse" means sorts after under specs — i.e. compareRows > 0.
	return compareRows(h.items[i].key, h.items[j].key, h.specs) > 0
}

func (h *topNHeap) push(item heapItem) {
	h.items = append(h.items, item)
	j := len(h.items) - 1
	for {
		i := (j - 1) / 2
		if i == j || !h.worse(j, i) {
			break
		}
		h.items[i], h.items[j] = h.items[j], h.items[i]
		j = i
	}
}

func (h *topNHeap) replaceRoot(item heapItem) {
	h.items[0] = item
	n := len(h.items)
	i := 0
	for {
		j1 := 2*i + 1
		if j1 >= n {
			break
		}
		j := j1
		if j2 := j1 + 1; j2 < n && h.worse(j2, j1) {
			j = j2
		}
		if !h.worse(j, i) {
			break
		}
		h.items[i], h.items[j] = h.items[j], h.items[i]
		i = j
	}
}

func (t *TopNOperator) Next() (*Morsel, error) {
	if !t.done {
		if err := t.absorb(); err != nil {
			return nil, err
		}
		t.done = true
		t.finalize()
	}
	if t.emitted {
		return nil, nil
	}
	n := len(t.final)
	if t.cursor >= n {
		return nil, nil
	}
	end := t.cursor + t.cfg.MorselSize
	if end > n {
		end = n
	}
	idx := make([]rowRef, end-t.cursor)
	for i := range idx {
		idx[i] = rowRef{run: 0, row: t.final[t.cursor+i].row}
	}
	t.cursor = end
	if t.cursor >= n {
		t.emitted = true
	}
	out, err := gatherFromRuns(t.outSchema, []*loadedRun{t.onlyRun}, idx)
	if err != nil {
		return nil, err
	}
	t.stats.MorselsOut++
	t.stats.RowsOut += int64(out.RowCount)
	return out, nil
}

// absorb pulls every input morsel, keeping at most k rows in the bounded
// heap: the first k rows fill it directly, and every row after that only
// enters if it beats the current worst (the heap root), which is then
// evicted in O(log k).
func (t *TopNOperator) absorb() error {
	t.heap.specs = t.specs
	var morsels []*Morsel
	for {
		m, err := t.child.Next()
		if err != nil {
			return err
		}
		if m == nil {
			break
		}
		t.stats.MorselsIn++
		t.stats.RowsIn += int64(m.RowCount)
		morsels = append(morsels, m.Materialize())
	}
	run, err := newLoadedRunFromMorsels(morsels, t.specs, t.outSchema)
	if err != nil {
		return err
	}
	t.onlyRun = run
	for i := 0; i < run.len(); i++ {
		item := heapItem{run: 0, row: i, key: run.keyRow(i)}
		if t.k <= 0 {
			continue
		}
		if len(t.heap.items) < t.k {
			t.heap.push(item)
			continue
		}
		if compareRows(item.key, t.heap.items[0].key, t.specs) < 0 {
			t.heap.replaceRoot(item)
		}
	}
	return nil
}

func (t *TopNOperator) finalize() {
	items := append([]heapItem{}, t.heap.items...)
	sort.SliceStable(items, func(i, j int) bool {
		return compareRows(items[i].key, items[j].key, t.specs) < 0
	})
	t.final = items
}

func (t *TopNOperator) Statistics() OperatorStats { return t.stats }
func (t *TopNOperator) Close() error              { return t.child.Close() }
