package opteryx

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Reader is the source of morsels for an external input — a file, an
// object store, or another connector. Distinct from Operator because
// readers sit at the edge of the operator tree and never have a child to
// pull from.
type Reader interface {
	Schema() *Schema
	Next() (*Morsel, error) // returns (nil, nil) at end of stream
	Close() error
}

// Operator is one node of the physical plan. Every operator pulls from
// its child (or children) and returns one morsel per call to Next, or
// (nil, nil) once its output is exhausted. Operators never yield
// mid-morsel — the only suspension point the driver needs to reason about
// is between calls to Next.
type Operator interface {
	Schema() *Schema
	Next() (*Morsel, error)
	Statistics() OperatorStats
	Close() error
}

// OperatorStats are the per-operator counters the driver surfaces at the
// end of a query: morsels/rows in and out, wall time spent inside this
// operator's Next, bytes processed, and bloom filter eliminations (zero
// for operators with no bloom filter).
type OperatorStats struct {
	MorselsIn         int64
	MorselsOut        int64
	RowsIn            int64
	RowsOut           int64
	WallTime          time.Duration
	BytesProcessed    int64
	BloomEliminations int64
}

// Add accumulates other into s, used when merging per-worker stats from a
// parallelized stage back into one operator's totals.
func (s *OperatorStats) Add(other OperatorStats) {
	s.MorselsIn += other.MorselsIn
	s.MorselsOut += other.MorselsOut
	s.RowsIn += other.RowsIn
	s.RowsOut += other.RowsOut
	s.WallTime += other.WallTime
	s.BytesProcessed += other.BytesProcessed
	s.BloomEliminations += other.BloomEliminations
}

// QueryStats is returned to the caller once a query's root operator is
// exhausted or fails: per-operator statistics plus query-wide totals.
type QueryStats struct {
	QueryID      string
	OperatorName []string
	Operators    []OperatorStats
	TotalWall    time.Duration
	PeakMemory   int64
	SpillBytes   int64
	Notes        []string // one-line diagnostics; Run itself never appends any
}

// cancelFlag is a shared cooperative-cancellation token. Operators check
// it only at morsel boundaries — never mid-morsel — matching the
// "operators never yield mid-morsel" scheduling rule. All methods are
// safe for concurrent use.
type cancelFlag struct {
	flag int32
}

func newCancelFlag() *cancelFlag { return &cancelFlag{} }

func (c *cancelFlag) Cancel()         { atomic.StoreInt32(&c.flag, 1) }
func (c *cancelFlag) IsCancelled() bool { return atomic.LoadInt32(&c.flag) != 0 }

// MorselDriver owns the root operator of a physical plan and drives
// execution by repeatedly calling its Next until exhaustion, failure, or
// cancellation. It is the single place that enforces the "every operator's
// Close runs on any failure" guarantee — callers never need to clean up
// an operator tree themselves.
type MorselDriver struct {
	root     Operator
	cancel   *cancelFlag
	deadline time.Time // zero means no deadline
	queryID  string
}

// NewMorselDriver builds a driver for root. If deadline is non-zero, the
// driver cancels the query once the deadline passes and is observed at a
// morsel boundary, and Run returns a *ResourceError. An empty queryID is
// replaced with a freshly generated one, so the QueryStats of this query
// can be correlated back to a single run even when the caller never
// supplies one. Spill file names do not carry the queryID.
func NewMorselDriver(root Operator, deadline time.Time, queryID string) *MorselDriver {
	if queryID == "" {
		queryID = uuid.NewString()
	}
	return &MorselDriver{root: root, cancel: newCancelFlag(), deadline: deadline, queryID: queryID}
}

// Cancel requests cooperative cancellation; it takes effect the next time
// any operator in the tree checks its cancel flag at a morsel boundary.
func (d *MorselDriver) Cancel() { d.cancel.Cancel() }

// CancelFlag exposes the driver's shared cancellation token so operators
// built against this driver (joins, aggregations) can check it between
// morsels.
func (d *MorselDriver) CancelFlag() *cancelFlag { return d.cancel }

// Run pulls every morsel from the root operator, invoking onMorsel for
// each, until the stream ends, an error occurs, or the deadline / explicit
// cancellation fires. Close is guaranteed to run on every reachable
// operator before Run returns, success or failure — the driver calls only
// the root's Close, and the tree is closed through it (operators are
// responsible for closing their children in their own Close, per "operators
// own their children; the driver holds the root only").
func (d *MorselDriver) Run(onMorsel func(*Morsel) error) (QueryStats, error) {
	start := time.Now()
	stats := QueryStats{QueryID: d.queryID}

	runErr := d.pump(onMorsel)

	closeErr := d.root.Close()
	if runErr == nil {
		runErr = closeErr
	}

	stats.TotalWall = time.Since(start)
	stats.OperatorName = append(stats.OperatorName, "root")
	stats.Operators = append(stats.Operators, d.root.Statistics())

	return stats, runErr
}

func (d *MorselDriver) pump(onMorsel func(*Morsel) error) error {
	for {
		if !d.deadline.IsZero() && time.Now().After(d.deadline) {
			d.cancel.Cancel()
			return NewResourceError("query deadline exceeded")
		}
		if d.cancel.IsCancelled() {
			return ErrCancelled
		}

		morsel, err := d.root.Next()
		if err != nil {
			return err
		}
		if morsel == nil {
			return nil
		}
		if err := onMorsel(morsel); err != nil {
			return err
		}
	}
}
