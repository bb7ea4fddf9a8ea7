package opteryx

import (
	"errors"
	"testing"
	"time"
)

func TestMorselDriverRunDeliversEveryRow(t *testing.T) {
	root := &sliceOperator{schema: intSchema(t, "k"), morsels: []*Morsel{
		intMorsel(t, "k", []int64{1, 2}),
		intMorsel(t, "k", []int64{3}),
	}}
	d := NewMorselDriver(root, time.Time{}, "")

	var rows int64
	stats, err := d.Run(func(m *Morsel) error {
		rows += int64(m.RowCount)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rows != 3 {
		t.Fatalf("rows = %d, want 3", rows)
	}
	if stats.QueryID == "" {
		t.Fatal("expected an auto-generated query ID")
	}
}

func TestMorselDriverGeneratesQueryIDWhenEmpty(t *testing.T) {
	root := &sliceOperator{schema: intSchema(t, "k"), morsels: nil}
	d1 := NewMorselDriver(root, time.Time{}, "")
	d2 := NewMorselDriver(root, time.Time{}, "")
	if d1.queryID == "" || d2.queryID == "" || d1.queryID == d2.queryID {
		t.Fatalf("expected distinct auto-generated query IDs, got %q and %q", d1.queryID, d2.queryID)
	}
}

func TestMorselDriverKeepsExplicitQueryID(t *testing.T) {
	root := &sliceOperator{schema: intSchema(t, "k"), morsels: nil}
	d := NewMorselDriver(root, time.Time{}, "my-query")
	if d.queryID != "my-query" {
		t.Fatalf("queryID = %q, want my-query", d.queryID)
	}
}

func TestMorselDriverDeadlineInPastCancelsImmediately(t *testing.T) {
	root := &sliceOperator{schema: intSchema(t, "k"), morsels: []*Morsel{intMorsel(t, "k", []int64{1})}}
	d := NewMorselDriver(root, time.Now().Add(-time.Second), "")

	_, err := d.Run(func(*Morsel) error { return nil })
	var rerr *ResourceError
	if !errors.As(err, &rerr) {
		t.Fatalf("Run err = %v, want a *ResourceError", err)
	}
}

func TestMorselDriverExplicitCancelStopsPump(t *testing.T) {
	root := &sliceOperator{schema: intSchema(t, "k"), morsels: []*Morsel{intMorsel(t, "k", []int64{1, 2, 3})}}
	d := NewMorselDriver(root, time.Time{}, "")
	d.Cancel()

	_, err := d.Run(func(*Morsel) error { return nil })
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Run err = %v, want ErrCancelled", err)
	}
}

func TestMorselDriverClosesRootOnSuccess(t *testing.T) {
	root := &closeTrackingOperator{sliceOperator: sliceOperator{schema: intSchema(t, "k"), morsels: []*Morsel{intMorsel(t, "k", []int64{1})}}}
	d := NewMorselDriver(root, time.Time{}, "")
	if _, err := d.Run(func(*Morsel) error { return nil }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !root.closed {
		t.Fatal("expected the root operator's Close to run after a successful Run")
	}
}

type closeTrackingOperator struct {
	sliceOperator
	closed bool
}

func (c *closeTrackingOperator) Close() error {
	c.closed = true
	return nil
}
