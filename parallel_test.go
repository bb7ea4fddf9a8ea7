package opteryx

import (
	"sort"
	"sync"
	"testing"
)

func withGlobalConfig(t *testing.T, cfg *ExecutorConfig, fn func()) {
	t.Helper()
	prev := GetExecutorConfig()
	SetExecutorConfig(cfg)
	defer SetExecutorConfig(prev)
	fn()
}

func TestParallelMapMatchesSequentialBelowThreshold(t *testing.T) {
	got := ParallelMap(10, func(i int) int { return i * i })
	for i, v := range got {
		if v != i*i {
			t.Fatalf("got[%d] = %d, want %d", i, v, i*i)
		}
	}
}

func TestParallelMapMatchesSequentialAboveThreshold(t *testing.T) {
	cfg := DefaultExecutorConfig()
	cfg.MinRowsForParallel = 4
	cfg.MorselSize = 8
	withGlobalConfig(t, cfg, func() {
		const n = 1000
		got := ParallelMap(n, func(i int) int { return i * 2 })
		for i, v := range got {
			if v != i*2 {
				t.Fatalf("got[%d] = %d, want %d", i, v, i*2)
			}
		}
	})
}

func TestParallelForCoversEveryRowExactlyOnce(t *testing.T) {
	cfg := DefaultExecutorConfig()
	cfg.MinRowsForParallel = 4
	cfg.MorselSize = 7
	withGlobalConfig(t, cfg, func() {
		const n = 503
		seen := make([]int, n)
		var mu sync.Mutex
		ParallelFor(n, func(start, end int) {
			mu.Lock()
			for i := start; i < end; i++ {
				seen[i]++
			}
			mu.Unlock()
		})
		for i, c := range seen {
			if c != 1 {
				t.Fatalf("row %d visited %d times, want 1", i, c)
			}
		}
	})
}

func TestParallelForWithResultCollectsAllSpans(t *testing.T) {
	cfg := DefaultExecutorConfig()
	cfg.MinRowsForParallel = 4
	cfg.MorselSize = 10
	withGlobalConfig(t, cfg, func() {
		const n = 97
		results := ParallelForWithResult(n, func(start, end int) int { return end - start })
		total := 0
		for _, r := range results {
			total += r
		}
		if total != n {
			t.Fatalf("sum of span sizes = %d, want %d", total, n)
		}
	})
}

func TestParallelReduceInt64SumsToSameAsSequential(t *testing.T) {
	data := make([]int64, 2000)
	for i := range data {
		data[i] = int64(i + 1)
	}
	cfg := DefaultExecutorConfig()
	cfg.MinRowsForParallel = 4
	cfg.MorselSize = 64
	withGlobalConfig(t, cfg, func() {
		got := ParallelReduceInt64(data, 0, func(a, b int64) int64 { return a + b })
		var want int64
		for _, v := range data {
			want += v
		}
		if got != want {
			t.Fatalf("ParallelReduceInt64 = %d, want %d", got, want)
		}
	})
}

func TestParallelMapSliceAppliesFnElementwise(t *testing.T) {
	in := []int{1, 2, 3, 4}
	got := ParallelMapSlice(in, func(v int) int { return v * 10 })
	want := []int{10, 20, 30, 40}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	sort.Ints(got)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
