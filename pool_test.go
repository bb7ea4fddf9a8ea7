package opteryx

import "testing"

func TestGetBoolMaskReturnsRequestedSize(t *testing.T) {
	for _, size := range []int{1, 5, 17, 100, 4096} {
		m := getBoolMask(size)
		if len(m.Data) != size {
			t.Fatalf("size %d: len(Data) = %d, want %d", size, len(m.Data), size)
		}
		m.Release()
	}
}

func TestGetUint32SliceReturnsRequestedSize(t *testing.T) {
	for _, size := range []int{1, 5, 17, 100, 4096} {
		s := getUint32Slice(size)
		if len(s.Data) != size {
			t.Fatalf("size %d: len(Data) = %d, want %d", size, len(s.Data), size)
		}
		s.Release()
	}
}

func TestBoolMaskReleaseZeroesBeforeReuse(t *testing.T) {
	m := getBoolMask(8)
	for i := range m.Data {
		m.Data[i] = true
	}
	m.Release()

	m2 := getBoolMask(8)
	for i, v := range m2.Data {
		if v {
			t.Fatalf("Data[%d] = true after Release+reacquire, want zeroed", i)
		}
	}
	m2.Release()
}

func TestGetBucketFindsSmallestPowerOfTwo(t *testing.T) {
	cases := map[int]int{1: 0, 2: 1, 3: 2, 4: 2, 5: 3, 8: 3, 9: 4, 1024: 10}
	for size, want := range cases {
		if got := getBucket(size); got != want {
			t.Errorf("getBucket(%d) = %d, want %d", size, got, want)
		}
	}
}
