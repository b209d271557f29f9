package mathx

import "testing"

func TestClamp(t *testing.T) {
	if got := Clamp[int32](900, -500, 500); got != 500 {
		t.Fatalf("Clamp high = %d", got)
	}
	if got := Clamp[int32](-62, 500, -500); got != -62 {
		t.Fatalf("Clamp swapped bounds = %d", got)
	}
}

func TestMap(t *testing.T) {
	cases := []struct {
		x, want int32
	}{
		{-500, 0},
		{0, 20},
		{500, 40},
		{900, 40}, // clamped
		{-900, 0}, // clamped
		{-62, 17}, // 438*40/1000 truncated
	}
	for _, c := range cases {
		if got := Map[int32](c.x, -500, 500, 0, 40); got != c.want {
			t.Fatalf("Map(%d) = %d, want %d", c.x, got, c.want)
		}
	}
	if got := Map[uint16](10, 0, 0, 7, 9); got != 7 {
		t.Fatalf("Map on empty range = %d", got)
	}
	if got := Map[int](25, 0, 100, 100, 0); got != 75 {
		t.Fatalf("Map descending = %d", got)
	}
}
