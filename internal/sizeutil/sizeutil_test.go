package sizeutil

import "testing"

func TestRoundUp(t *testing.T) {
	cases := []struct{ x, m, want int64 }{
		{0, 16, 0},
		{1, 16, 16},
		{16, 16, 16},
		{17, 16, 32},
		{96, 16, 96},
		{100, 16, 112},
		{5, 0, 5},
	}
	for _, c := range cases {
		if got := RoundUp(c.x, c.m); got != c.want {
			t.Errorf("RoundUp(%d, %d) = %d, want %d", c.x, c.m, got, c.want)
		}
	}
}

func TestRoundUpLaws(t *testing.T) {
	for _, m := range []int64{1, 2, 8, 16, 64} {
		for x := int64(0); x < 200; x++ {
			got := RoundUp(x, m)
			if got < x {
				t.Fatalf("RoundUp(%d, %d) = %d < %d", x, m, got, x)
			}
			if got%m != 0 {
				t.Fatalf("RoundUp(%d, %d) = %d not a multiple of %d", x, m, got, m)
			}
		}
	}
}
