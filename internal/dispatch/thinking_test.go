package dispatch

import "testing"

func TestThinkingFromTemp(t *testing.T) {
	tests := []struct {
		temp float64
		want string
	}{
		{0, "minimal"},
		{0.15, "minimal"},
		{0.16, "low"},
		{0.35, "low"},
		{0.36, "medium"},
		{0.60, "medium"},
		{0.61, "high"},
		{1, "high"},
	}
	for _, tt := range tests {
		if got := ThinkingFromTemp(tt.temp); got != tt.want {
			t.Errorf("ThinkingFromTemp(%v) = %q, want %q", tt.temp, got, tt.want)
		}
	}
}

func TestThinkingFromTemp_Monotone(t *testing.T) {
	temps := []float64{0, 0.05, 0.15, 0.16, 0.3, 0.35, 0.4, 0.6, 0.61, 0.9, 1.0}
	prevRank := -1
	for _, temp := range temps {
		rank := ThinkingRank(ThinkingFromTemp(temp))
		if rank < prevRank {
			t.Fatalf("thinking tier rank regressed at temp=%v: rank %d < previous %d", temp, rank, prevRank)
		}
		prevRank = rank
	}
}
