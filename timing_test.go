package ags_test

import (
	"math"
	"testing"

	"github.com/gsequencer/ags"
)

func TestAbsoluteDelay(t *testing.T) {
	// 44100 / 512 buffers per second, 120 bpm at 1/4 gives 8 steps per second.
	d := ags.AbsoluteDelay(44100, 512, 120, 0.25)
	want := 44100.0 / 512 / 8
	if math.Abs(d-want) > 1e-9 {
		t.Fatalf("expected %v, got %v", want, d)
	}
	if ags.AbsoluteDelay(44100, 512, 0, 0.25) != 0 {
		t.Fatal("expected 0 for bpm 0")
	}
}

func TestUptimeFromOffset(t *testing.T) {
	tests := []struct {
		offset           uint64
		bpm, delay, fact float64
		want             string
	}{
		{0, 120, 1, 1, ags.TimeZero},
		// one step at 120 bpm and factor 1/4 lasts 125 ms
		{8, 120, 1, 0.25, "0000:01.000"},
		{7, 120, 1, 0.25, "0000:00.875"},
		{8 * 61, 120, 1, 0.25, "0001:01.000"},
		{16, 0, 1, 1, "-" + ags.TimeZero},
		{16, 120, 0, 1, "-" + ags.TimeZero},
	}
	for _, tc := range tests {
		got := ags.UptimeFromOffset(tc.offset, tc.bpm, tc.delay, tc.fact)
		if got != tc.want {
			t.Errorf("UptimeFromOffset(%d, %v, %v, %v): expected %s, got %s", tc.offset, tc.bpm, tc.delay, tc.fact, tc.want, got)
		}
	}
}

func TestDuration(t *testing.T) {
	if d := ags.Duration(16, 2.5); d != 40 {
		t.Fatalf("expected 40, got %d", d)
	}
	if d := ags.Duration(3, 0.4); d != 2 {
		t.Fatalf("expected 2, got %d", d)
	}
	if d := ags.Duration(0, 1); d != 0 {
		t.Fatalf("expected 0, got %d", d)
	}
}
