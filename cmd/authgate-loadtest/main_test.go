package main

import (
	"context"
	"testing"
	"time"
)

func TestPercentile(t *testing.T) {
	samples := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	cases := map[int]time.Duration{0: 1, 50: 5, 95: 9, 100: 10, 150: 10}
	for p, want := range cases {
		if got := percentile(samples, p); got != want {
			t.Fatalf("percentile(%d) = %v, want %v", p, got, want)
		}
	}
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("empty percentile = %v", got)
	}
}

func TestComputeStatsSortsSamples(t *testing.T) {
	s := computeStats(time.Second, []time.Duration{30, 10, 20}, 1)
	if s.ops != 3 || s.failures != 1 || s.p50 != 20 || s.p99 != 20 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if s.opsPerS != 3 {
		t.Fatalf("opsPerS = %v", s.opsPerS)
	}
}

func TestRunAgainstMiniredis(t *testing.T) {
	err := run(context.Background(), options{
		sessions:    20,
		concurrency: 4,
		ops:         100,
		prefix:      "authgate:loadtest:test",
		sliding:     true,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunRejectsBadOptions(t *testing.T) {
	if err := run(context.Background(), options{sessions: 1, concurrency: 0, ops: 1}); err == nil {
		t.Fatal("expected error")
	}
}
