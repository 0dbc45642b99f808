package internaldefs

import (
	"strings"
	"testing"

	"github.com/MrEthical07/authgate"
)

func TestDefsCoverEveryMetric(t *testing.T) {
	seen := make(map[authgate.MetricID]bool)
	names := make(map[string]bool)
	for _, def := range CounterDefs {
		if seen[def.ID] {
			t.Fatalf("metric %d defined twice", def.ID)
		}
		if names[def.Name] {
			t.Fatalf("name %s defined twice", def.Name)
		}
		if !strings.HasPrefix(def.Name, "authgate_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("counter name %s does not follow authgate_*_total", def.Name)
		}
		seen[def.ID] = true
		names[def.Name] = true
	}
	for _, def := range HistogramDefs {
		if seen[def.ID] {
			t.Fatalf("histogram %d also defined as counter", def.ID)
		}
		seen[def.ID] = true
	}

	for id := authgate.MetricSignUpSuccess; id <= authgate.MetricProviderLatency; id++ {
		if !seen[id] {
			t.Fatalf("metric %d has no exporter definition", id)
		}
	}
}

func TestBucketHelpers(t *testing.T) {
	if len(HistogramBounds) != 8 || len(HistogramBoundSuffix) != 8 {
		t.Fatal("bounds must match the eight engine buckets")
	}

	got := NormalizeBuckets([]uint64{1, 2})
	if got != [8]uint64{1, 2} {
		t.Fatalf("NormalizeBuckets = %v", got)
	}
	long := NormalizeBuckets([]uint64{1, 1, 1, 1, 1, 1, 1, 1, 99})
	if long[7] != 1 {
		t.Fatalf("extra buckets must be dropped: %v", long)
	}

	cum := CumulativeBuckets([8]uint64{1, 2, 3, 4, 5, 6, 7, 8})
	if cum[0] != 1 || cum[7] != 36 {
		t.Fatalf("CumulativeBuckets = %v", cum)
	}
}
