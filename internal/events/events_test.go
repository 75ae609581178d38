package events

import "testing"

func TestScanCompleteProgressIsAlwaysFull(t *testing.T) {
	e := ScanComplete(3, 10, 2)
	if e.Kind != KindScanComplete {
		t.Fatalf("kind = %v, want %v", e.Kind, KindScanComplete)
	}
	if e.Progress != 100 {
		t.Fatalf("progress = %d, want 100", e.Progress)
	}
	if e.OpenPorts != 3 || e.Closed != 10 || e.Filtered != 2 {
		t.Fatalf("unexpected counts: %+v", e)
	}
}

func TestPreScanWarningCarriesTargetFields(t *testing.T) {
	e := PreScanWarning("example.com", "203.0.113.10", "scan example.com")
	if e.Kind != KindPreScanWarning {
		t.Fatalf("kind = %v, want %v", e.Kind, KindPreScanWarning)
	}
	if e.Target != "example.com" || e.ResolvedIP != "203.0.113.10" {
		t.Fatalf("unexpected fields: %+v", e)
	}
}

func TestWithFreshnessMarksReplayedEvent(t *testing.T) {
	base := OpenPort(nil, 50)
	if base.Freshness != "" || base.CachedAt != nil {
		t.Fatal("fresh event should carry no freshness marker")
	}

	replayed := WithFreshness(base, "cached", base.Timestamp)
	if replayed.Freshness != "cached" {
		t.Fatalf("freshness = %q, want %q", replayed.Freshness, "cached")
	}
	if replayed.CachedAt == nil {
		t.Fatal("expected CachedAt to be set")
	}
	if replayed.Kind != KindOpenPort {
		t.Fatalf("kind mutated by WithFreshness: %v", replayed.Kind)
	}
}
