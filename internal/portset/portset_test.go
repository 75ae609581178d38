package portset

import (
	"reflect"
	"testing"
)

func TestParseBasic(t *testing.T) {
	ports, err := Parse("22,80,443")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{22, 80, 443}
	if !reflect.DeepEqual(ports, want) {
		t.Fatalf("got %v, want %v", ports, want)
	}
}

func TestParseRangeAndDedup(t *testing.T) {
	ports, err := Parse("22-25,80,443,22")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{22, 23, 24, 25, 80, 443}
	if !reflect.DeepEqual(ports, want) {
		t.Fatalf("got %v, want %v", ports, want)
	}
}

func TestParsePermutationInvariance(t *testing.T) {
	a, err := Parse("22,80,443")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Parse("443,22,80,22")
	if err != nil {
		t.Fatal(err)
	}
	if Format(a) != Format(b) {
		t.Fatalf("parse should be permutation-invariant as a set: %v vs %v", a, b)
	}
}

func TestParseRejectsEmpty(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Fatal("expected error for empty spec")
	}
	if _, err := Parse("   "); err == nil {
		t.Fatal("expected error for whitespace-only spec")
	}
}

func TestParseRejectsOutOfRange(t *testing.T) {
	cases := []string{"0", "65536", "-1", "1-70000", "abc", "22-"}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Fatalf("expected error for %q", c)
		}
	}
}

func TestParseRejectsInvertedRange(t *testing.T) {
	if _, err := Parse("100-50"); err == nil {
		t.Fatal("expected error for inverted range")
	}
}

func TestPriorityOf(t *testing.T) {
	cases := map[int]Priority{
		22:    Critical,
		443:   Critical,
		53:    High,
		27017: High,
		6379:  Medium,
		9200:  Medium,
		12345: Low,
	}
	for port, want := range cases {
		if got := PriorityOf(port); got != want {
			t.Errorf("PriorityOf(%d) = %v, want %v", port, got, want)
		}
	}
}

func TestTiersPartition(t *testing.T) {
	ports := []int{22, 80, 53, 6379, 12345}
	tiers := Tiers(ports)

	total := 0
	for _, pr := range Ordered {
		total += len(tiers[pr])
	}
	if total != len(ports) {
		t.Fatalf("tiers lost ports: total %d, want %d", total, len(ports))
	}

	if !reflect.DeepEqual(tiers[Critical], []int{22, 80}) {
		t.Errorf("critical tier = %v", tiers[Critical])
	}
	if !reflect.DeepEqual(tiers[High], []int{53}) {
		t.Errorf("high tier = %v", tiers[High])
	}
	if !reflect.DeepEqual(tiers[Medium], []int{6379}) {
		t.Errorf("medium tier = %v", tiers[Medium])
	}
	if !reflect.DeepEqual(tiers[Low], []int{12345}) {
		t.Errorf("low tier = %v", tiers[Low])
	}
}

func TestPriorityString(t *testing.T) {
	if Critical.String() != "critical" || Low.String() != "low" {
		t.Fatal("priority string mismatch")
	}
}
