// Package portset parses the port-range grammar used at every API
// boundary and partitions port sets into priority tiers.
package portset

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Priority is one of the four scheduler tiers.
type Priority int

const (
	Critical Priority = iota
	High
	Medium
	Low
)

// String renders the priority name used in events and logs.
func (p Priority) String() string {
	switch p {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	default:
		return "unknown"
	}
}

// Ordered lists every priority from highest to lowest, the order the
// scheduler dispatches tiers in.
var Ordered = []Priority{Critical, High, Medium, Low}

var criticalPorts = map[int]bool{
	21: true, 22: true, 23: true, 25: true, 80: true, 443: true,
	3306: true, 3389: true, 5432: true, 8080: true, 8443: true,
}

var highPorts = map[int]bool{
	20: true, 53: true, 110: true, 143: true, 445: true, 1433: true,
	1521: true, 3000: true, 5000: true, 8000: true, 27017: true,
}

var mediumPorts = map[int]bool{
	135: true, 139: true, 389: true, 636: true, 1723: true, 2049: true,
	5900: true, 6379: true, 9200: true, 11211: true,
}

// PriorityOf classifies a single port number. Every port not present in
// the critical/high/medium tables falls into Low.
func PriorityOf(port int) Priority {
	switch {
	case criticalPorts[port]:
		return Critical
	case highPorts[port]:
		return High
	case mediumPorts[port]:
		return Medium
	default:
		return Low
	}
}

// MaxPort is the largest valid TCP port number.
const MaxPort = 65535

// Parse expands the port-set grammar ("22,80,443", "1-1000",
// "22-25,80,443") into a deduplicated, ascending port slice.
//
//	ports   = part ("," part)*
//	part    = port | port "-" port
//	port    = 1..65535
func Parse(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("portset: empty port specification")
	}

	seen := make(map[int]bool)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if idx := strings.IndexByte(part, '-'); idx >= 0 {
			startStr, endStr := part[:idx], part[idx+1:]
			start, err := parsePort(startStr)
			if err != nil {
				return nil, fmt.Errorf("portset: invalid range %q: %w", part, err)
			}
			end, err := parsePort(endStr)
			if err != nil {
				return nil, fmt.Errorf("portset: invalid range %q: %w", part, err)
			}
			if start > end {
				return nil, fmt.Errorf("portset: invalid range %q: start exceeds end", part)
			}
			if end-start+1 > MaxPort {
				return nil, fmt.Errorf("portset: range %q exceeds %d ports", part, MaxPort)
			}
			for p := start; p <= end; p++ {
				seen[p] = true
			}
			continue
		}

		port, err := parsePort(part)
		if err != nil {
			return nil, fmt.Errorf("portset: invalid port %q: %w", part, err)
		}
		seen[port] = true
	}

	if len(seen) == 0 {
		return nil, fmt.Errorf("portset: no ports parsed from %q", spec)
	}
	if len(seen) > MaxPort {
		return nil, fmt.Errorf("portset: %d ports exceeds the %d port limit", len(seen), MaxPort)
	}

	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports, nil
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not a number: %w", err)
	}
	if n < 1 || n > MaxPort {
		return 0, fmt.Errorf("out of range [1,%d]", MaxPort)
	}
	return n, nil
}

// Format renders a sorted port slice back into canonical "a,b,c" form,
// used as the stable input to cache-key hashing.
func Format(ports []int) string {
	sorted := make([]int, len(ports))
	copy(sorted, ports)
	sort.Ints(sorted)

	parts := make([]string, len(sorted))
	for i, p := range sorted {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

// Tiers partitions a port slice into the four priority buckets, each
// kept in ascending port order. The scheduler dispatches Critical first.
func Tiers(ports []int) map[Priority][]int {
	tiers := map[Priority][]int{
		Critical: {},
		High:     {},
		Medium:   {},
		Low:      {},
	}
	sorted := make([]int, len(ports))
	copy(sorted, ports)
	sort.Ints(sorted)

	for _, p := range sorted {
		pr := PriorityOf(p)
		tiers[pr] = append(tiers[pr], p)
	}
	return tiers
}
