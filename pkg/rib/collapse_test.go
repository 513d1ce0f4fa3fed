package rib

import (
	"fmt"
	"math/rand/v2"
	"net/netip"
	"reflect"
	"slices"
	"testing"
)

func TestReachability(t *testing.T) {
	tests := []struct {
		name     string
		prefixes []string
		want     uint64
	}{
		{name: "empty table", prefixes: nil, want: 0},
		{name: "single /24", prefixes: []string{"192.0.2.0/24"}, want: 256},
		{name: "host route", prefixes: []string{"192.0.2.1/32"}, want: 1},
		{name: "nested prefixes", prefixes: []string{"10.0.0.0/8", "10.1.0.0/16", "10.1.2.0/24"}, want: 1 << 24},
		{name: "adjacent halves", prefixes: []string{"192.0.2.0/25", "192.0.2.128/25"}, want: 256},
		{name: "disjoint", prefixes: []string{"192.0.2.0/24", "198.51.100.0/24", "203.0.113.0/25"}, want: 640},
		{name: "default route", prefixes: []string{"0.0.0.0/0", "8.8.8.0/24"}, want: 1 << 32},
		{name: "top of address space", prefixes: []string{"255.255.255.0/24", "255.255.255.255/32"}, want: 256},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := NewTable(nil)
			for i, p := range tt.prefixes {
				table.ApplyAnnouncement(announce(t, p, uint32(i+1), "198.51.100.1", uint64(i), uint32(i+1)))
			}
			before := table.Routes()

			if got := table.MeasureReachability(); got != tt.want {
				t.Errorf("MeasureReachability() = %d, want %d", got, tt.want)
			}
			if got := table.Stats().ReachableAddresses; got != tt.want {
				t.Errorf("Stats().ReachableAddresses = %d, want %d", got, tt.want)
			}
			if !reflect.DeepEqual(before, table.Routes()) {
				t.Error("MeasureReachability() mutated the table")
			}
		})
	}
}

func TestCollapse(t *testing.T) {
	tests := []struct {
		name   string
		routes []Route
		want   []string // surviving prefixes in sort order
	}{
		{
			name: "child with same path and next hop is removed",
			routes: []Route{
				{Prefix: netip.MustParsePrefix("10.0.0.0/8"), ASPath: []uint32{1, 2}, NextHop: netip.MustParseAddr("192.0.2.1")},
				{Prefix: netip.MustParsePrefix("10.1.0.0/16"), ASPath: []uint32{1, 2}, NextHop: netip.MustParseAddr("192.0.2.1")},
			},
			want: []string{"10.0.0.0/8"},
		},
		{
			name: "different next hop is kept",
			routes: []Route{
				{Prefix: netip.MustParsePrefix("10.0.0.0/8"), ASPath: []uint32{1, 2}, NextHop: netip.MustParseAddr("192.0.2.1")},
				{Prefix: netip.MustParsePrefix("10.1.0.0/16"), ASPath: []uint32{1, 2}, NextHop: netip.MustParseAddr("192.0.2.2")},
			},
			want: []string{"10.0.0.0/8", "10.1.0.0/16"},
		},
		{
			name: "reordered AS path is kept",
			routes: []Route{
				{Prefix: netip.MustParsePrefix("10.0.0.0/8"), ASPath: []uint32{1, 2}, NextHop: netip.MustParseAddr("192.0.2.1")},
				{Prefix: netip.MustParsePrefix("10.1.0.0/16"), ASPath: []uint32{2, 1}, NextHop: netip.MustParseAddr("192.0.2.1")},
			},
			want: []string{"10.0.0.0/8", "10.1.0.0/16"},
		},
		{
			name: "sibling prefixes are not merged",
			routes: []Route{
				{Prefix: netip.MustParsePrefix("192.0.2.0/25"), ASPath: []uint32{1}, NextHop: netip.MustParseAddr("192.0.2.1")},
				{Prefix: netip.MustParsePrefix("192.0.2.128/25"), ASPath: []uint32{1}, NextHop: netip.MustParseAddr("192.0.2.1")},
			},
			want: []string{"192.0.2.0/25", "192.0.2.128/25"},
		},
		{
			name: "intermediate route with other path shields descendant",
			routes: []Route{
				{Prefix: netip.MustParsePrefix("10.0.0.0/8"), ASPath: []uint32{1}, NextHop: netip.MustParseAddr("192.0.2.1")},
				{Prefix: netip.MustParsePrefix("10.1.0.0/16"), ASPath: []uint32{7}, NextHop: netip.MustParseAddr("192.0.2.7")},
				{Prefix: netip.MustParsePrefix("10.1.1.0/24"), ASPath: []uint32{1}, NextHop: netip.MustParseAddr("192.0.2.1")},
			},
			want: []string{"10.0.0.0/8", "10.1.0.0/16", "10.1.1.0/24"},
		},
		{
			name: "chain collapses to the root",
			routes: []Route{
				{Prefix: netip.MustParsePrefix("10.0.0.0/8"), ASPath: []uint32{1}, NextHop: netip.MustParseAddr("192.0.2.1")},
				{Prefix: netip.MustParsePrefix("10.1.0.0/16"), ASPath: []uint32{1}, NextHop: netip.MustParseAddr("192.0.2.1")},
				{Prefix: netip.MustParsePrefix("10.1.1.0/24"), ASPath: []uint32{1}, NextHop: netip.MustParseAddr("192.0.2.1")},
				{Prefix: netip.MustParsePrefix("10.1.1.128/25"), ASPath: []uint32{1}, NextHop: netip.MustParseAddr("192.0.2.1")},
			},
			want: []string{"10.0.0.0/8"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := NewTable(nil)
			for i, r := range tt.routes {
				r.OriginASN = r.ASPath[0]
				r.Timestamp = uint64(i + 1)
				if err := table.ApplyAnnouncement(r); err != nil {
					t.Fatalf("ApplyAnnouncement() error = %v", err)
				}
			}

			removed := table.Collapse()

			var got []string
			for _, r := range table.Routes() {
				got = append(got, r.Prefix.String())
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("after Collapse() got %v, want %v", got, tt.want)
			}
			if removed != len(tt.routes)-len(tt.want) {
				t.Errorf("Collapse() = %d, want %d", removed, len(tt.routes)-len(tt.want))
			}
		})
	}
}

func TestCollapse_TimestampIsMax(t *testing.T) {
	table := NewTable(nil)
	table.ApplyAnnouncement(announce(t, "10.0.0.0/8", 1, "192.0.2.1", 100, 1, 2))
	table.ApplyAnnouncement(announce(t, "10.1.0.0/16", 1, "192.0.2.1", 900, 1, 2))
	table.ApplyAnnouncement(announce(t, "10.2.0.0/16", 1, "192.0.2.1", 400, 1, 2))

	table.Collapse()

	r, ok := table.Get(netip.MustParsePrefix("10.0.0.0/8"))
	if !ok {
		t.Fatal("Expected 10.0.0.0/8 to survive")
	}
	if r.Timestamp != 900 {
		t.Errorf("Timestamp = %d, want 900", r.Timestamp)
	}
}

func TestCollapse_EmptyTable(t *testing.T) {
	table := NewTable(nil)
	if removed := table.Collapse(); removed != 0 {
		t.Errorf("Collapse() = %d, want 0", removed)
	}
	if got := table.MeasureReachability(); got != 0 {
		t.Errorf("MeasureReachability() = %d, want 0", got)
	}
}

// randomTable builds a table with heavily nested prefixes drawn from a small
// set of path attributes so that many entries are mergeable.
func randomTable(t *testing.T, seed uint64, n int) *Table {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed^0x5eed))
	hops := []netip.Addr{netip.MustParseAddr("192.0.2.1"), netip.MustParseAddr("192.0.2.2")}
	paths := [][]uint32{{1, 2}, {2, 1}, {3}}

	table := NewTable(nil)
	for i := 0; i < n; i++ {
		bits := 8 + rng.IntN(17) // /8 .. /24
		base := netip.AddrFrom4([4]byte{10, byte(rng.IntN(4)), byte(rng.IntN(8)), 0})
		path := paths[rng.IntN(len(paths))]
		r := Route{
			Prefix:    netip.PrefixFrom(base, bits).Masked(),
			OriginASN: path[0],
			ASPath:    path,
			NextHop:   hops[rng.IntN(len(hops))],
			Timestamp: uint64(rng.IntN(1000)),
		}
		if err := table.ApplyAnnouncement(r); err != nil {
			t.Fatalf("ApplyAnnouncement() error = %v", err)
		}
	}
	return table
}

type decision struct {
	hop  netip.Addr
	path string
}

func decide(table *Table, addr netip.Addr) (decision, bool) {
	r, ok := table.Best(addr)
	if !ok {
		return decision{}, false
	}
	return decision{hop: r.NextHop, path: fmt.Sprint(r.ASPath)}, true
}

func TestCollapse_Properties(t *testing.T) {
	for seed := uint64(1); seed <= 25; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			table := randomTable(t, seed, 60)

			probes := make([]netip.Addr, 0, 512)
			rng := rand.New(rand.NewPCG(seed, 99))
			for i := 0; i < cap(probes); i++ {
				probes = append(probes, netip.AddrFrom4([4]byte{10, byte(rng.IntN(5)), byte(rng.IntN(9)), byte(rng.IntN(256))}))
			}
			want := make(map[netip.Addr]decision)
			for _, a := range probes {
				if d, ok := decide(table, a); ok {
					want[a] = d
				}
			}

			reachBefore := table.MeasureReachability()
			table.Collapse()
			if reachAfter := table.MeasureReachability(); reachAfter != reachBefore {
				t.Fatalf("reachability changed: %d -> %d", reachBefore, reachAfter)
			}

			for _, a := range probes {
				d, ok := decide(table, a)
				w, wok := want[a]
				if ok != wok || d != w {
					t.Fatalf("routing decision for %s changed: %+v -> %+v", a, w, d)
				}
			}

			once := table.Routes()
			if removed := table.Collapse(); removed != 0 {
				t.Errorf("second Collapse() removed %d routes", removed)
			}
			if !reflect.DeepEqual(once, table.Routes()) {
				t.Error("Collapse() is not idempotent")
			}
		})
	}
}
