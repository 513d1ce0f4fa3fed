package rib

import (
	"cmp"
	"encoding/binary"
	"net/netip"
	"slices"

	"github.com/gaissmai/bart"
)

// span is a closed interval of IPv4 addresses.
type span struct {
	first, last uint64
}

func spanOf(pfx netip.Prefix) span {
	a := pfx.Addr().As4()
	first := uint64(binary.BigEndian.Uint32(a[:]))
	return span{first: first, last: first + (uint64(1) << (32 - pfx.Bits())) - 1}
}

// MeasureReachability counts the distinct IPv4 addresses covered by the
// union of all installed prefixes and records it in the statistics.
func (t *Table) MeasureReachability() uint64 {
	t.stats.ReachableAddresses = reachable(t.routes)
	return t.stats.ReachableAddresses
}

func reachable(routes *bart.Table[Route]) uint64 {
	spans := make([]span, 0, routes.Size4())
	for pfx := range routes.All4() {
		spans = append(spans, spanOf(pfx))
	}
	if len(spans) == 0 {
		return 0
	}
	slices.SortFunc(spans, func(a, b span) int {
		return cmp.Compare(a.first, b.first)
	})

	var total uint64
	cur := spans[0]
	for _, s := range spans[1:] {
		if s.first <= cur.last+1 {
			cur.last = max(cur.last, s.last)
			continue
		}
		total += cur.last - cur.first + 1
		cur = s
	}
	return total + cur.last - cur.first + 1
}
