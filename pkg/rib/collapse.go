package rib

import (
	"cmp"
	"net/netip"
	"slices"

	"github.com/gaissmai/bart"
)

// Collapse removes every route that is redundant with its nearest covering
// route (same next hop, same ordered AS path). The covering route keeps the
// newer of both timestamps. Passes repeat until one removes nothing. The
// work happens on a clone that replaces the live table only when done.
//
// Returns the number of removed routes.
func (t *Table) Collapse() int {
	work := t.routes.Clone()

	removed := 0
	for pass := 1; ; pass++ {
		merged := collapsePass(work)
		removed += merged
		t.logger.Debug("collapse pass", "pass", pass, "merged", merged, "entries", work.Size())
		if merged == 0 {
			break
		}
	}

	t.routes = work
	t.logger.Info("table collapsed", "removed", removed, "entries", work.Size())
	return removed
}

// collapsePass visits prefixes from most to least specific and folds each
// into its nearest covering route when they are mergeable.
func collapsePass(work *bart.Table[Route]) int {
	prefixes := make([]netip.Prefix, 0, work.Size4())
	for pfx := range work.All4() {
		prefixes = append(prefixes, pfx)
	}
	slices.SortFunc(prefixes, func(a, b netip.Prefix) int {
		if c := cmp.Compare(b.Bits(), a.Bits()); c != 0 {
			return c
		}
		return a.Addr().Compare(b.Addr())
	})

	merged := 0
	for _, pfx := range prefixes {
		narrow, ok := work.Get(pfx)
		if !ok {
			continue
		}
		parent, ok := nearestCovering(work, pfx)
		if !ok || !narrow.mergeableWith(parent) {
			continue
		}
		parent.Timestamp = max(parent.Timestamp, narrow.Timestamp)
		work.Insert(parent.Prefix, parent)
		work.Delete(pfx)
		merged++
	}
	return merged
}

// nearestCovering returns the most specific route strictly covering pfx.
// The trie walk visits at most one candidate per shorter prefix length.
func nearestCovering(routes *bart.Table[Route], pfx netip.Prefix) (Route, bool) {
	var best Route
	found := false
	for sup, r := range routes.Supernets(pfx) {
		if sup.Bits() >= pfx.Bits() {
			continue
		}
		if !found || sup.Bits() > best.Prefix.Bits() {
			best, found = r, true
		}
	}
	return best, found
}
