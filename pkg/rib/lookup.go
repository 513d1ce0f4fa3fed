package rib

import (
	"cmp"
	"net/netip"
	"slices"

	"github.com/pkg/errors"
)

// Path is a table entry as seen from a destination lookup.
type Path struct {
	Prefix    netip.Prefix
	PrefixLen int
	ASPath    []uint32
	NextHop   netip.Addr
	SourceASN uint32
}

// FindPathToDestination returns every route whose prefix contains addr,
// most specific first. The result is empty when nothing matches.
func (t *Table) FindPathToDestination(addr netip.Addr) []Path {
	addr = addr.Unmap()
	if !addr.Is4() {
		return nil
	}

	var paths []Path
	for pfx, r := range t.routes.Supernets(netip.PrefixFrom(addr, 32)) {
		paths = append(paths, Path{
			Prefix:    pfx,
			PrefixLen: pfx.Bits(),
			ASPath:    slices.Clone(r.ASPath),
			NextHop:   r.NextHop,
			SourceASN: r.PeerASN,
		})
	}
	// One prefix per length can contain a host, so the order is total.
	slices.SortStableFunc(paths, func(a, b Path) int {
		return cmp.Compare(b.PrefixLen, a.PrefixLen)
	})
	return paths
}

// FindPathToDestinationString parses destination and resolves it.
func (t *Table) FindPathToDestinationString(destination string) ([]Path, error) {
	addr, err := netip.ParseAddr(destination)
	if err != nil {
		return nil, errors.Wrapf(err, "destination %q", destination)
	}
	if !addr.Unmap().Is4() {
		return nil, errors.Wrapf(ErrNotIPv4, "destination %q", destination)
	}
	return t.FindPathToDestination(addr), nil
}

// Best returns the longest-prefix-match route for addr.
func (t *Table) Best(addr netip.Addr) (Route, bool) {
	addr = addr.Unmap()
	if !addr.Is4() {
		return Route{}, false
	}
	return t.routes.Lookup(addr)
}
