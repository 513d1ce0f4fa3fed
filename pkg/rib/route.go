// Package rib implements the replay routing table: best-path selection,
// reachability measurement, lossless aggregation and longest-prefix-match
// lookups over IPv4 prefixes.
package rib

import (
	"net/netip"
	"slices"

	"github.com/pkg/errors"
)

var (
	// ErrMalformedRecord marks an update that cannot be applied. Callers skip
	// the record and keep going.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrNotIPv4 is returned for lookups of non-IPv4 destinations.
	ErrNotIPv4 = errors.New("not an IPv4 address")
)

// Route is one candidate path to a destination prefix.
type Route struct {
	Prefix netip.Prefix
	// OriginASN is the AS that originated the prefix, the last hop of ASPath.
	OriginASN uint32
	// PeerASN is the AS that reported the route to the collector.
	// Withdrawals only remove a route when they come from the same peer.
	PeerASN   uint32
	ASPath    []uint32
	NextHop   netip.Addr
	Timestamp uint64
}

// Withdrawal removes the route a given peer installed for a prefix.
type Withdrawal struct {
	Prefix    netip.Prefix
	PeerASN   uint32
	Timestamp uint64
}

// sameRoute reports whether r and o describe the same path, ignoring time.
func (r Route) sameRoute(o Route) bool {
	return r.OriginASN == o.OriginASN && r.PeerASN == o.PeerASN && r.NextHop == o.NextHop && slices.Equal(r.ASPath, o.ASPath)
}

// mergeableWith reports whether r can be folded into the covering route o.
// AS paths are compared as ordered sequences.
func (r Route) mergeableWith(o Route) bool {
	return r.NextHop == o.NextHop && slices.Equal(r.ASPath, o.ASPath)
}

// preferred reports whether candidate should replace current.
// Shorter AS paths win; equal lengths go to the newer record and a full tie
// keeps the installed route.
func preferred(current, candidate Route) bool {
	if len(candidate.ASPath) != len(current.ASPath) {
		return len(candidate.ASPath) < len(current.ASPath)
	}
	return candidate.Timestamp > current.Timestamp
}

// ParsePrefix builds a canonical IPv4 prefix from a base address and length.
// Host bits are masked off.
func ParsePrefix(addr string, length int) (netip.Prefix, error) {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return netip.Prefix{}, errors.Wrapf(ErrMalformedRecord, "prefix %q: %v", addr, err)
	}
	if length < 0 || length > 32 {
		return netip.Prefix{}, errors.Wrapf(ErrMalformedRecord, "prefix %s/%d: length out of range", addr, length)
	}
	return canonical(netip.PrefixFrom(ip, length))
}

func canonical(pfx netip.Prefix) (netip.Prefix, error) {
	if !pfx.IsValid() {
		return netip.Prefix{}, errors.Wrapf(ErrMalformedRecord, "invalid prefix %s", pfx)
	}
	if !pfx.Addr().Unmap().Is4() {
		return netip.Prefix{}, errors.Wrapf(ErrMalformedRecord, "prefix %s is not IPv4", pfx)
	}
	if pfx.Addr().Is4In6() {
		bits := pfx.Bits() - 96
		if bits < 0 {
			return netip.Prefix{}, errors.Wrapf(ErrMalformedRecord, "invalid mapped prefix %s", pfx)
		}
		pfx = netip.PrefixFrom(pfx.Addr().Unmap(), bits)
	}
	return pfx.Masked(), nil
}
