package detector

import (
	"log/slog"
	"net/netip"
	"time"

	"github.com/gaissmai/bart"
	"github.com/hervehildenbrand/bgp-replay/pkg/database"
	"github.com/hervehildenbrand/bgp-replay/pkg/events"
	"github.com/hervehildenbrand/bgp-replay/pkg/models"
	"github.com/hervehildenbrand/bgp-replay/pkg/rib"
)

// RouteTable is the routing table the detector guards.
type RouteTable interface {
	ApplyAnnouncement(r rib.Route) error
	ApplyWithdrawal(w rib.Withdrawal) error
}

// TrustState is the origin a monitored prefix was first seen with.
type TrustState struct {
	ExpectedASN uint32
	ExpectedOrg string
}

// Verdict is the outcome of classifying one announcement.
type Verdict int

const (
	// VerdictUnmonitored: outside the monitored range, applied as is.
	VerdictUnmonitored Verdict = iota
	// VerdictBaseline: first sighting, origin is now trusted.
	VerdictBaseline
	// VerdictTrusted: announced by the trusted origin.
	VerdictTrusted
	// VerdictSameOrg: different AS of the trusted organization.
	VerdictSameOrg
	// VerdictSuspicious: origin conflicts with trust, not applied.
	VerdictSuspicious
	// VerdictMalformed: rejected by the routing table.
	VerdictMalformed
)

func (v Verdict) String() string {
	switch v {
	case VerdictUnmonitored:
		return "unmonitored"
	case VerdictBaseline:
		return "baseline"
	case VerdictTrusted:
		return "trusted"
	case VerdictSameOrg:
		return "same_org"
	case VerdictSuspicious:
		return "suspicious"
	case VerdictMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Applied reports whether announcements with this verdict reach the table.
func (v Verdict) Applied() bool {
	return v != VerdictSuspicious && v != VerdictMalformed
}

// SuspiciousAnnouncement records an announcement withheld from the table.
type SuspiciousAnnouncement struct {
	Timestamp     uint64
	Prefix        netip.Prefix
	TrustedPrefix netip.Prefix // prefix whose trust state was violated
	ExpectedASN   uint32
	ExpectedOrg   string
	ObservedASN   uint32
	ObservedOrg   string
	ASPath        []uint32
}

// HijackDetector gates announcements for a monitored range. The first origin
// seen for a prefix becomes trusted for the rest of the run; later
// announcements of that prefix or anything inside it must come from the same
// AS or the same organization to reach the table.
//
// Trust on first observation means a malicious first announcement becomes
// the baseline.
type HijackDetector struct {
	monitored  netip.Prefix
	table      RouteTable
	orgs       database.OrgResolver
	trust      *bart.Table[TrustState]
	suspicious []SuspiciousAnnouncement
	sink       events.Sink
	logger     *slog.Logger
}

// NewHijackDetector creates a detector for the monitored range in front of
// table. sink and logger may be nil.
func NewHijackDetector(monitored netip.Prefix, table RouteTable, orgs database.OrgResolver, sink events.Sink, logger *slog.Logger) *HijackDetector {
	if orgs == nil {
		orgs = database.NewNullResolver()
	}
	if sink == nil {
		sink = events.Discard{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HijackDetector{
		monitored: monitored.Masked(),
		table:     table,
		orgs:      orgs,
		trust:     new(bart.Table[TrustState]),
		sink:      sink,
		logger:    logger.With("component", "hijack_detector", "monitored", monitored.Masked()),
	}
}

// Monitors reports whether pfx is the monitored range or inside it.
func (d *HijackDetector) Monitors(pfx netip.Prefix) bool {
	if !pfx.IsValid() || !d.monitored.IsValid() {
		return false
	}
	return pfx.Bits() >= d.monitored.Bits() && d.monitored.Contains(pfx.Addr())
}

// ProcessAnnouncement classifies r and applies it to the table unless it is
// suspicious. The error is the table's, for malformed records.
func (d *HijackDetector) ProcessAnnouncement(r rib.Route) (Verdict, error) {
	if !d.Monitors(r.Prefix) {
		if err := d.table.ApplyAnnouncement(r); err != nil {
			return VerdictMalformed, err
		}
		return VerdictUnmonitored, nil
	}
	if len(r.ASPath) == 0 {
		// Never build trust on a record the table will reject.
		return VerdictMalformed, d.table.ApplyAnnouncement(r)
	}

	pfx := r.Prefix.Masked()
	trusted, state, ok := d.governing(pfx)
	if !ok {
		state = TrustState{ExpectedASN: r.OriginASN, ExpectedOrg: d.orgs.Lookup(r.OriginASN)}
		d.trust.Insert(pfx, state)
		d.baseline(r, pfx, state)
		return d.apply(r, VerdictBaseline)
	}

	if r.OriginASN == state.ExpectedASN {
		return d.apply(r, VerdictTrusted)
	}

	observedOrg := d.orgs.Lookup(r.OriginASN)
	if observedOrg == state.ExpectedOrg {
		d.logger.Debug("same organization announcement", "prefix", pfx,
			"expected_as", state.ExpectedASN, "observed_as", r.OriginASN, "org", observedOrg)
		return d.apply(r, VerdictSameOrg)
	}

	d.flag(r, pfx, trusted, state, observedOrg)
	return VerdictSuspicious, nil
}

// ProcessWithdrawal forwards w to the table. A withdrawal can only remove a
// route its peer installed, so it never needs classification.
func (d *HijackDetector) ProcessWithdrawal(w rib.Withdrawal) error {
	return d.table.ApplyWithdrawal(w)
}

// Trust returns the trust state recorded for exactly pfx.
func (d *HijackDetector) Trust(pfx netip.Prefix) (TrustState, bool) {
	return d.trust.Get(pfx.Masked())
}

// TrustedPrefixes returns the number of prefixes with a trust state.
func (d *HijackDetector) TrustedPrefixes() int {
	return d.trust.Size()
}

// Suspicious returns every announcement withheld so far, in arrival order.
func (d *HijackDetector) Suspicious() []SuspiciousAnnouncement {
	return append([]SuspiciousAnnouncement(nil), d.suspicious...)
}

// governing returns the most specific trusted prefix covering pfx.
func (d *HijackDetector) governing(pfx netip.Prefix) (netip.Prefix, TrustState, bool) {
	var (
		best  netip.Prefix
		state TrustState
		found bool
	)
	for sup, s := range d.trust.Supernets(pfx) {
		if !found || sup.Bits() > best.Bits() {
			best, state, found = sup, s, true
		}
	}
	return best, state, found
}

func (d *HijackDetector) apply(r rib.Route, v Verdict) (Verdict, error) {
	if err := d.table.ApplyAnnouncement(r); err != nil {
		return VerdictMalformed, err
	}
	return v, nil
}

func (d *HijackDetector) baseline(r rib.Route, pfx netip.Prefix, state TrustState) {
	d.logger.Info("baseline established",
		"timestamp", r.Timestamp,
		"prefix", pfx,
		"expected_as", state.ExpectedASN,
		"expected_org", state.ExpectedOrg)

	d.sink.Emit(models.BGPEvent{
		EventType:      models.EventTypeBaseline,
		Severity:       models.SeverityLow,
		EventCategory:  models.CategoryObservation,
		AffectedASN:    state.ExpectedASN,
		AffectedOrg:    state.ExpectedOrg,
		AffectedPrefix: pfx.String(),
		DetectedAt:     feedTime(r.Timestamp),
		IsActive:       false,
		Details: map[string]interface{}{
			"as_path":  r.ASPath,
			"next_hop": r.NextHop.String(),
		},
	})
}

func (d *HijackDetector) flag(r rib.Route, pfx, trusted netip.Prefix, state TrustState, observedOrg string) {
	s := SuspiciousAnnouncement{
		Timestamp:     r.Timestamp,
		Prefix:        pfx,
		TrustedPrefix: trusted,
		ExpectedASN:   state.ExpectedASN,
		ExpectedOrg:   state.ExpectedOrg,
		ObservedASN:   r.OriginASN,
		ObservedOrg:   observedOrg,
		ASPath:        append([]uint32(nil), r.ASPath...),
	}
	d.suspicious = append(d.suspicious, s)

	d.logger.Warn("suspicious announcement",
		"timestamp", s.Timestamp,
		"prefix", s.Prefix,
		"expected_as", s.ExpectedASN,
		"expected_org", s.ExpectedOrg,
		"observed_as", s.ObservedASN,
		"observed_org", s.ObservedOrg)

	// Determine severity
	severity := models.SeverityMedium
	confidence := 0.7 // Base confidence for origin change
	flags := []string{"origin_change"}
	if pfx.Bits() > trusted.Bits() {
		// A more specific than the trusted block wins every LPM lookup.
		severity = models.SeverityHigh
		confidence = 0.8
		flags = append(flags, "more_specific")
	}
	if IsTier1(s.ExpectedASN) || IsTier1(s.ObservedASN) {
		severity = models.SeverityCritical
		confidence = 0.9
		flags = append(flags, "tier1_involved")
	}
	if HasScrubbingCenter(r.ASPath) {
		flags = append(flags, "scrubbing_center")
	}

	d.sink.Emit(models.BGPEvent{
		EventType:      models.EventTypeHijack,
		Severity:       severity,
		EventCategory:  models.CategoryAttack,
		AffectedASN:    s.ExpectedASN,
		AffectedOrg:    s.ExpectedOrg,
		AffectedPrefix: pfx.String(),
		DetectedAt:     feedTime(r.Timestamp),
		IsActive:       true,
		Details: map[string]interface{}{
			"trusted_prefix": trusted.String(),
			"hijacking_asn":  s.ObservedASN,
			"hijacking_org":  s.ObservedOrg,
			"as_path":        s.ASPath,
			"next_hop":       r.NextHop.String(),
			"flags":          flags,
			"confidence":     confidence,
		},
	})
}

func feedTime(ts uint64) time.Time {
	return time.Unix(int64(ts), 0).UTC()
}
