package detector

import (
	"errors"
	"net/netip"
	"slices"
	"testing"

	"github.com/hervehildenbrand/bgp-replay/pkg/database"
	"github.com/hervehildenbrand/bgp-replay/pkg/events"
	"github.com/hervehildenbrand/bgp-replay/pkg/models"
	"github.com/hervehildenbrand/bgp-replay/pkg/rib"
)

var testOrgs = database.StaticResolver{
	15169: "Google",
	36040: "Google",
	4000:  "Unrelated Networks",
	36561: "YouTube",
	17557: "Pakistan Telecom",
	3356:  "Lumen",
}

func route(cidr string, ts uint64, path ...uint32) rib.Route {
	return rib.Route{
		Prefix:    netip.MustParsePrefix(cidr),
		OriginASN: path[len(path)-1],
		PeerASN:   path[0],
		ASPath:    path,
		NextHop:   netip.MustParseAddr("192.0.2.1"),
		Timestamp: ts,
	}
}

func newTestDetector(t *testing.T, monitored string) (*HijackDetector, *rib.Table, *events.Recorder) {
	t.Helper()
	table := rib.NewTable(nil)
	rec := &events.Recorder{}
	return NewHijackDetector(netip.MustParsePrefix(monitored), table, testOrgs, rec, nil), table, rec
}

func mustProcess(t *testing.T, d *HijackDetector, r rib.Route, want Verdict) {
	t.Helper()
	got, err := d.ProcessAnnouncement(r)
	if err != nil {
		t.Fatalf("ProcessAnnouncement(%s from AS%d) error = %v", r.Prefix, r.OriginASN, err)
	}
	if got != want {
		t.Fatalf("ProcessAnnouncement(%s from AS%d) = %s, want %s", r.Prefix, r.OriginASN, got, want)
	}
}

func TestHijackDetector_BaselineAndDetection(t *testing.T) {
	d, table, rec := newTestDetector(t, "8.8.8.0/24")
	pfx := netip.MustParsePrefix("8.8.8.0/24")

	mustProcess(t, d, route("8.8.8.0/24", 100, 6939, 15169), VerdictBaseline)

	state, ok := d.Trust(pfx)
	if !ok {
		t.Fatal("Expected trust state after first announcement")
	}
	if state.ExpectedASN != 15169 || state.ExpectedOrg != "Google" {
		t.Errorf("TrustState = %+v, want AS15169/Google", state)
	}

	mustProcess(t, d, route("8.8.8.0/24", 200, 4000), VerdictSuspicious)

	installed, ok := table.Get(pfx)
	if !ok || installed.OriginASN != 15169 {
		t.Fatalf("table route = %+v, want AS15169 route", installed)
	}

	suspicious := d.Suspicious()
	if len(suspicious) != 1 {
		t.Fatalf("Expected 1 suspicious announcement, got %d", len(suspicious))
	}
	s := suspicious[0]
	if s.Timestamp != 200 || s.Prefix != pfx || s.ExpectedASN != 15169 || s.ExpectedOrg != "Google" ||
		s.ObservedASN != 4000 || s.ObservedOrg != "Unrelated Networks" {
		t.Errorf("suspicious record = %+v", s)
	}

	mustProcess(t, d, route("8.8.8.0/24", 300, 6939, 15169), VerdictTrusted)

	stats := table.Stats()
	if stats.PathChanges != 1 {
		t.Errorf("PathChanges = %d, want 1 (re-announcement of the same path)", stats.PathChanges)
	}
	if stats.UpdatesReceived != 2 {
		t.Errorf("UpdatesReceived = %d, want 2 (suspicious update never reaches the table)", stats.UpdatesReceived)
	}

	evts := rec.Events()
	if len(evts) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(evts))
	}
	if evts[0].EventType != models.EventTypeBaseline {
		t.Errorf("first event = %s, want baseline", evts[0].EventType)
	}
	if evts[1].EventType != models.EventTypeHijack || evts[1].AffectedASN != 15169 {
		t.Errorf("second event = %s affecting AS%d, want hijack affecting AS15169", evts[1].EventType, evts[1].AffectedASN)
	}
}

func TestHijackDetector_SameOrganization(t *testing.T) {
	d, table, _ := newTestDetector(t, "8.8.0.0/16")

	mustProcess(t, d, route("8.8.8.0/24", 100, 6939, 3356, 15169), VerdictBaseline)
	mustProcess(t, d, route("8.8.8.0/24", 200, 6939, 36040), VerdictSameOrg)

	if len(d.Suspicious()) != 0 {
		t.Errorf("Expected no suspicious announcements, got %+v", d.Suspicious())
	}
	installed, _ := table.Get(netip.MustParsePrefix("8.8.8.0/24"))
	if installed.OriginASN != 36040 {
		t.Errorf("installed origin = AS%d, want AS36040 (shorter path applied)", installed.OriginASN)
	}
	// Trust stays with the first origin
	if state, _ := d.Trust(netip.MustParsePrefix("8.8.8.0/24")); state.ExpectedASN != 15169 {
		t.Errorf("ExpectedASN = %d, want 15169", state.ExpectedASN)
	}
}

func TestHijackDetector_MoreSpecificOfTrustedPrefix(t *testing.T) {
	d, table, rec := newTestDetector(t, "208.65.152.0/22")

	mustProcess(t, d, route("208.65.152.0/22", 100, 3356, 36561), VerdictBaseline)
	mustProcess(t, d, route("208.65.153.0/24", 200, 3491, 17557), VerdictSuspicious)

	s := d.Suspicious()[0]
	if s.TrustedPrefix != netip.MustParsePrefix("208.65.152.0/22") {
		t.Errorf("TrustedPrefix = %s, want 208.65.152.0/22", s.TrustedPrefix)
	}
	if d.TrustedPrefixes() != 1 {
		t.Errorf("TrustedPrefixes() = %d, want 1", d.TrustedPrefixes())
	}

	best, ok := table.Best(netip.MustParseAddr("208.65.153.238"))
	if !ok || best.OriginASN != 36561 {
		t.Errorf("Best() = AS%d, want AS36561", best.OriginASN)
	}

	hijack := rec.Events()[1]
	if hijack.Severity != models.SeverityHigh {
		t.Errorf("Severity = %s, want high", hijack.Severity)
	}
	flags, _ := hijack.Details["flags"].([]string)
	if !slices.Contains(flags, "more_specific") {
		t.Errorf("flags = %v, want more_specific", flags)
	}
}

func TestHijackDetector_SubPrefixFromTrustedOrigin(t *testing.T) {
	d, table, _ := newTestDetector(t, "208.65.152.0/22")

	mustProcess(t, d, route("208.65.152.0/22", 100, 3356, 36561), VerdictBaseline)
	mustProcess(t, d, route("208.65.153.0/24", 200, 3356, 36561), VerdictTrusted)

	if table.Len() != 2 {
		t.Errorf("Len() = %d, want 2", table.Len())
	}
}

func TestHijackDetector_Tier1Escalation(t *testing.T) {
	d, _, rec := newTestDetector(t, "8.8.8.0/24")

	mustProcess(t, d, route("8.8.8.0/24", 100, 15169), VerdictBaseline)
	mustProcess(t, d, route("8.8.8.0/24", 200, 3356), VerdictSuspicious)

	if sev := rec.Events()[1].Severity; sev != models.SeverityCritical {
		t.Errorf("Severity = %s, want critical", sev)
	}
}

func TestHijackDetector_Unmonitored(t *testing.T) {
	d, table, rec := newTestDetector(t, "208.65.152.0/22")

	tests := []string{"1.1.1.0/24", "208.65.0.0/16", "208.65.156.0/24"}
	for _, cidr := range tests {
		mustProcess(t, d, route(cidr, 100, 13335), VerdictUnmonitored)
	}

	if table.Len() != len(tests) {
		t.Errorf("Len() = %d, want %d", table.Len(), len(tests))
	}
	if d.TrustedPrefixes() != 0 || len(rec.Events()) != 0 {
		t.Error("unmonitored announcements must not create trust or events")
	}
}

func TestHijackDetector_Malformed(t *testing.T) {
	d, _, _ := newTestDetector(t, "8.8.8.0/24")

	r := route("8.8.8.0/24", 100, 15169)
	r.ASPath = nil
	v, err := d.ProcessAnnouncement(r)
	if v != VerdictMalformed || !errors.Is(err, rib.ErrMalformedRecord) {
		t.Errorf("ProcessAnnouncement() = %s, %v, want malformed", v, err)
	}
	if d.TrustedPrefixes() != 0 {
		t.Error("malformed announcement must not establish trust")
	}
}

func TestHijackDetector_TrustNeverResets(t *testing.T) {
	d, table, _ := newTestDetector(t, "8.8.8.0/24")
	pfx := netip.MustParsePrefix("8.8.8.0/24")

	mustProcess(t, d, route("8.8.8.0/24", 100, 15169), VerdictBaseline)
	if err := d.ProcessWithdrawal(rib.Withdrawal{Prefix: pfx, PeerASN: 15169, Timestamp: 150}); err != nil {
		t.Fatalf("ProcessWithdrawal() error = %v", err)
	}
	if table.Len() != 0 {
		t.Fatalf("Len() = %d after withdrawal, want 0", table.Len())
	}

	mustProcess(t, d, route("8.8.8.0/24", 200, 4000), VerdictSuspicious)
	if table.Len() != 0 {
		t.Error("suspicious announcement reached the table")
	}
}

func TestHijackDetector_UnknownOrganizations(t *testing.T) {
	d, _, _ := newTestDetector(t, "192.0.2.0/24")

	// Neither ASN is in the mapping, so both resolve to UNKNOWN.
	mustProcess(t, d, route("192.0.2.0/24", 100, 64500), VerdictBaseline)
	mustProcess(t, d, route("192.0.2.0/24", 200, 64501), VerdictSameOrg)

	if state, _ := d.Trust(netip.MustParsePrefix("192.0.2.0/24")); state.ExpectedOrg != database.Unknown {
		t.Errorf("ExpectedOrg = %q, want %q", state.ExpectedOrg, database.Unknown)
	}
}

func TestVerdict(t *testing.T) {
	tests := []struct {
		v       Verdict
		name    string
		applied bool
	}{
		{VerdictUnmonitored, "unmonitored", true},
		{VerdictBaseline, "baseline", true},
		{VerdictTrusted, "trusted", true},
		{VerdictSameOrg, "same_org", true},
		{VerdictSuspicious, "suspicious", false},
		{VerdictMalformed, "malformed", false},
	}
	for _, tt := range tests {
		if tt.v.String() != tt.name || tt.v.Applied() != tt.applied {
			t.Errorf("Verdict %d = %s/%v, want %s/%v", tt.v, tt.v, tt.v.Applied(), tt.name, tt.applied)
		}
	}
}
