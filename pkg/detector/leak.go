package detector

import (
	"github.com/hervehildenbrand/bgp-replay/pkg/events"
	"github.com/hervehildenbrand/bgp-replay/pkg/models"
)

// LeakDetector detects BGP route leaks in replayed announcements.
// A leak is when a small AS appears to be providing transit between two Tier-1s.
// It only observes; leaked routes still reach the table.
type LeakDetector struct {
	sink  events.Sink
	found uint64
}

// NewLeakDetector creates a new leak detector.
func NewLeakDetector(sink events.Sink) *LeakDetector {
	if sink == nil {
		sink = events.Discard{}
	}
	return &LeakDetector{sink: sink}
}

// Process checks an update for route leak patterns and reports whether one
// was found.
func (d *LeakDetector) Process(update models.Update) bool {
	if !update.IsAnnouncement() || len(update.ASPath) < 3 {
		return false // Need at least 3 ASNs for leak pattern
	}

	leakASN, tier1Before, tier1After := findLeakPattern(update.ASPath)
	if leakASN == 0 {
		return false
	}
	d.found++

	d.sink.Emit(models.BGPEvent{
		EventType:      models.EventTypeLeak,
		Severity:       models.SeverityHigh,
		EventCategory:  models.CategoryMisconfiguration,
		AffectedASN:    leakASN,
		AffectedPrefix: update.Range.String(),
		DetectedAt:     feedTime(update.Timestamp),
		IsActive:       true,
		Details: map[string]interface{}{
			"pattern":          "tier1_transit_leak",
			"leaking_asn":      leakASN,
			"upstream_tier1":   tier1Before,
			"downstream_tier1": tier1After,
			"as_path":          update.ASPath,
			"peer_asn":         update.PeerASN,
			"collector":        update.Collector,
			"confidence":       0.85, // High confidence for Tier-1 transit pattern
		},
	})
	return true
}

// Found returns the number of leaks reported so far.
func (d *LeakDetector) Found() uint64 {
	return d.found
}

// findLeakPattern looks for Tier1 -> SmallAS -> Tier1 pattern.
// Returns (leakASN, tier1Before, tier1After) or (0, 0, 0) if not found.
func findLeakPattern(asPath []uint32) (uint32, uint32, uint32) {
	for i := 0; i+2 < len(asPath); i++ {
		before, middle, after := asPath[i], asPath[i+1], asPath[i+2]

		// Scrubbing centers legitimately sit between Tier-1s
		if IsTier1(before) && IsTier1(after) && !IsTier1(middle) && !IsScrubbing(middle) {
			return middle, before, after
		}
	}

	return 0, 0, 0
}
