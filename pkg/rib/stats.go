package rib

import "fmt"

// Stats describes everything applied to a Table so far.
type Stats struct {
	EarliestTimestamp uint64
	LatestTimestamp   uint64
	UpdatesReceived   uint64
	// PathChanges counts inserts, replacements and deletions of entries.
	PathChanges uint64
	// ReachableAddresses is only as fresh as the last MeasureReachability call.
	ReachableAddresses uint64
	Entries            int
}

// Describe renders the statistics as the replay report.
func (s Stats) Describe() string {
	return fmt.Sprintf("Earliest update seen: %d\tLatest update seen: %d\n"+
		"Total updates received: %d\tTotal path changes: %d\n"+
		"Routing table entries: %d\n"+
		"Reachable IPv4 addresses: %d",
		s.EarliestTimestamp, s.LatestTimestamp,
		s.UpdatesReceived, s.PathChanges,
		s.Entries,
		s.ReachableAddresses)
}
