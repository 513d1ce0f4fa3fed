// Package models defines data structures for decoded BGP updates and events.
package models

import (
	"strconv"
	"time"
)

// Kind distinguishes announcements, withdrawals and the end-of-stream marker.
type Kind string

const (
	KindAnnouncement Kind = "announcement"
	KindWithdrawal   Kind = "withdrawal"
	KindEndOfStream  Kind = "end_of_stream"
)

// Range is the destination block carried by an update.
type Range struct {
	Prefix       string `json:"prefix"`
	PrefixLength int    `json:"prefix_length"`
}

// String returns the range in CIDR notation.
func (r Range) String() string {
	return r.Prefix + "/" + strconv.Itoa(r.PrefixLength)
}

// Update is one decoded record produced by an update feed.
type Update struct {
	Timestamp uint64   `json:"timestamp"` // seconds
	Kind      Kind     `json:"kind"`
	PeerASN   uint32   `json:"peer_as"`
	NextHop   string   `json:"next_hop,omitempty"` // announcements only
	ASPath    []uint32 `json:"as_path,omitempty"`  // announcements only
	Range     Range    `json:"range"`
	Collector string   `json:"collector,omitempty"` // e.g., "rrc00"
}

// EndOfStream returns the sentinel record that terminates a feed.
func EndOfStream() Update {
	return Update{Kind: KindEndOfStream}
}

// IsEndOfStream reports whether u is the end-of-stream sentinel.
func (u Update) IsEndOfStream() bool {
	return u.Kind == KindEndOfStream
}

// IsAnnouncement reports whether u announces a route.
func (u Update) IsAnnouncement() bool {
	return u.Kind == KindAnnouncement
}

// OriginASN returns the last ASN of the path, or 0 for an empty path.
func (u Update) OriginASN() uint32 {
	if len(u.ASPath) == 0 {
		return 0
	}
	return u.ASPath[len(u.ASPath)-1]
}

// BGPEvent represents a detected BGP anomaly or trust transition.
type BGPEvent struct {
	ID             string
	EventType      string // hijack, baseline, leak
	Severity       string // low, medium, high, critical
	EventCategory  string // attack, misconfiguration, observation
	AffectedASN    uint32
	AffectedOrg    string
	AffectedPrefix string
	Details        map[string]interface{}
	DetectedAt     time.Time // feed time of the triggering update
	IsActive       bool
}

// Severity levels
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Event types
const (
	EventTypeHijack   = "hijack"
	EventTypeBaseline = "baseline"
	EventTypeLeak     = "leak"
)

// Event categories
const (
	CategoryAttack           = "attack"
	CategoryMisconfiguration = "misconfiguration"
	CategoryObservation      = "observation"
)
