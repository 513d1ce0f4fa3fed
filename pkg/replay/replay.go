// Package replay drives decoded update records through the hijack detector
// into the routing table.
package replay

import (
	"context"
	"log/slog"
	"net/netip"

	"github.com/hervehildenbrand/bgp-replay/pkg/detector"
	"github.com/hervehildenbrand/bgp-replay/pkg/feed"
	"github.com/hervehildenbrand/bgp-replay/pkg/metrics"
	"github.com/hervehildenbrand/bgp-replay/pkg/models"
	"github.com/hervehildenbrand/bgp-replay/pkg/rib"
	"github.com/pkg/errors"
)

// Summary counts what a replay did.
type Summary struct {
	Records       uint64
	Announcements uint64
	Withdrawals   uint64
	Malformed     uint64
	Withheld      uint64 // announcements the detector kept out of the table
	Leaks         uint64
	Verdicts      map[detector.Verdict]uint64
}

// Replayer is a single-threaded reducer over a feed. Records are applied in
// the order the feed yields them.
type Replayer struct {
	table  *rib.Table
	hijack *detector.HijackDetector
	leaks  *detector.LeakDetector
	logger *slog.Logger
}

// New creates a replayer for table. Without a hijack detector every
// announcement goes straight to the table; leaks may be nil.
func New(table *rib.Table, hijack *detector.HijackDetector, leaks *detector.LeakDetector, logger *slog.Logger) *Replayer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Replayer{
		table:  table,
		hijack: hijack,
		leaks:  leaks,
		logger: logger.With("component", "replay"),
	}
}

// Run consumes f until the end-of-stream sentinel. A cancelled context stops
// the replay early; the summary covers everything applied until then.
func (r *Replayer) Run(ctx context.Context, f feed.Feed) (Summary, error) {
	sum := Summary{Verdicts: make(map[detector.Verdict]uint64)}

	for {
		u, err := f.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.logger.Warn("replay interrupted", "records", sum.Records)
				return sum, ctx.Err()
			}
			return sum, errors.Wrap(err, "read feed")
		}
		if u.IsEndOfStream() {
			break
		}
		r.process(u, &sum)
	}

	r.publish()
	metrics.ReachableAddresses.Set(float64(r.table.MeasureReachability()))
	r.logger.Info("replay complete",
		"records", sum.Records,
		"malformed", sum.Malformed,
		"suspicious", sum.Verdicts[detector.VerdictSuspicious],
		"entries", r.table.Len())
	return sum, nil
}

func (r *Replayer) process(u models.Update, sum *Summary) {
	sum.Records++
	metrics.UpdatesTotal.WithLabelValues(string(u.Kind)).Inc()
	metrics.FeedTime.Set(float64(u.Timestamp))

	var err error
	switch u.Kind {
	case models.KindAnnouncement:
		sum.Announcements++
		err = r.announce(u, sum)
	case models.KindWithdrawal:
		sum.Withdrawals++
		err = r.withdraw(u)
	default:
		err = errors.Wrapf(rib.ErrMalformedRecord, "unknown record kind %q", u.Kind)
	}

	if err != nil {
		sum.Malformed++
		metrics.MalformedTotal.Inc()
		r.logger.Warn("skipping malformed record", "error", err,
			"timestamp", u.Timestamp, "peer_as", u.PeerASN, "collector", u.Collector)
		return
	}

	if sum.Records%10000 == 0 {
		r.publish()
		r.logger.Debug("replay progress", "records", sum.Records, "feed_time", u.Timestamp)
	}
}

func (r *Replayer) announce(u models.Update, sum *Summary) error {
	route, err := ToRoute(u)
	if err != nil {
		return err
	}

	if r.leaks != nil && r.leaks.Process(u) {
		sum.Leaks++
		metrics.LeaksTotal.Inc()
	}

	if r.hijack == nil {
		return r.table.ApplyAnnouncement(route)
	}
	verdict, err := r.hijack.ProcessAnnouncement(route)
	sum.Verdicts[verdict]++
	metrics.VerdictsTotal.WithLabelValues(verdict.String()).Inc()
	if err == nil && !verdict.Applied() {
		sum.Withheld++
	}
	return err
}

func (r *Replayer) withdraw(u models.Update) error {
	w, err := ToWithdrawal(u)
	if err != nil {
		return err
	}
	if r.hijack == nil {
		return r.table.ApplyWithdrawal(w)
	}
	return r.hijack.ProcessWithdrawal(w)
}

func (r *Replayer) publish() {
	stats := r.table.Stats()
	metrics.RoutingEntries.Set(float64(stats.Entries))
	metrics.PathChanges.Set(float64(stats.PathChanges))
}

// ToRoute converts a decoded announcement. The origin is the last AS of the
// path; the reporting peer is kept so a later withdrawal from that peer can
// remove the route.
func ToRoute(u models.Update) (rib.Route, error) {
	pfx, err := rib.ParsePrefix(u.Range.Prefix, u.Range.PrefixLength)
	if err != nil {
		return rib.Route{}, err
	}
	nextHop, err := netip.ParseAddr(u.NextHop)
	if err != nil {
		return rib.Route{}, errors.Wrapf(rib.ErrMalformedRecord, "next hop %q for %s", u.NextHop, pfx)
	}
	return rib.Route{
		Prefix:    pfx,
		OriginASN: u.OriginASN(),
		PeerASN:   u.PeerASN,
		ASPath:    u.ASPath,
		NextHop:   nextHop,
		Timestamp: u.Timestamp,
	}, nil
}

// ToWithdrawal converts a decoded withdrawal.
func ToWithdrawal(u models.Update) (rib.Withdrawal, error) {
	pfx, err := rib.ParsePrefix(u.Range.Prefix, u.Range.PrefixLength)
	if err != nil {
		return rib.Withdrawal{}, err
	}
	return rib.Withdrawal{
		Prefix:    pfx,
		PeerASN:   u.PeerASN,
		Timestamp: u.Timestamp,
	}, nil
}
