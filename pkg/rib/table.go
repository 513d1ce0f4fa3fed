package rib

import (
	"log/slog"
	"net/netip"
	"slices"

	"github.com/gaissmai/bart"
	"github.com/pkg/errors"
)

// Table holds at most one preferred route per prefix and the statistics of
// every update applied to it. It is not safe for concurrent use; replay is a
// single sequential reducer.
type Table struct {
	routes *bart.Table[Route]
	stats  Stats
	seen   bool // any timestamp observed yet
	logger *slog.Logger
}

// NewTable creates an empty routing table. A nil logger discards output.
func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Table{
		routes: new(bart.Table[Route]),
		logger: logger.With("component", "rib"),
	}
}

// ApplyAnnouncement installs r if no route exists for its prefix or if r is
// preferred over the installed one. Malformed announcements leave the table
// and statistics untouched.
func (t *Table) ApplyAnnouncement(r Route) error {
	pfx, err := canonical(r.Prefix)
	if err != nil {
		return errors.Wrapf(err, "announcement from AS%d", r.OriginASN)
	}
	if len(r.ASPath) == 0 {
		return errors.Wrapf(ErrMalformedRecord, "announcement for %s from AS%d has empty AS path", pfx, r.OriginASN)
	}
	r.Prefix = pfx
	r.ASPath = slices.Clone(r.ASPath)

	t.stats.UpdatesReceived++
	t.observe(r.Timestamp)

	current, ok := t.routes.Get(pfx)
	switch {
	case !ok:
		t.routes.Insert(pfx, r)
		t.stats.PathChanges++
	case !preferred(current, r):
		// keep installed route
	case current.sameRoute(r):
		// Same path seen again later: refresh, not a change.
		current.Timestamp = r.Timestamp
		t.routes.Insert(pfx, current)
	default:
		t.routes.Insert(pfx, r)
		t.stats.PathChanges++
		t.logger.Debug("path replaced", "prefix", pfx,
			"old_path_len", len(current.ASPath), "new_path_len", len(r.ASPath))
	}
	return nil
}

// ApplyWithdrawal deletes the route for w.Prefix when it was installed by
// w.PeerASN. Any other withdrawal is stale and ignored.
func (t *Table) ApplyWithdrawal(w Withdrawal) error {
	pfx, err := canonical(w.Prefix)
	if err != nil {
		return errors.Wrapf(err, "withdrawal from AS%d", w.PeerASN)
	}

	t.stats.UpdatesReceived++
	t.observe(w.Timestamp)

	current, ok := t.routes.Get(pfx)
	if !ok || current.PeerASN != w.PeerASN {
		t.logger.Debug("stale withdrawal ignored", "prefix", pfx, "peer_as", w.PeerASN)
		return nil
	}
	t.routes.Delete(pfx)
	t.stats.PathChanges++
	return nil
}

// observe extends the timestamp bounds with ts.
func (t *Table) observe(ts uint64) {
	if !t.seen {
		t.stats.EarliestTimestamp, t.stats.LatestTimestamp = ts, ts
		t.seen = true
		return
	}
	t.stats.EarliestTimestamp = min(t.stats.EarliestTimestamp, ts)
	t.stats.LatestTimestamp = max(t.stats.LatestTimestamp, ts)
}

// Get returns the installed route for pfx.
func (t *Table) Get(pfx netip.Prefix) (Route, bool) {
	c, err := canonical(pfx)
	if err != nil {
		return Route{}, false
	}
	return t.routes.Get(c)
}

// Len returns the number of installed routes.
func (t *Table) Len() int {
	return t.routes.Size()
}

// Routes returns every installed route in CIDR sort order.
func (t *Table) Routes() []Route {
	routes := make([]Route, 0, t.routes.Size())
	for _, r := range t.routes.AllSorted4() {
		routes = append(routes, r)
	}
	return routes
}

// Stats returns a snapshot of the table statistics.
func (t *Table) Stats() Stats {
	s := t.stats
	s.Entries = t.routes.Size()
	return s
}
