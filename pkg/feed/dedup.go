package feed

import (
	"context"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/hervehildenbrand/bgp-replay/pkg/models"
)

// pruneThreshold bounds how many slots are kept before stale ones are swept.
const pruneThreshold = 100000

// slot is the most recent record seen for one (peer, prefix) pair.
type slot struct {
	digest    uint64
	timestamp uint64
}

// DedupFeed drops a record when it repeats the most recent record of the same
// peer and prefix within a window of feed seconds. Collector and timestamp
// are not compared, which is what happens when several collectors peer with
// the same AS. Any different record in between, a withdrawal for instance,
// makes the next repeat count again.
type DedupFeed struct {
	src    Feed
	window uint64
	last   map[uint64]slot

	dropped uint64
}

// Dedup wraps src. A zero window only drops records with identical timestamps.
func Dedup(src Feed, window uint64) *DedupFeed {
	return &DedupFeed{
		src:    src,
		window: window,
		last:   make(map[uint64]slot),
	}
}

func (d *DedupFeed) Next(ctx context.Context) (models.Update, error) {
	for {
		u, err := d.src.Next(ctx)
		if err != nil || u.IsEndOfStream() {
			return u, err
		}

		key, sum := slotKey(u), digest(u)
		if prev, ok := d.last[key]; ok && prev.digest == sum && distance(prev.timestamp, u.Timestamp) <= d.window {
			d.dropped++
			continue
		}
		d.last[key] = slot{digest: sum, timestamp: u.Timestamp}

		if len(d.last) > pruneThreshold {
			d.prune(u.Timestamp)
		}
		return u, nil
	}
}

func (d *DedupFeed) prune(now uint64) {
	for key, s := range d.last {
		if distance(s.timestamp, now) > d.window {
			delete(d.last, key)
		}
	}
}

// Reset rewinds the source and forgets every slot.
func (d *DedupFeed) Reset() error {
	if err := d.src.Reset(); err != nil {
		return err
	}
	clear(d.last)
	d.dropped = 0
	return nil
}

// Dropped returns the number of duplicates removed.
func (d *DedupFeed) Dropped() uint64 {
	return d.dropped
}

func distance(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

func slotKey(u models.Update) uint64 {
	buf := make([]byte, 0, 32)
	buf = binary.BigEndian.AppendUint32(buf, u.PeerASN)
	buf = append(buf, u.Range.Prefix...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(u.Range.PrefixLength))
	return xxhash.Sum64(buf)
}

func digest(u models.Update) uint64 {
	buf := make([]byte, 0, 64+4*len(u.ASPath))
	buf = append(buf, string(u.Kind)...)
	buf = append(buf, 0)
	buf = binary.BigEndian.AppendUint32(buf, u.PeerASN)
	buf = append(buf, u.NextHop...)
	buf = append(buf, 0)
	buf = append(buf, u.Range.Prefix...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(u.Range.PrefixLength))
	for _, asn := range u.ASPath {
		buf = binary.BigEndian.AppendUint32(buf, asn)
	}
	return xxhash.Sum64(buf)
}
