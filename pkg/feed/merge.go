package feed

import (
	"container/heap"
	"context"

	"github.com/hervehildenbrand/bgp-replay/pkg/models"
)

type head struct {
	update models.Update
	source int
}

// heads orders pending records by timestamp, then by source index.
type heads []head

func (h heads) Len() int { return len(h) }
func (h heads) Less(i, j int) bool {
	if h[i].update.Timestamp != h[j].update.Timestamp {
		return h[i].update.Timestamp < h[j].update.Timestamp
	}
	return h[i].source < h[j].source
}
func (h heads) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *heads) Push(x any)   { *h = append(*h, x.(head)) }
func (h *heads) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// MergedFeed interleaves several feeds by timestamp. Records with equal
// timestamps come out in source order; each source keeps its own order.
// The merged feed ends once every source has ended.
type MergedFeed struct {
	sources []Feed
	pending heads
	primed  bool
}

// Merge combines feeds, typically one dump per collector.
func Merge(sources ...Feed) *MergedFeed {
	return &MergedFeed{sources: sources}
}

func (m *MergedFeed) prime(ctx context.Context) error {
	m.pending = m.pending[:0]
	for i, src := range m.sources {
		u, err := src.Next(ctx)
		if err != nil {
			return err
		}
		if !u.IsEndOfStream() {
			m.pending = append(m.pending, head{update: u, source: i})
		}
	}
	heap.Init(&m.pending)
	m.primed = true
	return nil
}

func (m *MergedFeed) Next(ctx context.Context) (models.Update, error) {
	if !m.primed {
		if err := m.prime(ctx); err != nil {
			return models.Update{}, err
		}
	}
	if m.pending.Len() == 0 {
		return models.EndOfStream(), nil
	}

	h := heap.Pop(&m.pending).(head)
	next, err := m.sources[h.source].Next(ctx)
	if err != nil {
		heap.Push(&m.pending, h)
		return models.Update{}, err
	}
	if !next.IsEndOfStream() {
		heap.Push(&m.pending, head{update: next, source: h.source})
	}
	return h.update, nil
}

// Reset rewinds every source.
func (m *MergedFeed) Reset() error {
	for _, src := range m.sources {
		if err := src.Reset(); err != nil {
			return err
		}
	}
	m.pending = m.pending[:0]
	m.primed = false
	return nil
}
