// Package feed produces ordered streams of decoded update records for replay.
//
// Every feed ends with the end-of-stream sentinel (models.EndOfStream) and
// keeps returning it once exhausted.
package feed

import (
	"context"

	"github.com/hervehildenbrand/bgp-replay/pkg/models"
	"github.com/pkg/errors"
)

// ErrNotRestartable is returned by Reset on live feeds.
var ErrNotRestartable = errors.New("feed cannot be restarted")

// Feed is a source of decoded update records.
type Feed interface {
	// Next returns the next record, or the sentinel when exhausted.
	Next(ctx context.Context) (models.Update, error)
	// Reset rewinds the feed to its first record.
	Reset() error
}

// SliceFeed replays records held in memory.
type SliceFeed struct {
	updates []models.Update
	pos     int
}

// NewSliceFeed creates a feed over updates. A sentinel inside updates ends
// the feed early.
func NewSliceFeed(updates ...models.Update) *SliceFeed {
	return &SliceFeed{updates: updates}
}

func (f *SliceFeed) Next(ctx context.Context) (models.Update, error) {
	if err := ctx.Err(); err != nil {
		return models.Update{}, err
	}
	if f.pos >= len(f.updates) {
		return models.EndOfStream(), nil
	}
	u := f.updates[f.pos]
	f.pos++
	if u.IsEndOfStream() {
		f.pos = len(f.updates)
	}
	return u, nil
}

func (f *SliceFeed) Reset() error {
	f.pos = 0
	return nil
}

// ChannelFeed adapts a channel of live updates. A closed channel ends the feed.
type ChannelFeed struct {
	ch   <-chan models.Update
	done bool
}

// NewChannelFeed creates a feed reading from ch.
func NewChannelFeed(ch <-chan models.Update) *ChannelFeed {
	return &ChannelFeed{ch: ch}
}

func (f *ChannelFeed) Next(ctx context.Context) (models.Update, error) {
	if f.done {
		return models.EndOfStream(), nil
	}
	select {
	case <-ctx.Done():
		return models.Update{}, ctx.Err()
	case u, ok := <-f.ch:
		if !ok || u.IsEndOfStream() {
			f.done = true
			return models.EndOfStream(), nil
		}
		return u, nil
	}
}

func (f *ChannelFeed) Reset() error {
	return ErrNotRestartable
}

// Drain reads f until the sentinel and returns every record before it.
func Drain(ctx context.Context, f Feed) ([]models.Update, error) {
	var out []models.Update
	for {
		u, err := f.Next(ctx)
		if err != nil {
			return out, err
		}
		if u.IsEndOfStream() {
			return out, nil
		}
		out = append(out, u)
	}
}
