// Package events fans detector events out to logs, Redis and PostgreSQL.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/hervehildenbrand/bgp-replay/pkg/models"
)

// Sink receives events. Implementations must not block the replay loop.
type Sink interface {
	Emit(event models.BGPEvent)
}

// Encode renders an event as the JSON document used by every sink.
func Encode(event models.BGPEvent) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"type":            event.EventType,
		"severity":        event.Severity,
		"category":        event.EventCategory,
		"affected_asn":    event.AffectedASN,
		"affected_org":    event.AffectedOrg,
		"affected_prefix": event.AffectedPrefix,
		"detected_at":     event.DetectedAt.UTC().Format(time.RFC3339),
		"details":         event.Details,
	})
}

// LogSink writes each event as an "EVENT:" JSON log line.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink logging through logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(event models.BGPEvent) {
	payload, err := Encode(event)
	if err != nil {
		s.logger.Error("failed to encode event", "type", event.EventType, "error", err)
		return
	}
	s.logger.Info("EVENT: " + string(payload))
}

// Fanout delivers every event to all of its sinks in order.
type Fanout []Sink

func (f Fanout) Emit(event models.BGPEvent) {
	for _, s := range f {
		s.Emit(event)
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []models.BGPEvent
}

func (r *Recorder) Emit(event models.BGPEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []models.BGPEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.BGPEvent(nil), r.events...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(models.BGPEvent) {}
