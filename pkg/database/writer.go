package database

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hervehildenbrand/bgp-replay/pkg/models"
	_ "github.com/lib/pq"
)

const (
	batchSize     = 50
	batchInterval = 2 * time.Second
	queueSize     = 10000
)

// EventWriter handles batch writing of replay events to PostgreSQL.
type EventWriter struct {
	db      *sql.DB
	queue   chan models.BGPEvent
	done    chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
	logger  *slog.Logger

	// Stats
	eventsWritten  atomic.Uint64
	eventsDropped  atomic.Uint64
	batchesWritten atomic.Uint64
}

// NewEventWriter connects to databaseURL and prepares a writer.
func NewEventWriter(databaseURL string, logger *slog.Logger) (*EventWriter, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return newEventWriter(db, logger), nil
}

func newEventWriter(db *sql.DB, logger *slog.Logger) *EventWriter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &EventWriter{
		db:     db,
		queue:  make(chan models.BGPEvent, queueSize),
		done:   make(chan struct{}),
		logger: logger.With("component", "event_writer"),
	}
}

// Start begins the background writer goroutine.
func (w *EventWriter) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.writerLoop()
	w.logger.Info("database event writer started")
}

// Stop gracefully shuts down the writer, flushing remaining events.
func (w *EventWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()
	w.db.Close()
	w.logger.Info("database event writer stopped",
		"written", w.eventsWritten.Load(), "dropped", w.eventsDropped.Load(), "batches", w.batchesWritten.Load())
}

// Emit queues an event for batch writing. Events are dropped when the queue
// is full.
func (w *EventWriter) Emit(event models.BGPEvent) {
	select {
	case w.queue <- event:
	default:
		if dropped := w.eventsDropped.Add(1); dropped%1000 == 1 {
			w.logger.Warn("event queue full, dropping events", "dropped", dropped)
		}
	}
}

// Stats returns writer statistics.
func (w *EventWriter) Stats() map[string]interface{} {
	return map[string]interface{}{
		"events_written":  w.eventsWritten.Load(),
		"events_dropped":  w.eventsDropped.Load(),
		"batches_written": w.batchesWritten.Load(),
		"queue_len":       len(w.queue),
		"queue_cap":       cap(w.queue),
	}
}

func (w *EventWriter) writerLoop() {
	defer w.wg.Done()

	batch := make([]models.BGPEvent, 0, batchSize)
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-w.queue:
			batch = append(batch, event)
			if len(batch) >= batchSize {
				w.writeBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.writeBatch(batch)
				batch = batch[:0]
			}

		case <-w.done:
			// Drain whatever is already queued
		drain:
			for {
				select {
				case event := <-w.queue:
					batch = append(batch, event)
					if len(batch) >= batchSize {
						w.writeBatch(batch)
						batch = batch[:0]
					}
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				w.writeBatch(batch)
			}
			return
		}
	}
}

func (w *EventWriter) writeBatch(batch []models.BGPEvent) {
	if len(batch) == 0 {
		return
	}

	tx, err := w.db.Begin()
	if err != nil {
		w.logger.Error("failed to begin transaction", "error", err)
		return
	}
	defer tx.Rollback()

	written := 0
	for _, event := range batch {
		if w.writeEvent(tx, event) {
			written++
		}
	}

	if err := tx.Commit(); err != nil {
		w.logger.Error("failed to commit batch", "error", err)
		return
	}

	w.eventsWritten.Add(uint64(written))
	w.batchesWritten.Add(1)
}

func (w *EventWriter) writeEvent(tx *sql.Tx, event models.BGPEvent) bool {
	// Repeated sightings of the same anomaly update the existing row
	var existingID int
	var existingSeverity string
	err := tx.QueryRow(`
		SELECT id, severity FROM bgp_events
		WHERE event_type = $1
		AND affected_asn = $2
		AND affected_prefix = $3
		AND is_active = true
		LIMIT 1
	`, event.EventType, event.AffectedASN, event.AffectedPrefix).Scan(&existingID, &existingSeverity)

	if err == nil {
		newSeverity := existingSeverity
		if severityRank(event.Severity) > severityRank(existingSeverity) {
			newSeverity = event.Severity
		}

		_, err = tx.Exec(`
			UPDATE bgp_events
			SET last_seen_at = $1, severity = $2
			WHERE id = $3
		`, event.DetectedAt, newSeverity, existingID)

		if err != nil {
			w.logger.Error("failed to update event", "id", existingID, "error", err)
			return false
		}
		return true
	}

	if err != sql.ErrNoRows {
		w.logger.Error("failed to check existing event", "error", err)
		return false
	}

	detailsJSON, err := json.Marshal(event.Details)
	if err != nil {
		detailsJSON = []byte("{}")
	}

	_, err = tx.Exec(`
		INSERT INTO bgp_events (
			event_type, severity, event_category,
			affected_asn, affected_org, affected_prefix, details,
			detected_at, last_seen_at, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		event.EventType,
		event.Severity,
		event.EventCategory,
		event.AffectedASN,
		event.AffectedOrg,
		event.AffectedPrefix,
		detailsJSON,
		event.DetectedAt,
		event.DetectedAt,
		event.IsActive,
	)

	if err != nil {
		w.logger.Error("failed to insert event", "error", err)
		return false
	}

	return true
}

// severityRank orders severities so repeated events only ever escalate.
func severityRank(severity string) int {
	switch severity {
	case models.SeverityLow:
		return 0
	case models.SeverityMedium:
		return 1
	case models.SeverityHigh:
		return 2
	case models.SeverityCritical:
		return 3
	default:
		return -1
	}
}
