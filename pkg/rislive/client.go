// Package rislive provides a WebSocket client for the RIPE RIS Live BGP stream.
// Captured updates are handed to the replay pipeline through a channel.
package rislive

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hervehildenbrand/bgp-replay/pkg/models"
	"github.com/pkg/errors"
)

const (
	// RISLiveURL is the WebSocket endpoint for RIS Live.
	RISLiveURL = "wss://ris-live.ripe.net/v1/ws/"

	// Connection settings
	initialReconnectDelay = 5 * time.Second
	maxReconnectDelay     = 5 * time.Minute
	reconnectBackoff      = 2.0
	pingInterval          = 30 * time.Second
	connectionTimeout     = 60 * time.Second
	writeTimeout          = 10 * time.Second
)

// Client is a WebSocket client for RIS Live with automatic reconnection.
type Client struct {
	// URL defaults to RISLiveURL.
	URL string

	collector string
	updates   chan<- models.Update
	done      chan struct{}
	wg        sync.WaitGroup
	logger    *slog.Logger

	// Stats
	messagesReceived atomic.Uint64
	updatesParsed    atomic.Uint64
	errors           atomic.Uint64
	reconnects       atomic.Uint64

	// State
	running   atomic.Bool
	connected atomic.Bool
}

// NewClient creates a new RIS Live client for a specific collector.
func NewClient(collector string, updates chan<- models.Update, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		URL:       RISLiveURL,
		collector: collector,
		updates:   updates,
		done:      make(chan struct{}),
		logger:    logger.With("component", "rislive", "collector", collector),
	}
}

// Start begins the WebSocket connection in a goroutine.
func (c *Client) Start() {
	if c.running.Swap(true) {
		c.logger.Warn("client already running")
		return
	}

	c.wg.Add(1)
	go c.runLoop()
	c.logger.Info("client started")
}

// Stop shuts down the client and waits for its goroutines. No update is
// sent after Stop returns.
func (c *Client) Stop() {
	if !c.running.Swap(false) {
		return
	}
	close(c.done)
	c.wg.Wait()
	c.logger.Info("client stopped")
}

// Stats returns current statistics.
func (c *Client) Stats() map[string]interface{} {
	return map[string]interface{}{
		"collector":         c.collector,
		"connected":         c.connected.Load(),
		"messages_received": c.messagesReceived.Load(),
		"updates_parsed":    c.updatesParsed.Load(),
		"errors":            c.errors.Load(),
		"reconnects":        c.reconnects.Load(),
	}
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	reconnectDelay := initialReconnectDelay

	for c.running.Load() {
		err := c.connectAndStream()
		if err != nil {
			c.errors.Add(1)
			c.reconnects.Add(1)
			c.logger.Warn("connection error, reconnecting", "error", err, "delay", reconnectDelay)
		}

		// Check if we should stop
		select {
		case <-c.done:
			return
		case <-time.After(reconnectDelay):
			reconnectDelay = time.Duration(float64(reconnectDelay) * reconnectBackoff)
			if reconnectDelay > maxReconnectDelay {
				reconnectDelay = maxReconnectDelay
			}
		}
	}
}

func (c *Client) connectAndStream() error {
	dialer := websocket.Dialer{
		HandshakeTimeout: connectionTimeout,
	}

	c.logger.Info("connecting to RIS Live", "url", c.URL)
	conn, _, err := dialer.Dial(c.URL, nil)
	if err != nil {
		return errors.Wrap(err, "dial failed")
	}
	defer conn.Close()

	subscribeMsg := map[string]interface{}{
		"type": "ris_subscribe",
		"data": map[string]interface{}{
			"type": "UPDATE",
			"host": c.collector,
		},
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(subscribeMsg); err != nil {
		return errors.Wrap(err, "subscribe failed")
	}

	c.connected.Store(true)
	defer c.connected.Store(false)
	c.logger.Info("connected and subscribed")

	pingDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingDone:
				return
			case <-c.done:
				// Close connection to unblock ReadMessage
				conn.Close()
				return
			}
		}
	}()
	defer close(pingDone)

	for c.running.Load() {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if !c.running.Load() {
				return nil
			}
			return errors.Wrap(err, "read failed")
		}

		if messageType != websocket.TextMessage {
			continue
		}

		received := c.messagesReceived.Add(1)
		if received <= 3 {
			msgLen := min(len(message), 200)
			c.logger.Debug("raw message", "message", string(message[:msgLen]))
		}

		updates, err := ParseMessage(message, c.collector)
		if err != nil {
			if received <= 10 {
				c.logger.Warn("parse error", "error", err)
			}
			continue
		}

		for _, update := range updates {
			select {
			case c.updates <- update:
				c.updatesParsed.Add(1)
			case <-c.done:
				return nil
			}
		}
	}

	return nil
}

// MultiClient manages multiple RIS Live clients feeding one channel.
type MultiClient struct {
	clients []*Client
	updates chan models.Update
	running atomic.Bool
	logger  *slog.Logger
}

// NewMultiClient creates a client that connects to multiple collectors.
func NewMultiClient(collectors []string, bufferSize int, logger *slog.Logger) *MultiClient {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	updates := make(chan models.Update, bufferSize)
	clients := make([]*Client, len(collectors))

	for i, collector := range collectors {
		clients[i] = NewClient(collector, updates, logger)
	}

	return &MultiClient{
		clients: clients,
		updates: updates,
		logger:  logger.With("component", "rislive"),
	}
}

// SetURL points every client at url.
func (mc *MultiClient) SetURL(url string) {
	for _, client := range mc.clients {
		client.URL = url
	}
}

// Updates returns the channel of BGP updates. It is closed by Stop.
func (mc *MultiClient) Updates() <-chan models.Update {
	return mc.updates
}

// Start begins all collector clients.
func (mc *MultiClient) Start() {
	if mc.running.Swap(true) {
		return
	}
	for _, client := range mc.clients {
		client.Start()
	}
	mc.logger.Info("multi client started", "collectors", len(mc.clients))
}

// Stop gracefully shuts down all clients.
func (mc *MultiClient) Stop() {
	if !mc.running.Swap(false) {
		return
	}
	for _, client := range mc.clients {
		client.Stop()
	}
	close(mc.updates)
	mc.logger.Info("multi client stopped")
}

// Stats returns aggregated statistics from all clients.
func (mc *MultiClient) Stats() map[string]interface{} {
	var totalMessages, totalUpdates, totalErrors, totalReconnects uint64
	clientStats := make([]map[string]interface{}, len(mc.clients))

	for i, client := range mc.clients {
		stats := client.Stats()
		clientStats[i] = stats
		totalMessages += stats["messages_received"].(uint64)
		totalUpdates += stats["updates_parsed"].(uint64)
		totalErrors += stats["errors"].(uint64)
		totalReconnects += stats["reconnects"].(uint64)
	}

	return map[string]interface{}{
		"running":          mc.running.Load(),
		"collectors":       clientStats,
		"total_messages":   totalMessages,
		"total_updates":    totalUpdates,
		"total_errors":     totalErrors,
		"total_reconnects": totalReconnects,
		"channel_len":      len(mc.updates),
		"channel_cap":      cap(mc.updates),
	}
}
