package rislive

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hervehildenbrand/bgp-replay/pkg/models"
)

// newRISServer serves a fake RIS Live endpoint that answers every
// subscription with the given messages.
func newRISServer(t *testing.T, messages ...string) (*httptest.Server, chan map[string]interface{}) {
	t.Helper()
	subscriptions := make(chan map[string]interface{}, 4)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub map[string]interface{}
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscriptions <- sub

		for _, msg := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// Hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, subscriptions
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestMultiClient_StreamsUpdates(t *testing.T) {
	srv, subscriptions := newRISServer(t,
		`{"type":"ris_message","data":{"timestamp":100.5,"peer_asn":6939,"path":[6939,15169],"announcements":[{"next_hop":"192.0.2.1","prefixes":["8.8.8.0/24"]}]}}`,
		`{"type":"ris_rrc_list","data":["rrc00"]}`,
		`{"type":"ris_message","data":{"timestamp":101,"peer_asn":6939,"withdrawals":["8.8.8.0/24"]}}`,
	)

	mc := NewMultiClient([]string{"rrc00"}, 16, nil)
	mc.SetURL(wsURL(srv))
	mc.Start()

	select {
	case sub := <-subscriptions:
		data, _ := sub["data"].(map[string]interface{})
		if sub["type"] != "ris_subscribe" || data["host"] != "rrc00" {
			t.Errorf("subscription = %v", sub)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for subscription")
	}

	var got []models.Update
	for len(got) < 2 {
		select {
		case u := <-mc.Updates():
			got = append(got, u)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d updates", len(got))
		}
	}

	if got[0].Kind != models.KindAnnouncement || got[0].Timestamp != 100 || got[0].Collector != "rrc00" {
		t.Errorf("first update = %+v", got[0])
	}
	if got[1].Kind != models.KindWithdrawal || got[1].Range.String() != "8.8.8.0/24" {
		t.Errorf("second update = %+v", got[1])
	}

	mc.Stop()
	if _, ok := <-mc.Updates(); ok {
		t.Error("Expected updates channel to be closed after Stop")
	}

	stats := mc.Stats()
	if stats["total_updates"].(uint64) != 2 {
		t.Errorf("total_updates = %v, want 2", stats["total_updates"])
	}
	if stats["total_messages"].(uint64) != 3 {
		t.Errorf("total_messages = %v, want 3", stats["total_messages"])
	}
}

func TestClient_StopWithoutStart(t *testing.T) {
	c := NewClient("rrc00", make(chan models.Update), nil)
	c.Stop()
	if c.Stats()["connected"].(bool) {
		t.Error("Expected client to be disconnected")
	}
}
