package rislive

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/hervehildenbrand/bgp-replay/pkg/models"
	"github.com/pkg/errors"
)

// RISMessage is the top-level message from RIS Live.
type RISMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// RISUpdateData is the BGP update data from RIS Live.
type RISUpdateData struct {
	Timestamp     float64           `json:"timestamp"`
	PeerASN       json.RawMessage   `json:"peer_asn"` // Can be string or number
	Path          json.RawMessage   `json:"path"`
	Announcements []RISAnnouncement `json:"announcements"`
	Withdrawals   []string          `json:"withdrawals"`
}

// RISAnnouncement represents prefixes announced through one next hop.
type RISAnnouncement struct {
	NextHop  string   `json:"next_hop"`
	Prefixes []string `json:"prefixes"`
}

// ParseMessage parses a RIS Live WebSocket message into update records, one
// per announced or withdrawn IPv4 prefix. Returns nil if the message is not a
// BGP update (e.g., error, rrc_list).
func ParseMessage(data []byte, collector string) ([]models.Update, error) {
	var msg RISMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.Wrap(err, "unmarshal message")
	}

	// Only process ris_message type
	if msg.Type != "ris_message" {
		return nil, nil
	}

	var updateData RISUpdateData
	if err := json.Unmarshal(msg.Data, &updateData); err != nil {
		return nil, errors.Wrap(err, "unmarshal update data")
	}

	peerASN := parseASN(updateData.PeerASN)

	// Parse AS path (may contain nested arrays for AS_SET)
	asPath, err := parseASPath(updateData.Path)
	if err != nil {
		return nil, errors.Wrap(err, "parse AS path")
	}

	// Feed time has whole-second resolution
	timestamp := uint64(updateData.Timestamp)

	var updates []models.Update
	for _, ann := range updateData.Announcements {
		for _, prefix := range ann.Prefixes {
			if isIPv6(prefix) {
				continue
			}
			updates = append(updates, models.Update{
				Timestamp: timestamp,
				Kind:      models.KindAnnouncement,
				PeerASN:   peerASN,
				NextHop:   ann.NextHop,
				ASPath:    asPath,
				Range:     parseRange(prefix),
				Collector: collector,
			})
		}
	}

	for _, prefix := range updateData.Withdrawals {
		if isIPv6(prefix) {
			continue
		}
		updates = append(updates, models.Update{
			Timestamp: timestamp,
			Kind:      models.KindWithdrawal,
			PeerASN:   peerASN,
			Range:     parseRange(prefix),
			Collector: collector,
		})
	}

	return updates, nil
}

func isIPv6(prefix string) bool {
	return strings.Contains(prefix, ":")
}

// parseRange splits CIDR notation. A missing or unparseable length becomes
// -1 so the record is rejected downstream rather than dropped here.
func parseRange(prefix string) models.Range {
	addr, bits, ok := strings.Cut(prefix, "/")
	if !ok {
		return models.Range{Prefix: addr, PrefixLength: -1}
	}
	length, err := strconv.Atoi(bits)
	if err != nil {
		length = -1
	}
	return models.Range{Prefix: addr, PrefixLength: length}
}

// parseASN parses an ASN that can be either a string or number.
func parseASN(data json.RawMessage) uint32 {
	if len(data) == 0 {
		return 0
	}

	// Try as number first
	var num uint32
	if err := json.Unmarshal(data, &num); err == nil {
		return num
	}

	// Try as string
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		val, _ := strconv.ParseUint(str, 10, 32)
		return uint32(val)
	}

	return 0
}

// parseASPath flattens the AS path which may contain nested arrays (AS_SET).
// Input can be: [174, 3356, 65001] or [[174], [3356, 65001], 65002]
func parseASPath(data json.RawMessage) ([]uint32, error) {
	if len(data) == 0 {
		return nil, nil
	}

	// Try parsing as simple array of numbers first
	var simpleArray []uint32
	if err := json.Unmarshal(data, &simpleArray); err == nil {
		return simpleArray, nil
	}

	// Try parsing as mixed array (may contain nested arrays)
	var mixedArray []json.RawMessage
	if err := json.Unmarshal(data, &mixedArray); err != nil {
		return nil, errors.Wrap(err, "cannot parse path")
	}

	var result []uint32
	for _, elem := range mixedArray {
		var num uint32
		if err := json.Unmarshal(elem, &num); err == nil {
			result = append(result, num)
			continue
		}

		// AS_SET
		var nums []uint32
		if err := json.Unmarshal(elem, &nums); err == nil {
			result = append(result, nums...)
			continue
		}
	}

	return result, nil
}
