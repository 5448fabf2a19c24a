package mesh

import "encoding/json"

// WireMessage is the single frame exchanged over the mesh, one per
// newline-delimited line of UTF-8 JSON (spec.md §4.3).
type WireMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	HopsLeft  *int            `json:"hops_left,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	NodeID    string          `json:"node_id,omitempty"`
	Port      *uint16         `json:"port,omitempty"`
	Timestamp *int64          `json:"timestamp,omitempty"`
}

// InboundMessage pairs a decoded WireMessage with the peer it arrived from.
type InboundMessage struct {
	PeerID  string
	Message WireMessage
}

// DHTConfig carries the k/alpha/max_hops parameters from process config
// (spec.md §6).
type DHTConfig struct {
	K       int
	Alpha   int
	MaxHops int
}

const (
	seenTTLMillis   = 300_000
	maxSeenMessages = 10_000
	defaultFanout   = 6
	taskFanout      = 8
	defaultHops     = 3
	taskHops        = 4
	pendingPingTTL  = 15_000
	heartbeatPeriod = 30_000
	dhtWaitTimeout  = 5_000
)

func isBroadcastClass(messageType string) bool {
	switch messageType {
	case "task", "task_bid", "task_assigned", "task_completed":
		return true
	default:
		return false
	}
}

func fanoutFor(messageType string) int {
	if isBroadcastClass(messageType) {
		return taskFanout
	}
	return defaultFanout
}

func hopsLeftFor(messageType string) int {
	if isBroadcastClass(messageType) {
		return taskHops
	}
	return defaultHops
}

// shouldRelayMessage reports whether messageType is ever broadcastable.
// handshake, ping, pong, query, query_response and any dht_* type are
// never relayed (spec.md §4.3).
func shouldRelayMessage(messageType string) bool {
	switch messageType {
	case "handshake", "ping", "pong", "query", "query_response":
		return false
	}
	if len(messageType) >= 4 && messageType[:4] == "dht_" {
		return false
	}
	return true
}

func intPtr(v int) *int        { return &v }
func u16Ptr(v uint16) *uint16  { return &v }
func i64Ptr(v int64) *int64    { return &v }
