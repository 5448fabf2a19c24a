// Package mesh implements the overlay transport: gossip with
// deduplication and bounded fan-out, a Kademlia-style DHT, and heartbeat
// RTT tracking over newline-delimited JSON TCP frames (spec.md §4.3-4.4).
package mesh

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/qqliaoxin/openclaw-mesh/pkg/errs"
	"github.com/qqliaoxin/openclaw-mesh/pkg/logging"
	"github.com/qqliaoxin/openclaw-mesh/pkg/metrics"
	"github.com/qqliaoxin/openclaw-mesh/pkg/util"
)

// Node is the per-process mesh endpoint: one TCP listener, one connection
// actor per peer, gossip dedup/fan-out state and DHT state.
type Node struct {
	nodeID         string
	port           uint16
	bootstrapNodes []string
	dhtConfig      DHTConfig

	mu    sync.Mutex
	peers map[string]*peerHandle

	seen         *seenSet
	pendingPings *pendingPingTable
	dht          *dhtTable
	dhtWaiters   *dhtWaiterTable
	dhtRoutes    *routeTable

	inbound chan InboundMessage

	log       *logging.Logger
	listener  net.Listener
	localPort uint16

	stop chan struct{}
}

// New constructs a Node. Call Start to bind and begin accepting.
func New(nodeID string, port uint16, bootstrapNodes []string, dhtConfig DHTConfig) *Node {
	return &Node{
		nodeID:         nodeID,
		port:           port,
		bootstrapNodes: bootstrapNodes,
		dhtConfig:      dhtConfig,
		peers:          map[string]*peerHandle{},
		seen:           newSeenSet(),
		pendingPings:   newPendingPingTable(),
		dht:            newDHTTable(),
		dhtWaiters:     newDHTWaiterTable(),
		dhtRoutes:      newRouteTable(),
		inbound:        make(chan InboundMessage, 4096),
		log:            logging.GetDefault().Component("mesh"),
		stop:           make(chan struct{}),
	}
}

// Inbound returns the channel the dispatcher reads decoded messages from.
func (n *Node) Inbound() <-chan InboundMessage { return n.inbound }

// Peers returns the ids of currently connected peers.
func (n *Node) Peers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]string, 0, len(n.peers))
	for id := range n.peers {
		ids = append(ids, id)
	}
	return ids
}

// NodeID returns this node's advertised id.
func (n *Node) NodeID() string { return n.nodeID }

// Start binds the listener, begins accepting connections, dials every
// bootstrap peer, and starts the heartbeat loop. Returns the bound port.
func (n *Node) Start() (uint16, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", n.port))
	if err != nil {
		return 0, errs.Wrap(errs.Transport, err, "bind mesh listener")
	}
	n.listener = listener
	localAddr := listener.Addr().(*net.TCPAddr)
	n.localPort = uint16(localAddr.Port)

	go n.acceptLoop()
	for _, addr := range n.bootstrapNodes {
		go n.dial(addr)
	}
	go n.heartbeatLoop()
	return n.localPort, nil
}

// Stop closes the listener; existing connections wind down on their own.
func (n *Node) Stop() {
	close(n.stop)
	if n.listener != nil {
		_ = n.listener.Close()
	}
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stop:
				return
			default:
				n.log.Warnf("accept failed: %v", err)
				return
			}
		}
		go n.handleConnection(conn, conn.RemoteAddr().String(), false)
	}
}

func (n *Node) dial(addr string) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		n.log.Warnf("dial %s failed: %v", addr, err)
		return
	}
	n.handleConnection(conn, addr, true)
}

// handleConnection owns one TCP connection end to end: registers the peer
// handle, exchanges handshakes, and runs the read loop until EOF or error.
func (n *Node) handleConnection(conn net.Conn, remoteKey string, dialed bool) {
	handle := newPeerHandle(conn, remoteKey)
	n.mu.Lock()
	n.peers[remoteKey] = handle
	n.mu.Unlock()
	metrics.ActivePeers.Inc()

	go handle.runWriter()

	n.sendHandshake(handle)

	reader := bufio.NewReader(conn)
	currentPeerID := remoteKey
	repliedOnce := false

	defer func() {
		n.mu.Lock()
		if existing, ok := n.peers[currentPeerID]; ok && existing == handle {
			delete(n.peers, currentPeerID)
		}
		n.mu.Unlock()
		metrics.ActivePeers.Dec()
		handle.close()
	}()

	for {
		line, err := reader.ReadString('\n')
		if line == "" && err != nil {
			return
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			if err != nil {
				return
			}
			continue
		}
		var msg WireMessage
		if jsonErr := json.Unmarshal([]byte(trimmed), &msg); jsonErr != nil {
			if err != nil {
				return
			}
			continue // malformed frames are skipped silently (spec.md §7)
		}

		if msg.Type == "handshake" && msg.NodeID != "" {
			currentPeerID = n.rekeyPeer(remoteKey, currentPeerID, msg.NodeID, handle)
			if dialed && !repliedOnce {
				n.sendHandshake(handle)
				repliedOnce = true
			}
		}

		if !n.shouldProcess(msg) {
			if err != nil {
				return
			}
			continue
		}

		n.handleMessage(currentPeerID, handle, msg)

		if err != nil {
			return
		}
	}
}

func (n *Node) sendHandshake(handle *peerHandle) {
	msg := WireMessage{
		Type:      "handshake",
		Payload:   json.RawMessage("{}"),
		NodeID:    n.nodeID,
		Port:      u16Ptr(n.localPort),
		Timestamp: i64Ptr(util.NowMillis()),
	}
	n.writeTo(handle, msg)
}

func (n *Node) rekeyPeer(remoteKey, currentKey, newID string, handle *peerHandle) string {
	if currentKey == newID {
		return currentKey
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if existing, ok := n.peers[currentKey]; ok && existing == handle {
		delete(n.peers, currentKey)
	}
	n.peers[newID] = handle
	return newID
}

// shouldProcess applies the dedup+hops-left gate shared by every inbound
// message (spec.md §4.3, §8 invariant 4).
func (n *Node) shouldProcess(msg WireMessage) bool {
	if msg.MessageID == "" {
		return true
	}
	if !n.seen.markSeen(msg.MessageID) {
		metrics.MessagesDropped.WithLabelValues("duplicate").Inc()
		return false
	}
	hops := defaultHops
	if msg.HopsLeft != nil {
		hops = *msg.HopsLeft
	}
	if hops < 0 {
		metrics.MessagesDropped.WithLabelValues("negative_hops").Inc()
		return false
	}
	return true
}

func (n *Node) handleMessage(peerID string, handle *peerHandle, msg WireMessage) {
	switch msg.Type {
	case "handshake":
		return
	case "ping":
		pong := WireMessage{Type: "pong", Payload: json.RawMessage("{}"), MessageID: msg.MessageID, Timestamp: i64Ptr(util.NowMillis())}
		n.writeTo(handle, pong)
		return
	case "pong":
		n.handlePong(msg)
		return
	case "query_response":
		// Handed to the inbound channel without relaying. The dispatcher
		// has no handler for query_response, so nothing correlates it.
		n.deliverInbound(peerID, msg)
		return
	case "dht_store":
		n.handleDHTStore(msg)
		return
	case "dht_find":
		n.handleDHTFind(peerID, msg)
		return
	case "dht_value":
		n.handleDHTValue(msg)
		return
	}

	n.deliverInbound(peerID, msg)

	if shouldRelayMessage(msg.Type) {
		n.relay(peerID, msg)
	}
}

func (n *Node) handlePong(msg WireMessage) {
	if msg.MessageID == "" {
		return
	}
	pending, ok := n.pendingPings.takeAndSweep(msg.MessageID, util.NowMillis())
	if !ok {
		return
	}
	rtt := util.NowMillis() - pending.sentAt
	n.mu.Lock()
	handle, ok := n.peers[pending.peerID]
	n.mu.Unlock()
	if ok {
		handle.setRTT(rtt)
	}
}

func (n *Node) handleDHTStore(msg WireMessage) {
	var payload struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if json.Unmarshal(msg.Payload, &payload) != nil || payload.Key == "" {
		return
	}
	n.dht.put(payload.Key, payload.Value)
}

func (n *Node) handleDHTFind(peerID string, msg WireMessage) {
	var payload struct {
		Key string `json:"key"`
	}
	if json.Unmarshal(msg.Payload, &payload) != nil || payload.Key == "" {
		return
	}
	if msg.RequestID != "" {
		n.dhtRoutes.record(msg.RequestID, peerID)
		if value, ok := n.dht.get(payload.Key); ok {
			respPayload, _ := json.Marshal(map[string]interface{}{"key": payload.Key, "value": value})
			resp := WireMessage{Type: "dht_value", Payload: respPayload, RequestID: msg.RequestID, Timestamp: i64Ptr(util.NowMillis())}
			n.sendToPeerLocked(peerID, resp)
			return
		}
	}
	hops := n.dhtConfig.MaxHops
	if msg.HopsLeft != nil {
		hops = *msg.HopsLeft
	}
	if hops <= 0 {
		return
	}
	relayed := msg
	relayed.HopsLeft = intPtr(hops - 1)
	peers := n.selectClosestPeers(payload.Key, maxInt(n.dhtConfig.Alpha, 1), peerID)
	for _, p := range peers {
		n.sendToPeerLocked(p, relayed)
	}
}

func (n *Node) handleDHTValue(msg WireMessage) {
	if msg.RequestID == "" {
		return
	}
	var payload struct {
		Value json.RawMessage `json:"value"`
	}
	_ = json.Unmarshal(msg.Payload, &payload)
	if n.dhtWaiters.resolve(msg.RequestID, payload.Value) {
		return
	}
	if predecessor, ok := n.dhtRoutes.takeIfPresent(msg.RequestID); ok {
		n.sendToPeerLocked(predecessor, msg)
	}
}

func (n *Node) deliverInbound(peerID string, msg WireMessage) {
	select {
	case n.inbound <- InboundMessage{PeerID: peerID, Message: msg}:
	default:
		metrics.MessagesDropped.WithLabelValues("inbound_queue_full").Inc()
		n.log.Warnf("inbound queue full, dropping message type=%s", msg.Type)
	}
}

func (n *Node) relay(senderID string, msg WireMessage) {
	hops := hopsLeftFor(msg.Type)
	if msg.HopsLeft != nil {
		hops = *msg.HopsLeft
	}
	next := hops - 1
	if next < 0 {
		return
	}
	relayed := msg
	relayed.HopsLeft = intPtr(next)
	fanout := fanoutFor(relayed.Type)
	for _, peerID := range n.selectPeers(fanout, senderID) {
		n.sendToPeerLocked(peerID, relayed)
	}
	metrics.MessagesRelayed.WithLabelValues(relayed.Type).Inc()
}

// BroadcastCapsule broadcasts a capsule with the default fan-out class.
func (n *Node) BroadcastCapsule(payload json.RawMessage) (string, error) {
	return n.Broadcast(WireMessage{Type: "capsule", Payload: payload}, "")
}

// BroadcastTask broadcasts a task-class message using the task fan-out.
func (n *Node) BroadcastTask(messageType string, payload json.RawMessage) (string, error) {
	return n.Broadcast(WireMessage{Type: messageType, Payload: payload}, "")
}

// Broadcast assigns a message_id and hops_left if unset, marks it seen
// locally, and sends to the selected peers for its fan-out class.
func (n *Node) Broadcast(msg WireMessage, excludePeer string) (string, error) {
	if msg.MessageID == "" {
		msg.MessageID = util.RandomToken(12)
	}
	if msg.HopsLeft == nil {
		msg.HopsLeft = intPtr(hopsLeftFor(msg.Type))
	}
	if msg.Timestamp == nil {
		msg.Timestamp = i64Ptr(util.NowMillis())
	}
	n.seen.markSeen(msg.MessageID)
	fanout := fanoutFor(msg.Type)
	for _, peerID := range n.selectPeers(fanout, excludePeer) {
		n.sendToPeerLocked(peerID, msg)
	}
	return msg.MessageID, nil
}

// SendToPeer sends msg directly to one peer, bypassing fan-out selection
// (used for query_response and other direct replies).
func (n *Node) SendToPeer(peerID string, msg WireMessage) error {
	n.sendToPeerLocked(peerID, msg)
	return nil
}

func (n *Node) sendToPeerLocked(peerID string, msg WireMessage) {
	n.mu.Lock()
	handle, ok := n.peers[peerID]
	n.mu.Unlock()
	if !ok {
		return
	}
	n.writeTo(handle, msg)
}

func (n *Node) sendToPeer(peerID string, msg WireMessage) error {
	n.sendToPeerLocked(peerID, msg)
	return nil
}

func (n *Node) writeTo(handle *peerHandle, msg WireMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if !handle.enqueue(data) {
		n.mu.Lock()
		for id, h := range n.peers {
			if h == handle {
				delete(n.peers, id)
				break
			}
		}
		n.mu.Unlock()
	}
}

// selectPeers partitions connected peers into known-RTT (sorted ascending)
// and unknown-RTT (shuffled), concatenates, and returns the first fanout.
func (n *Node) selectPeers(fanout int, exclude string) []string {
	n.mu.Lock()
	type rttPeer struct {
		id  string
		rtt int64
	}
	var known []rttPeer
	var unknown []string
	for id, h := range n.peers {
		if id == exclude {
			continue
		}
		if rtt, ok := h.knownRTT(); ok {
			known = append(known, rttPeer{id: id, rtt: rtt})
		} else {
			unknown = append(unknown, id)
		}
	}
	n.mu.Unlock()

	sort.Slice(known, func(i, j int) bool { return known[i].rtt < known[j].rtt })
	util.ShuffleStrings(unknown)

	ordered := make([]string, 0, len(known)+len(unknown))
	for _, k := range known {
		ordered = append(ordered, k.id)
	}
	ordered = append(ordered, unknown...)

	if fanout == 0 || fanout >= len(ordered) {
		return ordered
	}
	return ordered[:fanout]
}

// selectClosestPeers returns up to count DHT-participating peers (ids
// prefixed "node_") closest to key by XOR distance.
func (n *Node) selectClosestPeers(key string, count int, exclude string) []string {
	n.mu.Lock()
	ids := make([]string, 0, len(n.peers))
	for id := range n.peers {
		if id == exclude || !strings.HasPrefix(id, "node_") {
			continue
		}
		ids = append(ids, id)
	}
	n.mu.Unlock()

	keyHash := util.HashToU64(key)
	sort.Slice(ids, func(i, j int) bool {
		return (util.HashToU64(ids[i]) ^ keyHash) < (util.HashToU64(ids[j]) ^ keyHash)
	})
	if count >= len(ids) {
		return ids
	}
	return ids[:count]
}

func (n *Node) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatPeriod * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			n.sendHeartbeats()
		}
	}
}

func (n *Node) sendHeartbeats() {
	now := util.NowMillis()
	n.mu.Lock()
	ids := make([]string, 0, len(n.peers))
	for id := range n.peers {
		ids = append(ids, id)
	}
	n.mu.Unlock()

	for _, peerID := range ids {
		pingID := util.RandomToken(12)
		n.pendingPings.add(pingID, peerID, now)
		msg := WireMessage{Type: "ping", Payload: json.RawMessage("{}"), MessageID: pingID, Timestamp: i64Ptr(now)}
		n.sendToPeerLocked(peerID, msg)
	}
}
