package mesh

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qqliaoxin/openclaw-mesh/pkg/errs"
	"github.com/qqliaoxin/openclaw-mesh/pkg/util"
)

// dhtTable is the node's local view of the Kademlia-style key/value space
// (spec.md §4.4). Keys are arbitrary strings; distance is XOR over
// hash_to_u64.
type dhtTable struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

func newDHTTable() *dhtTable {
	return &dhtTable{data: map[string]json.RawMessage{}}
}

func (d *dhtTable) get(key string) (json.RawMessage, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.data[key]
	return v, ok
}

// put applies the DHT merge rule: array values union (preserving order of
// first appearance), anything else overwrites.
func (d *dhtTable) put(key string, value json.RawMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var newArr []json.RawMessage
	if json.Unmarshal(value, &newArr) != nil {
		d.data[key] = value
		return
	}
	existing, ok := d.data[key]
	if !ok {
		d.data[key] = value
		return
	}
	var existingArr []json.RawMessage
	if json.Unmarshal(existing, &existingArr) != nil {
		d.data[key] = value
		return
	}
	seen := map[string]struct{}{}
	for _, item := range existingArr {
		seen[string(item)] = struct{}{}
	}
	merged := append([]json.RawMessage{}, existingArr...)
	for _, item := range newArr {
		marker := string(item)
		if _, ok := seen[marker]; ok {
			continue
		}
		seen[marker] = struct{}{}
		merged = append(merged, item)
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return
	}
	d.data[key] = out
}

// routeEntry records the predecessor to forward a dht_value response to,
// with an expiry matching the originator's 5-second wait.
type routeEntry struct {
	predecessor string
	expiresAt   int64
}

type routeTable struct {
	mu      sync.Mutex
	entries map[string]routeEntry
}

func newRouteTable() *routeTable {
	return &routeTable{entries: map[string]routeEntry{}}
}

func (r *routeTable) record(requestID, predecessor string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	r.entries[requestID] = routeEntry{predecessor: predecessor, expiresAt: util.NowMillis() + dhtWaitTimeout}
}

func (r *routeTable) takeIfPresent(requestID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[requestID]
	if ok {
		delete(r.entries, requestID)
	}
	return e.predecessor, ok
}

func (r *routeTable) sweepLocked() {
	now := util.NowMillis()
	for id, e := range r.entries {
		if now > e.expiresAt {
			delete(r.entries, id)
		}
	}
}

// dhtWaiterTable holds one-shot channels for outstanding dht_find calls.
type dhtWaiterTable struct {
	mu      sync.Mutex
	waiters map[string]chan json.RawMessage
}

func newDHTWaiterTable() *dhtWaiterTable {
	return &dhtWaiterTable{waiters: map[string]chan json.RawMessage{}}
}

func (w *dhtWaiterTable) register(requestID string) chan json.RawMessage {
	ch := make(chan json.RawMessage, 1)
	w.mu.Lock()
	w.waiters[requestID] = ch
	w.mu.Unlock()
	return ch
}

func (w *dhtWaiterTable) resolve(requestID string, value json.RawMessage) bool {
	w.mu.Lock()
	ch, ok := w.waiters[requestID]
	if ok {
		delete(w.waiters, requestID)
	}
	w.mu.Unlock()
	if !ok {
		return false
	}
	ch <- value
	return true
}

func (w *dhtWaiterTable) forget(requestID string) {
	w.mu.Lock()
	delete(w.waiters, requestID)
	w.mu.Unlock()
}

// DHTStore writes key/value locally (merging array values) and forwards a
// dht_store message to the k closest peers by XOR distance.
func (n *Node) DHTStore(key string, value json.RawMessage) error {
	n.dht.put(key, value)
	payload, err := json.Marshal(map[string]interface{}{"key": key, "value": json.RawMessage(value)})
	if err != nil {
		return errs.Wrap(errs.Transport, err, "marshal dht_store payload")
	}
	peers := n.selectClosestPeers(key, maxInt(n.dhtConfig.K, 1), "")
	msg := WireMessage{Type: "dht_store", Payload: payload, Timestamp: i64Ptr(util.NowMillis())}
	for _, peerID := range peers {
		if peerID == n.nodeID {
			continue
		}
		_ = n.sendToPeer(peerID, msg)
	}
	return nil
}

// DHTFind returns the value for key, checking the local table first and
// otherwise querying the alpha closest peers with a 5-second timeout.
func (n *Node) DHTFind(ctx context.Context, key string) (json.RawMessage, error) {
	if v, ok := n.dht.get(key); ok {
		return v, nil
	}
	requestID := uuid.NewString()
	ch := n.dhtWaiters.register(requestID)
	defer n.dhtWaiters.forget(requestID)

	payload, err := json.Marshal(map[string]string{"key": key, "origin": n.nodeID})
	if err != nil {
		return nil, errs.Wrap(errs.Transport, err, "marshal dht_find payload")
	}
	hops := n.dhtConfig.MaxHops
	peers := n.selectClosestPeers(key, maxInt(n.dhtConfig.Alpha, 1), "")
	msg := WireMessage{
		Type:      "dht_find",
		Payload:   payload,
		RequestID: requestID,
		HopsLeft:  intPtr(hops),
		Timestamp: i64Ptr(util.NowMillis()),
	}
	for _, peerID := range peers {
		_ = n.sendToPeer(peerID, msg)
	}

	timer := time.NewTimer(dhtWaitTimeout * time.Millisecond)
	defer timer.Stop()
	select {
	case v := <-ch:
		return v, nil
	case <-timer.C:
		return nil, errs.New(errs.Timeout, "dht query timeout")
	case <-ctx.Done():
		return nil, errs.Wrap(errs.Timeout, ctx.Err(), "dht query cancelled")
	}
}

// QueryMemories tokenizes filter.Query and tags, intersects the asset-id
// lists returned by dht_find("token:"+t) for each token, then resolves and
// filters the surviving capsules via dht_find("capsule:"+id).
func (n *Node) QueryMemories(ctx context.Context, queryText string, tags []string, matches func(json.RawMessage) bool) ([]json.RawMessage, error) {
	var tokens []string
	if queryText != "" {
		tokens = append(tokens, util.Tokenize(queryText)...)
	}
	for _, tag := range tags {
		tokens = append(tokens, strings.ToLower(tag))
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	var candidates map[string]struct{}
	for _, token := range tokens {
		value, err := n.DHTFind(ctx, "token:"+token)
		ids := map[string]struct{}{}
		if err == nil {
			var list []string
			if json.Unmarshal(value, &list) == nil {
				for _, id := range list {
					ids[id] = struct{}{}
				}
			}
		}
		if candidates == nil {
			candidates = ids
			continue
		}
		for id := range candidates {
			if _, ok := ids[id]; !ok {
				delete(candidates, id)
			}
		}
	}

	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var results []json.RawMessage
	for _, id := range ids {
		value, err := n.DHTFind(ctx, "capsule:"+id)
		if err != nil {
			continue
		}
		if matches == nil || matches(value) {
			results = append(results, value)
		}
	}
	return results, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
