package mesh

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/qqliaoxin/openclaw-mesh/pkg/util"
)

// seenSet is the gossip dedup table: message_id -> first-seen-timestamp.
// Backed by an LRU cache bounded at maxSeenMessages so the insertion order
// approximates the spec's "oldest-inserted entries are evicted" rule;
// lookups use Peek/Contains so they never perturb that order themselves.
type seenSet struct {
	mu    sync.Mutex
	cache *lru.Cache[string, int64]
}

func newSeenSet() *seenSet {
	cache, err := lru.New[string, int64](maxSeenMessages)
	if err != nil {
		panic(err) // only fails for non-positive size
	}
	return &seenSet{cache: cache}
}

// markSeen records id as seen and reports whether it was new. A known id
// returns false without being re-recorded.
func (s *seenSet) markSeen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache.Peek(id); ok {
		return false
	}
	now := util.NowMillis()
	s.cache.Add(id, now)
	s.sweepExpiredLocked(now)
	return true
}

// sweepExpiredLocked drops entries older than seenTTLMillis. Must be
// called with s.mu held.
func (s *seenSet) sweepExpiredLocked(now int64) {
	for _, key := range s.cache.Keys() {
		ts, ok := s.cache.Peek(key)
		if !ok {
			continue
		}
		if now-ts > seenTTLMillis {
			s.cache.Remove(key)
		}
	}
}

// pendingPing records when a heartbeat ping was sent to a peer.
type pendingPing struct {
	peerID string
	sentAt int64
}

type pendingPingTable struct {
	mu      sync.Mutex
	entries map[string]pendingPing
}

func newPendingPingTable() *pendingPingTable {
	return &pendingPingTable{entries: map[string]pendingPing{}}
}

func (t *pendingPingTable) add(pingID, peerID string, sentAt int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[pingID] = pendingPing{peerID: peerID, sentAt: sentAt}
}

func (t *pendingPingTable) takeAndSweep(pingID string, now int64) (pendingPing, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[pingID]
	if ok {
		delete(t.entries, pingID)
	}
	for id, entry := range t.entries {
		if now-entry.sentAt > pendingPingTTL {
			delete(t.entries, id)
		}
	}
	return p, ok
}
