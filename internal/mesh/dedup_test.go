package mesh

import "testing"

func TestMarkSeenOnlyOnceForSameID(t *testing.T) {
	s := newSeenSet()
	if !s.markSeen("abc") {
		t.Fatalf("expected first mark to report new")
	}
	if s.markSeen("abc") {
		t.Fatalf("expected second mark of same id to report already seen")
	}
	if !s.markSeen("def") {
		t.Fatalf("expected a different id to report new")
	}
}

func TestPendingPingTableTakeRemovesEntry(t *testing.T) {
	table := newPendingPingTable()
	table.add("ping1", "node_a", 1000)
	p, ok := table.takeAndSweep("ping1", 1005)
	if !ok {
		t.Fatalf("expected to find pending ping")
	}
	if p.peerID != "node_a" {
		t.Fatalf("expected peerID node_a, got %q", p.peerID)
	}
	if _, ok := table.takeAndSweep("ping1", 1010); ok {
		t.Fatalf("expected ping to be consumed after first take")
	}
}

func TestPendingPingTableSweepsStaleEntries(t *testing.T) {
	table := newPendingPingTable()
	table.add("old", "node_a", 0)
	table.add("fresh", "node_b", 20_000)
	// Trigger a sweep via an unrelated lookup far enough in the future.
	table.takeAndSweep("unrelated", 20_000+pendingPingTTL+1)
	if _, ok := table.takeAndSweep("old", 20_000+pendingPingTTL+1); ok {
		t.Fatalf("expected stale pending ping to have been swept")
	}
}
