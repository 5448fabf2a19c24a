package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/qqliaoxin/openclaw-mesh/internal/bazaar"
	"github.com/qqliaoxin/openclaw-mesh/internal/mesh"
	"github.com/qqliaoxin/openclaw-mesh/internal/store"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *store.Store, *bazaar.Bazaar) {
	t.Helper()
	t.Setenv("OPENCLAW_GENESIS_SUPPLY", "1000000")
	st, err := store.Open(t.TempDir(), "node_local", true, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	b := bazaar.New("node_local", st)
	node := mesh.New("node_local", 0, nil, mesh.DHTConfig{K: 8, Alpha: 3, MaxHops: 6})
	return New(node, st, b), st, b
}

func TestHandleCapsuleStoresInStore(t *testing.T) {
	d, st, _ := newTestDispatcher(t)
	payload, _ := json.Marshal(map[string]interface{}{"type": "fact", "content": "hello", "tags": []string{"x"}})
	d.handle(mesh.InboundMessage{PeerID: "node_peer", Message: mesh.WireMessage{Type: "capsule", Payload: payload}})

	results, err := st.QueryCapsules(store.CapsuleFilter{})
	if err != nil {
		t.Fatalf("query capsules: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 stored capsule, got %d", len(results))
	}
}

func TestHandleTaskRegistersNewTask(t *testing.T) {
	d, _, b := newTestDispatcher(t)
	payload, _ := json.Marshal(bazaar.Task{TaskID: "task_a", Description: "work", Status: bazaar.StatusAssigned})
	d.handle(mesh.InboundMessage{PeerID: "node_peer", Message: mesh.WireMessage{Type: "task", Payload: payload}})

	task, ok := b.GetTask("task_a")
	if !ok {
		t.Fatalf("expected task registered")
	}
	if task.Status != bazaar.StatusOpen {
		t.Fatalf("expected handle_new_task to normalize to open, got %s", task.Status)
	}
}

func TestHandleTaskBidAppliesBid(t *testing.T) {
	d, st, b := newTestDispatcher(t)
	taskID, err := b.PublishTask(bazaar.Task{Description: "work", Bounty: bazaar.TaskBounty{Amount: 100}})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	_ = st

	payload, _ := json.Marshal(map[string]interface{}{
		"taskId": taskID,
		"bid":    bazaar.TaskBid{NodeID: "node_bidder", Amount: 90, Timestamp: 1},
	})
	d.handle(mesh.InboundMessage{PeerID: "node_peer", Message: mesh.WireMessage{Type: "task_bid", Payload: payload}})

	task, _ := b.GetTask(taskID)
	if len(task.Bids) != 1 || task.Bids[0].NodeID != "node_bidder" {
		t.Fatalf("expected bid applied, got %+v", task.Bids)
	}
	if task.Status != bazaar.StatusVoting {
		t.Fatalf("expected status voting after first bid, got %s", task.Status)
	}
}

func TestHandleTaskAssignedPatchesTask(t *testing.T) {
	d, _, b := newTestDispatcher(t)
	taskID, _ := b.PublishTask(bazaar.Task{Description: "work", Bounty: bazaar.TaskBounty{Amount: 100}})
	b.AddBid(taskID, bazaar.TaskBid{NodeID: "node_bidder", Amount: 90, Timestamp: 1})

	payload, _ := json.Marshal(map[string]interface{}{"taskId": taskID, "assignedTo": "node_bidder", "assignedAt": int64(42)})
	d.handle(mesh.InboundMessage{PeerID: "node_peer", Message: mesh.WireMessage{Type: "task_assigned", Payload: payload}})

	task, _ := b.GetTask(taskID)
	if task.Status != bazaar.StatusAssigned || task.AssignedTo != "node_bidder" {
		t.Fatalf("expected task assigned to node_bidder, got %+v", task)
	}
}

func TestHandleTaskCompletedPatchesStatus(t *testing.T) {
	d, _, b := newTestDispatcher(t)
	taskID, _ := b.PublishTask(bazaar.Task{Description: "work", Bounty: bazaar.TaskBounty{Amount: 100}})

	payload, _ := json.Marshal(map[string]interface{}{"taskId": taskID})
	d.handle(mesh.InboundMessage{PeerID: "node_peer", Message: mesh.WireMessage{Type: "task_completed", Payload: payload}})

	task, _ := b.GetTask(taskID)
	if task.Status != bazaar.StatusCompleted {
		t.Fatalf("expected completed status, got %s", task.Status)
	}
}

func TestHandleQueryIgnoresNonMemoriesType(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	payload, _ := json.Marshal(map[string]interface{}{"type": "something_else"})
	// Should not panic and should be a no-op.
	d.handle(mesh.InboundMessage{PeerID: "node_peer", Message: mesh.WireMessage{Type: "query", Payload: payload, RequestID: "r1"}})
}

func TestHandleQueryMemoriesRunsWithoutError(t *testing.T) {
	d, st, _ := newTestDispatcher(t)
	capsule, _ := json.Marshal(map[string]interface{}{"type": "fact", "content": "hello world", "tags": []string{"greeting"}})
	if _, err := st.StoreCapsule(capsule); err != nil {
		t.Fatalf("store capsule: %v", err)
	}

	payload, _ := json.Marshal(map[string]interface{}{"type": "memories", "query": "hello"})
	d.handle(mesh.InboundMessage{PeerID: "node_unregistered", Message: mesh.WireMessage{Type: "query", Payload: payload, RequestID: "r1"}})
}
