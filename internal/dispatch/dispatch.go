// Package dispatch routes decoded inbound wire messages to the Store,
// TaskBazaar and mesh.Node (spec.md §4.7).
package dispatch

import (
	"context"
	"encoding/json"

	"github.com/qqliaoxin/openclaw-mesh/internal/bazaar"
	"github.com/qqliaoxin/openclaw-mesh/internal/mesh"
	"github.com/qqliaoxin/openclaw-mesh/internal/store"
	"github.com/qqliaoxin/openclaw-mesh/pkg/logging"
	"github.com/qqliaoxin/openclaw-mesh/pkg/util"
)

// Dispatcher owns the single loop that drains a mesh.Node's inbound
// channel and applies each message to local state.
type Dispatcher struct {
	node   *mesh.Node
	store  *store.Store
	bazaar *bazaar.Bazaar
	log    *logging.Logger
}

// New constructs a Dispatcher wired to node, store and bazaar.
func New(node *mesh.Node, st *store.Store, b *bazaar.Bazaar) *Dispatcher {
	return &Dispatcher{
		node:   node,
		store:  st,
		bazaar: b,
		log:    logging.GetDefault().Component("dispatch"),
	}
}

// Run drains node.Inbound() until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-d.node.Inbound():
			if !ok {
				return
			}
			d.handle(msg)
		}
	}
}

func (d *Dispatcher) handle(inbound mesh.InboundMessage) {
	msg := inbound.Message
	switch msg.Type {
	case "capsule":
		d.handleCapsule(msg.Payload)
	case "task":
		d.handleTask(msg.Payload)
	case "task_bid":
		d.handleTaskBid(msg.Payload)
	case "task_assigned":
		d.handleTaskAssigned(msg.Payload)
	case "task_completed":
		d.handleTaskCompleted(msg.Payload)
	case "query":
		d.handleQuery(inbound.PeerID, msg)
	}
}

func (d *Dispatcher) handleCapsule(payload json.RawMessage) {
	if _, err := d.store.StoreCapsule(payload); err != nil {
		d.log.Warnf("store inbound capsule: %v", err)
	}
}

func (d *Dispatcher) handleTask(payload json.RawMessage) {
	var task bazaar.Task
	if err := json.Unmarshal(payload, &task); err != nil {
		d.log.Warnf("decode inbound task: %v", err)
		return
	}
	d.bazaar.HandleNewTask(task)
}

func (d *Dispatcher) handleTaskBid(payload json.RawMessage) {
	var body struct {
		TaskID string         `json:"taskId"`
		Bid    bazaar.TaskBid `json:"bid"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		d.log.Warnf("decode inbound task_bid: %v", err)
		return
	}
	d.bazaar.AddBid(body.TaskID, body.Bid)
}

func (d *Dispatcher) handleTaskAssigned(payload json.RawMessage) {
	var body struct {
		TaskID     string `json:"taskId"`
		AssignedTo string `json:"assignedTo"`
		AssignedAt int64  `json:"assignedAt"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		d.log.Warnf("decode inbound task_assigned: %v", err)
		return
	}
	status := bazaar.StatusAssigned
	d.bazaar.UpdateTask(body.TaskID, bazaar.TaskPatch{
		Status:     &status,
		AssignedTo: &body.AssignedTo,
		AssignedAt: &body.AssignedAt,
	})
}

func (d *Dispatcher) handleTaskCompleted(payload json.RawMessage) {
	var body struct {
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		d.log.Warnf("decode inbound task_completed: %v", err)
		return
	}
	status := bazaar.StatusCompleted
	d.bazaar.UpdateTask(body.TaskID, bazaar.TaskPatch{Status: &status})
}

func (d *Dispatcher) handleQuery(peerID string, msg mesh.WireMessage) {
	var payload struct {
		Type          string   `json:"type"`
		Query         string   `json:"query"`
		Tags          []string `json:"tags"`
		TaskType      string   `json:"taskType"`
		MinConfidence *float64 `json:"minConfidence"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Type != "memories" {
		return
	}
	results, err := d.store.QueryCapsules(store.CapsuleFilter{
		Type:          payload.TaskType,
		Tags:          payload.Tags,
		Query:         payload.Query,
		MinConfidence: payload.MinConfidence,
	})
	if err != nil {
		d.log.Warnf("query capsules: %v", err)
		return
	}
	respPayload, err := json.Marshal(map[string]interface{}{"results": results})
	if err != nil {
		return
	}
	resp := mesh.WireMessage{
		Type:      "query_response",
		Payload:   respPayload,
		RequestID: msg.RequestID,
		Timestamp: timestampPtr(),
	}
	if err := d.node.SendToPeer(peerID, resp); err != nil {
		d.log.Warnf("send query_response to %s: %v", peerID, err)
	}
}

func timestampPtr() *int64 {
	ts := util.NowMillis()
	return &ts
}
