// Package worker implements the autonomous bidder/coordinator loop that
// turns a TaskBazaar and mesh Node into a working auction participant
// (spec.md §4.6).
package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/qqliaoxin/openclaw-mesh/internal/bazaar"
	"github.com/qqliaoxin/openclaw-mesh/internal/mesh"
	"github.com/qqliaoxin/openclaw-mesh/pkg/logging"
	"github.com/qqliaoxin/openclaw-mesh/pkg/util"
)

const (
	tickPeriod   = 5 * time.Second
	votingWindow = 5000 // milliseconds
)

// TaskWorker bids on open tasks, coordinates voting for tasks it
// published, and self-completes tasks it wins.
type TaskWorker struct {
	nodeID string
	node   *mesh.Node
	bazaar *bazaar.Bazaar
	log    *logging.Logger

	mu           sync.Mutex
	biddingTasks map[string]int64
	activeTasks  map[string]struct{}
}

// New constructs a TaskWorker bound to node and bazaar for the local node id.
func New(nodeID string, node *mesh.Node, b *bazaar.Bazaar) *TaskWorker {
	return &TaskWorker{
		nodeID:       nodeID,
		node:         node,
		bazaar:       b,
		log:          logging.GetDefault().Component("worker"),
		biddingTasks: map[string]int64{},
		activeTasks:  map[string]struct{}{},
	}
}

// Run loops every five seconds until ctx is cancelled, bidding on open
// tasks and driving voting to completion.
func (w *TaskWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()
	for {
		w.checkTasks()
		w.processVoting()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *TaskWorker) checkTasks() {
	for _, task := range w.bazaar.GetTasks() {
		if task.Status != bazaar.StatusOpen {
			continue
		}
		w.mu.Lock()
		_, active := w.activeTasks[task.TaskID]
		_, bidding := w.biddingTasks[task.TaskID]
		w.mu.Unlock()
		if active || bidding {
			continue
		}
		w.submitBid(task)
	}
}

func (w *TaskWorker) submitBid(task bazaar.Task) {
	bidAmount := int64(float64(task.Bounty.Amount) * 0.9)
	bid := bazaar.TaskBid{
		NodeID:    w.nodeID,
		Amount:    bidAmount,
		Timestamp: util.NowMillis(),
	}
	w.mu.Lock()
	w.biddingTasks[task.TaskID] = bid.Timestamp
	w.mu.Unlock()

	if _, ok := w.bazaar.AddBid(task.TaskID, bid); !ok {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{"taskId": task.TaskID, "bid": bid})
	if _, err := w.node.BroadcastTask("task_bid", payload); err != nil {
		w.log.Warnf("broadcast task_bid for %s: %v", task.TaskID, err)
	}
}

func (w *TaskWorker) processVoting() {
	for _, task := range w.bazaar.GetTasks() {
		if task.Status != bazaar.StatusVoting {
			continue
		}
		if task.Publisher != w.nodeID {
			continue
		}
		started := votingStartedAt(task)
		if util.NowMillis()-started < votingWindow {
			continue
		}
		winner := w.bazaar.DetermineWinner(&task)
		if winner == nil {
			continue
		}
		w.assignWinner(task, *winner)
	}
}

func votingStartedAt(task bazaar.Task) int64 {
	if task.VotingStartedAt != nil {
		return *task.VotingStartedAt
	}
	if len(task.Bids) > 0 {
		return task.Bids[0].Timestamp
	}
	return 0
}

func (w *TaskWorker) assignWinner(task bazaar.Task, winner bazaar.TaskBid) {
	assignedAt := util.NowMillis()
	status := bazaar.StatusAssigned
	w.bazaar.UpdateTask(task.TaskID, bazaar.TaskPatch{
		Status:     &status,
		AssignedTo: &winner.NodeID,
		AssignedAt: &assignedAt,
	})

	payload, _ := json.Marshal(map[string]interface{}{
		"taskId":     task.TaskID,
		"assignedTo": winner.NodeID,
		"assignedAt": assignedAt,
	})
	if _, err := w.node.BroadcastTask("task_assigned", payload); err != nil {
		w.log.Warnf("broadcast task_assigned for %s: %v", task.TaskID, err)
	}

	if winner.NodeID == w.nodeID {
		w.mu.Lock()
		w.activeTasks[task.TaskID] = struct{}{}
		w.mu.Unlock()
		w.completeTask(task.TaskID)
		return
	}
	w.mu.Lock()
	delete(w.biddingTasks, task.TaskID)
	w.mu.Unlock()
}

func (w *TaskWorker) completeTask(taskID string) {
	defer func() {
		w.mu.Lock()
		delete(w.activeTasks, taskID)
		w.mu.Unlock()
	}()

	solution, _ := json.Marshal(map[string]string{
		"description": "Auto-solved by TaskWorker",
		"code":        "return true;",
	})
	result, err := w.bazaar.SubmitSolution(taskID, solution, w.nodeID)
	if err != nil {
		w.log.Warnf("submit solution for %s: %v", taskID, err)
		return
	}
	if !result.Success {
		w.log.Warnf("solution for %s rejected: %s", taskID, result.Reason)
		return
	}
	payload, _ := json.Marshal(map[string]string{"taskId": taskID, "winner": w.nodeID})
	if _, err := w.node.BroadcastTask("task_completed", payload); err != nil {
		w.log.Warnf("broadcast task_completed for %s: %v", taskID, err)
	}
}
