package bazaar

import (
	"encoding/json"
	"testing"

	"github.com/qqliaoxin/openclaw-mesh/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	t.Setenv("OPENCLAW_GENESIS_SUPPLY", "1000000")
	dir := t.TempDir()
	s, err := store.Open(dir, "node_local", true, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func TestPublishTaskRejectsEmptyDescription(t *testing.T) {
	b := New("node_local", openTestStore(t))
	_, err := b.PublishTask(Task{Description: "", Bounty: TaskBounty{Amount: 10}})
	if err == nil {
		t.Fatalf("expected error for empty description")
	}
}

func TestPublishTaskRejectsZeroBounty(t *testing.T) {
	b := New("node_local", openTestStore(t))
	_, err := b.PublishTask(Task{Description: "do work", Bounty: TaskBounty{Amount: 0}})
	if err == nil {
		t.Fatalf("expected error for zero bounty")
	}
}

func TestPublishTaskLocksEscrowFromGenesis(t *testing.T) {
	st := openTestStore(t)
	b := New("node_genesis", st)
	taskID, err := b.PublishTask(Task{Description: "do work", Bounty: TaskBounty{Amount: 500}})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	task, ok := b.GetTask(taskID)
	if !ok || task.Status != StatusOpen {
		t.Fatalf("expected open task, got %+v ok=%v", task, ok)
	}
	balance, err := st.GetBalance("node_genesis")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != 1_000_000-500 {
		t.Fatalf("expected escrowed balance, got %d", balance)
	}
}

func TestAddBidTransitionsOpenToVoting(t *testing.T) {
	st := openTestStore(t)
	b := New("node_genesis", st)
	taskID, _ := b.PublishTask(Task{Description: "work", Bounty: TaskBounty{Amount: 100}})

	task, ok := b.AddBid(taskID, TaskBid{NodeID: "node_a", Amount: 90, Timestamp: 1})
	if !ok {
		t.Fatalf("expected bid accepted")
	}
	if task.Status != StatusVoting {
		t.Fatalf("expected voting status after first bid, got %s", task.Status)
	}
	if task.VotingStartedAt == nil {
		t.Fatalf("expected voting_started_at to be stamped")
	}
}

func TestAddBidDedupsByNodeID(t *testing.T) {
	st := openTestStore(t)
	b := New("node_genesis", st)
	taskID, _ := b.PublishTask(Task{Description: "work", Bounty: TaskBounty{Amount: 100}})

	b.AddBid(taskID, TaskBid{NodeID: "node_a", Amount: 90, Timestamp: 1})
	task, _ := b.AddBid(taskID, TaskBid{NodeID: "node_a", Amount: 80, Timestamp: 2})
	if len(task.Bids) != 1 {
		t.Fatalf("expected duplicate bid to be ignored, got %d bids", len(task.Bids))
	}
	if task.Bids[0].Amount != 90 {
		t.Fatalf("expected original bid amount retained, got %d", task.Bids[0].Amount)
	}
}

func TestAddBidOnUnknownTaskReturnsFalse(t *testing.T) {
	b := New("node_local", openTestStore(t))
	_, ok := b.AddBid("task_missing", TaskBid{NodeID: "node_a", Amount: 1, Timestamp: 1})
	if ok {
		t.Fatalf("expected unknown task to return ok=false")
	}
}

func TestDetermineWinnerBreaksTiesByEarliestTimestamp(t *testing.T) {
	b := New("node_local", openTestStore(t))
	task := &Task{
		TaskID: "task_x",
		Bids: []TaskBid{
			{NodeID: "node_b", Amount: 50, Timestamp: 200},
			{NodeID: "node_a", Amount: 50, Timestamp: 100},
			{NodeID: "node_c", Amount: 40, Timestamp: 300},
		},
	}
	winner := b.DetermineWinner(task)
	if winner == nil {
		t.Fatalf("expected a winner")
	}
	if winner.NodeID != "node_c" {
		t.Fatalf("expected lowest amount to win regardless of timestamp, got %s", winner.NodeID)
	}

	tied := &Task{
		TaskID: "task_y",
		Bids: []TaskBid{
			{NodeID: "node_b", Amount: 50, Timestamp: 200},
			{NodeID: "node_a", Amount: 50, Timestamp: 100},
		},
	}
	winner = b.DetermineWinner(tied)
	if winner == nil || winner.NodeID != "node_a" {
		t.Fatalf("expected earliest timestamp to break a tie, got %+v", winner)
	}
}

func TestDetermineWinnerWithNoBidsReturnsNil(t *testing.T) {
	b := New("node_local", openTestStore(t))
	if winner := b.DetermineWinner(&Task{TaskID: "task_empty"}); winner != nil {
		t.Fatalf("expected nil winner for no bids")
	}
}

func TestUpdateTaskRejectsBackwardTransition(t *testing.T) {
	st := openTestStore(t)
	b := New("node_genesis", st)
	taskID, _ := b.PublishTask(Task{Description: "work", Bounty: TaskBounty{Amount: 100}})
	b.AddBid(taskID, TaskBid{NodeID: "node_a", Amount: 90, Timestamp: 1})

	backward := StatusOpen
	task, ok := b.UpdateTask(taskID, TaskPatch{Status: &backward})
	if !ok {
		t.Fatalf("expected update to find task")
	}
	if task.Status != StatusVoting {
		t.Fatalf("expected backward transition to be rejected, got %s", task.Status)
	}
}

func TestSubmitSolutionSettlesEscrowToWinner(t *testing.T) {
	st := openTestStore(t)
	b := New("node_genesis", st)
	taskID, _ := b.PublishTask(Task{Description: "work", Bounty: TaskBounty{Amount: 300}})

	solution, _ := json.Marshal(map[string]string{"description": "done"})
	result, err := b.SubmitSolution(taskID, solution, "node_winner")
	if err != nil {
		t.Fatalf("submit solution: %v", err)
	}
	if !result.Success || result.Reward != 300 {
		t.Fatalf("expected successful reward of 300, got %+v", result)
	}

	balance, err := st.GetBalance("node_winner")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != 300 {
		t.Fatalf("expected winner balance 300, got %d", balance)
	}

	task, _ := b.GetTask(taskID)
	if task.Status != StatusCompleted || task.Winner != "node_winner" {
		t.Fatalf("expected completed task with winner set, got %+v", task)
	}
}

func TestSubmitSolutionTwiceIsSoftFailure(t *testing.T) {
	st := openTestStore(t)
	b := New("node_genesis", st)
	taskID, _ := b.PublishTask(Task{Description: "work", Bounty: TaskBounty{Amount: 100}})
	solution, _ := json.Marshal(map[string]string{"description": "done"})

	if _, err := b.SubmitSolution(taskID, solution, "node_winner"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	result, err := b.SubmitSolution(taskID, solution, "node_other")
	if err != nil {
		t.Fatalf("second submit should not error: %v", err)
	}
	if result.Success {
		t.Fatalf("expected second submission to soft-fail")
	}
}

func TestSubmitSolutionRejectsShortCodeForCodeTasks(t *testing.T) {
	st := openTestStore(t)
	b := New("node_genesis", st)
	taskID, _ := b.PublishTask(Task{Description: "work", Type: "code", Bounty: TaskBounty{Amount: 100}})

	solution, _ := json.Marshal(map[string]string{"code": "short"})
	result, err := b.SubmitSolution(taskID, solution, "node_winner")
	if err != nil {
		t.Fatalf("submit solution: %v", err)
	}
	if result.Success {
		t.Fatalf("expected short code solution to be rejected")
	}
}

func TestSubmitSolutionUnknownTaskErrors(t *testing.T) {
	b := New("node_local", openTestStore(t))
	solution, _ := json.Marshal(map[string]string{"description": "done"})
	if _, err := b.SubmitSolution("task_missing", solution, "node_winner"); err == nil {
		t.Fatalf("expected error for unknown task")
	}
}

func TestGetStatsAggregatesCompletedRewards(t *testing.T) {
	st := openTestStore(t)
	b := New("node_genesis", st)
	taskID, _ := b.PublishTask(Task{Description: "work", Bounty: TaskBounty{Amount: 150}})
	solution, _ := json.Marshal(map[string]string{"description": "done"})
	if _, err := b.SubmitSolution(taskID, solution, "node_winner"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	stats := b.GetStats()
	if stats.Total != 1 || stats.Completed != 1 || stats.TotalRewards != 150 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestGetBalanceReportsLockedEscrow(t *testing.T) {
	st := openTestStore(t)
	b := New("node_genesis", st)
	if _, err := b.PublishTask(Task{Description: "work", Bounty: TaskBounty{Amount: 400}}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	balance, err := b.GetBalance()
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.Available != 1_000_000-400 {
		t.Fatalf("expected available balance net of escrow, got %d", balance.Available)
	}
	if balance.Locked != 400 {
		t.Fatalf("expected locked escrow of 400, got %d", balance.Locked)
	}
}

func TestHandleNewTaskIgnoresAlreadyKnownTask(t *testing.T) {
	b := New("node_local", openTestStore(t))
	b.HandleNewTask(Task{TaskID: "task_a", Description: "first", Status: StatusAssigned})
	b.HandleNewTask(Task{TaskID: "task_a", Description: "second", Status: StatusOpen})

	task, ok := b.GetTask("task_a")
	if !ok {
		t.Fatalf("expected task present")
	}
	if task.Description != "first" {
		t.Fatalf("expected first occurrence to win, got %q", task.Description)
	}
}
