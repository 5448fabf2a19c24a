// Package bazaar implements the task marketplace: a sealed-deadline
// first-price auction run over the mesh, backed by the Store's escrow
// (spec.md §4.5). Task state lives only in memory; per spec.md §9, the
// Store mutex is always acquired from inside a Bazaar call, never the
// other way around.
package bazaar

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/qqliaoxin/openclaw-mesh/internal/store"
	"github.com/qqliaoxin/openclaw-mesh/pkg/errs"
	"github.com/qqliaoxin/openclaw-mesh/pkg/util"
)

// Bazaar is the in-memory task registry for one node.
type Bazaar struct {
	nodeID string
	store  *store.Store

	mu        sync.Mutex
	tasks     map[string]*Task
	completed map[string]struct{}
}

// New constructs a Bazaar bound to store for the given local node id.
func New(nodeID string, st *store.Store) *Bazaar {
	return &Bazaar{
		nodeID:    nodeID,
		store:     st,
		tasks:     map[string]*Task{},
		completed: map[string]struct{}{},
	}
}

// PublishTask validates task, assigns defaults, locks escrow for the
// bounty, and registers it locally. Returns the final task_id.
func (b *Bazaar) PublishTask(task Task) (string, error) {
	if strings.TrimSpace(task.Description) == "" {
		return "", errs.New(errs.InvalidInput, "missing description")
	}
	if task.Bounty.Amount <= 0 {
		return "", errs.New(errs.InvalidInput, "missing bounty")
	}
	if task.TaskID == "" {
		task.TaskID = "task_" + util.RandomHex(8)
	}
	if task.Publisher == "" {
		task.Publisher = b.nodeID
	}
	if task.Bounty.Token == "" {
		task.Bounty.Token = "CLAW"
	}
	task.PublishedAt = util.NowISO()
	task.Status = StatusOpen
	task.Submissions = nil
	task.Bids = nil

	publisherAccount, err := b.store.EnsureAccount(task.Publisher, "gep-lite-v1")
	if err != nil {
		return "", err
	}
	if err := b.store.LockEscrow(task.TaskID, publisherAccount.AccountID, task.Bounty.Amount, task.Bounty.Token); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks[task.TaskID] = &task
	return task.TaskID, nil
}

// HandleNewTask registers a task learned from the mesh, ignoring it if
// task_id is already known.
func (b *Bazaar) HandleNewTask(task Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tasks[task.TaskID]; ok {
		return
	}
	task.Status = StatusOpen
	task.Submissions = nil
	task.Bids = nil
	b.tasks[task.TaskID] = &task
}

// AddBid appends bid to task_id's bid list, ignoring duplicate node_ids,
// and transitions open -> voting on the first bid.
func (b *Bazaar) AddBid(taskID string, bid TaskBid) (*Task, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	task, ok := b.tasks[taskID]
	if !ok {
		return nil, false
	}
	for _, existing := range task.Bids {
		if existing.NodeID == bid.NodeID {
			return cloneTask(task), true
		}
	}
	task.Bids = append(task.Bids, bid)
	if task.Status == StatusOpen {
		task.Status = StatusVoting
		now := util.NowMillis()
		task.VotingStartedAt = &now
	}
	return cloneTask(task), true
}

// UpdateTask applies patch's non-nil fields to task_id, returning the
// updated task. A status patch is applied only if it moves forward (or
// stays put) along open -> voting -> assigned -> completed; a backward or
// unknown status is ignored while the patch's other fields still apply.
func (b *Bazaar) UpdateTask(taskID string, patch TaskPatch) (*Task, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	task, ok := b.tasks[taskID]
	if !ok {
		return nil, false
	}
	if patch.Status != nil {
		if monotonic(task.Status, *patch.Status) {
			task.Status = *patch.Status
		}
	}
	if patch.Bids != nil {
		task.Bids = patch.Bids
	}
	if patch.AssignedTo != nil {
		task.AssignedTo = *patch.AssignedTo
	}
	if patch.AssignedAt != nil {
		task.AssignedAt = patch.AssignedAt
	}
	if patch.VotingStartedAt != nil {
		task.VotingStartedAt = patch.VotingStartedAt
	}
	return cloneTask(task), true
}

// GetTasks returns every known task, newest published_at first.
func (b *Bazaar) GetTasks() []Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	tasks := make([]Task, 0, len(b.tasks))
	for _, t := range b.tasks {
		tasks = append(tasks, *cloneTask(t))
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].PublishedAt > tasks[j].PublishedAt })
	return tasks
}

// GetTask returns one task by id.
func (b *Bazaar) GetTask(taskID string) (*Task, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	task, ok := b.tasks[taskID]
	if !ok {
		return nil, false
	}
	return cloneTask(task), true
}

// GetTaskCount returns the number of known tasks.
func (b *Bazaar) GetTaskCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tasks)
}

// GetStats aggregates counts and completed-task rewards.
func (b *Bazaar) GetStats() TaskStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	stats := TaskStats{Total: len(b.tasks)}
	for _, t := range b.tasks {
		switch t.Status {
		case StatusOpen:
			stats.Open++
		case StatusCompleted:
			stats.Completed++
			stats.TotalRewards += t.Bounty.Amount
		}
	}
	return stats
}

// GetBalance reports the local account's spendable and escrow-locked funds.
func (b *Bazaar) GetBalance() (BalanceStats, error) {
	available, err := b.store.GetBalance(b.nodeID)
	if err != nil {
		return BalanceStats{}, err
	}
	accountID, _, err := b.store.AccountIDByNode(b.nodeID)
	if err != nil {
		return BalanceStats{}, err
	}
	escrows, err := b.store.ListEscrows()
	if err != nil {
		return BalanceStats{}, err
	}
	var locked int64
	for _, e := range escrows {
		if e.FromAccountID == accountID {
			locked += e.Amount
		}
	}
	return BalanceStats{Available: available, Locked: locked}, nil
}

// DetermineWinner picks the lowest-amount bid, earliest timestamp breaking
// ties (spec.md §8 invariant 6). Returns nil if there are no bids.
func (b *Bazaar) DetermineWinner(task *Task) *TaskBid {
	if len(task.Bids) == 0 {
		return nil
	}
	bids := append([]TaskBid(nil), task.Bids...)
	sort.Slice(bids, func(i, j int) bool {
		if bids[i].Amount != bids[j].Amount {
			return bids[i].Amount < bids[j].Amount
		}
		return bids[i].Timestamp < bids[j].Timestamp
	})
	winner := bids[0]
	return &winner
}

// SubmitSolution validates and settles a solution for task_id. A soft
// failure (already completed or invalid) is returned as a non-error
// SolutionResult; hard failures (unknown task, wrong status) are errors.
func (b *Bazaar) SubmitSolution(taskID string, solution json.RawMessage, solverNodeID string) (*SolutionResult, error) {
	b.mu.Lock()
	task, ok := b.tasks[taskID]
	if !ok {
		b.mu.Unlock()
		return nil, errs.New(errs.NotFound, "task not found")
	}
	if _, done := b.completed[taskID]; done {
		b.mu.Unlock()
		return &SolutionResult{Success: false, Reason: "Task already completed"}, nil
	}
	if task.Status != StatusOpen && task.Status != StatusAssigned {
		b.mu.Unlock()
		return nil, errs.New(errs.InvalidInput, "task is not open")
	}
	if !validateSolution(task, solution) {
		b.mu.Unlock()
		return &SolutionResult{Success: false, Reason: "Invalid solution"}, nil
	}
	b.completed[taskID] = struct{}{}
	task.Status = StatusCompleted
	task.Winner = solverNodeID
	task.CompletedAt = util.NowISO()
	b.mu.Unlock()

	winnerAccount, err := b.store.EnsureAccount(solverNodeID, "gep-lite-v1")
	if err != nil {
		return nil, err
	}
	reward, err := b.store.ReleaseEscrow(taskID, winnerAccount.AccountID)
	if err != nil {
		return nil, err
	}
	return &SolutionResult{Success: true, Winner: true, Reward: reward}, nil
}

func validateSolution(task *Task, solution json.RawMessage) bool {
	var obj map[string]interface{}
	if err := json.Unmarshal(solution, &obj); err != nil {
		return false
	}
	_, hasCode := obj["code"]
	_, hasDescription := obj["description"]
	if !hasCode && !hasDescription {
		return false
	}
	if task.Type == "code" {
		code, _ := obj["code"].(string)
		return len(code) > 10
	}
	return true
}

func cloneTask(t *Task) *Task {
	clone := *t
	clone.Bids = append([]TaskBid(nil), t.Bids...)
	clone.Tags = append([]string(nil), t.Tags...)
	clone.Submissions = append([]json.RawMessage(nil), t.Submissions...)
	return &clone
}
