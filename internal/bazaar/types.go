package bazaar

import "encoding/json"

// Status is the task lifecycle state (spec.md §3). Transitions are
// enforced monotonically along Open -> Voting -> Assigned -> Completed;
// the over-the-wire encoding stays the plain string for compatibility
// with peers (spec.md §9).
type Status string

const (
	StatusOpen      Status = "open"
	StatusVoting    Status = "voting"
	StatusAssigned  Status = "assigned"
	StatusCompleted Status = "completed"
)

// TaskBounty is the reward offered for completing a task.
type TaskBounty struct {
	Amount int64  `json:"amount"`
	Token  string `json:"token"`
}

// TaskBid is one node's sealed bid in the auction.
type TaskBid struct {
	NodeID    string `json:"nodeId"`
	Amount    int64  `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

// Task is one bounty-backed unit of work tracked only in memory
// (spec.md §3).
type Task struct {
	TaskID          string            `json:"taskId"`
	Description     string            `json:"description"`
	Type            string            `json:"type,omitempty"`
	Bounty          TaskBounty        `json:"bounty"`
	Tags            []string          `json:"tags,omitempty"`
	Publisher       string            `json:"publisher"`
	Status          Status            `json:"status"`
	Submissions     []json.RawMessage `json:"submissions"`
	Bids            []TaskBid         `json:"bids"`
	PublishedAt     string            `json:"publishedAt"`
	VotingStartedAt *int64            `json:"votingStartedAt,omitempty"`
	AssignedTo      string            `json:"assignedTo,omitempty"`
	AssignedAt      *int64            `json:"assignedAt,omitempty"`
	Winner          string            `json:"winner,omitempty"`
	CompletedAt     string            `json:"completedAt,omitempty"`
}

// TaskPatch is a partial update accepted by UpdateTask.
type TaskPatch struct {
	Status          *Status
	Bids            []TaskBid
	AssignedTo      *string
	AssignedAt      *int64
	VotingStartedAt *int64
}

// TaskStats aggregates counts and rewards across every known task.
type TaskStats struct {
	Total        int   `json:"total"`
	Open         int   `json:"open"`
	Completed    int   `json:"completed"`
	TotalRewards int64 `json:"totalRewards"`
}

// BalanceStats splits the local account's funds between spendable and
// escrow-locked.
type BalanceStats struct {
	Available int64 `json:"available"`
	Locked    int64 `json:"locked"`
}

// SolutionResult is the outcome of SubmitSolution.
type SolutionResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
	Winner  bool   `json:"winner,omitempty"`
	Reward  int64  `json:"reward,omitempty"`
}

var statusOrder = map[Status]int{
	StatusOpen:      0,
	StatusVoting:    1,
	StatusAssigned:  2,
	StatusCompleted: 3,
}

// monotonic reports whether transitioning from `from` to `to` moves
// forward (or stays put) along the defined chain.
func monotonic(from, to Status) bool {
	f, fok := statusOrder[from]
	t, tok := statusOrder[to]
	if !fok || !tok {
		return false
	}
	return t >= f
}
