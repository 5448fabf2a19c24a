package store

import "encoding/json"

// Account is a node's balance-holding identity (spec.md §3).
type Account struct {
	AccountID  string `json:"accountId"`
	NodeID     string `json:"nodeId"`
	Algorithm  string `json:"algorithm"`
	SeedHash   string `json:"seedHash"`
	CreatedAt  string `json:"createdAt"`
	ImportedAt string `json:"importedAt,omitempty"`
	Balance    int64  `json:"balance"`
}

// LedgerEntry is one hash-chained, append-only ledger row.
type LedgerEntry struct {
	Index     uint64          `json:"index"`
	PrevHash  string          `json:"prevHash"`
	Hash      string          `json:"hash"`
	Timestamp int64           `json:"timestamp"`
	EntryType string          `json:"entryType"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	Amount    int64           `json:"amount"`
	Meta      json.RawMessage `json:"meta,omitempty"`
}

// Escrow holds funds for one task between lock and release.
type Escrow struct {
	TaskID        string `json:"taskId"`
	FromAccountID string `json:"fromAccountId"`
	Amount        int64  `json:"amount"`
	Token         string `json:"token"`
	CreatedAt     string `json:"createdAt"`
}

// CapsuleSnapshot pairs a stored capsule with its content address.
type CapsuleSnapshot struct {
	AssetID string          `json:"assetId"`
	Capsule json.RawMessage `json:"capsule"`
}

// Snapshot is the full point-in-time dump returned by GetSnapshot.
type Snapshot struct {
	Capsules     []CapsuleSnapshot `json:"capsules"`
	Accounts     []Account         `json:"accounts"`
	AccountIndex [][2]string       `json:"accountIndex"`
	Ledger       []LedgerEntry     `json:"ledger"`
}

// CapsuleFilter selects capsules by type, tags, free-text query tokens and
// a minimum confidence threshold (spec.md §4.2).
type CapsuleFilter struct {
	Type          string
	Tags          []string
	Query         string
	MinConfidence *float64
}
