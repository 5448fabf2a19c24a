// Package store implements the persistent account, ledger, capsule and
// escrow state described in spec.md §4.2. All mutating operations run under
// a single exclusive lock; the Store never holds that lock across network
// I/O, matching the deadlock-avoidance rule in spec.md §9 ("locks are
// acquired in the order TaskBazaar → Store").
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/qqliaoxin/openclaw-mesh/pkg/config"
	"github.com/qqliaoxin/openclaw-mesh/pkg/errs"
	"github.com/qqliaoxin/openclaw-mesh/pkg/logging"
	"github.com/qqliaoxin/openclaw-mesh/pkg/metrics"
	"github.com/qqliaoxin/openclaw-mesh/pkg/util"
)

const genesisNodeID = "node_genesis"
const genesisAccountID = "acct_genesis"

// Store owns every persistent table for one mesh node.
type Store struct {
	mu sync.Mutex

	nodeID                  string
	isGenesisNode           bool
	genesisOperatorID       string
	dataDir                 string
	log                     *logging.Logger

	accounts     KVTable
	accountIndex KVTable
	ledger       KVTable
	capsules     KVTable
	capsuleIndex KVTable
	escrows      KVTable
}

// Open opens (creating if absent) the six keyed tables under
// <data_dir>/kv and performs genesis bootstrap if requested.
func Open(dataDir, nodeID string, isGenesisNode bool, genesisOperatorID string) (*Store, error) {
	kvDir := filepath.Join(dataDir, "kv")
	if err := os.MkdirAll(kvDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.StoreBackend, err, "create data dir")
	}

	open := func(name string) (KVTable, error) {
		return openJSONFileTable(kvDir, name)
	}

	accounts, err := open("accounts")
	if err != nil {
		return nil, err
	}
	accountIndex, err := open("account_index")
	if err != nil {
		return nil, err
	}
	ledger, err := open("ledger")
	if err != nil {
		return nil, err
	}
	capsules, err := open("capsules")
	if err != nil {
		return nil, err
	}
	capsuleIndex, err := open("capsule_index")
	if err != nil {
		return nil, err
	}
	escrows, err := open("escrows")
	if err != nil {
		return nil, err
	}

	s := &Store{
		nodeID:            nodeID,
		isGenesisNode:     isGenesisNode,
		genesisOperatorID: genesisOperatorID,
		dataDir:           dataDir,
		log:               logging.GetDefault().Component("store"),
		accounts:          accounts,
		accountIndex:      accountIndex,
		ledger:            ledger,
		capsules:          capsules,
		capsuleIndex:      capsuleIndex,
		escrows:           escrows,
	}

	if isGenesisNode {
		if _, err := s.ensureGenesisAccountLocked(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// EnsureAccount returns the existing account for nodeID, creating one with
// a fresh account_id and zero balance if none exists yet. Idempotent.
func (s *Store) EnsureAccount(nodeID, algorithm string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureAccountLocked(nodeID, algorithm)
}

func (s *Store) ensureAccountLocked(nodeID, algorithm string) (*Account, error) {
	if accountID, ok, err := s.accountIDByNode(nodeID); err != nil {
		return nil, err
	} else if ok {
		return s.getAccountLocked(accountID)
	}
	accountID := "acct_" + util.RandomHex(8)
	account := &Account{
		AccountID: accountID,
		NodeID:    nodeID,
		Algorithm: algorithm,
		SeedHash:  util.SHA256Hex(fmt.Sprintf("%s:%s", nodeID, accountID)),
		CreatedAt: util.NowISO(),
		Balance:   0,
	}
	if err := s.putAccountLocked(account); err != nil {
		return nil, err
	}
	if err := s.accountIndex.Set([]byte(nodeID), []byte(accountID)); err != nil {
		return nil, errs.Wrap(errs.StoreBackend, err, "index account")
	}
	return account, nil
}

// ExportAccount is a shorthand for EnsureAccount with the default algorithm.
func (s *Store) ExportAccount(nodeID string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureAccountLocked(nodeID, "gep-lite-v1")
}

// ImportAccount overwrites the local account entry for nodeID with payload,
// re-keying it to nodeID and stamping imported_at.
func (s *Store) ImportAccount(nodeID string, payload *Account) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	imported := *payload
	imported.NodeID = nodeID
	imported.ImportedAt = util.NowISO()
	if err := s.putAccountLocked(&imported); err != nil {
		return nil, err
	}
	if err := s.accountIndex.Set([]byte(nodeID), []byte(imported.AccountID)); err != nil {
		return nil, errs.Wrap(errs.StoreBackend, err, "index account")
	}
	return &imported, nil
}

// Transfer moves amount from fromAccountID to toAccountID, appending a
// transfer ledger entry. Transfers out of the genesis account require
// operator authorization (spec.md §9); transfers into it do not.
func (s *Store) Transfer(fromAccountID, toAccountID string, amount int64, operatorAccountID string) error {
	if amount <= 0 {
		return errs.New(errs.InvalidInput, "invalid amount")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	genesis, err := s.ensureGenesisAccountLocked()
	if err != nil {
		return err
	}
	if fromAccountID == genesis.AccountID {
		if s.genesisOperatorID == "" {
			return errs.New(errs.Unauthorized, "genesis operator not configured")
		}
		if operatorAccountID != s.genesisOperatorID {
			return errs.New(errs.Unauthorized, "genesis account operator not authorized")
		}
	}

	from, err := s.getAccountLocked(fromAccountID)
	if err != nil {
		return err
	}
	to, err := s.getAccountLocked(toAccountID)
	if err != nil {
		return err
	}
	if from.Balance < amount {
		return errs.New(errs.InsufficientBalance, "insufficient balance")
	}
	from.Balance -= amount
	to.Balance += amount
	if err := s.putAccountLocked(from); err != nil {
		return err
	}
	if err := s.putAccountLocked(to); err != nil {
		return err
	}
	_, err = s.appendLedgerLocked("transfer", fromAccountID, toAccountID, amount, nil)
	return err
}

// LockEscrow moves amount out of fromAccountID into an escrow row keyed by
// taskID, appending an escrow_locked ledger entry.
func (s *Store) LockEscrow(taskID, fromAccountID string, amount int64, token string) error {
	if amount <= 0 {
		return errs.New(errs.InvalidInput, "invalid escrow amount")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	from, err := s.getAccountLocked(fromAccountID)
	if err != nil {
		return err
	}
	if from.Balance < amount {
		return errs.New(errs.InsufficientBalance, "insufficient balance")
	}
	from.Balance -= amount
	if err := s.putAccountLocked(from); err != nil {
		return err
	}
	escrow := Escrow{
		TaskID:        taskID,
		FromAccountID: fromAccountID,
		Amount:        amount,
		Token:         token,
		CreatedAt:     util.NowISO(),
	}
	data, err := json.Marshal(escrow)
	if err != nil {
		return errs.Wrap(errs.StoreBackend, err, "marshal escrow")
	}
	if err := s.escrows.Set([]byte(taskID), data); err != nil {
		return errs.Wrap(errs.StoreBackend, err, "write escrow")
	}
	meta, _ := json.Marshal(map[string]string{"taskId": taskID, "token": token})
	_, err = s.appendLedgerLocked("escrow_locked", fromAccountID, "", amount, meta)
	return err
}

// ReleaseEscrow credits winnerAccountID with the escrowed amount for taskID
// and removes the escrow row. Returns 0 with no error if no escrow exists.
func (s *Store) ReleaseEscrow(taskID, winnerAccountID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.escrows.Get([]byte(taskID))
	if err != nil {
		return 0, errs.Wrap(errs.StoreBackend, err, "read escrow")
	}
	if raw == nil {
		return 0, nil
	}
	var escrow Escrow
	if err := json.Unmarshal(raw, &escrow); err != nil {
		return 0, errs.Wrap(errs.StoreBackend, err, "decode escrow")
	}
	winner, err := s.getAccountLocked(winnerAccountID)
	if err != nil {
		return 0, err
	}
	winner.Balance += escrow.Amount
	if err := s.putAccountLocked(winner); err != nil {
		return 0, err
	}
	if err := s.escrows.Delete([]byte(taskID)); err != nil {
		return 0, errs.Wrap(errs.StoreBackend, err, "delete escrow")
	}
	meta, _ := json.Marshal(map[string]string{"taskId": taskID, "token": escrow.Token})
	if _, err := s.appendLedgerLocked("escrow_released", "", winnerAccountID, escrow.Amount, meta); err != nil {
		return 0, err
	}
	return escrow.Amount, nil
}

// AccountIDByNode resolves nodeID through the account index.
func (s *Store) AccountIDByNode(nodeID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountIDByNode(nodeID)
}

// ListEscrows returns every outstanding escrow row.
func (s *Store) ListEscrows() ([]Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.escrows.Iterator()
	defer it.Close()
	var escrows []Escrow
	for it.Next() {
		var e Escrow
		if err := json.Unmarshal(it.Value(), &e); err != nil {
			return nil, errs.Wrap(errs.StoreBackend, err, "decode escrow")
		}
		escrows = append(escrows, e)
	}
	return escrows, nil
}

// GetBalance resolves nodeID to its account and returns the balance.
func (s *Store) GetBalance(nodeID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	accountID, ok, err := s.accountIDByNode(nodeID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errs.New(errs.NotFound, "account not found")
	}
	account, err := s.getAccountLocked(accountID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// StoreCapsule computes the capsule's content-addressed asset_id, writes
// it, and updates the inverted token index. Idempotent on content.
func (s *Store) StoreCapsule(capsule json.RawMessage) (string, error) {
	canon, err := canonicalJSON(capsule)
	if err != nil {
		return "", errs.Wrap(errs.InvalidInput, err, "invalid capsule json")
	}
	assetID := util.SHA256Hex(string(canon))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.capsules.Set([]byte(assetID), canon); err != nil {
		return "", errs.Wrap(errs.StoreBackend, err, "write capsule")
	}
	if err := s.indexCapsuleLocked(assetID, capsule); err != nil {
		return "", err
	}
	return assetID, nil
}

// GetCapsule retrieves a capsule by asset_id.
func (s *Store) GetCapsule(assetID string) (json.RawMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.capsules.Get([]byte(assetID))
	if err != nil {
		return nil, false, errs.Wrap(errs.StoreBackend, err, "read capsule")
	}
	if raw == nil {
		return nil, false, nil
	}
	return json.RawMessage(raw), true, nil
}

// QueryCapsules returns capsules matching filter, via the inverted index
// intersection when tokens are present, or a full scan otherwise.
func (s *Store) QueryCapsules(filter CapsuleFilter) ([]CapsuleSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tokens []string
	if filter.Query != "" {
		tokens = append(tokens, util.Tokenize(filter.Query)...)
	}
	for _, tag := range filter.Tags {
		tokens = append(tokens, strings.ToLower(tag))
	}

	if len(tokens) == 0 {
		it := s.capsules.Iterator()
		defer it.Close()
		var results []CapsuleSnapshot
		for it.Next() {
			capsule := json.RawMessage(it.Value())
			if matchesCapsule(capsule, filter) {
				results = append(results, CapsuleSnapshot{AssetID: string(it.Key()), Capsule: capsule})
			}
		}
		return results, nil
	}

	var candidates map[string]struct{}
	for _, token := range tokens {
		ids, err := s.indexedIDsLocked(token)
		if err != nil {
			return nil, err
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

	var results []CapsuleSnapshot
	for _, id := range ids {
		raw, err := s.capsules.Get([]byte(id))
		if err != nil {
			return nil, errs.Wrap(errs.StoreBackend, err, "read capsule")
		}
		if raw == nil {
			continue
		}
		capsule := json.RawMessage(raw)
		if matchesCapsule(capsule, filter) {
			results = append(results, CapsuleSnapshot{AssetID: id, Capsule: capsule})
		}
	}
	return results, nil
}

// GetSnapshot returns every capsule (content stripped to null), account,
// account-index pair, and ledger entry, ledger sorted by index.
func (s *Store) GetSnapshot() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{}

	it := s.capsules.Iterator()
	for it.Next() {
		stripped, err := stripContent(it.Value())
		if err != nil {
			it.Close()
			return nil, errs.Wrap(errs.StoreBackend, err, "strip capsule content")
		}
		snap.Capsules = append(snap.Capsules, CapsuleSnapshot{AssetID: string(it.Key()), Capsule: stripped})
	}
	it.Close()

	accounts, err := s.listAccountsLocked()
	if err != nil {
		return nil, err
	}
	snap.Accounts = accounts

	idxIt := s.accountIndex.Iterator()
	for idxIt.Next() {
		snap.AccountIndex = append(snap.AccountIndex, [2]string{string(idxIt.Key()), string(idxIt.Value())})
	}
	idxIt.Close()

	ledger, err := s.listLedgerLocked()
	if err != nil {
		return nil, err
	}
	snap.Ledger = ledger
	return snap, nil
}

func stripContent(raw []byte) (json.RawMessage, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return json.RawMessage(raw), nil
	}
	obj["content"] = nil
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(out), nil
}

// MatchesCapsule reports whether capsule satisfies filter, per the
// predicate in spec.md §4.2. Exported so callers outside this package (the
// mesh's compound memory query) can reuse the exact same matching rule.
func MatchesCapsule(capsule json.RawMessage, filter CapsuleFilter) bool {
	return matchesCapsule(capsule, filter)
}

func matchesCapsule(capsule json.RawMessage, filter CapsuleFilter) bool {
	var obj map[string]interface{}
	if err := json.Unmarshal(capsule, &obj); err != nil {
		return false
	}
	if filter.Type != "" {
		t, _ := obj["type"].(string)
		if t != filter.Type {
			return false
		}
	}
	if filter.MinConfidence != nil {
		conf, _ := obj["confidence"].(float64)
		if conf < *filter.MinConfidence {
			return false
		}
	}
	if len(filter.Tags) > 0 {
		tagSet := map[string]struct{}{}
		if rawTags, ok := obj["tags"].([]interface{}); ok {
			for _, t := range rawTags {
				if s, ok := t.(string); ok {
					tagSet[strings.ToLower(s)] = struct{}{}
				}
			}
		}
		for _, tag := range filter.Tags {
			if _, ok := tagSet[strings.ToLower(tag)]; !ok {
				return false
			}
		}
	}
	return true
}

func (s *Store) indexCapsuleLocked(assetID string, capsule json.RawMessage) error {
	var obj map[string]interface{}
	if err := json.Unmarshal(capsule, &obj); err != nil {
		return errs.Wrap(errs.InvalidInput, err, "invalid capsule json")
	}
	tokenSet := map[string]struct{}{}
	if tags, ok := obj["tags"].([]interface{}); ok {
		for _, t := range tags {
			if str, ok := t.(string); ok {
				tokenSet[strings.ToLower(str)] = struct{}{}
			}
		}
	}
	if content, ok := obj["content"]; ok && content != nil {
		b, err := json.Marshal(content)
		if err == nil {
			for _, tok := range util.Tokenize(string(b)) {
				tokenSet[tok] = struct{}{}
			}
		}
	}
	tokens := make([]string, 0, len(tokenSet))
	for t := range tokenSet {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)

	for _, token := range tokens {
		ids, err := s.indexedIDsLocked(token)
		if err != nil {
			return err
		}
		ids[assetID] = struct{}{}
		idList := make([]string, 0, len(ids))
		for id := range ids {
			idList = append(idList, id)
		}
		sort.Strings(idList)
		data, err := json.Marshal(idList)
		if err != nil {
			return errs.Wrap(errs.StoreBackend, err, "marshal token index")
		}
		if err := s.capsuleIndex.Set([]byte(token), data); err != nil {
			return errs.Wrap(errs.StoreBackend, err, "write token index")
		}
	}
	return nil
}

func (s *Store) indexedIDsLocked(token string) (map[string]struct{}, error) {
	raw, err := s.capsuleIndex.Get([]byte(token))
	if err != nil {
		return nil, errs.Wrap(errs.StoreBackend, err, "read token index")
	}
	result := map[string]struct{}{}
	if raw == nil {
		return result, nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, errs.Wrap(errs.StoreBackend, err, "decode token index")
	}
	for _, id := range ids {
		result[id] = struct{}{}
	}
	return result, nil
}

func (s *Store) accountIDByNode(nodeID string) (string, bool, error) {
	raw, err := s.accountIndex.Get([]byte(nodeID))
	if err != nil {
		return "", false, errs.Wrap(errs.StoreBackend, err, "read account index")
	}
	if raw == nil {
		return "", false, nil
	}
	return string(raw), true, nil
}

func (s *Store) getAccountLocked(accountID string) (*Account, error) {
	raw, err := s.accounts.Get([]byte(accountID))
	if err != nil {
		return nil, errs.Wrap(errs.StoreBackend, err, "read account")
	}
	if raw == nil {
		return nil, errs.New(errs.NotFound, "account not found")
	}
	var account Account
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, errs.Wrap(errs.StoreBackend, err, "decode account")
	}
	return &account, nil
}

func (s *Store) putAccountLocked(account *Account) error {
	data, err := json.Marshal(account)
	if err != nil {
		return errs.Wrap(errs.StoreBackend, err, "marshal account")
	}
	if err := s.accounts.Set([]byte(account.AccountID), data); err != nil {
		return errs.Wrap(errs.StoreBackend, err, "write account")
	}
	return s.persistAccountJSONLocked(account, data)
}

// persistAccountJSONLocked mirrors each account write to
// <data_dir>/accounts/<account_id>.json and <node_id>.json, and to the
// operator mirror file if this account is the genesis operator.
func (s *Store) persistAccountJSONLocked(account *Account, data []byte) error {
	accountsDir := filepath.Join(s.dataDir, "accounts")
	if err := os.MkdirAll(accountsDir, 0o755); err != nil {
		return errs.Wrap(errs.StoreBackend, err, "create accounts dir")
	}
	pretty, err := json.MarshalIndent(account, "", "  ")
	if err != nil {
		return errs.Wrap(errs.StoreBackend, err, "marshal account")
	}
	if err := os.WriteFile(filepath.Join(accountsDir, account.AccountID+".json"), pretty, 0o644); err != nil {
		return errs.Wrap(errs.StoreBackend, err, "write account mirror")
	}
	if err := os.WriteFile(filepath.Join(accountsDir, account.NodeID+".json"), pretty, 0o644); err != nil {
		return errs.Wrap(errs.StoreBackend, err, "write account mirror")
	}
	if s.genesisOperatorID != "" && s.genesisOperatorID == account.AccountID {
		if err := os.WriteFile(filepath.Join(s.dataDir, "genesis_operator_account.json"), pretty, 0o644); err != nil {
			return errs.Wrap(errs.StoreBackend, err, "write operator mirror")
		}
	}
	return nil
}

func (s *Store) listAccountsLocked() ([]Account, error) {
	it := s.accounts.Iterator()
	defer it.Close()
	var accounts []Account
	for it.Next() {
		var a Account
		if err := json.Unmarshal(it.Value(), &a); err != nil {
			return nil, errs.Wrap(errs.StoreBackend, err, "decode account")
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

func (s *Store) listLedgerLocked() ([]LedgerEntry, error) {
	it := s.ledger.Iterator()
	defer it.Close()
	var entries []LedgerEntry
	for it.Next() {
		var e LedgerEntry
		if err := json.Unmarshal(it.Value(), &e); err != nil {
			return nil, errs.Wrap(errs.StoreBackend, err, "decode ledger entry")
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Index < entries[j].Index })
	return entries, nil
}

func (s *Store) appendLedgerLocked(entryType, from, to string, amount int64, meta json.RawMessage) (*LedgerEntry, error) {
	index, prevHash, err := s.ledgerHeadLocked()
	if err != nil {
		return nil, err
	}
	if meta == nil {
		meta = json.RawMessage("{}")
	}
	payload := map[string]interface{}{
		"index":      index,
		"prev_hash":  prevHash,
		"timestamp":  util.NowMillis(),
		"entry_type": entryType,
		"from":       nullableString(from),
		"to":         nullableString(to),
		"amount":     amount,
		"meta":       json.RawMessage(meta),
	}
	canon, err := canonicalMap(payload)
	if err != nil {
		return nil, errs.Wrap(errs.StoreBackend, err, "canonicalize ledger entry")
	}
	hash := util.SHA256Hex(string(canon))

	entry := &LedgerEntry{
		Index:     index,
		PrevHash:  prevHash,
		Hash:      hash,
		Timestamp: payload["timestamp"].(int64),
		EntryType: entryType,
		From:      from,
		To:        to,
		Amount:    amount,
		Meta:      meta,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, errs.Wrap(errs.StoreBackend, err, "marshal ledger entry")
	}
	key := indexKey(index)
	if err := s.ledger.Set(key, data); err != nil {
		return nil, errs.Wrap(errs.StoreBackend, err, "write ledger entry")
	}
	metrics.LedgerEntriesAppended.WithLabelValues(entryType).Inc()
	return entry, nil
}

func (s *Store) ledgerHeadLocked() (uint64, string, error) {
	it := s.ledger.Iterator()
	defer it.Close()
	var lastIndex uint64
	var lastHash string
	found := false
	for it.Next() {
		var e LedgerEntry
		if err := json.Unmarshal(it.Value(), &e); err != nil {
			return 0, "", errs.Wrap(errs.StoreBackend, err, "decode ledger entry")
		}
		if !found || e.Index > lastIndex {
			lastIndex = e.Index
			lastHash = e.Hash
			found = true
		}
	}
	if !found {
		return 0, "", nil
	}
	return lastIndex + 1, lastHash, nil
}

func (s *Store) ensureGenesisAccountLocked() (*Account, error) {
	if accountID, ok, err := s.accountIDByNode(genesisNodeID); err != nil {
		return nil, err
	} else if ok {
		return s.getAccountLocked(accountID)
	}
	account := &Account{
		AccountID: genesisAccountID,
		NodeID:    genesisNodeID,
		Algorithm: "genesis",
		SeedHash:  util.SHA256Hex("genesis"),
		CreatedAt: util.NowISO(),
		Balance:   0,
	}
	if err := s.putAccountLocked(account); err != nil {
		return nil, err
	}
	if err := s.accountIndex.Set([]byte(genesisNodeID), []byte(genesisAccountID)); err != nil {
		return nil, errs.Wrap(errs.StoreBackend, err, "index genesis account")
	}

	ledgerLen, err := s.ledger.Len()
	if err != nil {
		return nil, errs.Wrap(errs.StoreBackend, err, "read ledger length")
	}
	if ledgerLen != 0 {
		return account, nil
	}

	supply := config.GenesisSupply()
	if _, err := s.appendLedgerLocked("mint", "", genesisAccountID, supply, nil); err != nil {
		return nil, err
	}
	account.Balance += supply
	if err := s.putAccountLocked(account); err != nil {
		return nil, err
	}
	s.log.Infof("genesis bootstrap minted %d to %s", supply, account.AccountID)
	return account, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func indexKey(index uint64) []byte {
	return []byte(fmt.Sprintf("%020d", index))
}

// canonicalMap serializes a plain map with recursively sorted keys, reusing
// the same canonical form capsules are hashed with.
func canonicalMap(m map[string]interface{}) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return canonicalJSON(raw)
}
