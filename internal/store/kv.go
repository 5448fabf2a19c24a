package store

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/qqliaoxin/openclaw-mesh/pkg/errs"
)

// KVTable is a single named table of byte-string key/value pairs. The
// concrete on-disk engine is an external collaborator (spec.md §1); this
// interface is the contract the rest of the Store programs against,
// modeled on the teacher's KVStore/Iterator shape in core/cross_chain.go.
type KVTable interface {
	Set(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	Iterator() KVIterator
	Len() (int, error)
}

// KVIterator walks a table's entries in ascending key order.
type KVIterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Close() error
}

// jsonFileTable is the default KVTable: each table is one JSON file under
// <data_dir>/kv/<name>.json, guarded by a mutex and fully reloaded on Open.
// This keeps persistence real (spec.md §4.2) while leaving room for a real
// embedded engine to be swapped in behind the same interface later.
type jsonFileTable struct {
	mu   sync.RWMutex
	path string
	data map[string][]byte
}

func openJSONFileTable(dir, name string) (*jsonFileTable, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.StoreBackend, err, "create kv dir")
	}
	path := filepath.Join(dir, name+".json")
	t := &jsonFileTable{path: path, data: map[string][]byte{}}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, errs.Wrap(errs.StoreBackend, err, "read kv table "+name)
	}
	if len(raw) == 0 {
		return t, nil
	}
	var encoded map[string]string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, errs.Wrap(errs.StoreBackend, err, "decode kv table "+name)
	}
	for k, v := range encoded {
		t.data[k] = []byte(v)
	}
	return t, nil
}

func (t *jsonFileTable) Set(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data[string(key)] = append([]byte(nil), value...)
	return t.persistLocked()
}

func (t *jsonFileTable) Get(key []byte) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.data[string(key)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (t *jsonFileTable) Has(key []byte) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.data[string(key)]
	return ok, nil
}

func (t *jsonFileTable) Delete(key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.data, string(key))
	return t.persistLocked()
}

func (t *jsonFileTable) Len() (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.data), nil
}

func (t *jsonFileTable) Iterator() KVIterator {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.data))
	for k := range t.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = append([]byte(nil), t.data[k]...)
	}
	return &sliceIterator{keys: keys, values: values, index: -1}
}

// persistLocked must be called with t.mu held.
func (t *jsonFileTable) persistLocked() error {
	encoded := make(map[string]string, len(t.data))
	for k, v := range t.data {
		encoded[k] = string(v)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(encoded); err != nil {
		return errs.Wrap(errs.StoreBackend, err, "encode kv table")
	}
	if err := os.WriteFile(t.path, buf.Bytes(), 0o644); err != nil {
		return errs.Wrap(errs.StoreBackend, err, "write kv table")
	}
	return nil
}

type sliceIterator struct {
	keys   []string
	values [][]byte
	index  int
}

func (it *sliceIterator) Next() bool {
	it.index++
	return it.index < len(it.keys)
}

func (it *sliceIterator) Key() []byte   { return []byte(it.keys[it.index]) }
func (it *sliceIterator) Value() []byte { return it.values[it.index] }
func (it *sliceIterator) Close() error  { return nil }
