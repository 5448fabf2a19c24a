package adminapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qqliaoxin/openclaw-mesh/internal/bazaar"
	"github.com/qqliaoxin/openclaw-mesh/internal/mesh"
	"github.com/qqliaoxin/openclaw-mesh/internal/store"
)

func newTestServer(t *testing.T, genesis bool) (*Server, *store.Store) {
	t.Helper()
	t.Setenv("OPENCLAW_GENESIS_SUPPLY", "1000000")
	st, err := store.Open(t.TempDir(), "node_admin", genesis, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	node := mesh.New("node_admin", 0, nil, mesh.DHTConfig{K: 8, Alpha: 3, MaxHops: 6})
	b := bazaar.New("node_admin", st)
	return New("node_admin", genesis, st, b, node), st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleAccountCreatesAndReturnsAccount(t *testing.T) {
	s, _ := newTestServer(t, true)
	rec := doJSON(t, s.Router(), http.MethodGet, "/api/account", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var account store.Account
	if err := json.Unmarshal(rec.Body.Bytes(), &account); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if account.NodeID != "node_admin" {
		t.Fatalf("nodeId = %q", account.NodeID)
	}
}

func TestHandleExportImportAccountRoundTrips(t *testing.T) {
	s, _ := newTestServer(t, true)
	doJSON(t, s.Router(), http.MethodGet, "/api/account", nil)

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/account/export", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	var exported apiResult
	if err := json.Unmarshal(rec.Body.Bytes(), &exported); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	raw, _ := json.Marshal(exported.Data)
	var account store.Account
	if err := json.Unmarshal(raw, &account); err != nil {
		t.Fatalf("decode account: %v", err)
	}

	importRec := doJSON(t, s.Router(), http.MethodPost, "/api/account/import", map[string]interface{}{"account": account})
	if importRec.Code != http.StatusOK {
		t.Fatalf("import status = %d, body = %s", importRec.Code, importRec.Body.String())
	}
}

func TestHandleTransferMovesBalance(t *testing.T) {
	s, st := newTestServer(t, true)
	doJSON(t, s.Router(), http.MethodGet, "/api/account", nil)
	sender, err := st.EnsureAccount("node_admin", "gep-lite-v1")
	if err != nil {
		t.Fatalf("ensure sender: %v", err)
	}
	sender.Balance = 50
	if _, err := st.ImportAccount("node_admin", sender); err != nil {
		t.Fatalf("fund sender: %v", err)
	}
	recipient, err := st.EnsureAccount("node_other", "gep-lite-v1")
	if err != nil {
		t.Fatalf("ensure recipient: %v", err)
	}

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/account/transfer", map[string]interface{}{
		"to_account_id": recipient.AccountID,
		"amount":        10,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if balance, err := st.GetBalance("node_other"); err != nil || balance != 10 {
		t.Fatalf("recipient balance = %d (err %v), want 10", balance, err)
	}
}

func TestHandleTransferRejectsUnknownSender(t *testing.T) {
	s, _ := newTestServer(t, false)
	rec := doJSON(t, s.Router(), http.MethodPost, "/api/account/transfer", map[string]interface{}{
		"to_account_id":   "acct_missing",
		"amount":          10,
		"from_account_id": "",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandlePublishAndQueryMemories(t *testing.T) {
	s, _ := newTestServer(t, true)
	capsule := json.RawMessage(`{"type":"fact","content":"the sky is blue","tags":["sky","color"]}`)
	rec := doJSON(t, s.Router(), http.MethodPost, "/api/memory/publish", map[string]interface{}{"capsule": capsule})
	if rec.Code != http.StatusOK {
		t.Fatalf("publish status = %d, body = %s", rec.Code, rec.Body.String())
	}

	listRec := doJSON(t, s.Router(), http.MethodGet, "/api/memories", nil)
	if listRec.Code != http.StatusOK {
		t.Fatalf("memories status = %d", listRec.Code)
	}
	var snapshots []store.CapsuleSnapshot
	if err := json.Unmarshal(listRec.Body.Bytes(), &snapshots); err != nil {
		t.Fatalf("decode memories: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("len(snapshots) = %d, want 1", len(snapshots))
	}
}

func TestHandleMemoriesStripsContentForNonGenesis(t *testing.T) {
	s, _ := newTestServer(t, false)
	capsule := json.RawMessage(`{"type":"fact","content":"secret","tags":["a"]}`)
	doJSON(t, s.Router(), http.MethodPost, "/api/memory/publish", map[string]interface{}{"capsule": capsule})

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/memories", nil)
	var snapshots []store.CapsuleSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshots); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("len(snapshots) = %d, want 1", len(snapshots))
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(snapshots[0].Capsule, &obj); err != nil {
		t.Fatalf("decode capsule: %v", err)
	}
	if obj["content"] != nil {
		t.Fatalf("content = %v, want nil", obj["content"])
	}
}

func TestHandleMemoryByIDUnknownReturnsNull(t *testing.T) {
	s, _ := newTestServer(t, true)
	rec := doJSON(t, s.Router(), http.MethodGet, "/api/memory/does-not-exist", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "null" {
		t.Fatalf("body = %q, want null", rec.Body.String())
	}
}

func TestHandlePublishAndListTasks(t *testing.T) {
	s, _ := newTestServer(t, true)
	bounty := int64(500)
	rec := doJSON(t, s.Router(), http.MethodPost, "/api/task/publish", map[string]interface{}{
		"description": "write a test",
		"bounty":      bounty,
		"tags":        []string{"go"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("publish status = %d, body = %s", rec.Code, rec.Body.String())
	}

	listRec := doJSON(t, s.Router(), http.MethodGet, "/api/tasks", nil)
	var tasks []bazaar.Task
	if err := json.Unmarshal(listRec.Body.Bytes(), &tasks); err != nil {
		t.Fatalf("decode tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("len(tasks) = %d, want 1", len(tasks))
	}
	if tasks[0].Bounty.Amount != bounty {
		t.Fatalf("bounty = %d, want %d", tasks[0].Bounty.Amount, bounty)
	}
}

func TestHandleStatsReturnsTasksAndBalance(t *testing.T) {
	s, _ := newTestServer(t, true)
	rec := doJSON(t, s.Router(), http.MethodGet, "/api/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["tasks"]; !ok {
		t.Fatalf("missing tasks field")
	}
	if _, ok := body["balance"]; !ok {
		t.Fatalf("missing balance field")
	}
}

func TestHandleSnapshotReturnsStoreSnapshot(t *testing.T) {
	s, _ := newTestServer(t, true)
	rec := doJSON(t, s.Router(), http.MethodGet, "/api/snapshot", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap store.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
}

func TestHandlePeersReturnsEmptyListInitially(t *testing.T) {
	s, _ := newTestServer(t, true)
	rec := doJSON(t, s.Router(), http.MethodGet, "/api/peers", nil)
	var peers []string
	if err := json.Unmarshal(rec.Body.Bytes(), &peers); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(peers) != 0 {
		t.Fatalf("len(peers) = %d, want 0", len(peers))
	}
}

func TestHandleWSSendsInitialStatusEvent(t *testing.T) {
	s, _ := newTestServer(t, true)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var event map[string]interface{}
	if err := json.Unmarshal(msg, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event["type"] != "status" {
		t.Fatalf("type = %v, want status", event["type"])
	}
}
