// Package adminapi is a thin HTTP/WebSocket wrapper over Store, Bazaar
// and the mesh Node (spec.md §6): the handlers here hold no domain logic
// of their own, they only translate requests into calls on those three
// collaborators and shape the JSON response.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/qqliaoxin/openclaw-mesh/internal/bazaar"
	"github.com/qqliaoxin/openclaw-mesh/internal/mesh"
	"github.com/qqliaoxin/openclaw-mesh/internal/store"
	"github.com/qqliaoxin/openclaw-mesh/pkg/errs"
	"github.com/qqliaoxin/openclaw-mesh/pkg/logging"
	"github.com/qqliaoxin/openclaw-mesh/pkg/util"
)

// Server wires the admin HTTP/WebSocket surface to one node's collaborators.
type Server struct {
	store     *store.Store
	bazaar    *bazaar.Bazaar
	node      *mesh.Node
	nodeID    string
	isGenesis string
	startedAt time.Time
	log       *logging.Logger

	upgrader websocket.Upgrader
}

// New constructs a Server. isGenesis controls whether memories responses
// strip capsule content.
func New(nodeID string, isGenesis bool, st *store.Store, b *bazaar.Bazaar, node *mesh.Node) *Server {
	genesisFlag := "false"
	if isGenesis {
		genesisFlag = "true"
	}
	return &Server{
		store:     st,
		bazaar:    b,
		node:      node,
		nodeID:    nodeID,
		isGenesis: genesisFlag,
		startedAt: time.Now(),
		log:       logging.GetDefault().Component("adminapi"),
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

func (s *Server) genesisMode() bool { return s.isGenesis == "true" }

// Router builds the chi router for the admin HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", s.handleWS)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/account", s.handleAccount)
	r.Get("/api/account/export", s.handleExportAccount)
	r.Post("/api/account/import", s.handleImportAccount)
	r.Post("/api/account/transfer", s.handleTransfer)
	r.Get("/api/memories", s.handleMemories)
	r.Get("/api/memory/{id}", s.handleMemoryByID)
	r.Post("/api/memory/publish", s.handlePublishCapsule)
	r.Post("/api/memory/query", s.handleQueryCapsules)
	r.Get("/api/tasks", s.handleTasks)
	r.Post("/api/task/publish", s.handlePublishTask)
	r.Get("/api/peers", s.handlePeers)
	r.Get("/api/stats", s.handleStats)
	r.Get("/api/snapshot", s.handleSnapshot)
	return r
}

type apiResult struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, apiResult{Success: true, Data: data})
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, apiResult{Success: false, Error: err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodeId":    s.nodeID,
		"peers":     s.node.Peers(),
		"taskCount": s.bazaar.GetTaskCount(),
		"uptime":    time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.store.EnsureAccount(s.nodeID, "gep-lite-v1")
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleExportAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.store.ExportAccount(s.nodeID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeOK(w, account)
}

func (s *Server) handleImportAccount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Account store.Account `json:"account"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	account, err := s.store.ImportAccount(s.nodeID, &body.Account)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeOK(w, account)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ToAccountID       string `json:"to_account_id"`
		Amount            int64  `json:"amount"`
		FromAccountID     string `json:"from_account_id"`
		OperatorAccountID string `json:"operator_account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	fromAccountID := body.FromAccountID
	if fromAccountID == "" {
		if id, ok, err := s.store.AccountIDByNode(s.nodeID); err == nil && ok {
			fromAccountID = id
		}
	}
	if fromAccountID == "" {
		writeErr(w, http.StatusBadRequest, errNotFound("from account not found"))
		return
	}
	if err := s.store.Transfer(fromAccountID, body.ToAccountID, body.Amount, body.OperatorAccountID); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	writeOK(w, map[string]bool{"ok": true})
}

func (s *Server) handleMemories(w http.ResponseWriter, r *http.Request) {
	results, err := s.store.QueryCapsules(store.CapsuleFilter{})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if !s.genesisMode() {
		for i := range results {
			results[i].Capsule = stripContent(results[i].Capsule)
		}
	}
	if len(results) > 50 {
		results = results[:50]
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleMemoryByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	capsule, found, err := s.store.GetCapsule(id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if !s.genesisMode() {
		capsule = stripContent(capsule)
	}
	writeJSON(w, http.StatusOK, capsule)
}

func (s *Server) handlePublishCapsule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Capsule json.RawMessage `json:"capsule"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	assetID, err := s.store.StoreCapsule(body.Capsule)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.node.DHTStore("capsule:"+assetID, body.Capsule); err != nil {
		s.log.Warnf("dht_store capsule %s: %v", assetID, err)
	}
	for _, token := range capsuleTokens(body.Capsule) {
		idList, _ := json.Marshal([]string{assetID})
		if err := s.node.DHTStore("token:"+token, idList); err != nil {
			s.log.Warnf("dht_store token %s: %v", token, err)
		}
	}
	writeOK(w, map[string]string{"asset_id": assetID})
}

func (s *Server) handleQueryCapsules(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CapsuleType   string   `json:"capsule_type"`
		Tags          []string `json:"tags"`
		Query         string   `json:"query"`
		MinConfidence *float64 `json:"min_confidence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	filter := store.CapsuleFilter{Type: body.CapsuleType, Tags: body.Tags, Query: body.Query, MinConfidence: body.MinConfidence}

	if len(body.Tags) > 0 || body.Query != "" {
		ctx, cancel := contextWithDHTTimeout(r)
		defer cancel()
		remote, err := s.node.QueryMemories(ctx, body.Query, body.Tags, func(c json.RawMessage) bool {
			return store.MatchesCapsule(c, filter)
		})
		if err == nil {
			for _, capsule := range remote {
				if _, err := s.store.StoreCapsule(capsule); err != nil {
					s.log.Warnf("store remote capsule: %v", err)
				}
			}
		}
	}

	results, err := s.store.QueryCapsules(filter)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeOK(w, map[string]interface{}{"capsules": results})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bazaar.GetTasks())
}

func (s *Server) handlePublishTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Description string   `json:"description"`
		Bounty      *int64   `json:"bounty"`
		Tags        []string `json:"tags"`
		Publisher   string   `json:"publisher"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	amount := int64(100)
	if body.Bounty != nil {
		amount = *body.Bounty
	}
	task := bazaar.Task{
		Description: body.Description,
		Bounty:      bazaar.TaskBounty{Amount: amount, Token: "CLAW"},
		Tags:        body.Tags,
		Publisher:   body.Publisher,
	}
	taskID, err := s.bazaar.PublishTask(task)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	published, _ := s.bazaar.GetTask(taskID)
	if published != nil {
		payload, _ := json.Marshal(published)
		if _, err := s.node.BroadcastTask("task", payload); err != nil {
			s.log.Warnf("broadcast published task %s: %v", taskID, err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "task": published, "taskId": taskID})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Peers())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	balance, err := s.bazaar.GetBalance()
	if err != nil {
		balance = bazaar.BalanceStats{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks":   s.bazaar.GetStats(),
		"balance": balance,
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.GetSnapshot()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	initial, _ := json.Marshal(s.statusEvent())
	if err := conn.WriteMessage(websocket.TextMessage, initial); err != nil {
		return
	}

	statusTicker := time.NewTicker(5 * time.Second)
	pingTicker := time.NewTicker(20 * time.Second)
	defer statusTicker.Stop()
	defer pingTicker.Stop()

	done := make(chan struct{})
	pings := make(chan struct{}, 1)
	go func() {
		defer close(done)
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.TextMessage && string(data) == "ping" {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-pings:
			if err := conn.WriteMessage(websocket.TextMessage, []byte("pong")); err != nil {
				return
			}
		case <-statusTicker.C:
			payload, _ := json.Marshal(s.statusEvent())
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-pingTicker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) statusEvent() map[string]interface{} {
	return map[string]interface{}{
		"type": "status",
		"data": map[string]interface{}{
			"nodeId":    s.nodeID,
			"peers":     s.node.Peers(),
			"taskCount": s.bazaar.GetTaskCount(),
			"uptime":    time.Since(s.startedAt).Seconds(),
		},
	}
}

func stripContent(capsule json.RawMessage) json.RawMessage {
	var obj map[string]interface{}
	if err := json.Unmarshal(capsule, &obj); err != nil {
		return capsule
	}
	obj["content"] = nil
	out, err := json.Marshal(obj)
	if err != nil {
		return capsule
	}
	return json.RawMessage(out)
}

func capsuleTokens(capsule json.RawMessage) []string {
	var obj map[string]interface{}
	if err := json.Unmarshal(capsule, &obj); err != nil {
		return nil
	}
	seen := map[string]struct{}{}
	if tags, ok := obj["tags"].([]interface{}); ok {
		for _, t := range tags {
			if str, ok := t.(string); ok {
				seen[lower(str)] = struct{}{}
			}
		}
	}
	if content, ok := obj["content"]; ok && content != nil {
		b, err := json.Marshal(content)
		if err == nil {
			for _, tok := range util.Tokenize(string(b)) {
				seen[tok] = struct{}{}
			}
		}
	}
	tokens := make([]string, 0, len(seen))
	for t := range seen {
		tokens = append(tokens, t)
	}
	return tokens
}

func errNotFound(msg string) error {
	return errs.New(errs.NotFound, msg)
}

func contextWithDHTTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 5*time.Second)
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c - 'A' + 'a'
		}
	}
	return string(b)
}
