package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// recordedRequest captures one request the mock platform received, for
// assertions on headers and retry counts.
type recordedRequest struct {
	Method        string
	Path          string
	TenantID      string
	CorrelationID string
	Subject       string
}

// mockPlatform is an in-memory stand-in for the low-code platform backend.
// It implements the data, email, AI, spec, and health endpoints the BFF
// talks to, and supports failure injection for resilience tests.
type mockPlatform struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	records  map[string]map[string]map[string]any
	nextID   int
	emails   []map[string]any
	requests []recordedRequest

	// failRemaining>0 makes the next N requests (spec endpoint excluded)
	// respond with failStatus.
	failRemaining int
	failStatus    int

	llmOutput string
}

// newMockPlatform starts the mock server. It is shut down with the test.
func newMockPlatform(t *testing.T) *mockPlatform {
	t.Helper()

	mp := &mockPlatform{
		t:         t,
		records:   make(map[string]map[string]map[string]any),
		llmOutput: `[{"type":"text","label":"Company name","required":true}]`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeMockJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /api/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(platformSpecFixture))
	})
	mux.HandleFunc("GET /api/data/{entity}", mp.handleList)
	mux.HandleFunc("POST /api/data/{entity}", mp.handleCreate)
	mux.HandleFunc("GET /api/data/{entity}/{id}", mp.handleGet)
	mux.HandleFunc("PATCH /api/data/{entity}/{id}", mp.handleUpdate)
	mux.HandleFunc("DELETE /api/data/{entity}/{id}", mp.handleDelete)
	mux.HandleFunc("POST /api/email/send", mp.handleEmail)
	mux.HandleFunc("POST /api/ai/invoke", mp.handleInvoke)

	mp.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mp.mu.Lock()
		mp.requests = append(mp.requests, recordedRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			TenantID:      r.Header.Get("X-Tenant-Id"),
			CorrelationID: r.Header.Get("X-Correlation-Id"),
			Subject:       r.Header.Get("X-Request-Subject"),
		})
		inject := mp.failRemaining > 0 && r.URL.Path != "/api/openapi.json"
		if inject {
			mp.failRemaining--
		}
		status := mp.failStatus
		mp.mu.Unlock()

		if inject {
			writeMockJSON(w, status, map[string]string{"error": "injected failure"})
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(mp.server.Close)

	return mp
}

// URL returns the mock server's base URL.
func (mp *mockPlatform) URL() string {
	return mp.server.URL
}

// FailNext makes the next n requests fail with the given status. The spec
// endpoint is exempt so harness startup never trips the injection.
func (mp *mockPlatform) FailNext(n, status int) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.failRemaining = n
	mp.failStatus = status
}

// SetLLMOutput sets the raw text the AI endpoint returns.
func (mp *mockPlatform) SetLLMOutput(output string) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.llmOutput = output
}

// Seed inserts a record directly into the store and returns its ID.
func (mp *mockPlatform) Seed(entity string, payload map[string]any) string {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.insertLocked(entity, payload)
}

// RecordCount returns how many records the given entity holds.
func (mp *mockPlatform) RecordCount(entity string) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return len(mp.records[entity])
}

// Emails returns the email payloads received so far.
func (mp *mockPlatform) Emails() []map[string]any {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	out := make([]map[string]any, len(mp.emails))
	copy(out, mp.emails)
	return out
}

// RequestCount returns how many requests hit paths with the given prefix.
func (mp *mockPlatform) RequestCount(pathPrefix string) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	n := 0
	for _, req := range mp.requests {
		if strings.HasPrefix(req.Path, pathPrefix) {
			n++
		}
	}
	return n
}

// LastRequest returns the most recent request with the given path prefix.
func (mp *mockPlatform) LastRequest(pathPrefix string) (recordedRequest, bool) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	for i := len(mp.requests) - 1; i >= 0; i-- {
		if strings.HasPrefix(mp.requests[i].Path, pathPrefix) {
			return mp.requests[i], true
		}
	}
	return recordedRequest{}, false
}

func (mp *mockPlatform) insertLocked(entity string, payload map[string]any) string {
	mp.nextID++
	id := fmt.Sprintf("rec-%d", mp.nextID)
	if mp.records[entity] == nil {
		mp.records[entity] = make(map[string]map[string]any)
	}
	stored := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		stored[k] = v
	}
	stored["id"] = id
	mp.records[entity][id] = stored
	return id
}

func (mp *mockPlatform) handleList(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "pageSize", 25)

	mp.mu.Lock()
	ids := make([]string, 0, len(mp.records[entity]))
	for id := range mp.records[entity] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	total := len(ids)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	items := make([]map[string]any, 0, end-start)
	for _, id := range ids[start:end] {
		items = append(items, copyRecord(mp.records[entity][id]))
	}
	mp.mu.Unlock()

	writeMockJSON(w, http.StatusOK, map[string]any{
		"items":     items,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (mp *mockPlatform) handleCreate(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeMockJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	mp.mu.Lock()
	id := mp.insertLocked(entity, payload)
	mp.mu.Unlock()

	writeMockJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (mp *mockPlatform) handleGet(w http.ResponseWriter, r *http.Request) {
	entity, id := r.PathValue("entity"), r.PathValue("id")

	mp.mu.Lock()
	record, ok := mp.records[entity][id]
	if ok {
		record = copyRecord(record)
	}
	mp.mu.Unlock()

	if !ok {
		writeMockJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeMockJSON(w, http.StatusOK, record)
}

func (mp *mockPlatform) handleUpdate(w http.ResponseWriter, r *http.Request) {
	entity, id := r.PathValue("entity"), r.PathValue("id")

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeMockJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	mp.mu.Lock()
	record, ok := mp.records[entity][id]
	if ok {
		for k, v := range payload {
			record[k] = v
		}
		record["id"] = id
	}
	mp.mu.Unlock()

	if !ok {
		writeMockJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (mp *mockPlatform) handleDelete(w http.ResponseWriter, r *http.Request) {
	entity, id := r.PathValue("entity"), r.PathValue("id")

	mp.mu.Lock()
	_, ok := mp.records[entity][id]
	if ok {
		delete(mp.records[entity], id)
	}
	mp.mu.Unlock()

	if !ok {
		writeMockJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (mp *mockPlatform) handleEmail(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeMockJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	mp.mu.Lock()
	mp.emails = append(mp.emails, payload)
	mp.mu.Unlock()

	writeMockJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (mp *mockPlatform) handleInvoke(w http.ResponseWriter, r *http.Request) {
	mp.mu.Lock()
	output := mp.llmOutput
	mp.mu.Unlock()

	writeMockJSON(w, http.StatusOK, map[string]string{"output": output})
}

func writeMockJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func copyRecord(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}

// platformSpecFixture is the OpenAPI document the mock platform serves. The
// entity index built from it backs validator reference checks.
const platformSpecFixture = `{
  "openapi": "3.0.3",
  "info": {"title": "Platform Data API", "version": "1.0.0"},
  "paths": {},
  "components": {
    "schemas": {
      "Proposal": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string"},
          "owner": {"type": "string"},
          "status": {"type": "string"},
          "value": {"type": "number"}
        }
      },
      "PastPerformance": {
        "type": "object",
        "properties": {
          "title": {"type": "string"},
          "agency": {"type": "string"},
          "contract_value": {"type": "number"}
        }
      },
      "KeyPersonnel": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "role": {"type": "string"},
          "clearance": {"type": "string"}
        }
      },
      "Agency": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "code": {"type": "string"}
        }
      },
      "ModalConfig": {
        "type": "object",
        "properties": {
          "title": {"type": "string"},
          "config": {"type": "string"}
        }
      }
    }
  }
}`
