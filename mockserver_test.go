// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package couchdb_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
)

// fakeCouch is an in-memory stand-in for a document store server,
// canned responses plus enough request recording for the tests to
// assert on traffic.
type fakeCouch struct {
	mu        sync.Mutex
	requests  []string
	uuidCalls []int
	nextUUID  int
}

func (f *fakeCouch) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req := r.Method + " " + r.URL.Path
	if r.URL.RawQuery != "" {
		req += "?" + r.URL.RawQuery
	}
	f.requests = append(f.requests, req)
}

func (f *fakeCouch) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *fakeCouch) uuidCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uuidCalls)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, name, reason string) {
	writeJSON(w, status, map[string]string{"error": name, "reason": reason})
}

func (f *fakeCouch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	switch r.Method + " " + r.URL.Path {
	case "GET /":
		writeJSON(w, http.StatusOK, map[string]string{"couchdb": "Welcome", "version": "3.3.3"})
	case "GET /_all_dbs":
		writeJSON(w, http.StatusOK, []string{"_users", "testdb"})
	case "GET /_uuids":
		count, _ := strconv.Atoi(r.URL.Query().Get("count"))
		f.mu.Lock()
		f.uuidCalls = append(f.uuidCalls, count)
		ids := make([]string, count)
		for i := range ids {
			ids[i] = fmt.Sprintf("uuid-%06d", f.nextUUID)
			f.nextUUID++
		}
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string][]string{"uuids": ids})
	case "PUT /testdb":
		writeJSON(w, http.StatusCreated, map[string]bool{"ok": true})
	case "PUT /existing":
		writeError(w, http.StatusPreconditionFailed, "file_exists", "The database could not be created, the file already exists.")
	case "DELETE /testdb":
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case "HEAD /testdb":
		w.WriteHeader(http.StatusOK)
	case "HEAD /missingdb":
		w.WriteHeader(http.StatusNotFound)
	case "GET /testdb":
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"db_name": "testdb", "doc_count": 2, "update_seq": 42,
		})
	case "GET /testdb/missing":
		writeError(w, http.StatusNotFound, "not_found", "missing")
	case "GET /testdb/doc1":
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"_id": "doc1", "_rev": "1-abc", "kind": "test",
		})
	case "GET /testdb/_all_docs":
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"total_rows": 2, "offset": 0,
			"rows": []map[string]interface{}{
				{"id": "doc1", "key": "doc1", "value": map[string]string{"rev": "1-abc"}},
				{"id": "doc2", "key": "doc2", "value": map[string]string{"rev": "4-def"}},
			},
		})
	case "GET /testdb/_changes":
		f.serveChanges(w, r)
	case "GET /testdb/doc1/data.bin":
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("hello "))
		flusher.Flush()
		_, _ = w.Write([]byte("world"))
	case "GET /testdb/doc1/slow.bin":
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	case "PUT /testdb/doc1/data.bin":
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"ok": true, "id": "doc1", "rev": "2-att",
		})
	case "DELETE /testdb/doc1/data.bin":
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok": true, "id": "doc1", "rev": "3-att",
		})
	default:
		f.serveDoc(w, r)
	}
}

// serveDoc handles writes against arbitrary document ids.
func (f *fakeCouch) serveDoc(w http.ResponseWriter, r *http.Request) {
	if len(r.URL.Path) > len("/testdb/") && r.URL.Path[:len("/testdb/")] == "/testdb/" {
		id := r.URL.Path[len("/testdb/"):]
		switch r.Method {
		case "PUT":
			writeJSON(w, http.StatusCreated, map[string]interface{}{
				"ok": true, "id": id, "rev": "1-abc",
			})
			return
		case "DELETE":
			if r.URL.Query().Get("rev") == "" {
				writeError(w, http.StatusConflict, "conflict", "Document update conflict.")
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"ok": true, "id": id, "rev": "2-abc",
			})
			return
		}
	}
	writeError(w, http.StatusNotFound, "not_found", "missing")
}

func (f *fakeCouch) serveChanges(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("since") == "hang" {
		w.Header().Set("Content-Type", "application/json")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		return
	}
	if r.URL.Query().Get("feed") != "continuous" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"results": []map[string]interface{}{
				{"seq": 1, "id": "doc1", "changes": []map[string]string{{"rev": "1-abc"}}},
			},
			"last_seq": 1,
		})
		return
	}
	flusher := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"seq":1,"id":"doc1","changes":[{"rev":"1-abc"}]}` + "\n"))
	flusher.Flush()
	// Heartbeat, then a second row split across two flushes.
	_, _ = w.Write([]byte("\n"))
	flusher.Flush()
	_, _ = w.Write([]byte(`{"seq":2,"id":"doc2",`))
	flusher.Flush()
	_, _ = w.Write([]byte(`"changes":[{"rev":"4-def"}],"deleted":true}` + "\n"))
	flusher.Flush()
	_, _ = w.Write([]byte(`{"last_seq":2}` + "\n"))
}
