package es

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pedcommons/etl/internal/transform"
)

// fakeES wraps a handler with the product header the client library checks
// on every response.
func fakeES(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		handler(w, r)
	}))
}

func testLoader(t *testing.T, srv *httptest.Server) *Loader {
	t.Helper()
	client, err := NewClient(srv.URL, 0)
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}
	loader := NewLoader(client, zerolog.Nop())
	loader.RetryDelay = time.Millisecond
	return loader
}

func TestNewClient_RequestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := fakeES(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{"acknowledged": true}`))
	})
	defer srv.Close()
	defer close(release)

	client, err := NewClient(srv.URL, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}
	loader := NewLoader(client, zerolog.Nop())
	loader.MaxTries = 1

	err = loader.CreateIndex(context.Background(), "pcdc_test", map[string]any{})
	if err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Errorf("expected a response timeout error, got %v", err)
	}
}

func TestCreateIndex(t *testing.T) {
	var body map[string]any
	srv := fakeES(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/pcdc_test" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding index body: %v", err)
		}
		w.Write([]byte(`{"acknowledged": true}`))
	})
	defer srv.Close()

	mapping := map[string]any{
		"mappings": map[string]any{"properties": map[string]any{}},
	}
	if err := testLoader(t, srv).CreateIndex(context.Background(), "pcdc_test", mapping); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	settings, ok := body["settings"].(map[string]any)
	if !ok {
		t.Fatalf("expected settings in index body, got %v", body)
	}
	if settings["index.mapping.total_fields.limit"] != float64(2000) {
		t.Errorf("unexpected field limit: %v", settings)
	}
	if _, ok := body["mappings"]; !ok {
		t.Errorf("expected mappings merged into index body, got %v", body)
	}
}

func TestCreateIndex_Error(t *testing.T) {
	srv := fakeES(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "resource_already_exists_exception"}`))
	})
	defer srv.Close()

	err := testLoader(t, srv).CreateIndex(context.Background(), "pcdc_test", map[string]any{})
	if err == nil || !strings.Contains(err.Error(), "resource_already_exists_exception") {
		t.Errorf("expected index creation error with body excerpt, got %v", err)
	}
}

func TestLoadData_Batches(t *testing.T) {
	var calls atomic.Int32
	var ids []string
	srv := fakeES(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_bulk" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		calls.Add(1)
		scanner := bufio.NewScanner(r.Body)
		for scanner.Scan() {
			var action struct {
				Index struct {
					ID string `json:"_id"`
				} `json:"index"`
			}
			if err := json.Unmarshal(scanner.Bytes(), &action); err == nil && action.Index.ID != "" {
				ids = append(ids, action.Index.ID)
			}
		}
		w.Write([]byte(`{"errors": false}`))
	})
	defer srv.Close()

	loader := testLoader(t, srv)
	loader.BatchSize = 2

	docs := []transform.Record{
		{"subject_submitter_id": "S1"},
		{"subject_submitter_id": "S2"},
		{"subject_submitter_id": "S3"},
		{"subject_submitter_id": "S4"},
		{"subject_submitter_id": "S5"},
	}
	if err := loader.LoadData(context.Background(), "pcdc_test", docs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 bulk calls for 5 docs at batch size 2, got %d", got)
	}
	want := []string{"subj_1", "subj_2", "subj_3", "subj_4", "subj_5"}
	if len(ids) != len(want) {
		t.Fatalf("expected ids %v, got %v", want, ids)
	}
	for i, id := range want {
		if ids[i] != id {
			t.Errorf("doc %d: id %q, want %q", i, ids[i], id)
		}
	}
}

func TestLoadData_RetriesAndRecovers(t *testing.T) {
	var calls atomic.Int32
	srv := fakeES(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"errors": false}`))
	})
	defer srv.Close()

	loader := testLoader(t, srv)
	docs := []transform.Record{{"subject_submitter_id": "S1"}}
	if err := loader.LoadData(context.Background(), "pcdc_test", docs); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 bulk attempts, got %d", got)
	}
}

func TestLoadData_GivesUpAfterMaxTries(t *testing.T) {
	var calls atomic.Int32
	srv := fakeES(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"errors": true}`))
	})
	defer srv.Close()

	loader := testLoader(t, srv)
	loader.MaxTries = 2

	docs := []transform.Record{{"subject_submitter_id": "S1"}}
	if err := loader.LoadData(context.Background(), "pcdc_test", docs); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 bulk attempts, got %d", got)
	}
}
