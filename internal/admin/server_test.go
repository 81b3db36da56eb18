package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pedcommons/etl/internal/dictionary"
)

const adminDictionary = `{
	"subject.yaml": {
		"properties": {"consortium": {"enum": ["INSTRuCT"]}},
		"links": []
	},
	"person.yaml": {
		"properties": {"sex": {"enum": ["Male", "Female"]}},
		"links": []
	},
	"timing.yaml": {
		"properties": {"disease_phase": {"enum": ["Initial Diagnosis"]}},
		"links": []
	}
}`

func testServer(t *testing.T) *Server {
	t.Helper()
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(adminDictionary))
	}))
	t.Cleanup(src.Close)

	store := dictionary.NewStore(src.URL, zerolog.Nop())
	summaryPath := filepath.Join(t.TempDir(), "etl_run.json")
	return NewServer(store, summaryPath, zerolog.Nop())
}

func TestHandleHealth(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := testServer(t).handleHealth(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestHandleDictionary(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/dictionary", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := testServer(t).handleDictionary(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body struct {
		NodeTypes map[string]map[string]int `json:"node_types"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.NodeTypes["subject"]["properties"] != 1 {
		t.Errorf("unexpected node types: %v", body.NodeTypes)
	}
}

func TestHandleMapping(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/mapping", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := testServer(t).handleMapping(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	props := doc["mappings"].(map[string]any)["properties"].(map[string]any)
	if _, ok := props["consortium"]; !ok {
		t.Errorf("expected subject properties at root, got %v", props)
	}
}

func TestHandleLastRun(t *testing.T) {
	srv := testServer(t)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/runs/last", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := srv.handleLastRun(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404 before any run, got %v", err)
	}

	saved := RunSummary{
		RunID:     "run-1",
		StartedAt: time.Now(),
		Duration:  "3s",
		Subjects:  10,
		Problems:  1,
	}
	if err := SaveRunSummary(srv.summaryPath, saved); err != nil {
		t.Fatalf("saving run summary: %v", err)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/runs/last", nil), rec)
	if err := srv.handleLastRun(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var summary RunSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if summary.RunID != "run-1" || summary.Subjects != 10 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}
