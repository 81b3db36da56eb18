package dictionary

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

const sampleDictionary = `{
	"subject.yaml": {
		"properties": {
			"honest_broker_subject_id": {"type": "string"},
			"project_id": {}
		},
		"links": []
	},
	"histology.yaml": {
		"properties": {
			"histology": {"enum": ["Adenocarcinoma", "Other"]},
			"age_at_hist_assessment": {"type": "number"}
		},
		"links": [{"name": "subjects"}, {"name": "timings"}]
	},
	"_definitions.yaml": {}
}`

func TestParse_StripsFileSuffix(t *testing.T) {
	schema, err := Parse([]byte(sampleDictionary))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, name := range []string{"subject", "histology", "_definitions"} {
		if _, ok := schema[name]; !ok {
			t.Errorf("expected node type %q in schema, got %v", name, schema)
		}
	}
	if _, ok := schema["subject.yaml"]; ok {
		t.Error("expected suffixed key to be re-keyed")
	}
}

func TestParse_FieldDefs(t *testing.T) {
	schema, err := Parse([]byte(sampleDictionary))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hist := schema["histology"].Properties["histology"]
	if !hist.HasEnum() {
		t.Error("expected histology to carry an enum")
	}
	age := schema["histology"].Properties["age_at_hist_assessment"]
	if !age.HasType() || !age.IsNumber() {
		t.Errorf("expected age_at_hist_assessment to be number-typed, got %+v", age)
	}
	ref := schema["subject"].Properties["project_id"]
	if ref.HasEnum() || ref.HasType() {
		t.Errorf("expected project_id to declare neither enum nor type, got %+v", ref)
	}
}

func TestParse_MultiType(t *testing.T) {
	schema, err := Parse([]byte(`{"lab.yaml": {"properties": {"lab_result": {"type": ["number", "null"]}}}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	def := schema["lab"].Properties["lab_result"]
	if !def.IsNumber() {
		t.Errorf("expected multi-typed field to count as number, got %+v", def)
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, raw := range []string{"not json", "{}"} {
		if _, err := Parse([]byte(raw)); !errors.Is(err, ErrMalformed) {
			t.Errorf("Parse(%q): expected ErrMalformed, got %v", raw, err)
		}
	}
}

func TestSchema_HasTimingLink(t *testing.T) {
	schema, err := Parse([]byte(sampleDictionary))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	linked, err := schema.HasTimingLink("histology")
	if err != nil || !linked {
		t.Errorf("expected histology to be timing linked, got %v, %v", linked, err)
	}
	linked, err = schema.HasTimingLink("subject")
	if err != nil || linked {
		t.Errorf("expected subject not to be timing linked, got %v, %v", linked, err)
	}
	if _, err := schema.HasTimingLink("no_such_type"); err == nil {
		t.Error("expected error for unknown node type")
	}
}

func TestStore_CachesAndReloads(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(sampleDictionary))
	}))
	defer srv.Close()

	store := NewStore(srv.URL, zerolog.Nop())
	ctx := context.Background()

	if _, err := store.Schema(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Schema(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("expected one fetch for repeated Schema calls, got %d", got)
	}

	if _, err := store.Reload(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("expected Reload to fetch again, got %d fetches", got)
	}
}

func TestStore_Unavailable(t *testing.T) {
	store := NewStore("", zerolog.Nop())
	if _, err := store.Schema(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for empty URL, got %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store = NewStore(srv.URL, zerolog.Nop())
	if _, err := store.Schema(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for server error, got %v", err)
	}
}
