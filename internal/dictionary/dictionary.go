// Package dictionary loads the data-commons dictionary (the node-type schema)
// and derives from it the per-field coercion rules used by the transform
// engine. The dictionary is fetched once per run and cached; callers that
// need to pick up a schema change mid-run must call Reload explicitly.
package dictionary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrUnavailable indicates the dictionary source was unspecified or
	// could not be reached.
	ErrUnavailable = errors.New("data dictionary unavailable")
	// ErrMalformed indicates the dictionary response could not be parsed
	// into the expected node-type -> properties structure.
	ErrMalformed = errors.New("data dictionary malformed")
)

// FieldType is the declared type of a dictionary field. The dictionary
// expresses it either as a single string or as a list of strings
// (multi-typed fields exist, e.g. ["number", "null"]).
type FieldType []string

func (t *FieldType) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*t = FieldType{single}
		return nil
	}
	var multi []string
	if err := json.Unmarshal(data, &multi); err != nil {
		return fmt.Errorf("field type is neither string nor string list: %s", string(data))
	}
	*t = multi
	return nil
}

// Contains reports whether the declared type includes name.
func (t FieldType) Contains(name string) bool {
	for _, v := range t {
		if v == name {
			return true
		}
	}
	return false
}

// FieldDef describes a single property of a node type. Only the pieces the
// transform depends on are modeled; anything else in the dictionary entry is
// ignored.
type FieldDef struct {
	Enum []any     `json:"enum"`
	Type FieldType `json:"type"`
}

// HasEnum reports whether the field carries an enumeration.
func (f FieldDef) HasEnum() bool { return f.Enum != nil }

// HasType reports whether the field declares a type at all.
func (f FieldDef) HasType() bool { return f.Type != nil }

// IsNumber reports whether the declared type is, or includes, "number".
func (f FieldDef) IsNumber() bool { return f.Type.Contains("number") }

// IsArray reports whether the declared type is, or includes, "array".
func (f FieldDef) IsArray() bool { return f.Type.Contains("array") }

// Link describes a relationship declared on a node type.
type Link struct {
	Name string `json:"name"`
}

// NodeType is a single dictionary entry: its properties and links.
type NodeType struct {
	Properties map[string]FieldDef `json:"properties"`
	Links      []Link              `json:"links"`
}

// Schema is the full dictionary keyed by node-type name.
type Schema map[string]NodeType

// TimingLinkName is the link name that associates a node type with timing
// events.
const TimingLinkName = "timings"

// HasTimingLink reports whether nodeType declares a timing association. The
// node type must exist in the schema; asking about an unknown type is a
// programming or data error, not a soft miss.
func (s Schema) HasTimingLink(nodeType string) (bool, error) {
	nt, ok := s[nodeType]
	if !ok {
		return false, fmt.Errorf("unable to determine timing association, node type %q not in data dictionary", nodeType)
	}
	for _, l := range nt.Links {
		if l.Name == TimingLinkName {
			return true, nil
		}
	}
	return false, nil
}

// Parse decodes raw dictionary JSON. Node-type keys arrive suffixed with the
// source file extension (e.g. "histology.yaml") and are re-keyed without it.
func Parse(data []byte) (Schema, error) {
	var raw map[string]NodeType
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty dictionary", ErrMalformed)
	}
	schema := make(Schema, len(raw))
	for key, nt := range raw {
		if idx := strings.LastIndex(key, ".yaml"); idx > 0 {
			key = key[:idx]
		}
		schema[key] = nt
	}
	return schema, nil
}

// Store fetches and caches the dictionary from a URL.
type Store struct {
	url    string
	client *http.Client
	log    zerolog.Logger

	mu     sync.Mutex
	cached Schema
}

// NewStore creates a dictionary store for the given URL. The URL may be
// empty; loading then fails with ErrUnavailable.
func NewStore(url string, log zerolog.Logger) *Store {
	return &Store{
		url:    url,
		client: &http.Client{Timeout: 180 * time.Second},
		log:    log,
	}
}

// Schema returns the cached dictionary, fetching it on first use.
func (s *Store) Schema(ctx context.Context) (Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return s.cached, nil
	}
	return s.fetchLocked(ctx)
}

// Reload discards the cache and fetches the dictionary again. There is no
// hidden refresh; a run that needs a newer dictionary must ask for one.
func (s *Store) Reload(ctx context.Context) (Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
	return s.fetchLocked(ctx)
}

func (s *Store) fetchLocked(ctx context.Context) (Schema, error) {
	if s.url == "" {
		return nil, fmt.Errorf("%w: URL not specified", ErrUnavailable)
	}
	s.log.Info().Str("url", s.url).Msg("loading data dictionary")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d from %s", ErrUnavailable, resp.StatusCode, s.url)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	schema, err := Parse(body)
	if err != nil {
		return nil, err
	}
	s.cached = schema
	return schema, nil
}
