package es

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// arrayFields lists every document path the portal must treat as an array
// when rendering facets. Kept in lockstep with the dictionary's child
// collections.
var arrayFields = []string{
	"adverse_events",
	"biopsy_surgical_procedures",
	"biospecimens",
	"cytologies",
	"disease_characteristics",
	"external_references",
	"function_tests",
	"histologies",
	"imagings",
	"labs",
	"lesion_characteristics",
	"medical_histories",
	"minimal_residual_diseases",
	"molecular_analysis",
	"myeloid_sarcoma_involvements",
	"non_protocol_therapies",
	"off_protocol_therapy_studies",
	"radiation_therapies",
	"secondary_malignant_neoplasm",
	"stagings",
	"stem_cell_transplants",
	"studies",
	"studies.treatment_arm",
	"subject_responses",
	"survival_characteristics",
	"timings",
	"total_doses",
	"transfusion_medicine_procedures",
	"tumor_assessments",
	"vitals",
}

// LoadArrayConfig creates and populates the "{index}-array-config"
// companion index that tells the portal which fields are arrays.
func (l *Loader) LoadArrayConfig(ctx context.Context, indexName string) error {
	index := indexName + ArrayConfigSuffix
	l.log.Info().Str("index", index).Msg("loading array config index")

	body := map[string]any{
		"settings": map[string]any{
			"number_of_shards":   1,
			"number_of_replicas": 1,
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"array":     map[string]any{"type": "keyword"},
				"timestamp": map[string]any{"type": "date"},
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	res, err := l.client.Indices.Create(index,
		l.client.Indices.Create.WithBody(bytes.NewReader(payload)),
		l.client.Indices.Create.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("creating array config index: %w", err)
	}
	createErr := responseError(res, "creating array config index")
	res.Body.Close()
	if createErr != nil {
		return createErr
	}

	doc, err := json.Marshal(map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"array":     arrayFields,
	})
	if err != nil {
		return err
	}
	res, err = l.client.Index(index, bytes.NewReader(doc),
		l.client.Index.WithDocumentID(DataAlias),
		l.client.Index.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("indexing array config document: %w", err)
	}
	indexErr := responseError(res, "indexing array config document")
	res.Body.Close()
	if indexErr != nil {
		return indexErr
	}

	l.log.Info().Msg("loaded array config index")
	return nil
}
