package es

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/rs/zerolog"

	"github.com/pedcommons/etl/internal/transform"
)

const (
	defaultBulkBatchSize = 1000
	defaultBulkMaxTries  = 3
	defaultRetryDelay    = 60 * time.Second

	// indexFieldsLimit raises the per-index mapped-field cap; the nested
	// subject mapping exceeds Elasticsearch's default of 1000.
	indexFieldsLimit = 2000
)

// Loader writes subject documents into an index.
type Loader struct {
	client *elasticsearch.Client
	log    zerolog.Logger

	// BatchSize, MaxTries and RetryDelay tune the bulk API calls; zero
	// values use the defaults.
	BatchSize  int
	MaxTries   int
	RetryDelay time.Duration
}

// NewLoader builds a loader with default bulk tuning.
func NewLoader(client *elasticsearch.Client, log zerolog.Logger) *Loader {
	return &Loader{client: client, log: log}
}

// CreateIndex creates the data index with the generated field mapping and
// the fixed settings the portal expects.
func (l *Loader) CreateIndex(ctx context.Context, index string, mapping map[string]any) error {
	body := map[string]any{
		"settings": map[string]any{
			"number_of_shards":                 1,
			"number_of_replicas":               1,
			"index.mapping.total_fields.limit": indexFieldsLimit,
		},
	}
	for k, v := range mapping {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	res, err := l.client.Indices.Create(index,
		l.client.Indices.Create.WithBody(bytes.NewReader(payload)),
		l.client.Indices.Create.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("creating index %s: %w", index, err)
	}
	defer res.Body.Close()
	return responseError(res, "creating index "+index)
}

// LoadData bulk-loads the subject documents into an existing index in
// batches. Document ids are assigned sequentially ("subj_1", ...).
func (l *Loader) LoadData(ctx context.Context, index string, docs []transform.Record) error {
	l.log.Info().Str("index", index).Int("docs", len(docs)).Msg("loading data index")

	var buf bytes.Buffer
	batched := 0
	for i, doc := range docs {
		action, err := json.Marshal(map[string]any{
			"index": map[string]any{"_index": index, "_id": fmt.Sprintf("subj_%d", i+1)},
		})
		if err != nil {
			return err
		}
		source, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encoding document %d: %w", i+1, err)
		}
		buf.Write(action)
		buf.WriteByte('\n')
		buf.Write(source)
		buf.WriteByte('\n')
		batched++

		if batched == l.batchSize() {
			if err := l.tryBulk(ctx, &buf); err != nil {
				return err
			}
			batched = 0
			l.log.Info().Int("loaded", i+1).Int("total", len(docs)).Str("index", index).Msg("loaded records")
		}
	}
	if batched > 0 {
		if err := l.tryBulk(ctx, &buf); err != nil {
			return err
		}
		l.log.Info().Int("loaded", len(docs)).Str("index", index).Msg("loaded records")
	}

	l.log.Info().Msg("loaded data index")
	return nil
}

// tryBulk performs one bulk call with bounded retry, consuming the buffer on
// success.
func (l *Loader) tryBulk(ctx context.Context, buf *bytes.Buffer) error {
	payload := buf.Bytes()
	maxTries := l.maxTries()
	for tries := 1; ; tries++ {
		err := l.bulk(ctx, payload)
		if err == nil {
			buf.Reset()
			return nil
		}
		if tries >= maxTries {
			l.log.Error().Err(err).Int("max_tries", maxTries).Msg("error performing bulk operation, max tries attempted")
			return err
		}
		l.log.Error().Err(err).Int("attempt", tries).Dur("retry_delay", l.retryDelay()).Msg("error performing bulk operation, retrying")
		select {
		case <-time.After(l.retryDelay()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Loader) bulk(ctx context.Context, payload []byte) error {
	res, err := l.client.Bulk(bytes.NewReader(payload), l.client.Bulk.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if err := responseError(res, "bulk load"); err != nil {
		return err
	}

	var result struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding bulk response: %w", err)
	}
	if result.Errors {
		return fmt.Errorf("bulk load reported item errors")
	}
	return nil
}

func (l *Loader) batchSize() int {
	if l.BatchSize > 0 {
		return l.BatchSize
	}
	return defaultBulkBatchSize
}

func (l *Loader) maxTries() int {
	if l.MaxTries > 0 {
		return l.MaxTries
	}
	return defaultBulkMaxTries
}

func (l *Loader) retryDelay() time.Duration {
	if l.RetryDelay > 0 {
		return l.RetryDelay
	}
	return defaultRetryDelay
}
