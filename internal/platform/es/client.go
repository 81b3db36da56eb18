// Package es loads transformed subject documents into Elasticsearch: index
// creation with the generated mapping, batched bulk loads with bounded
// retry, the array-config companion index, and alias switching.
package es

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Aliases the portal queries through; a load builds a fresh index pair and
// the alias switch makes it live.
const (
	DataAlias        = "pcdc"
	ArrayConfigAlias = "pcdc-array-config"
)

// ArrayConfigSuffix names the companion index of a data index.
const ArrayConfigSuffix = "-array-config"

// NewClient builds an Elasticsearch client for the given address. A positive
// requestTimeout bounds how long each request may wait for the response
// headers; zero leaves the client unbounded.
func NewClient(address string, requestTimeout time.Duration) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{address},
	}
	if requestTimeout > 0 {
		cfg.Transport = &http.Transport{ResponseHeaderTimeout: requestTimeout}
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return client, nil
}

// responseError turns a non-2xx API response into an error carrying a
// truncated body excerpt.
func responseError(res *esapi.Response, op string) error {
	if !res.IsError() {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	return fmt.Errorf("%s: status %s: %s", op, res.Status(), strings.TrimSpace(string(body)))
}
