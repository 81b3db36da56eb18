// Package graphdb exports raw graph records straight from the submission
// system's Postgres store. Deployments with database access use this path
// for full-project exports, where the HTTP export API is slow enough to time
// out; the submission service maintains a per-record export snapshot table
// that carries the same JSON documents the API would return.
package graphdb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/pedcommons/etl/internal/transform"
)

// Extractor reads export snapshots from the graph database.
type Extractor struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// New connects to the graph database.
func New(ctx context.Context, databaseURL string, log zerolog.Logger) (*Extractor, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing graph database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to graph database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging graph database: %w", err)
	}
	return &Extractor{pool: pool, log: log}, nil
}

// Close releases the connection pool.
func (e *Extractor) Close() {
	e.pool.Close()
}

// ExportNode reads every record of one node type for one project from the
// export snapshot table.
func (e *Extractor) ExportNode(ctx context.Context, projectID, nodeType string) ([]transform.Record, error) {
	rows, err := e.pool.Query(ctx,
		`SELECT doc FROM node_export WHERE project_id = $1 AND node_type = $2 ORDER BY node_id`,
		projectID, nodeType)
	if err != nil {
		return nil, fmt.Errorf("querying %s export for %s: %w", nodeType, projectID, err)
	}
	defer rows.Close()

	var records []transform.Record
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning %s export row: %w", nodeType, err)
		}
		var record transform.Record
		if err := json.Unmarshal(doc, &record); err != nil {
			return nil, fmt.Errorf("decoding %s export row: %w", nodeType, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s export rows: %w", nodeType, err)
	}
	return records, nil
}

// Extract exports every configured node type for every configured project.
func (e *Extractor) Extract(ctx context.Context, projects, nodeTypes []string) (map[string]transform.Project, error) {
	data := make(map[string]transform.Project, len(projects))
	for _, projectID := range projects {
		data[projectID] = transform.Project{}
		for _, nodeType := range nodeTypes {
			e.log.Info().Str("project", projectID).Str("node_type", nodeType).Msg("extracting from graph database")
			records, err := e.ExportNode(ctx, projectID, nodeType)
			if err != nil {
				return nil, err
			}
			data[projectID][nodeType] = records
		}
	}
	e.log.Info().Msg("graph database extract successful")
	return data, nil
}
