package gen3

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pedcommons/etl/internal/transform"
)

// TokenSource supplies a bearer token for submission API calls.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Client exports node records from the submission API.
type Client struct {
	baseURL string
	auth    TokenSource
	client  *http.Client
	log     zerolog.Logger
}

// NewClient builds an export client for the given commons base URL.
func NewClient(baseURL string, auth TokenSource, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		client:  &http.Client{Timeout: 5 * time.Minute},
		log:     log,
	}
}

// ExportNode exports every record of one node type from one project.
func (c *Client) ExportNode(ctx context.Context, program, project, nodeType string) ([]transform.Record, error) {
	endpoint := fmt.Sprintf("%s/api/v0/submission/%s/%s/export?node_label=%s&format=json",
		c.baseURL, url.PathEscape(program), url.PathEscape(project), url.QueryEscape(nodeType))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	token, err := c.auth.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exporting %s/%s %s: %w", program, project, nodeType, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("exporting %s/%s %s: status %d: %s", program, project, nodeType, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Data []transform.Record `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding %s export: %w", nodeType, err)
	}
	return payload.Data, nil
}

// Extract exports every configured node type for every configured project.
// Project ids are "{program}-{project}" pairs.
func (c *Client) Extract(ctx context.Context, projects, nodeTypes []string) (map[string]transform.Project, error) {
	data := make(map[string]transform.Project, len(projects))
	for _, projectID := range projects {
		program, project, found := strings.Cut(projectID, "-")
		if !found {
			return nil, fmt.Errorf("invalid project id: %q", projectID)
		}
		data[projectID] = transform.Project{}
		for _, nodeType := range nodeTypes {
			c.log.Info().Str("project", projectID).Str("node_type", nodeType).Msg("extracting")
			records, err := c.ExportNode(ctx, program, project, nodeType)
			if err != nil {
				return nil, err
			}
			data[projectID][nodeType] = records
		}
	}
	c.log.Info().Msg("extract successful")
	return data, nil
}
