// Package repo fetches analysis inputs from a remote dataset service.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/arborstack/arbor-fdr/internal/models"
)

// SourceClient reads named datasets (tree, scores, observations) over
// HTTP. It is the input path for deployments where score tables are
// produced by an upstream pipeline rather than submitted inline.
type SourceClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewSourceClient constructs a client for the dataset service at baseURL.
func NewSourceClient(baseURL string, timeout time.Duration) *SourceClient {
	return &SourceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchTree retrieves the tree document of a dataset.
func (c *SourceClient) FetchTree(ctx context.Context, dataset string) (models.TreeDocument, error) {
	var doc models.TreeDocument
	if err := c.getJSON(ctx, dataset, "tree", &doc); err != nil {
		return models.TreeDocument{}, err
	}
	if strings.TrimSpace(doc.Newick) == "" && len(doc.Edges) == 0 {
		return models.TreeDocument{}, fmt.Errorf("dataset %s: tree document is empty", dataset)
	}
	return doc, nil
}

// FetchScores retrieves the precomputed score table of a dataset.
func (c *SourceClient) FetchScores(ctx context.Context, dataset string) ([]models.FeatureScores, error) {
	var scores []models.FeatureScores
	if err := c.getJSON(ctx, dataset, "scores", &scores); err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("dataset %s: score table is empty", dataset)
	}
	return scores, nil
}

// FetchObservations retrieves the raw two-group observations of a dataset.
func (c *SourceClient) FetchObservations(ctx context.Context, dataset string) ([]models.FeatureObservations, error) {
	var obs []models.FeatureObservations
	if err := c.getJSON(ctx, dataset, "observations", &obs); err != nil {
		return nil, err
	}
	if len(obs) == 0 {
		return nil, fmt.Errorf("dataset %s: observations are empty", dataset)
	}
	return obs, nil
}

func (c *SourceClient) getJSON(ctx context.Context, dataset, kind string, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("dataset source URL not configured")
	}
	if strings.TrimSpace(dataset) == "" {
		return fmt.Errorf("dataset name is required")
	}

	endpoint, err := c.resolve("datasets", dataset, kind)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dataset %s: fetch %s: %w", dataset, kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dataset %s: fetch %s: source returned %s", dataset, kind, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("dataset %s: decode %s: %w", dataset, kind, err)
	}
	return nil
}

func (c *SourceClient) resolve(parts ...string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("dataset source URL: %w", err)
	}
	u.Path = path.Join(append([]string{u.Path}, parts...)...)
	return u.String(), nil
}
