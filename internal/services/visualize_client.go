package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Lllllllleong/accessiblelessons/internal/models"
)

// InternalTokenHeader carries the shared secret on calls to HandleVisualize.
const InternalTokenHeader = "X-Internal-Token"

// VisualizeClient calls the scene visualization endpoint over HTTP.
type VisualizeClient struct {
	url        string
	token      string
	httpClient *http.Client
}

// NewVisualizeClient uses a 10 minute timeout when httpClient is nil; a
// four-scene run with retries can take several minutes.
func NewVisualizeClient(url, token string, httpClient *http.Client) *VisualizeClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return &VisualizeClient{url: url, token: token, httpClient: httpClient}
}

func (c *VisualizeClient) Visualize(ctx context.Context, narration string) (*models.VisualizeResponse, error) {
	body, err := json.Marshal(models.VisualizeRequest{Text: narration})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal visualize request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build visualize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set(InternalTokenHeader, c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %w", ErrVisualization, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: endpoint returned %d: %s", ErrVisualization, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out models.VisualizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %w", ErrVisualization, err)
	}
	return &out, nil
}
