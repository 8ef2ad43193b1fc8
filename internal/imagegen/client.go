// Package imagegen calls an OpenAI-compatible image generation endpoint and
// returns PNG bytes.
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

var ErrNoImage = errors.New("image response contained no image")

// maxResponseBytes bounds the decoded JSON envelope; a 1024x1024 PNG in
// base64 is well below this.
const maxResponseBytes = 32 << 20

type Config struct {
	APIURL string
	APIKey string
	Model  string
	Size   string
}

type generationRequest struct {
	Model          string `json:"model,omitempty"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size,omitempty"`
	Number         int    `json:"n"`
	ResponseFormat string `json:"response_format"`
}

type generationResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client generates one image per call. It holds no per-request state and is
// safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// Generate renders prompt and returns the raw image bytes.
func (c *Client) Generate(ctx context.Context, prompt string) ([]byte, error) {
	payload, err := json.Marshal(generationRequest{
		Model:          c.cfg.Model,
		Prompt:         prompt,
		Size:           c.cfg.Size,
		Number:         1,
		ResponseFormat: "b64_json",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal image request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create image request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	body, err := c.fetch(req)
	if err != nil {
		return nil, err
	}

	var resp generationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal image response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("image API error: %s", resp.Error.Message)
	}
	if len(resp.Data) == 0 {
		return nil, ErrNoImage
	}

	first := resp.Data[0]
	switch {
	case first.B64JSON != "":
		img, err := base64.StdEncoding.DecodeString(first.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		return img, nil
	case first.URL != "":
		dl, err := http.NewRequestWithContext(ctx, http.MethodGet, first.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create image download request: %w", err)
		}
		return c.fetch(dl)
	default:
		return nil, ErrNoImage
	}
}

func (c *Client) fetch(req *http.Request) ([]byte, error) {
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image request failed: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read image response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		slog.Warn("Image API returned non-OK status.",
			"method", req.Method,
			"url", req.URL.Redacted(),
			"status", res.StatusCode,
			"body", truncate(string(body), 512),
		)
		return nil, fmt.Errorf("image request returned status %d", res.StatusCode)
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
