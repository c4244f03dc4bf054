// Package client implements an HTTP client for the picstash API, used by
// the CLI to operate on a running server.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/kilupskalvis/picstash/internal/ingest"
	"github.com/kilupskalvis/picstash/internal/models"
)

// Client talks to a picstash server. The admin token is only required
// for the /admin/ endpoints.
type Client struct {
	baseURL    string
	adminToken string
	httpClient *http.Client
}

// New creates an API client. Warns if baseURL uses http:// and a
// credential is set.
func New(baseURL, adminToken string) *Client {
	if adminToken != "" && strings.HasPrefix(baseURL, "http://") {
		fmt.Fprintf(os.Stderr, "warning: sending credentials over unencrypted HTTP connection\n")
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		adminToken: adminToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, url string, admin bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if admin {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, url string, admin bool, respBody interface{}) error {
	resp, err := c.do(ctx, method, url, admin)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// ListImages calls GET /api/v1/images and returns all records, newest first.
func (c *Client) ListImages(ctx context.Context) ([]*models.ImageRecord, error) {
	var resp struct {
		Images []*models.ImageRecord `json:"images"`
	}
	if err := c.doJSON(ctx, "GET", c.baseURL+"/api/v1/images", false, &resp); err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return resp.Images, nil
}

// DeleteImage calls DELETE /api/v1/images/{id}.
func (c *Client) DeleteImage(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, "DELETE", c.baseURL+"/api/v1/images/"+id, false, nil); err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	return nil
}

// GC calls POST /admin/gc to sweep orphaned blobs.
func (c *Client) GC(ctx context.Context) (*ingest.SweepResult, error) {
	var result ingest.SweepResult
	if err := c.doJSON(ctx, "POST", c.baseURL+"/admin/gc", true, &result); err != nil {
		return nil, fmt.Errorf("gc: %w", err)
	}
	return &result, nil
}

// decodeError turns an error response body into an error value.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, payload.Message)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
