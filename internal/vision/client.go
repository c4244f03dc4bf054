package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kilupskalvis/picstash/internal/models"
)

const (
	labelPrompt = "List the most prominent objects or concepts in this image as a JSON array " +
		`of {"label": string, "confidence": number between 0 and 1}. Respond with JSON only.`
	captionPrompt = "Describe this image in one short sentence."

	// minLabelScore is the confidence floor below which candidates are dropped.
	minLabelScore = 0.7

	maxLabelTokens   = 200
	maxCaptionTokens = 100
)

// Client calls an OpenAI-compatible chat completions endpoint with images
// embedded as base64 data URLs.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Opts configures the vision client.
type Opts struct {
	BaseURL string
	APIKey  string // empty means degraded mode: all calls return empty results
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

// New creates a vision client. A zero timeout defaults to 30s.
func New(opts *Opts) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		model:      opts.Model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// chatRequest is the wire shape of a multimodal chat completion request.
type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// DetectLabels asks the model for labels and normalizes its free-form
// answer into typed labels. Returns an empty slice on any failure and on
// low-confidence-only answers.
func (c *Client) DetectLabels(ctx context.Context, data []byte, contentType string) []models.Label {
	if c.apiKey == "" {
		c.logger.Warn("vision api key not set, returning empty labels")
		return nil
	}

	text, err := c.complete(ctx, labelPrompt, maxLabelTokens, data, contentType)
	if err != nil {
		c.logger.Warn("label detection failed", "error", err)
		return nil
	}

	candidates := decodeLabelArray(text)

	var labels []models.Label
	for _, cand := range candidates {
		if cand.Label == "" || cand.Confidence < minLabelScore {
			continue
		}
		labels = append(labels, models.Label{
			Description: cand.Label,
			Score:       cand.Confidence,
		})
	}
	return labels
}

// GenerateCaption asks the model for a one-sentence description. Returns
// the empty string on any failure.
func (c *Client) GenerateCaption(ctx context.Context, data []byte, contentType string) string {
	if c.apiKey == "" {
		c.logger.Warn("vision api key not set, returning empty caption")
		return ""
	}

	text, err := c.complete(ctx, captionPrompt, maxCaptionTokens, data, contentType)
	if err != nil {
		c.logger.Warn("caption generation failed", "error", err)
		return ""
	}
	return strings.TrimSpace(text)
}

// complete performs one chat completion call and returns the first
// choice's content.
func (c *Client) complete(ctx context.Context, prompt string, maxTokens int, data []byte, contentType string) (string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))

	reqBody := &chatRequest{
		Model: c.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			},
		}},
		MaxTokens: maxTokens,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("chat completions returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
