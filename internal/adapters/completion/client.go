// Package completion provides the client for the vLLM OpenAI-compatible
// chat-completions service used for prompt generation, validation, and
// failure reports.
package completion

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/apexgen/jobmanager/internal/core"
)

const (
	defaultModel     = "gpt-4-vision-preview"
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second
	healthTimeout    = 5 * time.Second

	// responseBodyLimit caps how much of an upstream error body is retained.
	responseBodyLimit = 4 << 10
)

// StatusError reports a non-success response from the completion service.
type StatusError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("completion service returned status %d: %s", e.Status, e.Body)
}

// HTTPStatus returns the upstream status code.
func (e *StatusError) HTTPStatus() int { return e.Status }

// ClientOptions groups configuration for the completion client.
type ClientOptions struct {
	BaseURL    string        // Required: e.g. http://localhost:12000
	APIKey     string        // Optional: sent as a Bearer token when set
	Model      string        // Optional: defaults to the vision model name
	MaxTokens  int           // Optional: completion token budget
	Timeout    time.Duration // Optional: per-call timeout
	HTTPClient *http.Client  // Optional: override for testing
	Logger     *slog.Logger  // Optional: structured logger
}

// Client calls the chat-completions endpoint. It implements
// core.CompletionService.
type Client struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	timeout   time.Duration
	http      *http.Client
	logger    *slog.Logger
}

// NewClient creates a new completion client.
func NewClient(opts ClientOptions) *Client {
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:   opts.BaseURL,
		apiKey:    opts.APIKey,
		model:     model,
		maxTokens: maxTokens,
		timeout:   timeout,
		http:      httpClient,
		logger:    opts.Logger,
	}
}

// wire types for the OpenAI-compatible API.

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []wireMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
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

// Complete sends the role-tagged messages and returns the model's free-text
// response. Messages with inline images are encoded as data-URI image parts.
func (c *Client) Complete(ctx context.Context, messages []core.ChatMessage) (string, error) {
	payload := chatRequest{
		Model:     c.model,
		Messages:  make([]wireMessage, 0, len(messages)),
		MaxTokens: c.maxTokens,
	}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, encodeMessage(m))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call completion service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
		return "", &StatusError{Status: resp.StatusCode, Body: string(snippet)}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", &StatusError{Status: resp.StatusCode, Body: "response contained no choices"}
	}

	if c.logger != nil {
		c.logger.DebugContext(ctx, "completion call finished",
			"duration", time.Since(start),
			"messages", len(messages),
		)
	}
	return out.Choices[0].Message.Content, nil
}

// Healthy probes the service's health endpoint with a short timeout.
func (c *Client) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("completion service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Status: resp.StatusCode, Body: "health check failed"}
	}
	return nil
}

func encodeMessage(m core.ChatMessage) wireMessage {
	if len(m.Images) == 0 {
		return wireMessage{Role: m.Role, Content: m.Text}
	}

	parts := make([]contentPart, 0, len(m.Images)+1)
	parts = append(parts, contentPart{Type: "text", Text: m.Text})
	for _, img := range m.Images {
		parts = append(parts, contentPart{
			Type:     "image_url",
			ImageURL: &imageURL{URL: dataURI(img)},
		})
	}
	return wireMessage{Role: m.Role, Content: parts}
}

// dataURI inlines image bytes as a data URI, sniffing the media type so JPEG
// references are not mislabelled as PNG.
func dataURI(img []byte) string {
	mediaType := http.DetectContentType(img)
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(img)
}
