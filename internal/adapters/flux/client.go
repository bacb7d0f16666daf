// Package flux provides the client for the FLUX image-generation service.
package flux

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	// Registered for input pre-validation decoding.
	_ "image/jpeg"
	_ "image/png"

	"github.com/apexgen/jobmanager/internal/errors"
)

const (
	// MaxEdge is the upper bound on the longest image edge accepted by the
	// render service.
	MaxEdge = 2048
	// MinEdge is the lower bound on the shortest image edge.
	MinEdge = 64

	defaultGuidanceScale = 2.5
	// Rendering is the heaviest step of an attempt, so the default timeout is
	// materially longer than the prompt/validation calls.
	defaultTimeout = 300 * time.Second
	healthTimeout  = 5 * time.Second

	responseBodyLimit = 4 << 10
)

// ClientOptions groups configuration for the render client.
type ClientOptions struct {
	BaseURL       string        // Required: e.g. http://localhost:8000
	GuidanceScale float64       // Optional: defaults to 2.5
	Timeout       time.Duration // Optional: per-call timeout
	HTTPClient    *http.Client  // Optional: override for testing
	Logger        *slog.Logger  // Optional: structured logger
}

// Client renders an image from a source image and prompt. One render call per
// attempt; retrying is the orchestrator's job, never the client's. It
// implements core.RenderService.
type Client struct {
	baseURL       string
	guidanceScale float64
	timeout       time.Duration
	http          *http.Client
	logger        *slog.Logger
}

// NewClient creates a new render client.
func NewClient(opts ClientOptions) *Client {
	guidance := opts.GuidanceScale
	if guidance <= 0 {
		guidance = defaultGuidanceScale
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
		baseURL:       opts.BaseURL,
		guidanceScale: guidance,
		timeout:       timeout,
		http:          httpClient,
		logger:        opts.Logger,
	}
}

// Render sends the reference image and prompt to the generation service and
// returns the rendered image bytes. Inputs failing basic size/format
// validation are rejected before any network call.
func (c *Client) Render(ctx context.Context, img []byte, prompt string) ([]byte, error) {
	if err := ValidateImage(img); err != nil {
		return nil, err
	}

	body, contentType, err := buildRenderForm(img, prompt, c.guidanceScale)
	if err != nil {
		return nil, errors.RenderServiceError(0, "encode render request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", body)
	if err != nil {
		return nil, errors.RenderServiceError(0, "build render request", err)
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.RenderServiceError(0, "call render service", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
		return nil, errors.RenderServiceError(resp.StatusCode, string(snippet), nil)
	}

	var out struct {
		ImageBase64 string `json:"image_base64"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.RenderServiceError(0, "decode render response", err)
	}
	rendered, err := base64.StdEncoding.DecodeString(out.ImageBase64)
	if err != nil {
		return nil, errors.RenderServiceError(0, "decode rendered image", err)
	}
	if len(rendered) == 0 {
		return nil, errors.RenderServiceError(0, "render service returned an empty image", nil)
	}

	if c.logger != nil {
		c.logger.DebugContext(ctx, "render call finished",
			"duration", time.Since(start),
			"rendered_bytes", len(rendered),
		)
	}
	return rendered, nil
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
		return fmt.Errorf("render service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("render service health check returned status %d", resp.StatusCode)
	}
	return nil
}

// ValidateImage performs the fail-fast input checks: content type must be
// JPEG or PNG, the longest edge must not exceed MaxEdge, and the shortest
// edge must reach MinEdge. The create-job endpoint reuses this so malformed
// uploads are rejected before any job record exists.
func ValidateImage(img []byte) error {
	if len(img) == 0 {
		return errors.RenderServiceError(0, "image is empty", nil)
	}

	contentType := http.DetectContentType(img)
	if contentType != "image/jpeg" && contentType != "image/png" {
		return errors.RenderServiceError(0, "invalid file type, use JPEG or PNG", nil)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return errors.RenderServiceError(0, "image does not decode", err)
	}
	if cfg.Width > MaxEdge || cfg.Height > MaxEdge {
		return errors.RenderServiceError(0,
			"image dimensions too large (max "+strconv.Itoa(MaxEdge)+"px)", nil)
	}
	if cfg.Width < MinEdge || cfg.Height < MinEdge {
		return errors.RenderServiceError(0,
			"image dimensions too small (min "+strconv.Itoa(MinEdge)+"px)", nil)
	}
	return nil
}

func buildRenderForm(img []byte, prompt string, guidance float64) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fw, err := w.CreateFormFile("image_file", "image.png")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(img); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("prompt", prompt); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("guidance_scale", strconv.FormatFloat(guidance, 'f', -1, 64)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
