package imaging

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cinedeck/cinedeck/internal/domain"
)

// GenClient calls a prompt-in-the-URL image generation service
// (Pollinations-style). The service renders at the requested resolution;
// rate-limit placeholders come back at other sizes and are rejected by the
// resolver's resolution check.
type GenClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// GenOptions configures a GenClient.
type GenOptions struct {
	URL     string
	Model   string
	Timeout time.Duration
}

// NewGenClient creates a new image generation client.
func NewGenClient(opts GenOptions) *GenClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GenClient{
		baseURL:    strings.TrimRight(opts.URL, "/"),
		model:      opts.Model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Generate renders an image for the prompt at the generated-image contract
// resolution and returns the raw bytes.
func (c *GenClient) Generate(ctx context.Context, prompt string) ([]byte, error) {
	q := url.Values{}
	q.Set("width", fmt.Sprint(domain.ImageWidth))
	q.Set("height", fmt.Sprint(domain.GeneratedHeight))
	q.Set("nologo", "true")
	if c.model != "" {
		q.Set("model", c.model)
	}
	genURL := c.baseURL + "/" + url.PathEscape(prompt) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, genURL, nil)
	if err != nil {
		return nil, domain.ExternalError("failed to build generation request", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.TimeoutError("image generation timed out", err)
		}
		return nil, domain.ExternalError("image generation request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.ExternalError(
			fmt.Sprintf("image generation returned status %d", resp.StatusCode), nil)
	}
	if ct := strings.ToLower(resp.Header.Get("Content-Type")); ct != "" && !strings.Contains(ct, "image") {
		return nil, domain.ExternalError(
			fmt.Sprintf("image generation returned non-image content type %q", ct), nil)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.ExternalError("failed to read generated image", err)
	}
	return data, nil
}
