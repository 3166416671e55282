package imaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cinedeck/cinedeck/internal/domain"
)

// stockSiteExclusions keep watermarked stock previews out of the candidate
// pool; they fail the download or resolution check anyway and waste the
// candidate budget.
const stockSiteExclusions = " -site:shutterstock.com -site:instagram.com -site:facebook.com" +
	" -site:tiktok.com -site:pinterest.com -site:dreamstime.com -site:123rf.com" +
	" -site:alamy.com -site:istockphoto.com -site:gettyimages.com"

// SearchClient queries a Serper-style image search API.
type SearchClient struct {
	apiKey     string
	url        string
	maxResults int
	httpClient *http.Client
}

// SearchOptions configures a SearchClient.
type SearchOptions struct {
	APIKey     string
	URL        string
	MaxResults int
	Timeout    time.Duration
}

// NewSearchClient creates a new image search client.
func NewSearchClient(opts SearchOptions) *SearchClient {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &SearchClient{
		apiKey:     opts.APIKey,
		url:        opts.URL,
		maxResults: maxResults,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether the client has credentials to search with.
func (c *SearchClient) Enabled() bool {
	return c.apiKey != ""
}

type searchRequest struct {
	Q   string `json:"q"`
	GL  string `json:"gl"`
	HL  string `json:"hl"`
	Num int    `json:"num"`
}

type searchResponse struct {
	Images []searchImage `json:"images"`
}

type searchImage struct {
	ImageURL string `json:"imageUrl"`
	Original string `json:"original"`
}

// Search returns candidate image URLs for a visual query, best first.
func (c *SearchClient) Search(ctx context.Context, query string) ([]string, error) {
	body, err := json.Marshal(searchRequest{
		Q:   query + stockSiteExclusions,
		GL:  "us",
		HL:  "en",
		Num: c.maxResults,
	})
	if err != nil {
		return nil, domain.ExternalError("failed to marshal search request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, domain.ExternalError("failed to build search request", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.TimeoutError("image search timed out", err)
		}
		return nil, domain.ExternalError("image search request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, domain.ExternalError(
			fmt.Sprintf("image search returned status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.ExternalError("failed to decode search response", err)
	}

	urls := make([]string, 0, len(out.Images))
	for _, img := range out.Images {
		if img.ImageURL != "" {
			urls = append(urls, img.ImageURL)
		} else if img.Original != "" {
			urls = append(urls, img.Original)
		}
	}
	return urls, nil
}
