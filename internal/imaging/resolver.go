// Package imaging acquires one validated image per slide through an ordered
// fallback chain: web image search, then AI generation, then generation with
// a perturbed query. Every candidate passes a decode, an exact-resolution
// check, and the per-task content-hash dedup set before acceptance.
package imaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cinedeck/cinedeck/internal/domain"
	"github.com/cinedeck/cinedeck/internal/observability"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// maxDownloadCandidates bounds how many search hits are fetched per slide.
const maxDownloadCandidates = 3

// Searcher finds candidate image URLs for a query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]string, error)
	Enabled() bool
}

// Generator renders an image for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// Resolver runs the fallback chain for one task. It is safe for concurrent
// use across that task's slides; the dedup set is the only shared state.
type Resolver struct {
	search      Searcher
	gen         Generator
	dedup       *DedupSet
	logger      *observability.Logger
	httpClient  *http.Client
	callTimeout time.Duration
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	Search      Searcher
	Generate    Generator
	Dedup       *DedupSet
	Logger      *observability.Logger
	CallTimeout time.Duration
}

// NewResolver creates a Resolver for a single task.
func NewResolver(opts ResolverOptions) *Resolver {
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dedup := opts.Dedup
	if dedup == nil {
		dedup = NewDedupSet()
	}
	return &Resolver{
		search:      opts.Search,
		gen:         opts.Generate,
		dedup:       dedup,
		logger:      opts.Logger.WithComponent("imaging"),
		httpClient:  &http.Client{Timeout: timeout},
		callTimeout: timeout,
	}
}

// strategy is one link in the fallback chain: a uniform attempt wrapper so
// the chain stays an explicit ordered list instead of nested retries.
type strategy struct {
	name    string
	attempt func(ctx context.Context) (domain.ImageResult, error)
}

// Resolve acquires a validated, deduplicated image for a slide. Strategies
// run in strict order; the first acceptance wins. When every strategy is
// exhausted the slide fails with ImageUnavailable and the task aborts
// rather than shipping a partial deck.
func (r *Resolver) Resolve(ctx context.Context, slideIndex int, visualQuery string) (domain.ImageResult, error) {
	chain := []strategy{
		{name: "web_search", attempt: func(ctx context.Context) (domain.ImageResult, error) {
			return r.attemptSearch(ctx, slideIndex, visualQuery)
		}},
		{name: "generate", attempt: func(ctx context.Context) (domain.ImageResult, error) {
			return r.attemptGenerate(ctx, slideIndex, visualQuery)
		}},
		{name: "generate_perturbed", attempt: func(ctx context.Context) (domain.ImageResult, error) {
			return r.attemptGenerate(ctx, slideIndex, perturbQuery(visualQuery, slideIndex))
		}},
	}

	var attemptErrs []error
	for _, s := range chain {
		if err := ctx.Err(); err != nil {
			return domain.ImageResult{}, err
		}
		result, err := s.attempt(ctx)
		if err == nil {
			r.logger.Debug().Int("slide", slideIndex).Str("strategy", s.name).
				Str("hash", result.Hash[:12]).Msg("image accepted")
			return result, nil
		}
		r.logger.Warn().Int("slide", slideIndex).Str("strategy", s.name).
			Err(err).Msg("image strategy failed, advancing chain")
		attemptErrs = append(attemptErrs, fmt.Errorf("%s: %w", s.name, err))
	}

	return domain.ImageResult{}, domain.ImageUnavailableError(
		fmt.Sprintf("all image strategies exhausted for slide %d", slideIndex),
		errors.Join(attemptErrs...))
}

// attemptSearch downloads up to maxDownloadCandidates search hits and
// accepts the first that decodes at 1280x720 and clears the dedup set.
func (r *Resolver) attemptSearch(ctx context.Context, slideIndex int, query string) (domain.ImageResult, error) {
	if r.search == nil || !r.search.Enabled() {
		return domain.ImageResult{}, errors.New("image search not configured")
	}

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	urls, err := r.search.Search(callCtx, query)
	cancel()
	if err != nil {
		return domain.ImageResult{}, err
	}
	if len(urls) == 0 {
		return domain.ImageResult{}, errors.New("no search results")
	}

	var candidateErrs []error
	tried := 0
	for _, candidateURL := range urls {
		if tried >= maxDownloadCandidates {
			break
		}
		tried++

		data, err := r.fetch(ctx, candidateURL)
		if err != nil {
			candidateErrs = append(candidateErrs, err)
			continue
		}
		result, err := r.admit(data, domain.SourceWebSearch, slideIndex)
		if err != nil {
			candidateErrs = append(candidateErrs, err)
			continue
		}
		return result, nil
	}
	return domain.ImageResult{}, fmt.Errorf("no valid candidate among %d: %w", tried, errors.Join(candidateErrs...))
}

// attemptGenerate renders an image and accepts it if it decodes at 1280x704
// and clears the dedup set. Placeholder frames fail one of those checks:
// they render at other resolutions, and a placeholder repeated across slides
// hashes identically to an already-accepted one.
func (r *Resolver) attemptGenerate(ctx context.Context, slideIndex int, prompt string) (domain.ImageResult, error) {
	if r.gen == nil {
		return domain.ImageResult{}, errors.New("image generation not configured")
	}

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	data, err := r.gen.Generate(callCtx, prompt)
	cancel()
	if err != nil {
		return domain.ImageResult{}, err
	}
	return r.admit(data, domain.SourceGenerated, slideIndex)
}

// admit runs the integrity checks and claims the image's identity in the
// dedup set. The set is touched only after all network activity for the
// candidate has finished.
func (r *Resolver) admit(data []byte, src domain.ImageSource, slideIndex int) (domain.ImageResult, error) {
	width, height, hash, err := inspect(data)
	if err != nil {
		return domain.ImageResult{}, err
	}
	if err := checkResolution(src, width, height); err != nil {
		return domain.ImageResult{}, err
	}
	if !r.dedup.Admit(hash, slideIndex) {
		return domain.ImageResult{}, fmt.Errorf("duplicate of already-accepted image %s", hash[:12])
	}
	return domain.ImageResult{
		SlideIndex: slideIndex,
		Source:     src,
		Bytes:      data,
		Width:      width,
		Height:     height,
		Hash:       hash,
	}, nil
}

// fetch downloads one candidate URL with a browser user agent; many image
// hosts refuse default Go clients.
func (r *Resolver) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// perturbQuery appends disambiguating context for the final generation
// retry so a repeated prompt does not reproduce the identical frame.
func perturbQuery(query string, slideIndex int) string {
	return fmt.Sprintf("%s, unique composition, professional photography, variation %d", query, slideIndex)
}
