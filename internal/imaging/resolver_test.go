package imaging

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinedeck/cinedeck/internal/domain"
	"github.com/cinedeck/cinedeck/internal/observability"
)

// testPNG renders a PNG of the given size whose content varies with seed, so
// different seeds produce different hashes and the result stays above the
// minimum byte threshold.
func testPNG(t *testing.T, width, height, seed int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x*7 + seed*31) % 256),
				G: uint8((y*13 + seed*17) % 256),
				B: uint8((x*y + seed) % 256),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// imageHost serves fixed image bytes by path.
func imageHost(t *testing.T, images map[string][]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := images[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
}

// searchStub serves a Serper-style response listing the given URLs.
func searchStub(t *testing.T, urls []string) *SearchClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.Header.Get("X-API-KEY"))
		images := make([]map[string]string, len(urls))
		for i, u := range urls {
			images[i] = map[string]string{"imageUrl": u}
		}
		json.NewEncoder(w).Encode(map[string]any{"images": images})
	}))
	t.Cleanup(srv.Close)
	return NewSearchClient(SearchOptions{APIKey: "test-key", URL: srv.URL})
}

// genStub serves generated images; responses[i] is returned for call i and
// the last entry repeats.
func genStub(t *testing.T, responses ...[]byte) (*GenClient, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		if n >= len(responses) {
			n = len(responses) - 1
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(responses[n])
	}))
	t.Cleanup(srv.Close)
	return NewGenClient(GenOptions{URL: srv.URL, Model: "flux"}), &calls
}

// noSearch is a disabled search boundary.
type noSearch struct{}

func (noSearch) Search(context.Context, string) ([]string, error) { return nil, nil }
func (noSearch) Enabled() bool                                    { return false }

func newTestResolver(search Searcher, gen Generator, dedup *DedupSet) *Resolver {
	return NewResolver(ResolverOptions{
		Search:   search,
		Generate: gen,
		Dedup:    dedup,
		Logger:   observability.Nop(),
	})
}

func TestResolve_WebSearchSuccess(t *testing.T) {
	good := testPNG(t, domain.ImageWidth, domain.SearchHeight, 1)
	host := imageHost(t, map[string][]byte{"/a.png": good})
	defer host.Close()

	r := newTestResolver(searchStub(t, []string{host.URL + "/a.png"}), nil, NewDedupSet())

	result, err := r.Resolve(context.Background(), 1, "wind turbine, cinematic")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceWebSearch, result.Source)
	assert.Equal(t, domain.ImageWidth, result.Width)
	assert.Equal(t, domain.SearchHeight, result.Height)
	assert.NotEmpty(t, result.Hash)
}

func TestResolve_WrongResolutionCandidateSkipped(t *testing.T) {
	wrong := testPNG(t, 800, 600, 2)
	good := testPNG(t, domain.ImageWidth, domain.SearchHeight, 3)
	host := imageHost(t, map[string][]byte{"/wrong.png": wrong, "/good.png": good})
	defer host.Close()

	r := newTestResolver(searchStub(t, []string{host.URL + "/wrong.png", host.URL + "/good.png"}), nil, NewDedupSet())

	result, err := r.Resolve(context.Background(), 2, "anything")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceWebSearch, result.Source)
}

func TestResolve_DuplicateFallsBackToGeneration(t *testing.T) {
	shared := testPNG(t, domain.ImageWidth, domain.SearchHeight, 4)
	generated := testPNG(t, domain.ImageWidth, domain.GeneratedHeight, 5)
	host := imageHost(t, map[string][]byte{"/same.png": shared})
	defer host.Close()

	dedup := NewDedupSet()
	gen, _ := genStub(t, generated)
	r := newTestResolver(searchStub(t, []string{host.URL + "/same.png"}), gen, dedup)

	first, err := r.Resolve(context.Background(), 1, "calculator")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceWebSearch, first.Source)

	// Slide 3's search returns the byte-identical image already accepted
	// for slide 1: the resolver must advance to generation.
	third, err := r.Resolve(context.Background(), 3, "calculator")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceGenerated, third.Source)
	assert.NotEqual(t, first.Hash, third.Hash)
}

func TestResolve_GenerationResolutionContract(t *testing.T) {
	// Generated images must be 1280x704; a 1280x720 frame from the
	// generator is rejected and retried with the perturbed query.
	bad := testPNG(t, domain.ImageWidth, domain.SearchHeight, 6)
	good := testPNG(t, domain.ImageWidth, domain.GeneratedHeight, 7)
	gen, calls := genStub(t, bad, good)

	r := newTestResolver(noSearch{}, gen, NewDedupSet())

	result, err := r.Resolve(context.Background(), 4, "abacus")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceGenerated, result.Source)
	assert.Equal(t, domain.GeneratedHeight, result.Height)
	assert.Equal(t, int32(2), calls.Load())
}

func TestResolve_PlaceholderRepeatRejectedByDedup(t *testing.T) {
	// A rate-limited generator returns the identical frame for every
	// prompt. Slide 1 accepts it; slide 2 must reject both generation
	// attempts and fail rather than ship a duplicate.
	placeholder := testPNG(t, domain.ImageWidth, domain.GeneratedHeight, 8)
	gen, _ := genStub(t, placeholder)
	dedup := NewDedupSet()

	r := newTestResolver(noSearch{}, gen, dedup)

	_, err := r.Resolve(context.Background(), 1, "first")
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), 2, "second")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeImageUnavailable))
}

func TestResolve_ExhaustionFailsWithImageUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	gen := NewGenClient(GenOptions{URL: srv.URL})

	r := newTestResolver(noSearch{}, gen, NewDedupSet())

	_, err := r.Resolve(context.Background(), 5, "anything")
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeImageUnavailable))
}

func TestResolve_ContextCancelledStopsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen, calls := genStub(t, testPNG(t, domain.ImageWidth, domain.GeneratedHeight, 9))
	r := newTestResolver(noSearch{}, gen, NewDedupSet())

	_, err := r.Resolve(ctx, 1, "anything")
	require.Error(t, err)
	assert.Equal(t, int32(0), calls.Load())
}

type generatorFunc func(ctx context.Context, prompt string) ([]byte, error)

func (f generatorFunc) Generate(ctx context.Context, prompt string) ([]byte, error) {
	return f(ctx, prompt)
}

func TestResolve_CallTimeoutBoundsEachAttempt(t *testing.T) {
	good := testPNG(t, domain.ImageWidth, domain.GeneratedHeight, 9)
	var remaining time.Duration
	gen := generatorFunc(func(ctx context.Context, prompt string) ([]byte, error) {
		deadline, ok := ctx.Deadline()
		require.True(t, ok, "each attempt must carry a call deadline")
		remaining = time.Until(deadline)
		return good, nil
	})

	r := NewResolver(ResolverOptions{
		Search:      noSearch{},
		Generate:    gen,
		Dedup:       NewDedupSet(),
		Logger:      observability.Nop(),
		CallTimeout: 90 * time.Second,
	})

	result, err := r.Resolve(context.Background(), 1, "a query")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceGenerated, result.Source)
	assert.Greater(t, remaining, 30*time.Second, "configured timeout must override the default")
}

func TestDedupSet_AdmitIsFirstWriterWins(t *testing.T) {
	d := NewDedupSet()
	assert.True(t, d.Admit("abc", 1))
	assert.False(t, d.Admit("abc", 2))
	assert.True(t, d.Admit("def", 2))
	assert.Equal(t, 2, d.Len())
}

func TestInspect_RejectsTinyAndGarbage(t *testing.T) {
	_, _, _, err := inspect([]byte("tiny"))
	require.Error(t, err)

	garbage := make([]byte, 4096)
	_, _, _, err = inspect(garbage)
	require.Error(t, err)
}

func TestPerturbQuery(t *testing.T) {
	q := perturbQuery("abacus", 3)
	assert.Contains(t, q, "abacus")
	assert.NotEqual(t, "abacus", q)
}

func TestGenClient_RequestShape(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "image/png")
		w.Write(testPNG(t, domain.ImageWidth, domain.GeneratedHeight, 10))
	}))
	defer srv.Close()

	c := NewGenClient(GenOptions{URL: srv.URL, Model: "flux"})
	_, err := c.Generate(context.Background(), "a red fox")
	require.NoError(t, err)
	assert.Equal(t, "/a red fox", gotPath)
	assert.Contains(t, gotQuery, "width=1280")
	assert.Contains(t, gotQuery, "height=704")
	assert.Contains(t, gotQuery, "model=flux")
}

func TestGenClient_NonImageContentTypeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>rate limited</html>"))
	}))
	defer srv.Close()

	c := NewGenClient(GenOptions{URL: srv.URL})
	_, err := c.Generate(context.Background(), "anything")
	require.Error(t, err)
}
