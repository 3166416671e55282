package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinedeck/cinedeck/internal/domain"
	"github.com/cinedeck/cinedeck/internal/observability"
	"github.com/cinedeck/cinedeck/internal/task"
)

type stubStructurer struct {
	mu   sync.Mutex
	err  error
	seen []domain.Point
}

func (s *stubStructurer) Structure(ctx context.Context, pts []domain.Point, maxSlides int) (*domain.Deck, error) {
	s.mu.Lock()
	s.seen = pts
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	deck := &domain.Deck{Background: "0F172A"}
	for _, p := range pts {
		deck.Slides = append(deck.Slides, domain.SlideSpec{
			Index:       p.Index,
			Headline:    fmt.Sprintf("Slide %d", p.Index),
			BodyLines:   []string{p.RawText},
			VisualQuery: fmt.Sprintf("query %d", p.Index),
			Kind:        domain.KindStandard,
			AccentColor: "6366F1",
		})
	}
	return deck, nil
}

type stubResolver struct {
	resolve func(ctx context.Context, slideIndex int, query string) (domain.ImageResult, error)
}

func (s *stubResolver) Resolve(ctx context.Context, slideIndex int, query string) (domain.ImageResult, error) {
	return s.resolve(ctx, slideIndex, query)
}

func okResolve(ctx context.Context, slideIndex int, query string) (domain.ImageResult, error) {
	return domain.ImageResult{
		SlideIndex: slideIndex,
		Source:     domain.SourceWebSearch,
		Bytes:      []byte("img"),
		Width:      domain.ImageWidth,
		Height:     domain.SearchHeight,
		Hash:       fmt.Sprintf("hash-%d", slideIndex),
	}, nil
}

type stubBuilder struct {
	mu      sync.Mutex
	calls   int
	records []domain.SlideRecord
	err     error
}

func (b *stubBuilder) Build(deck *domain.Deck, records []domain.SlideRecord) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	b.records = records
	if b.err != nil {
		return nil, b.err
	}
	return []byte("pptx"), nil
}

type stubStore struct {
	mu    sync.Mutex
	calls int
	ref   string
}

func (s *stubStore) Save(taskID string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.ref = taskID + ".pptx"
	return s.ref, nil
}

type fixture struct {
	registry   *task.MemoryRegistry
	structurer *stubStructurer
	builder    *stubBuilder
	store      *stubStore
	coord      *Coordinator
}

func newFixture(t *testing.T, resolve func(ctx context.Context, slideIndex int, query string) (domain.ImageResult, error)) *fixture {
	t.Helper()
	registry := task.NewMemoryRegistry(task.Options{})
	t.Cleanup(func() { registry.Close() })

	if resolve == nil {
		resolve = okResolve
	}
	f := &fixture{
		registry:   registry,
		structurer: &stubStructurer{},
		builder:    &stubBuilder{},
		store:      &stubStore{},
	}
	f.coord = NewCoordinator(CoordinatorOptions{
		Registry:    registry,
		Structurer:  f.structurer,
		NewResolver: func() ImageResolver { return &stubResolver{resolve: resolve} },
		Builder:     f.builder,
		Store:       f.store,
		Logger:      observability.Nop(),
		CancelPoll:  10 * time.Millisecond,
	})
	return f
}

func (f *fixture) startTask(t *testing.T) *task.Task {
	t.Helper()
	tk := task.NewTask()
	require.NoError(t, f.registry.Put(context.Background(), tk))
	return tk
}

func fivePoints() string {
	return "1. Alpha point\n2. Beta point\n3. Gamma point\n4. Delta point\n5. Epsilon point"
}

func TestCoordinator_HappyPath(t *testing.T) {
	f := newFixture(t, nil)
	tk := f.startTask(t)

	f.coord.Run(context.Background(), Job{TaskID: tk.ID, Text: fivePoints()})

	final, err := f.registry.Get(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateSucceeded, final.State)
	assert.Equal(t, tk.ID+".pptx", final.ArtifactRef)
	assert.Equal(t, 5, final.TotalSlides)

	require.Len(t, f.builder.records, 5)
	for i, record := range f.builder.records {
		assert.Equal(t, i+1, record.Spec.Index, "records must be sorted ascending")
	}

	// Sides alternate by index parity, starting with the image on the
	// left for slide 1.
	assert.Equal(t, domain.ImageLeft, f.builder.records[0].Side())
	assert.Equal(t, domain.ImageRight, f.builder.records[1].Side())
	assert.Equal(t, domain.ImageLeft, f.builder.records[2].Side())
	assert.Equal(t, domain.ImageRight, f.builder.records[3].Side())
	assert.Equal(t, domain.ImageLeft, f.builder.records[4].Side())
}

func TestCoordinator_CancelBeforeStructuring(t *testing.T) {
	f := newFixture(t, nil)
	tk := f.startTask(t)
	require.NoError(t, f.registry.RequestCancel(context.Background(), tk.ID))

	f.coord.Run(context.Background(), Job{TaskID: tk.ID, Text: fivePoints()})

	final, err := f.registry.Get(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateCancelled, final.State)
	assert.Empty(t, final.ArtifactRef)
	assert.Equal(t, 0, f.builder.calls)
	assert.Equal(t, 0, f.store.calls)
}

func TestCoordinator_CancelMidImaging(t *testing.T) {
	var once sync.Once
	started := make(chan struct{})
	blockingResolve := func(ctx context.Context, slideIndex int, query string) (domain.ImageResult, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return domain.ImageResult{}, ctx.Err()
	}

	f := newFixture(t, blockingResolve)
	tk := f.startTask(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.coord.Run(context.Background(), Job{TaskID: tk.ID, Text: fivePoints()})
	}()

	<-started
	require.NoError(t, f.registry.RequestCancel(context.Background(), tk.ID))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not wind down after cancellation")
	}

	final, err := f.registry.Get(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateCancelled, final.State)
	assert.Empty(t, final.ArtifactRef)
	assert.Equal(t, 0, f.store.calls)
}

func TestCoordinator_StructureCountMismatchFailsTask(t *testing.T) {
	f := newFixture(t, nil)
	f.structurer.err = domain.CountMismatchError("expected 5 slides, model returned 3")
	tk := f.startTask(t)

	f.coord.Run(context.Background(), Job{TaskID: tk.ID, Text: fivePoints()})

	final, err := f.registry.Get(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateFailed, final.State)
	assert.Equal(t, domain.CodeStructureCountMismatch, final.ErrorCode)
	assert.Equal(t, 0, f.builder.calls)
}

func TestCoordinator_ImageUnavailableAbortsTask(t *testing.T) {
	failThird := func(ctx context.Context, slideIndex int, query string) (domain.ImageResult, error) {
		if slideIndex == 3 {
			return domain.ImageResult{}, domain.ImageUnavailableError("all image strategies exhausted for slide 3", nil)
		}
		return okResolve(ctx, slideIndex, query)
	}

	f := newFixture(t, failThird)
	tk := f.startTask(t)

	f.coord.Run(context.Background(), Job{TaskID: tk.ID, Text: fivePoints()})

	final, err := f.registry.Get(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateFailed, final.State)
	assert.Equal(t, domain.CodeImageUnavailable, final.ErrorCode)
	assert.Equal(t, 0, f.builder.calls)
	assert.Equal(t, 0, f.store.calls)
}

func TestCoordinator_MaxSlidesClampsPoints(t *testing.T) {
	f := newFixture(t, nil)
	tk := f.startTask(t)

	f.coord.Run(context.Background(), Job{TaskID: tk.ID, Text: fivePoints(), MaxSlides: 3})

	require.Len(t, f.structurer.seen, 3)
	final, err := f.registry.Get(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateSucceeded, final.State)
	assert.Equal(t, 3, final.TotalSlides)
	assert.Len(t, f.builder.records, 3)
}

func TestCoordinator_EmptyInputFailsTask(t *testing.T) {
	f := newFixture(t, nil)
	tk := f.startTask(t)

	f.coord.Run(context.Background(), Job{TaskID: tk.ID, Text: "   \n  "})

	final, err := f.registry.Get(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateFailed, final.State)
	assert.Equal(t, domain.CodeEmptyInput, final.ErrorCode)
}

func TestCoordinator_HTMLInputIsCleaned(t *testing.T) {
	f := newFixture(t, nil)
	tk := f.startTask(t)

	html := "<html><body><p>1. Alpha point</p><p>2. Beta point</p><script>alert(1)</script></body></html>"
	f.coord.Run(context.Background(), Job{TaskID: tk.ID, Text: html})

	final, err := f.registry.Get(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateSucceeded, final.State)
	require.Len(t, f.structurer.seen, 2)
	assert.NotContains(t, f.structurer.seen[0].RawText, "<p>")
}

func TestCoordinator_SourceNumberingDrivesLayout(t *testing.T) {
	f := newFixture(t, nil)
	tk := f.startTask(t)

	// Source numbering is preserved, so points 3 and 7 keep their
	// indices and their parity-derived sides.
	f.coord.Run(context.Background(), Job{TaskID: tk.ID, Text: "3. Third item\n7. Seventh item"})

	final, err := f.registry.Get(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateSucceeded, final.State)

	require.Len(t, f.builder.records, 2)
	assert.Equal(t, 3, f.builder.records[0].Spec.Index)
	assert.Equal(t, 7, f.builder.records[1].Spec.Index)
	assert.Equal(t, domain.ImageLeft, f.builder.records[0].Side())
	assert.Equal(t, domain.ImageLeft, f.builder.records[1].Side())
}

type structurerFunc func(ctx context.Context, pts []domain.Point, maxSlides int) (*domain.Deck, error)

func (f structurerFunc) Structure(ctx context.Context, pts []domain.Point, maxSlides int) (*domain.Deck, error) {
	return f(ctx, pts, maxSlides)
}

func TestCoordinator_StageMessagesVisibleToStatusCallers(t *testing.T) {
	registry := task.NewMemoryRegistry(task.Options{})
	defer registry.Close()

	tk := task.NewTask()
	require.NoError(t, registry.Put(context.Background(), tk))

	inner := &stubStructurer{}
	var mu sync.Mutex
	var atStructuring, atResolving string

	structurer := structurerFunc(func(ctx context.Context, pts []domain.Point, maxSlides int) (*domain.Deck, error) {
		rec, err := registry.Get(ctx, tk.ID)
		require.NoError(t, err)
		mu.Lock()
		atStructuring = rec.Progress
		mu.Unlock()
		return inner.Structure(ctx, pts, maxSlides)
	})
	resolve := func(ctx context.Context, slideIndex int, query string) (domain.ImageResult, error) {
		rec, err := registry.Get(ctx, tk.ID)
		require.NoError(t, err)
		mu.Lock()
		atResolving = rec.Progress
		mu.Unlock()
		return okResolve(ctx, slideIndex, query)
	}

	coord := NewCoordinator(CoordinatorOptions{
		Registry:    registry,
		Structurer:  structurer,
		NewResolver: func() ImageResolver { return &stubResolver{resolve: resolve} },
		Builder:     &stubBuilder{},
		Store:       &stubStore{},
		Logger:      observability.Nop(),
		CancelPoll:  10 * time.Millisecond,
	})

	coord.Run(context.Background(), Job{TaskID: tk.ID, Text: "1. Alpha"})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Structuring slides", atStructuring)
	assert.Equal(t, "Resolving images", atResolving)

	final, err := registry.Get(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateSucceeded, final.State)
	assert.Empty(t, final.Progress)
}

func TestPool_SubmitAndRun(t *testing.T) {
	f := newFixture(t, nil)
	pool := NewPool(f.coord, 2, 8, observability.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	tasks := make([]*task.Task, 3)
	for i := range tasks {
		tasks[i] = f.startTask(t)
		require.NoError(t, pool.Submit(Job{TaskID: tasks[i].ID, Text: fivePoints()}))
	}

	require.Eventually(t, func() bool {
		for _, tk := range tasks {
			got, err := f.registry.Get(context.Background(), tk.ID)
			if err != nil || got.State != task.StateSucceeded {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	pool.Stop()
}

func TestPool_QueueFullRejectsSubmit(t *testing.T) {
	f := newFixture(t, nil)
	pool := NewPool(f.coord, 1, 1, observability.Nop())
	// Not started: nothing drains the queue.

	require.NoError(t, pool.Submit(Job{TaskID: "a", Text: "1. x"}))
	err := pool.Submit(Job{TaskID: "b", Text: "1. x"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestPool_SubmitAfterStop(t *testing.T) {
	f := newFixture(t, nil)
	pool := NewPool(f.coord, 1, 1, observability.Nop())
	ctx := context.Background()
	pool.Start(ctx)
	pool.Stop()

	err := pool.Submit(Job{TaskID: "late", Text: "1. x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrQueueFull)
}
