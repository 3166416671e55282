// Package worker runs deck generation jobs in the background: a bounded
// worker pool feeding a coordinator that drives the full pipeline for one
// task at a time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cinedeck/cinedeck/internal/domain"
	"github.com/cinedeck/cinedeck/internal/observability"
	"github.com/cinedeck/cinedeck/internal/points"
	"github.com/cinedeck/cinedeck/internal/task"
)

// Job is one queued deck generation request.
type Job struct {
	TaskID    string
	Text      string
	MaxSlides int
}

// Structurer produces one slide spec per point.
type Structurer interface {
	Structure(ctx context.Context, pts []domain.Point, maxSlides int) (*domain.Deck, error)
}

// ImageResolver acquires a validated image for one slide.
type ImageResolver interface {
	Resolve(ctx context.Context, slideIndex int, visualQuery string) (domain.ImageResult, error)
}

// ResolverFactory creates a fresh resolver per task so each task gets its
// own dedup scope.
type ResolverFactory func() ImageResolver

// DeckBuilder renders the assembled slide records.
type DeckBuilder interface {
	Build(deck *domain.Deck, records []domain.SlideRecord) ([]byte, error)
}

// ArtifactStore persists finished decks.
type ArtifactStore interface {
	Save(taskID string, data []byte) (string, error)
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Registry         task.Registry
	Structurer       Structurer
	NewResolver      ResolverFactory
	Builder          DeckBuilder
	Store            ArtifactStore
	Logger           *observability.Logger
	MaxInputChars    int
	DefaultMaxSlides int
	ImageParallelism int
	CancelPoll       time.Duration
}

// Coordinator executes the pipeline for a single job: extract points,
// structure slides, resolve images, assemble, build, store.
type Coordinator struct {
	registry         task.Registry
	structurer       Structurer
	newResolver      ResolverFactory
	builder          DeckBuilder
	store            ArtifactStore
	logger           *observability.Logger
	maxInputChars    int
	defaultMaxSlides int
	imageParallelism int
	cancelPoll       time.Duration
}

// NewCoordinator creates a pipeline coordinator.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	if opts.MaxInputChars <= 0 {
		opts.MaxInputChars = 20000
	}
	if opts.DefaultMaxSlides <= 0 {
		opts.DefaultMaxSlides = 50
	}
	if opts.ImageParallelism <= 0 {
		opts.ImageParallelism = 4
	}
	if opts.CancelPoll <= 0 {
		opts.CancelPoll = 500 * time.Millisecond
	}
	return &Coordinator{
		registry:         opts.Registry,
		structurer:       opts.Structurer,
		newResolver:      opts.NewResolver,
		builder:          opts.Builder,
		store:            opts.Store,
		logger:           opts.Logger.WithComponent("worker"),
		maxInputChars:    opts.MaxInputChars,
		defaultMaxSlides: opts.DefaultMaxSlides,
		imageParallelism: opts.ImageParallelism,
		cancelPoll:       opts.CancelPoll,
	}
}

// Run executes the job and records its terminal state in the registry.
func (c *Coordinator) Run(ctx context.Context, job Job) {
	logger := c.logger.WithTask(job.TaskID)
	start := time.Now()

	err := c.execute(ctx, job, logger)
	switch {
	case err == nil:
		logger.Info().Dur("elapsed", time.Since(start)).Msg("task succeeded")
	case domain.IsCode(err, domain.CodeCancelled) || errors.Is(err, context.Canceled):
		if _, uerr := c.registry.Update(ctx, job.TaskID, func(t *task.Task) error {
			return t.MarkCancelled()
		}); uerr != nil {
			logger.Error().Err(uerr).Msg("failed to record cancellation")
		}
		logger.Info().Dur("elapsed", time.Since(start)).Msg("task cancelled")
	default:
		if _, uerr := c.registry.Update(ctx, job.TaskID, func(t *task.Task) error {
			return t.MarkFailed(err)
		}); uerr != nil {
			logger.Error().Err(uerr).Msg("failed to record failure")
		}
		logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("task failed")
	}
}

// execute runs the pipeline stages. Any returned error is mapped to the
// task's terminal state by Run.
func (c *Coordinator) execute(ctx context.Context, job Job, logger *observability.Logger) error {
	// Truncation happens before extraction so an over-long tail shrinks
	// the point set itself instead of breaking the one-slide-per-point
	// contract downstream.
	text := job.Text
	if points.IsHTML(text) {
		text = points.Clean(text)
	}
	text = points.Truncate(text, c.maxInputChars)

	pts, err := points.Extract(text)
	if err != nil {
		return err
	}

	maxSlides := job.MaxSlides
	if maxSlides <= 0 {
		maxSlides = c.defaultMaxSlides
	}
	if len(pts) > maxSlides {
		pts = pts[:maxSlides]
	}
	total := len(pts)

	if _, err := c.registry.Update(ctx, job.TaskID, func(t *task.Task) error {
		if err := t.MarkRunning(total); err != nil {
			return err
		}
		return t.SetStage(fmt.Sprintf("Extracted %d points", total))
	}); err != nil {
		return err
	}
	logger.Info().Int("points", total).Msg("points extracted")

	// The cancel flag is polled in the background for the rest of the
	// run; raising it cancels the stage context every in-flight call
	// sees. Explicit checks before each stage catch flags raised while
	// no call was in flight.
	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)
	stopPolling := c.pollCancellation(runCtx, cancelRun, job.TaskID, logger)
	defer stopPolling()

	if err := c.checkCancelled(runCtx, job.TaskID); err != nil {
		return err
	}

	c.setStage(runCtx, job.TaskID, "Structuring slides", logger)
	deck, err := c.structurer.Structure(runCtx, pts, maxSlides)
	if err != nil {
		return c.mapCancellation(runCtx, err)
	}
	logger.Info().Int("slides", len(deck.Slides)).Msg("deck structured")
	c.setStage(runCtx, job.TaskID, "Resolving images", logger)

	if err := c.checkCancelled(runCtx, job.TaskID); err != nil {
		return err
	}

	records, err := c.resolveImages(runCtx, job.TaskID, deck, logger)
	if err != nil {
		return c.mapCancellation(runCtx, err)
	}

	if err := c.checkCancelled(runCtx, job.TaskID); err != nil {
		return err
	}

	data, err := c.builder.Build(deck, records)
	if err != nil {
		return err
	}

	ref, err := c.store.Save(job.TaskID, data)
	if err != nil {
		return err
	}

	_, err = c.registry.Update(ctx, job.TaskID, func(t *task.Task) error {
		return t.MarkSucceeded(ref)
	})
	return err
}

// setStage updates the task's progress message; a failed update never
// aborts the pipeline.
func (c *Coordinator) setStage(ctx context.Context, taskID, message string, logger *observability.Logger) {
	if _, err := c.registry.Update(ctx, taskID, func(t *task.Task) error {
		return t.SetStage(message)
	}); err != nil {
		logger.Warn().Err(err).Msg("progress update failed")
	}
}

// resolveImages acquires every slide's image with bounded parallelism and
// returns the records sorted by ascending slide index. One failed slide
// aborts the whole task.
func (c *Coordinator) resolveImages(ctx context.Context, taskID string, deck *domain.Deck, logger *observability.Logger) ([]domain.SlideRecord, error) {
	resolver := c.newResolver()
	total := len(deck.Slides)

	var mu sync.Mutex
	records := make([]domain.SlideRecord, 0, total)
	completed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.imageParallelism)

	for _, spec := range deck.Slides {
		spec := spec
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result, err := resolver.Resolve(gctx, spec.Index, spec.VisualQuery)
			if err != nil {
				return fmt.Errorf("slide %d: %w", spec.Index, err)
			}

			mu.Lock()
			records = append(records, domain.SlideRecord{Spec: spec, Image: result})
			completed++
			done := completed
			mu.Unlock()

			if _, err := c.registry.Update(gctx, taskID, func(t *task.Task) error {
				return t.SetProgress(done, total)
			}); err != nil {
				logger.Warn().Err(err).Msg("progress update failed")
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Spec.Index < records[j].Spec.Index
	})
	return records, nil
}

// checkCancelled consults the registry's cancel flag once.
func (c *Coordinator) checkCancelled(ctx context.Context, taskID string) error {
	if err := ctx.Err(); err != nil {
		if domain.IsCode(context.Cause(ctx), domain.CodeCancelled) {
			return context.Cause(ctx)
		}
		return err
	}
	requested, err := c.registry.CancelRequested(ctx, taskID)
	if err != nil {
		return fmt.Errorf("check cancel flag: %w", err)
	}
	if requested {
		return domain.CancelledError("cancellation requested")
	}
	return nil
}

// mapCancellation converts context-cancellation errors raised by the
// background poller back into the task's Cancelled state.
func (c *Coordinator) mapCancellation(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) {
		if cause := context.Cause(ctx); domain.IsCode(cause, domain.CodeCancelled) {
			return cause
		}
	}
	return err
}

// pollCancellation watches the registry's cancel flag until the run ends
// and cancels the run context when the flag is raised.
func (c *Coordinator) pollCancellation(ctx context.Context, cancelRun context.CancelCauseFunc, taskID string, logger *observability.Logger) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		ticker := time.NewTicker(c.cancelPoll)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				requested, err := c.registry.CancelRequested(ctx, taskID)
				if err != nil {
					logger.Warn().Err(err).Msg("cancel flag poll failed")
					continue
				}
				if requested {
					cancelRun(domain.CancelledError("cancellation requested"))
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}
