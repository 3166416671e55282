package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cinedeck/cinedeck/cmd/cinedeck/ui"
	"github.com/cinedeck/cinedeck/internal/artifact"
	"github.com/cinedeck/cinedeck/internal/deck"
	"github.com/cinedeck/cinedeck/internal/docext"
	"github.com/cinedeck/cinedeck/internal/imaging"
	"github.com/cinedeck/cinedeck/internal/llm"
	"github.com/cinedeck/cinedeck/internal/structure"
	"github.com/cinedeck/cinedeck/internal/task"
	"github.com/cinedeck/cinedeck/internal/worker"
)

// newGenerateCmd creates the generate command: a one-shot, in-process run of
// the full pipeline against a local document.
func newGenerateCmd() *cobra.Command {
	var (
		text       string
		outputPath string
		maxSlides  int
	)

	cmd := &cobra.Command{
		Use:   "generate [input-file]",
		Short: "Generate a slide deck from a document of numbered points",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if text == "" && len(args) == 0 {
				return fmt.Errorf("provide an input file or --text")
			}

			input := text
			if len(args) > 0 {
				path := args[0]
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read input: %w", err)
				}
				hint, err := docext.HintFromFilename(path)
				if err != nil {
					return err
				}
				input, err = docext.ExtractText(data, hint)
				if err != nil {
					return err
				}
				if outputPath == "" {
					base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
					outputPath = base + ".pptx"
				}
			}
			if outputPath == "" {
				outputPath = "deck.pptx"
			}

			return runGenerate(cmd.Context(), input, outputPath, maxSlides)
		},
	}

	cmd.Flags().StringVarP(&text, "text", "t", "", "raw text input instead of a file")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output .pptx path (default: <input-name>.pptx)")
	cmd.Flags().IntVar(&maxSlides, "max-slides", 0, "cap the number of slides")

	return cmd
}

func runGenerate(ctx context.Context, input, outputPath string, maxSlides int) error {
	registry := task.NewMemoryRegistry(task.Options{
		TaskTTL:       cfg.Registry.TaskTTL,
		CancelFlagTTL: cfg.Registry.CancelFlagTTL,
	})
	defer registry.Close()

	store, err := artifact.NewStore(cfg.Artifacts.Dir, cfg.Artifacts.Retention, logger)
	if err != nil {
		return err
	}

	llmClient := llm.NewClient(llm.Options{
		APIKey:      cfg.Content.APIKey,
		BaseURL:     cfg.Content.BaseURL,
		Model:       cfg.Content.Model,
		Temperature: cfg.Content.Temperature,
		MaxTokens:   cfg.Content.MaxTokens,
		Timeout:     cfg.Content.Timeout,
	})
	searchClient := imaging.NewSearchClient(imaging.SearchOptions{
		APIKey:     cfg.ImageSearch.APIKey,
		URL:        cfg.ImageSearch.URL,
		MaxResults: cfg.ImageSearch.MaxResults,
		Timeout:    cfg.ImageSearch.Timeout,
	})
	genClient := imaging.NewGenClient(imaging.GenOptions{
		URL:     cfg.ImageGen.URL,
		Model:   cfg.ImageGen.Model,
		Timeout: cfg.ImageGen.Timeout,
	})

	// The per-call resolver context must outlast the slower client's own
	// timeout or slow generations would exhaust the fallback chain.
	callTimeout := cfg.ImageGen.Timeout
	if cfg.ImageSearch.Timeout > callTimeout {
		callTimeout = cfg.ImageSearch.Timeout
	}

	coordinator := worker.NewCoordinator(worker.CoordinatorOptions{
		Registry:   registry,
		Structurer: structure.New(llmClient, logger, cfg.Pipeline.StructureRetries),
		NewResolver: func() worker.ImageResolver {
			return imaging.NewResolver(imaging.ResolverOptions{
				Search:      searchClient,
				Generate:    genClient,
				Logger:      logger,
				CallTimeout: callTimeout,
			})
		},
		Builder:          deck.NewPPTXBuilder(logger),
		Store:            store,
		Logger:           logger,
		MaxInputChars:    cfg.Pipeline.MaxInputChars,
		DefaultMaxSlides: cfg.Pipeline.DefaultMaxSlides,
		ImageParallelism: cfg.Pipeline.ImageParallelism,
	})

	tk := task.NewTask()
	if err := registry.Put(ctx, tk); err != nil {
		return err
	}

	// Ctrl-C raises the cancel flag instead of killing the run outright,
	// so the pipeline winds down at its next checkpoint.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		<-sigs
		ui.Warning("Cancelling, waiting for the pipeline to wind down")
		_ = registry.RequestCancel(context.Background(), tk.ID)
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		coordinator.Run(ctx, worker.Job{TaskID: tk.ID, Text: input, MaxSlides: maxSlides})
	}()

	watchProgress(ctx, registry, tk.ID, done)

	final, err := registry.Get(ctx, tk.ID)
	if err != nil {
		return err
	}

	switch final.State {
	case task.StateSucceeded:
		if err := exportArtifact(store, final.ArtifactRef, outputPath); err != nil {
			return err
		}
		ui.Success("Deck written to %s (%d slides)", outputPath, final.TotalSlides)
		return nil
	case task.StateCancelled:
		ui.Warning("Generation cancelled")
		return nil
	default:
		ui.Error("Generation failed: %s", final.ErrorDetail)
		return fmt.Errorf("%s", final.ErrorCode)
	}
}

// watchProgress drives the terminal UI from the registry's task record.
func watchProgress(ctx context.Context, registry task.Registry, taskID string, done <-chan struct{}) {
	spin := ui.NewSpinner("Structuring slides")
	spin.Start()

	var bar *ui.SlideBar
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			if bar != nil {
				bar.Finish()
			} else {
				spin.Stop()
			}
			return
		case <-ticker.C:
			tk, err := registry.Get(ctx, taskID)
			if err != nil {
				continue
			}
			if tk.CurrentSlide > 0 && bar == nil {
				spin.Stop()
				bar = ui.NewSlideBar(tk.TotalSlides, "Resolving images")
			}
			if bar != nil {
				bar.Set(tk.CurrentSlide)
			}
		}
	}
}

// exportArtifact copies the stored deck to the requested output path.
func exportArtifact(store *artifact.Store, ref, outputPath string) error {
	rc, err := store.Open(ref)
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
