package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ragstream/jobs"
	"ragstream/model"
	"ragstream/retrieval"
	"ragstream/types"
)

// Emitter is the write side of the job registry.
type Emitter interface {
	MarkRunning(id string) error
	Append(id string, ev types.Event) error
}

// RecentSearcher supplies fallback context when retrieval finds nothing.
type RecentSearcher interface {
	Recent(ctx context.Context, n int) ([]types.SearchResult, error)
}

type Config struct {
	TopK             int
	FallbackRecent   bool
	Temperature      float64
	MaxTokens        int
	MaxContextTokens int
}

type Option func(*Agent)

func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

func WithTokenCounter(c TokenCounter) Option {
	return func(a *Agent) { a.tokens = c }
}

func WithRecent(r RecentSearcher) Option {
	return func(a *Agent) { a.recent = r }
}

// Agent runs generation jobs: retrieve, cite, then stream the model's answer
// into the job's event log.
type Agent struct {
	cfg      Config
	searcher retrieval.Searcher
	recent   RecentSearcher
	llm      model.Generator
	events   Emitter
	tokens   TokenCounter
	logger   *slog.Logger
}

func New(cfg Config, searcher retrieval.Searcher, llm model.Generator, events Emitter, opts ...Option) *Agent {
	if cfg.TopK <= 0 {
		cfg.TopK = 4
	}
	a := &Agent{
		cfg:      cfg,
		searcher: searcher,
		llm:      llm,
		events:   events,
		tokens:   NewTiktokenCounter(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// errJobGone marks a failed append; the job was evicted under the worker.
var errJobGone = errors.New("job no longer accepts events")

// Run drives one generation job to completion. It always ends the job with
// exactly one terminal event unless the job disappears from the registry.
func (a *Agent) Run(ctx context.Context, jobID, prompt string) {
	start := time.Now()
	log := a.logger.With("job_id", jobID, "kind", jobs.KindGenerate)

	if err := a.events.MarkRunning(jobID); err != nil {
		log.Error("failed to start generation", "error", err)
		return
	}

	err := a.safeRun(ctx, jobID, prompt)
	switch {
	case err == nil:
		if err := a.events.Append(jobID, types.Done{Status: "finished"}); err != nil {
			log.Error("failed to finish job", "error", err)
			return
		}
		log.Info("generation finished", "took", time.Since(start))
	case errors.Is(err, errJobGone):
		log.Warn("generation abandoned", "error", err, "took", time.Since(start))
	default:
		log.Error("generation failed", "error", err, "took", time.Since(start))
		if err := a.events.Append(jobID, types.Failure{Message: err.Error()}); err != nil {
			log.Error("failed to report failure", "error", err)
		}
	}
}

func (a *Agent) safeRun(ctx context.Context, jobID, prompt string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generation panicked: %v", r)
		}
	}()
	return a.run(ctx, jobID, prompt)
}

func (a *Agent) emit(jobID string, ev types.Event) error {
	if err := a.events.Append(jobID, ev); err != nil {
		return fmt.Errorf("%w: %w", errJobGone, err)
	}
	return nil
}

func (a *Agent) run(ctx context.Context, jobID, prompt string) error {
	if err := a.emit(jobID, types.ToolStep{Step: "searching_documents", Text: "Searching documents"}); err != nil {
		return err
	}

	results, err := a.searcher.Search(ctx, prompt, a.cfg.TopK)
	if err != nil {
		return fmt.Errorf("search documents: %w", err)
	}

	step := types.ToolStep{Step: "retrieving_context", Text: fmt.Sprintf("Found %d relevant sections", len(results))}
	if len(results) == 0 && a.cfg.FallbackRecent && a.recent != nil {
		results, err = a.recent.Recent(ctx, 3)
		if err != nil {
			return fmt.Errorf("load recent context: %w", err)
		}
		step.Text = fmt.Sprintf("No direct hits; using recent document context (%d chunks)", len(results))
	}
	if err := a.emit(jobID, step); err != nil {
		return err
	}

	p, selected := a.compose(prompt, results)
	for i, r := range selected {
		citation := types.Citation{
			ID:    i + 1,
			Title: r.Title,
			PDFID: r.Chunk.DocID,
			Page:  r.Chunk.Page,
		}
		if err := a.emit(jobID, types.CitationEvent{Citation: citation}); err != nil {
			return err
		}
	}

	if err := a.emit(jobID, types.ToolStep{Step: "generating_answer", Text: "Generating answer"}); err != nil {
		return err
	}

	var stripper thinkStripper
	for fragment, err := range a.llm.Generate(ctx, p) {
		if err != nil {
			return fmt.Errorf("generate answer: %w", err)
		}
		if text := stripper.Feed(fragment); text != "" {
			if err := a.emit(jobID, types.TextChunk{Chunk: text}); err != nil {
				return err
			}
		}
	}
	if tail := stripper.Flush(); tail != "" {
		return a.emit(jobID, types.TextChunk{Chunk: tail})
	}
	return nil
}
