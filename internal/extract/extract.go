// Package extract turns page images into consolidated, per-answer records
// by fanning pages out to a vision model and stitching the replies back
// together in page order.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/studykit/papergrader/internal/dispatch"
	"github.com/studykit/papergrader/internal/llm"
	"github.com/studykit/papergrader/internal/llm/prompts"
	"github.com/studykit/papergrader/internal/model"
	"github.com/studykit/papergrader/internal/source"
)

// Inferencer is the slice of the inference client the pipeline needs.
type Inferencer interface {
	ExtractFromImage(ctx context.Context, image []byte, prompt, systemPrompt string) (string, error)
}

// Processor runs the page-level extraction pipeline for whole documents.
type Processor struct {
	client        Inferencer
	pageLimit     int // concurrent vision calls within one document
	documentLimit int // concurrent documents in a batch
	logger        *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithPageConcurrency caps concurrent page-level inference calls.
func WithPageConcurrency(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.pageLimit = n
		}
	}
}

// WithDocumentConcurrency caps concurrent documents in ProcessBatch.
func WithDocumentConcurrency(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.documentLimit = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// New creates a Processor with the default concurrency ceilings.
func New(client Inferencer, opts ...Option) *Processor {
	cfg := model.DefaultPipelineConfig()
	p := &Processor{
		client:        client,
		pageLimit:     cfg.PageConcurrency,
		documentLimit: cfg.StudentConcurrency,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// ProcessDocument extracts and consolidates all answers in one document.
// Pages are dispatched concurrently but reassembled in page order before
// the raw text is joined. A failed or garbled page degrades to an error
// header in the raw text; it never aborts the document.
func (p *Processor) ProcessDocument(ctx context.Context, src source.Source) (model.ExtractionResult, error) {
	pages, err := src.Pages(ctx)
	if err != nil {
		return model.ExtractionResult{}, fmt.Errorf("load pages of %s: %w", src.Name(), err)
	}

	p.logger.Debug("processing document", "name", src.Name(), "pages", len(pages))

	// A standalone image is transcribed with the single-image prompt and
	// no page headers; multi-page documents get per-page headers so the
	// joined text keeps its structure.
	multiPage := len(pages) > 1
	pagePrompt := prompts.Image
	if multiPage {
		pagePrompt = prompts.Page
	}

	payloads := dispatch.Map(ctx, pages, p.pageLimit,
		func(ctx context.Context, _ int, page source.PageImage) (llm.ExtractionPayload, error) {
			raw, err := p.client.ExtractFromImage(ctx, page.Data, pagePrompt, prompts.ExtractionSystem)
			if err != nil {
				return llm.ExtractionPayload{}, err
			}
			return llm.ParseExtraction(raw), nil
		})

	var (
		rawParts  []string
		fragments []model.AnswerFragment
		stats     []model.ExtractionStat
	)

	for i, res := range payloads {
		pageNum := pages[i].Index

		if res.Err != nil {
			p.logger.Warn("page extraction failed", "name", src.Name(), "page", pageNum, "error", res.Err)
			rawParts = append(rawParts, fmt.Sprintf("=== PAGE %d === [Error: %v]", pageNum, res.Err))
			continue
		}

		payload := res.Value
		if payload.RawText != "" {
			if multiPage {
				rawParts = append(rawParts, fmt.Sprintf("=== PAGE %d ===\n%s", pageNum, payload.RawText))
			} else {
				rawParts = append(rawParts, payload.RawText)
			}
		}

		for _, a := range payload.Answers {
			fragments = append(fragments, newFragment(a, pageNum))
		}

		if payload.Stats != nil {
			stats = append(stats, model.ExtractionStat{
				Page:           pageNum,
				WordsExtracted: payload.Stats.WordsExtracted,
				TextQuality:    payload.Stats.TextQuality,
			})
		}
	}

	answers := Consolidate(fragments)

	return model.ExtractionResult{
		Filename:        src.Name(),
		PagesProcessed:  len(pages),
		RawText:         strings.Join(rawParts, "\n\n"),
		Answers:         answers,
		TotalAnswers:    len(answers),
		ExtractionStats: stats,
		Success:         true,
	}, nil
}

// ProcessBatch extracts several documents with per-document isolation: a
// document that fails outright becomes a Success=false entry while the
// rest proceed. Entry order matches the input order.
func (p *Processor) ProcessBatch(ctx context.Context, sources []source.Source) model.BatchExtractionResult {
	p.logger.Info("processing batch", "documents", len(sources), "concurrency", p.documentLimit)

	results := dispatch.Map(ctx, sources, p.documentLimit,
		func(ctx context.Context, _ int, src source.Source) (model.ExtractionResult, error) {
			return p.ProcessDocument(ctx, src)
		})

	batch := model.BatchExtractionResult{
		Files:      make([]model.ExtractionResult, len(sources)),
		TotalFiles: len(sources),
	}

	for i, res := range results {
		if res.Err != nil {
			batch.Files[i] = model.ExtractionResult{
				Filename: sources[i].Name(),
				Success:  false,
				Error:    res.Err.Error(),
			}
			continue
		}
		batch.Files[i] = res.Value
		batch.TotalPages += res.Value.PagesProcessed
		batch.TotalAnswers += res.Value.TotalAnswers
	}

	return batch
}

// newFragment converts a raw model answer into a fragment bound to its
// source page, filling the defaults for missing type and confidence.
func newFragment(a llm.RawAnswer, page int) model.AnswerFragment {
	num := string(a.AnswerNumber)
	if num == "" {
		num = "unknown"
	}
	typ := model.AnswerType(a.AnswerType)
	if typ == "" {
		typ = model.AnswerUnknown
	}
	conf := model.Confidence(a.Confidence)
	if conf == "" {
		conf = model.ConfidenceMedium
	}
	return model.AnswerFragment{
		AnswerNumber: num,
		Content:      a.Content,
		AnswerType:   typ,
		Confidence:   conf,
		SourcePage:   page,
	}
}
