package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/spherical/text-extractor/internal/domain"
	"github.com/spherical/text-extractor/internal/fileformat"
	"github.com/spherical/text-extractor/internal/llm"
	"github.com/spherical/text-extractor/internal/observability"
)

const defaultPageSeparator = "\n\n"

// VisionStrategy sends every page image to a vision model and concatenates
// the answers in page order.
type VisionStrategy struct {
	name      string
	backend   string
	streamer  llm.Streamer
	model     string
	prompt    string
	separator string
	maxSide   int
	logger    *observability.Logger
}

func newOllamaStrategy(name string, cfg StrategyConfig, b Backends) (Strategy, error) {
	if b.Ollama == nil {
		return nil, domain.ConfigError(fmt.Sprintf("strategy %q needs an ollama backend", name), nil)
	}
	return newVisionStrategy(name, "ollama", b.Ollama, cfg, b), nil
}

func newOpenRouterStrategy(name string, cfg StrategyConfig, b Backends) (Strategy, error) {
	if b.OpenRouter == nil {
		return nil, domain.ConfigError(fmt.Sprintf("strategy %q needs OPENROUTER_API_KEY", name), nil)
	}
	return newVisionStrategy(name, "openrouter", b.OpenRouter, cfg, b), nil
}

func newVisionStrategy(name, backend string, s llm.Streamer, cfg StrategyConfig, b Backends) *VisionStrategy {
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = b.DefaultPrompt
	}
	if prompt == "" {
		prompt = defaultVisionPrompt
	}

	separator := cfg.PageSeparator
	if separator == "" {
		separator = defaultPageSeparator
	}

	logger := b.Logger
	if logger == nil {
		logger = observability.Nop()
	}

	return &VisionStrategy{
		name:      name,
		backend:   backend,
		streamer:  s,
		model:     cfg.Model,
		prompt:    prompt,
		separator: separator,
		maxSide:   cfg.MaxImageSide,
		logger:    logger.WithStrategy(name),
	}
}

func (s *VisionStrategy) Name() string {
	return s.name
}

// Extract reports progress from 30% to 50% across pages, one update per
// streamed chunk.
func (s *VisionStrategy) Extract(ctx context.Context, f *fileformat.FileFormat, opts Options) (string, error) {
	if f.Kind() != fileformat.KindImage && !f.CanConvertTo(fileformat.KindImage) {
		return "", domain.UnsupportedFormat(s.name, f.MIMEType())
	}

	images, err := f.ConvertTo(ctx, fileformat.KindImage)
	if err != nil {
		return "", err
	}

	numPages := len(images)
	pages := make([]string, 0, numPages)

	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		page, err := s.prepare(img)
		if err != nil {
			return "", err
		}

		percent := 30 + 20*i/numPages
		pageNo := i + 1
		s.logger.Debug().Int("page", pageNo).Int("pages", numPages).Msg("Processing page")

		text, err := llm.Collect(ctx, s.streamer, llm.Prompt{
			Model:  s.model,
			Text:   s.promptFor(opts.Language),
			Images: [][]byte{page.Binary()},
		}, func(chunk int, _ string) {
			opts.report(percent, fmt.Sprintf("OCR Processing (page %d of %d) chunk no: %d", pageNo, numPages, chunk))
		})
		if err != nil {
			return "", domain.ExtractionFailed(s.backend, s.name, err)
		}

		pages = append(pages, text)
	}

	return strings.Join(pages, s.separator), nil
}

// prepare converts the page to RGB JPEG and optionally downsizes it.
func (s *VisionStrategy) prepare(img *fileformat.FileFormat) (*fileformat.FileFormat, error) {
	unified, err := img.Unify()
	if err != nil {
		return nil, err
	}
	if s.maxSide > 0 {
		return unified.FitWithin(s.maxSide)
	}
	return unified, nil
}

func (s *VisionStrategy) promptFor(language string) string {
	if language == "" {
		return s.prompt
	}
	return s.prompt + "\nThe document language is " + language + "."
}
