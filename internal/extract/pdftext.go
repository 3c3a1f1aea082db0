package extract

import (
	"context"
	"errors"
	"strings"

	"github.com/spherical/text-extractor/internal/domain"
	"github.com/spherical/text-extractor/internal/fileformat"
	"github.com/spherical/text-extractor/internal/pdf"
)

// PDFTextStrategy reads the embedded text layer. It never rasterizes, so
// scanned documents yield empty pages.
type PDFTextStrategy struct {
	name      string
	separator string
}

func newPDFTextStrategy(name string, cfg StrategyConfig, _ Backends) (Strategy, error) {
	separator := cfg.PageSeparator
	if separator == "" {
		separator = defaultPageSeparator
	}
	return &PDFTextStrategy{name: name, separator: separator}, nil
}

func (s *PDFTextStrategy) Name() string {
	return s.name
}

func (s *PDFTextStrategy) Extract(ctx context.Context, f *fileformat.FileFormat, opts Options) (string, error) {
	if f.Kind() != fileformat.KindPDF {
		return "", domain.UnsupportedFormat(s.name, f.MIMEType())
	}

	opts.report(30, "Reading text layer")
	pages, err := pdf.TextLayer(ctx, f.Binary())
	if errors.Is(err, pdf.ErrNoPages) {
		return "", domain.EmptyDocument(f.Filename())
	}
	if err != nil {
		return "", domain.ExtractionFailed("text-layer", s.name, err)
	}
	if len(pages) == 0 {
		return "", domain.EmptyDocument(f.Filename())
	}

	return strings.Join(pages, s.separator), nil
}
