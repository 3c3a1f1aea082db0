package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	lpdf "github.com/ledongthuc/pdf"

	"github.com/spherical/text-extractor/internal/domain"
)

// TextLayer returns the embedded text of each page, in page order. Pages
// without a text layer yield an empty string. Glyphs are decoded through the
// page fonts' encodings and ToUnicode maps.
func TextLayer(ctx context.Context, data []byte) ([]string, error) {
	if err := NewValidator().ValidateHeader(data); err != nil {
		return nil, err
	}

	r, err := openReader(data)
	if err != nil {
		return nil, domain.ValidationError("failed to parse PDF", err)
	}

	n, err := numPages(r)
	if err != nil {
		return nil, domain.ValidationError("failed to read PDF page tree", err)
	}
	if n == 0 {
		return nil, ErrNoPages
	}

	pages := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		// GetPlainText recovers from malformed content streams itself
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, domain.IOError(fmt.Sprintf("failed to read text of page %d", i), err)
		}
		pages = append(pages, strings.TrimSpace(text))
	}
	return pages, nil
}

// openReader guards against the reader panicking on broken cross-reference
// tables.
func openReader(data []byte) (r *lpdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			r, err = nil, fmt.Errorf("malformed pdf: %v", p)
		}
	}()
	return lpdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

func numPages(r *lpdf.Reader) (n int, err error) {
	defer func() {
		if p := recover(); p != nil {
			n, err = 0, fmt.Errorf("malformed page tree: %v", p)
		}
	}()
	return r.NumPage(), nil
}
