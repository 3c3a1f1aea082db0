package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
	"github.com/spherical/text-extractor/internal/domain"
)

// ErrNoPages is returned when a document opens but contains no pages.
var ErrNoPages = errors.New("pdf has no pages")

const (
	DefaultQuality = 85
	DefaultDPI     = 150.0
)

// Page is one rasterized PDF page encoded as JPEG.
type Page struct {
	Number int
	Data   []byte
	Width  int
	Height int
}

// Rasterizer renders PDF pages to JPEG images using MuPDF.
type Rasterizer struct {
	quality int
	dpi     float64
}

// NewRasterizer creates a rasterizer. Zero values select the defaults.
func NewRasterizer(quality int, dpi float64) (*Rasterizer, error) {
	if quality == 0 {
		quality = DefaultQuality
	}
	if dpi == 0 {
		dpi = DefaultDPI
	}

	validator := NewValidator()
	if err := validator.ValidateQuality(quality); err != nil {
		return nil, err
	}
	if err := validator.ValidateDPI(dpi); err != nil {
		return nil, err
	}

	return &Rasterizer{quality: quality, dpi: dpi}, nil
}

// Rasterize renders every page of data in page order, 1-indexed.
func (r *Rasterizer) Rasterize(ctx context.Context, data []byte) ([]Page, error) {
	if err := NewValidator().ValidateHeader(data); err != nil {
		return nil, err
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, domain.ValidationError("failed to open PDF", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, ErrNoPages
	}

	pages := make([]Page, 0, pageCount)
	opts := &jpeg.Options{Quality: r.quality}

	for pageNum := 0; pageNum < pageCount; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		img, err := doc.ImageDPI(pageNum, r.dpi)
		if err != nil {
			return nil, domain.IOError(fmt.Sprintf("failed to render page %d", pageNum+1), err)
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, opts); err != nil {
			return nil, domain.IOError(fmt.Sprintf("failed to encode page %d as JPEG", pageNum+1), err)
		}

		bounds := img.Bounds()
		pages = append(pages, Page{
			Number: pageNum + 1,
			Data:   buf.Bytes(),
			Width:  bounds.Dx(),
			Height: bounds.Dy(),
		})
	}

	return pages, nil
}
