package fileformat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/spherical/text-extractor/internal/domain"
	"github.com/spherical/text-extractor/internal/pdf"
)

// pdfToImages rasterizes each page, 1-indexed and in page order, into
// "<stem>_page_<i>.jpg".
func (r *Registry) pdfToImages(ctx context.Context, src *FileFormat) ([]*FileFormat, error) {
	pages, err := r.rasterizer.Rasterize(ctx, src.binary)
	if errors.Is(err, pdf.ErrNoPages) || (err == nil && len(pages) == 0) {
		return nil, domain.EmptyDocument(src.filename)
	}
	if err != nil {
		return nil, err
	}

	stem := stem(src.filename)
	out := make([]*FileFormat, 0, len(pages))
	for i, page := range pages {
		out = append(out, r.newFormat(KindImage, page.Data, fmt.Sprintf("%s_page_%d.jpg", stem, i+1), "image/jpeg"))
	}
	return out, nil
}

// imageToPDF wraps the unified image in a one-page PDF.
func (r *Registry) imageToPDF(ctx context.Context, src *FileFormat) ([]*FileFormat, error) {
	unified, err := src.Unify()
	if err != nil {
		return nil, err
	}

	data, err := pdf.FromImages(unified.binary)
	if err != nil {
		return nil, err
	}

	return []*FileFormat{r.newFormat(KindPDF, data, stem(src.filename)+".pdf", "application/pdf")}, nil
}

// unifyImage decodes any supported encoding, flattens transparency onto white
// and re-encodes as RGB JPEG. Colour JPEGs are already canonical and are
// returned as is.
func (r *Registry) unifyImage(f *FileFormat) (*FileFormat, error) {
	img, err := imaging.Decode(bytes.NewReader(f.binary), imaging.AutoOrientation(true))
	if err != nil {
		return nil, domain.ValidationError(fmt.Sprintf("failed to decode image %s", f.filename), err)
	}

	if f.mimeType == "image/jpeg" {
		if _, ok := img.(*image.YCbCr); ok {
			return f, nil
		}
	}

	data, err := r.encodeRGBJPEG(img)
	if err != nil {
		return nil, err
	}
	return r.newFormat(KindImage, data, stem(f.filename)+".jpg", "image/jpeg"), nil
}

func (r *Registry) encodeRGBJPEG(img image.Image) ([]byte, error) {
	bounds := img.Bounds()
	canvas := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	flat := imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(r.jpegQuality)); err != nil {
		return nil, domain.IOError("failed to encode JPEG", err)
	}
	return buf.Bytes(), nil
}

// FitWithin returns an image no larger than maxSide on either axis, keeping
// the aspect ratio. Non-images and images already within bounds come back
// unchanged.
func (f *FileFormat) FitWithin(maxSide int) (*FileFormat, error) {
	if f.kind != KindImage || maxSide <= 0 {
		return f, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(f.binary))
	if err == nil && cfg.Width <= maxSide && cfg.Height <= maxSide {
		return f, nil
	}

	img, err := imaging.Decode(bytes.NewReader(f.binary), imaging.AutoOrientation(true))
	if err != nil {
		return nil, domain.ValidationError(fmt.Sprintf("failed to decode image %s", f.filename), err)
	}
	if b := img.Bounds(); b.Dx() <= maxSide && b.Dy() <= maxSide {
		return f, nil
	}

	fitted := imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
	data, err := f.reg.encodeRGBJPEG(fitted)
	if err != nil {
		return nil, err
	}
	return f.reg.newFormat(KindImage, data, stem(f.filename)+".jpg", "image/jpeg"), nil
}

func stem(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
