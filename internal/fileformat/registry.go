// Package fileformat turns raw uploads into typed, immutable documents and
// converts between the document kinds extraction strategies consume.
package fileformat

import (
	"context"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spherical/text-extractor/internal/domain"
	"github.com/spherical/text-extractor/internal/pdf"
)

// Kind identifies a concrete document format.
type Kind int

const (
	KindUnknown Kind = iota
	KindPDF
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindPDF:
		return "pdf"
	case KindImage:
		return "image"
	default:
		return "unknown"
	}
}

type kindSpec struct {
	kind            Kind
	mimeTypes       []string
	extensions      []string
	defaultMIME     string
	defaultFilename string
	pageable        bool
	iteration       Kind
}

// kinds is scanned in order by Resolve; the first match wins.
var kinds = []kindSpec{
	{
		kind:            KindPDF,
		mimeTypes:       []string{"application/pdf"},
		extensions:      []string{".pdf"},
		defaultMIME:     "application/pdf",
		defaultFilename: "document.pdf",
		pageable:        true,
		iteration:       KindImage,
	},
	{
		kind:            KindImage,
		mimeTypes:       []string{"image/jpeg", "image/jpg", "image/png", "image/bmp", "image/x-ms-bmp", "image/gif", "image/tiff"},
		extensions:      []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".tif", ".tiff"},
		defaultMIME:     "image/jpeg",
		defaultFilename: "image.jpg",
		iteration:       KindImage,
	},
}

// Converter produces target-kind documents from one source document.
type Converter func(ctx context.Context, src *FileFormat) ([]*FileFormat, error)

type edge struct {
	from, to Kind
}

// PageRasterizer renders PDF pages; *pdf.Rasterizer is the production one.
type PageRasterizer interface {
	Rasterize(ctx context.Context, data []byte) ([]pdf.Page, error)
}

// Registry resolves MIME types to kinds and holds the conversion table.
// It is built once at start-up and read-only afterwards.
type Registry struct {
	converters  map[edge]Converter
	rasterizer  PageRasterizer
	jpegQuality int
}

// Option configures a Registry.
type Option func(*Registry)

// WithRasterizer replaces the PDF rasterizer.
func WithRasterizer(r PageRasterizer) Option {
	return func(reg *Registry) {
		reg.rasterizer = r
	}
}

// WithJPEGQuality sets the quality used when re-encoding images.
func WithJPEGQuality(q int) Option {
	return func(reg *Registry) {
		reg.jpegQuality = q
	}
}

// WithConverter registers or replaces a conversion edge.
func WithConverter(from, to Kind, c Converter) Option {
	return func(reg *Registry) {
		reg.converters[edge{from, to}] = c
	}
}

// NewRegistry builds a registry with the PDF→Image and Image→PDF edges.
func NewRegistry(opts ...Option) (*Registry, error) {
	reg := &Registry{
		converters:  make(map[edge]Converter),
		jpegQuality: pdf.DefaultQuality,
	}
	reg.converters[edge{KindPDF, KindImage}] = reg.pdfToImages
	reg.converters[edge{KindImage, KindPDF}] = reg.imageToPDF

	for _, opt := range opts {
		opt(reg)
	}

	if err := pdf.NewValidator().ValidateQuality(reg.jpegQuality); err != nil {
		return nil, err
	}

	if reg.rasterizer == nil {
		r, err := pdf.NewRasterizer(reg.jpegQuality, pdf.DefaultDPI)
		if err != nil {
			return nil, err
		}
		reg.rasterizer = r
	}

	return reg, nil
}

// Resolve returns the kind whose accepted MIME types contain mimeType.
func (r *Registry) Resolve(mimeType string) (Kind, error) {
	normalized := normalizeMIME(mimeType)
	for _, ks := range kinds {
		for _, m := range ks.mimeTypes {
			if m == normalized {
				return ks.kind, nil
			}
		}
	}
	return KindUnknown, domain.UnknownFormat(mimeType)
}

// Sniff infers a MIME type from the content signature, falling back to the
// filename extension when the content alone is inconclusive.
func (r *Registry) Sniff(data []byte, filename string) (string, error) {
	if len(data) > 0 {
		detected := mimetype.Detect(data)
		if !detected.Is("application/octet-stream") {
			return normalizeMIME(detected.String()), nil
		}
	}

	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		for _, ks := range kinds {
			for _, e := range ks.extensions {
				if e == ext {
					return ks.defaultMIMEFor(ext), nil
				}
			}
		}
	}

	return "", domain.UnrecognizedContent(filename)
}

// CanConvert reports whether a direct edge exists, or from equals to.
func (r *Registry) CanConvert(from, to Kind) bool {
	if from == to {
		return true
	}
	_, ok := r.converters[edge{from, to}]
	return ok
}

// AcceptedMIMETypes lists every MIME type some kind handles.
func (r *Registry) AcceptedMIMETypes() []string {
	var out []string
	for _, ks := range kinds {
		out = append(out, ks.mimeTypes...)
	}
	return out
}

func specFor(k Kind) kindSpec {
	for _, ks := range kinds {
		if ks.kind == k {
			return ks
		}
	}
	return kindSpec{kind: KindUnknown}
}

func (s kindSpec) defaultMIMEFor(ext string) string {
	switch ext {
	case ".png":
		return "image/png"
	case ".bmp":
		return "image/bmp"
	case ".gif":
		return "image/gif"
	case ".tif", ".tiff":
		return "image/tiff"
	}
	return s.defaultMIME
}

func normalizeMIME(m string) string {
	m = strings.ToLower(strings.TrimSpace(m))
	if mediaType, _, err := mime.ParseMediaType(m); err == nil {
		return mediaType
	}
	return m
}
