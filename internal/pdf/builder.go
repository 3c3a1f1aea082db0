package pdf

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/spherical/text-extractor/internal/domain"
)

func init() {
	// Keep pdfcpu from creating a config directory under $HOME.
	model.ConfigPath = "disable"
}

func newConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// FromImages builds a PDF with one page per image, in the given order.
// Images must be JPEG, PNG, TIFF or WebP.
func FromImages(images ...[]byte) ([]byte, error) {
	if len(images) == 0 {
		return nil, domain.EmptyContent("no images to build a PDF from")
	}

	readers := make([]io.Reader, 0, len(images))
	for _, img := range images {
		readers = append(readers, bytes.NewReader(img))
	}

	var out bytes.Buffer
	if err := api.ImportImages(nil, &out, readers, pdfcpu.DefaultImportConfig(), newConfiguration()); err != nil {
		return nil, domain.IOError("failed to build PDF from images", err)
	}

	n, err := PageCount(out.Bytes())
	if err != nil {
		return nil, err
	}
	if n != len(images) {
		return nil, domain.IOError(fmt.Sprintf("built PDF has %d pages for %d images", n, len(images)), nil)
	}
	return out.Bytes(), nil
}

// PageCount returns the number of pages of a PDF held in memory.
func PageCount(data []byte) (int, error) {
	if err := NewValidator().ValidateHeader(data); err != nil {
		return 0, err
	}

	n, err := api.PageCount(bytes.NewReader(data), newConfiguration())
	if err != nil {
		return 0, domain.ValidationError("failed to read PDF page count", err)
	}
	return n, nil
}
