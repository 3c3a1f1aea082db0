package pdf

import (
	"bytes"
	"fmt"

	"github.com/spherical/text-extractor/internal/domain"
)

var pdfMagic = []byte("%PDF-")

// headerWindow is how far into the file the magic may appear; some producers
// prepend junk before the header and readers tolerate it.
const headerWindow = 1024

// Validator provides input validation for PDF data and rendering options
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateHeader checks that data starts like a PDF document
func (v *Validator) ValidateHeader(data []byte) error {
	if len(data) == 0 {
		return domain.EmptyContent("PDF content is empty")
	}

	window := data
	if len(window) > headerWindow {
		window = window[:headerWindow]
	}
	if !bytes.Contains(window, pdfMagic) {
		return domain.ValidationError("content is not a PDF (missing %PDF- header)", nil)
	}

	return nil
}

// ValidateQuality validates JPEG quality parameter
func (v *Validator) ValidateQuality(quality int) error {
	if quality < 1 || quality > 100 {
		return domain.ValidationError(fmt.Sprintf("quality must be between 1 and 100, got %d", quality), nil)
	}
	return nil
}

// ValidateDPI validates the rasterization resolution
func (v *Validator) ValidateDPI(dpi float64) error {
	if dpi < 36 || dpi > 600 {
		return domain.ValidationError(fmt.Sprintf("dpi must be between 36 and 600, got %.0f", dpi), nil)
	}
	return nil
}
