package pdf

import (
	"bytes"
	"context"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/spherical/text-extractor/internal/domain"
	"github.com/spherical/text-extractor/internal/pdf/pdftest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_ValidateHeader(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		errType domain.ErrorType
	}{
		{name: "valid header", data: []byte("%PDF-1.7\n...")},
		{name: "junk before header", data: append([]byte("garbage\n"), []byte("%PDF-1.4")...)},
		{name: "empty", data: nil, errType: domain.ErrorTypeEmptyContent},
		{name: "not a pdf", data: []byte("\x89PNG\r\n"), errType: domain.ErrorTypeValidation},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateHeader(tt.data)
			if tt.errType == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, domain.IsType(err, tt.errType), "got %v", err)
		})
	}
}

func TestValidator_Ranges(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateQuality(85))
	assert.Error(t, v.ValidateQuality(0))
	assert.Error(t, v.ValidateQuality(101))

	assert.NoError(t, v.ValidateDPI(150))
	assert.Error(t, v.ValidateDPI(10))
	assert.Error(t, v.ValidateDPI(1200))
}

func TestNewRasterizer_Defaults(t *testing.T) {
	r, err := NewRasterizer(0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultQuality, r.quality)
	assert.Equal(t, DefaultDPI, r.dpi)

	_, err = NewRasterizer(150, 0)
	assert.Error(t, err)
}

func TestFromImages_PageCount(t *testing.T) {
	red := pdftest.PNG(40, 30, color.RGBA{R: 255, A: 255})
	blue := pdftest.JPEG(40, 30, color.RGBA{B: 255, A: 255})

	data, err := FromImages(red, blue, red)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))

	n, err := PageCount(data)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestFromImages_Empty(t *testing.T) {
	_, err := FromImages()
	assert.True(t, domain.IsType(err, domain.ErrorTypeEmptyContent))
}

func TestRasterize_PageOrderAndCount(t *testing.T) {
	data := pdftest.TextPDF("first", "second", "third")

	r, err := NewRasterizer(80, 72)
	require.NoError(t, err)

	pages, err := r.Rasterize(context.Background(), data)
	require.NoError(t, err)
	require.Len(t, pages, 3)

	for i, p := range pages {
		assert.Equal(t, i+1, p.Number)
		assert.Positive(t, p.Width)
		_, err := jpeg.Decode(bytes.NewReader(p.Data))
		assert.NoError(t, err, "page %d is not a JPEG", p.Number)
	}
}

func TestRasterize_Cancelled(t *testing.T) {
	r, err := NewRasterizer(0, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = r.Rasterize(ctx, pdftest.TextPDF("a"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTextLayer(t *testing.T) {
	data := pdftest.TextPDF("Hello World", "Second (page)")

	pages, err := TextLayer(context.Background(), data)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "Hello World", pages[0])
	assert.Equal(t, "Second (page)", pages[1])
}

func TestTextLayer_NoPages(t *testing.T) {
	_, err := TextLayer(context.Background(), pdftest.TextPDF())
	assert.ErrorIs(t, err, ErrNoPages)
}

func TestTextLayer_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := TextLayer(ctx, pdftest.TextPDF("a"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTextLayer_NotAPDF(t *testing.T) {
	_, err := TextLayer(context.Background(), []byte("%PDF-1.4\ngarbage"))
	assert.Error(t, err)
}
