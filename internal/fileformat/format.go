package fileformat

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/spherical/text-extractor/internal/domain"
)

// FileFormat is an immutable typed wrapper around document bytes. Values are
// created through a Registry and never modified; Binary must be treated as
// read-only by callers.
type FileFormat struct {
	reg      *Registry
	kind     Kind
	binary   []byte
	filename string
	mimeType string

	hashOnce sync.Once
	hash     string

	b64Once sync.Once
	b64     string
}

// ContentHash is the stable digest used as the extraction cache key.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FromBinary sniffs the MIME type when it is not given, resolves the kind
// and wraps a private copy of data.
func (r *Registry) FromBinary(data []byte, filename, mimeType string) (*FileFormat, error) {
	if len(data) == 0 {
		return nil, domain.EmptyContent("binary content is empty")
	}

	if strings.TrimSpace(mimeType) == "" {
		sniffed, err := r.Sniff(data, filename)
		if err != nil {
			return nil, err
		}
		mimeType = sniffed
	}

	kind, err := r.Resolve(mimeType)
	if err != nil {
		return nil, err
	}

	return r.newFormat(kind, bytes.Clone(data), filename, normalizeMIME(mimeType)), nil
}

// FromBase64 decodes s and delegates to FromBinary. A data URL prefix
// ("data:application/pdf;base64,") is accepted and supplies the MIME type
// when none is given.
func (r *Registry) FromBase64(s, filename, mimeType string) (*FileFormat, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		header, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return nil, domain.InvalidEncoding("malformed data URL", nil)
		}
		if mimeType == "" {
			mimeType = strings.TrimSuffix(header, ";base64")
		}
		s = payload
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, domain.InvalidEncoding("content is not valid base64", err)
	}
	if len(data) == 0 {
		return nil, domain.EmptyContent("binary content is empty")
	}

	f, err := r.FromBinary(data, filename, mimeType)
	if err != nil {
		return nil, err
	}
	f.b64Once.Do(func() { f.b64 = s })
	return f, nil
}

// newFormat takes ownership of data.
func (r *Registry) newFormat(kind Kind, data []byte, filename, mimeType string) *FileFormat {
	ks := specFor(kind)
	if filename == "" {
		filename = ks.defaultFilename
	}
	if mimeType == "" {
		mimeType = ks.defaultMIME
	}
	return &FileFormat{
		reg:      r,
		kind:     kind,
		binary:   data,
		filename: filename,
		mimeType: mimeType,
	}
}

func (f *FileFormat) Kind() Kind {
	return f.kind
}

// Binary returns the content. The slice is shared and must not be modified.
func (f *FileFormat) Binary() []byte {
	return f.binary
}

func (f *FileFormat) Filename() string {
	return f.filename
}

func (f *FileFormat) MIMEType() string {
	return f.mimeType
}

// Hash returns the hex SHA-256 of the content.
func (f *FileFormat) Hash() string {
	f.hashOnce.Do(func() {
		f.hash = ContentHash(f.binary)
	})
	return f.hash
}

// Base64 returns the standard base64 encoding, computed once.
func (f *FileFormat) Base64() string {
	f.b64Once.Do(func() {
		f.b64 = base64.StdEncoding.EncodeToString(f.binary)
	})
	return f.b64
}

// IsPageable is true for container formats whose pages are processed
// independently.
func (f *FileFormat) IsPageable() bool {
	return specFor(f.kind).pageable
}

// IterationKind is the kind a strategy should iterate over by default.
func (f *FileFormat) IterationKind() Kind {
	return specFor(f.kind).iteration
}

// CanConvertTo reports whether ConvertTo(target) can succeed structurally.
func (f *FileFormat) CanConvertTo(target Kind) bool {
	return f.reg.CanConvert(f.kind, target)
}

// ConvertTo returns f itself for its own kind; otherwise it runs the single
// registered edge. Edges are never chained.
func (f *FileFormat) ConvertTo(ctx context.Context, target Kind) ([]*FileFormat, error) {
	if target == f.kind {
		return []*FileFormat{f}, nil
	}

	conv, ok := f.reg.converters[edge{f.kind, target}]
	if !ok {
		return nil, domain.UnsupportedConversion(f.kind.String(), target.String())
	}

	return conv(ctx, f)
}

// Unify normalises f to the canonical encoding of its kind. Images become
// RGB JPEG; every other kind is returned unchanged.
func (f *FileFormat) Unify() (*FileFormat, error) {
	if f.kind != KindImage {
		return f, nil
	}
	return f.reg.unifyImage(f)
}
