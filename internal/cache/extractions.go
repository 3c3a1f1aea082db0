package cache

import (
	"context"
	"errors"
	"time"
)

const extractionPrefix = "ocr"

// Extractions stores extracted text keyed by content hash.
type Extractions struct {
	client Client
	ttl    time.Duration
}

// NewExtractions wraps client. A zero ttl keeps entries until cleared.
func NewExtractions(client Client, ttl time.Duration) *Extractions {
	return &Extractions{client: client, ttl: ttl}
}

// Lookup returns the cached text for hash. A miss is not an error.
func (e *Extractions) Lookup(ctx context.Context, hash string) (string, bool, error) {
	data, err := e.client.Get(ctx, CacheKey(extractionPrefix, hash))
	if errors.Is(err, ErrCacheMiss) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

// Store saves text under hash.
func (e *Extractions) Store(ctx context.Context, hash, text string) error {
	return e.client.Set(ctx, CacheKey(extractionPrefix, hash), []byte(text), e.ttl)
}

// Clear drops every cached extraction.
func (e *Extractions) Clear(ctx context.Context) error {
	return e.client.DeleteByPrefix(ctx, extractionPrefix+":")
}

// Ping checks the underlying store.
func (e *Extractions) Ping(ctx context.Context) error {
	return e.client.Ping(ctx)
}
