package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeEmptyContent          ErrorType = "empty_content"
	ErrorTypeUnknownFormat         ErrorType = "unknown_format"
	ErrorTypeUnrecognizedContent   ErrorType = "unrecognized_content"
	ErrorTypeInvalidEncoding       ErrorType = "invalid_encoding"
	ErrorTypeUnsupportedConversion ErrorType = "unsupported_conversion"
	ErrorTypeEmptyDocument         ErrorType = "empty_document"
	ErrorTypeUnknownStrategy       ErrorType = "unknown_strategy"
	ErrorTypeUnsupportedFormat     ErrorType = "unsupported_format"
	ErrorTypeExtractionFailed      ErrorType = "extraction_failed"
	ErrorTypeStorageFailure        ErrorType = "storage_failure"

	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeAPI        ErrorType = "api"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeNotFound   ErrorType = "not_found"
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// TypeOf returns the ErrorType of the first DomainError in err's chain, or "".
func TypeOf(err error) ErrorType {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Type
	}
	return ""
}

// IsType reports whether err's chain carries a DomainError of the given type.
func IsType(err error, errType ErrorType) bool {
	var de *DomainError
	for err != nil {
		if !errors.As(err, &de) {
			return false
		}
		if de.Type == errType {
			return true
		}
		err = de.Err
	}
	return false
}

func EmptyContent(message string) *DomainError {
	return NewError(ErrorTypeEmptyContent, message, nil)
}

func UnknownFormat(mimeType string) *DomainError {
	return NewError(ErrorTypeUnknownFormat, fmt.Sprintf("no format registered for mime type %q", mimeType), nil)
}

func UnrecognizedContent(filename string) *DomainError {
	if filename == "" {
		return NewError(ErrorTypeUnrecognizedContent, "cannot determine mime type from content", nil)
	}
	return NewError(ErrorTypeUnrecognizedContent,
		fmt.Sprintf("cannot determine mime type from content or filename %q", filename), nil)
}

func InvalidEncoding(message string, err error) *DomainError {
	return NewError(ErrorTypeInvalidEncoding, message, err)
}

func UnsupportedConversion(from, to string) *DomainError {
	return NewError(ErrorTypeUnsupportedConversion, fmt.Sprintf("no converter registered from %s to %s", from, to), nil)
}

func EmptyDocument(filename string) *DomainError {
	return NewError(ErrorTypeEmptyDocument, fmt.Sprintf("document %q has no pages", filename), nil)
}

// UnknownStrategy lists every known name so callers can correct the request.
func UnknownStrategy(name string, available []string) *DomainError {
	return NewError(ErrorTypeUnknownStrategy,
		fmt.Sprintf("unknown strategy %q, available: %s", name, strings.Join(available, ", ")), nil)
}

func UnsupportedFormat(strategy, mimeType string) *DomainError {
	return NewError(ErrorTypeUnsupportedFormat,
		fmt.Sprintf("strategy %s does not support format %s", strategy, mimeType), nil)
}

func ExtractionFailed(backend, strategy string, err error) *DomainError {
	return NewError(ErrorTypeExtractionFailed,
		fmt.Sprintf("backend %s failed for strategy %s", backend, strategy), err)
}

func StorageFailure(message string, err error) *DomainError {
	return NewError(ErrorTypeStorageFailure, message, err)
}

// Common error constructors
func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func APIError(message string, err error) *DomainError {
	return NewError(ErrorTypeAPI, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorTypeIO, message, err)
}

func NotFound(message string) *DomainError {
	return NewError(ErrorTypeNotFound, message, nil)
}
