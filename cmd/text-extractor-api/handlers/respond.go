// Package handlers provides HTTP handlers for the text extractor API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/spherical/text-extractor/internal/domain"
	"github.com/spherical/text-extractor/internal/jobs"
	"github.com/spherical/text-extractor/internal/observability"
)

// ErrorDTO is the body of every error response.
type ErrorDTO struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type,omitempty"`
	Detail    string `json:"detail,omitempty"`
	// ExtractedText is the partial text of a failed synchronous extraction.
	ExtractedText string `json:"extracted_text,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	writeJSON(w, status, ErrorDTO{Error: message, Message: message, Detail: detail})
}

// writeDomainError maps err to a status through its error type.
func writeDomainError(w http.ResponseWriter, logger *observability.Logger, message string, err error) {
	errType := domain.TypeOf(err)
	status := StatusFor(errType)
	if errors.Is(err, jobs.ErrQueueClosed) {
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg(message)
	}
	writeJSON(w, status, ErrorDTO{
		Error:     message,
		Message:   message,
		ErrorType: string(errType),
		Detail:    err.Error(),
	})
}

// StatusFor returns the HTTP status reported for an error type.
func StatusFor(t domain.ErrorType) int {
	switch t {
	case domain.ErrorTypeValidation,
		domain.ErrorTypeEmptyContent,
		domain.ErrorTypeInvalidEncoding,
		domain.ErrorTypeUnknownFormat,
		domain.ErrorTypeUnrecognizedContent,
		domain.ErrorTypeUnknownStrategy,
		domain.ErrorTypeUnsupportedFormat,
		domain.ErrorTypeUnsupportedConversion,
		domain.ErrorTypeEmptyDocument:
		return http.StatusBadRequest
	case domain.ErrorTypeNotFound:
		return http.StatusNotFound
	case domain.ErrorTypeAPI, domain.ErrorTypeExtractionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
