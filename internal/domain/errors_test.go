package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *DomainError
		want string
	}{
		{
			name: "without cause",
			err:  EmptyContent("binary content is empty"),
			want: "[empty_content] binary content is empty",
		},
		{
			name: "with cause",
			err:  StorageFailure("save failed", errors.New("permission denied")),
			want: "[storage_failure] save failed: permission denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestIsType_WalksWrappedChain(t *testing.T) {
	inner := ExtractionFailed("ollama", "llama_vision", errors.New("connection refused"))
	wrapped := fmt.Errorf("job abc: %w", NewError(ErrorTypeAPI, "outer", inner))

	assert.True(t, IsType(wrapped, ErrorTypeAPI))
	assert.True(t, IsType(wrapped, ErrorTypeExtractionFailed))
	assert.False(t, IsType(wrapped, ErrorTypeStorageFailure))
	assert.Equal(t, ErrorTypeAPI, TypeOf(wrapped))
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("plain")))
}

func TestUnknownStrategy_ListsNames(t *testing.T) {
	err := UnknownStrategy("nope", []string{"llama_vision", "pdf_text", "remote"})

	assert.Contains(t, err.Error(), `"nope"`)
	for _, name := range []string{"llama_vision", "pdf_text", "remote"} {
		assert.Contains(t, err.Error(), name)
	}
}

func TestExtractionFailed_NamesBackendAndStrategy(t *testing.T) {
	cause := errors.New("model not found")
	err := ExtractionFailed("ollama", "minicpm_v", cause)

	assert.Contains(t, err.Error(), "ollama")
	assert.Contains(t, err.Error(), "minicpm_v")
	assert.ErrorIs(t, err, cause)
}

func TestJobState_Terminal(t *testing.T) {
	tests := []struct {
		state JobState
		want  bool
	}{
		{StatePending, false},
		{StateProgress, false},
		{StateSuccess, true},
		{StateFailure, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.Terminal())
		})
	}
}
