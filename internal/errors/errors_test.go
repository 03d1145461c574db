package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndRetryable(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		category  Category
		retryable bool
	}{
		{"config", ErrCodeConfigInvalid, CategoryConfig, false},
		{"store", ErrCodeStoreCorrupt, CategoryStore, false},
		{"unreachable", ErrCodeArchiveUnreachable, CategoryArchive, true},
		{"timeout", ErrCodeArchiveTimeout, CategoryArchive, true},
		{"malformed", ErrCodeRecordMalformed, CategoryRecord, false},
		{"internal", ErrCodeInternal, CategoryInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestError_FormatIncludesCode(t *testing.T) {
	err := New(ErrCodeRecordMalformed, "not json", nil)
	assert.Equal(t, "[ERR_401_RECORD_MALFORMED] not json", err.Error())
}

func TestWrap_PreservesChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ErrCodeArchiveUnreachable, cause)
	require.NotNil(t, err)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "connection refused", err.Message)
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestIs_MatchesByCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", Unreachable("host gone", nil))
	assert.True(t, errors.Is(err, New(ErrCodeArchiveUnreachable, "", nil)))
	assert.False(t, errors.Is(err, New(ErrCodeRecordInvalid, "", nil)))
}

func TestIsUnreachable(t *testing.T) {
	// Given: various error kinds
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unreachable code", Unreachable("down", nil), true},
		{"timeout code", Timeout("slow", nil), true},
		{"wrapped unreachable", fmt.Errorf("x: %w", Unreachable("down", nil)), true},
		{"deadline", context.DeadlineExceeded, true},
		{"malformed", Malformed("bad", nil), false},
		{"plain", errors.New("nope"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUnreachable(tt.err))
		})
	}
}

func TestWithDetail(t *testing.T) {
	err := New(ErrCodeRecordInvalid, "rejected", nil).
		WithDetail("path", "/tables/foo/1.json")
	assert.Equal(t, "/tables/foo/1.json", err.Details["path"])
}

func TestSeverity_RecordErrorsAreWarnings(t *testing.T) {
	assert.Equal(t, SeverityWarning, New(ErrCodeRecordMalformed, "", nil).Severity)
	assert.Equal(t, SeverityFatal, New(ErrCodeStoreCorrupt, "", nil).Severity)
}
