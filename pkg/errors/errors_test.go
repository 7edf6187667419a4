package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeInvalidConfig, "configuration is invalid")
		if err == nil {
			t.Fatal("NewError returned nil")
		}
		if err.Code != ErrCodeInvalidConfig {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
		}
		if err.Category != CategoryConfiguration {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
		}
		if err.Details == nil || err.Context == nil {
			t.Error("Details/Context maps not initialized")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets retryable defaults", func(t *testing.T) {
		tests := []struct {
			code ErrorCode
			want bool
		}{
			{ErrCodeFetchTimeout, true},
			{ErrCodeBatchTimeout, true},
			{ErrCodeCircuitOpen, true},
			{ErrCodeFetchFailed, false},
			{ErrCodeItemNotFound, false},
			{ErrCodeInvalidConfig, false},
		}
		for _, tt := range tests {
			if got := NewError(tt.code, "x").Retryable; got != tt.want {
				t.Errorf("%s: Retryable = %v, want %v", tt.code, got, tt.want)
			}
		}
	})
}

func TestGetCategory(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeConfigLoad, CategoryConfiguration},
		{ErrCodeFetchTimeout, CategoryFetch},
		{ErrCodeBatchTimeout, CategoryFetch},
		{ErrCodeSourceUnavailable, CategorySource},
		{ErrCodeInvalidPosition, CategorySession},
		{ErrorCode("SOMETHING_ELSE"), CategoryInternal},
	}

	for _, tt := range tests {
		if got := GetCategory(tt.code); got != tt.want {
			t.Errorf("GetCategory(%s) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestErrorString(t *testing.T) {
	err := NewError(ErrCodeFetchFailed, "decode failed").
		WithComponent("disk").
		WithOperation("fetch")

	if got := err.Error(); got != "[disk:fetch] FETCH_FAILED: decode failed" {
		t.Errorf("Error() = %q", got)
	}

	err.WithCause(fmt.Errorf("unexpected EOF"))
	if got := err.Error(); !strings.HasSuffix(got, "decode failed: unexpected EOF") {
		t.Errorf("Error() with cause = %q", got)
	}

	if s := err.String(); !strings.Contains(s, "Cause=\"unexpected EOF\"") {
		t.Errorf("String() = %q", s)
	}
}

func TestErrorsIsAndAs(t *testing.T) {
	base := NewError(ErrCodeItemNotFound, "missing").WithCause(context.Canceled)
	wrapped := fmt.Errorf("loading: %w", base)

	if !errors.Is(wrapped, NewError(ErrCodeItemNotFound, "")) {
		t.Error("errors.Is should match by code")
	}
	if errors.Is(wrapped, NewError(ErrCodeFetchFailed, "")) {
		t.Error("errors.Is should not match a different code")
	}
	if !errors.Is(wrapped, context.Canceled) {
		t.Error("errors.Is should reach the cause")
	}

	if got := CodeOf(wrapped); got != ErrCodeItemNotFound {
		t.Errorf("CodeOf = %s", got)
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("CodeOf on a plain error should be empty")
	}
	if !HasCode(wrapped, ErrCodeItemNotFound) {
		t.Error("HasCode should be true")
	}
}

func TestWrapAndNewf(t *testing.T) {
	cause := errors.New("disk on fire")
	err := Wrap(cause, ErrCodeSourceUnavailable, "cannot list")
	if err.Cause != cause {
		t.Error("Wrap did not keep the cause")
	}
	if !err.Retryable {
		t.Error("SOURCE_UNAVAILABLE should be retryable")
	}

	err = Newf(ErrCodeInvalidPosition, "position %d out of range [0,%d)", 7, 3)
	if err.Message != "position 7 out of range [0,3)" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestWithDetailAndContext(t *testing.T) {
	err := &ArtfaveError{Code: ErrCodeFetchTimeout}
	err.WithDetail("timeout", "5s").WithContext("key", "a.png")

	if err.Details["timeout"] != "5s" {
		t.Error("detail not recorded")
	}
	if err.Context["key"] != "a.png" {
		t.Error("context not recorded")
	}
}

func TestUserFacingMessage(t *testing.T) {
	if msg := NewError(ErrCodeFetchFailed, "png: invalid format").UserFacingMessage(); msg != "Image could not be read or is corrupted" {
		t.Errorf("UserFacingMessage = %q", msg)
	}
	if msg := NewError(ErrCodeInternalError, "boom").UserFacingMessage(); msg != "boom" {
		t.Errorf("fallback UserFacingMessage = %q", msg)
	}
}

func TestWithStack(t *testing.T) {
	err := NewError(ErrCodeInternalError, "x").WithStack()
	if err.Stack == "" {
		t.Error("expected a captured stack")
	}
}
