package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestServiceErrorIs(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", New(ErrorTypeQuota, "complete", cause).WithIdentity("u1"))

	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatal("expected quota sentinel to match")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("not_found sentinel must not match a quota error")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected underlying cause to match")
	}
	if got, want := err.Error(), "wrapped: complete failed for u1: boom"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestHTTPStatusAndCode(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{Validation("deduct", errors.New("negative")), http.StatusBadRequest, "validation"},
		{New(ErrorTypeAuth, "resolve", nil), http.StatusUnauthorized, "auth"},
		{New(ErrorTypeQuota, "complete", nil), http.StatusPaymentRequired, "quota"},
		{Upstream("complete", errors.New("503"), 503), http.StatusBadGateway, "upstream"},
		{New(ErrorTypeUnavailable, "load", nil), http.StatusServiceUnavailable, "unavailable"},
		{errors.New("plain"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.status {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.status)
		}
		if got := Code(tt.err); got != tt.code {
			t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.code)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !IsRetryableError(Upstream("complete", nil, http.StatusTooManyRequests)) {
		t.Error("429 should be retryable")
	}
	if IsRetryableError(Upstream("complete", nil, http.StatusBadRequest)) {
		t.Error("400 should not be retryable")
	}
	if IsRetryableError(Validation("add", nil)) {
		t.Error("validation errors are not retryable")
	}
	if !IsRetryableError(fmt.Errorf("store: %w", ErrUnavailable)) {
		t.Error("unavailable sentinel should be retryable")
	}
}
