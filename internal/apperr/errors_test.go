package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusAndCode(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{ErrOfferUnavailable, http.StatusConflict, "OFFER_UNAVAILABLE"},
		{fmt.Errorf("hold points: %w", ErrInsufficientBalance), http.StatusPaymentRequired, "INSUFFICIENT_BALANCE"},
		{ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{fmt.Errorf("confirm: %w", ErrRateLimited), http.StatusTooManyRequests, "RATE_LIMITED"},
		{ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		if got := Status(tt.err); got != tt.status {
			t.Errorf("Status(%v) = %d, want %d", tt.err, got, tt.status)
		}
		if got := Code(tt.err); got != tt.code {
			t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.code)
		}
	}
}

func TestForbiddenIsNotOwner(t *testing.T) {
	if !errors.Is(ErrForbidden, ErrNotOwner) {
		t.Error("ErrForbidden should match ErrNotOwner")
	}
}

func TestKnown(t *testing.T) {
	if !Known(fmt.Errorf("wrap: %w", ErrWindowClosed)) {
		t.Error("wrapped taxonomy error should be known")
	}
	if Known(errors.New("boom")) {
		t.Error("plain error should not be known")
	}
}
