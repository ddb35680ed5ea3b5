// Package apperr holds the error taxonomy shared by the reservation, ledger,
// penalty and pickup services, and its mapping onto HTTP responses.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrOfferUnavailable    = errors.New("offer unavailable")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientPoints  = errors.New("insufficient points")
	ErrInvalidState        = errors.New("invalid state")
	ErrNotOwner            = errors.New("not owner")
	ErrWindowClosed        = errors.New("pickup window closed")
	ErrRateLimited         = errors.New("rate limited")
	ErrSuspended           = errors.New("account suspended")
	ErrPenaltyNotActive    = errors.New("penalty not active")
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
)

// ErrForbidden is reported for authorization failures; it is the same
// condition as ErrNotOwner.
var ErrForbidden = ErrNotOwner

var table = []struct {
	err    error
	status int
	code   string
}{
	{ErrOfferUnavailable, http.StatusConflict, "OFFER_UNAVAILABLE"},
	{ErrInsufficientBalance, http.StatusPaymentRequired, "INSUFFICIENT_BALANCE"},
	{ErrInsufficientPoints, http.StatusPaymentRequired, "INSUFFICIENT_POINTS"},
	{ErrInvalidState, http.StatusConflict, "INVALID_STATE"},
	{ErrNotOwner, http.StatusForbidden, "FORBIDDEN"},
	{ErrWindowClosed, http.StatusConflict, "WINDOW_CLOSED"},
	{ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
	{ErrSuspended, http.StatusForbidden, "SUSPENDED"},
	{ErrPenaltyNotActive, http.StatusConflict, "PENALTY_NOT_ACTIVE"},
	{ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT"},
}

// Status returns the HTTP status for err, or 500 for errors outside the taxonomy.
func Status(err error) int {
	for _, e := range table {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

// Code returns the machine-readable code for err, or "INTERNAL".
func Code(err error) string {
	for _, e := range table {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "INTERNAL"
}

// Known reports whether err belongs to the taxonomy.
func Known(err error) bool {
	return Code(err) != "INTERNAL"
}
