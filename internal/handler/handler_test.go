package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dave999999/SmartPick1-sub001/internal/apperr"
)

func TestWriteErrorMapsTaxonomy(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("offer o1: %w", apperr.ErrOfferUnavailable), http.StatusConflict, "OFFER_UNAVAILABLE"},
		{apperr.ErrInsufficientPoints, http.StatusPaymentRequired, "INSUFFICIENT_POINTS"},
		{fmt.Errorf("wrapped: %w", apperr.ErrForbidden), http.StatusForbidden, "FORBIDDEN"},
		{apperr.ErrWindowClosed, http.StatusConflict, "WINDOW_CLOSED"},
		{apperr.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeError(rec, httptest.NewRequest("POST", "/", nil), slog.Default(), tt.err)

		var body map[string]string
		json.Unmarshal(rec.Body.Bytes(), &body)
		if rec.Code != tt.status || body["code"] != tt.code {
			t.Errorf("%v: got %d %v, want %d %s", tt.err, rec.Code, body, tt.status, tt.code)
		}
		if body["error"] != tt.err.Error() {
			t.Errorf("error = %q, want %q", body["error"], tt.err.Error())
		}
	}
}

func TestWriteErrorHidesInternalErrors(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest("GET", "/api/points", nil), logger, errors.New("database is locked"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "locked") {
		t.Errorf("body leaks internal error: %s", rec.Body.String())
	}
	if !strings.Contains(logs.String(), "database is locked") {
		t.Errorf("internal error not logged: %s", logs.String())
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		QRCode string `json:"qrCode"`
	}

	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"qrCode":"abc"}`))
	if err := decodeJSON(req, &v); err != nil || v.QRCode != "abc" {
		t.Errorf("decode = %v, %q", err, v.QRCode)
	}

	req = httptest.NewRequest("POST", "/", nil)
	if err := decodeJSON(req, &v); err != nil {
		t.Errorf("empty body: %v", err)
	}

	req = httptest.NewRequest("POST", "/", strings.NewReader(`{"qrCode":`))
	if err := decodeJSON(req, &v); err == nil {
		t.Error("expected error for truncated JSON")
	}
}

func TestAdminCreditValidation(t *testing.T) {
	h := NewAdminHandler(nil, nil, nil, nil, slog.Default())

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"bad owner kind", `{"ownerKind":"bank","ownerId":"u1","amount":5,"reference":"x"}`},
		{"missing owner", `{"amount":5,"reference":"x"}`},
		{"missing reference", `{"ownerId":"u1","amount":5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Credit(rec, httptest.NewRequest("POST", "/internal/points/credit", strings.NewReader(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest("GET", "/?limit=20&offset=abc", nil)
	if got := queryInt(req, "limit", 50); got != 20 {
		t.Errorf("limit = %d, want 20", got)
	}
	if got := queryInt(req, "offset", 0); got != 0 {
		t.Errorf("offset = %d, want 0", got)
	}
	if got := queryInt(req, "missing", 7); got != 7 {
		t.Errorf("missing = %d, want 7", got)
	}
}
