package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestContext(target string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestRequestID_Generated(t *testing.T) {
	c, rec := newTestContext("/referrals")
	h := RequestID()(okHandler)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
	if rid, _ := c.Get("request_id").(string); rid == "" {
		t.Error("expected request_id in context")
	}
}

func TestRequestID_HonorsInbound(t *testing.T) {
	c, rec := newTestContext("/referrals")
	c.Request().Header.Set("X-Request-ID", "abc-123")
	h := RequestID()(okHandler)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("expected inbound request id preserved, got %q", got)
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	c, _ := newTestContext("/referrals")
	h := Recovery(zerolog.Nop())(func(echo.Context) error {
		panic("boom")
	})
	err := h(c)
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 HTTPError, got %v", err)
	}
}

func TestSanitize_BlocksPathTraversal(t *testing.T) {
	c, rec := newTestContext("/referrals/../secrets")
	h := Sanitize(zerolog.Nop())(okHandler)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestSanitize_BlocksScriptInjection(t *testing.T) {
	c, rec := newTestContext("/referrals?reason=%3Cscript%3Ealert(1)%3C/script%3E")
	h := Sanitize(zerolog.Nop())(okHandler)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestSanitize_AllowsCleanRequest(t *testing.T) {
	c, rec := newTestContext("/referrals?status=pending")
	h := Sanitize(zerolog.Nop())(okHandler)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestLogger_PassesThrough(t *testing.T) {
	c, rec := newTestContext("/referrals")
	h := Logger(zerolog.Nop())(okHandler)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
