package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequestIDGeneratedAndPropagated(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var fromContext string
	handler := RequestID()(func(c echo.Context) error {
		fromContext = RequestIDFromContext(c.Request().Context())
		return nil
	})
	if err := handler(c); err != nil {
		t.Fatalf("middleware failed: %v", err)
	}

	header := rec.Header().Get("X-Request-ID")
	if header == "" {
		t.Fatal("expected a generated request id in the response header")
	}
	if fromContext != header {
		t.Errorf("context id %q does not match response header %q", fromContext, header)
	}
}

func TestRequestIDHonorsClientHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-supplied-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var fromContext string
	handler := RequestID()(func(c echo.Context) error {
		fromContext = RequestIDFromContext(c.Request().Context())
		return nil
	})
	if err := handler(c); err != nil {
		t.Fatalf("middleware failed: %v", err)
	}

	if got := rec.Header().Get("X-Request-ID"); got != "client-supplied-id" {
		t.Errorf("expected the client's id echoed back, got %q", got)
	}
	if fromContext != "client-supplied-id" {
		t.Errorf("expected the client's id in context, got %q", fromContext)
	}
}

func TestRequestIDFromContextOutsideRequest(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty id outside a request, got %q", got)
	}
}
