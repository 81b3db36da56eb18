package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestLogger_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/mapping", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}
	if err := Logger(logger)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"method":"GET"`, `"path":"/mapping"`, `"status":200`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in log output, got %s", want, out)
		}
	}
}

func TestLogger_LogsHandlerError(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	handler := func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadGateway, "upstream down")
	}
	if err := Logger(logger)(handler)(c); err == nil {
		t.Fatal("expected the handler error to propagate")
	}

	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Errorf("expected error-level log, got %s", buf.String())
	}
}

func TestRecovery_RecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	handler := func(c echo.Context) error {
		panic("boom")
	}
	err := Recovery(logger)(handler)(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %v", err)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Errorf("expected panic log, got %s", buf.String())
	}
}
