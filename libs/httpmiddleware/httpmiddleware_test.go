package httpmiddleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/K-crypto-trader/crpypto-trader/libs/logging"
	"github.com/gin-gonic/gin"
)

func serve(r *gin.Engine, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	var seen string
	r.GET("/ping", func(c *gin.Context) {
		seen = RequestIDFromContext(c)
		c.Status(http.StatusNoContent)
	})

	w := serve(r, http.MethodGet, "/ping", map[string]string{RequestIDHeader: "req-1"})
	if seen != "req-1" {
		t.Fatalf("expected request id req-1, got %q", seen)
	}
	if w.Header().Get(RequestIDHeader) != "req-1" {
		t.Fatalf("expected response header to echo request id")
	}

	for _, bad := range []string{"", strings.Repeat("x", maxRequestIDLen+1), "bad\x00id", "ключ"} {
		serve(r, http.MethodGet, "/ping", map[string]string{RequestIDHeader: bad})
		if seen == bad || seen == "" {
			t.Fatalf("expected generated id for %q, got %q", bad, seen)
		}
	}
}

func TestLoggerScopesRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger := logging.NewLoggerWithWriter(&buf, "info", "trader", "test")

	r := gin.New()
	r.Use(RequestID(), Logger(logger))
	r.GET("/orders", func(c *gin.Context) {
		logging.FromContext(c.Request.Context(), nil).Info("handled")
		c.Status(http.StatusOK)
	})

	serve(r, http.MethodGet, "/orders", map[string]string{RequestIDHeader: "req-42"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected handler and access lines, got %d: %s", len(lines), buf.String())
	}
	for _, line := range lines {
		if !strings.Contains(line, `"request_id":"req-42"`) {
			t.Fatalf("expected request id on every line, got %s", line)
		}
	}
	if !strings.Contains(lines[1], `"route":"/orders"`) {
		t.Fatalf("expected route on access line, got %s", lines[1])
	}
}

func TestRecoveryReturns500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Recovery(logging.Discard()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	if w := serve(r, http.MethodGet, "/boom", nil); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
