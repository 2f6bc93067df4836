package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// RequestOption decorates a request built by Do.
type RequestOption func(*http.Request)

func WithBearer(token string) RequestOption {
	return func(r *http.Request) {
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

// Do serves a request against h. A nil body sends no payload.
func Do(h http.Handler, method, path string, body any, opts ...RequestOption) *httptest.ResponseRecorder {
	var reader io.Reader = http.NoBody
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func MakeAuthRequest(h http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	return Do(h, method, path, body, WithBearer(token))
}

func MakeAPIRequest(h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	return Do(h, method, path, body)
}

// DecodeJSON unmarshals the recorded body into v or fails the test.
func DecodeJSON(t *testing.T, resp *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", resp.Body.String(), err)
	}
}
