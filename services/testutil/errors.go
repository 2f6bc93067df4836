package testutil

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
)

const (
	ErrorCodeInvalidRequest      = "INVALID_REQUEST"
	ErrorCodeUnauthorized        = "UNAUTHORIZED"
	ErrorCodeForbidden           = "FORBIDDEN"
	ErrorCodeRateLimited         = "RATE_LIMITED"
	ErrorCodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	ErrorCodeInsufficientAsset   = "INSUFFICIENT_ASSET"
	ErrorCodeOrderNotFound       = "ORDER_NOT_FOUND"
	ErrorCodeInvalidOrderState   = "INVALID_ORDER_STATE"
	ErrorCodeNotFound            = "NOT_FOUND"
	ErrorCodeInternalError       = "INTERNAL_ERROR"
)

// errorStatus is the status the API pairs with each error code.
var errorStatus = map[string]int{
	ErrorCodeInvalidRequest:      http.StatusBadRequest,
	ErrorCodeUnauthorized:        http.StatusUnauthorized,
	ErrorCodeForbidden:           http.StatusForbidden,
	ErrorCodeRateLimited:         http.StatusTooManyRequests,
	ErrorCodeInsufficientBalance: http.StatusUnprocessableEntity,
	ErrorCodeInsufficientAsset:   http.StatusUnprocessableEntity,
	ErrorCodeOrderNotFound:       http.StatusNotFound,
	ErrorCodeNotFound:            http.StatusNotFound,
	ErrorCodeInvalidOrderState:   http.StatusConflict,
	ErrorCodeInternalError:       http.StatusInternalServerError,
}

// ErrorBody mirrors the API error payload.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fields  []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"fields"`
}

// AssertErrorCode checks both the code and the status it maps to, and returns
// the decoded body.
func AssertErrorCode(t *testing.T, resp *httptest.ResponseRecorder, expectedCode string) ErrorBody {
	t.Helper()
	status, ok := errorStatus[expectedCode]
	if !ok {
		t.Fatalf("unknown error code %q", expectedCode)
	}
	AssertHTTPStatus(t, resp, status)

	var body ErrorBody
	DecodeJSON(t, resp, &body)
	if body.Code != expectedCode {
		t.Fatalf("expected error code %q, got %q", expectedCode, body.Code)
	}
	return body
}

// AssertFieldErrors checks that a validation failure names exactly fields, in
// any order.
func AssertFieldErrors(t *testing.T, resp *httptest.ResponseRecorder, fields ...string) {
	t.Helper()
	body := AssertErrorCode(t, resp, ErrorCodeInvalidRequest)
	got := make([]string, 0, len(body.Fields))
	for _, f := range body.Fields {
		got = append(got, f.Field)
	}
	slices.Sort(got)
	want := slices.Clone(fields)
	slices.Sort(want)
	if !slices.Equal(got, want) {
		t.Fatalf("expected field errors %v, got %v", want, got)
	}
}

func AssertHTTPStatus(t *testing.T, resp *httptest.ResponseRecorder, expectedStatus int) {
	t.Helper()
	if resp.Code != expectedStatus {
		t.Fatalf("expected status %d, got %d: %s", expectedStatus, resp.Code, resp.Body.String())
	}
}
