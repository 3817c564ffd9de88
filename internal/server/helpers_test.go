package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequireMethod(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/series/sync", nil)

	if RequireMethod(rr, req, http.MethodGet, http.MethodPost) {
		t.Fatal("expected PUT to be rejected")
	}
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
	if got := rr.Header().Get("Allow"); got != "GET, POST" {
		t.Errorf("expected Allow header 'GET, POST', got %q", got)
	}
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	var v struct {
		Name string `json:"name"`
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","extra":1}`))

	if DecodeJSON(rr, req, &v) {
		t.Fatal("expected unknown field to be rejected")
	}
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestDecodeJSON_OK(t *testing.T) {
	var v struct {
		Name string `json:"name"`
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"}`))

	if !DecodeJSON(rr, req, &v) {
		t.Fatalf("unexpected rejection: %s", rr.Body.String())
	}
	if v.Name != "a" {
		t.Errorf("expected name=a, got %q", v.Name)
	}
}

func TestWriteValidationError(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteValidationError(rr, []string{"Manifest.Series is required"})

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var body ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "invalid_request" || len(body.Details) != 1 {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestMaskSecret(t *testing.T) {
	cases := map[string]string{
		"":             "",
		"abc":          "****",
		"abcdefghijkl": "abcd****",
	}
	for in, want := range cases {
		if got := maskSecret(in); got != want {
			t.Errorf("maskSecret(%q) = %q, want %q", in, got, want)
		}
	}
}
