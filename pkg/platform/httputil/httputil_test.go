package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	dErrors "afterimage/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInternal, "db failed"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "internal_error" {
			t.Fatalf("expected error code internal_error, got %q", body["error"])
		}
		if _, ok := body["error_description"]; ok {
			t.Fatalf("expected error_description to be omitted for internal errors")
		}
	})

	t.Run("bad request includes description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid input"))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "bad_request" {
			t.Fatalf("expected error code bad_request, got %q", body["error"])
		}
		if body["error_description"] != "invalid input" {
			t.Fatalf("expected error_description to be returned for bad request")
		}
	})
}

func TestQueryParams(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x?from=7&bad=-1&since=2026-05-01T08:00:00Z&when=yesterday", nil)

	from, err := QueryUint(r, "from")
	if err != nil || from != 7 {
		t.Fatalf("expected from=7, got %d (%v)", from, err)
	}
	if v, err := QueryUint(r, "missing"); err != nil || v != 0 {
		t.Fatalf("expected missing param to be 0, got %d (%v)", v, err)
	}
	if _, err := QueryUint(r, "bad"); dErrors.CodeOf(err) != dErrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	since, err := QueryTime(r, "since")
	if err != nil || since.Hour() != 8 {
		t.Fatalf("expected 08:00 since, got %v (%v)", since, err)
	}
	if _, err := QueryTime(r, "when"); dErrors.CodeOf(err) != dErrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}
