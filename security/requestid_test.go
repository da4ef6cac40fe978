package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerateRequestIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateRequestID()
		if !isValidRequestID(id) {
			t.Fatalf("generated ID %q failed validation", id)
		}
		if seen[id] {
			t.Fatalf("duplicate request ID: %s", id)
		}
		seen[id] = true
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	if got := GetRequestID(ctx); got != "" {
		t.Errorf("empty context should yield empty ID, got %q", got)
	}

	ctx = WithRequestID(ctx, "req-123")
	if got := GetRequestID(ctx); got != "req-123" {
		t.Errorf("GetRequestID = %q, want req-123", got)
	}
}

func TestIsValidRequestID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"abc-123_XYZ", true},
		{"", false},
		{"has space", false},
		{"has\r\ninjection", false},
		{string(make([]byte, 200)), false},
	}
	for _, tt := range tests {
		if got := isValidRequestID(tt.id); got != tt.want {
			t.Errorf("isValidRequestID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seenID string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r.Context())
	}))

	t.Run("generates when missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		if seenID == "" {
			t.Error("middleware should generate a request ID")
		}
		if rec.Header().Get(RequestIDHeader) != seenID {
			t.Error("response header should echo the request ID")
		}
	})

	t.Run("preserves valid upstream ID", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(RequestIDHeader, "upstream-42")
		handler.ServeHTTP(httptest.NewRecorder(), req)
		if seenID != "upstream-42" {
			t.Errorf("valid upstream ID should be preserved, got %q", seenID)
		}
	})

	t.Run("replaces malformed upstream ID", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(RequestIDHeader, "bad id\r\nwith injection")
		handler.ServeHTTP(httptest.NewRecorder(), req)
		if seenID == "bad id\r\nwith injection" || seenID == "" {
			t.Errorf("malformed upstream ID should be replaced, got %q", seenID)
		}
	})
}
