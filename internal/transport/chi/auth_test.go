package chi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, http.NoBody)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAuthMiddleware_EmptyKeys_PassThrough(t *testing.T) {
	handler := BearerAuthMiddleware(nil, nil)(okHandler())

	if rr := serve(handler, "/features", ""); rr.Code != http.StatusOK {
		t.Errorf("empty keys: got %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_EmptyStringKeys_PassThrough(t *testing.T) {
	handler := BearerAuthMiddleware([]string{"", ""}, nil)(okHandler())

	if rr := serve(handler, "/features", ""); rr.Code != http.StatusOK {
		t.Errorf("empty string keys: got %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_MissingHeader_401(t *testing.T) {
	handler := BearerAuthMiddleware([]string{"secret"}, nil)(okHandler())

	rr := serve(handler, "/features", "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("missing header: got %d, want %d", rr.Code, http.StatusUnauthorized)
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp.Code != CodeUnauthorized {
		t.Errorf("error code: got %s, want %s", errResp.Code, CodeUnauthorized)
	}
}

func TestAuthMiddleware_BasicScheme_401(t *testing.T) {
	handler := BearerAuthMiddleware([]string{"secret"}, nil)(okHandler())

	if rr := serve(handler, "/features", "Basic dXNlcjpwYXNz"); rr.Code != http.StatusUnauthorized {
		t.Errorf("basic scheme: got %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_InvalidToken_401(t *testing.T) {
	handler := BearerAuthMiddleware([]string{"secret"}, nil)(okHandler())

	if rr := serve(handler, "/features", "Bearer wrong-key"); rr.Code != http.StatusUnauthorized {
		t.Errorf("invalid token: got %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_ValidKeys(t *testing.T) {
	handler := BearerAuthMiddleware([]string{"key1", "key2"}, []string{"admin"})(okHandler())

	for _, key := range []string{"key1", "key2", "admin"} {
		if rr := serve(handler, "/features", "Bearer "+key); rr.Code != http.StatusOK {
			t.Errorf("key %s: got %d, want %d", key, rr.Code, http.StatusOK)
		}
	}
}

func TestAuthMiddleware_AdminKeysAloneDoNotEnable(t *testing.T) {
	handler := BearerAuthMiddleware(nil, []string{"admin"})(okHandler())

	if rr := serve(handler, "/features", ""); rr.Code != http.StatusOK {
		t.Errorf("got %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_ExemptPaths(t *testing.T) {
	handler := BearerAuthMiddleware([]string{"secret"}, nil)(okHandler())

	for _, path := range []string{"/health", "/metrics"} {
		if rr := serve(handler, path, ""); rr.Code != http.StatusOK {
			t.Errorf("exempt path %s: got %d, want %d", path, rr.Code, http.StatusOK)
		}
	}
}

func TestAdminAuthMiddleware(t *testing.T) {
	tests := []struct {
		name          string
		keys          []string
		authorization string
		want          int
	}{
		{"disabled", nil, "Bearer anything", http.StatusForbidden},
		{"missing header", []string{"root"}, "", http.StatusUnauthorized},
		{"wrong key", []string{"root"}, "Bearer user-key", http.StatusForbidden},
		{"valid", []string{"root"}, "Bearer root", http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := AdminAuthMiddleware(tc.keys)(okHandler())
			if rr := serve(handler, "/admin/reset", tc.authorization); rr.Code != tc.want {
				t.Errorf("got %d, want %d", rr.Code, tc.want)
			}
		})
	}
}
