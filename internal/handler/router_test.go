package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	assistantService "github.com/trafficwatch/sos-assistant/backend/internal/service/assistant"
)

func TestRouterHealthAndCORS(t *testing.T) {
	registry := assistantService.NewRegistry(assistantService.RegistryConfig{})
	defer registry.CloseAll()
	router := NewRouter(nil, registry, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"model":false`) {
		t.Fatalf("unexpected health body %s", resp.Body.String())
	}
	if resp.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("expected CORS headers")
	}
}

func TestRouterWithoutModelOrSpeech(t *testing.T) {
	registry := assistantService.NewRegistry(assistantService.RegistryConfig{})
	defer registry.CloseAll()
	router := NewRouter(nil, registry, nil, nil)

	cases := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hi"}]}`, http.StatusServiceUnavailable},
		{http.MethodGet, "/api/languages", "", http.StatusOK},
		{http.MethodPost, "/api/speech/synthesize", `{"text":"hi"}`, http.StatusNotFound},
		{http.MethodPost, "/api/assistant/sessions", `{"language":"es"}`, http.StatusCreated},
		{http.MethodGet, "/api/sos-recordings", "", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != tc.want {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.want, resp.Code)
		}
	}
}
