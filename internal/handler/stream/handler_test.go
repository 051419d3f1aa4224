package stream

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	"github.com/trafficwatch/sos-assistant/backend/internal/model/chat"
	"github.com/trafficwatch/sos-assistant/backend/internal/model/language"
)

type fakeBackend struct {
	deltas  []string
	failAt  int
	startEr error
	got     chat.CompletionRequest
}

func (f *fakeBackend) Stream(_ context.Context, req chat.CompletionRequest) (*schema.StreamReader[*schema.Message], error) {
	f.got = req
	if f.startEr != nil {
		return nil, f.startEr
	}
	reader, writer := schema.Pipe[*schema.Message](len(f.deltas) + 1)
	go func() {
		defer writer.Close()
		for i, delta := range f.deltas {
			if f.failAt > 0 && i == f.failAt {
				writer.Send(nil, errors.New("upstream reset"))
				return
			}
			writer.Send(schema.AssistantMessage(delta, nil), nil)
		}
	}()
	return reader, nil
}

func serve(t *testing.T, backend Backend, body string) *httptest.ResponseRecorder {
	t.Helper()
	h := New(backend, nil)
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func dataLines(t *testing.T, body string) []string {
	t.Helper()
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		if line, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestHandleChatStreamsDeltasThenDone(t *testing.T) {
	backend := &fakeBackend{deltas: []string{"Call ", "911", " now."}}
	resp := serve(t, backend, `{"messages":[{"role":"user","content":" help "}],"language":"fr"}`)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	lines := dataLines(t, resp.Body.String())
	want := []string{
		`{"type":"text-delta","delta":"Call "}`,
		`{"type":"text-delta","delta":"911"}`,
		`{"type":"text-delta","delta":" now."}`,
		"[DONE]",
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d frames, got %d: %v", len(want), len(lines), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("frame %d: expected %s, got %s", i, want[i], lines[i])
		}
	}

	if backend.got.Language != language.French {
		t.Fatalf("expected language fr, got %s", backend.got.Language)
	}
	if backend.got.Messages[0].Content != "help" {
		t.Fatalf("expected trimmed content, got %q", backend.got.Messages[0].Content)
	}
}

func TestHandleChatUnknownLanguageFallsBack(t *testing.T) {
	backend := &fakeBackend{deltas: []string{"ok"}}
	serve(t, backend, `{"messages":[{"role":"user","content":"hi"}],"language":"xx"}`)

	if backend.got.Language != language.English {
		t.Fatalf("expected fallback to en, got %s", backend.got.Language)
	}
}

func TestHandleChatErrorFrameWithoutDone(t *testing.T) {
	backend := &fakeBackend{deltas: []string{"a", "b", "c"}, failAt: 2}
	resp := serve(t, backend, `{"messages":[{"role":"user","content":"hi"}]}`)

	lines := dataLines(t, resp.Body.String())
	if len(lines) != 3 {
		t.Fatalf("expected 3 frames, got %v", lines)
	}
	if lines[2] != `{"type":"error","errorText":"upstream reset"}` {
		t.Fatalf("unexpected final frame %s", lines[2])
	}
	for _, line := range lines {
		if line == "[DONE]" {
			t.Fatal("failed stream must not be terminated with [DONE]")
		}
	}
}

func TestHandleChatRejectsInvalidJSON(t *testing.T) {
	resp := serve(t, &fakeBackend{}, `{"messages":`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestHandleChatRejectsEmptyHistory(t *testing.T) {
	resp := serve(t, &fakeBackend{}, `{"messages":[]}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestHandleChatRejectsUnknownRole(t *testing.T) {
	resp := serve(t, &fakeBackend{}, `{"messages":[{"role":"system","content":"x"}]}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestHandleChatWithoutBackend(t *testing.T) {
	resp := serve(t, nil, `{"messages":[{"role":"user","content":"hi"}]}`)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

func TestHandleChatBackendStartFailure(t *testing.T) {
	resp := serve(t, &fakeBackend{startEr: errors.New("dial tcp: refused")}, `{"messages":[{"role":"user","content":"hi"}]}`)
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}
}

func TestRegisterRoutesAppliesLimiter(t *testing.T) {
	blocked := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	h := New(&fakeBackend{deltas: []string{"x"}}, blocked)
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
}
