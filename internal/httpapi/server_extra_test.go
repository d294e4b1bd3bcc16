package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"inferd/internal/manager"
	"inferd/pkg/types"
)

func TestInferLogsWithZerologInfo(t *testing.T) {
	// Install a structured logger to exercise the zlog != nil branches
	SetLogger(zerolog.New(io.Discard))
	defer func() { zlog = nil }()

	svc := &mockService{}
	h := NewMux(svc)
	w := postJSON(t, h, "/infer?log=info", `{"prompt":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with info logging, got %d", w.Code)
	}
}

func TestCORSAndSecurityHeaders(t *testing.T) {
	SetCORSOptions(true, []string{"*"}, []string{"GET", "POST", "OPTIONS"}, []string{"Content-Type"})
	defer SetCORSOptions(false, nil, nil, nil)

	svc := &mockService{ready: true}
	h := NewMux(svc)
	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options=nosniff, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got == "" {
		t.Fatalf("expected CORS header Access-Control-Allow-Origin to be set, got empty")
	}
}

func TestCORSDisabledByDefault(t *testing.T) {
	svc := &mockService{}
	h := NewMux(svc)
	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no CORS headers when disabled, got %q", got)
	}
}

func TestInferStream_WritesNDJSON(t *testing.T) {
	svc := &mockService{tokens: []string{"He", "llo"}}
	h := NewMux(svc)
	w := postJSON(t, h, "/infer_stream", `{"prompt":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content-type=%s", ct)
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 NDJSON lines, got %d: %q", len(lines), lines)
	}
	var first types.StreamEvent
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line 0: %v", err)
	}
	if first.Token != "He" || first.Terminal() {
		t.Fatalf("unexpected first event: %+v", first)
	}
	var last types.StreamEvent
	if err := json.Unmarshal([]byte(lines[2]), &last); err != nil {
		t.Fatalf("line 2: %v", err)
	}
	if !last.Done || last.Content != "Hello" || last.FinishReason != types.FinishStop {
		t.Fatalf("unexpected terminal event: %+v", last)
	}
}

func TestInferStream_PreStreamErrorStatus(t *testing.T) {
	svc := &mockService{streamErr: manager.ErrModelNotFound("ghost")}
	h := NewMux(svc)
	w := postJSON(t, h, "/infer_stream", `{"prompt":"hi"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before streaming starts, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("error should be JSON, content-type=%s", ct)
	}
	var body types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.Code != http.StatusNotFound {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestInferStream_BusyMaps429(t *testing.T) {
	svc := &mockService{streamErr: mockHTTPError{msg: "session limit reached", code: http.StatusTooManyRequests}}
	h := NewMux(svc)
	w := postJSON(t, h, "/infer_stream", `{"prompt":"hi"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}

func TestInferStreamsWithDebugLogging(t *testing.T) {
	svc := &mockService{tokens: []string{"hi"}}
	h := NewMux(svc)
	w := postJSON(t, h, "/infer_stream?log=debug", `{"prompt":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with debug logging, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"token":"hi"`) {
		t.Fatalf("token lines should still reach the client: %q", w.Body.String())
	}
}
