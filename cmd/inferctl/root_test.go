package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"inferd/pkg/types"
)

// runCtl executes the real command tree against srvURL and captures output.
func runCtl(t *testing.T, srvURL string, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--server", srvURL}, args...))
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func TestModelsCommandRendersTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(types.ModelsResponse{
			Models: map[string]types.ModelInfo{
				"alpha.gguf": {State: types.StateLoaded, SizeMB: 512, Quant: "Q4_K_M", Active: true},
				"beta.gguf":  {State: types.StateUnloaded, SizeMB: 900},
			},
			Active: "alpha.gguf",
			Memory: types.MemoryStatus{UsedMB: 512, FreeMB: 1536, Margin: 0.1},
		})
	}))
	defer srv.Close()

	out, _, err := runCtl(t, srv.URL, "models")
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	for _, want := range []string{"alpha.gguf", "beta.gguf", "loaded", "unloaded", "Q4_K_M", "*", "512 MiB used"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	// alpha sorts before beta
	if strings.Index(out, "alpha.gguf") > strings.Index(out, "beta.gguf") {
		t.Fatalf("models not sorted:\n%s", out)
	}
}

func TestLifecycleCommands(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		var req types.ModelRequest
		json.NewDecoder(r.Body).Decode(&req)
		st := types.ModelStateResponse{Name: req.Name, State: types.StateLoaded}
		if r.URL.Path == "/set_model" {
			st.Active = true
		}
		if r.URL.Path == "/unload_model" {
			st.State = types.StateUnloaded
		}
		json.NewEncoder(w).Encode(st)
	}))
	defer srv.Close()

	out, _, err := runCtl(t, srv.URL, "load", "alpha.gguf")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.Contains(out, "alpha.gguf: loaded") {
		t.Fatalf("load output %q", out)
	}

	out, _, err = runCtl(t, srv.URL, "activate", "alpha.gguf")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !strings.Contains(out, "alpha.gguf: loaded (active)") {
		t.Fatalf("activate output %q", out)
	}

	out, _, err = runCtl(t, srv.URL, "unload", "alpha.gguf")
	if err != nil {
		t.Fatalf("unload: %v", err)
	}
	if !strings.Contains(out, "alpha.gguf: unloaded") {
		t.Fatalf("unload output %q", out)
	}

	want := []string{"/load_model", "/set_model", "/unload_model"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("path %d = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestInferStreamsTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/infer_stream" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		enc.Encode(types.StreamEvent{Token: "He"})
		enc.Encode(types.StreamEvent{Token: "llo"})
		enc.Encode(types.StreamEvent{Done: true, Content: "Hello", FinishReason: types.FinishStop})
	}))
	defer srv.Close()

	out, errOut, err := runCtl(t, srv.URL, "infer", "hi")
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if out != "Hello\n" {
		t.Fatalf("stream output = %q, want Hello newline", out)
	}
	if errOut != "" {
		t.Fatalf("unexpected stderr %q", errOut)
	}
}

func TestInferReportsNonStopFinish(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		enc.Encode(types.StreamEvent{Token: "partial"})
		enc.Encode(types.StreamEvent{Done: true, Content: "partial", FinishReason: types.FinishLength})
	}))
	defer srv.Close()

	out, errOut, err := runCtl(t, srv.URL, "infer", "hi")
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if out != "partial\n" {
		t.Fatalf("output = %q", out)
	}
	if !strings.Contains(errOut, "finish reason: length") {
		t.Fatalf("stderr = %q, want finish reason note", errOut)
	}
}

func TestInferNoStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/infer" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(types.GenerateResponse{
			Model: "alpha.gguf", Content: "Hello", FinishReason: types.FinishStop,
		})
	}))
	defer srv.Close()

	out, _, err := runCtl(t, srv.URL, "infer", "--no-stream", "hi")
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if out != "Hello\n" {
		t.Fatalf("output = %q", out)
	}
}

func TestInferJSONOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.GenerateResponse{
			Model: "alpha.gguf", Content: "Hello", FinishReason: types.FinishStop,
			Usage: types.Usage{CompletionTokens: 2},
		})
	}))
	defer srv.Close()

	out, _, err := runCtl(t, srv.URL, "infer", "--json", "hi")
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	var resp types.GenerateResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if resp.Content != "Hello" || resp.Usage.CompletionTokens != 2 {
		t.Fatalf("decoded %+v", resp)
	}
}

func TestInferOnlySendsSetSamplingFlags(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(types.GenerateResponse{Content: "x", FinishReason: types.FinishStop})
	}))
	defer srv.Close()

	if _, _, err := runCtl(t, srv.URL, "infer", "--no-stream", "hi"); err != nil {
		t.Fatalf("infer: %v", err)
	}
	for _, key := range []string{"temperature", "top_p", "max_tokens", "seed"} {
		if _, ok := got[key]; ok {
			t.Fatalf("request carries %q without the flag: %v", key, got)
		}
	}

	if _, _, err := runCtl(t, srv.URL, "infer", "--no-stream", "--temperature", "0.2", "--max-tokens", "64", "hi"); err != nil {
		t.Fatalf("infer with flags: %v", err)
	}
	if got["temperature"] != 0.2 {
		t.Fatalf("temperature = %v, want 0.2", got["temperature"])
	}
	if got["max_tokens"] != float64(64) {
		t.Fatalf("max_tokens = %v, want 64", got["max_tokens"])
	}
	if _, ok := got["top_p"]; ok {
		t.Fatalf("top_p present without flag: %v", got)
	}
}

func TestInferJoinsPromptArgs(t *testing.T) {
	var got types.GenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(types.GenerateResponse{Content: "x", FinishReason: types.FinishStop})
	}))
	defer srv.Close()

	if _, _, err := runCtl(t, srv.URL, "infer", "--no-stream", "write", "a", "haiku"); err != nil {
		t.Fatalf("infer: %v", err)
	}
	if got.Prompt != "write a haiku" {
		t.Fatalf("prompt = %q", got.Prompt)
	}
}

func TestStatusCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.ServerStatus{
			State: "ready", Active: "alpha.gguf", LoadedModels: 1,
			LoadsTotal: 3, UnloadsTotal: 2, GenerationsTotal: 17,
			Memory:        types.MemoryStatus{UsedMB: 512, FreeMB: 1536, Margin: 0.1},
			UptimeSeconds: 90,
		})
	}))
	defer srv.Close()

	out, _, err := runCtl(t, srv.URL, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"state: ready", "active: alpha.gguf", "3 loads, 2 unloads, 17 generations", "uptime: 1m30s"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestHealthCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.HealthResponse{Status: "ok", Loaded: 0})
	}))
	defer srv.Close()

	out, _, err := runCtl(t, srv.URL, "health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !strings.Contains(out, "status: ok") || !strings.Contains(out, "active: -") {
		t.Fatalf("health output:\n%s", out)
	}
}

func TestServerErrorsSurfaceToCaller(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(types.ErrorResponse{Error: "model not found: missing.gguf", Code: 404})
	}))
	defer srv.Close()

	_, _, err := runCtl(t, srv.URL, "load", "missing.gguf")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("err = %v", err)
	}
}

func TestServerFlagDefaultsFromEnv(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.HealthResponse{Status: "ok"})
	}))
	defer srv.Close()

	t.Setenv("INFERD_SERVER", srv.URL)
	// The env default binds when the tree is built, so build after Setenv.
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"health"})
	if err := root.Execute(); err != nil {
		t.Fatalf("health via env server: %v", err)
	}
	if !strings.Contains(out.String(), "status: ok") {
		t.Fatalf("output:\n%s", out.String())
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "inferctl dev") {
		t.Fatalf("version output %q", out.String())
	}
}
