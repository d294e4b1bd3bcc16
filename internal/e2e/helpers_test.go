package e2e

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"inferd/internal/capacity"
	"inferd/internal/httpapi"
	"inferd/internal/manager"
	"inferd/internal/registry"
	"inferd/internal/runtime/runtimetest"
)

// createTempModelsDir creates a temporary directory populated with empty
// .gguf files and returns the directory path and the model ids (filenames).
// An empty file carries no weights, so each model costs exactly the fixed
// load overhead.
func createTempModelsDir(t *testing.T, names ...string) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte(""), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", p, err)
		}
	}
	return dir, names
}

// serverConfig bundles the knobs an end-to-end test can turn.
type serverConfig struct {
	budgetMB int
	margin   float64
	mgr      manager.Config
}

// newServer scans modelsDir, scripts every discovered model on a fake
// runtime and serves the full HTTP surface over it. The returned manager is
// the same instance behind the server, so tests can assert internal state.
func newServer(t *testing.T, modelsDir string, cfg serverConfig, script func(id string) *runtimetest.Model) (*httptest.Server, *manager.Manager, *runtimetest.Fake) {
	t.Helper()
	catalog, err := registry.Build(nil, modelsDir)
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	fake := runtimetest.New()
	for _, d := range catalog {
		m := &runtimetest.Model{Script: []string{"He", "llo"}}
		if script != nil {
			m = script(d.ID)
		}
		fake.Add(d.ID, m)
	}
	guard := capacity.NewStaticGuard(cfg.budgetMB, cfg.margin)
	mgr := manager.New(catalog, fake, guard, cfg.mgr)
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Close(ctx)
	})
	return srv, mgr, fake
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}
