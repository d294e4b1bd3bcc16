package manager

import (
	"context"
	"testing"
	"time"

	"inferd/internal/capacity"
	"inferd/internal/runtime/runtimetest"
	"inferd/pkg/types"
)

// testModel builds a descriptor for tests; the path is never opened because
// the fake runtime ignores it.
func testModel(id string, costMB int) types.ModelDescriptor {
	return types.ModelDescriptor{ID: id, Name: id, Path: "/models/" + id + ".gguf", CostMB: costMB}
}

// newTestManager wires a manager over scripted models with a static
// 1000 MiB budget. Each model costs 100 MiB unless the test builds its own
// catalog.
func newTestManager(t *testing.T, cfg Config, models map[string]*runtimetest.Model) (*Manager, *runtimetest.Fake) {
	t.Helper()
	fake := runtimetest.New()
	catalog := make([]types.ModelDescriptor, 0, len(models))
	for id, mdl := range models {
		fake.Add(id, mdl)
		catalog = append(catalog, testModel(id, 100))
	}
	guard := capacity.NewStaticGuard(1000, 0.10)
	m := New(catalog, fake, guard, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m, fake
}

// loadActive loads id and makes it active, failing the test on any error.
func loadActive(t *testing.T, m *Manager, id string) {
	t.Helper()
	if err := m.Load(context.Background(), id); err != nil {
		t.Fatalf("Load(%s): %v", id, err)
	}
	if err := m.SetActive(id); err != nil {
		t.Fatalf("SetActive(%s): %v", id, err)
	}
}

// drainStream consumes st to completion and returns the token deltas plus
// the single terminal event.
func drainStream(t *testing.T, st *Stream) ([]string, types.StreamEvent) {
	t.Helper()
	var tokens []string
	var term types.StreamEvent
	saw := false
	for ev := range st.Events() {
		if ev.Terminal() {
			if saw {
				t.Fatalf("second terminal event: %+v", ev)
			}
			saw = true
			term = ev
			continue
		}
		if saw {
			t.Fatalf("token event after terminal: %+v", ev)
		}
		tokens = append(tokens, ev.Token)
	}
	if !saw {
		t.Fatalf("stream closed without terminal event")
	}
	return tokens, term
}

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }
func i64ptr(v int64) *int64   { return &v }

// testCtx returns a context cancelled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}
