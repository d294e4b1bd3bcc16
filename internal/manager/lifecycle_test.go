package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"inferd/internal/capacity"
	"inferd/internal/runtime/runtimetest"
	"inferd/pkg/types"
)

func TestLoad_Succeeds(t *testing.T) {
	m, fake := newTestManager(t, Config{}, map[string]*runtimetest.Model{
		"m": {Script: []string{"a", "b", "c"}},
	})
	if err := m.Load(testCtx(t), "m"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	st, err := m.State("m")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if st != types.StateLoaded {
		t.Fatalf("state = %s, want loaded", st)
	}
	if fake.Loads("m") != 1 {
		t.Fatalf("runtime loads = %d, want 1", fake.Loads("m"))
	}
}

func TestLoad_UnknownModel(t *testing.T) {
	m, _ := newTestManager(t, Config{}, map[string]*runtimetest.Model{
		"m": {Script: []string{"a"}},
	})
	err := m.Load(testCtx(t), "ghost")
	if !IsModelNotFound(err) {
		t.Fatalf("expected model-not-found, got %v", err)
	}
}

func TestLoad_AlreadyLoadedRejected(t *testing.T) {
	m, fake := newTestManager(t, Config{}, map[string]*runtimetest.Model{
		"m": {Script: []string{"a"}},
	})
	if err := m.Load(testCtx(t), "m"); err != nil {
		t.Fatalf("first Load: %v", err)
	}
	err := m.Load(testCtx(t), "m")
	if !IsAlreadyLoaded(err) {
		t.Fatalf("expected already-loaded, got %v", err)
	}
	if fake.Loads("m") != 1 {
		t.Fatalf("runtime loads = %d, want 1", fake.Loads("m"))
	}
}

func TestLoad_ConcurrentDuplicateRejected(t *testing.T) {
	m, _ := newTestManager(t, Config{}, map[string]*runtimetest.Model{
		"m": {Script: []string{"a"}, LoadDelay: 200 * time.Millisecond},
	})

	done := make(chan error, 1)
	go func() { done <- m.Load(context.Background(), "m") }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		st, err := m.State("m")
		if err != nil {
			t.Fatalf("State: %v", err)
		}
		if st == types.StateLoading {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("model never entered loading, state %s", st)
		}
		time.Sleep(time.Millisecond)
	}

	if err := m.Load(testCtx(t), "m"); !IsAlreadyLoading(err) {
		t.Fatalf("expected already-loading, got %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("first Load: %v", err)
	}
}

func TestLoad_CapacityDeniedLeavesUnloaded(t *testing.T) {
	fake := runtimetest.New()
	fake.Add("big", &runtimetest.Model{Script: []string{"a"}})
	guard := capacity.NewStaticGuard(1000, 0.10)
	m := New([]types.ModelDescriptor{testModel("big", 950)}, fake, guard, Config{})

	err := m.Load(testCtx(t), "big")
	if !IsCapacityDenied(err) {
		t.Fatalf("expected capacity-denied, got %v", err)
	}
	st, _ := m.State("big")
	if st != types.StateUnloaded {
		t.Fatalf("state after denial = %s, want unloaded", st)
	}
	if fake.Loads("big") != 0 {
		t.Fatalf("runtime was asked to load despite denial")
	}
	if used := guard.UsedMB(); used != 0 {
		t.Fatalf("usedMB after denial = %d, want 0", used)
	}
}

func TestLoad_RuntimeFailureParksFailed(t *testing.T) {
	boom := errors.New("mmap weights: no such file")
	m, fake := newTestManager(t, Config{}, map[string]*runtimetest.Model{
		"m": {LoadErr: boom},
	})

	err := m.Load(testCtx(t), "m")
	if !IsLoadFailed(err) {
		t.Fatalf("expected load-failed, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("cause not preserved: %v", err)
	}
	st, _ := m.State("m")
	if st != types.StateFailed {
		t.Fatalf("state = %s, want failed", st)
	}
	info := m.List().Models["m"]
	if info.Error == "" {
		t.Fatalf("failure reason not surfaced in listing")
	}

	// A new load attempt acknowledges the failure and can succeed.
	fake.Add("m", &runtimetest.Model{Script: []string{"a"}})
	if err := m.Load(testCtx(t), "m"); err != nil {
		t.Fatalf("retry Load: %v", err)
	}
	st, _ = m.State("m")
	if st != types.StateLoaded {
		t.Fatalf("state after retry = %s, want loaded", st)
	}
}

func TestLoad_CancelledContextLeavesUnloaded(t *testing.T) {
	m, _ := newTestManager(t, Config{}, map[string]*runtimetest.Model{
		"m": {Script: []string{"a"}, LoadDelay: 500 * time.Millisecond},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.Load(ctx, "m")
	if err == nil {
		t.Fatalf("expected error from cancelled load")
	}
	st, _ := m.State("m")
	if st != types.StateUnloaded {
		t.Fatalf("state = %s, want unloaded after caller cancellation", st)
	}
}

func TestLoad_ReservationAccounted(t *testing.T) {
	fake := runtimetest.New()
	fake.Add("a", &runtimetest.Model{Script: []string{"x"}})
	fake.Add("b", &runtimetest.Model{Script: []string{"y"}})
	guard := capacity.NewStaticGuard(1000, 0.10)
	catalog := []types.ModelDescriptor{testModel("a", 400), testModel("b", 400)}
	m := New(catalog, fake, guard, Config{})

	if err := m.Load(testCtx(t), "a"); err != nil {
		t.Fatalf("Load a: %v", err)
	}
	if used := guard.UsedMB(); used != 400 {
		t.Fatalf("usedMB = %d, want 400", used)
	}
	// 400 used, 600 free, required ceil(400*1.1)=440: still fits.
	if err := m.Load(testCtx(t), "b"); err != nil {
		t.Fatalf("Load b: %v", err)
	}
	if used := guard.UsedMB(); used != 800 {
		t.Fatalf("usedMB = %d, want 800", used)
	}
	if err := m.Unload(testCtx(t), "a"); err != nil {
		t.Fatalf("Unload a: %v", err)
	}
	if used := guard.UsedMB(); used != 400 {
		t.Fatalf("usedMB after unload = %d, want 400", used)
	}
}
