package capacity

import (
	"context"
	"errors"
	"strings"
	"testing"

	"inferd/pkg/types"
)

func desc(costMB int) types.ModelDescriptor {
	return types.ModelDescriptor{ID: "m", Path: "/m.gguf", CostMB: costMB}
}

func TestStaticGuardAllowsWithinBudget(t *testing.T) {
	g := NewStaticGuard(8192, 0.10)
	d := g.Check(context.Background(), desc(1000))
	if !d.Allow {
		t.Fatalf("expected allow, got deny: %s", d.Reason)
	}
	if d.RequiredMB != 1100 {
		t.Fatalf("required = %d, want 1100", d.RequiredMB)
	}
}

func TestStaticGuardDeniesOverBudget(t *testing.T) {
	g := NewStaticGuard(1000, 0.10)
	d := g.Check(context.Background(), desc(1000))
	if d.Allow {
		t.Fatalf("expected deny for 1100 required vs 1000 free")
	}
	if !strings.Contains(d.Reason, "insufficient memory") {
		t.Fatalf("unexpected reason: %q", d.Reason)
	}
}

func TestStaticGuardAccountsReservations(t *testing.T) {
	g := NewStaticGuard(4096, 0.10)
	if d := g.Admit(context.Background(), desc(3000)); !d.Allow {
		t.Fatalf("expected allow for first admission: %s", d.Reason)
	}
	if got := g.UsedMB(); got != 3000 {
		t.Fatalf("used = %d, want 3000", got)
	}
	if d := g.Check(context.Background(), desc(1000)); d.Allow {
		t.Fatalf("expected deny with 3000 MiB reserved, free should be 1096")
	}
	g.Release(3000)
	if d := g.Check(context.Background(), desc(1000)); !d.Allow {
		t.Fatalf("expected allow after release, got: %s", d.Reason)
	}
	if got := g.UsedMB(); got != 0 {
		t.Fatalf("used = %d, want 0", got)
	}
}

func TestAdmitDeniedReservesNothing(t *testing.T) {
	g := NewStaticGuard(1000, 0.10)
	if d := g.Admit(context.Background(), desc(1000)); d.Allow {
		t.Fatalf("expected deny for 1100 required vs 1000 free")
	}
	if got := g.UsedMB(); got != 0 {
		t.Fatalf("used after denied admission = %d, want 0", got)
	}
}

func TestAdmitSerializesConcurrentAdmissions(t *testing.T) {
	// Budget fits one 500 MiB model plus margin, not two. Exactly one of
	// the racing admissions may win.
	g := NewStaticGuard(1000, 0.10)
	results := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- g.Admit(context.Background(), desc(500)).Allow
		}()
	}
	allowed := 0
	for i := 0; i < 2; i++ {
		if <-results {
			allowed++
		}
	}
	if allowed != 1 {
		t.Fatalf("allowed = %d, want exactly 1", allowed)
	}
	if got := g.UsedMB(); got != 500 {
		t.Fatalf("used = %d, want 500", got)
	}
}

func TestGuardFailsClosedOnProbeError(t *testing.T) {
	g := NewGuard(ProbeFunc(func(context.Context) (int, error) {
		return 0, errors.New("device lost")
	}), 0.10)
	d := g.Check(context.Background(), desc(1))
	if d.Allow {
		t.Fatalf("probe error must deny, not allow")
	}
	if !strings.Contains(d.Reason, "probe unavailable") {
		t.Fatalf("unexpected reason: %q", d.Reason)
	}
}

func TestGuardUsesProbeFreeMemory(t *testing.T) {
	free := 2000
	g := NewGuard(ProbeFunc(func(context.Context) (int, error) {
		return free, nil
	}), 0.10)

	if d := g.Check(context.Background(), desc(1000)); !d.Allow {
		t.Fatalf("expected allow at 2000 free: %s", d.Reason)
	}
	free = 1000
	if d := g.Check(context.Background(), desc(1000)); d.Allow {
		t.Fatalf("expected deny at 1000 free for 1100 required")
	}
	if got := g.LastFreeMB(); got != 1000 {
		t.Fatalf("last free = %d, want 1000", got)
	}
}

func TestReleaseClampsAtZero(t *testing.T) {
	g := NewStaticGuard(1024, 0.10)
	g.Release(500)
	if got := g.UsedMB(); got != 0 {
		t.Fatalf("used = %d, want 0", got)
	}
}

func TestSMIProbeParsesAndReserves(t *testing.T) {
	p := NewSMIProbe(1024)
	p.run = func(context.Context) ([]byte, error) {
		return []byte("8192\n"), nil
	}
	free, err := p.FreeMB(context.Background())
	if err != nil {
		t.Fatalf("FreeMB: %v", err)
	}
	if free != 8192-1024 {
		t.Fatalf("free = %d, want %d", free, 8192-1024)
	}
}

func TestSMIProbeMultiGPUTakesFirstLine(t *testing.T) {
	p := NewSMIProbe(0)
	p.run = func(context.Context) ([]byte, error) {
		return []byte("4096\n8192\n"), nil
	}
	free, err := p.FreeMB(context.Background())
	if err != nil {
		t.Fatalf("FreeMB: %v", err)
	}
	if free != 4096-DefaultReserveMB {
		t.Fatalf("free = %d, want %d", free, 4096-DefaultReserveMB)
	}
}

func TestSMIProbeRejectsGarbage(t *testing.T) {
	p := NewSMIProbe(0)
	p.run = func(context.Context) ([]byte, error) {
		return []byte("not a number"), nil
	}
	if _, err := p.FreeMB(context.Background()); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestSMIProbeCommandError(t *testing.T) {
	p := NewSMIProbe(0)
	p.run = func(context.Context) ([]byte, error) {
		return nil, errors.New("executable file not found")
	}
	if _, err := p.FreeMB(context.Background()); err == nil {
		t.Fatalf("expected command error")
	}
}
