// Package capacity decides whether model loads fit in accelerator memory.
// The guard compares a descriptor's estimated cost, inflated by a safety
// margin, against free memory from a probe. When the probe cannot answer,
// loads are denied: capacity checks fail closed.
package capacity

import (
	"context"
	"fmt"
	"math"
	"sync"

	"inferd/pkg/types"
)

// DefaultMargin is the safety factor applied on top of estimated costs when
// the configuration does not set one.
const DefaultMargin = 0.10

// Probe reports currently free accelerator memory in MiB.
type Probe interface {
	FreeMB(ctx context.Context) (int, error)
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context) (int, error)

func (f ProbeFunc) FreeMB(ctx context.Context) (int, error) { return f(ctx) }

// Decision is the outcome of one capacity check.
type Decision struct {
	Allow      bool
	Reason     string
	RequiredMB int
	FreeMB     int
}

// Guard gates loads against available memory and keeps the running account
// of memory reserved by loaded models. The lifecycle coordinator calls
// Admit before a load and Release after a failed load or an unload.
type Guard struct {
	probe    Probe
	budgetMB int
	margin   float64

	mu     sync.Mutex
	usedMB int
	// last free value a probe reported, for status output
	lastFreeMB int
}

// NewGuard builds a guard over a hardware probe.
func NewGuard(probe Probe, margin float64) *Guard {
	if margin <= 0 {
		margin = DefaultMargin
	}
	return &Guard{probe: probe, margin: margin}
}

// NewStaticGuard builds a guard without hardware probing: free memory is the
// configured budget minus the reserved account. Used for CPU-only
// deployments and tests.
func NewStaticGuard(budgetMB int, margin float64) *Guard {
	if margin <= 0 {
		margin = DefaultMargin
	}
	return &Guard{budgetMB: budgetMB, margin: margin}
}

// Check decides whether desc would fit right now, without reserving
// anything. Probe failure yields a deny, never an allow: a load must not
// proceed on unverified memory.
func (g *Guard) Check(ctx context.Context, desc types.ModelDescriptor) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.decide(ctx, desc)
}

// Admit runs the capacity check and, when it allows, reserves the cost in
// the same step, so concurrent admissions never count the same free memory
// twice. Callers undo the reservation with Release when the load fails or
// the model unloads. Admissions are serialized; in probe mode the probe
// runs under the admission lock.
func (g *Guard) Admit(ctx context.Context, desc types.ModelDescriptor) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	dec := g.decide(ctx, desc)
	if dec.Allow {
		g.usedMB += desc.CostMB
	}
	return dec
}

// decide computes one decision. Callers hold g.mu.
func (g *Guard) decide(ctx context.Context, desc types.ModelDescriptor) Decision {
	required := int(math.Ceil(float64(desc.CostMB) * (1 + g.margin)))

	var free int
	if g.probe != nil {
		f, err := g.probe.FreeMB(ctx)
		if err != nil {
			return Decision{
				Allow:      false,
				Reason:     "probe unavailable: " + err.Error(),
				RequiredMB: required,
			}
		}
		free = f
		g.lastFreeMB = free
	} else {
		free = g.budgetMB - g.usedMB
		if free < 0 {
			free = 0
		}
		g.lastFreeMB = free
	}

	if required > free {
		return Decision{
			Allow:      false,
			Reason:     fmt.Sprintf("insufficient memory: required %d MiB, free %d MiB", required, free),
			RequiredMB: required,
			FreeMB:     free,
		}
	}
	return Decision{Allow: true, RequiredMB: required, FreeMB: free}
}

// Release returns mb MiB to the account.
func (g *Guard) Release(mb int) {
	g.mu.Lock()
	g.usedMB -= mb
	if g.usedMB < 0 {
		g.usedMB = 0
	}
	g.mu.Unlock()
}

// UsedMB reports the memory currently accounted to models.
func (g *Guard) UsedMB() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usedMB
}

// LastFreeMB reports the free value from the most recent check, or the
// current static headroom when no hardware probe is configured.
func (g *Guard) LastFreeMB() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.probe == nil {
		free := g.budgetMB - g.usedMB
		if free < 0 {
			free = 0
		}
		return free
	}
	return g.lastFreeMB
}

// Margin reports the configured safety margin.
func (g *Guard) Margin() float64 { return g.margin }
