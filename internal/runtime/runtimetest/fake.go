// Package runtimetest provides a deterministic in-memory runtime for tests.
// Handles expose real next-token distributions so the generation loop and
// sampler run exactly as they do against a native backend, without weights
// on disk.
package runtimetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"inferd/internal/runtime"
	"inferd/pkg/types"
)

// Prompt tokens are encoded as promptBase+rune so they can never collide
// with generative ids (EOS is 0, script tokens are 1..len(script)).
const promptBase int32 = 1 << 21

// Model scripts the behavior of one fake model.
type Model struct {
	// Script is the generative vocabulary. By default its entries are
	// emitted in order, followed by EOS: the scripted token receives
	// nearly all probability mass at each step.
	Script []string
	// Spread flattens the distribution to uniform over the script at
	// every step, so the sampled sequence depends on the seed. EOS is
	// never produced; generation runs to max_tokens.
	Spread bool
	// StepDelay pauses each distribution call, for backpressure and
	// cancellation timing tests.
	StepDelay time.Duration
	// FailAfter makes the distribution call fail once this many tokens
	// have been generated. Zero disables failure injection.
	FailAfter int
	// LoadErr fails Load with this error.
	LoadErr error
	// LoadDelay pauses Load, for concurrent-load tests.
	LoadDelay time.Duration
}

// Fake implements runtime.Runtime over a set of scripted models.
type Fake struct {
	mu     sync.Mutex
	models map[string]*Model
	loads  map[string]int
	closes map[string]int
}

// New returns an empty fake runtime. Add scripts before loading.
func New() *Fake {
	return &Fake{
		models: make(map[string]*Model),
		loads:  make(map[string]int),
		closes: make(map[string]int),
	}
}

// Add registers a scripted model under id.
func (f *Fake) Add(id string, m *Model) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models[id] = m
}

// Load implements runtime.Runtime. Unknown ids fail, matching a native
// backend asked to open a missing weights file.
func (f *Fake) Load(ctx context.Context, desc types.ModelDescriptor) (runtime.Handle, error) {
	f.mu.Lock()
	m, ok := f.models[desc.ID]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("open %s: no scripted model", desc.ID)
	}
	if m.LoadDelay > 0 {
		select {
		case <-time.After(m.LoadDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	f.mu.Lock()
	f.loads[desc.ID]++
	f.mu.Unlock()
	return &handle{model: m, onClose: func() {
		f.mu.Lock()
		f.closes[desc.ID]++
		f.mu.Unlock()
	}}, nil
}

// Loads reports how many times id was loaded.
func (f *Fake) Loads(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads[id]
}

// Open reports how many handles for id are loaded and not yet closed.
func (f *Fake) Open(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads[id] - f.closes[id]
}

// NewHandle returns a live handle for m without going through Load, for
// tests that drive the generation loop directly.
func NewHandle(m *Model) runtime.TokenSource {
	return &handle{model: m}
}

type handle struct {
	model   *Model
	closed  atomic.Bool
	onClose func()
}

func (h *handle) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	if h.onClose != nil {
		h.onClose()
	}
	return nil
}

// Encode maps each rune of text into the prompt id range.
func (h *handle) Encode(text string) ([]int32, error) {
	if h.closed.Load() {
		return nil, fmt.Errorf("encode: handle closed")
	}
	toks := make([]int32, 0, len(text))
	for _, r := range text {
		toks = append(toks, promptBase+r)
	}
	return toks, nil
}

// Decode renders ids back to text. EOS decodes to nothing.
func (h *handle) Decode(tokens []int32) (string, error) {
	if h.closed.Load() {
		return "", fmt.Errorf("decode: handle closed")
	}
	var b strings.Builder
	for _, t := range tokens {
		switch {
		case t == 0:
		case t >= promptBase:
			b.WriteRune(rune(t - promptBase))
		case int(t) <= len(h.model.Script):
			b.WriteString(h.model.Script[t-1])
		default:
			return "", fmt.Errorf("decode: token %d out of range", t)
		}
	}
	return b.String(), nil
}

// Distribution scores the next token. The returned slice covers only the
// generative vocabulary: index 0 is EOS, index i is Script[i-1].
func (h *handle) Distribution(ctx context.Context, tokens []int32) ([]float32, error) {
	if h.closed.Load() {
		return nil, fmt.Errorf("distribution: handle closed")
	}
	if h.model.StepDelay > 0 {
		select {
		case <-time.After(h.model.StepDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	generated := 0
	for _, t := range tokens {
		if t > 0 && t < promptBase {
			generated++
		}
	}
	if h.model.FailAfter > 0 && generated >= h.model.FailAfter {
		return nil, fmt.Errorf("evaluate: scripted failure after %d tokens", generated)
	}

	const floor = float32(-1e9)
	dist := make([]float32, len(h.model.Script)+1)
	if h.model.Spread {
		dist[0] = floor
		for i := 1; i < len(dist); i++ {
			dist[i] = 1
		}
		return dist, nil
	}
	for i := range dist {
		dist[i] = floor
	}
	if generated >= len(h.model.Script) {
		dist[0] = 10
	} else {
		dist[generated+1] = 10
	}
	return dist, nil
}

func (h *handle) IsEOS(token int32) bool { return token == 0 }
