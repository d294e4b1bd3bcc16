package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"inferd/internal/capacity"
	"inferd/internal/runtime"
	"inferd/pkg/types"
)

// Unload policies for models with in-flight sessions.
const (
	UnloadPolicyDrain  = "drain"
	UnloadPolicyCancel = "cancel"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxConcurrent = 2
	defaultMaxWait       = 30 * time.Second
	defaultDrainTimeout  = 30 * time.Second
)

// Config carries the manager tunables.
type Config struct {
	// UnloadPolicy decides what happens to in-flight sessions when their
	// model is unloaded: drain waits for them, cancel stops them
	// cooperatively. Default drain.
	UnloadPolicy string
	// DrainTimeout bounds the drain wait before in-flight sessions are
	// cancelled anyway.
	DrainTimeout time.Duration
	// StreamBuffer is the relay channel capacity per streaming session.
	StreamBuffer int
	// MaxConcurrent bounds generation sessions across all models.
	MaxConcurrent int64
	// MaxWait bounds how long a request waits for a generation slot before
	// it is rejected as too busy.
	MaxWait time.Duration
	// RequestTimeout, when positive, caps one generation; hitting it is an
	// ordinary cooperative cancellation.
	RequestTimeout time.Duration
	// Defaults are the server-wide sampling defaults.
	Defaults types.SamplingDefaults
}

func (c *Config) applyDefaults() {
	if c.UnloadPolicy == "" {
		c.UnloadPolicy = UnloadPolicyDrain
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	if c.MaxWait <= 0 {
		c.MaxWait = defaultMaxWait
	}
}

// AuditSink records completed operations. Implementations must tolerate
// concurrent calls; recording must never fail a request.
type AuditSink interface {
	RecordOp(op, modelID, outcome, detail string, dur time.Duration)
	RecordGeneration(sessionID, modelID, finishReason string, usage types.Usage, dur time.Duration)
}

// entry is one registry slot: immutable descriptor plus runtime state. All
// fields are guarded by Manager.mu; the handle is read-shared by sessions
// that captured it while the entry was loaded.
type entry struct {
	desc    types.ModelDescriptor
	state   types.ModelState
	reason  string
	handle  runtime.Handle
	refs    int
	drained chan struct{}
	cancels map[string]context.CancelFunc
}

// Manager owns the model registry, the active-model marker and generation
// admission. All transitions go through it; per-id ordering is total.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
	active  string
	closed  bool

	rt    runtime.Runtime
	guard *capacity.Guard
	sem   *semaphore.Weighted
	cfg   Config

	publisher EventPublisher
	audit     AuditSink
	log       zerolog.Logger

	startTime time.Time

	loadsTotal       atomic.Uint64
	unloadsTotal     atomic.Uint64
	generationsTotal atomic.Uint64
	sessionsActive   atomic.Int64
}

// New builds a manager over the descriptor catalog. Every model starts
// unloaded; no weights are touched until a load is requested.
func New(catalog []types.ModelDescriptor, rt runtime.Runtime, guard *capacity.Guard, cfg Config) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		entries:   make(map[string]*entry, len(catalog)),
		rt:        rt,
		guard:     guard,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		cfg:       cfg,
		publisher: noopPublisher{},
		log:       zerolog.Nop(),
		startTime: time.Now(),
	}
	for _, d := range catalog {
		m.entries[d.ID] = &entry{
			desc:    d,
			state:   types.StateUnloaded,
			cancels: make(map[string]context.CancelFunc),
		}
	}
	return m
}

// SetPublisher installs a lifecycle event publisher.
func (m *Manager) SetPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	m.publisher = p
}

// SetAudit installs an operation audit sink.
func (m *Manager) SetAudit(a AuditSink) { m.audit = a }

// SetLogger installs a structured logger.
func (m *Manager) SetLogger(l zerolog.Logger) { m.log = l }

// Ready reports whether the manager accepts requests.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

// Close unloads every resident model and stops accepting work. In-flight
// sessions are handled per the unload policy; ctx bounds the wait.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var loaded []string
	for id, e := range m.entries {
		if e.state == types.StateLoaded {
			loaded = append(loaded, id)
		}
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range loaded {
		if err := m.unload(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// checkOpen rejects lifecycle and generation requests once Close has begun.
// Close's own unloads bypass it.
func (m *Manager) checkOpen() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDependencyUnavailable("server is shutting down")
	}
	return nil
}

func (m *Manager) recordOp(op, modelID string, err error, start time.Time) {
	if m.audit == nil {
		return
	}
	outcome, detail := "ok", ""
	if err != nil {
		outcome, detail = "error", err.Error()
	}
	m.audit.RecordOp(op, modelID, outcome, detail, time.Since(start))
}
