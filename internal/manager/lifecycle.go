package manager

import (
	"context"
	"errors"
	"time"

	"inferd/internal/runtime"
	"inferd/pkg/types"
)

// Load brings a model into memory. Duplicate loads are rejected, not
// queued; capacity denials leave the entry unloaded; runtime failures park
// it in failed until the next load attempt acknowledges them.
func (m *Manager) Load(ctx context.Context, id string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	start := time.Now()
	err := m.load(ctx, id)
	m.recordOp("load", id, err, start)
	return err
}

func (m *Manager) load(ctx context.Context, id string) error {
	began := time.Now()
	m.mu.Lock()
	e := m.entries[id]
	if e == nil {
		m.mu.Unlock()
		return ErrModelNotFound(id)
	}
	switch e.state {
	case types.StateLoading:
		m.mu.Unlock()
		return alreadyLoadingError{id: id}
	case types.StateLoaded:
		m.mu.Unlock()
		return alreadyLoadedError{id: id}
	case types.StateUnloading:
		m.mu.Unlock()
		return stateConflictError{id: id, op: "load", state: types.StateUnloading}
	case types.StateFailed:
		// a fresh load attempt acknowledges the previous failure
		e.state = types.StateUnloaded
		e.reason = ""
	}
	e.state = types.StateLoading
	desc := e.desc
	m.mu.Unlock()

	m.publisher.Publish(Event{Name: EventLoading, ModelID: id})
	m.log.Info().Str("model", id).Int("cost_mb", desc.CostMB).Msg("loading model")

	dec := m.guard.Admit(ctx, desc)
	if !dec.Allow {
		m.mu.Lock()
		e.state = types.StateUnloaded
		m.mu.Unlock()
		capacityDenials.Inc()
		m.publisher.Publish(Event{Name: EventLoadFailed, ModelID: id, Fields: map[string]any{"reason": dec.Reason}})
		m.log.Warn().Str("model", id).Str("reason", dec.Reason).Msg("load denied by capacity guard")
		return ErrCapacityDenied(id, dec.Reason)
	}

	h, err := m.rt.Load(ctx, desc)
	if err != nil {
		m.guard.Release(desc.CostMB)
		m.mu.Lock()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// the caller went away, the model itself did not fail
			e.state = types.StateUnloaded
		} else {
			e.state = types.StateFailed
			e.reason = err.Error()
		}
		m.mu.Unlock()
		m.publisher.Publish(Event{Name: EventLoadFailed, ModelID: id, Fields: map[string]any{"reason": err.Error()}})
		m.log.Error().Str("model", id).Err(err).Msg("model load failed")
		if errors.Is(err, runtime.ErrUnavailable) {
			return ErrDependencyUnavailable(err.Error())
		}
		return loadFailedError{id: id, cause: err}
	}

	m.mu.Lock()
	e.state = types.StateLoaded
	e.handle = h
	m.mu.Unlock()

	m.loadsTotal.Add(1)
	modelsLoaded.Inc()
	loadDuration.Observe(time.Since(began).Seconds())
	m.publisher.Publish(Event{Name: EventLoaded, ModelID: id})
	m.log.Info().Str("model", id).Msg("model loaded")
	return nil
}

// SetActive atomically moves the active marker to id. The previous holder
// is cleared in the same step; in-flight generations against it continue on
// their captured handles.
func (m *Manager) SetActive(id string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	start := time.Now()
	err := m.setActive(id)
	m.recordOp("set_active", id, err, start)
	return err
}

func (m *Manager) setActive(id string) error {
	m.mu.Lock()
	e := m.entries[id]
	if e == nil {
		m.mu.Unlock()
		return ErrModelNotFound(id)
	}
	if e.state != types.StateLoaded {
		m.mu.Unlock()
		return notLoadedError{id: id, state: e.state}
	}
	prev := m.active
	m.active = id
	m.mu.Unlock()

	if prev == id {
		return nil
	}
	if prev != "" {
		m.publisher.Publish(Event{Name: EventDeactivated, ModelID: prev})
	}
	m.publisher.Publish(Event{Name: EventActivated, ModelID: id})
	m.log.Info().Str("model", id).Str("previous", prev).Msg("active model switched")
	return nil
}

// Unload releases a resident model. The active marker is cleared at unload
// start; the handle is closed only after the last in-flight session
// releases its reference. With the drain policy sessions run to completion
// (bounded by DrainTimeout, then cancelled); with the cancel policy they
// are cancelled immediately. Cancellation is cooperative either way.
func (m *Manager) Unload(ctx context.Context, id string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	start := time.Now()
	err := m.unload(ctx, id)
	m.recordOp("unload", id, err, start)
	return err
}

func (m *Manager) unload(ctx context.Context, id string) error {
	m.mu.Lock()
	e := m.entries[id]
	if e == nil {
		m.mu.Unlock()
		return ErrModelNotFound(id)
	}
	if e.state != types.StateLoaded {
		m.mu.Unlock()
		return notLoadedError{id: id, state: e.state}
	}
	wasActive := m.active == id
	if wasActive {
		m.active = ""
	}
	e.state = types.StateUnloading
	var drained chan struct{}
	if e.refs > 0 {
		drained = make(chan struct{})
		e.drained = drained
	}
	m.mu.Unlock()

	if wasActive {
		m.publisher.Publish(Event{Name: EventDeactivated, ModelID: id})
	}
	m.publisher.Publish(Event{Name: EventUnloading, ModelID: id})
	m.log.Info().Str("model", id).Bool("was_active", wasActive).Msg("unloading model")

	if drained == nil {
		m.finishUnload(e)
		return nil
	}

	if m.cfg.UnloadPolicy == UnloadPolicyCancel {
		m.cancelSessions(e)
	} else {
		timer := time.NewTimer(m.cfg.DrainTimeout)
		select {
		case <-drained:
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			// finalization still happens when the last session releases
			return ctx.Err()
		case <-timer.C:
			m.log.Warn().Str("model", id).Msg("drain timeout, cancelling sessions")
			m.cancelSessions(e)
		}
	}

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cancelSessions cooperatively cancels every in-flight session on e. Each
// observes the cancellation at its next step boundary.
func (m *Manager) cancelSessions(e *entry) {
	m.mu.Lock()
	fns := make([]context.CancelFunc, 0, len(e.cancels))
	for _, fn := range e.cancels {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// finishUnload closes the handle and completes the transition to unloaded.
// Called exactly once per unload: directly when no sessions are in flight,
// otherwise by the release of the last session reference.
func (m *Manager) finishUnload(e *entry) {
	m.mu.Lock()
	h := e.handle
	e.handle = nil
	m.mu.Unlock()

	if h != nil {
		_ = h.Close()
	}

	m.mu.Lock()
	e.state = types.StateUnloaded
	e.reason = ""
	drained := e.drained
	e.drained = nil
	id := e.desc.ID
	cost := e.desc.CostMB
	m.mu.Unlock()

	m.guard.Release(cost)
	m.unloadsTotal.Add(1)
	modelsLoaded.Dec()
	if drained != nil {
		close(drained)
	}
	m.publisher.Publish(Event{Name: EventUnloaded, ModelID: id})
	m.log.Info().Str("model", id).Msg("model unloaded")
}
