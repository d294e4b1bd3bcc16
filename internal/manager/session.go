package manager

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"inferd/internal/runtime"
	"inferd/pkg/types"
)

// session pins the active model for the duration of one generation. It
// captures the handle at acquire time, so a SetActive or Unload issued
// mid-generation does not redirect or invalidate it.
type session struct {
	id      string
	desc    types.ModelDescriptor
	handle  runtime.Handle
	ctx     context.Context
	cancel  context.CancelFunc
	m       *Manager
	e       *entry
	started time.Time
	once    sync.Once
}

// acquire takes a concurrency slot and a reference on the active model.
// Callers must release() exactly once; release is idempotent.
func (m *Manager) acquire(ctx context.Context) (*session, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	waitCtx, cancelWait := context.WithTimeout(ctx, m.cfg.MaxWait)
	defer cancelWait()
	if err := m.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, tooBusyError{}
	}

	m.mu.Lock()
	if m.active == "" {
		m.mu.Unlock()
		m.sem.Release(1)
		return nil, noActiveModelError{}
	}
	e := m.entries[m.active]
	var sctx context.Context
	var cancel context.CancelFunc
	if m.cfg.RequestTimeout > 0 {
		sctx, cancel = context.WithTimeout(ctx, m.cfg.RequestTimeout)
	} else {
		sctx, cancel = context.WithCancel(ctx)
	}
	s := &session{
		id:      uuid.NewString(),
		desc:    e.desc,
		handle:  e.handle,
		ctx:     sctx,
		cancel:  cancel,
		m:       m,
		e:       e,
		started: time.Now(),
	}
	e.refs++
	e.cancels[s.id] = cancel
	m.mu.Unlock()

	m.sessionsActive.Add(1)
	sessionsActive.Inc()
	return s, nil
}

// release drops the session's reference. When it is the last reference on
// a model that is unloading, the release completes the unload.
func (s *session) release() {
	s.once.Do(func() {
		m := s.m
		finalize := false
		m.mu.Lock()
		s.e.refs--
		delete(s.e.cancels, s.id)
		if s.e.refs == 0 && s.e.state == types.StateUnloading {
			finalize = true
		}
		m.mu.Unlock()

		s.cancel()
		m.sem.Release(1)
		m.sessionsActive.Add(-1)
		sessionsActive.Dec()
		if finalize {
			m.finishUnload(s.e)
		}
	})
}
