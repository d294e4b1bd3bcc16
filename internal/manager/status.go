package manager

import (
	"time"

	"inferd/pkg/types"
)

// List snapshots the registry for GET /models.
func (m *Manager) List() types.ModelsResponse {
	m.mu.Lock()
	models := make(map[string]types.ModelInfo, len(m.entries))
	for id, e := range m.entries {
		models[id] = types.ModelInfo{
			State:  e.state,
			SizeMB: e.desc.CostMB,
			Family: e.desc.Family,
			Quant:  e.desc.Quant,
			Error:  e.reason,
			Active: id == m.active,
		}
	}
	active := m.active
	m.mu.Unlock()

	return types.ModelsResponse{
		Models: models,
		Active: active,
		Memory: m.memoryStatus(),
	}
}

// ActiveModel returns the id holding the active marker, empty when none.
func (m *Manager) ActiveModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// State returns the lifecycle state of one model.
func (m *Manager) State(id string) (types.ModelState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	if e == nil {
		return "", ErrModelNotFound(id)
	}
	return e.state, nil
}

// Health snapshots liveness for GET /health.
func (m *Manager) Health() types.HealthResponse {
	m.mu.Lock()
	active := m.active
	loaded := 0
	for _, e := range m.entries {
		if e.state == types.StateLoaded {
			loaded++
		}
	}
	m.mu.Unlock()

	return types.HealthResponse{
		Status: "ok",
		Active: active,
		Loaded: loaded,
	}
}

// Status assembles the operational snapshot for GET /status.
func (m *Manager) Status() types.ServerStatus {
	m.mu.Lock()
	state := "ready"
	if m.closed {
		state = "stopping"
	} else {
		for _, e := range m.entries {
			if e.state == types.StateLoading {
				state = "loading"
				break
			}
		}
	}
	active := m.active
	loaded := 0
	for _, e := range m.entries {
		if e.state == types.StateLoaded {
			loaded++
		}
	}
	m.mu.Unlock()

	now := time.Now()
	return types.ServerStatus{
		State:            state,
		Active:           active,
		LoadedModels:     loaded,
		ActiveSessions:   int(m.sessionsActive.Load()),
		LoadsTotal:       m.loadsTotal.Load(),
		UnloadsTotal:     m.unloadsTotal.Load(),
		GenerationsTotal: m.generationsTotal.Load(),
		Memory:           m.memoryStatus(),
		UptimeSeconds:    int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix:   now.Unix(),
	}
}

func (m *Manager) memoryStatus() types.MemoryStatus {
	return types.MemoryStatus{
		UsedMB: m.guard.UsedMB(),
		FreeMB: m.guard.LastFreeMB(),
		Margin: m.guard.Margin(),
	}
}
