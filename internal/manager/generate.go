package manager

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"inferd/internal/engine"
	"inferd/internal/relay"
	"inferd/pkg/types"
)

// Generate runs one buffered generation against the active model and
// returns the complete text. A cancelled generation (client disconnect,
// request timeout, unload with the cancel policy) returns the partial text
// with finish_reason "cancelled" rather than an error.
func (m *Manager) Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error) {
	if err := engine.ValidateRequest(req); err != nil {
		return types.GenerateResponse{}, err
	}
	s, err := m.acquire(ctx)
	if err != nil {
		return types.GenerateResponse{}, err
	}
	defer s.release()

	params, err := engine.ResolveParams(req, s.desc.Defaults, m.cfg.Defaults)
	if err != nil {
		return types.GenerateResponse{}, err
	}

	began := time.Now()
	res, err := engine.Generate(s.ctx, s.handle, s.desc, params, func(string) error { return nil })
	m.finishGeneration(s, res, err, began)
	if err != nil {
		return types.GenerateResponse{}, err
	}
	return types.GenerateResponse{
		Model:        s.desc.ID,
		Content:      res.Content,
		FinishReason: res.FinishReason,
		Usage:        res.Usage,
		DurationMS:   time.Since(began).Milliseconds(),
	}, nil
}

// Stream is one in-flight streaming generation. The producer goroutine is
// already running when GenerateStream returns; the caller consumes either
// via Serve or via Events.
type Stream struct {
	r *relay.Relay
}

// Serve copies events to w as NDJSON lines, flushing after each when flush
// is non-nil. It returns when the terminal event has been written or the
// writer fails; a writer failure cancels the session.
func (st *Stream) Serve(w io.Writer, flush func()) error {
	return st.r.Stream(w, flush)
}

// Events exposes the raw event channel. It closes after the terminal event.
func (st *Stream) Events() <-chan types.StreamEvent {
	return st.r.Events()
}

// Cancel requests cooperative termination of the generation.
func (st *Stream) Cancel() {
	st.r.Cancel()
}

// GenerateStream starts a streaming generation against the active model.
// Validation and admission failures are returned directly, before anything
// is produced; after that all outcomes travel in-band as stream events,
// ending with exactly one terminal event.
func (m *Manager) GenerateStream(ctx context.Context, req types.GenerateRequest) (*Stream, error) {
	if err := engine.ValidateRequest(req); err != nil {
		return nil, err
	}
	s, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	params, err := engine.ResolveParams(req, s.desc.Defaults, m.cfg.Defaults)
	if err != nil {
		s.release()
		return nil, err
	}

	r := relay.New(s.ctx, m.cfg.StreamBuffer)
	go func() {
		defer s.release()
		began := time.Now()
		res, genErr := engine.Generate(r.Context(), s.handle, s.desc, params, r.Emit)
		m.finishGeneration(s, res, genErr, began)
		if genErr != nil {
			r.Fail(genErr.Error(), statusCode(genErr))
			return
		}
		r.Done(res.Content, res.FinishReason, res.Usage)
	}()
	return &Stream{r: r}, nil
}

// InferStream runs a streaming generation and writes NDJSON events to w.
// Errors raised before the first event (validation, admission, no active
// model) are returned so the caller can map them to a status code; once
// streaming has begun every outcome travels in-band and the return is nil.
func (m *Manager) InferStream(ctx context.Context, req types.GenerateRequest, w io.Writer, flush func()) error {
	st, err := m.GenerateStream(ctx, req)
	if err != nil {
		return err
	}
	// A writer failure cancels the session; the generation goroutine still
	// records its outcome.
	_ = st.Serve(w, flush)
	return nil
}

// finishGeneration records metrics, audit and events for one finished
// generation, buffered or streaming.
func (m *Manager) finishGeneration(s *session, res engine.Result, err error, began time.Time) {
	dur := time.Since(began)
	outcome := res.FinishReason
	if err != nil {
		outcome = "error"
	}

	m.generationsTotal.Add(1)
	generationsCompleted.WithLabelValues(outcome).Inc()
	tokensEmitted.Add(float64(res.Usage.CompletionTokens))
	generationDuration.Observe(dur.Seconds())

	if m.audit != nil {
		m.audit.RecordGeneration(s.id, s.desc.ID, outcome, res.Usage, dur)
	}
	m.publisher.Publish(Event{Name: EventGeneration, ModelID: s.desc.ID, Fields: map[string]any{
		"session": s.id,
		"outcome": outcome,
		"tokens":  res.Usage.CompletionTokens,
	}})

	ev := m.log.Info()
	if err != nil {
		ev = m.log.Error().Err(err)
	}
	ev.Str("model", s.desc.ID).
		Str("session", s.id).
		Str("outcome", outcome).
		Int("completion_tokens", res.Usage.CompletionTokens).
		Dur("duration", dur).
		Msg("generation finished")
}

// statusCode extracts an HTTP status from typed errors, defaulting to 500.
func statusCode(err error) int {
	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return http.StatusInternalServerError
}
