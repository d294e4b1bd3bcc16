package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inferd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
// *manager.Manager implements it.
type Service interface {
	List() types.ModelsResponse
	State(id string) (types.ModelState, error)
	ActiveModel() string
	Load(ctx context.Context, id string) error
	Unload(ctx context.Context, id string) error
	SetActive(id string) error
	Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error)
	InferStream(ctx context.Context, req types.GenerateRequest, w io.Writer, flush func()) error
	Health() types.HealthResponse
	Status() types.ServerStatus
	Ready() bool
}

// NewMux builds the router with all endpoints and middleware.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, metrics, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.List())
	})

	r.Get("/models/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		state, err := svc.State(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.ModelStateResponse{
			Name:   id,
			State:  state,
			Active: svc.ActiveModel() == id,
		})
	})

	r.Post("/load_model", func(w http.ResponseWriter, r *http.Request) {
		name, ok := decodeModelRequest(w, r)
		if !ok {
			return
		}
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if err := svc.Load(ctx, name); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.ModelStateResponse{Name: name, State: types.StateLoaded})
	})

	r.Post("/unload_model", func(w http.ResponseWriter, r *http.Request) {
		name, ok := decodeModelRequest(w, r)
		if !ok {
			return
		}
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if err := svc.Unload(ctx, name); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.ModelStateResponse{Name: name, State: types.StateUnloaded})
	})

	r.Post("/set_model", func(w http.ResponseWriter, r *http.Request) {
		name, ok := decodeModelRequest(w, r)
		if !ok {
			return
		}
		if err := svc.SetActive(name); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.ModelStateResponse{Name: name, State: types.StateLoaded, Active: true})
	})

	r.Post("/infer", func(w http.ResponseWriter, r *http.Request) {
		var req types.GenerateRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		lvl := requestLogLevel(r)
		start := time.Now()
		logRequestStart(r, lvl, "infer", svc.ActiveModel())

		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		resp, err := svc.Generate(ctx, req)
		if err != nil {
			// If context was canceled (client disconnect), just return.
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			writeError(w, err)
			logRequestEnd(r, lvl, "infer", errorStatus(err), start, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		logRequestEnd(r, lvl, "infer", http.StatusOK, start, nil)
	})

	r.Post("/infer_stream", func(w http.ResponseWriter, r *http.Request) {
		var req types.GenerateRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		lvl := requestLogLevel(r)
		start := time.Now()
		logRequestStart(r, lvl, "infer_stream", svc.ActiveModel())

		w.Header().Set("Content-Type", "application/x-ndjson")
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		// Optional logging of NDJSON tokens
		writer := io.Writer(w)
		if lvl >= LevelDebug {
			writer = io.MultiWriter(w, &loggingLineWriter{})
		}
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if err := svc.InferStream(ctx, req, writer, flush); err != nil {
			// Nothing has been streamed yet: safe to emit a status code.
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			writeError(w, err)
			logRequestEnd(r, lvl, "infer_stream", errorStatus(err), start, err)
			return
		}
		logRequestEnd(r, lvl, "infer_stream", http.StatusOK, start, nil)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Health())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("stopping"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// decodeJSONBody enforces the JSON content type and body cap, then decodes
// into dst. It writes the error response itself and reports success.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	// Limit body size (configurable, default 1MiB)
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		// An exceeded cap also surfaces here; report 400 without size details
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// decodeModelRequest decodes the {"name": ...} payload shared by the
// lifecycle endpoints.
func decodeModelRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req types.ModelRequest
	if !decodeJSONBody(w, r, &req) {
		return "", false
	}
	if strings.TrimSpace(req.Name) == "" {
		writeJSONError(w, http.StatusBadRequest, "name is required")
		return "", false
	}
	return req.Name, true
}
