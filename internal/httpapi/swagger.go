//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// apiSpec is a hand-maintained OpenAPI summary of the endpoints. Regenerate
// with swag init when handler annotations change substantially.
const apiSpec = `{
  "swagger": "2.0",
  "info": {"title": "inferd API", "version": "1.0",
    "description": "HTTP API for local LLM model lifecycle and inference."},
  "basePath": "/",
  "paths": {
    "/models": {"get": {"summary": "List registry entries with state and memory accounting"}},
    "/models/{id}": {"get": {"summary": "State of one model"}},
    "/load_model": {"post": {"summary": "Load a model's weights"}},
    "/unload_model": {"post": {"summary": "Unload a model"}},
    "/set_model": {"post": {"summary": "Mark a loaded model active"}},
    "/infer": {"post": {"summary": "Buffered generation against the active model"}},
    "/infer_stream": {"post": {"summary": "NDJSON streaming generation"}},
    "/health": {"get": {"summary": "Liveness with active model and loaded count"}},
    "/status": {"get": {"summary": "Server status snapshot"}},
    "/metrics": {"get": {"summary": "Prometheus metrics"}}
  }
}`

type apiDoc struct{}

func (apiDoc) ReadDoc() string { return apiSpec }

func init() {
	swag.Register(swag.Name, apiDoc{})
}

// MountSwagger serves the interactive API docs under /docs.
func MountSwagger(r chi.Router) {
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/doc.json"),
	))
}
