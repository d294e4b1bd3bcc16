package types

// GenerateRequest is the payload accepted by POST /infer and
// POST /infer_stream. Optional sampling fields are pointers so that an
// explicit zero can be rejected instead of silently replaced by a default.
type GenerateRequest struct {
	// Required prompt text to generate a completion for.
	// example: Write a haiku about the ocean.
	Prompt string `json:"prompt" example:"Write a haiku about the ocean."`
	// Optional system prompt rendered through the model's template family.
	// example: You are a terse assistant.
	SystemPrompt string `json:"system_prompt,omitempty" example:"You are a terse assistant."`
	// Sampling temperature, must be > 0. Defaults to the model's, then the
	// server's, default when omitted.
	// example: 0.7
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability in (0,1].
	// example: 0.9
	TopP *float64 `json:"top_p,omitempty" example:"0.9"`
	// Maximum number of new tokens to generate, must be > 0.
	// example: 256
	MaxTokens *int `json:"max_tokens,omitempty" example:"256"`
	// Seed for deterministic sampling. Omitted means fresh entropy per call.
	// example: 42
	Seed *int64 `json:"seed,omitempty" example:"42"`
}

// Usage reports token accounting for one generation.
type Usage struct {
	// Tokens consumed by the rendered prompt.
	// example: 12
	PromptTokens int `json:"prompt_tokens" example:"12"`
	// Tokens produced by the generation loop.
	// example: 128
	CompletionTokens int `json:"completion_tokens" example:"128"`
	// Sum of prompt and completion tokens.
	// example: 140
	TotalTokens int `json:"total_tokens" example:"140"`
}

// Finish reasons reported on generation completion.
const (
	FinishStop      = "stop"
	FinishLength    = "length"
	FinishCancelled = "cancelled"
)

// GenerateResponse is the buffered result returned by POST /infer.
type GenerateResponse struct {
	// Model that served the request.
	// example: tinyllama-q4
	Model string `json:"model" example:"tinyllama-q4"`
	// Full generated text.
	Content string `json:"content"`
	// Why generation stopped (stop, length, cancelled).
	// example: stop
	FinishReason string `json:"finish_reason" example:"stop"`
	// Token accounting.
	Usage Usage `json:"usage"`
	// Wall-clock generation time in milliseconds.
	// example: 842
	DurationMS int64 `json:"duration_ms" example:"842"`
}

// StreamEvent is one NDJSON line of a streaming response. Token events carry
// only Token; the terminal line carries either Done with the final summary or
// Error with a code. Exactly one terminal line is written per stream.
type StreamEvent struct {
	// One increment of generated text.
	Token string `json:"token,omitempty"`
	// True on the normal-completion terminal line.
	Done bool `json:"done,omitempty"`
	// Full generated text, present on the Done line.
	Content string `json:"content,omitempty"`
	// Why generation stopped, present on the Done line.
	// example: stop
	FinishReason string `json:"finish_reason,omitempty" example:"stop"`
	// Token accounting, present on the Done line.
	Usage *Usage `json:"usage,omitempty"`
	// Error message, present on the error terminal line.
	Error string `json:"error,omitempty"`
	// HTTP-style status code accompanying Error.
	// example: 500
	Code int `json:"code,omitempty" example:"500"`
}

// Terminal reports whether the event ends its stream.
func (e StreamEvent) Terminal() bool { return e.Done || e.Error != "" }

// ModelRequest names the model targeted by a lifecycle operation.
type ModelRequest struct {
	// Model identifier from the registry.
	// example: tinyllama-q4
	Name string `json:"name" example:"tinyllama-q4"`
}

// ModelStateResponse is returned by the load, unload and set-active
// endpoints.
type ModelStateResponse struct {
	// Model identifier.
	// example: tinyllama-q4
	Name string `json:"name" example:"tinyllama-q4"`
	// Lifecycle state after the operation.
	// example: loaded
	State ModelState `json:"state" example:"loaded"`
	// Whether the model is now the active one.
	// example: true
	Active bool `json:"active,omitempty" example:"true"`
}

// ModelInfo is one entry of the GET /models listing.
type ModelInfo struct {
	// Lifecycle state.
	// example: loaded
	State ModelState `json:"state" example:"loaded"`
	// Estimated resident memory cost in MiB.
	// example: 1200
	SizeMB int `json:"size_mb" example:"1200"`
	// Template family, when configured.
	// example: llama3
	Family string `json:"family,omitempty" example:"llama3"`
	// Quantization variant, when known.
	// example: Q4_K_M
	Quant string `json:"quant,omitempty" example:"Q4_K_M"`
	// Failure reason while the model is in the failed state.
	Error string `json:"error,omitempty"`
	// True for the current active model.
	Active bool `json:"active,omitempty"`
}

// MemoryStatus summarizes accelerator memory accounting.
type MemoryStatus struct {
	// MiB accounted to currently loaded models.
	// example: 2048
	UsedMB int `json:"used_mb" example:"2048"`
	// MiB the capacity probe last reported free.
	// example: 6144
	FreeMB int `json:"free_mb" example:"6144"`
	// Safety margin applied on top of estimated costs.
	// example: 0.1
	Margin float64 `json:"margin" example:"0.1"`
}

// ModelsResponse is returned by GET /models.
type ModelsResponse struct {
	// Registry entries keyed by model id.
	Models map[string]ModelInfo `json:"models"`
	// Identifier of the active model, empty when none.
	// example: tinyllama-q4
	Active string `json:"active,omitempty" example:"tinyllama-q4"`
	// Memory accounting snapshot.
	Memory MemoryStatus `json:"memory"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	// Fixed liveness marker.
	// example: ok
	Status string `json:"status" example:"ok"`
	// Identifier of the active model, empty when none.
	// example: tinyllama-q4
	Active string `json:"active,omitempty" example:"tinyllama-q4"`
	// Number of models currently loaded.
	// example: 2
	Loaded int `json:"loaded" example:"2"`
}

// ServerStatus is returned by GET /status.
type ServerStatus struct {
	// Overall server state (ready, loading).
	// example: ready
	State string `json:"state" example:"ready"`
	// Identifier of the active model, empty when none.
	// example: tinyllama-q4
	Active string `json:"active,omitempty" example:"tinyllama-q4"`
	// Number of models currently loaded.
	// example: 2
	LoadedModels int `json:"loaded_models" example:"2"`
	// Generation sessions currently in flight.
	// example: 1
	ActiveSessions int `json:"active_sessions" example:"1"`
	// Lifetime operation counts.
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// example: 9
	UnloadsTotal uint64 `json:"unloads_total" example:"9"`
	// example: 420
	GenerationsTotal uint64 `json:"generations_total" example:"420"`
	// Memory accounting snapshot.
	Memory MemoryStatus `json:"memory"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// ErrorResponse is the consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
