package types

// ModelState is the lifecycle state of a model entry in the registry.
type ModelState string

const (
	StateUnloaded  ModelState = "unloaded"
	StateLoading   ModelState = "loading"
	StateLoaded    ModelState = "loaded"
	StateUnloading ModelState = "unloading"
	StateFailed    ModelState = "failed"
)

// Prompt template families understood by the engine. An empty family means
// the prompt is passed to the model verbatim.
const (
	FamilyLlama3  = "llama3"
	FamilyMistral = "mistral"
	FamilyPhi     = "phi"
)

// SamplingDefaults carries per-model overrides for the server-wide sampling
// defaults. Zero values mean "inherit".
type SamplingDefaults struct {
	// Sampling temperature used when a request omits one.
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" toml:"temperature" yaml:"temperature" example:"0.7"`
	// Nucleus sampling probability used when a request omits one.
	// example: 0.9
	TopP float64 `json:"top_p,omitempty" toml:"top_p" yaml:"top_p" example:"0.9"`
	// Token ceiling used when a request omits one.
	// example: 512
	MaxTokens int `json:"max_tokens,omitempty" toml:"max_tokens" yaml:"max_tokens" example:"512"`
}

// ModelDescriptor describes a hostable model. Descriptors are built once at
// startup and never mutated afterwards; runtime state lives in the manager.
type ModelDescriptor struct {
	// Stable identifier for the model.
	// example: tinyllama-q4
	ID string `json:"id" toml:"id" yaml:"id" example:"tinyllama-q4"`
	// Human-friendly name.
	// example: TinyLlama (Q4)
	Name string `json:"name,omitempty" toml:"name" yaml:"name" example:"TinyLlama (Q4)"`
	// Absolute path to the weights file on disk.
	// example: /home/user/models/TinyLlama.Q4_K_M.gguf
	Path string `json:"path" toml:"path" yaml:"path" example:"/home/user/models/TinyLlama.Q4_K_M.gguf"`
	// Quantization level or variant string.
	// example: Q4_K_M
	Quant string `json:"quant,omitempty" toml:"quant" yaml:"quant" example:"Q4_K_M"`
	// Prompt template family (llama3, mistral, phi). Empty means raw prompts.
	// example: llama3
	Family string `json:"family,omitempty" toml:"family" yaml:"family" example:"llama3"`
	// Estimated resident memory cost in MiB. Zero means "estimate from the
	// weights file size at startup".
	// example: 1200
	CostMB int `json:"cost_mb,omitempty" toml:"cost_mb" yaml:"cost_mb" example:"1200"`
	// Per-model sampling defaults.
	Defaults SamplingDefaults `json:"defaults,omitempty" toml:"defaults" yaml:"defaults"`
}
