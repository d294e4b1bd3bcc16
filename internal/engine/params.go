package engine

import (
	"math"
	"strings"

	"inferd/pkg/types"
)

// Fallback sampling defaults, used when neither the request, the model nor
// the server configuration supplies a value.
const (
	DefaultTemperature = 0.7
	DefaultTopP        = 0.9
	DefaultMaxTokens   = 512
)

// Params is a fully resolved, validated parameter set for one generation.
type Params struct {
	Prompt       string
	SystemPrompt string
	Temperature  float64
	TopP         float64
	MaxTokens    int
	// Seed is meaningful only when Seeded. Unseeded sessions draw a fresh
	// seed from the clock at generation start.
	Seed   uint64
	Seeded bool
}

type invalidParamError struct {
	field string
	msg   string
}

func (e invalidParamError) Error() string {
	return "invalid " + e.field + ": " + e.msg
}

// StatusCode lets the HTTP edge map validation failures without importing
// this package's internals.
func (e invalidParamError) StatusCode() int { return 400 }

// ErrInvalidParam builds a validation error for field.
func ErrInvalidParam(field, msg string) error {
	return invalidParamError{field: field, msg: msg}
}

// IsInvalidParam reports whether err is a parameter validation failure.
func IsInvalidParam(err error) bool {
	_, ok := err.(invalidParamError)
	return ok
}

// ResolveParams validates req and fills gaps from the model's defaults, then
// the server defaults. Explicit out-of-range values are rejected, never
// clamped; rejection happens before any model state is touched.
func ResolveParams(req types.GenerateRequest, model, server types.SamplingDefaults) (Params, error) {
	p := Params{
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return Params{}, ErrInvalidParam("prompt", "must not be empty")
	}

	switch {
	case req.Temperature != nil:
		t := *req.Temperature
		if math.IsNaN(t) || math.IsInf(t, 0) || t <= 0 {
			return Params{}, ErrInvalidParam("temperature", "must be a finite number > 0")
		}
		p.Temperature = t
	case model.Temperature > 0:
		p.Temperature = model.Temperature
	case server.Temperature > 0:
		p.Temperature = server.Temperature
	default:
		p.Temperature = DefaultTemperature
	}

	switch {
	case req.TopP != nil:
		tp := *req.TopP
		if math.IsNaN(tp) || tp <= 0 || tp > 1 {
			return Params{}, ErrInvalidParam("top_p", "must be in (0, 1]")
		}
		p.TopP = tp
	case model.TopP > 0:
		p.TopP = model.TopP
	case server.TopP > 0:
		p.TopP = server.TopP
	default:
		p.TopP = DefaultTopP
	}

	switch {
	case req.MaxTokens != nil:
		if *req.MaxTokens <= 0 {
			return Params{}, ErrInvalidParam("max_tokens", "must be > 0")
		}
		p.MaxTokens = *req.MaxTokens
	case model.MaxTokens > 0:
		p.MaxTokens = model.MaxTokens
	case server.MaxTokens > 0:
		p.MaxTokens = server.MaxTokens
	default:
		p.MaxTokens = DefaultMaxTokens
	}

	if req.Seed != nil {
		p.Seed = uint64(*req.Seed)
		p.Seeded = true
	}
	return p, nil
}

// ValidateRequest checks the explicitly supplied fields of req. It is run
// before any model state is consulted, so a malformed request is rejected
// the same way whether or not a model is active.
func ValidateRequest(req types.GenerateRequest) error {
	_, err := ResolveParams(req, types.SamplingDefaults{}, types.SamplingDefaults{})
	return err
}
