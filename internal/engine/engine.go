// Package engine runs the token generation loop: prompt templating, seeded
// sampling over the runtime's next-token distributions, incremental decode
// and emission. It holds no model state; callers hand it a live handle and
// fully resolved parameters.
package engine

import (
	"context"
	"strings"
	"time"

	"inferd/internal/runtime"
	"inferd/pkg/types"
)

// EmitFunc receives one text increment per produced token. Returning an
// error stops generation before the next step.
type EmitFunc func(token string) error

// Result summarizes one finished generation.
type Result struct {
	Content      string
	FinishReason string
	Usage        types.Usage
}

type generationError struct {
	cause error
}

func (e generationError) Error() string { return "generation failed: " + e.cause.Error() }
func (e generationError) Unwrap() error { return e.cause }

// ErrGeneration wraps a mid-generation failure.
func ErrGeneration(cause error) error { return generationError{cause: cause} }

// IsGenerationError reports whether err is a mid-generation failure.
func IsGenerationError(err error) bool {
	_, ok := err.(generationError)
	return ok
}

// Generate produces tokens for the request until EOS, the token ceiling, or
// cancellation. Tokens are emitted as they are produced, never buffered up
// front. Cancellation is observed at step boundaries and reported as a
// normal finish with reason "cancelled". Step failures return a generation
// error alongside the partial result; the handle remains valid for later
// requests.
func Generate(ctx context.Context, h runtime.Handle, desc types.ModelDescriptor, p Params, emit EmitFunc) (Result, error) {
	prompt := RenderPrompt(desc.Family, p.SystemPrompt, p.Prompt)
	switch src := h.(type) {
	case runtime.TokenSource:
		return sampleLoop(ctx, src, prompt, p, emit)
	case runtime.NativeGenerator:
		return nativeLoop(ctx, src, prompt, p, emit)
	default:
		return Result{}, ErrGeneration(errNoSurface{})
	}
}

type errNoSurface struct{}

func (errNoSurface) Error() string { return "runtime handle exposes no generation surface" }

// sampleLoop drives a distribution-producing handle: evaluate, sample,
// decode the growing suffix, emit the new text.
func sampleLoop(ctx context.Context, src runtime.TokenSource, prompt string, p Params, emit EmitFunc) (Result, error) {
	promptTokens, err := src.Encode(prompt)
	if err != nil {
		return Result{}, ErrGeneration(err)
	}

	seed := p.Seed
	if !p.Seeded {
		seed = uint64(time.Now().UnixNano())
	}
	smp := NewSampler(p.Temperature, p.TopP, seed)

	window := make([]int32, len(promptTokens), len(promptTokens)+p.MaxTokens)
	copy(window, promptTokens)
	generated := make([]int32, 0, p.MaxTokens)
	decoded := ""
	finish := types.FinishLength

	for len(generated) < p.MaxTokens {
		if ctx.Err() != nil {
			finish = types.FinishCancelled
			break
		}
		dist, err := src.Distribution(ctx, window)
		if err != nil {
			if ctx.Err() != nil {
				finish = types.FinishCancelled
				break
			}
			return partial(promptTokens, generated, decoded), ErrGeneration(err)
		}
		tok, err := smp.Sample(dist)
		if err != nil {
			return partial(promptTokens, generated, decoded), ErrGeneration(err)
		}
		if src.IsEOS(tok) {
			finish = types.FinishStop
			break
		}
		window = append(window, tok)
		generated = append(generated, tok)

		// Decode the whole generated suffix and emit only the new text, so
		// multi-byte runes split across tokens surface once complete.
		full, err := src.Decode(generated)
		if err != nil {
			return partial(promptTokens, generated, decoded), ErrGeneration(err)
		}
		if len(full) > len(decoded) {
			delta := full[len(decoded):]
			decoded = full
			if err := emit(delta); err != nil {
				if ctx.Err() != nil {
					finish = types.FinishCancelled
					break
				}
				return partial(promptTokens, generated, decoded), ErrGeneration(err)
			}
		}
	}

	res := partial(promptTokens, generated, decoded)
	res.FinishReason = finish
	return res, nil
}

// nativeLoop delegates to a backend that samples on its own; the emitted
// increments are forwarded as-is.
func nativeLoop(ctx context.Context, src runtime.NativeGenerator, prompt string, p Params, emit EmitFunc) (Result, error) {
	opts := runtime.GenerateOpts{
		Temperature: p.Temperature,
		TopP:        p.TopP,
		MaxTokens:   p.MaxTokens,
	}
	if p.Seeded {
		opts.Seed = int64(p.Seed)
	}

	var b strings.Builder
	count := 0
	text, err := src.Generate(ctx, prompt, opts, func(tok string) error {
		if err := emit(tok); err != nil {
			return err
		}
		b.WriteString(tok)
		count++
		return nil
	})
	usage := types.Usage{CompletionTokens: count, TotalTokens: count}
	if err != nil {
		if ctx.Err() != nil {
			return Result{Content: b.String(), FinishReason: types.FinishCancelled, Usage: usage}, nil
		}
		return Result{Content: b.String(), Usage: usage}, ErrGeneration(err)
	}
	if text == "" {
		text = b.String()
	}
	finish := types.FinishStop
	if count >= p.MaxTokens {
		finish = types.FinishLength
	}
	return Result{Content: text, FinishReason: finish, Usage: usage}, nil
}

func partial(promptTokens, generated []int32, decoded string) Result {
	return Result{
		Content: decoded,
		Usage: types.Usage{
			PromptTokens:     len(promptTokens),
			CompletionTokens: len(generated),
			TotalTokens:      len(promptTokens) + len(generated),
		},
	}
}
