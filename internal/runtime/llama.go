//go:build llama

package runtime

import (
	"context"
	"errors"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"

	"inferd/pkg/types"
)

// Built indicates this binary was compiled with real llama support.
var Built = true

type llamaRuntime struct {
	opts Options
}

// NewDefault returns the go-llama.cpp backed runtime.
func NewDefault(opts Options) Runtime {
	if opts.CtxSize <= 0 {
		opts.CtxSize = 2048
	}
	return &llamaRuntime{opts: opts}
}

func (rt *llamaRuntime) Load(ctx context.Context, desc types.ModelDescriptor) (Handle, error) {
	if strings.TrimSpace(desc.Path) == "" {
		return nil, errors.New("model path is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := llama.New(desc.Path, llama.SetContext(rt.opts.CtxSize))
	if err != nil {
		return nil, err
	}
	return &llamaHandle{model: m, threads: rt.opts.Threads}, nil
}

// llamaHandle keeps sampling on the native side, so it implements
// NativeGenerator rather than TokenSource.
type llamaHandle struct {
	model   *llama.LLama
	threads int
}

func (h *llamaHandle) Generate(ctx context.Context, prompt string, opts GenerateOpts, emit func(string) error) (string, error) {
	if h.model == nil {
		return "", errors.New("llama model not initialized")
	}
	h.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if err := emit(tok); err != nil {
			return false
		}
		return true
	})
	text, err := h.model.Predict(prompt, predictOptions(opts, h.threads)...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return text, nil
}

func (h *llamaHandle) Close() error {
	if h.model != nil {
		h.model.Free()
		h.model = nil
	}
	return nil
}

// predictOptions maps sampling knobs onto go-llama.cpp options.
func predictOptions(opts GenerateOpts, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(maxInt(1, opts.MaxTokens)),
		llama.SetThreads(maxInt(1, threads)),
		llama.SetTemperature(posOr(float32(opts.Temperature), llama.DefaultOptions.Temperature)),
		llama.SetTopP(posOr(float32(opts.TopP), llama.DefaultOptions.TopP)),
	}
	if opts.Seed != 0 {
		po = append(po, llama.SetSeed(int(opts.Seed)))
	}
	return po
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func posOr(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}
