package runtime

import (
	"context"
	"errors"

	"inferd/pkg/types"
)

// ErrUnavailable is returned by Load when the binary was built without a
// native backend. Rebuild with -tags=llama to enable it.
var ErrUnavailable = errors.New("native runtime not built; rebuild with -tags=llama")

// Runtime loads model weights and hands out live handles. Load is expected
// to be slow; callers park the model in a loading state while it runs.
type Runtime interface {
	Load(ctx context.Context, desc types.ModelDescriptor) (Handle, error)
}

// Handle is a loaded model. A handle stays valid until Close; Close is
// called exactly once, by the owner, after the last borrower is done.
//
// Handles implement one of two capability surfaces. TokenSource exposes the
// raw next-token distribution so the generation loop samples in-process.
// NativeGenerator covers backends that keep sampling on the native side and
// only hand back finished text increments.
type Handle interface {
	Close() error
}

// TokenSource is the fine-grained handle surface consumed by the generation
// loop: tokenize, evaluate, detokenize.
type TokenSource interface {
	Handle

	// Encode tokenizes text into model token ids.
	Encode(text string) ([]int32, error)
	// Decode renders token ids back into text.
	Decode(tokens []int32) (string, error)
	// Distribution evaluates the context and returns unnormalized
	// next-token scores, one per vocabulary entry.
	Distribution(ctx context.Context, tokens []int32) ([]float32, error)
	// IsEOS reports whether token ends the sequence.
	IsEOS(token int32) bool
}

// GenerateOpts carries the sampling knobs a NativeGenerator understands.
// Seed zero means the backend picks its own.
type GenerateOpts struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
	Seed        int64
}

// NativeGenerator is the coarse handle surface for backends with built-in
// sampling. Emit is called once per text increment; returning an error from
// emit stops generation.
type NativeGenerator interface {
	Handle

	Generate(ctx context.Context, prompt string, opts GenerateOpts, emit func(string) error) (string, error)
}

// Options configures the default runtime.
type Options struct {
	// Context window passed to the backend.
	CtxSize int
	// Worker threads for evaluation.
	Threads int
}
