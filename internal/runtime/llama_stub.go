//go:build !llama

package runtime

import (
	"context"
	"fmt"

	"inferd/pkg/types"
)

// Built indicates this binary was compiled with real llama support.
var Built = false

type stubRuntime struct{}

// NewDefault returns a runtime whose Load always fails. The default build
// carries no native backend; lifecycle and streaming behavior is exercised
// with the runtimetest backend instead of a mock that pretends to infer.
func NewDefault(Options) Runtime { return stubRuntime{} }

func (stubRuntime) Load(_ context.Context, desc types.ModelDescriptor) (Handle, error) {
	return nil, fmt.Errorf("load %s: %w", desc.ID, ErrUnavailable)
}
