// Package registry assembles the model catalog the server exposes:
// descriptors from configuration merged with a scan of the models
// directory. The registry never touches weights; it only names them and
// estimates their resident cost.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"inferd/internal/common/fsutil"
	"inferd/pkg/types"
)

// CostOverheadMB is added to the weights file size when estimating resident
// memory: KV cache, compute buffers and allocator slack.
const CostOverheadMB = 512

// Build merges configured descriptors with a scan of dir. Configured
// entries win over scanned ones with the same id; missing cost estimates
// are filled from the file size. dir may be empty to disable scanning.
func Build(configured []types.ModelDescriptor, dir string) ([]types.ModelDescriptor, error) {
	byID := make(map[string]types.ModelDescriptor, len(configured))
	order := make([]string, 0, len(configured))

	for _, d := range configured {
		if d.ID == "" {
			return nil, fmt.Errorf("registry: configured model without id (path %q)", d.Path)
		}
		if _, dup := byID[d.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate model id %q", d.ID)
		}
		byID[d.ID] = fill(d)
		order = append(order, d.ID)
	}

	if dir != "" {
		scanned, err := Scan(dir)
		if err != nil {
			return nil, err
		}
		for _, d := range scanned {
			if _, exists := byID[d.ID]; exists {
				continue
			}
			byID[d.ID] = d
			order = append(order, d.ID)
		}
	}

	sort.Strings(order)
	out := make([]types.ModelDescriptor, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

// Scan lists *.gguf files under dir as descriptors. The id is the filename
// including extension; quantization and template family are inferred from
// it where recognizable.
func Scan(dir string) ([]types.ModelDescriptor, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read models dir: %w", err)
	}

	var models []types.ModelDescriptor
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		models = append(models, fill(types.ModelDescriptor{
			ID:   name,
			Name: name,
			Path: filepath.Join(abs, name),
		}))
	}
	return models, nil
}

// fill completes a descriptor: display name, cost estimate, and filename
// inference for quantization and family where they are unset.
func fill(d types.ModelDescriptor) types.ModelDescriptor {
	if d.Name == "" {
		d.Name = d.ID
	}
	if d.CostMB <= 0 {
		d.CostMB = EstimateCostMB(d.Path)
	}
	if d.Quant == "" {
		d.Quant = detectQuant(d.ID)
	}
	if d.Family == "" {
		d.Family = detectFamily(d.ID)
	}
	return d
}

// EstimateCostMB estimates resident memory for a weights file: its size in
// MiB plus a fixed overhead. When the file cannot be measured only the
// overhead is reported; the load itself will surface the real error.
func EstimateCostMB(path string) int {
	info, err := os.Stat(path)
	if err != nil {
		return CostOverheadMB
	}
	return int(info.Size()/(1024*1024)) + CostOverheadMB
}

var quantTags = []string{
	"q2_k", "q3_k_s", "q3_k_m", "q3_k_l",
	"q4_0", "q4_1", "q4_k_s", "q4_k_m",
	"q5_0", "q5_1", "q5_k_s", "q5_k_m",
	"q6_k", "q8_0", "bf16", "f16", "f32",
}

// detectQuant finds a known quantization tag in the filename.
func detectQuant(name string) string {
	lower := strings.ToLower(name)
	for _, tag := range quantTags {
		if strings.Contains(lower, tag) {
			return strings.ToUpper(tag)
		}
	}
	return ""
}

// detectFamily guesses the prompt template family from the filename.
func detectFamily(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "llama-3"), strings.Contains(lower, "llama3"):
		return types.FamilyLlama3
	case strings.Contains(lower, "mistral"):
		return types.FamilyMistral
	case strings.Contains(lower, "phi"):
		return types.FamilyPhi
	default:
		return ""
	}
}
