package engine

import (
	"fmt"

	"inferd/pkg/types"
)

// RenderPrompt assembles the text fed to the model from the user prompt and
// optional system prompt, using the descriptor's template family. Unknown or
// empty families get the raw prompt, with the system prompt prepended when
// one was given.
func RenderPrompt(family, systemPrompt, prompt string) string {
	switch family {
	case types.FamilyLlama3:
		sysBlock := ""
		if systemPrompt != "" {
			sysBlock = fmt.Sprintf("<|start_header_id|>system<|end_header_id|>\n\n%s<|eot_id|>", systemPrompt)
		}
		return fmt.Sprintf(
			"<|begin_of_text|>%s<|start_header_id|>user<|end_header_id|>\n\n%s<|eot_id|><|start_header_id|>assistant<|end_header_id|>\n\n",
			sysBlock, prompt)
	case types.FamilyMistral:
		final := prompt
		if systemPrompt != "" {
			final = fmt.Sprintf("System: %s\n\nUser: %s", systemPrompt, prompt)
		}
		return fmt.Sprintf("<s>[INST] %s [/INST]", final)
	case types.FamilyPhi:
		final := prompt
		if systemPrompt != "" {
			final = systemPrompt + " " + prompt
		}
		return fmt.Sprintf("Instruct: %s\nOutput:", final)
	default:
		if systemPrompt != "" {
			return systemPrompt + "\n\n" + prompt
		}
		return prompt
	}
}
