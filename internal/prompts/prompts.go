// Package prompts is the narrow external collaborator the Stage Runner
// depends on for prompt text: spec.md §1 excludes "prompt text contents
// and prompt-version registries" from this system's scope, consuming them
// as opaque identifiers. This package supplies a minimal default
// implementation so the service runs standalone; a real deployment swaps
// it for whatever registry actually owns prompt copy.
package prompts

import "fmt"

// Provider resolves a prompt version identifier to system/user prompt text.
type Provider interface {
	SystemPrompt(promptVersion string) string
	UserPrompt(promptVersion, transcriptText string) string
}

// Default is a minimal Provider: it embeds the prompt version in a stock
// instruction so the pipeline is runnable without a real prompt registry.
type Default struct{}

func (Default) SystemPrompt(promptVersion string) string {
	return fmt.Sprintf("You are a financial call analysis assistant. Follow the response schema for prompt version %q exactly.", promptVersion)
}

func (Default) UserPrompt(promptVersion, transcriptText string) string {
	return fmt.Sprintf("Prompt version: %s\n\nTranscript:\n%s", promptVersion, transcriptText)
}
