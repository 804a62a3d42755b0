// Package rlm implements the generator side of the two-model pipeline: the
// output contract prompt, the intent parser, and the streaming scanner that
// keeps intent lines out of client-visible text.
package rlm

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/rants/internal/backend"
	"github.com/haasonsaas/rants/pkg/models"
)

const contractPrompt = "You are a generator model for the RANTS gateway. " +
	"Respond with user-facing text only. If a tool should be used, append a line: " +
	"TOOL_INTENT: <plain English>. Never output JSON, schemas, parameter names, " +
	"or reasoning blocks."

// SystemPrompt builds the generator system prompt: the output contract, the
// available tool names, and the tool choice hint.
func SystemPrompt(schemas []models.ToolSchema, toolChoice string) string {
	names := make([]string, 0, len(schemas))
	for _, schema := range schemas {
		names = append(names, schema.Name)
	}
	if toolChoice == "" {
		toolChoice = "auto"
	}
	var sb strings.Builder
	sb.WriteString(contractPrompt)
	sb.WriteString("\n\navailable_tools: ")
	sb.WriteString(strings.Join(names, ", "))
	sb.WriteString("\ntool_choice: ")
	sb.WriteString(toolChoice)
	return sb.String()
}

// BuildMessages renders the canonical transcript as chat messages for the
// generator. Each prior step contributes the assistant output (with its
// intent line restored) and a user message carrying the tool results, so
// the generator observes what its tools did.
func BuildMessages(transcript *models.CanonicalTranscript, schemas []models.ToolSchema, toolChoice string) []backend.Message {
	system := SystemPrompt(schemas, toolChoice)
	if transcript.System != "" {
		system += "\n\n" + transcript.System
	}

	messages := []backend.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: transcript.User},
	}
	for _, step := range transcript.Steps {
		assistant := step.GeneratorOutput
		if step.ToolIntent != "" {
			if assistant != "" {
				assistant += "\n"
			}
			assistant += "TOOL_INTENT: " + step.ToolIntent
		}
		messages = append(messages, backend.Message{Role: "assistant", Content: assistant})

		if len(step.ToolResults) > 0 {
			var sb strings.Builder
			sb.WriteString("tool results:")
			for i, result := range step.ToolResults {
				status := "ok"
				if !result.OK {
					status = fmt.Sprintf("error (%s)", result.ErrorKind)
				}
				tool := ""
				if i < len(step.ToolCalls) {
					tool = step.ToolCalls[i].Tool
				}
				fmt.Fprintf(&sb, "\n[%d] %s %s: %s", i, tool, status, result.Output)
			}
			messages = append(messages, backend.Message{Role: "user", Content: sb.String()})
		}
	}
	return messages
}
