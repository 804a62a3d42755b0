package compiler

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/rants/pkg/models"
)

const (
	// contextRecentSteps is how many trailing steps the compact context
	// keeps; older steps only matter to the generator, not to compilation.
	contextRecentSteps = 3
	// contextMaxBytes bounds the whole compact context.
	contextMaxBytes = 8192
	// contextResultBytes bounds each embedded tool result excerpt.
	contextResultBytes = 512
)

// CompactContext summarizes a transcript for the tool compiler: system and
// user input plus the most recent step outputs and tool result excerpts,
// truncated to a fixed budget.
func CompactContext(transcript *models.CanonicalTranscript) string {
	var sb strings.Builder
	if transcript.System != "" {
		fmt.Fprintf(&sb, "system: %s\n", transcript.System)
	}
	fmt.Fprintf(&sb, "user: %s\n", transcript.User)

	steps := transcript.Steps
	if len(steps) > contextRecentSteps {
		steps = steps[len(steps)-contextRecentSteps:]
	}
	for _, step := range steps {
		if step.GeneratorOutput != "" {
			fmt.Fprintf(&sb, "assistant: %s\n", step.GeneratorOutput)
		}
		if step.ToolIntent != "" {
			fmt.Fprintf(&sb, "intent: %s\n", step.ToolIntent)
		}
		for i, result := range step.ToolResults {
			tool := ""
			if i < len(step.ToolCalls) {
				tool = step.ToolCalls[i].Tool
			}
			status := "ok"
			if !result.OK {
				status = "error"
			}
			fmt.Fprintf(&sb, "result %s (%s): %s\n", tool, status, excerpt(result.Output, contextResultBytes))
		}
	}
	return excerpt(sb.String(), contextMaxBytes)
}

func excerpt(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && s[cut]&0xC0 == 0x80 { // back off mid-rune
		cut--
	}
	return s[:cut] + "…"
}
