package agent

import (
	"fmt"
	"strings"

	"github.com/loom-agent/loom/llm"
)

// TruncationMode specifies how oversized tool output is cut.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// Default character limits per built-in tool. Event consumers always receive
// the full output; only the copy fed back to the model is truncated.
var DefaultToolCharLimits = map[string]int{
	"read":        50000,
	"read_skill":  50000,
	"list":        20000,
	"edit":        10000,
	"write":       1000,
	"spawn_agent": 20000,
}

// Default truncation modes per built-in tool.
var DefaultTruncationModes = map[string]TruncationMode{
	"read":        TruncateHeadTail,
	"read_skill":  TruncateHeadTail,
	"list":        TruncateTail,
	"edit":        TruncateTail,
	"write":       TruncateTail,
	"spawn_agent": TruncateHeadTail,
}

// Default line limits per built-in tool, applied after character truncation.
var DefaultToolLineLimits = map[string]int{
	"list": 500,
}

const fallbackCharLimit = 30000

// TruncateOutput applies character-based truncation to output.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if len(output) <= maxChars {
		return output
	}

	removed := len(output) - maxChars
	switch mode {
	case TruncateTail:
		return fmt.Sprintf("[Output truncated. First %d characters were removed. "+
			"The full output is available in the event stream.]\n\n", removed) +
			output[len(output)-maxChars:]
	default:
		half := maxChars / 2
		return output[:half] +
			fmt.Sprintf("\n\n[Output truncated. %d characters were removed from the middle. "+
				"The full output is available in the event stream. "+
				"Re-run the tool with more targeted parameters to see specific parts.]\n\n", removed) +
			output[len(output)-half:]
	}
}

// TruncateLines applies line-based truncation using a head/tail split.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateToolOutput applies the per-tool truncation pipeline: character
// truncation first, then line truncation. Overrides take precedence over the
// built-in defaults.
func TruncateToolOutput(output, toolName string, charLimits, lineLimits map[string]int) string {
	maxChars, ok := charLimits[toolName]
	if !ok {
		maxChars, ok = DefaultToolCharLimits[toolName]
		if !ok {
			maxChars = fallbackCharLimit
		}
	}

	mode, ok := DefaultTruncationModes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}

	result := TruncateOutput(output, maxChars, mode)

	maxLines := 0
	if lineLimits != nil {
		if ml, ok := lineLimits[toolName]; ok {
			maxLines = ml
		}
	}
	if maxLines == 0 {
		if ml, ok := DefaultToolLineLimits[toolName]; ok {
			maxLines = ml
		}
	}
	if maxLines > 0 {
		result = TruncateLines(result, maxLines)
	}

	return result
}

// truncateResult returns a copy of the call whose result content has been
// passed through the truncation pipeline. Calls without a result pass
// through unchanged.
func truncateResult(call llm.ToolCall, charLimits, lineLimits map[string]int) llm.ToolCall {
	out := call.Clone()
	if out.Result == nil {
		return out
	}
	out.Result.Content = TruncateToolOutput(out.Result.Content, out.Name, charLimits, lineLimits)
	return out
}
