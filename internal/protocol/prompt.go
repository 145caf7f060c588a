package protocol

import (
	"fmt"
	"strings"

	"github.com/relaymark/relaymark/internal/markers"
)

// ComposeSystemPrompt renders the natural-language contract that teaches an
// upstream model, which has no native function-calling support, how to emit
// tool calls using the process's marker set. It names the protocol,
// enumerates every declared tool with its JSON parameter schema, shows one
// exemplar invocation built from the real markers, and states the four
// invariants the model must follow.
func ComposeSystemPrompt(tools []ToolSpec, m markers.Set) string {
	var b strings.Builder

	b.WriteString("Tool-use protocol: delimited-text function calling\n\n")
	b.WriteString("You do not have native function calling. Instead, you can invoke the tools listed below by writing a specially delimited block at the end of your response. The proxy watches for these blocks and converts them into structured tool calls for the caller.\n\n")

	b.WriteString("Available tools:\n")
	for _, t := range tools {
		fn := t.Function
		b.WriteString(fmt.Sprintf("- %s: %s\n", fn.Name, fn.Description))
		if len(fn.Parameters) > 0 {
			b.WriteString(fmt.Sprintf("  parameters: %s\n", string(fn.Parameters)))
		}
	}
	b.WriteString("\n")

	exampleName := "example_tool"
	if len(tools) > 0 {
		exampleName = tools[0].Function.Name
	}

	b.WriteString("Example invocation:\n")
	b.WriteString(m.TCStart + "\n")
	b.WriteString(m.NameStart + exampleName + m.NameEnd + "\n")
	b.WriteString(m.ArgsStart + `{"key":"value"}` + m.ArgsEnd + "\n")
	b.WriteString(m.TCEnd + "\n\n")

	b.WriteString("Rules:\n")
	b.WriteString("1. A tool call block must appear at the END of your response, after any explanatory text.\n")
	b.WriteString("2. Copy the markers shown above verbatim — do not alter, translate, or omit any character of them.\n")
	b.WriteString("3. The arguments block must be valid JSON.\n")
	b.WriteString("4. Emit at most one tool call per envelope; issue multiple envelopes in sequence if you need multiple calls.\n")

	return b.String()
}
