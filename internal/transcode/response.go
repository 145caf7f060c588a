package transcode

import (
	"github.com/relaymark/relaymark/internal/markers"
	"github.com/relaymark/relaymark/internal/protocol"
)

// RewriteResponse is C4: it runs the delimiter-aware parser (C6) over
// choices[0]'s message content and, if any well-formed tool calls were
// found, replaces that choice's content and finish_reason with the
// structured equivalent an OpenAI-shaped client expects. A response with no
// choices, or whose content has no tool-call envelopes, is returned
// untouched — this is the identity transform for ordinary prose replies.
//
// Only choice 0 is rewritten. The upstreams this transcoder fronts are
// single-choice chat models, and rewriting every choice independently would
// multiply scan cost for a case that doesn't occur in practice.
func RewriteResponse(resp *protocol.ChatResponse, m markers.Set) {
	if len(resp.Choices) == 0 {
		return
	}

	choice := &resp.Choices[0]
	calls, clean := ExtractToolCalls(choice.Message.Text(), m)
	if len(calls) == 0 {
		return
	}

	choice.Message.ToolCalls = calls
	if clean == "" {
		choice.Message.Content = nil
	} else {
		choice.Message.Content = protocol.StringContent(clean)
	}
	choice.FinishReason = "tool_calls"
}
