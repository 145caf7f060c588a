package transcode

import (
	"strings"

	"github.com/relaymark/relaymark/internal/markers"
	"github.com/relaymark/relaymark/internal/protocol"
)

// RewriteRequest is C3: it produces a new ChatRequest with every
// tools-specific field (Tools, ToolChoice) stripped, Messages rewritten so
// the upstream model — which has no native tool-calling — sees only plain
// conversation text, and a synthetic system message carrying the tool
// contract (C2) injected when the request declares tools. Other, the
// passthrough bag of unknown fields, is carried over unchanged (P1).
//
// The four per-message rewriting rules, applied in message order:
//
//  1. system: if hasTools, the tool contract is appended to its content.
//  2. assistant with tool_calls: each call is re-rendered as a delimited
//     envelope (hasTools) or a human-readable parenthetical (!hasTools) and
//     appended to the message's own content; ToolCalls is cleared.
//  3. tool: its result is rendered as a delimited result block (hasTools) or
//     a plain-text label (!hasTools) and reassigned to the user role — this
//     upstream has no "tool" role to speak of.
//  4. any other message: emitted unchanged.
//
// After the per-message pass, if hasTools and no system message was seen, a
// synthetic one carrying only the tool contract is prepended. Finally,
// adjacent messages that ended up sharing a role are merged (rule 5) since
// rules 2 and 3 can produce runs of same-role messages an upstream might
// reject.
func RewriteRequest(req *protocol.ChatRequest, m markers.Set) *protocol.ChatRequest {
	hasTools := req.HasTools()

	var contract string
	if hasTools {
		contract = protocol.ComposeSystemPrompt(req.Tools, m)
	}

	out := make([]protocol.Message, 0, len(req.Messages)+1)
	sawSystem := false

	for _, msg := range req.Messages {
		switch msg.Role {
		case protocol.RoleSystem:
			sawSystem = true
			out = append(out, rewriteSystemMessage(msg, contract, hasTools))

		case protocol.RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				out = append(out, rewriteAssistantToolCalls(msg, m, hasTools))
			} else {
				out = append(out, msg)
			}

		case protocol.RoleTool:
			out = append(out, rewriteToolResult(msg, m, hasTools))

		default:
			out = append(out, msg)
		}
	}

	if hasTools && !sawSystem {
		sys := protocol.Message{
			Role:    protocol.RoleSystem,
			Content: protocol.StringContent(contract),
		}
		out = append([]protocol.Message{sys}, out...)
	}

	return &protocol.ChatRequest{
		Model:    req.Model,
		Messages: mergeAdjacentRoles(out),
		Stream:   req.Stream,
		Other:    req.Other,
	}
}

func rewriteSystemMessage(msg protocol.Message, contract string, hasTools bool) protocol.Message {
	content := msg.Text()
	if hasTools {
		if content == "" {
			content = contract
		} else {
			content = content + "\n\n" + contract
		}
	}
	return protocol.Message{Role: protocol.RoleSystem, Content: protocol.StringContent(content)}
}

func rewriteAssistantToolCalls(msg protocol.Message, m markers.Set, hasTools bool) protocol.Message {
	var b strings.Builder
	b.WriteString(msg.Text())

	if hasTools {
		for _, tc := range msg.ToolCalls {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(m.TCStart)
			b.WriteString("\n")
			b.WriteString(m.NameStart)
			b.WriteString(tc.Function.Name)
			b.WriteString(m.NameEnd)
			b.WriteString("\n")
			b.WriteString(m.ArgsStart)
			b.WriteString(tc.Function.Arguments)
			b.WriteString(m.ArgsEnd)
			b.WriteString("\n")
			b.WriteString(m.TCEnd)
		}
	} else {
		names := make([]string, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			names[i] = tc.Function.Name
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[Called tools: " + strings.Join(names, ", ") + "]")
	}

	return protocol.Message{Role: protocol.RoleAssistant, Content: protocol.StringContent(b.String())}
}

func rewriteToolResult(msg protocol.Message, m markers.Set, hasTools bool) protocol.Message {
	name := msg.Name
	if name == "" {
		name = msg.ToolCallID
	}
	result := msg.Text()

	var content string
	if hasTools {
		content = m.ResultStart + "[" + name + "]\n" + result + m.ResultEnd
	} else {
		content = "[Result from " + name + "]:\n" + result
	}

	return protocol.Message{Role: protocol.RoleUser, Content: protocol.StringContent(content)}
}

// mergeAdjacentRoles folds consecutive same-role messages into one, joining
// their text with a blank line. Only Content is merged — ToolCalls, Name,
// and ToolCallID no longer matter by the time this runs, since every
// message that used to carry them has already been rewritten into a
// plain-content message above.
func mergeAdjacentRoles(msgs []protocol.Message) []protocol.Message {
	if len(msgs) == 0 {
		return msgs
	}

	merged := []protocol.Message{msgs[0]}
	for _, msg := range msgs[1:] {
		last := &merged[len(merged)-1]
		if last.Role != msg.Role {
			merged = append(merged, msg)
			continue
		}

		combined := last.Text()
		next := msg.Text()
		switch {
		case combined == "":
			combined = next
		case next != "":
			combined = combined + "\n\n" + next
		}
		last.Content = protocol.StringContent(combined)
	}
	return merged
}
