package protocol

import (
	encjson "encoding/json"
	"strings"
)

// messageWire mirrors Message on the wire, except Content is left raw so
// UnmarshalJSON can accept either a plain string or the multimodal
// content-parts array shape some clients send for tool/user messages.
type messageWire struct {
	Role       string             `json:"role"`
	Content    encjson.RawMessage `json:"content"`
	Name       string             `json:"name,omitempty"`
	ToolCallID string             `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall         `json:"tool_calls,omitempty"`
}

// UnmarshalJSON accepts content as a string, as null, or as an array of
// {"type":"text","text":"..."} parts (and similar), joining text parts with
// blank lines. Content that is none of these is kept as its raw JSON text so
// nothing is silently dropped.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Role = w.Role
	m.Name = w.Name
	m.ToolCallID = w.ToolCallID
	m.ToolCalls = w.ToolCalls
	m.Content = decodeMessageContent(w.Content)
	return nil
}

func decodeMessageContent(raw encjson.RawMessage) *string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s
	}

	var parts []map[string]any
	if err := json.Unmarshal(raw, &parts); err == nil {
		var segs []string
		for _, p := range parts {
			if t, ok := p["text"].(string); ok && t != "" {
				segs = append(segs, t)
			}
		}
		joined := strings.Join(segs, "\n\n")
		return &joined
	}

	raw2 := string(raw)
	return &raw2
}

// MarshalJSON emits Content as a plain JSON string (or null), regardless of
// what shape it arrived in — every downstream consumer of a rewritten
// request only ever needs to send text back upstream.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageWire{
		Role:       m.Role,
		Content:    marshalMessageContent(m.Content),
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
		ToolCalls:  m.ToolCalls,
	})
}

func marshalMessageContent(s *string) encjson.RawMessage {
	if s == nil {
		return encjson.RawMessage("null")
	}
	encoded, _ := json.Marshal(*s)
	return encoded
}

// UnmarshalJSON decodes a ChatRequest while capturing every field this
// transcoder doesn't name explicitly into Other, so a later MarshalJSON can
// round-trip them untouched.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	type alias ChatRequest
	aux := (*alias)(r)
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, known := range []string{"model", "messages", "tools", "tool_choice", "stream"} {
		delete(raw, known)
	}
	r.Other = raw
	return nil
}

// MarshalJSON encodes a ChatRequest, re-merging Other's captured fields
// alongside the named ones.
func (r ChatRequest) MarshalJSON() ([]byte, error) {
	type alias ChatRequest
	base, err := json.Marshal((alias)(r))
	if err != nil {
		return nil, err
	}
	if len(r.Other) == 0 {
		return base, nil
	}

	var merged map[string]any
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Other {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes a ChatResponse, capturing unrecognized top-level
// fields (usage, system_fingerprint, provider-specific extensions, ...) into
// Other for verbatim passthrough.
func (r *ChatResponse) UnmarshalJSON(data []byte) error {
	type alias ChatResponse
	aux := (*alias)(r)
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, known := range []string{"id", "object", "created", "model", "choices"} {
		delete(raw, known)
	}
	r.Other = raw
	return nil
}

// MarshalJSON encodes a ChatResponse, re-merging Other's captured fields.
func (r ChatResponse) MarshalJSON() ([]byte, error) {
	type alias ChatResponse
	base, err := json.Marshal((alias)(r))
	if err != nil {
		return nil, err
	}
	if len(r.Other) == 0 {
		return base, nil
	}

	var merged map[string]any
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Other {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}
