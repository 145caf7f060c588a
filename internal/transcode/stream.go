package transcode

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/relaymark/relaymark/internal/markers"
	"github.com/relaymark/relaymark/internal/protocol"
)

// streamState is C5's per-request state. It is created fresh for every
// upstream response and discarded at stream close — never shared or reused
// across requests.
type streamState struct {
	m             markers.Set
	pendingText   string
	contentBuffer string
	isBuffering   bool
}

func newStreamState(m markers.Set) *streamState {
	return &streamState{m: m}
}

// feedContent processes one incoming delta.content string and returns the
// text, if any, that may be safely emitted downstream immediately.
//
// While isBuffering, everything is appended to contentBuffer and nothing is
// emitted (contentBuffer always begins with TC_START while buffering).
// Otherwise combined = pendingText + c is searched for TC_START; a match
// opens a buffered block. On no match, only the longest suffix of combined
// that is a proper prefix of TC_START is held back in pendingText — this
// look-ahead policy emits strictly more text per call than the simpler
// "hold everything once the first code point appears" rule, without risking
// a split marker leaking into emitted text.
func (s *streamState) feedContent(c string) string {
	if c == "" {
		return ""
	}

	if s.isBuffering {
		s.contentBuffer += c
		return ""
	}

	combined := s.pendingText + c
	if idx := strings.Index(combined, s.m.TCStart); idx >= 0 {
		emit := combined[:idx]
		s.contentBuffer = combined[idx:]
		s.pendingText = ""
		s.isBuffering = true
		return emit
	}

	hold := longestProperPrefixSuffix(combined, s.m.TCStart)
	s.pendingText = hold
	return combined[:len(combined)-len(hold)]
}

// longestProperPrefixSuffix returns the longest suffix of s that is also a
// proper (shorter than the whole string) prefix of marker, respecting rune
// boundaries of marker. Assumes marker does not occur as a substring of s.
func longestProperPrefixSuffix(s, marker string) string {
	var bounds []int
	for i := range marker {
		bounds = append(bounds, i)
	}
	bounds = append(bounds, len(marker))

	for i := len(bounds) - 2; i >= 0; i-- {
		prefix := marker[:bounds[i]]
		if prefix != "" && strings.HasSuffix(s, prefix) {
			return prefix
		}
	}
	return ""
}

// RewriteStream reads an upstream SSE stream of OpenAI-shaped
// chat.completion.chunk events from r, runs every delta.content through the
// feedContent look-ahead, and writes the client-visible SSE stream to w: clean text
// deltas, a block of tool_calls deltas (one per extracted call, index in
// emission order) when a delimited envelope closes, a terminal chunk with
// the right finish_reason, and a trailing "data: [DONE]".
//
// Framing uses a bufio.Scanner, which splits on \n and keeps the partial
// tail internally; multi-line data: blocks for one event are joined before
// parsing.
func RewriteStream(r io.Reader, w io.Writer, model string, m markers.Set) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	state := newStreamState(m)
	var dataLines [][]byte
	terminal := false

	flush := func() error {
		if len(dataLines) == 0 {
			return nil
		}
		raw := bytes.TrimSpace(bytes.Join(dataLines, []byte("\n")))
		dataLines = dataLines[:0]
		if len(raw) == 0 {
			return nil
		}

		if bytes.Equal(raw, []byte("[DONE]")) {
			terminal = true
			return writeTerminal(w, state, model)
		}

		var frame struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			// Malformed upstream frame: drop it rather than aborting the
			// whole stream over one bad event.
			return nil
		}
		if len(frame.Choices) == 0 {
			return nil
		}

		text := state.feedContent(frame.Choices[0].Delta.Content)
		if text == "" {
			return nil
		}
		return writeChunk(w, buildTextChunk(model, text))
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if bytes.HasPrefix(line, []byte(":")) {
			continue
		}
		if bytes.HasPrefix(line, []byte("data:")) {
			payload := bytes.TrimPrefix(line, []byte("data:"))
			if len(payload) > 0 && payload[0] == ' ' {
				payload = payload[1:]
			}
			cp := make([]byte, len(payload))
			copy(cp, payload)
			dataLines = append(dataLines, cp)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}
	if !terminal {
		if err := writeTerminal(w, state, model); err != nil {
			return err
		}
	}
	return nil
}

// writeTerminal flushes any held-back pendingText, resolves a buffered
// block through C6, and emits the matching finish_reason before the
// closing [DONE] sentinel.
func writeTerminal(w io.Writer, s *streamState, model string) error {
	if s.pendingText != "" && !s.isBuffering {
		if err := writeChunk(w, buildTextChunk(model, s.pendingText)); err != nil {
			return err
		}
		s.pendingText = ""
	}

	switch {
	case s.contentBuffer != "":
		calls, clean := ExtractToolCalls(s.contentBuffer, s.m)
		if len(calls) > 0 {
			for i, call := range calls {
				delta := protocol.Delta{ToolCalls: []protocol.ToolCallDelta{{
					Index: i,
					ID:    call.ID,
					Type:  call.Type,
					Function: &protocol.FunctionDelta{
						Name:      call.Function.Name,
						Arguments: call.Function.Arguments,
					},
				}}}
				if err := writeChunk(w, buildChunk(model, delta, nil)); err != nil {
					return err
				}
			}
			finish := "tool_calls"
			if err := writeChunk(w, buildChunk(model, protocol.Delta{}, &finish)); err != nil {
				return err
			}
		} else {
			if clean != "" {
				if err := writeChunk(w, buildTextChunk(model, clean)); err != nil {
					return err
				}
			}
			finish := "stop"
			if err := writeChunk(w, buildChunk(model, protocol.Delta{}, &finish)); err != nil {
				return err
			}
		}
		s.contentBuffer = ""

	default:
		finish := "stop"
		if err := writeChunk(w, buildChunk(model, protocol.Delta{}, &finish)); err != nil {
			return err
		}
	}

	_, err := w.Write([]byte("data: [DONE]\n\n"))
	return err
}

func buildChunk(model string, delta protocol.Delta, finishReason *string) protocol.StreamChunk {
	now := nowMillis()
	return protocol.StreamChunk{
		ID:      fmt.Sprintf("chatcmpl-%d", now),
		Object:  "chat.completion.chunk",
		Created: now / 1000,
		Model:   model,
		Choices: []protocol.StreamChoice{{Index: 0, Delta: delta, FinishReason: finishReason}},
	}
}

func buildTextChunk(model, text string) protocol.StreamChunk {
	return buildChunk(model, protocol.Delta{Content: text}, nil)
}

func writeChunk(w io.Writer, c protocol.StreamChunk) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}
