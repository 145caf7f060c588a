package transcode

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymark/relaymark/internal/markers"
)

func sseFrame(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id": "chatcmpl-x", "object": "chat.completion.chunk", "created": 1,
		"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": content}}},
	})
	return "data: " + string(body) + "\n\n"
}

func decodeEmittedChunks(t *testing.T, out string) []map[string]any {
	t.Helper()
	var chunks []map[string]any
	for _, event := range strings.Split(out, "\n\n") {
		event = strings.TrimSpace(event)
		if event == "" {
			continue
		}
		payload := strings.TrimPrefix(event, "data: ")
		if payload == "[DONE]" {
			continue
		}
		var chunk map[string]any
		require.NoError(t, json.Unmarshal([]byte(payload), &chunk))
		chunks = append(chunks, chunk)
	}
	return chunks
}

func deltaContent(chunk map[string]any) string {
	choices, _ := chunk["choices"].([]any)
	if len(choices) == 0 {
		return ""
	}
	choice, _ := choices[0].(map[string]any)
	delta, _ := choice["delta"].(map[string]any)
	content, _ := delta["content"].(string)
	return content
}

func TestRewriteStream_NoDelimiter_PassesTextThroughUnchanged(t *testing.T) {
	m := markers.MustNew()
	src := sseFrame("Hello, ") + sseFrame("world.") + "data: [DONE]\n\n"

	var dst bytes.Buffer
	require.NoError(t, RewriteStream(strings.NewReader(src), &dst, "gpt-x", m))

	out := dst.String()
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))

	chunks := decodeEmittedChunks(t, out)
	var text strings.Builder
	for _, c := range chunks {
		text.WriteString(deltaContent(c))
	}
	assert.Equal(t, "Hello, world.", text.String())

	last := chunks[len(chunks)-1]
	choices := last["choices"].([]any)
	choice := choices[0].(map[string]any)
	assert.Equal(t, "stop", choice["finish_reason"])
}

func TestRewriteStream_EnvelopeSplitAcrossDeltas_EmitsToolCallThenFinish(t *testing.T) {
	m := markers.MustNew()
	envelope := m.TCStart + "\n" + m.NameStart + "add" + m.NameEnd + "\n" + m.ArgsStart + `{"a":1}` + m.ArgsEnd + "\n" + m.TCEnd

	runes := []rune(envelope)
	half := len(runes) / 2
	src := sseFrame("Going to call ") + sseFrame("a tool.\n"+string(runes[:half])) +
		sseFrame(string(runes[half:])) + "data: [DONE]\n\n"

	var dst bytes.Buffer
	require.NoError(t, RewriteStream(strings.NewReader(src), &dst, "gpt-x", m))

	out := dst.String()
	chunks := decodeEmittedChunks(t, out)

	var textSeen strings.Builder
	var sawToolCall, sawFinish bool
	var finishReason string
	for _, c := range chunks {
		choices := c["choices"].([]any)
		choice := choices[0].(map[string]any)
		delta := choice["delta"].(map[string]any)
		if tc, ok := delta["tool_calls"]; ok && tc != nil {
			sawToolCall = true
			arr := tc.([]any)
			entry := arr[0].(map[string]any)
			fn := entry["function"].(map[string]any)
			assert.Equal(t, "add", fn["name"])
			assert.Equal(t, `{"a":1}`, fn["arguments"])
		}
		if fr, ok := choice["finish_reason"].(string); ok {
			sawFinish = true
			finishReason = fr
		}
		textSeen.WriteString(deltaContent(c))
	}

	assert.Equal(t, "Going to call a tool.", textSeen.String())
	assert.True(t, sawToolCall, "expected a tool_calls delta")
	assert.True(t, sawFinish)
	assert.Equal(t, "tool_calls", finishReason)
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
}

func TestRewriteStream_MalformedArgs_PreservedAsText(t *testing.T) {
	m := markers.MustNew()
	envelope := m.TCStart + m.NameStart + "broken" + m.NameEnd + m.ArgsStart + "{oops" + m.ArgsEnd + m.TCEnd
	src := sseFrame(envelope) + "data: [DONE]\n\n"

	var dst bytes.Buffer
	require.NoError(t, RewriteStream(strings.NewReader(src), &dst, "gpt-x", m))

	chunks := decodeEmittedChunks(t, dst.String())
	var text strings.Builder
	for _, c := range chunks {
		text.WriteString(deltaContent(c))
	}
	assert.Contains(t, text.String(), envelope)
}

func TestRewriteStream_DelimiterNonLeak_NoTCStartAnywhere(t *testing.T) {
	m := markers.MustNew()
	parts := []string{"one ", "two ", "three"}
	var src strings.Builder
	for _, p := range parts {
		src.WriteString(sseFrame(p))
	}
	src.WriteString("data: [DONE]\n\n")

	var dst bytes.Buffer
	require.NoError(t, RewriteStream(strings.NewReader(src.String()), &dst, "gpt-x", m))

	chunks := decodeEmittedChunks(t, dst.String())
	var text strings.Builder
	for _, c := range chunks {
		text.WriteString(deltaContent(c))
	}
	assert.Equal(t, "one two three", text.String())
}

func TestLongestProperPrefixSuffix_HoldsOnlyTrueAmbiguousTail(t *testing.T) {
	m := markers.MustNew()
	firstRune := string([]rune(m.TCStart)[:1])

	held := longestProperPrefixSuffix("some text "+firstRune, m.TCStart)
	assert.Equal(t, firstRune, held)

	held = longestProperPrefixSuffix("some text with no marker glyphs", m.TCStart)
	assert.Empty(t, held)
}
