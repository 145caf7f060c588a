package transcode

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/relaymark/relaymark/internal/markers"
	"github.com/relaymark/relaymark/internal/protocol"
)

// nowMillis is a seam for tests; production code always uses wall-clock time.
var nowMillis = func() int64 { return time.Now().UnixMilli() }

// ExtractToolCalls scans text for well-formed tool-call envelopes
//
//	TC_START <ws> NAME_START <name> NAME_END <ws> ARGS_START <args> ARGS_END <ws> TC_END
//
// and returns the extracted calls in order alongside the residual text with
// every successfully-extracted envelope removed. This is C6, implemented as
// a hand-written scanner rather than a compiled regexp: <name> and <args>
// must be matched non-greedily and may span multiple lines, which a
// hand-rolled index scan expresses more directly than a regexp against
// arbitrary Unicode delimiters.
//
// A TC_START that isn't followed by a structurally complete envelope is left
// untouched in the output — it wasn't a tool call, just text that happened to
// contain the glyph. An envelope that is structurally complete but whose
// arguments aren't valid JSON is dropped from toolCalls but its text,
// delimiters included, is preserved verbatim: a model that almost-but-not-
// quite followed the protocol shouldn't have its words silently erased.
func ExtractToolCalls(text string, m markers.Set) (calls []protocol.ToolCall, cleanContent string) {
	var out strings.Builder
	pos := 0

	for {
		idx := strings.Index(text[pos:], m.TCStart)
		if idx < 0 {
			out.WriteString(text[pos:])
			break
		}
		start := pos + idx
		out.WriteString(text[pos:start])

		envEnd, name, args, ok := scanEnvelope(text, start, m)
		if !ok {
			out.WriteString(m.TCStart)
			pos = start + len(m.TCStart)
			continue
		}

		trimmedArgs := strings.TrimSpace(args)
		if !json.Valid([]byte(trimmedArgs)) {
			out.WriteString(text[start:envEnd])
			pos = envEnd
			continue
		}

		calls = append(calls, protocol.ToolCall{
			ID:   fmt.Sprintf("call_%d_%d", nowMillis(), len(calls)),
			Type: "function",
			Function: protocol.FunctionCall{
				Name:      strings.TrimSpace(name),
				Arguments: trimmedArgs,
			},
		})
		pos = envEnd
	}

	return calls, strings.TrimSpace(out.String())
}

// scanEnvelope attempts to match one complete envelope starting at start
// (where text[start:] begins with m.TCStart). It returns the index just past
// TC_END, the raw (untrimmed) name and args spans, and whether the match
// succeeded.
func scanEnvelope(text string, start int, m markers.Set) (envEnd int, name, args string, ok bool) {
	cur := start + len(m.TCStart)

	cur = skipSpace(text, cur)
	if !strings.HasPrefix(text[cur:], m.NameStart) {
		return 0, "", "", false
	}
	cur += len(m.NameStart)

	nameEndIdx := strings.Index(text[cur:], m.NameEnd)
	if nameEndIdx < 0 {
		return 0, "", "", false
	}
	name = text[cur : cur+nameEndIdx]
	cur += nameEndIdx + len(m.NameEnd)

	cur = skipSpace(text, cur)
	if !strings.HasPrefix(text[cur:], m.ArgsStart) {
		return 0, "", "", false
	}
	cur += len(m.ArgsStart)

	argsEndIdx := strings.Index(text[cur:], m.ArgsEnd)
	if argsEndIdx < 0 {
		return 0, "", "", false
	}
	args = text[cur : cur+argsEndIdx]
	cur += argsEndIdx + len(m.ArgsEnd)

	cur = skipSpace(text, cur)
	if !strings.HasPrefix(text[cur:], m.TCEnd) {
		return 0, "", "", false
	}
	cur += len(m.TCEnd)

	return cur, name, args, true
}

// skipSpace advances i past any run of Unicode whitespace runes.
func skipSpace(text string, i int) int {
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !unicode.IsSpace(r) {
			break
		}
		i += size
	}
	return i
}
