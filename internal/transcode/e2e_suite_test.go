package transcode_test

import (
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/relaymark/relaymark/internal/markers"
	"github.com/relaymark/relaymark/internal/protocol"
	"github.com/relaymark/relaymark/internal/transcode"
)

func TestTranscodeEndToEnd(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Tool-call transcoding end-to-end suite")
}

var _ = Describe("bidirectional tool-call transcoding", func() {
	var m markers.Set

	BeforeEach(func() {
		m = markers.MustNew()
	})

	Describe("no-tool passthrough", func() {
		It("leaves an ordinary response untouched", func() {
			resp := &protocol.ChatResponse{
				Choices: []protocol.Choice{{
					Index:        0,
					Message:      protocol.Message{Role: protocol.RoleAssistant, Content: protocol.StringContent("hello")},
					FinishReason: "stop",
				}},
			}
			transcode.RewriteResponse(resp, m)
			Expect(resp.Choices[0].Message.Text()).To(Equal("hello"))
			Expect(resp.Choices[0].FinishReason).To(Equal("stop"))
		})
	})

	Describe("non-streaming tool extraction", func() {
		It("extracts a single well-formed envelope and rewrites finish_reason", func() {
			content := "Sure.\n" + m.TCStart + m.NameStart + "add" + m.NameEnd +
				m.ArgsStart + `{"a":1,"b":2}` + m.ArgsEnd + m.TCEnd
			resp := &protocol.ChatResponse{
				Choices: []protocol.Choice{{
					Message: protocol.Message{Role: protocol.RoleAssistant, Content: protocol.StringContent(content)},
				}},
			}

			transcode.RewriteResponse(resp, m)

			Expect(resp.Choices[0].Message.Text()).To(Equal("Sure."))
			Expect(resp.Choices[0].Message.ToolCalls).To(HaveLen(1))
			Expect(resp.Choices[0].Message.ToolCalls[0].Function.Name).To(Equal("add"))
			Expect(resp.Choices[0].Message.ToolCalls[0].Function.Arguments).To(Equal(`{"a":1,"b":2}`))
			Expect(resp.Choices[0].FinishReason).To(Equal("tool_calls"))
		})
	})

	Describe("malformed args", func() {
		It("preserves the entire envelope verbatim instead of extracting a call", func() {
			envelope := m.TCStart + m.NameStart + "broken" + m.NameEnd + m.ArgsStart + "{oops" + m.ArgsEnd + m.TCEnd
			calls, clean := transcode.ExtractToolCalls("before "+envelope+" after", m)
			Expect(calls).To(BeEmpty())
			Expect(clean).To(ContainSubstring(envelope))
		})
	})

	Describe("multiple tool calls per assistant turn", func() {
		It("preserves order and assigns sequential emission", func() {
			env := func(name, args string) string {
				return m.TCStart + m.NameStart + name + m.NameEnd + m.ArgsStart + args + m.ArgsEnd + m.TCEnd
			}
			text := env("first", `{"x":1}`) + env("second", `{"y":2}`)
			calls, _ := transcode.ExtractToolCalls(text, m)
			Expect(calls).To(HaveLen(2))
			Expect(calls[0].Function.Name).To(Equal("first"))
			Expect(calls[1].Function.Name).To(Equal("second"))
			Expect(calls[0].ID).NotTo(Equal(calls[1].ID))
		})
	})

	Describe("request rewriting round trip", func() {
		It("round-trips a tool declaration, an assistant tool_call, and a tool result", func() {
			req := &protocol.ChatRequest{
				Messages: []protocol.Message{
					{Role: protocol.RoleUser, Content: protocol.StringContent("what's the weather in Paris?")},
					{Role: protocol.RoleAssistant, ToolCalls: []protocol.ToolCall{
						{ID: "call_1", Type: "function", Function: protocol.FunctionCall{Name: "get_weather", Arguments: `{"city":"Paris"}`}},
					}},
					{Role: protocol.RoleTool, Name: "get_weather", ToolCallID: "call_1", Content: protocol.StringContent(`{"temp_c":18}`)},
				},
				Tools: []protocol.ToolSpec{{Type: "function", Function: protocol.FunctionSpec{Name: "get_weather"}}},
			}

			rewritten := transcode.RewriteRequest(req, m)

			Expect(rewritten.Tools).To(BeEmpty())
			Expect(rewritten.ToolChoice).To(BeNil())

			var sawContract, sawEnvelope, sawResult bool
			for _, msg := range rewritten.Messages {
				text := msg.Text()
				if msg.Role == protocol.RoleSystem && strings.Contains(text, "get_weather") {
					sawContract = true
				}
				if strings.Contains(text, m.TCStart) {
					sawEnvelope = true
				}
				if strings.Contains(text, m.ResultStart) {
					sawResult = true
				}
			}
			Expect(sawContract).To(BeTrue())
			Expect(sawEnvelope).To(BeTrue())
			Expect(sawResult).To(BeTrue())
		})
	})
})
