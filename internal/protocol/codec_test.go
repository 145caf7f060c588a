package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_UnmarshalJSON_PlainStringContent(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"hi"}`), &m))
	assert.Equal(t, "hi", m.Text())
}

func TestMessage_UnmarshalJSON_NullContent(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"role":"assistant","content":null,"tool_calls":[]}`), &m))
	assert.Nil(t, m.Content)
}

func TestMessage_UnmarshalJSON_ArrayOfTextParts(t *testing.T) {
	var m Message
	body := `{"role":"user","content":[{"type":"text","text":"part one"},{"type":"text","text":"part two"}]}`
	require.NoError(t, json.Unmarshal([]byte(body), &m))
	assert.Equal(t, "part one\n\npart two", m.Text())
}

func TestMessage_MarshalJSON_RoundTripsPlainContent(t *testing.T) {
	m := Message{Role: RoleUser, Content: StringContent("hello")}
	data, err := json.Marshal(m)
	require.NoError(t, err)

	var back Message
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "hello", back.Text())
}

func TestChatRequest_UnmarshalJSON_CapturesUnknownFieldsInOther(t *testing.T) {
	var req ChatRequest
	body := `{"model":"m","messages":[],"temperature":0.5,"top_p":0.9}`
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	assert.Equal(t, 0.5, req.Other["temperature"])
	assert.Equal(t, 0.9, req.Other["top_p"])
	assert.NotContains(t, req.Other, "model")
}

func TestChatRequest_MarshalJSON_RoundTripsOtherFields(t *testing.T) {
	req := ChatRequest{
		Model:    "m",
		Messages: []Message{{Role: RoleUser, Content: StringContent("hi")}},
		Other:    map[string]any{"temperature": 0.7},
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 0.7, back["temperature"])
}

func TestChatResponse_UnmarshalJSON_CapturesUsageInOther(t *testing.T) {
	var resp ChatResponse
	body := `{"id":"x","object":"chat.completion","created":1,"choices":[],"usage":{"total_tokens":10}}`
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.NotNil(t, resp.Other["usage"])
}
