package completion

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/namikmesic/chatkit/apierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	body := []byte(`{
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": [
				{"type": "text", "text": "what is "},
				{"type": "image_url", "image_url": {"url": "https://example.com/cat.png"}},
				{"type": "text", "text": "this?"}
			]},
			{"role": "assistant", "content": null, "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "f", "arguments": "{}"}}
			]},
			{"role": "tool", "tool_call_id": "call_1", "content": "42"}
		],
		"stream": true,
		"n": 2,
		"stop": "END",
		"temperature": 0.5,
		"custom_fields": {"configuration": {"mode": "fast"}},
		"some_future_field": true
	}`)

	req, err := ParseRequest(body, Parameters{DeploymentID: "echo", APIKey: "k"})
	require.NoError(t, err)

	assert.Equal(t, "echo", req.DeploymentID)
	assert.True(t, req.Stream)
	assert.Equal(t, 2, req.Choices())
	assert.Equal(t, Stop{"END"}, req.Stop)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, "be brief", req.Messages[0].Content.String())
	assert.Equal(t, "what is this?", req.Messages[1].Content.String())
	assert.Len(t, req.Messages[1].Content.Parts, 3)
	assert.Nil(t, req.Messages[2].Content)
	assert.Equal(t, "call_1", req.Messages[2].ToolCalls[0].ID)
	assert.Equal(t, "fast", req.CustomFields.Configuration["mode"])
}

func TestParseRequestDefaults(t *testing.T) {
	req, err := ParseRequest([]byte(`{"messages": [{"role": "user", "content": "hi"}]}`), Parameters{})
	require.NoError(t, err)
	assert.Equal(t, 1, req.Choices())
	assert.False(t, req.Stream)
}

func TestParseRequestErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "malformed json",
			body: `{"messages": [`,
			want: "Your request contained invalid JSON: ",
		},
		{
			name: "missing messages",
			body: `{}`,
			want: "Your request contained invalid structure on path messages. field required",
		},
		{
			name: "unknown role",
			body: `{"messages": [{"role": "robot", "content": "hi"}]}`,
			want: "Your request contained invalid structure on path messages[0].role. value is not one of [system user assistant function tool]",
		},
		{
			name: "n out of range",
			body: `{"messages": [{"role": "user", "content": "hi"}], "n": 0}`,
			want: "Your request contained invalid structure on path n. ensure this value is greater than or equal to 1",
		},
		{
			name: "temperature out of range",
			body: `{"messages": [{"role": "user", "content": "hi"}], "temperature": 3}`,
			want: "Your request contained invalid structure on path temperature. ensure this value is less than or equal to 2",
		},
		{
			name: "image part without url",
			body: `{"messages": [{"role": "user", "content": [{"type": "image_url"}]}]}`,
			want: "Your request contained invalid structure on path messages[0].content.Parts[0].image_url. field required",
		},
		{
			name: "tool call without id",
			body: `{"messages": [{"role": "assistant", "tool_calls": [{"type": "function", "function": {"name": "f"}}]}]}`,
			want: "Your request contained invalid structure on path messages[0].tool_calls[0].id. field required",
		},
		{
			name: "too many stop sequences",
			body: `{"messages": [{"role": "user", "content": "hi"}], "stop": ["a", "b", "c", "d", "e"]}`,
			want: "Your request contained invalid structure on path stop. ensure this value has at most 4 items",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRequest([]byte(tt.body), Parameters{})

			var apiErr *apierror.Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, 400, apiErr.StatusCode)
			assert.Equal(t, apierror.TypeInvalidRequest, apiErr.Type)
			assert.Contains(t, apiErr.Message, tt.want)
		})
	}
}

func TestMessageContentRoundTrip(t *testing.T) {
	text, err := json.Marshal(Message{Role: RoleUser, Content: TextContent("hi")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role": "user", "content": "hi"}`, string(text))

	parts, err := json.Marshal(Message{Role: RoleUser, Content: &MessageContent{
		Parts: []ContentPart{{Type: "text", Text: "hi"}},
	}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role": "user", "content": [{"type": "text", "text": "hi"}]}`, string(parts))
}
