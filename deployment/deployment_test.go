package deployment

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/namikmesic/chatkit/apierror"
	"github.com/namikmesic/chatkit/completion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTokenizeRequest(t *testing.T) {
	body := []byte(`{"inputs": [
		{"type": "request", "value": {"messages": [{"role": "user", "content": "hello there"}]}},
		{"type": "string", "value": "just text"},
		{"value": {"messages": [{"role": "system", "content": "defaulted"}]}}
	]}`)

	req, err := ParseTokenizeRequest(body, completion.Parameters{DeploymentID: "echo"})
	require.NoError(t, err)
	require.Len(t, req.Inputs, 3)

	assert.Equal(t, "echo", req.DeploymentID)
	assert.Equal(t, InputTypeRequest, req.Inputs[0].Type)
	assert.Equal(t, "hello there", req.Inputs[0].Request.Messages[0].Content.String())
	assert.Equal(t, StringInput("just text"), req.Inputs[1])
	assert.Equal(t, InputTypeRequest, req.Inputs[2].Type)
	assert.Equal(t, completion.RoleSystem, req.Inputs[2].Request.Messages[0].Role)
}

func TestParseTokenizeRequestErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "unknown input type",
			body: `{"inputs": [{"type": "image", "value": "x"}]}`,
			want: "Your request contained invalid JSON: ",
		},
		{
			name: "missing inputs",
			body: `{}`,
			want: "Your request contained invalid structure on path inputs. field required",
		},
		{
			name: "invalid nested request",
			body: `{"inputs": [{"type": "request", "value": {"messages": [{"role": "robot"}]}}]}`,
			want: "messages[0].role",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTokenizeRequest([]byte(tt.body), completion.Parameters{})

			var apiErr *apierror.Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, 400, apiErr.StatusCode)
			assert.Contains(t, apiErr.Message, tt.want)
		})
	}
}

func TestTokenizeResponseShape(t *testing.T) {
	body, err := json.Marshal(TokenizeResponse{Outputs: []TokenizeOutput{
		TokenizeSuccess(0),
		TokenizeError("too long"),
	}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"outputs": [
		{"status": "success", "token_count": 0},
		{"status": "error", "error": "too long"}
	]}`, string(body))
}

func TestTokenizeInputRoundTrip(t *testing.T) {
	in := RequestInput(completion.ChatCompletionRequest{
		Messages: []completion.Message{{Role: completion.RoleUser, Content: completion.TextContent("hi")}},
	})
	body, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type": "request", "value": {"messages": [{"role": "user", "content": "hi"}]}}`, string(body))

	var back TokenizeInput
	require.NoError(t, json.Unmarshal(body, &back))
	assert.Equal(t, "hi", back.Request.Messages[0].Content.String())
}

func TestParseTruncatePromptRequest(t *testing.T) {
	body := []byte(`{"inputs": [
		{"messages": [{"role": "user", "content": "a"}], "max_prompt_tokens": 10}
	]}`)

	req, err := ParseTruncatePromptRequest(body, completion.Parameters{})
	require.NoError(t, err)
	require.Len(t, req.Inputs, 1)
	require.NotNil(t, req.Inputs[0].MaxPromptTokens)
	assert.Equal(t, 10, *req.Inputs[0].MaxPromptTokens)

	_, err = ParseTruncatePromptRequest([]byte(`{"inputs": [{"messages": []}], "extra": 1}`), completion.Parameters{})
	require.NoError(t, err)

	_, err = ParseTruncatePromptRequest([]byte(`{"inputs": [{"messages": [{"role": "user"}], "max_prompt_tokens": 0}]}`), completion.Parameters{})
	assert.Error(t, err)
}

func TestTruncatePromptResponseShape(t *testing.T) {
	body, err := json.Marshal(TruncatePromptResponse{Outputs: []TruncatePromptOutput{
		TruncatePromptSuccess(nil),
		TruncatePromptSuccess([]int{0, 1}),
		TruncatePromptError("cannot fit"),
	}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"outputs": [
		{"status": "success", "discarded_messages": []},
		{"status": "success", "discarded_messages": [0, 1]},
		{"status": "error", "error": "cannot fit"}
	]}`, string(body))
}

func TestParseRateRequest(t *testing.T) {
	req, err := ParseRateRequest([]byte(`{"responseId": "chatcmpl-1", "rate": true}`), completion.Parameters{DeploymentID: "echo"})
	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-1", req.ResponseID)
	assert.True(t, req.Rate)
	assert.Equal(t, "echo", req.DeploymentID)

	req, err = ParseRateRequest(nil, completion.Parameters{})
	require.NoError(t, err)
	assert.False(t, req.Rate)
}
