package completion

import (
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/namikmesic/chatkit/chunk"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
	RoleTool      Role = "tool"
)

// Attachment is a file or link sent with a message.
type Attachment = chunk.AttachmentPayload

type MessageStage struct {
	Name        string       `json:"name" validate:"required"`
	Status      chunk.Status `json:"status" validate:"required,oneof=completed failed"`
	Content     string       `json:"content,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type CustomContent struct {
	Stages      []MessageStage `json:"stages,omitempty" validate:"omitempty,dive"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	State       any            `json:"state,omitempty"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id" validate:"required"`
	Type     string       `json:"type" validate:"eq=function"`
	Function FunctionCall `json:"function"`
}

type ImageURL struct {
	URL    string `json:"url" validate:"required"`
	Detail string `json:"detail,omitempty" validate:"omitempty,oneof=auto low high"`
}

type ContentPart struct {
	Type     string    `json:"type" validate:"oneof=text image_url"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty" validate:"required_if=Type image_url"`
}

// MessageContent is either a plain string or a list of content parts.
type MessageContent struct {
	Text  string
	Parts []ContentPart `validate:"omitempty,dive"`
}

func TextContent(s string) *MessageContent {
	return &MessageContent{Text: s}
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		c.Parts = nil
		return json.Unmarshal(data, &c.Text)
	}
	c.Text = ""
	return json.Unmarshal(data, &c.Parts)
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// String returns the text of the content, joining text parts.
func (c *MessageContent) String() string {
	if c == nil {
		return ""
	}
	if c.Parts == nil {
		return c.Text
	}
	var b strings.Builder
	for _, p := range c.Parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

type Message struct {
	Role          Role            `json:"role" validate:"required,oneof=system user assistant function tool"`
	Content       *MessageContent `json:"content,omitempty"`
	CustomContent *CustomContent  `json:"custom_content,omitempty"`
	Name          string          `json:"name,omitempty"`
	ToolCalls     []ToolCall      `json:"tool_calls,omitempty" validate:"omitempty,dive"`
	ToolCallID    string          `json:"tool_call_id,omitempty"`
	FunctionCall  *FunctionCall   `json:"function_call,omitempty"`
}

type Addon struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

type Function struct {
	Name        string         `json:"name" validate:"required"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type Tool struct {
	Type     string   `json:"type" validate:"eq=function"`
	Function Function `json:"function"`
}

type ResponseFormat struct {
	Type string `json:"type" validate:"oneof=text json_object"`
}

type CustomFields struct {
	Configuration map[string]any `json:"configuration,omitempty"`
}

// Stop holds stop sequences; a single string is accepted on input.
type Stop []string

func (s *Stop) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var one string
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*s = Stop{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ChatCompletionRequest is the body of a chat completion call.
type ChatCompletionRequest struct {
	Model            string             `json:"model,omitempty"`
	Messages         []Message          `json:"messages" validate:"required,dive"`
	Functions        []Function         `json:"functions,omitempty" validate:"omitempty,dive"`
	FunctionCall     any                `json:"function_call,omitempty"`
	Tools            []Tool             `json:"tools,omitempty" validate:"omitempty,dive"`
	ToolChoice       any                `json:"tool_choice,omitempty"`
	Stream           bool               `json:"stream,omitempty"`
	Temperature      *float64           `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TopP             *float64           `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	N                *int               `json:"n,omitempty" validate:"omitempty,gte=1,lte=128"`
	Stop             Stop               `json:"stop,omitempty" validate:"omitempty,max=4"`
	MaxTokens        *int               `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	PresencePenalty  *float64           `json:"presence_penalty,omitempty" validate:"omitempty,gte=-2,lte=2"`
	FrequencyPenalty *float64           `json:"frequency_penalty,omitempty" validate:"omitempty,gte=-2,lte=2"`
	LogitBias        map[string]float64 `json:"logit_bias,omitempty"`
	User             string             `json:"user,omitempty"`
	Seed             *int               `json:"seed,omitempty"`
	Logprobs         *bool              `json:"logprobs,omitempty"`
	TopLogprobs      *int               `json:"top_logprobs,omitempty"`
	ResponseFormat   *ResponseFormat    `json:"response_format,omitempty"`
	Addons           []Addon            `json:"addons,omitempty"`
	MaxPromptTokens  *int               `json:"max_prompt_tokens,omitempty" validate:"omitempty,gt=0"`
	CustomFields     *CustomFields      `json:"custom_fields,omitempty"`
}

// Choices returns the requested number of choices, defaulting to one.
func (r *ChatCompletionRequest) Choices() int {
	if r.N == nil {
		return 1
	}
	return *r.N
}

// Parameters are the transport-level attributes of a deployment call.
type Parameters struct {
	APIKey       string      `json:"-"`
	JWT          string      `json:"-"`
	DeploymentID string      `json:"-"`
	APIVersion   string      `json:"-"`
	Headers      http.Header `json:"-"`
}

// Request is a chat completion call addressed to a deployment.
type Request struct {
	ChatCompletionRequest
	Parameters
}

// ParseRequest decodes and validates a chat completion body.
func ParseRequest(body []byte, params Parameters) (*Request, error) {
	req := &Request{Parameters: params}
	if err := Decode(body, &req.ChatCompletionRequest); err != nil {
		return nil, err
	}
	if err := Validate(req); err != nil {
		return nil, err
	}
	return req, nil
}
