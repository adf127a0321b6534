// Package deployment holds the request and response models of the
// auxiliary deployment endpoints: tokenize, truncate_prompt and rate.
package deployment

import (
	"errors"

	"github.com/goccy/go-json"
	"github.com/namikmesic/chatkit/completion"
)

const (
	InputTypeRequest = "request"
	InputTypeString  = "string"

	StatusSuccess = "success"
	StatusError   = "error"
)

var ErrUnknownInputType = errors.New("unknown tokenize input type")

// TokenizeInput is either a whole chat request or a bare string.
type TokenizeInput struct {
	Type    string                            `json:"type" validate:"oneof=request string"`
	Request *completion.ChatCompletionRequest `json:"-" validate:"required_if=Type request"`
	String  string                            `json:"-"`
}

func RequestInput(req completion.ChatCompletionRequest) TokenizeInput {
	return TokenizeInput{Type: InputTypeRequest, Request: &req}
}

func StringInput(s string) TokenizeInput {
	return TokenizeInput{Type: InputTypeString, String: s}
}

type rawInput struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

func (in *TokenizeInput) UnmarshalJSON(data []byte) error {
	var raw rawInput
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Type == "" {
		raw.Type = InputTypeRequest
	}

	*in = TokenizeInput{Type: raw.Type}
	switch raw.Type {
	case InputTypeRequest:
		var req completion.ChatCompletionRequest
		if err := json.Unmarshal(raw.Value, &req); err != nil {
			return err
		}
		in.Request = &req
	case InputTypeString:
		return json.Unmarshal(raw.Value, &in.String)
	default:
		return ErrUnknownInputType
	}
	return nil
}

func (in TokenizeInput) MarshalJSON() ([]byte, error) {
	if in.Type == InputTypeString {
		return json.Marshal(map[string]any{"type": in.Type, "value": in.String})
	}
	return json.Marshal(map[string]any{"type": InputTypeRequest, "value": in.Request})
}

type TokenizeRequest struct {
	Inputs []TokenizeInput `json:"inputs" validate:"required,dive"`
	completion.Parameters
}

// TokenizeOutput is the result for one input; Error is set on failure.
type TokenizeOutput struct {
	Status     string `json:"status"`
	TokenCount int    `json:"token_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

func TokenizeSuccess(count int) TokenizeOutput {
	return TokenizeOutput{Status: StatusSuccess, TokenCount: count}
}

func TokenizeError(msg string) TokenizeOutput {
	return TokenizeOutput{Status: StatusError, Error: msg}
}

func (o TokenizeOutput) MarshalJSON() ([]byte, error) {
	if o.Status == StatusError {
		return json.Marshal(map[string]any{"status": StatusError, "error": o.Error})
	}
	return json.Marshal(map[string]any{"status": StatusSuccess, "token_count": o.TokenCount})
}

type TokenizeResponse struct {
	Outputs []TokenizeOutput `json:"outputs"`
}

type TruncatePromptRequest struct {
	Inputs []completion.ChatCompletionRequest `json:"inputs" validate:"required,dive"`
	completion.Parameters
}

type TruncatePromptOutput struct {
	Status            string `json:"status"`
	DiscardedMessages []int  `json:"discarded_messages,omitempty"`
	Error             string `json:"error,omitempty"`
}

func TruncatePromptSuccess(discarded []int) TruncatePromptOutput {
	if discarded == nil {
		discarded = []int{}
	}
	return TruncatePromptOutput{Status: StatusSuccess, DiscardedMessages: discarded}
}

func TruncatePromptError(msg string) TruncatePromptOutput {
	return TruncatePromptOutput{Status: StatusError, Error: msg}
}

func (o TruncatePromptOutput) MarshalJSON() ([]byte, error) {
	if o.Status == StatusError {
		return json.Marshal(map[string]any{"status": StatusError, "error": o.Error})
	}
	discarded := o.DiscardedMessages
	if discarded == nil {
		discarded = []int{}
	}
	return json.Marshal(map[string]any{"status": StatusSuccess, "discarded_messages": discarded})
}

type TruncatePromptResponse struct {
	Outputs []TruncatePromptOutput `json:"outputs"`
}

// RateRequest carries a user's thumbs up or down for an earlier response.
type RateRequest struct {
	ResponseID string `json:"responseId"`
	Rate       bool   `json:"rate"`
	completion.Parameters
}

// ParseTokenizeRequest decodes and validates a tokenize body.
func ParseTokenizeRequest(body []byte, params completion.Parameters) (*TokenizeRequest, error) {
	req := &TokenizeRequest{Parameters: params}
	if err := completion.Decode(body, req); err != nil {
		return nil, err
	}
	if err := completion.Validate(req); err != nil {
		return nil, err
	}
	return req, nil
}

// ParseTruncatePromptRequest decodes and validates a truncate_prompt body.
func ParseTruncatePromptRequest(body []byte, params completion.Parameters) (*TruncatePromptRequest, error) {
	req := &TruncatePromptRequest{Parameters: params}
	if err := completion.Decode(body, req); err != nil {
		return nil, err
	}
	if err := completion.Validate(req); err != nil {
		return nil, err
	}
	return req, nil
}

// ParseRateRequest decodes a rate body. An empty body rates nothing.
func ParseRateRequest(body []byte, params completion.Parameters) (*RateRequest, error) {
	req := &RateRequest{Parameters: params}
	if len(body) == 0 {
		return req, nil
	}
	if err := completion.Decode(body, req); err != nil {
		return nil, err
	}
	return req, nil
}
