// Package chunk defines the events a chat completion response is built from.
//
// Every chunk renders to a partial response document. Folding the documents
// of a response with merge.Merge yields the complete response.
package chunk

import (
	"errors"

	"github.com/namikmesic/chatkit/merge"
)

type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonFunctionCall  FinishReason = "function_call"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonContentFilter FinishReason = "content_filter"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var (
	ErrAttachmentNoData   = errors.New("trying to add attachment without data and url")
	ErrAttachmentBothData = errors.New("trying to add attachment with data and url")
)

// Chunk is one event of a response. The set of implementations is closed.
type Chunk interface {
	// Dict renders the chunk as a freshly allocated partial document.
	Dict() map[string]any
	chunk()
}

func choiceDict(choiceIndex int, finishReason any, delta map[string]any) map[string]any {
	return map[string]any{
		"choices": []any{
			map[string]any{
				"index":         choiceIndex,
				"finish_reason": finishReason,
				"delta":         delta,
			},
		},
		"usage": nil,
	}
}

func stageDict(choiceIndex, stageIndex int, stage map[string]any) map[string]any {
	stage["index"] = stageIndex
	return choiceDict(choiceIndex, nil, map[string]any{
		"custom_content": map[string]any{
			"stages": []any{stage},
		},
	})
}

type StartChoice struct {
	ChoiceIndex int
}

func (c StartChoice) Dict() map[string]any {
	return choiceDict(c.ChoiceIndex, nil, map[string]any{"role": "assistant"})
}

type EndChoice struct {
	ChoiceIndex  int
	FinishReason FinishReason
}

func (c EndChoice) Dict() map[string]any {
	return choiceDict(c.ChoiceIndex, string(c.FinishReason), map[string]any{})
}

type Content struct {
	ChoiceIndex int
	Content     string
}

func (c Content) Dict() map[string]any {
	return choiceDict(c.ChoiceIndex, nil, map[string]any{"content": c.Content})
}

// ToolCall is a fragment of a function tool call. Empty fields are omitted,
// so later fragments usually carry only arguments. Build the opening
// fragment with OpenToolCall.
type ToolCall struct {
	ChoiceIndex int
	CallIndex   int
	ID          string
	Name        string
	Arguments   string

	first bool
}

// OpenToolCall returns the fragment that starts a tool call. It alone names
// the call type, so merged fragments keep a single "function".
func OpenToolCall(choiceIndex, callIndex int, id, name, arguments string) ToolCall {
	return ToolCall{
		ChoiceIndex: choiceIndex,
		CallIndex:   callIndex,
		ID:          id,
		Name:        name,
		Arguments:   arguments,
		first:       true,
	}
}

func (c ToolCall) Dict() map[string]any {
	call := map[string]any{
		"index":    c.CallIndex,
		"function": functionDict(c.Name, c.Arguments),
	}
	if c.ID != "" {
		call["id"] = c.ID
	}
	if c.first {
		call["type"] = "function"
	}
	return toolDict(c.ChoiceIndex, map[string]any{
		"content":    nil,
		"tool_calls": []any{call},
	})
}

// FunctionCall is a fragment of a legacy function call.
type FunctionCall struct {
	ChoiceIndex int
	Name        string
	Arguments   string
}

func (c FunctionCall) Dict() map[string]any {
	return toolDict(c.ChoiceIndex, map[string]any{
		"content":       nil,
		"function_call": functionDict(c.Name, c.Arguments),
	})
}

func functionDict(name, arguments string) map[string]any {
	fn := map[string]any{}
	if name != "" {
		fn["name"] = name
	}
	if arguments != "" {
		fn["arguments"] = arguments
	}
	return fn
}

// tool and function call deltas carry no finish_reason key.
func toolDict(choiceIndex int, delta map[string]any) map[string]any {
	return map[string]any{
		"choices": []any{
			map[string]any{
				"index": choiceIndex,
				"delta": delta,
			},
		},
		"usage": nil,
	}
}

type StartStage struct {
	ChoiceIndex int
	StageIndex  int
	Name        string
}

func (c StartStage) Dict() map[string]any {
	stage := map[string]any{"status": nil}
	if c.Name != "" {
		stage["name"] = c.Name
	}
	return stageDict(c.ChoiceIndex, c.StageIndex, stage)
}

type StageContent struct {
	ChoiceIndex int
	StageIndex  int
	Content     string
}

func (c StageContent) Dict() map[string]any {
	return stageDict(c.ChoiceIndex, c.StageIndex, map[string]any{
		"content": c.Content,
		"status":  nil,
	})
}

type StageName struct {
	ChoiceIndex int
	StageIndex  int
	Name        string
}

func (c StageName) Dict() map[string]any {
	return stageDict(c.ChoiceIndex, c.StageIndex, map[string]any{
		"name":   c.Name,
		"status": nil,
	})
}

type StageAttachment struct {
	ChoiceIndex     int
	StageIndex      int
	AttachmentIndex int
	Attachment      AttachmentPayload
}

func (c StageAttachment) Dict() map[string]any {
	return stageDict(c.ChoiceIndex, c.StageIndex, map[string]any{
		"attachments": []any{c.Attachment.dict(c.AttachmentIndex)},
		"status":      nil,
	})
}

type FinishStage struct {
	ChoiceIndex int
	StageIndex  int
	Status      Status
}

func (c FinishStage) Dict() map[string]any {
	return stageDict(c.ChoiceIndex, c.StageIndex, map[string]any{
		"status": string(c.Status),
	})
}

// AttachmentPayload describes a file or link attached to a choice or stage.
// Exactly one of Data and URL must be set.
type AttachmentPayload struct {
	Type          string `json:"type,omitempty"`
	Title         string `json:"title,omitempty"`
	Data          string `json:"data,omitempty"`
	URL           string `json:"url,omitempty"`
	ReferenceURL  string `json:"reference_url,omitempty"`
	ReferenceType string `json:"reference_type,omitempty"`
}

func (a AttachmentPayload) Validate() error {
	switch {
	case a.Data == "" && a.URL == "":
		return ErrAttachmentNoData
	case a.Data != "" && a.URL != "":
		return ErrAttachmentBothData
	}
	return nil
}

func (a AttachmentPayload) dict(index int) map[string]any {
	d := map[string]any{"index": index}
	for key, value := range map[string]string{
		"type":           a.Type,
		"title":          a.Title,
		"data":           a.Data,
		"url":            a.URL,
		"reference_url":  a.ReferenceURL,
		"reference_type": a.ReferenceType,
	} {
		if value != "" {
			d[key] = value
		}
	}
	return d
}

type Attachment struct {
	ChoiceIndex     int
	AttachmentIndex int
	Attachment      AttachmentPayload
}

func (c Attachment) Dict() map[string]any {
	return choiceDict(c.ChoiceIndex, nil, map[string]any{
		"custom_content": map[string]any{
			"attachments": []any{c.Attachment.dict(c.AttachmentIndex)},
		},
	})
}

// State carries an opaque value the client returns with the next request.
type State struct {
	ChoiceIndex int
	State       any
}

func (c State) Dict() map[string]any {
	return choiceDict(c.ChoiceIndex, nil, map[string]any{
		"custom_content": map[string]any{"state": merge.Copy(c.State)},
	})
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

func (c Usage) Dict() map[string]any {
	return map[string]any{
		"usage": map[string]any{
			"prompt_tokens":     c.PromptTokens,
			"completion_tokens": c.CompletionTokens,
			"total_tokens":      c.PromptTokens + c.CompletionTokens,
		},
	}
}

type UsagePerModel struct {
	Index            int
	Model            string
	PromptTokens     int
	CompletionTokens int
}

func (c UsagePerModel) Dict() map[string]any {
	return map[string]any{
		"statistics": map[string]any{
			"usage_per_model": []any{
				map[string]any{
					"index":             c.Index,
					"model":             c.Model,
					"prompt_tokens":     c.PromptTokens,
					"completion_tokens": c.CompletionTokens,
					"total_tokens":      c.PromptTokens + c.CompletionTokens,
				},
			},
		},
	}
}

// DiscardedMessages lists the request messages dropped to fit the prompt.
type DiscardedMessages struct {
	Indices []int
}

func (c DiscardedMessages) Dict() map[string]any {
	indices := make([]any, len(c.Indices))
	for i, idx := range c.Indices {
		indices[i] = idx
	}
	return map[string]any{
		"statistics": map[string]any{
			"discarded_messages": indices,
		},
	}
}

// Arbitrary passes a prepared document through unchanged.
type Arbitrary struct {
	Data map[string]any
}

func (c Arbitrary) Dict() map[string]any {
	if c.Data == nil {
		return map[string]any{}
	}
	return merge.Copy(c.Data).(map[string]any)
}

func (StartChoice) chunk()       {}
func (EndChoice) chunk()         {}
func (Content) chunk()           {}
func (ToolCall) chunk()          {}
func (FunctionCall) chunk()      {}
func (StartStage) chunk()        {}
func (StageContent) chunk()      {}
func (StageName) chunk()         {}
func (StageAttachment) chunk()   {}
func (FinishStage) chunk()       {}
func (Attachment) chunk()        {}
func (State) chunk()             {}
func (Usage) chunk()             {}
func (UsagePerModel) chunk()     {}
func (DiscardedMessages) chunk() {}
func (Arbitrary) chunk()         {}
