package completion

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/namikmesic/chatkit/apierror"
	"github.com/namikmesic/chatkit/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// drain pops everything queued on r without a consumer.
func drain(r *Response) []chunk.Chunk {
	var out []chunk.Chunk
	for {
		item, ok := r.queue.pop()
		if !ok {
			return out
		}
		r.queue.done()
		out = append(out, item.(chunk.Chunk))
	}
}

func openChoice(t *testing.T) (*Response, *Choice) {
	t.Helper()
	r := NewResponse(newRequest(false, 1))
	c, err := r.CreateChoice()
	require.NoError(t, err)
	require.NoError(t, c.Open())
	return r, c
}

func TestChoiceLifecycle(t *testing.T) {
	r := NewResponse(newRequest(false, 1))
	c, err := r.CreateChoice()
	require.NoError(t, err)

	assert.ErrorIs(t, c.AppendContent("early"), apierror.ErrContractViolation)
	assert.ErrorIs(t, c.Close(), apierror.ErrContractViolation)
	assert.False(t, c.Opened())

	require.NoError(t, c.Open())
	assert.ErrorIs(t, c.Open(), apierror.ErrContractViolation)
	require.NoError(t, c.AppendContent("hi"))
	require.NoError(t, c.Close())
	assert.True(t, c.Closed())

	assert.ErrorIs(t, c.Close(), apierror.ErrContractViolation)
	assert.ErrorIs(t, c.AppendContent("late"), apierror.ErrContractViolation)

	assert.Equal(t, []chunk.Chunk{
		chunk.StartChoice{ChoiceIndex: 0},
		chunk.Content{ChoiceIndex: 0, Content: "hi"},
		chunk.EndChoice{ChoiceIndex: 0, FinishReason: chunk.FinishReasonStop},
	}, drain(r))
}

func TestViolationIsOpaque(t *testing.T) {
	r := NewResponse(newRequest(false, 1))
	c, err := r.CreateChoice()
	require.NoError(t, err)

	err = c.AppendContent("early")
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierror.RuntimeErrorMessage, apiErr.Message)
	assert.Contains(t, errors.Unwrap(err).Error(), "unopened choice")
}

func TestSetStateOnce(t *testing.T) {
	r, c := openChoice(t)
	require.NoError(t, c.SetState(map[string]any{"step": 1}))
	assert.ErrorIs(t, c.SetState(map[string]any{"step": 2}), apierror.ErrContractViolation)

	got := drain(r)
	require.Len(t, got, 2)
	assert.Equal(t, chunk.State{ChoiceIndex: 0, State: map[string]any{"step": 1}}, got[1])
}

func TestAttachmentsAreNumbered(t *testing.T) {
	r, c := openChoice(t)
	require.NoError(t, c.AddAttachment(chunk.AttachmentPayload{Title: "a", URL: "https://a"}))
	require.NoError(t, c.AddAttachment(chunk.AttachmentPayload{Title: "b", Data: "b"}))
	assert.ErrorIs(t, c.AddAttachment(chunk.AttachmentPayload{Title: "empty"}), apierror.ErrContractViolation)

	got := drain(r)
	require.Len(t, got, 3)
	assert.Equal(t, 1, got[2].(chunk.Attachment).AttachmentIndex)
}

func TestContentAndCallsAreExclusive(t *testing.T) {
	_, c := openChoice(t)
	require.NoError(t, c.AppendContent("text"))
	_, err := c.CreateFunctionToolCall("call_1", "f", "{}")
	assert.ErrorIs(t, err, apierror.ErrContractViolation)
	_, err = c.CreateFunctionCall("f", "{}")
	assert.ErrorIs(t, err, apierror.ErrContractViolation)

	_, c = openChoice(t)
	_, err = c.CreateFunctionToolCall("call_1", "f", "{}")
	require.NoError(t, err)
	assert.ErrorIs(t, c.AppendContent("text"), apierror.ErrContractViolation)
	_, err = c.CreateFunctionCall("f", "{}")
	assert.ErrorIs(t, err, apierror.ErrContractViolation)

	_, c = openChoice(t)
	_, err = c.CreateFunctionCall("f", "{}")
	require.NoError(t, err)
	_, err = c.CreateFunctionCall("g", "{}")
	assert.ErrorIs(t, err, apierror.ErrContractViolation)
}

func TestFinishReason(t *testing.T) {
	tests := []struct {
		name    string
		emit    func(*Choice) error
		reason  *chunk.FinishReason
		want    chunk.FinishReason
		wantErr bool
	}{
		{
			name: "content implies stop",
			emit: func(c *Choice) error { return c.AppendContent("x") },
			want: chunk.FinishReasonStop,
		},
		{
			name: "tool call implied",
			emit: func(c *Choice) error {
				_, err := c.CreateFunctionToolCall("id", "f", "")
				return err
			},
			want: chunk.FinishReasonToolCalls,
		},
		{
			name: "function call implied",
			emit: func(c *Choice) error {
				_, err := c.CreateFunctionCall("f", "")
				return err
			},
			want: chunk.FinishReasonFunctionCall,
		},
		{
			name:   "length overrides stop",
			emit:   func(c *Choice) error { return c.AppendContent("x") },
			reason: ptr(chunk.FinishReasonLength),
			want:   chunk.FinishReasonLength,
		},
		{
			name:   "content filter overrides stop",
			emit:   func(*Choice) error { return nil },
			reason: ptr(chunk.FinishReasonContentFilter),
			want:   chunk.FinishReasonContentFilter,
		},
		{
			name: "stop conflicts with tool calls",
			emit: func(c *Choice) error {
				_, err := c.CreateFunctionToolCall("id", "f", "")
				return err
			},
			reason:  ptr(chunk.FinishReasonStop),
			wantErr: true,
		},
		{
			name:    "tool calls without any call",
			emit:    func(c *Choice) error { return c.AppendContent("x") },
			reason:  ptr(chunk.FinishReasonToolCalls),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, c := openChoice(t)
			require.NoError(t, tt.emit(c))

			var err error
			if tt.reason != nil {
				err = c.CloseWithReason(*tt.reason)
			} else {
				err = c.Close()
			}
			if tt.wantErr {
				assert.ErrorIs(t, err, apierror.ErrContractViolation)
				assert.False(t, c.Closed())
				return
			}
			require.NoError(t, err)

			got := drain(r)
			assert.Equal(t, chunk.EndChoice{ChoiceIndex: 0, FinishReason: tt.want}, got[len(got)-1])
		})
	}
}

func ptr[T any](v T) *T {
	return &v
}

func TestCloseWithOpenStage(t *testing.T) {
	_, c := openChoice(t)
	s, err := c.CreateStage("Search")
	require.NoError(t, err)
	require.NoError(t, s.Open())

	assert.ErrorIs(t, c.Close(), apierror.ErrContractViolation)
	require.NoError(t, s.Close())
	require.NoError(t, c.Close())
}

func TestStageLifecycle(t *testing.T) {
	r, c := openChoice(t)
	s, err := c.CreateStage("Search")
	require.NoError(t, err)

	assert.ErrorIs(t, s.AppendContent("early"), apierror.ErrContractViolation)
	assert.ErrorIs(t, s.Close(), apierror.ErrContractViolation)

	require.NoError(t, s.Open())
	assert.ErrorIs(t, s.Open(), apierror.ErrContractViolation)
	require.NoError(t, s.AppendName(" web"))
	_, err = s.Write([]byte("found"))
	require.NoError(t, err)
	require.NoError(t, s.AddAttachment(chunk.AttachmentPayload{URL: "https://example.com"}))
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Close(), apierror.ErrContractViolation)
	assert.ErrorIs(t, s.AppendContent("late"), apierror.ErrContractViolation)

	second, err := c.CreateStage("Answer")
	require.NoError(t, err)
	assert.Equal(t, 1, second.Index())

	assert.Equal(t, []chunk.Chunk{
		chunk.StartChoice{ChoiceIndex: 0},
		chunk.StartStage{ChoiceIndex: 0, StageIndex: 0, Name: "Search"},
		chunk.StageName{ChoiceIndex: 0, StageIndex: 0, Name: " web"},
		chunk.StageContent{ChoiceIndex: 0, StageIndex: 0, Content: "found"},
		chunk.StageAttachment{
			ChoiceIndex: 0,
			StageIndex:  0,
			Attachment:  chunk.AttachmentPayload{URL: "https://example.com"},
		},
		chunk.FinishStage{ChoiceIndex: 0, StageIndex: 0, Status: chunk.StatusCompleted},
	}, drain(r))
}

func TestStageOnClosedChoice(t *testing.T) {
	_, c := openChoice(t)
	s, err := c.CreateStage("late")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	assert.ErrorIs(t, s.Open(), apierror.ErrContractViolation)
	_, err = c.CreateStage("later")
	assert.ErrorIs(t, err, apierror.ErrContractViolation)
}

func TestWithStage(t *testing.T) {
	r, c := openChoice(t)
	boom := errors.New("boom")

	err := c.WithStage("fails", func(s *Stage) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, c.WithStage("works", func(s *Stage) error {
		return s.AppendContent("ok")
	}))

	got := drain(r)
	assert.Contains(t, got, chunk.FinishStage{ChoiceIndex: 0, StageIndex: 0, Status: chunk.StatusFailed})
	assert.Contains(t, got, chunk.FinishStage{ChoiceIndex: 0, StageIndex: 1, Status: chunk.StatusCompleted})
	require.NoError(t, c.Close())
}

func TestToolCallsMergeIntoMessage(t *testing.T) {
	ctx := context.Background()
	resp := NewResponse(newRequest(false, 1))
	require.NoError(t, resp.Start(ctx, func(context.Context, *Request, *Response) error {
		return resp.WithSingleChoice(func(c *Choice) error {
			weather, err := c.CreateFunctionToolCall("call_1", "get_weather", `{"ci`)
			if err != nil {
				return err
			}
			if _, err := c.CreateFunctionToolCall("call_2", "get_time", `{}`); err != nil {
				return err
			}
			return weather.AppendArguments(`ty":"Paris"}`)
		})
	}))

	block, err := resp.Block(ctx)
	require.NoError(t, err)
	body, err := json.Marshal(block)
	require.NoError(t, err)

	assert.Equal(t, "tool_calls", gjson.GetBytes(body, "choices.0.finish_reason").String())
	assert.JSONEq(t, `{
		"role": "assistant",
		"content": null,
		"tool_calls": [
			{"id": "call_1", "type": "function", "function": {"name": "get_weather", "arguments": "{\"city\":\"Paris\"}"}},
			{"id": "call_2", "type": "function", "function": {"name": "get_time", "arguments": "{}"}}
		]
	}`, gjson.GetBytes(body, "choices.0.message").Raw)
}

func TestToolCallWithoutIDKeepsType(t *testing.T) {
	r, c := openChoice(t)
	w, err := c.CreateFunctionToolCall("", "lookup", `{"q":`)
	require.NoError(t, err)
	require.NoError(t, w.AppendArguments(`"go"}`))

	got := drain(r)
	require.Len(t, got, 3)
	head, err := json.Marshal(got[1].Dict())
	require.NoError(t, err)
	tail, err := json.Marshal(got[2].Dict())
	require.NoError(t, err)
	assert.Equal(t, "function", gjson.GetBytes(head, "choices.0.delta.tool_calls.0.type").String())
	assert.False(t, gjson.GetBytes(head, "choices.0.delta.tool_calls.0.id").Exists())
	assert.False(t, gjson.GetBytes(tail, "choices.0.delta.tool_calls.0.type").Exists())
	require.NoError(t, c.Close())
}

func TestFunctionCallMergesIntoMessage(t *testing.T) {
	ctx := context.Background()
	resp := NewResponse(newRequest(false, 1))
	require.NoError(t, resp.Start(ctx, func(context.Context, *Request, *Response) error {
		return resp.WithSingleChoice(func(c *Choice) error {
			call, err := c.CreateFunctionCall("lookup", `{"q":`)
			if err != nil {
				return err
			}
			return call.AppendArguments(`"go"}`)
		})
	}))

	block, err := resp.Block(ctx)
	require.NoError(t, err)
	body, err := json.Marshal(block)
	require.NoError(t, err)

	assert.Equal(t, "function_call", gjson.GetBytes(body, "choices.0.finish_reason").String())
	assert.Equal(t, "lookup", gjson.GetBytes(body, "choices.0.message.function_call.name").String())
	assert.Equal(t, `{"q":"go"}`, gjson.GetBytes(body, "choices.0.message.function_call.arguments").String())
}

func TestWithSingleChoiceLeavesFailedChoiceOpen(t *testing.T) {
	r := NewResponse(newRequest(false, 1))
	boom := errors.New("boom")

	err := r.WithSingleChoice(func(c *Choice) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []chunk.Chunk{chunk.StartChoice{ChoiceIndex: 0}}, drain(r))
}
