// Package echo is a deployment that replies with the content and
// attachments of the last user message.
// It approximates tokens as whitespace separated words.
package echo

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/namikmesic/chatkit/apierror"
	"github.com/namikmesic/chatkit/completion"
	"github.com/namikmesic/chatkit/deployment"
	"github.com/namikmesic/chatkit/server"
	"github.com/rs/zerolog"
)

const (
	DeploymentID = "echo"
	Model        = "echo-1"
)

// Deployment returns the echo endpoints ready to be registered.
func Deployment() server.Deployment {
	return server.Deployment{
		ChatCompletion: ChatCompletion,
		Tokenize:       Tokenize,
		TruncatePrompt: TruncatePrompt,
		Rate:           Rate,
	}
}

func ChatCompletion(ctx context.Context, req *completion.Request, resp *completion.Response) error {
	discarded, err := truncate(req.ChatCompletionRequest)
	if err != nil {
		return err
	}
	if err := resp.SetModel(Model); err != nil {
		return err
	}

	kept := make([]completion.Message, 0, len(req.Messages))
	for i, m := range req.Messages {
		if !slices.Contains(discarded, i) {
			kept = append(kept, m)
		}
	}
	last := lastUserMessage(kept)
	var words []string
	if last != nil && last.Content != nil {
		words = strings.SplitAfter(last.Content.String(), " ")
	}

	completionTokens := 0
	for range req.Choices() {
		choice, err := resp.CreateChoice()
		if err != nil {
			return err
		}
		if err := choice.Open(); err != nil {
			return err
		}
		for _, w := range words {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if w == "" {
				continue
			}
			if err := choice.AppendContent(w); err != nil {
				return err
			}
			completionTokens++
		}
		if last != nil && last.CustomContent != nil {
			for _, a := range last.CustomContent.Attachments {
				if err := choice.AddAttachment(a); err != nil {
					return err
				}
			}
		}
		if err := choice.Close(); err != nil {
			return err
		}
	}

	if req.MaxPromptTokens != nil {
		if err := resp.SetDiscardedMessages(discarded); err != nil {
			return err
		}
	}
	return resp.SetUsage(promptTokens(kept), completionTokens)
}

func Tokenize(_ context.Context, req *deployment.TokenizeRequest) (*deployment.TokenizeResponse, error) {
	outputs := make([]deployment.TokenizeOutput, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		switch in.Type {
		case deployment.InputTypeString:
			outputs = append(outputs, deployment.TokenizeSuccess(len(strings.Fields(in.String))))
		case deployment.InputTypeRequest:
			if in.Request == nil {
				outputs = append(outputs, deployment.TokenizeError("missing request"))
				continue
			}
			outputs = append(outputs, deployment.TokenizeSuccess(promptTokens(in.Request.Messages)))
		default:
			outputs = append(outputs, deployment.TokenizeError(fmt.Sprintf("unsupported input type %q", in.Type)))
		}
	}
	return &deployment.TokenizeResponse{Outputs: outputs}, nil
}

func TruncatePrompt(_ context.Context, req *deployment.TruncatePromptRequest) (*deployment.TruncatePromptResponse, error) {
	outputs := make([]deployment.TruncatePromptOutput, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		discarded, err := truncate(in)
		if err != nil {
			outputs = append(outputs, deployment.TruncatePromptError(err.Error()))
			continue
		}
		outputs = append(outputs, deployment.TruncatePromptSuccess(discarded))
	}
	return &deployment.TruncatePromptResponse{Outputs: outputs}, nil
}

func Rate(ctx context.Context, req *deployment.RateRequest) error {
	zerolog.Ctx(ctx).Info().Str("deployment_id", req.DeploymentID).Str("response_id", req.ResponseID).Bool("rate", req.Rate).Msg("response rated")
	return nil
}

// truncate discards the oldest non-system messages until the prompt fits
// max_prompt_tokens. The last message is never discarded.
func truncate(req completion.ChatCompletionRequest) ([]int, error) {
	if req.MaxPromptTokens == nil {
		return nil, nil
	}
	limit := *req.MaxPromptTokens
	total := promptTokens(req.Messages)

	var discarded []int
	last := len(req.Messages) - 1
	for i, m := range req.Messages {
		if total <= limit {
			break
		}
		if m.Role == completion.RoleSystem || i == last {
			continue
		}
		total -= messageTokens(m)
		discarded = append(discarded, i)
	}

	if total > limit {
		return nil, apierror.CannotTruncatePrompt(fmt.Sprintf(
			"The requested maximum prompt tokens is %d. However, the system messages and the last user message resulted in %d tokens. Please reduce the length of the messages or increase the maximum prompt tokens.",
			limit, total))
	}
	return discarded, nil
}

// messageTokens counts one token for the role plus the content words.
func messageTokens(m completion.Message) int {
	n := 1
	if m.Content != nil {
		n += len(strings.Fields(m.Content.String()))
	}
	return n
}

func promptTokens(messages []completion.Message) int {
	total := 0
	for _, m := range messages {
		total += messageTokens(m)
	}
	return total
}

func lastUserMessage(messages []completion.Message) *completion.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == completion.RoleUser {
			return &messages[i]
		}
	}
	return nil
}
