package processor

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/namikmesic/chatkit/completion"
	"github.com/namikmesic/chatkit/internal/storage"
	"github.com/namikmesic/chatkit/internal/stream"
	"github.com/namikmesic/chatkit/server"
	"github.com/tidwall/gjson"
)

// Summarize builds the stored record of an exchange. Streamed chunks are
// folded into the block response a non-streaming client would have seen.
func Summarize(ex server.Exchange, frames []stream.Frame) (*storage.ExchangeRecord, error) {
	id, err := parseExchangeID(ex.ID)
	if err != nil {
		return nil, err
	}

	r := &storage.ExchangeRecord{
		ID:             id,
		Timestamp:      ex.Timestamp,
		DeploymentID:   ex.DeploymentID,
		Endpoint:       ex.Endpoint,
		StatusCode:     ex.StatusCode,
		IsStream:       ex.Stream,
		DurationMs:     ex.DurationMs,
		FrameCount:     ex.FrameCount,
		ErrorMessage:   ex.ErrorMessage,
		RequestHeaders: ex.RequestHeaders,
		RequestBody:    ex.RequestBody,
		ResponseBody:   ex.ResponseBody,
	}
	if len(frames) > 0 && r.FrameCount == 0 {
		r.FrameCount = len(frames)
	}

	if ex.Stream && ex.StatusCode < 400 {
		body, streamErr, err := assemble(frames)
		if err != nil {
			return nil, fmt.Errorf("assemble exchange %s: %w", ex.ID, err)
		}
		r.ResponseBody = body
		if streamErr != "" {
			r.ErrorMessage = streamErr
		}
	} else if r.ErrorMessage == "" && ex.StatusCode >= 400 {
		r.ErrorMessage = gjson.GetBytes(ex.ResponseBody, "error.message").String()
	}

	r.Success = ex.StatusCode < 400 && r.ErrorMessage == ""
	probe(r)
	return r, nil
}

// assemble folds chunk frames and returns the first error frame's message.
func assemble(frames []stream.Frame) ([]byte, string, error) {
	acc := completion.NewAccumulator()
	var chunks int
	var streamErr string
	for _, f := range frames {
		switch f.Kind {
		case stream.KindChunk:
			var c map[string]any
			if err := json.Unmarshal([]byte(f.Data), &c); err != nil {
				return nil, "", fmt.Errorf("frame %d: %w", f.Index, err)
			}
			if err := acc.Add(c); err != nil {
				return nil, "", fmt.Errorf("frame %d: %w", f.Index, err)
			}
			chunks++
		case stream.KindError:
			if streamErr == "" {
				streamErr = gjson.Get(f.Data, "error.message").String()
			}
		}
	}
	if chunks == 0 {
		return nil, streamErr, nil
	}
	body, err := json.Marshal(acc.BlockResponse())
	if err != nil {
		return nil, "", err
	}
	return body, streamErr, nil
}

func probe(r *storage.ExchangeRecord) {
	if len(r.ResponseBody) == 0 || !gjson.ValidBytes(r.ResponseBody) {
		return
	}
	res := gjson.GetManyBytes(r.ResponseBody,
		"id", "model",
		"usage.prompt_tokens", "usage.completion_tokens", "usage.total_tokens",
		"choices.#.finish_reason",
	)
	r.ResponseID = res[0].String()
	r.Model = res[1].String()
	r.PromptTokens = int(res[2].Int())
	r.CompletionTokens = int(res[3].Int())
	r.TotalTokens = int(res[4].Int())
	if r.TotalTokens == 0 {
		r.TotalTokens = r.PromptTokens + r.CompletionTokens
	}
	for _, reason := range res[5].Array() {
		if s := reason.String(); s != "" {
			r.FinishReasons = append(r.FinishReasons, s)
		}
	}
}
