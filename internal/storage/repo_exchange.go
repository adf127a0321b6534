package storage

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type ExchangeRecord struct {
	ID               uuid.UUID
	Timestamp        time.Time
	DeploymentID     string
	Endpoint         string
	StatusCode       int
	Success          bool
	IsStream         bool
	DurationMs       int64
	FrameCount       int
	ResponseID       string
	Model            string
	FinishReasons    []string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	ErrorMessage     string
	RequestHeaders   map[string][]string
	RequestBody      []byte
	// ResponseBody is the block response, or the assembled one for streams.
	ResponseBody []byte
}

func InsertExchangeJob(r *ExchangeRecord) WriteJob {
	return WriteJobFunc(func(ctx context.Context, db DB) error {
		var headers []byte
		if len(r.RequestHeaders) > 0 {
			h, err := json.Marshal(r.RequestHeaders)
			if err != nil {
				return err
			}
			headers = h
		}
		_, err := db.Exec(ctx, `
			INSERT INTO exchanges (
				id, ts, deployment_id, endpoint, status_code, success, is_stream,
				duration_ms, frame_count, response_id, model, finish_reasons,
				prompt_tokens, completion_tokens, total_tokens, error_message,
				request_headers, request_body, response_body
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
			ON CONFLICT (id, ts) DO NOTHING`,
			r.ID, r.Timestamp, r.DeploymentID, r.Endpoint, r.StatusCode, r.Success, r.IsStream,
			r.DurationMs, r.FrameCount, nilIfEmpty(r.ResponseID), nilIfEmpty(r.Model), r.FinishReasons,
			r.PromptTokens, r.CompletionTokens, r.TotalTokens, nilIfEmpty(r.ErrorMessage),
			headers, nilIfEmptyBytes(r.RequestBody), jsonOrNil(r.ResponseBody),
		)
		return err
	})
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nilIfEmptyBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

// jsonOrNil keeps the JSONB column NULL for bodies that are not JSON.
func jsonOrNil(b []byte) []byte {
	if len(b) == 0 || !json.Valid(b) {
		return nil
	}
	return b
}
