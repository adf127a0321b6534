package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/namikmesic/chatkit/internal/stream"
)

var frameColumns = []string{"ts", "exchange_id", "frame_index", "kind", "data_json", "raw_bytes"}

// InsertFramesJob creates a batch insert job for SSE frames using COPY protocol.
func InsertFramesJob(exchangeID uuid.UUID, ts time.Time, frames []stream.Frame) WriteJob {
	return WriteJobFunc(func(ctx context.Context, db DB) error {
		rows := make([][]any, len(frames))
		for i, f := range frames {
			rows[i] = []any{
				ts,
				exchangeID,
				f.Index,
				string(f.Kind),
				nilIfEmpty(f.Data),
				f.Bytes,
			}
		}

		_, err := db.CopyFrom(ctx,
			pgx.Identifier{"sse_frames"},
			frameColumns,
			pgx.CopyFromRows(rows),
		)
		return err
	})
}
