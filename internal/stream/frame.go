package stream

import (
	"github.com/tidwall/gjson"
)

// Kind classifies the payload of a data frame.
type Kind string

const (
	KindChunk Kind = "chunk"
	KindError Kind = "error"
	KindDone  Kind = "done"
)

const doneMarker = "[DONE]"

// Frame is a single parsed SSE data frame.
type Frame struct {
	Index int    // ordinal within this exchange's stream
	Kind  Kind   // chunk, error or done
	Event string // value of the event: field, usually empty
	Data  string // raw payload of the data: line
	Bytes int    // byte length of the data line
}

// kindOf probes the payload without decoding it.
func kindOf(data string) Kind {
	if data == doneMarker {
		return KindDone
	}
	if gjson.Get(data, "error").Exists() {
		return KindError
	}
	return KindChunk
}
