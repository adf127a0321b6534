package completion

import (
	"github.com/namikmesic/chatkit/merge"
)

// atomicFields are replaced rather than merged, so the response id is not
// concatenated across chunks.
var atomicFields = []string{"id", "created", "model", "object", "system_fingerprint"}

// Accumulator folds streamed chunk documents into a block response.
type Accumulator struct {
	merged map[string]any
}

func NewAccumulator() *Accumulator {
	return &Accumulator{merged: map[string]any{}}
}

func (a *Accumulator) Add(c map[string]any) error {
	body := make(map[string]any, len(c))
	for k, v := range c {
		body[k] = v
	}
	for _, key := range atomicFields {
		if v, ok := body[key]; ok && v != nil {
			a.merged[key] = v
			delete(body, key)
		}
	}

	merged, err := merge.Dicts(a.merged, body)
	if err != nil {
		return err
	}
	a.merged = merged
	return nil
}

// Merged returns a copy of the chunks merged so far.
func (a *Accumulator) Merged() map[string]any {
	return merge.Copy(a.merged).(map[string]any)
}

// BlockResponse renders the merged chunks as a non-streaming response:
// every choice delta becomes its message, without bookkeeping indices.
func (a *Accumulator) BlockResponse() map[string]any {
	resp := a.Merged()
	choices, _ := resp["choices"].([]any)
	for _, choice := range choices {
		m, ok := choice.(map[string]any)
		if !ok {
			continue
		}
		m["message"] = merge.CleanupIndices(m["delta"])
		delete(m, "delta")
	}
	resp["object"] = ObjectCompletion
	return resp
}
