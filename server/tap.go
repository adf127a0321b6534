package server

import (
	"net/http"
	"strings"
	"time"
)

// Exchange describes one finished request to a deployment endpoint.
type Exchange struct {
	ID             string              `json:"id"`
	DeploymentID   string              `json:"deployment_id"`
	Endpoint       string              `json:"endpoint"`
	Timestamp      time.Time           `json:"timestamp"`
	DurationMs     int64               `json:"duration_ms"`
	StatusCode     int                 `json:"status_code"`
	Stream         bool                `json:"stream"`
	FrameCount     int                 `json:"frame_count"`
	RequestHeaders map[string][]string `json:"request_headers,omitempty"`
	RequestBody    []byte              `json:"request_body,omitempty"`
	ResponseBody   []byte              `json:"response_body,omitempty"`
	ErrorMessage   string              `json:"error_message,omitempty"`
}

// Tap observes served traffic. Frame receives every SSE frame written to a
// streaming client, in order; Done is called once per exchange after the
// response is complete. Implementations must not block.
type Tap interface {
	Frame(exchangeID string, frame []byte)
	Done(ex Exchange)
}

var redactedHeaders = map[string]bool{
	"authorization": true,
	"api-key":       true,
	"x-api-key":     true,
	"cookie":        true,
}

// headerMap copies h with credentials masked.
func headerMap(h http.Header) map[string][]string {
	m := make(map[string][]string, len(h))
	for k, v := range h {
		if redactedHeaders[strings.ToLower(k)] {
			m[k] = []string{"[REDACTED]"}
		} else {
			m[k] = v
		}
	}
	return m
}
