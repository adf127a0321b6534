package server

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/namikmesic/chatkit/apierror"
	"github.com/namikmesic/chatkit/completion"
	"github.com/rs/zerolog"
)

var (
	heartbeatFrame = []byte(": heartbeat\n\n")
	doneFrame      = []byte("data: [DONE]\n\n")
)

func dataFrame(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(body)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, body...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}

// stream writes the response as Server-Sent Events. Chunks are produced on a
// separate goroutine so heartbeats can be written while the deployment is
// idle; only this goroutine touches w.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, c *call, resp *completion.Response) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)
	flusher, _ := w.(http.Flusher)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	c.exchange.StatusCode = http.StatusOK

	frames := make(chan []byte)
	go func() {
		defer close(frames)
		for doc, err := range resp.Chunks(ctx) {
			var frame []byte
			if err == nil {
				frame, err = dataFrame(doc)
			}
			if err != nil && ctx.Err() != nil {
				return
			}
			if err != nil {
				apiErr := apierror.From(err)
				if !apierror.IsClassified(err) {
					logger.Error().Err(err).Msg(apierror.RuntimeErrorMessage)
				}
				c.exchange.ErrorMessage = apiErr.Message
				frame, _ = dataFrame(apiErr.JSON())
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
			if c.exchange.ErrorMessage != "" {
				return
			}
		}
	}()

	write := func(frame []byte) {
		if _, err := w.Write(frame); err != nil {
			logger.Debug().Err(err).Msg("client write failed")
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	var (
		ticker *time.Ticker
		tick   <-chan time.Time
	)
	if s.cfg.HeartbeatInterval > 0 {
		ticker = time.NewTicker(s.cfg.HeartbeatInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				if ctx.Err() == nil {
					write(doneFrame)
					s.frame(c, doneFrame)
				}
				s.done(c)
				return
			}
			write(frame)
			s.frame(c, frame)
			if ticker != nil {
				ticker.Reset(s.cfg.HeartbeatInterval)
			}
		case <-tick:
			write(heartbeatFrame)
		}
	}
}

func (s *Server) frame(c *call, frame []byte) {
	c.exchange.FrameCount++
	if s.tap != nil {
		s.tap.Frame(c.exchange.ID, frame)
	}
}
