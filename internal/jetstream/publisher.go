package jetstream

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/namikmesic/chatkit/server"
	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Publisher records served exchanges on the CHATKIT stream. Publishing is
// asynchronous so a slow store never holds up a client.
type Publisher struct {
	js nats.JetStreamContext
}

var _ server.Tap = (*Publisher)(nil)

func NewPublisher(js nats.JetStreamContext) *Publisher {
	return &Publisher{js: js}
}

func (p *Publisher) Frame(exchangeID string, frame []byte) {
	if _, err := p.js.PublishAsync(FrameSubject(exchangeID), frame); err != nil {
		log.Warn().Err(err).Str("exchange_id", exchangeID).Msg("failed to publish frame")
	}
}

func (p *Publisher) Done(ex server.Exchange) {
	data, err := json.Marshal(ex)
	if err != nil {
		log.Error().Err(err).Str("exchange_id", ex.ID).Msg("failed to encode exchange")
		return
	}
	if _, err := p.js.PublishAsync(DoneSubject(ex.ID), data); err != nil {
		log.Warn().Err(err).Str("exchange_id", ex.ID).Msg("failed to publish exchange")
	}
}

// Wait blocks until every asynchronous publish has been acknowledged or
// the timeout expires, and reports whether all were acknowledged.
func (p *Publisher) Wait(timeout time.Duration) bool {
	select {
	case <-p.js.PublishAsyncComplete():
		return true
	case <-time.After(timeout):
		return false
	}
}
