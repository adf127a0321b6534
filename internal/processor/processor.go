package processor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/namikmesic/chatkit/internal/jetstream"
	"github.com/namikmesic/chatkit/internal/storage"
	"github.com/namikmesic/chatkit/internal/stream"
	"github.com/namikmesic/chatkit/server"
	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	durableName  = "chatkit-processor"
	drainTimeout = 5 * time.Second
)

// Enqueuer accepts write jobs without blocking and reports whether the job
// was kept.
type Enqueuer interface {
	Enqueue(job storage.WriteJob) bool
}

// pending holds the frames of an exchange whose done record has not
// arrived yet.
type pending struct {
	parser   *stream.Parser
	frames   []stream.Frame
	lastSeen atomic.Int64
}

// Processor turns recorded exchanges into database rows.
type Processor struct {
	writer  Enqueuer
	pending *haxmap.Map[string, *pending]
	ttl     time.Duration
}

func New(writer Enqueuer, pendingTTL time.Duration) *Processor {
	if pendingTTL <= 0 {
		pendingTTL = 10 * time.Minute
	}
	return &Processor{
		writer:  writer,
		pending: haxmap.New[string, *pending](),
		ttl:     pendingTTL,
	}
}

// StartConsumer processes recorded exchanges until ctx is cancelled.
func (p *Processor) StartConsumer(ctx context.Context, js nats.JetStreamContext) error {
	sub, err := js.Subscribe(jetstream.ExchangeSubjects, func(msg *nats.Msg) {
		p.HandleMessage(msg.Subject, msg.Data)
		if err := msg.Ack(); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("failed to ack message")
		}
	}, nats.Durable(durableName), nats.ManualAck(), nats.DeliverAll())
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", jetstream.ExchangeSubjects, err)
	}
	log.Info().Str("durable", durableName).Msg("exchange consumer started")

	ticker := time.NewTicker(max(p.ttl/2, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			closed := sub.StatusChanged(nats.SubscriptionClosed)
			if err := sub.Drain(); err != nil {
				log.Warn().Err(err).Msg("failed to drain exchange consumer")
				return nil
			}
			select {
			case <-closed:
			case <-time.After(drainTimeout):
				log.Warn().Msg("timed out draining exchange consumer")
			}
			return nil
		case now := <-ticker.C:
			if n := p.Sweep(now); n > 0 {
				log.Warn().Int("exchanges", n).Msg("discarded incomplete exchanges")
			}
		}
	}
}

// HandleMessage consumes a single frame or done record.
func (p *Processor) HandleMessage(subject string, data []byte) {
	exchangeID, done, ok := jetstream.ParseSubject(subject)
	if !ok {
		log.Warn().Str("subject", subject).Msg("unexpected subject")
		return
	}

	if !done {
		pe, _ := p.pending.GetOrCompute(exchangeID, func() *pending {
			pe := &pending{parser: stream.NewParser()}
			pe.lastSeen.Store(time.Now().UnixNano())
			return pe
		})
		pe.frames = append(pe.frames, pe.parser.Feed(data)...)
		pe.lastSeen.Store(time.Now().UnixNano())
		return
	}

	var frames []stream.Frame
	if pe, found := p.pending.Get(exchangeID); found {
		frames = pe.frames
		p.pending.Del(exchangeID)
	}

	var ex server.Exchange
	if err := json.Unmarshal(data, &ex); err != nil {
		log.Error().Err(err).Str("exchange_id", exchangeID).Msg("failed to decode exchange")
		return
	}

	record, err := Summarize(ex, frames)
	if err != nil {
		log.Error().Err(err).Str("exchange_id", exchangeID).Msg("failed to summarize exchange")
		return
	}

	// Frames are only useful next to their exchange row.
	if !p.writer.Enqueue(storage.InsertExchangeJob(record)) {
		return
	}
	if len(frames) > 0 {
		p.writer.Enqueue(storage.InsertFramesJob(record.ID, record.Timestamp, frames))
	}

	log.Debug().
		Str("exchange_id", exchangeID).
		Str("deployment_id", ex.DeploymentID).
		Int("frames", len(frames)).
		Str("model", record.Model).
		Int("total_tokens", record.TotalTokens).
		Msg("exchange processed")
}

// Sweep drops exchanges that have not received a frame within the TTL and
// reports how many were dropped.
func (p *Processor) Sweep(now time.Time) int {
	cutoff := now.Add(-p.ttl).UnixNano()
	var stale []string
	p.pending.ForEach(func(id string, pe *pending) bool {
		if pe.lastSeen.Load() < cutoff {
			stale = append(stale, id)
		}
		return true
	})
	for _, id := range stale {
		p.pending.Del(id)
	}
	return len(stale)
}

// Pending reports how many exchanges are awaiting their done record.
func (p *Processor) Pending() int {
	return int(p.pending.Len())
}

func parseExchangeID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("exchange id %q: %w", id, err)
	}
	return parsed, nil
}
