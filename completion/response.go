package completion

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/namikmesic/chatkit/apierror"
	"github.com/namikmesic/chatkit/chunk"
	"github.com/namikmesic/chatkit/merge"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	ObjectChunk      = "chat.completion.chunk"
	ObjectCompletion = "chat.completion"
)

// Producer generates a response. It runs in its own goroutine; its context
// is cancelled when the consumer goes away.
type Producer func(ctx context.Context, req *Request, resp *Response) error

// terminal is queued exactly once, after everything the producer emitted.
type terminal struct {
	err error
}

// Response collects the chunks of one chat completion and delivers them
// either as a stream or as a single merged document.
type Response struct {
	req   *Request
	queue *queue

	mu                 sync.Mutex
	log                zerolog.Logger
	choicesCreated     int
	usagePerModelIndex int
	generationStarted  bool
	usageSent          bool
	discardedSent      bool
	id                 string
	model              string
	created            int64

	bound  atomic.Bool
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

func NewResponse(req *Request) *Response {
	id := uuid.NewString()
	return &Response{
		req:     req,
		queue:   newQueue(),
		log:     log.With().Str("deployment_id", req.DeploymentID).Logger(),
		id:      id,
		created: time.Now().Unix(),
		done:    make(chan struct{}),
	}
}

func (r *Response) Request() *Request {
	return r.req
}

func (r *Response) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

func (r *Response) logger() zerolog.Logger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.With().Str("response_id", r.id).Logger()
}

// violation logs a misuse of the response API and returns the opaque error
// the client will see. The caller must not hold r.mu.
func (r *Response) violation(reason string) error {
	l := r.logger()
	l.Error().Str("reason", reason).Msg("response contract violation")
	return apierror.ContractViolation(reason)
}

// failure converts a producer error into a client-facing error, logging
// anything outside the error taxonomy in full.
func (r *Response) failure(err error) *apierror.Error {
	if !apierror.IsClassified(err) {
		l := r.logger()
		l.Error().Err(err).Msg(apierror.RuntimeErrorMessage)
	}
	return apierror.From(err)
}

// abandoned reports whether err only reflects ctx going away, as when the
// client disconnects. Such errors are passed through without logging.
func abandoned(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}

func (r *Response) CreateChoice() (*Choice, error) {
	r.mu.Lock()
	r.generationStarted = true
	if r.choicesCreated >= r.req.Choices() {
		r.mu.Unlock()
		return nil, r.violation("Trying to generate more chunks than requested")
	}
	c := newChoice(r, r.choicesCreated)
	r.choicesCreated++
	r.mu.Unlock()
	return c, nil
}

// CreateSingleChoice is CreateChoice for deployments that only ever produce
// one choice. Requests asking for more are rejected as client errors.
func (r *Response) CreateSingleChoice() (*Choice, error) {
	r.mu.Lock()
	created := r.choicesCreated
	r.mu.Unlock()

	if created > 0 {
		return nil, r.violation("Trying to generate a single choice after choice")
	}
	if r.req.Choices() > 1 {
		return nil, apierror.RequestValidation(fmt.Sprintf("%s deployment doesn't support n > 1", r.req.DeploymentID))
	}
	return r.CreateChoice()
}

// WithSingleChoice opens a single choice, runs fn and closes the choice.
// When fn fails the choice is left open and fn's error is returned.
func (r *Response) WithSingleChoice(fn func(*Choice) error) error {
	c, err := r.CreateSingleChoice()
	if err != nil {
		return err
	}
	if err := c.Open(); err != nil {
		return err
	}
	if err := fn(c); err != nil {
		return err
	}
	return c.Close()
}

// pendingChoices returns a violation reason while choices are still to be
// created. The caller must hold r.mu.
func (r *Response) pendingChoices(field string) string {
	if r.choicesCreated != r.req.Choices() {
		return fmt.Sprintf("Trying to set %q before generating all choices", field)
	}
	return ""
}

func (r *Response) AddUsagePerModel(model string, promptTokens, completionTokens int) error {
	r.mu.Lock()
	r.generationStarted = true
	if reason := r.pendingChoices("usage_per_model"); reason != "" {
		r.mu.Unlock()
		return r.violation(reason)
	}
	c := chunk.UsagePerModel{
		Index:            r.usagePerModelIndex,
		Model:            model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	}
	r.usagePerModelIndex++
	r.mu.Unlock()

	r.queue.push(c)
	return nil
}

func (r *Response) SetDiscardedMessages(indices []int) error {
	r.mu.Lock()
	r.generationStarted = true
	if r.discardedSent {
		r.mu.Unlock()
		return r.violation(`Trying to set "discarded_messages" twice`)
	}
	if reason := r.pendingChoices("discarded_messages"); reason != "" {
		r.mu.Unlock()
		return r.violation(reason)
	}
	r.discardedSent = true
	r.mu.Unlock()

	r.queue.push(chunk.DiscardedMessages{Indices: append([]int(nil), indices...)})
	return nil
}

func (r *Response) SetUsage(promptTokens, completionTokens int) error {
	r.mu.Lock()
	r.generationStarted = true
	if r.usageSent {
		r.mu.Unlock()
		return r.violation(`Trying to set "usage" twice`)
	}
	if reason := r.pendingChoices("usage"); reason != "" {
		r.mu.Unlock()
		return r.violation(reason)
	}
	r.usageSent = true
	r.mu.Unlock()

	r.queue.push(chunk.Usage{PromptTokens: promptTokens, CompletionTokens: completionTokens})
	return nil
}

// SendChunk queues a prepared chunk. Arbitrary chunks count the choices
// they mention as created.
func (r *Response) SendChunk(c chunk.Chunk) error {
	if c == nil {
		return r.violation("Trying to send a nil chunk")
	}
	if arb, ok := c.(chunk.Arbitrary); ok {
		choices, _ := arb.Data["choices"].([]any)
		r.mu.Lock()
		for _, choice := range choices {
			m, _ := choice.(map[string]any)
			if index, ok := merge.Index(m["index"]); ok {
				r.choicesCreated = max(r.choicesCreated, index+1)
			}
		}
		r.mu.Unlock()
	}
	r.queue.push(c)
	return nil
}

// Flush blocks until every chunk queued so far has been delivered.
func (r *Response) Flush(ctx context.Context) error {
	return r.queue.join(ctx)
}

func (r *Response) setDefault(field string, set func()) error {
	r.mu.Lock()
	if r.generationStarted {
		r.mu.Unlock()
		return r.violation(fmt.Sprintf("Trying to set %q after start of generation", field))
	}
	set()
	r.mu.Unlock()
	return nil
}

func (r *Response) SetCreated(created int64) error {
	return r.setDefault("created", func() { r.created = created })
}

func (r *Response) SetModel(model string) error {
	return r.setDefault("model", func() { r.model = model })
}

func (r *Response) SetResponseID(id string) error {
	return r.setDefault("response_id", func() { r.id = id })
}

func (r *Response) addDefaults(d map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d["id"] = r.id
	if r.model != "" {
		d["model"] = r.model
	}
	d["created"] = r.created
	if r.req.Stream {
		d["object"] = ObjectChunk
	} else {
		d["object"] = ObjectCompletion
	}
}

// Start binds the producer and runs it in the background. It returns once
// the first chunk is queued or the producer has finished. A producer that
// fails by then gets its error returned here so the caller can still answer
// with a plain HTTP error.
func (r *Response) Start(ctx context.Context, producer Producer) error {
	if !r.bound.CompareAndSwap(false, true) {
		return r.violation("Trying to bind a second producer to the response")
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.run(ctx, producer)

	select {
	case <-r.queue.ready:
		// The consumer pops before waiting, so the wake-up need not be kept.
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-r.done:
		if r.err != nil {
			cancel()
			if abandoned(parent, r.err) {
				return parent.Err()
			}
			return r.failure(r.err)
		}
	default:
	}
	return nil
}

func (r *Response) run(ctx context.Context, producer Producer) {
	defer close(r.done)
	defer func() {
		if p := recover(); p != nil {
			r.err = fmt.Errorf("producer panicked: %v", p)
		}
	}()
	r.err = producer(ctx, r.req, r)
}

// Chunks yields the response documents in delivery order. The final
// element carries a non-nil error when the producer failed or did not
// create every requested choice. Stopping the iteration early cancels the
// producer.
func (r *Response) Chunks(ctx context.Context) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		if !r.bound.Load() {
			yield(nil, r.violation("Trying to consume a response without a producer"))
			return
		}
		defer r.cancel()

		lastChoice := r.req.Choices() - 1
		var (
			lastEnd  map[string]any
			delayed  map[string]any
			finished bool
		)

		for {
			item, ok := r.queue.pop()
			if !ok {
				select {
				case <-r.queue.ready:
				case <-r.done:
					if !finished {
						finished = true
						r.queue.push(terminal{err: r.err})
					}
				case <-ctx.Done():
					return
				}
				continue
			}

			switch c := item.(type) {
			case terminal:
				r.finish(ctx, c, lastEnd, delayed, yield)
				return

			case chunk.EndChoice:
				if c.ChoiceIndex == lastChoice {
					lastEnd = c.Dict()
					r.queue.done()
					continue
				}

			case chunk.Usage, chunk.UsagePerModel, chunk.DiscardedMessages:
				var err error
				delayed, err = merge.Dicts(delayed, c.(chunk.Chunk).Dict())
				r.queue.done()
				if err != nil {
					yield(nil, r.failure(err))
					return
				}
				continue
			}

			d := item.(chunk.Chunk).Dict()
			r.addDefaults(d)
			keep := yield(d, nil)
			r.queue.done()
			if !keep {
				return
			}
		}
	}
}

// finish emits the held-back final event and the terminal error, if any.
func (r *Response) finish(ctx context.Context, t terminal, lastEnd, delayed map[string]any, yield func(map[string]any, error) bool) {
	defer r.queue.done()

	if lastEnd != nil || delayed != nil {
		final, err := merge.Dicts(lastEnd, delayed)
		if err != nil {
			yield(nil, r.failure(err))
			return
		}
		r.addDefaults(final)
		if !yield(final, nil) {
			return
		}
	}

	if t.err != nil {
		if abandoned(ctx, t.err) {
			yield(nil, ctx.Err())
			return
		}
		yield(nil, r.failure(t.err))
		return
	}

	r.mu.Lock()
	created := r.choicesCreated
	r.mu.Unlock()
	if created != r.req.Choices() {
		l := r.logger()
		l.Error().Int("created", created).Int("requested", r.req.Choices()).Msg("Not all choices were generated")
		yield(nil, apierror.RuntimeServer(apierror.RuntimeErrorMessage))
	}
}

// Block waits for the whole response and returns it as one document.
func (r *Response) Block(ctx context.Context) (map[string]any, error) {
	acc := NewAccumulator()
	for c, err := range r.Chunks(ctx) {
		if err != nil {
			return nil, err
		}
		if err := acc.Add(c); err != nil {
			return nil, r.failure(err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return acc.BlockResponse(), nil
}
