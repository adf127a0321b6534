package completion

import (
	"fmt"
	"sync"

	"github.com/namikmesic/chatkit/chunk"
)

// output records which kind of answer a choice has started to give.
type output int

const (
	outputNone output = iota
	outputContent
	outputToolCalls
	outputFunctionCall
)

func (o output) finishReason() chunk.FinishReason {
	switch o {
	case outputToolCalls:
		return chunk.FinishReasonToolCalls
	case outputFunctionCall:
		return chunk.FinishReasonFunctionCall
	}
	return chunk.FinishReasonStop
}

// Choice is one candidate answer of a response. It must be opened before
// anything is added to it and closed exactly once.
type Choice struct {
	resp  *Response
	index int

	mu              sync.Mutex
	opened          bool
	closed          bool
	stateSubmitted  bool
	output          output
	attachmentIndex int
	stageIndex      int
	toolCallIndex   int
	openStages      int
}

func newChoice(resp *Response, index int) *Choice {
	return &Choice{resp: resp, index: index}
}

func (c *Choice) Index() int {
	return c.index
}

func (c *Choice) Opened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened
}

func (c *Choice) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// check returns a violation unless the choice is open. Callers hold c.mu.
func (c *Choice) check(action string) error {
	if !c.opened {
		return c.resp.violation(fmt.Sprintf("Trying to %s an unopened choice", action))
	}
	if c.closed {
		return c.resp.violation(fmt.Sprintf("Trying to %s a closed choice", action))
	}
	return nil
}

func (c *Choice) send(ch chunk.Chunk) {
	c.resp.queue.push(ch)
}

func (c *Choice) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened {
		return c.resp.violation("The choice is already open")
	}
	c.opened = true
	c.send(chunk.StartChoice{ChoiceIndex: c.index})
	return nil
}

func (c *Choice) AppendContent(content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("append content to"); err != nil {
		return err
	}
	if c.output == outputToolCalls || c.output == outputFunctionCall {
		return c.resp.violation("Trying to append content to a choice with a tool or function call")
	}
	c.output = outputContent
	c.send(chunk.Content{ChoiceIndex: c.index, Content: content})
	return nil
}

// Write appends p as content, so a choice can be handed to anything that
// writes text.
func (c *Choice) Write(p []byte) (int, error) {
	if err := c.AppendContent(string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *Choice) AddAttachment(a chunk.AttachmentPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("add attachment to"); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return c.resp.violation(err.Error())
	}
	c.send(chunk.Attachment{ChoiceIndex: c.index, AttachmentIndex: c.attachmentIndex, Attachment: a})
	c.attachmentIndex++
	return nil
}

// SetState attaches state the client sends back with its next request.
// It may be called once per choice.
func (c *Choice) SetState(state any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stateSubmitted {
		return c.resp.violation("State is already appended")
	}
	if err := c.check("append state to"); err != nil {
		return err
	}
	c.stateSubmitted = true
	c.send(chunk.State{ChoiceIndex: c.index, State: state})
	return nil
}

func (c *Choice) CreateStage(name string) (*Stage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("create stage for"); err != nil {
		return nil, err
	}
	s := &Stage{choice: c, index: c.stageIndex, name: name}
	c.stageIndex++
	return s, nil
}

// WithStage runs fn inside a new stage. The stage finishes as failed when
// fn returns an error, which is then passed through.
func (c *Choice) WithStage(name string, fn func(*Stage) error) error {
	s, err := c.CreateStage(name)
	if err != nil {
		return err
	}
	if err := s.Open(); err != nil {
		return err
	}
	if err := fn(s); err != nil {
		if closeErr := s.CloseWithStatus(chunk.StatusFailed); closeErr != nil {
			return closeErr
		}
		return err
	}
	return s.Close()
}

func (c *Choice) CreateFunctionToolCall(id, name, arguments string) (*ToolCallWriter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("add tool call to"); err != nil {
		return nil, err
	}
	if c.output == outputContent || c.output == outputFunctionCall {
		return nil, c.resp.violation("Trying to add a tool call to a choice with content or a function call")
	}
	c.output = outputToolCalls
	w := &ToolCallWriter{choice: c, index: c.toolCallIndex}
	c.toolCallIndex++
	c.send(chunk.OpenToolCall(c.index, w.index, id, name, arguments))
	return w, nil
}

func (c *Choice) CreateFunctionCall(name, arguments string) (*FunctionCallWriter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("add function call to"); err != nil {
		return nil, err
	}
	switch c.output {
	case outputFunctionCall:
		return nil, c.resp.violation("Trying to add function call to a choice which already has a function call")
	case outputContent, outputToolCalls:
		return nil, c.resp.violation("Trying to add a function call to a choice with content or tool calls")
	}
	c.output = outputFunctionCall
	c.send(chunk.FunctionCall{ChoiceIndex: c.index, Name: name, Arguments: arguments})
	return &FunctionCallWriter{choice: c}, nil
}

// Close finishes the choice with the reason implied by what it emitted.
func (c *Choice) Close() error {
	return c.close(nil)
}

// CloseWithReason finishes the choice with an explicit reason. Reasons that
// contradict emitted tool or function calls are rejected.
func (c *Choice) CloseWithReason(reason chunk.FinishReason) error {
	return c.close(&reason)
}

func (c *Choice) close(reason *chunk.FinishReason) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return c.resp.violation("Trying to close an unopened choice")
	}
	if c.closed {
		return c.resp.violation("The choice is already closed")
	}
	if c.openStages > 0 {
		return c.resp.violation(fmt.Sprintf("Trying to close a choice with %d open stage(s)", c.openStages))
	}

	implied := c.output.finishReason()
	finish := implied
	if reason != nil {
		if conflicts(*reason, implied) {
			return c.resp.violation(fmt.Sprintf("Finish reason %q conflicts with the emitted %q", *reason, implied))
		}
		finish = *reason
	}

	c.closed = true
	c.send(chunk.EndChoice{ChoiceIndex: c.index, FinishReason: finish})
	return nil
}

func conflicts(reason, implied chunk.FinishReason) bool {
	calls := func(r chunk.FinishReason) bool {
		return r == chunk.FinishReasonToolCalls || r == chunk.FinishReasonFunctionCall
	}
	if calls(implied) || calls(reason) {
		return reason != implied
	}
	return false
}

// ToolCallWriter streams the arguments of one function tool call.
type ToolCallWriter struct {
	choice *Choice
	index  int
}

func (w *ToolCallWriter) Index() int {
	return w.index
}

func (w *ToolCallWriter) AppendArguments(arguments string) error {
	c := w.choice
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("add tool call to"); err != nil {
		return err
	}
	c.send(chunk.ToolCall{ChoiceIndex: c.index, CallIndex: w.index, Arguments: arguments})
	return nil
}

// FunctionCallWriter streams the arguments of a legacy function call.
type FunctionCallWriter struct {
	choice *Choice
}

func (w *FunctionCallWriter) AppendArguments(arguments string) error {
	c := w.choice
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check("add function call to"); err != nil {
		return err
	}
	c.send(chunk.FunctionCall{ChoiceIndex: c.index, Arguments: arguments})
	return nil
}
