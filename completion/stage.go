package completion

import (
	"github.com/namikmesic/chatkit/chunk"
)

// Stage reports a step of work inside a choice, such as a tool invocation.
// Its state is guarded by the owning choice's mutex.
type Stage struct {
	choice          *Choice
	index           int
	name            string
	opened          bool
	closed          bool
	attachmentIndex int
}

func (s *Stage) Index() int {
	return s.index
}

// check returns a violation unless the stage is open. Callers hold the
// choice mutex.
func (s *Stage) check(action string) error {
	r := s.choice.resp
	if !s.opened {
		return r.violation("Trying to " + action + " an unopened stage")
	}
	if s.closed {
		return r.violation("Trying to " + action + " a closed stage")
	}
	return nil
}

func (s *Stage) Open() error {
	c := s.choice
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.opened {
		return c.resp.violation("The stage is already open")
	}
	if err := c.check("open a stage of"); err != nil {
		return err
	}
	s.opened = true
	c.openStages++
	c.send(chunk.StartStage{ChoiceIndex: c.index, StageIndex: s.index, Name: s.name})
	return nil
}

func (s *Stage) AppendContent(content string) error {
	c := s.choice
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := s.check("append content to"); err != nil {
		return err
	}
	c.send(chunk.StageContent{ChoiceIndex: c.index, StageIndex: s.index, Content: content})
	return nil
}

// Write appends p to the stage content.
func (s *Stage) Write(p []byte) (int, error) {
	if err := s.AppendContent(string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// AppendName extends the stage title shown to the user.
func (s *Stage) AppendName(name string) error {
	c := s.choice
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := s.check("append name to"); err != nil {
		return err
	}
	c.send(chunk.StageName{ChoiceIndex: c.index, StageIndex: s.index, Name: name})
	return nil
}

func (s *Stage) AddAttachment(a chunk.AttachmentPayload) error {
	c := s.choice
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := s.check("add attachment to"); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return c.resp.violation(err.Error())
	}
	c.send(chunk.StageAttachment{
		ChoiceIndex:     c.index,
		StageIndex:      s.index,
		AttachmentIndex: s.attachmentIndex,
		Attachment:      a,
	})
	s.attachmentIndex++
	return nil
}

func (s *Stage) Close() error {
	return s.CloseWithStatus(chunk.StatusCompleted)
}

func (s *Stage) CloseWithStatus(status chunk.Status) error {
	c := s.choice
	c.mu.Lock()
	defer c.mu.Unlock()
	if !s.opened {
		return c.resp.violation("Trying to close an unopened stage")
	}
	if s.closed {
		return c.resp.violation("The stage is already closed")
	}
	s.closed = true
	c.openStages--
	c.send(chunk.FinishStage{ChoiceIndex: c.index, StageIndex: s.index, Status: status})
	return nil
}
