package stream

import (
	"bytes"
	"strings"
)

// Parser maintains state across reads to handle partial SSE lines.
type Parser struct {
	buffer     []byte
	frameIndex int
	event      string // current event: field value
	comments   int
}

func NewParser() *Parser {
	return &Parser{}
}

// Feed processes raw bytes from the stream and returns the complete frames.
// Lines split across calls are buffered until their newline arrives.
func (p *Parser) Feed(chunk []byte) []Frame {
	p.buffer = append(p.buffer, chunk...)
	var frames []Frame

	for {
		idx := bytes.IndexByte(p.buffer, '\n')
		if idx == -1 {
			break
		}

		line := strings.TrimRight(string(p.buffer[:idx]), "\r")
		p.buffer = p.buffer[idx+1:]

		switch {
		case line == "":
			// Blank line ends the event.
			p.event = ""
		case strings.HasPrefix(line, ":"):
			p.comments++
		case strings.HasPrefix(line, "event:"):
			p.event = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimPrefix(line[len("data:"):], " ")
			frames = append(frames, Frame{
				Index: p.frameIndex,
				Kind:  kindOf(data),
				Event: p.event,
				Data:  data,
				Bytes: len(line) + 1,
			})
			p.frameIndex++
		}
	}

	return frames
}

// Comments returns how many comment lines, such as heartbeats, were seen.
func (p *Parser) Comments() int {
	return p.comments
}

// Pending reports whether a partial line is still buffered.
func (p *Parser) Pending() bool {
	return len(p.buffer) > 0
}
