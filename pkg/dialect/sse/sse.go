// Package sse implements Server-Sent Events framing for the conventions
// of the four ingress dialects (spec.md §6 "SSE conventions"):
// OpenAI/Gemini use unnamed `data: …` frames terminated by
// `data: [DONE]`; Anthropic uses named `event: …` frames followed by
// `data: …`. No other package in this module imports it: the codecs
// build their frame text themselves and the engine reads upstream
// frames with its own line scanner.
//
// Grounded directly on
// digitallysavvy-go-ai/pkg/providerutils/streaming (SSEEvent/SSEParser
// built on bufio.Scanner, SSEWriter's WriteEvent/WriteData), carried
// over largely as-is since the wire-level SSE grammar here is
// identical to the teacher's.
package sse

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Event is one parsed SSE frame.
type Event struct {
	Event string
	Data  string
	ID    string
	Retry string
}

// Parser reads SSE frames from an upstream response body.
type Parser struct {
	scanner *bufio.Scanner
}

func NewParser(r io.Reader) *Parser {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Parser{scanner: s}
}

// Next returns the next event, or io.EOF when the stream ends cleanly.
func (p *Parser) Next() (Event, error) {
	var ev Event
	var dataLines []string
	sawAny := false

	for p.scanner.Scan() {
		line := p.scanner.Text()
		if line == "" {
			if sawAny {
				ev.Data = strings.Join(dataLines, "\n")
				return ev, nil
			}
			continue
		}
		sawAny = true
		if strings.HasPrefix(line, ":") {
			continue // comment line
		}
		field, value := splitField(line)
		switch field {
		case "event":
			ev.Event = value
		case "data":
			dataLines = append(dataLines, value)
		case "id":
			ev.ID = value
		case "retry":
			ev.Retry = value
		}
	}
	if err := p.scanner.Err(); err != nil {
		return Event{}, err
	}
	if sawAny {
		ev.Data = strings.Join(dataLines, "\n")
		return ev, nil
	}
	return Event{}, io.EOF
}

func splitField(line string) (field, value string) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return line, ""
	}
	field = line[:idx]
	value = line[idx+1:]
	value = strings.TrimPrefix(value, " ")
	return field, value
}

// Writer emits SSE frames to a downstream response, matching the
// ingress's convention (named events for Anthropic, unnamed data
// frames for OpenAI/Gemini).
type Writer struct {
	w       io.Writer
	flusher interface{ Flush() }
}

func NewWriter(w io.Writer, flusher interface{ Flush() }) *Writer {
	return &Writer{w: w, flusher: flusher}
}

// WriteData writes an unnamed `data: …\n\n` frame.
func (w *Writer) WriteData(data string) error {
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.flush()
	return nil
}

// WriteNamedEvent writes an `event: name\ndata: …\n\n` frame.
func (w *Writer) WriteNamedEvent(name, data string) error {
	if _, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	w.flush()
	return nil
}

// WriteDone writes the OpenAI/Gemini terminal `data: [DONE]` frame.
func (w *Writer) WriteDone() error {
	return w.WriteData("[DONE]")
}

func (w *Writer) flush() {
	if w.flusher != nil {
		w.flusher.Flush()
	}
}
