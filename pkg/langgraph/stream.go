package langgraph

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/trace"
)

// maxEventSize bounds a single SSE line. Values events carry the full thread
// state, so this is generous.
const maxEventSize = 16 << 20

// RunStream reads server-sent events from a streamed run.
type RunStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	span    trace.Span

	closeOnce sync.Once
	closeErr  error
}

func newRunStream(body io.ReadCloser, span trace.Span) *RunStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	return &RunStream{body: body, scanner: scanner, span: span}
}

// Next returns the next event. It returns io.EOF once the stream is
// exhausted.
func (s *RunStream) Next() (Event, error) {
	var (
		name string
		data []string
		seen bool
	)
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			if seen {
				return buildEvent(name, data), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
			seen = true
		case "data":
			data = append(data, value)
			seen = true
		}
	}
	if err := s.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("reading event stream: %w", err)
	}
	if seen {
		return buildEvent(name, data), nil
	}
	return Event{}, io.EOF
}

func buildEvent(name string, data []string) Event {
	if name == "" {
		name = "message"
	}
	joined := strings.Join(data, "\n")
	raw := json.RawMessage(bytes.TrimSpace([]byte(joined)))
	return Event{Name: name, Data: raw}
}

// Close stops reading and releases the connection. Safe to call repeatedly.
func (s *RunStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
		if s.span != nil {
			s.span.End()
		}
	})
	return s.closeErr
}
