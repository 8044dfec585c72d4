// Package diag collects human-readable diagnostics produced while operating on an index.
//
// A Sink is created by the caller for one operation or session and passed to the components
// that take part in it.  Components append a message whenever an operation fails; the caller
// inspects the messages afterwards.  There is no package-level sink.
package diag

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pachyderm/seekidx/src/internal/log"
)

// Message is a single diagnostic.
type Message struct {
	Time      time.Time
	Component string
	Text      string
}

func (m Message) String() string {
	if m.Component == "" {
		return m.Text
	}
	return m.Component + ": " + m.Text
}

// Sink accumulates messages in the order they were reported.  The zero value is ready to use,
// and a nil *Sink discards everything.
type Sink struct {
	mu   sync.Mutex
	msgs []Message
}

// New returns an empty sink.
func New() *Sink {
	return &Sink{}
}

// Reportf appends a formatted message attributed to component, and logs it at level debug.
func (s *Sink) Reportf(ctx context.Context, component, format string, args ...any) {
	if s == nil {
		return
	}
	m := Message{Time: time.Now(), Component: component, Text: fmt.Sprintf(format, args...)}
	s.mu.Lock()
	s.msgs = append(s.msgs, m)
	s.mu.Unlock()
	log.Debug(ctx, "diagnostic reported", zap.String("component", component), zap.String("text", m.Text))
}

// ReportError appends err's message attributed to component.  A nil err is ignored.
func (s *Sink) ReportError(ctx context.Context, component string, err error) {
	if err == nil {
		return
	}
	s.Reportf(ctx, component, "%v", err)
}

// Messages returns a copy of the accumulated messages.
func (s *Sink) Messages() []Message {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.msgs...)
}

// Len returns the number of accumulated messages.
func (s *Sink) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// Reset discards the accumulated messages.
func (s *Sink) Reset() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.msgs = nil
	s.mu.Unlock()
}

// String renders the messages one per line.
func (s *Sink) String() string {
	var b strings.Builder
	for i, m := range s.Messages() {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.String())
	}
	return b.String()
}

// Merge returns a new sink holding left's messages followed by right's.  Either may be nil.
func Merge(left, right *Sink) *Sink {
	out := New()
	out.msgs = append(left.Messages(), right.Messages()...)
	return out
}
