package shell

import (
	"fmt"
	"io"
	"sync"
)

// Sink receives output lines as the codec reads them off the session
// process. Implementations must tolerate concurrent Append calls: within a
// batch, stdout and stderr are scanned by separate goroutines and may share
// a sink when stderr merging is enabled.
type Sink interface {
	Append(line string)
}

// BufferedSink accumulates lines in arrival order. The zero value is ready
// to use.
type BufferedSink struct {
	mu    sync.Mutex
	lines []string
}

func (b *BufferedSink) Append(line string) {
	b.mu.Lock()
	b.lines = append(b.lines, line)
	b.mu.Unlock()
}

// Lines returns a copy of everything appended so far.
func (b *BufferedSink) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// StreamSink invokes the function once per line, in arrival order, before
// the batch completes.
type StreamSink func(line string)

func (f StreamSink) Append(line string) { f(line) }

// WriterSink writes each line, newline-terminated, to w. Lines from both
// streams of a batch may interleave in w but each line stays intact.
func WriterSink(w io.Writer) Sink {
	return &writerSink{w: w}
}

type writerSink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *writerSink) Append(line string) {
	s.mu.Lock()
	fmt.Fprintln(s.w, line)
	s.mu.Unlock()
}

// Discard drops all lines.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Append(string) {}
