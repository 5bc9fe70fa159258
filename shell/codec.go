package shell

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// codec owns the wire protocol against the session process: it writes a
// batch's commands followed by a sentinel trailer, then scans each output
// stream until that stream's sentinel line appears. The sentinel embeds a
// process-lifetime unique token plus a per-batch sequence number so stale
// output from an earlier batch can never terminate a later one.
//
// submit is only ever called by the session pump, one batch at a time; the
// stdin mutex exists solely so Close can inject its exit command without
// racing a batch write.
type codec struct {
	stdinMu sync.Mutex
	stdin   io.Writer
	stdout  *bufio.Reader
	stderr  *bufio.Reader

	token string
	seq   uint64
}

func newCodec(stdin io.Writer, stdout, stderr io.Reader, token string) *codec {
	return &codec{
		stdin:  stdin,
		stdout: bufio.NewReaderSize(stdout, 64*1024),
		stderr: bufio.NewReaderSize(stderr, 64*1024),
		token:  token,
	}
}

// submit runs one batch to its terminal signal. The returned exit code is
// only meaningful when err is nil. A non-zero exit is not an error.
func (c *codec) submit(b *Batch, mergeStderr bool) (int, error) {
	c.seq++
	sentinel := fmt.Sprintf("__PRIVSH__%s.%d", c.token, c.seq)

	if err := c.writeBatch(b, sentinel); err != nil {
		return 0, fmt.Errorf("%w: writing batch: %v", ErrProcessDied, err)
	}

	outSink := b.Stdout
	if outSink == nil {
		outSink = Discard
	}
	errSink := b.Stderr
	if mergeStderr {
		errSink = outSink
	} else if errSink == nil {
		errSink = Discard
	}

	errDone := make(chan error, 1)
	go func() {
		errDone <- scanUntilSentinel(c.stderr, sentinel, errSink)
	}()

	exit, outErr := c.scanStdout(sentinel, outSink)
	stderrErr := <-errDone
	if outErr != nil {
		return 0, outErr
	}
	if stderrErr != nil {
		return 0, stderrErr
	}
	return exit, nil
}

// writeBatch serializes the commands plus the sentinel trailer in a single
// stdin write. Unless the batch is Direct, the commands run in a subshell
// so "exit" and environment changes stay contained to the batch.
func (c *codec) writeBatch(b *Batch, sentinel string) error {
	var sb strings.Builder
	if b.Direct {
		for _, cmd := range b.Commands {
			sb.WriteString(cmd)
			sb.WriteByte('\n')
		}
	} else {
		sb.WriteString("(\n")
		if len(b.Commands) == 0 {
			sb.WriteString(":\n")
		}
		for _, cmd := range b.Commands {
			sb.WriteString(cmd)
			sb.WriteByte('\n')
		}
		sb.WriteString(")\n")
	}
	fmt.Fprintf(&sb, "echo \"%s $?\"\n", sentinel)
	fmt.Fprintf(&sb, "echo %s 1>&2\n", sentinel)

	c.stdinMu.Lock()
	defer c.stdinMu.Unlock()
	_, err := io.WriteString(c.stdin, sb.String())
	return err
}

// writeRaw injects text outside any batch. Used by Close for the final exit
// command.
func (c *codec) writeRaw(text string) error {
	c.stdinMu.Lock()
	defer c.stdinMu.Unlock()
	_, err := io.WriteString(c.stdin, text)
	return err
}

func (c *codec) scanStdout(sentinel string, sink Sink) (int, error) {
	prefix := sentinel + " "
	for {
		line, err := c.stdout.ReadString('\n')
		if err == nil || line != "" {
			line = strings.TrimSuffix(line, "\n")
			line = strings.TrimSuffix(line, "\r")
			if rest, ok := strings.CutPrefix(line, prefix); ok {
				code, perr := strconv.Atoi(strings.TrimSpace(rest))
				if perr == nil {
					return code, nil
				}
			}
			sink.Append(line)
		}
		if err != nil {
			return 0, ErrProcessDied
		}
	}
}

func scanUntilSentinel(r *bufio.Reader, sentinel string, sink Sink) error {
	for {
		line, err := r.ReadString('\n')
		if err == nil || line != "" {
			line = strings.TrimSuffix(line, "\n")
			line = strings.TrimSuffix(line, "\r")
			if line == sentinel {
				return nil
			}
			sink.Append(line)
		}
		if err != nil {
			return ErrProcessDied
		}
	}
}
