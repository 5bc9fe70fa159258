package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Option configures a Session at construction time.
type Option func(*Session)

// WithLauncher sets the command that starts the session process. The
// default is "su". Tests typically use "sh".
func WithLauncher(name string, args ...string) Option {
	return func(s *Session) {
		s.launcher = append([]string{name}, args...)
	}
}

// WithInitializer registers a hook run exactly once after a fresh process
// passes its liveness probe, before any queued batch. The hook's Runner
// executes directly on the transport. If the hook fails the session
// transitions to Dead and the failure propagates to the opener.
func WithInitializer(init Initializer) Option {
	return func(s *Session) { s.init = init }
}

// WithAutoRestart relaunches a dead session process on next use instead of
// returning ErrUnavailable.
func WithAutoRestart() Option {
	return func(s *Session) { s.autoRestart = true }
}

// WithWorkers sets the async scheduler pool size. The default of 1
// preserves strict submission-order completion for asynchronous batches.
func WithWorkers(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLogger sets the structured logger. Logging is off by default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithCloseTimeout bounds how long Close waits for the process to exit
// gracefully before force-killing it. Default 3s.
func WithCloseTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.closeTimeout = d
		}
	}
}

// Runner executes a batch directly on the session transport. Session itself
// is a Runner; initializer hooks receive a restricted one bound to the
// freshly started process.
type Runner interface {
	Run(ctx context.Context, b *Batch) (int, error)
}

// Initializer is the once-per-process startup hook.
type Initializer func(r Runner) error

// InitScript returns an Initializer that runs the newline-delimited
// commands produced by open as one direct batch, so exports and directory
// changes persist for all later batches. open is called on every (re)start
// so auto-restarted processes are initialized from a fresh read.
func InitScript(open func() (io.Reader, error)) Initializer {
	return func(r Runner) error {
		src, err := open()
		if err != nil {
			return fmt.Errorf("open init script: %w", err)
		}
		cmds, err := readCommands(src)
		if err != nil {
			return fmt.Errorf("read init script: %w", err)
		}
		exit, err := r.Run(context.Background(), &Batch{Commands: cmds, Direct: true})
		if err != nil {
			return err
		}
		if exit != 0 {
			return fmt.Errorf("init script exited with status %d", exit)
		}
		return nil
	}
}

func readCommands(src io.Reader) ([]string, error) {
	var cmds []string
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		cmds = append(cmds, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return cmds, nil
}
