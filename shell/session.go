package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session owns one persistent session process and serializes command
// batches onto it. All batches, synchronous and asynchronous, flow through
// a single pump goroutine in submission order, so at most one batch is ever
// on the transport and no two batches can interleave output.
type Session struct {
	launcher     []string
	init         Initializer
	autoRestart  bool
	workers      int
	closeTimeout time.Duration
	log          *slog.Logger

	mergeStderr atomic.Bool
	verbose     atomic.Bool

	state atomic.Int32

	procMu   sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	codec    *codec
	waitDone chan struct{}

	pumpOnce sync.Once
	submitCh chan *pending
	closedCh chan struct{}

	sched *scheduler
}

type pending struct {
	batch *Batch
	done  chan submitResult
}

type submitResult struct {
	exit int
	err  error
}

// New builds a session. The process is started lazily on first use; call
// Open to start it eagerly.
func New(opts ...Option) *Session {
	s := &Session{
		launcher:     []string{"su"},
		workers:      1,
		closeTimeout: 3 * time.Second,
		log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		submitCh:     make(chan *pending, 16),
		closedCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sched = newScheduler(s, s.workers)
	return s
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// transition moves the state to the target unless the session has reached
// Closed. Closed is terminal: nothing, including a concurrent start, may
// store over it.
func (s *Session) transition(to State) bool {
	for {
		old := s.state.Load()
		if State(old) == StateClosed {
			return false
		}
		if s.state.CompareAndSwap(old, int32(to)) {
			return true
		}
	}
}

// SetMergeStderr routes stderr lines into each batch's stdout sink. The
// flag is read at batch-submission time, never mid-batch, so changes only
// affect future batches.
func (s *Session) SetMergeStderr(on bool) { s.mergeStderr.Store(on) }

// MergeStderr reports the current stderr-merge flag.
func (s *Session) MergeStderr() bool { return s.mergeStderr.Load() }

// SetVerbose enables per-batch info logging on the configured logger.
func (s *Session) SetVerbose(on bool) { s.verbose.Store(on) }

// Open starts the session process if it is not running. It is idempotent
// and returns ErrUnavailable if the launcher cannot be started.
func (s *Session) Open() error {
	_, err := s.Run(context.Background(), &Batch{})
	return err
}

// Execute runs the commands synchronously and returns their buffered
// output and exit code.
func (s *Session) Execute(cmds ...string) (*Result, error) {
	return s.ExecuteContext(context.Background(), cmds)
}

// ExecuteContext is Execute with a caller-controlled wait bound. On ctx
// deadline expiry it returns ErrTimeout; on cancellation the error wraps
// context.Canceled. Either way the batch keeps running to its sentinel on
// the transport so later batches stay correctly delimited.
func (s *Session) ExecuteContext(ctx context.Context, cmds []string) (*Result, error) {
	stdout := &BufferedSink{}
	stderr := &BufferedSink{}
	exit, err := s.Run(ctx, &Batch{Commands: cmds, Stdout: stdout, Stderr: stderr})
	if err != nil {
		return nil, err
	}
	return &Result{Stdout: stdout.Lines(), Stderr: stderr.Lines(), ExitCode: exit}, nil
}

// Run submits one batch with caller-supplied sinks and blocks until its
// terminal signal, ctx expiry, or Close.
func (s *Session) Run(ctx context.Context, b *Batch) (int, error) {
	if s.State() == StateClosed {
		return 0, ErrClosed
	}
	s.pumpOnce.Do(func() { go s.pump() })

	p := &pending{batch: b, done: make(chan submitResult, 1)}
	select {
	case s.submitCh <- p:
	case <-s.closedCh:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, waitErr(ctx.Err())
	}
	select {
	case r := <-p.done:
		return r.exit, r.err
	case <-s.closedCh:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, waitErr(ctx.Err())
	}
}

// waitErr classifies a context failure: deadline expiry is the timeout
// kind, explicit cancellation keeps its identity so callers can match
// context.Canceled.
func waitErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("shell: wait abandoned: %w", err)
}

// ExecuteAsync enqueues the commands on the task scheduler and returns
// immediately. The callback runs exactly once on a scheduler goroutine,
// never the caller's, with either a result or an error.
func (s *Session) ExecuteAsync(cmds []string, callback func(*Result, error)) *Task {
	stdout := &BufferedSink{}
	stderr := &BufferedSink{}
	t := &Task{
		batch:    &Batch{Commands: cmds, Stdout: stdout, Stderr: stderr},
		callback: callback,
		stdout:   stdout,
		stderr:   stderr,
	}
	s.sched.enqueue(t)
	return t
}

// RunAsync enqueues a batch with caller-supplied sinks. The callback's
// Result carries only the exit code; output went to the batch's sinks.
func (s *Session) RunAsync(b *Batch, callback func(*Result, error)) *Task {
	t := &Task{batch: b, callback: callback}
	s.sched.enqueue(t)
	return t
}

// LoadScript executes the newline-delimited command text from src as one
// synchronous batch.
func (s *Session) LoadScript(src io.Reader) (*Result, error) {
	return s.LoadScriptContext(context.Background(), src)
}

// LoadScriptContext is LoadScript with a wait bound.
func (s *Session) LoadScriptContext(ctx context.Context, src io.Reader) (*Result, error) {
	cmds, err := readCommands(src)
	if err != nil {
		return nil, fmt.Errorf("shell: load script: %w", err)
	}
	return s.ExecuteContext(ctx, cmds)
}

// Close shuts the session down: a graceful exit command, a bounded wait,
// then a kill. Queued asynchronous tasks are failed with ErrClosed, blocked
// synchronous callers are released, and the pump goroutine exits. Close is
// idempotent, and Closed is terminal: a start racing Close destroys its
// freshly launched process instead of resurrecting the session.
func (s *Session) Close() error {
	prev := State(s.state.Swap(int32(StateClosed)))
	if prev == StateClosed {
		return nil
	}
	close(s.closedCh)
	s.sched.close()

	s.procMu.Lock()
	cmd, stdin, c, waitDone := s.cmd, s.stdin, s.codec, s.waitDone
	s.procMu.Unlock()
	if cmd == nil {
		return nil
	}
	if c != nil {
		_ = c.writeRaw("exit\n")
	}
	if stdin != nil {
		_ = stdin.Close()
	}
	select {
	case <-waitDone:
	case <-time.After(s.closeTimeout):
		s.log.Warn("session process did not exit, killing", "launcher", s.launcher[0])
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-waitDone
	}
	s.log.Debug("session closed")
	return nil
}

// pump serves batches one at a time. On Close it fails everything still
// queued and exits, so short-lived sessions leave no goroutine behind.
func (s *Session) pump() {
	for {
		select {
		case p := <-s.submitCh:
			exit, err := s.dispatch(p.batch)
			p.done <- submitResult{exit: exit, err: err}
		case <-s.closedCh:
			for {
				select {
				case p := <-s.submitCh:
					p.done <- submitResult{err: ErrClosed}
				default:
					return
				}
			}
		}
	}
}

func (s *Session) dispatch(b *Batch) (int, error) {
	switch s.State() {
	case StateClosed:
		return 0, ErrClosed
	case StateReady:
	case StateDead:
		if !s.autoRestart {
			return 0, ErrUnavailable
		}
		if err := s.start(); err != nil {
			return 0, err
		}
	default:
		if err := s.start(); err != nil {
			return 0, err
		}
	}

	if s.verbose.Load() {
		s.log.Info("dispatching batch", "commands", len(b.Commands), "direct", b.Direct)
	} else {
		s.log.Debug("dispatching batch", "commands", len(b.Commands))
	}
	exit, err := s.codec.submit(b, s.mergeStderr.Load())
	if err != nil {
		if s.State() == StateClosed {
			return 0, ErrClosed
		}
		s.log.Warn("session process died mid-batch", "err", err)
		s.transition(StateDead)
		s.destroyProcess()
		return 0, err
	}
	return exit, nil
}

// start launches a fresh process, probes it, and runs the initializer.
// Only ever called from the pump goroutine. The stdio pipes are created
// here rather than through cmd.StdoutPipe so that the codec, not Wait,
// owns the read ends: Wait never closes a pipe the codec is still
// draining. If Close lands anywhere inside start, the fresh process is
// destroyed and ErrClosed is returned.
func (s *Session) start() error {
	if !s.transition(StateStarting) {
		return ErrClosed
	}
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		s.transition(StateDead)
		return fmt.Errorf("%w: stdin pipe: %v", ErrUnavailable, err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeFiles(stdinR, stdinW)
		s.transition(StateDead)
		return fmt.Errorf("%w: stdout pipe: %v", ErrUnavailable, err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeFiles(stdinR, stdinW, stdoutR, stdoutW)
		s.transition(StateDead)
		return fmt.Errorf("%w: stderr pipe: %v", ErrUnavailable, err)
	}

	cmd := exec.Command(s.launcher[0], s.launcher[1:]...)
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	if err := cmd.Start(); err != nil {
		closeFiles(stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW)
		s.transition(StateDead)
		return fmt.Errorf("%w: start %s: %v", ErrUnavailable, s.launcher[0], err)
	}
	// The child holds its own copies now; ours must go so the read ends
	// see EOF when the child exits.
	closeFiles(stdinR, stdoutW, stderrW)

	c := newCodec(stdinW, stdoutR, stderrR, uuid.NewString())
	waitDone := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(waitDone)
	}()

	s.procMu.Lock()
	s.cmd, s.stdin, s.codec, s.waitDone = cmd, stdinW, c, waitDone
	s.procMu.Unlock()

	// Liveness probe: the process must answer one trivial batch before it
	// is considered Ready.
	if _, err := c.submit(&Batch{Commands: []string{":"}}, false); err != nil {
		s.destroyProcess()
		if !s.transition(StateDead) {
			return ErrClosed
		}
		return fmt.Errorf("%w: liveness probe failed", ErrUnavailable)
	}
	if !s.transition(StateReady) {
		// Close won the race; the fresh process must not outlive it.
		s.destroyProcess()
		return ErrClosed
	}
	s.log.Debug("session process ready", "launcher", s.launcher[0], "pid", cmd.Process.Pid)

	if s.init != nil {
		if err := s.init(directRunner{c: c}); err != nil {
			s.destroyProcess()
			if !s.transition(StateDead) {
				return ErrClosed
			}
			return fmt.Errorf("shell: initializer: %w", err)
		}
	}
	return nil
}

func (s *Session) destroyProcess() {
	s.procMu.Lock()
	cmd, stdin, waitDone := s.cmd, s.stdin, s.waitDone
	s.procMu.Unlock()
	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	if waitDone != nil {
		<-waitDone
	}
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// directRunner executes initializer batches straight on the codec. It runs
// inside the pump's start path, so the transport is free by construction.
type directRunner struct {
	c *codec
}

func (r directRunner) Run(_ context.Context, b *Batch) (int, error) {
	return r.c.submit(b, false)
}
