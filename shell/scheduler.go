package shell

import (
	"context"
	"sync"
	"sync/atomic"
)

// Task wraps an asynchronous batch until the scheduler runs it.
type Task struct {
	batch    *Batch
	callback func(*Result, error)
	stdout   *BufferedSink
	stderr   *BufferedSink

	cancelled atomic.Bool
}

// Cancel marks the task cancelled. A task not yet dispatched is skipped
// entirely; one already on the transport runs to completion (aborting it
// would desynchronize sentinel tracking) and only its callback is
// suppressed.
func (t *Task) Cancel() {
	t.cancelled.Store(true)
}

func (t *Task) result(exit int) *Result {
	if t.stdout == nil {
		return &Result{ExitCode: exit}
	}
	return &Result{Stdout: t.stdout.Lines(), Stderr: t.stderr.Lines(), ExitCode: exit}
}

// scheduler is a FIFO queue drained by a fixed pool of workers. The default
// pool size of 1 keeps asynchronous completions in submission order; larger
// pools still never put two batches on the transport at once because the
// session pump serializes them.
type scheduler struct {
	sess    *Session
	workers int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*Task
	closed  bool
	started bool
}

func newScheduler(sess *Session, workers int) *scheduler {
	sc := &scheduler{sess: sess, workers: workers}
	sc.cond = sync.NewCond(&sc.mu)
	return sc
}

func (sc *scheduler) enqueue(t *Task) {
	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		go sc.deliver(t, nil, ErrClosed)
		return
	}
	if !sc.started {
		sc.started = true
		for i := 0; i < sc.workers; i++ {
			go sc.work()
		}
	}
	sc.queue = append(sc.queue, t)
	sc.mu.Unlock()
	sc.cond.Signal()
}

func (sc *scheduler) next() *Task {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for len(sc.queue) == 0 && !sc.closed {
		sc.cond.Wait()
	}
	if len(sc.queue) == 0 {
		return nil
	}
	t := sc.queue[0]
	sc.queue = sc.queue[1:]
	return t
}

func (sc *scheduler) work() {
	for {
		t := sc.next()
		if t == nil {
			return
		}
		if t.cancelled.Load() {
			continue
		}
		exit, err := sc.sess.Run(context.Background(), t.batch)
		if t.cancelled.Load() {
			continue
		}
		if err != nil {
			sc.deliver(t, nil, err)
			continue
		}
		sc.deliver(t, t.result(exit), nil)
	}
}

// close fails every still-queued task with ErrClosed instead of attempting
// it against a closed session.
func (sc *scheduler) close() {
	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		return
	}
	sc.closed = true
	stranded := sc.queue
	sc.queue = nil
	sc.mu.Unlock()
	sc.cond.Broadcast()

	if len(stranded) == 0 {
		return
	}
	go func() {
		for _, t := range stranded {
			if t.cancelled.Load() {
				continue
			}
			sc.deliver(t, nil, ErrClosed)
		}
	}()
}

// deliver invokes the callback, converting a panic into a log entry rather
// than letting it kill a scheduler goroutine.
func (sc *scheduler) deliver(t *Task, res *Result, err error) {
	if t.callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			sc.sess.log.Error("async callback panicked", "panic", r)
		}
	}()
	t.callback(res, err)
}
