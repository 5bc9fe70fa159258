package shell

// Batch is one ordered group of shell commands submitted together with its
// output sinks. A batch is immutable once submitted.
type Batch struct {
	Commands []string

	// Stdout and Stderr receive the batch's output lines. A nil sink
	// discards. When stderr merging is enabled on the session, stderr lines
	// are routed to Stdout and Stderr is ignored.
	Stdout Sink
	Stderr Sink

	// Direct runs the commands in the session shell itself rather than in a
	// per-batch subshell. Directory and environment changes then persist
	// across batches, but an exit command terminates the session process.
	Direct bool
}

// Result is the collected outcome of a synchronous or buffered asynchronous
// execution. A non-zero ExitCode is data, not an error: callers decide
// per-operation whether it matters.
type Result struct {
	Stdout   []string
	Stderr   []string
	ExitCode int
}
