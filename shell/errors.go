package shell

import "errors"

var (
	// ErrUnavailable means the session process could not be started or
	// relaunched.
	ErrUnavailable = errors.New("shell: session process unavailable")

	// ErrProcessDied means the process exited before the in-flight batch's
	// sentinel was observed. The batch's output is incomplete.
	ErrProcessDied = errors.New("shell: session process died mid-batch")

	// ErrTimeout means the caller's wait deadline expired. The batch keeps
	// running on the transport and its sentinel is still consumed, so later
	// batches see only their own output.
	ErrTimeout = errors.New("shell: wait deadline exceeded")

	// ErrClosed means the session was explicitly closed.
	ErrClosed = errors.New("shell: session closed")
)
