package shell

import "sync"

// The shared session is the one-privileged-process-per-application
// instance. It is an explicitly managed singleton behind an accessor, not
// ambient state: tests and embedders can swap their own instance in.

var (
	sharedMu   sync.Mutex
	sharedSess *Session
	sharedOpts []Option
)

// SetSharedOptions configures how the shared session is constructed on
// first use. It has no effect once Shared has been called, unless the
// instance is replaced via SetShared(nil).
func SetSharedOptions(opts ...Option) {
	sharedMu.Lock()
	sharedOpts = opts
	sharedMu.Unlock()
}

// Shared returns the process-wide session, constructing it lazily.
func Shared() *Session {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedSess == nil {
		sharedSess = New(sharedOpts...)
	}
	return sharedSess
}

// SetShared replaces the shared session and returns the previous one (which
// the caller still owns and should close). Passing nil resets the holder so
// the next Shared call constructs a fresh instance.
func SetShared(s *Session) *Session {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	prev := sharedSess
	sharedSess = s
	return prev
}
