// Package shellfs provides ordinary file operations against paths only
// reachable through a shell.Session, building a random-access file
// abstraction out of shell-level primitives: tail/head pipelines for
// bounded reads, dd with byte-granular seek for in-place writes, and
// base64 so arbitrary bytes survive the line-oriented transport.
//
// Every operation is one or more command batches; there are no remote file
// descriptors. A File's offset is adapter-side state. The remote end needs
// a POSIX sh plus coreutils with byte-count extensions: head -c, tail -c,
// base64, stat -c, truncate, and for writes a dd supporting
// oflag=seek_bytes (GNU coreutils; busybox dd lacks it).
//
// The adapter parses separated stdout/stderr, so the session's
// stderr-merge flag must be off for sessions used with this package.
package shellfs
