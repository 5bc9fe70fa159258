// Package shell maintains a single long-lived command-execution session,
// typically a privileged shell such as su, and multiplexes command batches
// from any number of concurrent callers onto it without corrupting
// command/output boundaries.
//
// Each batch is terminated by a per-batch sentinel line echoed on both
// output streams; the codec scans for the sentinel to delimit the batch's
// output and recover its exit code. Batches are served strictly in
// submission order, one at a time, across synchronous and asynchronous
// callers.
//
// The underlying process only needs to behave like a POSIX sh reading
// commands from stdin. Tests run against a plain "sh".
package shell
