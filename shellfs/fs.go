package shellfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/antonkrylov/privsh/shell"
)

// ErrBadOutput means a command produced output the adapter could not
// parse. It aborts only the call that saw it.
var ErrBadOutput = errors.New("shellfs: unexpected command output")

// DefaultChunkSize is the per-batch payload size for reads and writes.
// Each batch costs a full transport round trip, so the chunk size trades
// memory against round-trip amortization.
const DefaultChunkSize = 64 * 1024

// FS performs file operations through a session. It holds no lock of its
// own: the session's transport discipline already serializes batches.
type FS struct {
	sess     *shell.Session
	chunk    int
	compress bool
}

// Option configures an FS.
type Option func(*FS)

// WithChunkSize overrides DefaultChunkSize.
func WithChunkSize(n int) Option {
	return func(f *FS) {
		if n > 0 {
			f.chunk = n
		}
	}
}

// WithCompression pipes read payloads through gzip on the remote side and
// inflates them locally, which helps on slow transports with compressible
// data. Requires gzip in the session's PATH.
func WithCompression() Option {
	return func(f *FS) { f.compress = true }
}

// New binds an FS to a session.
func New(sess *shell.Session, opts ...Option) *FS {
	f := &FS{sess: sess, chunk: DefaultChunkSize}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FS) run(ctx context.Context, cmds ...string) (*shell.Result, error) {
	return f.sess.ExecuteContext(ctx, cmds)
}

// Exists reports whether the path exists.
func (f *FS) Exists(ctx context.Context, path string) (bool, error) {
	res, err := f.run(ctx, "[ -e "+quote(path)+" ]")
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// IsDir reports whether the path is a directory.
func (f *FS) IsDir(ctx context.Context, path string) (bool, error) {
	res, err := f.run(ctx, "[ -d "+quote(path)+" ]")
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// Size returns the file's length in bytes. Redirecting into wc lets the
// shell do the open, so a missing file fails with a classifiable error
// instead of a wc usage message.
func (f *FS) Size(ctx context.Context, path string) (int64, error) {
	res, err := f.run(ctx, "wc -c < "+quote(path))
	if err != nil {
		return 0, err
	}
	if res.ExitCode != 0 {
		return 0, classify("size", path, res)
	}
	if len(res.Stdout) == 0 {
		return 0, badOutput("size", path, "no output from wc")
	}
	n, perr := strconv.ParseInt(strings.TrimSpace(res.Stdout[0]), 10, 64)
	if perr != nil {
		return 0, badOutput("size", path, res.Stdout[0])
	}
	return n, nil
}

// Stat returns file metadata.
func (f *FS) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	res, err := f.run(ctx, "stat -c '%s|%Y|%a|%F' "+quote(path))
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, classify("stat", path, res)
	}
	if len(res.Stdout) == 0 {
		return nil, badOutput("stat", path, "no output from stat")
	}
	info, perr := parseStatLine(path, res.Stdout[0])
	if perr != nil {
		return nil, badOutput("stat", path, res.Stdout[0])
	}
	return info, nil
}

// List returns the names inside a directory, one level deep, hidden
// entries included.
func (f *FS) List(ctx context.Context, path string) ([]string, error) {
	res, err := f.run(ctx, "ls -1A "+quote(path))
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, classify("list", path, res)
	}
	names := make([]string, 0, len(res.Stdout))
	for _, line := range res.Stdout {
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// Remove deletes a file or an empty directory. A missing path is
// fs.ErrNotExist, matching os.Remove.
func (f *FS) Remove(ctx context.Context, path string) error {
	q := quote(path)
	res, err := f.run(ctx, fmt.Sprintf("if [ -d %s ]; then rmdir %s; else rm %s; fi", q, q, q))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return classify("remove", path, res)
	}
	return nil
}

// RemoveAll deletes a path recursively; like os.RemoveAll it succeeds on a
// missing path.
func (f *FS) RemoveAll(ctx context.Context, path string) error {
	res, err := f.run(ctx, "rm -rf "+quote(path))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return classify("removeall", path, res)
	}
	return nil
}

// Mkdir creates a single directory.
func (f *FS) Mkdir(ctx context.Context, path string) error {
	res, err := f.run(ctx, "mkdir "+quote(path))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return classify("mkdir", path, res)
	}
	return nil
}

// MkdirAll creates a directory and any missing parents.
func (f *FS) MkdirAll(ctx context.Context, path string) error {
	res, err := f.run(ctx, "mkdir -p "+quote(path))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return classify("mkdirall", path, res)
	}
	return nil
}

// Truncate sets the file's length, extending with zeros when growing. A
// missing file is an error, matching os.Truncate.
func (f *FS) Truncate(ctx context.Context, path string, length int64) error {
	if length < 0 {
		return &fs.PathError{Op: "truncate", Path: path, Err: fmt.Errorf("negative length %d", length)}
	}
	q := quote(path)
	res, err := f.run(ctx, fmt.Sprintf(
		"if [ -e %s ]; then truncate -s %d %s; else echo 'No such file or directory' 1>&2; false; fi",
		q, length, q))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return classify("truncate", path, res)
	}
	return nil
}

// ReadFile reads the whole file.
func (f *FS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	h, err := f.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	size, err := f.Size(ctx, path)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	n, err := h.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return buf[:n], err
	}
	return buf[:n], nil
}

// WriteFile replaces the file's content, creating it if needed.
func (f *FS) WriteFile(ctx context.Context, path string, data []byte) error {
	h, err := f.Create(ctx, path)
	if err != nil {
		return err
	}
	if _, err := h.Write(data); err != nil {
		_ = h.Close()
		return err
	}
	return h.Close()
}

// quote single-quotes a path for the shell.
func quote(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

// classify maps a failed command's stderr onto the os-style error kinds so
// callers can use errors.Is with fs.ErrNotExist and fs.ErrPermission.
func classify(op, path string, res *shell.Result) error {
	msg := strings.Join(res.Stderr, "; ")
	lower := strings.ToLower(msg)
	var err error
	switch {
	case strings.Contains(lower, "no such file"), strings.Contains(lower, "not found"):
		err = fs.ErrNotExist
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "not permitted"):
		err = fs.ErrPermission
	case msg == "":
		err = fmt.Errorf("exit status %d", res.ExitCode)
	default:
		err = fmt.Errorf("exit status %d: %s", res.ExitCode, msg)
	}
	return &fs.PathError{Op: op, Path: path, Err: err}
}

func badOutput(op, path, detail string) error {
	return &fs.PathError{Op: op, Path: path, Err: fmt.Errorf("%w: %s", ErrBadOutput, detail)}
}

// Info implements fs.FileInfo from a stat -c line.
type Info struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
	dir     bool
}

func (i *Info) Name() string       { return i.name }
func (i *Info) Size() int64        { return i.size }
func (i *Info) Mode() fs.FileMode  { return i.mode }
func (i *Info) ModTime() time.Time { return i.modTime }
func (i *Info) IsDir() bool        { return i.dir }
func (i *Info) Sys() any           { return nil }

func parseStatLine(path, line string) (*Info, error) {
	parts := strings.SplitN(strings.TrimSpace(line), "|", 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("want 4 fields, got %d", len(parts))
	}
	size, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, err
	}
	mtime, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, err
	}
	perm, err := strconv.ParseUint(parts[2], 8, 32)
	if err != nil {
		return nil, err
	}
	info := &Info{
		name:    baseName(path),
		size:    size,
		mode:    fs.FileMode(perm),
		modTime: time.Unix(mtime, 0),
		dir:     strings.Contains(parts[3], "directory"),
	}
	if info.dir {
		info.mode |= fs.ModeDir
	}
	return info, nil
}

func baseName(path string) string {
	trimmed := strings.TrimRight(path, "/")
	if trimmed == "" {
		return "/"
	}
	if i := strings.LastIndexByte(trimmed, '/'); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
