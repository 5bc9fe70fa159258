package shellfs

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// heredocEnd delimits write payloads on the session's stdin. base64 output
// can never collide with it.
const heredocEnd = "__PRIVSH_DATA__"

// File is a logical (path, offset) pair backed by command batches: there is
// no remote descriptor, so open files never pin remote resources, and the
// offset lives entirely on this side. File implements io.Reader, io.Writer,
// io.Seeker, io.ReaderAt, io.WriterAt and io.Closer.
type File struct {
	fsys *FS
	path string

	mu     sync.Mutex
	off    int64
	closed bool
}

// Open returns a handle positioned at offset 0. The path must exist and be
// readable; verifying that here lets every later bounded read treat short
// output as end-of-file rather than a masked open failure.
func (f *FS) Open(ctx context.Context, path string) (*File, error) {
	q := quote(path)
	res, err := f.run(ctx,
		fmt.Sprintf("if [ ! -e %s ]; then echo 'No such file or directory' 1>&2; exit 2; fi", q),
		fmt.Sprintf("if [ ! -r %s ]; then echo 'Permission denied' 1>&2; exit 3; fi", q),
		fmt.Sprintf("if [ -d %s ]; then echo 'Is a directory' 1>&2; exit 4; fi", q),
	)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, classify("open", path, res)
	}
	return &File{fsys: f, path: path}, nil
}

// Create truncates or creates the file and returns a handle at offset 0.
func (f *FS) Create(ctx context.Context, path string) (*File, error) {
	res, err := f.run(ctx, ": > "+quote(path))
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, classify("create", path, res)
	}
	return &File{fsys: f, path: path}, nil
}

// Name returns the path the handle was opened with.
func (f *File) Name() string { return f.path }

func (f *File) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, &fs.PathError{Op: "read", Path: f.path, Err: fs.ErrClosed}
	}
	n, err := f.fsys.readAt(context.Background(), f.path, p, f.off)
	f.off += int64(n)
	if err == io.EOF && n > 0 {
		return n, nil
	}
	return n, err
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, &fs.PathError{Op: "read", Path: f.path, Err: fs.ErrClosed}
	}
	if off < 0 {
		return 0, &fs.PathError{Op: "read", Path: f.path, Err: fmt.Errorf("negative offset %d", off)}
	}
	return f.fsys.readAt(context.Background(), f.path, p, off)
}

func (f *File) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, &fs.PathError{Op: "write", Path: f.path, Err: fs.ErrClosed}
	}
	n, err := f.fsys.writeAt(context.Background(), f.path, p, f.off)
	f.off += int64(n)
	return n, err
}

func (f *File) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, &fs.PathError{Op: "write", Path: f.path, Err: fs.ErrClosed}
	}
	if off < 0 {
		return 0, &fs.PathError{Op: "write", Path: f.path, Err: fmt.Errorf("negative offset %d", off)}
	}
	return f.fsys.writeAt(context.Background(), f.path, p, off)
}

// Seek repositions the adapter-side offset. SeekEnd queries the remote
// length once; the offset is never inferred from the remote side after
// that.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, &fs.PathError{Op: "seek", Path: f.path, Err: fs.ErrClosed}
	}
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.off + offset
	case io.SeekEnd:
		size, err := f.fsys.Size(context.Background(), f.path)
		if err != nil {
			return 0, err
		}
		abs = size + offset
	default:
		return 0, &fs.PathError{Op: "seek", Path: f.path, Err: fmt.Errorf("invalid whence %d", whence)}
	}
	if abs < 0 {
		return 0, &fs.PathError{Op: "seek", Path: f.path, Err: fmt.Errorf("negative position %d", abs)}
	}
	f.off = abs
	return abs, nil
}

// Size returns the current remote length.
func (f *File) Size() (int64, error) {
	return f.fsys.Size(context.Background(), f.path)
}

// Truncate sets the remote length.
func (f *File) Truncate(length int64) error {
	return f.fsys.Truncate(context.Background(), f.path, length)
}

// Close marks the handle unusable. There is nothing remote to release.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return &fs.PathError{Op: "close", Path: f.path, Err: fs.ErrClosed}
	}
	f.closed = true
	return nil
}

// readAt fills p from off in chunk-sized batches. Returns io.EOF when the
// remote file ends before p is full.
func (f *FS) readAt(ctx context.Context, path string, p []byte, off int64) (int, error) {
	total := 0
	for total < len(p) {
		want := len(p) - total
		if want > f.chunk {
			want = f.chunk
		}
		b, err := f.readChunk(ctx, path, off+int64(total), want)
		if err != nil {
			return total, err
		}
		copy(p[total:], b)
		total += len(b)
		if len(b) < want {
			return total, io.EOF
		}
	}
	return total, nil
}

// readChunk extracts exactly [off, off+n) as bytes. tail -c +K is
// 1-indexed. The pipeline's exit status is base64's, so open failures are
// caught by Open's pre-flight, not here; a missing file reads as empty.
func (f *FS) readChunk(ctx context.Context, path string, off int64, n int) ([]byte, error) {
	pipe := fmt.Sprintf("tail -c +%d %s | head -c %d", off+1, quote(path), n)
	if f.compress {
		pipe += " | gzip -c"
	}
	pipe += " | base64"

	res, err := f.run(ctx, pipe)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, classify("read", path, res)
	}
	raw, derr := base64.StdEncoding.DecodeString(strings.Join(res.Stdout, ""))
	if derr != nil {
		return nil, badOutput("read", path, "base64: "+derr.Error())
	}
	if !f.compress {
		return raw, nil
	}
	zr, zerr := gzip.NewReader(bytes.NewReader(raw))
	if zerr != nil {
		return nil, badOutput("read", path, "gzip: "+zerr.Error())
	}
	defer zr.Close()
	out, zerr := io.ReadAll(zr)
	if zerr != nil {
		return nil, badOutput("read", path, "gzip: "+zerr.Error())
	}
	return out, nil
}

// writeAt stores p at off in chunk-sized batches without touching the rest
// of the file. Writing past end-of-file zero-fills the gap (dd's sparse
// seek), so a 5-byte write at offset 100 of a 10-byte file yields length
// 105 with bytes [10,100) reading as zeros.
func (f *FS) writeAt(ctx context.Context, path string, p []byte, off int64) (int, error) {
	total := 0
	for total < len(p) {
		n := len(p) - total
		if n > f.chunk {
			n = f.chunk
		}
		if err := f.writeChunk(ctx, path, p[total:total+n], off+int64(total)); err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// writeChunk feeds the payload through the session's stdin as a base64
// heredoc into a seek-in-place dd. conv=notrunc preserves bytes after the
// written range.
func (f *FS) writeChunk(ctx context.Context, path string, p []byte, off int64) error {
	enc := base64.StdEncoding.EncodeToString(p)
	cmds := make([]string, 0, len(enc)/76+3)
	cmds = append(cmds, fmt.Sprintf(
		"base64 -d <<'%s' | dd of=%s oflag=seek_bytes seek=%d conv=notrunc status=none",
		heredocEnd, quote(path), off))
	for i := 0; i < len(enc); i += 76 {
		end := i + 76
		if end > len(enc) {
			end = len(enc)
		}
		cmds = append(cmds, enc[i:end])
	}
	cmds = append(cmds, heredocEnd)

	res, err := f.run(ctx, cmds...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return classify("write", path, res)
	}
	return nil
}
