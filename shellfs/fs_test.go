package shellfs_test

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/antonkrylov/privsh/shell"
	"github.com/antonkrylov/privsh/shellfs"
)

// newTestFS binds an adapter to a local sh session, so the test's temp dir
// plays the part of the remote filesystem.
func newTestFS(t *testing.T, opts ...shellfs.Option) (*shellfs.FS, string) {
	t.Helper()
	for _, tool := range []string{"sh", "dd", "base64", "tail", "head", "stat", "truncate", "wc"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not installed", tool)
		}
	}
	sess := shell.New(shell.WithLauncher("sh"))
	t.Cleanup(func() { _ = sess.Close() })
	return shellfs.New(sess, opts...), t.TempDir()
}

// requireSeekBytes skips on dd builds without oflag=seek_bytes (busybox).
func requireSeekBytes(t *testing.T, dir string) {
	t.Helper()
	probe := filepath.Join(dir, ".dd-probe")
	cmd := exec.Command("sh", "-c", "echo x | dd of="+probe+" oflag=seek_bytes seek=0 conv=notrunc status=none")
	if err := cmd.Run(); err != nil {
		t.Skip("dd lacks oflag=seek_bytes")
	}
	_ = os.Remove(probe)
}

func TestExistsAndIsDir(t *testing.T) {
	fsys, dir := newTestFS(t)
	ctx := context.Background()

	file := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	ok, err := fsys.Exists(ctx, file)
	if err != nil || !ok {
		t.Fatalf("Exists(file)=%v,%v", ok, err)
	}
	ok, err = fsys.Exists(ctx, filepath.Join(dir, "missing"))
	if err != nil || ok {
		t.Fatalf("Exists(missing)=%v,%v", ok, err)
	}
	ok, err = fsys.IsDir(ctx, dir)
	if err != nil || !ok {
		t.Fatalf("IsDir(dir)=%v,%v", ok, err)
	}
	ok, err = fsys.IsDir(ctx, file)
	if err != nil || ok {
		t.Fatalf("IsDir(file)=%v,%v", ok, err)
	}
}

func TestSizeAndStat(t *testing.T) {
	fsys, dir := newTestFS(t)
	ctx := context.Background()

	file := filepath.Join(dir, "sized.bin")
	payload := bytes.Repeat([]byte{0xAB}, 1234)
	if err := os.WriteFile(file, payload, 0o640); err != nil {
		t.Fatal(err)
	}

	n, err := fsys.Size(ctx, file)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if n != 1234 {
		t.Fatalf("size=%d, want 1234", n)
	}

	info, err := fsys.Stat(ctx, file)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Name() != "sized.bin" {
		t.Fatalf("name=%q", info.Name())
	}
	if info.Size() != 1234 {
		t.Fatalf("stat size=%d", info.Size())
	}
	if info.IsDir() {
		t.Fatal("IsDir=true for a file")
	}
	if info.Mode().Perm() != 0o640 {
		t.Fatalf("mode=%v", info.Mode())
	}

	dinfo, err := fsys.Stat(ctx, dir)
	if err != nil {
		t.Fatalf("stat dir: %v", err)
	}
	if !dinfo.IsDir() {
		t.Fatal("IsDir=false for a directory")
	}

	if _, err := fsys.Stat(ctx, filepath.Join(dir, "missing")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("stat missing: err=%v, want fs.ErrNotExist", err)
	}
}

func TestList(t *testing.T) {
	fsys, dir := newTestFS(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", ".hidden"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	names, err := fsys.List(ctx, dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	seen := map[string]bool{}
	for _, n := range names {
		seen[n] = true
	}
	for _, want := range []string{"a", "b", ".hidden"} {
		if !seen[want] {
			t.Fatalf("list=%v, missing %q", names, want)
		}
	}

	if _, err := fsys.List(ctx, filepath.Join(dir, "missing")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("list missing: err=%v, want fs.ErrNotExist", err)
	}
}

func TestRemove(t *testing.T) {
	fsys, dir := newTestFS(t)
	ctx := context.Background()

	file := filepath.Join(dir, "gone.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := fsys.Remove(ctx, file); err != nil {
		t.Fatalf("remove file: %v", err)
	}
	if _, err := os.Stat(file); !errors.Is(err, fs.ErrNotExist) {
		t.Fatal("file survived Remove")
	}

	sub := filepath.Join(dir, "empty")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := fsys.Remove(ctx, sub); err != nil {
		t.Fatalf("remove dir: %v", err)
	}

	err := fsys.Remove(ctx, filepath.Join(dir, "missing"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("remove missing: err=%v, want fs.ErrNotExist", err)
	}
	var pathErr *fs.PathError
	if !errors.As(err, &pathErr) {
		t.Fatalf("remove missing: err=%T, want *fs.PathError", err)
	}
}

func TestRemoveAll(t *testing.T) {
	fsys, dir := newTestFS(t)
	ctx := context.Background()

	tree := filepath.Join(dir, "tree")
	if err := os.MkdirAll(filepath.Join(tree, "deep"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tree, "deep", "f"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := fsys.RemoveAll(ctx, tree); err != nil {
		t.Fatalf("removeall: %v", err)
	}
	if _, err := os.Stat(tree); !errors.Is(err, fs.ErrNotExist) {
		t.Fatal("tree survived RemoveAll")
	}
	// Missing path is fine, like os.RemoveAll.
	if err := fsys.RemoveAll(ctx, tree); err != nil {
		t.Fatalf("removeall missing: %v", err)
	}
}

func TestMkdir(t *testing.T) {
	fsys, dir := newTestFS(t)
	ctx := context.Background()

	one := filepath.Join(dir, "one")
	if err := fsys.Mkdir(ctx, one); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	info, err := os.Stat(one)
	if err != nil || !info.IsDir() {
		t.Fatalf("mkdir result: %v, %v", info, err)
	}

	deep := filepath.Join(dir, "a", "b", "c")
	if err := fsys.MkdirAll(ctx, deep); err != nil {
		t.Fatalf("mkdirall: %v", err)
	}
	info, err = os.Stat(deep)
	if err != nil || !info.IsDir() {
		t.Fatalf("mkdirall result: %v, %v", info, err)
	}
}

func TestTruncate(t *testing.T) {
	fsys, dir := newTestFS(t)
	ctx := context.Background()

	file := filepath.Join(dir, "t.bin")
	if err := os.WriteFile(file, []byte("abcdef"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := fsys.Truncate(ctx, file, 3); err != nil {
		t.Fatalf("shrink: %v", err)
	}
	data, err := os.ReadFile(file)
	if err != nil || string(data) != "abc" {
		t.Fatalf("after shrink: %q, %v", data, err)
	}

	if err := fsys.Truncate(ctx, file, 8); err != nil {
		t.Fatalf("grow: %v", err)
	}
	data, err = os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte("abc\x00\x00\x00\x00\x00")) {
		t.Fatalf("after grow: %q", data)
	}

	if err := fsys.Truncate(ctx, filepath.Join(dir, "missing"), 4); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("truncate missing: err=%v, want fs.ErrNotExist", err)
	}
	if err := fsys.Truncate(ctx, file, -1); err == nil {
		t.Fatal("negative length accepted")
	}
}

func TestReadWriteFileRoundTrip(t *testing.T) {
	fsys, dir := newTestFS(t)
	requireSeekBytes(t, dir)
	ctx := context.Background()

	file := filepath.Join(dir, "round.bin")
	payload := []byte("line one\nline two\x00\xff binary tail")
	if err := fsys.WriteFile(ctx, file, payload); err != nil {
		t.Fatalf("writefile: %v", err)
	}
	got, err := fsys.ReadFile(ctx, file)
	if err != nil {
		t.Fatalf("readfile: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch:\n got %q\nwant %q", got, payload)
	}
	// WriteFile truncates: a shorter rewrite must not leave old bytes.
	if err := fsys.WriteFile(ctx, file, []byte("tiny")); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	onDisk, err := os.ReadFile(file)
	if err != nil || string(onDisk) != "tiny" {
		t.Fatalf("after rewrite: %q, %v", onDisk, err)
	}
}

func TestAwkwardPathQuoting(t *testing.T) {
	fsys, dir := newTestFS(t)
	ctx := context.Background()

	file := filepath.Join(dir, "with space and 'quote'.txt")
	if err := os.WriteFile(file, []byte("ok"), 0o644); err != nil {
		t.Fatal(err)
	}
	ok, err := fsys.Exists(ctx, file)
	if err != nil || !ok {
		t.Fatalf("Exists=%v,%v", ok, err)
	}
	n, err := fsys.Size(ctx, file)
	if err != nil || n != 2 {
		t.Fatalf("Size=%d,%v", n, err)
	}
	if err := fsys.Remove(ctx, file); err != nil {
		t.Fatalf("remove: %v", err)
	}
}
