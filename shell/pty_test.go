package shell_test

import (
	"bytes"
	"os/exec"
	"testing"
	"time"

	"github.com/antonkrylov/privsh/shell"
)

func TestStartInteractive(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not installed")
	}
	it, err := shell.StartInteractive([]string{"sh"}, 0, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer it.Close()

	if err := it.Resize(100, 40); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if _, err := it.PTY.WriteString("echo pty-ok\n"); err != nil {
		t.Fatalf("write: %v", err)
	}

	found := make(chan bool, 1)
	go func() {
		var all []byte
		buf := make([]byte, 4096)
		for {
			n, err := it.PTY.Read(buf)
			all = append(all, buf[:n]...)
			if bytes.Contains(all, []byte("pty-ok")) {
				found <- true
				return
			}
			if err != nil {
				found <- false
				return
			}
		}
	}()
	select {
	case ok := <-found:
		if !ok {
			t.Fatal("pty closed before the echo output arrived")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pty output")
	}
}

func TestStartInteractiveRequiresLauncher(t *testing.T) {
	if _, err := shell.StartInteractive(nil, 80, 24); err == nil {
		t.Fatal("empty launcher accepted")
	}
}
