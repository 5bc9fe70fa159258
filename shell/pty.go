package shell

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/creack/pty"
)

// Interactive is a launcher process running on a pseudo-terminal, for
// hands-on use of the same privileged command a Session would multiplex.
// It is deliberately separate from Session: interactive I/O has no batch
// boundaries to protect.
type Interactive struct {
	Cmd *exec.Cmd
	PTY *os.File
}

// StartInteractive launches the command on a pty sized cols x rows (zero
// values default to 120x30).
func StartInteractive(launcher []string, cols, rows uint16) (*Interactive, error) {
	if len(launcher) == 0 {
		return nil, fmt.Errorf("shell: interactive: launcher is required")
	}
	it, err := launchOnPTY(launcher, cols, rows, true)
	if err != nil && strings.Contains(err.Error(), "Setctty set but Ctty not valid") {
		// Some platforms/Go versions reject Setctty; fall back to a pty
		// without controlling terminal, which is sufficient for I/O.
		it, err = launchOnPTY(launcher, cols, rows, false)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return it, nil
}

func launchOnPTY(launcher []string, cols, rows uint16, ctty bool) (*Interactive, error) {
	primary, replica, err := pty.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = replica.Close() }()

	if cols == 0 {
		cols = 120
	}
	if rows == 0 {
		rows = 30
	}
	_ = pty.Setsize(primary, &pty.Winsize{Cols: cols, Rows: rows})

	cmd := exec.Command(launcher[0], launcher[1:]...)
	cmd.Stdin = replica
	cmd.Stdout = replica
	cmd.Stderr = replica
	attr := &syscall.SysProcAttr{Setsid: true, Setctty: ctty}
	if ctty {
		attr.Ctty = int(replica.Fd())
	}
	cmd.SysProcAttr = attr

	if err := cmd.Start(); err != nil {
		_ = primary.Close()
		return nil, err
	}
	return &Interactive{Cmd: cmd, PTY: primary}, nil
}

// Resize changes the pty window size.
func (i *Interactive) Resize(cols, rows uint16) error {
	return pty.Setsize(i.PTY, &pty.Winsize{Cols: cols, Rows: rows})
}

// Close terminates the process and releases the pty.
func (i *Interactive) Close() error {
	if i.Cmd.Process != nil {
		_ = i.Cmd.Process.Signal(syscall.SIGTERM)
	}
	err := i.PTY.Close()
	_ = i.Cmd.Wait()
	return err
}
