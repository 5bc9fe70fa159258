package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/antonkrylov/privsh/shell"
)

func newShellCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Attach an interactive terminal to the launcher command",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(root.launcherCmd)
		},
	}
}

func runInteractive(launcher []string) error {
	cols, rows := uint16(120), uint16(30)
	stdinFd := int(os.Stdin.Fd())
	if term.IsTerminal(stdinFd) {
		if c, r, err := term.GetSize(stdinFd); err == nil {
			cols, rows = uint16(c), uint16(r)
		}
	}

	it, err := shell.StartInteractive(launcher, cols, rows)
	if err != nil {
		return err
	}
	defer it.Close()

	if term.IsTerminal(stdinFd) {
		oldState, err := term.MakeRaw(stdinFd)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer func() { _ = term.Restore(stdinFd, oldState) }()
	}

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			_ = pty.InheritSize(os.Stdin, it.PTY)
		}
	}()

	go func() {
		_, _ = io.Copy(it.PTY, os.Stdin)
	}()
	_, err = io.Copy(os.Stdout, it.PTY)
	if err != nil && !isPTYReadEOF(err) {
		return err
	}
	return nil
}

// isPTYReadEOF filters the EIO a Linux pty master returns once the child
// side hangs up; it is the normal end of an interactive session.
func isPTYReadEOF(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err == syscall.EIO
	}
	return err == io.EOF
}
