// Command privsh runs commands and file operations through a shared
// privileged shell session.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/antonkrylov/privsh/internal/cliconfig"
	"github.com/antonkrylov/privsh/shell"
	"github.com/antonkrylov/privsh/shellfs"
)

type rootOptions struct {
	configPath  string
	launcher    string
	timeout     time.Duration
	mergeStderr bool
	verbose     bool
	chunkSize   int

	launcherCmd []string
	sess        *shell.Session
	fsys        *shellfs.FS
}

func (r *rootOptions) prepare() error {
	cfg, err := cliconfig.Load(r.configPath)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = &cliconfig.Config{}
	}

	launcher := strings.TrimSpace(r.launcher)
	args := []string(nil)
	if launcher == "" {
		launcher = cfg.Launcher
		args = cfg.Args
	}
	if launcher == "" {
		launcher = "su"
	}
	r.launcherCmd = append([]string{launcher}, args...)

	level := slog.LevelWarn
	if r.verbose || cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []shell.Option{
		shell.WithLauncher(launcher, args...),
		shell.WithLogger(logger),
		shell.WithAutoRestart(),
	}
	if script := strings.TrimSpace(cfg.InitScript); script != "" {
		opts = append(opts, shell.WithInitializer(shell.InitScript(func() (io.Reader, error) {
			data, err := os.ReadFile(script)
			if err != nil {
				return nil, err
			}
			return bytes.NewReader(data), nil
		})))
	}
	r.sess = shell.New(opts...)
	r.sess.SetMergeStderr(r.mergeStderr || cfg.MergeStderr)
	r.sess.SetVerbose(r.verbose || cfg.Verbose)

	chunk := r.chunkSize
	if chunk <= 0 {
		chunk = cfg.ChunkSize
	}
	fsOpts := []shellfs.Option(nil)
	if chunk > 0 {
		fsOpts = append(fsOpts, shellfs.WithChunkSize(chunk))
	}
	r.fsys = shellfs.New(r.sess, fsOpts...)
	return nil
}

func (r *rootOptions) ctx() (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(context.Background(), r.timeout)
	}
	return context.WithCancel(context.Background())
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "privsh",
		Short:         "Run commands and file operations through a shared privileged shell session",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	defaultConfig := os.Getenv("PRIVSH_CONFIG")
	if defaultConfig == "" {
		defaultConfig = cliconfig.DefaultConfigPath()
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfig, "path to privsh config file (default $HOME/.privsh/config)")
	rootCmd.PersistentFlags().StringVar(&opts.launcher, "launcher", "", "session launcher command (overrides config; default su)")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "per-operation wait bound (0 = no bound)")
	rootCmd.PersistentFlags().BoolVar(&opts.mergeStderr, "merge-stderr", false, "route command stderr into stdout")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().IntVar(&opts.chunkSize, "chunk-size", 0, "file transfer chunk size in bytes")
	rootCmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		return opts.prepare()
	}
	rootCmd.PersistentPostRun = func(*cobra.Command, []string) {
		if opts.sess != nil {
			_ = opts.sess.Close()
		}
	}

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newScriptCmd(opts))
	rootCmd.AddCommand(newLsCmd(opts))
	rootCmd.AddCommand(newStatCmd(opts))
	rootCmd.AddCommand(newPullCmd(opts))
	rootCmd.AddCommand(newPushCmd(opts))
	rootCmd.AddCommand(newRmCmd(opts))
	rootCmd.AddCommand(newTruncateCmd(opts))
	rootCmd.AddCommand(newShellCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// exitCodeError carries a remote command's non-zero exit status to main's
// process exit without treating it as a transport failure message.
type exitCodeError int

func (e exitCodeError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func newRunCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <command> [command...]",
		Short: "Run one batch of commands; each argument is one command line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := root.ctx()
			defer cancel()
			exit, err := root.sess.Run(ctx, &shell.Batch{
				Commands: args,
				Stdout:   shell.WriterSink(os.Stdout),
				Stderr:   shell.WriterSink(os.Stderr),
			})
			if err != nil {
				return err
			}
			if exit != 0 {
				return exitCodeError(exit)
			}
			return nil
		},
	}
}

func newScriptCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "script <file>",
		Short: "Run a local shell script line-by-line as one batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			ctx, cancel := root.ctx()
			defer cancel()
			res, err := root.sess.LoadScriptContext(ctx, f)
			if err != nil {
				return err
			}
			for _, line := range res.Stdout {
				fmt.Println(line)
			}
			for _, line := range res.Stderr {
				fmt.Fprintln(os.Stderr, line)
			}
			if res.ExitCode != 0 {
				return exitCodeError(res.ExitCode)
			}
			return nil
		},
	}
}

func newLsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <path>",
		Short: "List a remote directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := root.ctx()
			defer cancel()
			names, err := root.fsys.List(ctx, args[0])
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func newStatCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show remote file metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := root.ctx()
			defer cancel()
			info, err := root.fsys.Stat(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%d\t%s\t%s\n", info.Name(), info.Size(), info.Mode(), info.ModTime().Format(time.RFC3339))
			return nil
		},
	}
}

func newPullCmd(root *rootOptions) *cobra.Command {
	var compress bool
	cmd := &cobra.Command{
		Use:   "pull <remote> <local>",
		Short: "Copy a remote file to the local filesystem",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys := root.fsys
			if compress {
				fsys = shellfs.New(root.sess, shellfs.WithChunkSize(root.chunkSize), shellfs.WithCompression())
			}
			ctx, cancel := root.ctx()
			defer cancel()
			src, err := fsys.Open(ctx, args[0])
			if err != nil {
				return err
			}
			defer src.Close()
			dst, err := os.Create(args[1])
			if err != nil {
				return err
			}
			if _, err := io.Copy(dst, src); err != nil {
				_ = dst.Close()
				return err
			}
			return dst.Close()
		},
	}
	cmd.Flags().BoolVar(&compress, "compress", false, "gzip file content on the remote side (requires gzip in the session PATH)")
	return cmd
}

func newPushCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "push <local> <remote>",
		Short: "Copy a local file into the session's filesystem",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer src.Close()
			ctx, cancel := root.ctx()
			defer cancel()
			dst, err := root.fsys.Create(ctx, args[1])
			if err != nil {
				return err
			}
			if _, err := io.Copy(dst, src); err != nil {
				_ = dst.Close()
				return err
			}
			return dst.Close()
		},
	}
}

func newRmCmd(root *rootOptions) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a remote file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := root.ctx()
			defer cancel()
			if recursive {
				return root.fsys.RemoveAll(ctx, args[0])
			}
			return root.fsys.Remove(ctx, args[0])
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "delete recursively")
	return cmd
}

func newTruncateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "truncate <path> <length>",
		Short: "Set a remote file's length",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			length, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("length: %w", err)
			}
			ctx, cancel := root.ctx()
			defer cancel()
			return root.fsys.Truncate(ctx, args[0], length)
		},
	}
}
