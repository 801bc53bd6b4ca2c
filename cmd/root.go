// Package cmd implements the nodewatch command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/nodewatch/internal/config"
	"github.com/smazurov/nodewatch/internal/logging"
	"github.com/smazurov/nodewatch/internal/version"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

const usageLine = "USAGE: nodewatch [flags] program"

// ErrUsage reports a malformed command line.
var ErrUsage = errors.New("invalid usage")

// NewRootCmd builds the root command. After Execute returns, *runErr holds
// the error that ended the run, if any.
func NewRootCmd(stdout io.Writer, runErr *error) *cobra.Command {
	var root *cobra.Command
	var program string

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Flags set on the command line win over env and file values
		loadErr := config.LoadConfig(opts, root)
		logging.Initialize(opts.loggingConfig())
		if loadErr != nil {
			slog.Error("Failed to load config", "path", opts.Config, "error", loadErr)
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})

		hooks.OnStart(func() {
			defer close(done)
			defer cancel()
			if loadErr != nil {
				*runErr = loadErr
				return
			}
			a, err := newApp(opts, program, stdout)
			if err != nil {
				*runErr = err
				return
			}
			*runErr = a.run(ctx)
		})

		hooks.OnStop(func() {
			cancel()
			<-done
		})
	})

	root = cli.Root()
	root.Use = "nodewatch [flags] program"
	root.Short = "Run a program and restart it whenever a ZooKeeper node changes"
	root.Long = `nodewatch watches one ZooKeeper node. Whenever the node is created or its
content changes, the program is stopped and started again; when the node is
deleted, the program is stopped. Changes to the node's subtree are printed.`
	root.Version = version.String()
	root.SilenceUsage = true
	root.SilenceErrors = true
	root.Args = func(_ *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("%w: expected exactly one program, got %d arguments", ErrUsage, len(args))
		}
		program = args[0]
		return nil
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	})
	root.SetOut(stdout)

	return root
}

// Execute runs nodewatch with args and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	var runErr error
	root := NewRootCmd(stdout, &runErr)
	root.SetArgs(args)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		if errors.Is(err, ErrUsage) {
			fmt.Fprintln(stderr, usageLine)
			return ExitUsage
		}
		fmt.Fprintln(stderr, "nodewatch:", err)
		return ExitFailure
	}
	if runErr != nil {
		fmt.Fprintln(stderr, "nodewatch:", runErr)
		return ExitFailure
	}
	return ExitOK
}
