// Package cli defines the anvil command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anvil-build/anvil/internal/app"
)

// options holds the persistent flag values shared by every subcommand.
type options struct {
	root      string
	jobs      int
	logLevel  string
	logFormat string
}

func (o *options) session() (*app.Session, error) {
	return app.NewSession(&app.Config{
		Root:      o.root,
		Jobs:      o.jobs,
		LogLevel:  o.logLevel,
		LogFormat: o.logFormat,
	}, os.Stdout, os.Stderr)
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "anvil",
		Short: "anvil is a lazy, concurrent build orchestrator",
		Long: `anvil builds targets declared in BUILD.hcl files under the workspace's
src/ directory, loading only the packages the requested targets reach.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.root, "root", ".", "workspace root directory")
	pf.IntVarP(&opts.jobs, "jobs", "j", 0, "maximum concurrent actions (0 = one per CPU)")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	pf.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &UsageError{Err: err}
	})

	rootCmd.AddCommand(newBuildCmd(opts), newTestCmd(opts), newCleanCmd(opts))
	return rootCmd
}

// UsageError marks an error caused by the command line itself, as opposed to
// a failed build. The caller maps it to a distinct exit code.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

// minArgs is cobra.MinimumNArgs with the error marked as a usage error.
func minArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.MinimumNArgs(n)(cmd, args); err != nil {
			return &UsageError{Err: err}
		}
		return nil
	}
}

func newBuildCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "build <target>...",
		Short: "Build the named targets and everything they depend on",
		Args:  minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := opts.session()
			if err != nil {
				return err
			}
			return session.Build(cmd.Context(), args)
		},
	}
}

func newTestCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "test <target>...",
		Short: "Build the named targets and run every test among them",
		Args:  minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := opts.session()
			if err != nil {
				return err
			}
			return session.Test(cmd.Context(), args)
		},
	}
}

func newCleanCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove all build outputs and intermediates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := opts.session()
			if err != nil {
				return err
			}
			if err := session.Clean(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cleaned")
			return nil
		},
	}
}
