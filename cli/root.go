// Package cli is the listings-etl command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"listings-etl/apperr"
	"listings-etl/config"
	"listings-etl/logging"
)

// Version information, set at build time.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

// Exit codes. ExitTempFail tells a scheduler the run may succeed if retried.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitTempFail = 75
)

type app struct {
	cfgFile      string
	inputDir     string
	expectedRows int
	logLevel     string
	verbose      bool

	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "listings-etl",
		Short: "Incremental batch job for short-term rental listings",
		Long: `listings-etl picks up new listing files from the input directory, cleans them,
reports on them, writes a partitioned copy and merges them into the canonical
dataset. Files already recorded in the ledger are skipped.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			return a.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "path to config file")
	flags.StringVar(&a.inputDir, "input-dir", "", "override paths.input_dir")
	flags.IntVar(&a.expectedRows, "expected-rows", 0, "override quality.expected_rows")
	flags.StringVar(&a.logLevel, "log-level", "", "override logging.level")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "mirror logs to stderr")

	root.AddCommand(
		newRunCmd(a),
		newPendingCmd(a),
		newHistoryCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(a.cfgFile)
	if err != nil {
		return apperr.Permanent("config", err)
	}

	flags := cmd.Flags()
	if flags.Changed("input-dir") {
		cfg.Paths.InputDir = a.inputDir
	}
	if flags.Changed("expected-rows") {
		cfg.Quality.ExpectedRows = a.expectedRows
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}
	if a.verbose {
		cfg.Logging.Stderr = true
	}
	if err := cfg.Validate(); err != nil {
		return apperr.Permanent("config", err)
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return apperr.Retryable("config", err)
	}
	a.cfg = cfg
	a.logger = logger
	a.closer = closer
	return nil
}

func (a *app) close() {
	if a.closer != nil {
		a.closer.Close()
	}
}

// Execute runs the command line with args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return ExitCode(err)
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Kind == apperr.KindRetryable {
		return ExitTempFail
	}
	if errors.Is(err, context.Canceled) {
		return ExitTempFail
	}
	return ExitFailure
}
