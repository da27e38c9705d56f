// Command ecoetl loads regulatory open datasets into a database, one Dataset
// Profile per run.
//
//	ecoetl run --profile configs/profiles/termos_embargo.yaml
//	ecoetl validate --profile configs/profiles/legislacao_ambiental.yaml
//	ecoetl probe --profile configs/profiles/cadastro_tecnico_federal.yaml
//	ecoetl profiles configs/profiles
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	// register all backends with the storage factory.
	_ "ecoetl/internal/storage/all"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Exit statuses.
const (
	exitOK           = 0
	exitFailed       = 1
	exitBatchFailure = 2
)

// exitError carries a process exit status. A nil err means the failure was
// already reported.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(stderr, "error:", ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(stderr, "error:", err)
	return exitFailed
}

type globalFlags struct {
	logLevel string
	verbose  bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:   "ecoetl",
		Short: "Ingest regulatory open datasets into a database",
		Long: `ecoetl extracts an environmental open dataset (IBAMA infractions, embargo
terms, the federal technical register, environmental legislation), normalizes
it according to a Dataset Profile and loads it into the configured store.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := parseLevel(g.logLevel)
			if err != nil {
				return &exitError{code: exitFailed, err: err}
			}
			if g.verbose {
				lvl = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: lvl})))
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "shorthand for --log-level=debug")

	root.AddCommand(newRunCmd(), newValidateCmd(), newProbeCmd(), newProfilesCmd())
	return root
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid --log-level %q", s)
	}
	return lvl, nil
}
