package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"ecoetl/internal/config"
	"ecoetl/internal/etl"
	"ecoetl/internal/metrics"
	"ecoetl/internal/metrics/datadog"
	"ecoetl/internal/metrics/prompush"
	"ecoetl/internal/storage"
	"ecoetl/internal/telemetry"
)

type runFlags struct {
	profile           string
	dryRun            bool
	progress          bool
	failOnBatchErrors bool

	metricsBackend string
	pushgatewayURL string
	dogstatsdAddr  string

	otlpEndpoint string
	otlpInsecure bool
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one Dataset Profile",
		Long: `Run extracts, transforms and loads the dataset described by a profile.

Exit status is 0 when the run completes, even if some batches failed, and 1
when the run fails or the profile is invalid. With --fail-on-batch-errors a
completed run with failed batches exits 2.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfile(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.profile, "profile", "p", "", "Dataset Profile file (YAML or JSON)")
	fl.BoolVar(&f.dryRun, "dry-run", false, "extract and transform only; never touch the sink")
	fl.BoolVar(&f.progress, "progress", false, "show a progress bar of persisted records")
	fl.BoolVar(&f.failOnBatchErrors, "fail-on-batch-errors", false, "exit 2 when any batch failed")
	fl.StringVar(&f.metricsBackend, "metrics-backend", envOr("ECOETL_METRICS_BACKEND", "none"), "metrics backend: none, prompush, datadog")
	fl.StringVar(&f.pushgatewayURL, "pushgateway-url", envOr("PUSHGATEWAY_URL", "http://localhost:9091"), "Pushgateway base URL")
	fl.StringVar(&f.dogstatsdAddr, "dogstatsd-addr", envOr("DD_DOGSTATSD_ADDR", "127.0.0.1:8125"), "DogStatsD address")
	fl.StringVar(&f.otlpEndpoint, "otlp-endpoint", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "OTLP gRPC endpoint for traces; empty disables tracing")
	fl.BoolVar(&f.otlpInsecure, "otlp-insecure", true, "disable TLS to the OTLP endpoint")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}

func runProfile(cmd *cobra.Command, f runFlags) error {
	ctx := cmd.Context()
	p, err := loadProfile(f.profile, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	runID := uuid.New()
	flush, err := setupMetrics(f, p, runID)
	if err != nil {
		return &exitError{code: exitFailed, err: err}
	}
	defer flush()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:       f.otlpEndpoint,
		ServiceName:    "ecoetl",
		ServiceVersion: version,
		Insecure:       f.otlpInsecure,
	})
	if err != nil {
		return &exitError{code: exitFailed, err: err}
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	r := &etl.Runner{DryRun: f.dryRun, RunID: runID}
	if f.progress && !f.dryRun {
		bar := newProgressBar(p.Job)
		r.OnBatch = func(b storage.BatchResult) {
			if b.Err == nil {
				_ = bar.Add(b.Size)
			}
		}
		defer func() { _ = bar.Finish() }()
	}

	res, runErr := r.Run(ctx, p)
	fmt.Fprintln(cmd.OutOrStdout(), renderSummary(res, f.dryRun))

	switch {
	case runErr != nil:
		return &exitError{code: exitFailed}
	case f.failOnBatchErrors && res.Outcome.Load.Failed > 0:
		return &exitError{code: exitBatchFailure}
	}
	return nil
}

// setupMetrics installs the selected backend and returns its flush.
func setupMetrics(f runFlags, p config.Profile, runID uuid.UUID) (func(), error) {
	job := p.Job
	var b metrics.Backend
	switch f.metricsBackend {
	case "", "none":
		return func() {}, nil
	case "prompush", "pushgateway":
		pb, err := prompush.NewBackend(job, f.pushgatewayURL)
		if err != nil {
			return nil, err
		}
		b = pb
	case "datadog":
		db, err := datadog.NewBackend(datadog.Config{
			Addr: f.dogstatsdAddr,
			Run: datadog.Run{
				Job:   job,
				ID:    runID,
				Sink:  p.Storage.Kind,
				Table: p.Storage.Table,
			},
		})
		if err != nil {
			return nil, err
		}
		b = db
	default:
		return nil, fmt.Errorf("unknown --metrics-backend %q", f.metricsBackend)
	}
	metrics.SetBackend(b)
	slog.Info("metrics enabled", "backend", f.metricsBackend, "job", job)
	return func() {
		if err := metrics.Flush(); err != nil {
			slog.Warn("metrics flush", "err", err)
		}
	}, nil
}

func newProgressBar(job string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(-1,
		progressbar.OptionSetDescription(job),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("records"),
		progressbar.OptionShowIts(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
