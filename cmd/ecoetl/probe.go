package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ecoetl/internal/probe"
)

func newProbeCmd() *cobra.Command {
	var (
		profilePath string
		maxBytes    int
		samples     int
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Sample the head of a profile's source and check the column mapping",
		Long: `probe reads the first bytes of the profile's source, parses them with the
profile's delimiter and encoding, and lists every header column with the field
it maps to, a rule suggested from the sampled values and a few normalized
examples. It exits 1 when a mapped column is missing from the header, which is
the SchemaMismatch a full run would fail with.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile(profilePath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			rep, err := probe.Run(cmd.Context(), p, probe.Options{MaxBytes: maxBytes, Samples: samples})
			if err != nil {
				return &exitError{code: exitFailed, err: err}
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderProbe(rep))
			if !rep.Mapped() {
				return &exitError{code: exitFailed, err: fmt.Errorf("missing columns: %s", strings.Join(rep.Missing, ", "))}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&profilePath, "profile", "p", "", "Dataset Profile file (YAML or JSON)")
	cmd.Flags().IntVar(&maxBytes, "bytes", probe.DefaultMaxBytes, "bytes to sample from the start of the source")
	cmd.Flags().IntVar(&samples, "samples", probe.DefaultSamples, "example values shown per column")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}

func renderProbe(rep probe.Report) string {
	var b strings.Builder
	head := fmt.Sprintf("%s  rows=%d skipped=%d", rep.Source, rep.Rows, rep.Skipped)
	if rep.Truncated {
		head += " (sample)"
	}
	b.WriteString(headerStyle.Render(head) + "\n")
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-32s %-26s %-12s %-14s %s", "HEADER", "FIELD", "RULE", "SUGGESTED", "SAMPLES")) + "\n")
	for _, c := range rep.Columns {
		field := c.Field
		if field == "" {
			field = warnStyle.Render("(" + c.Proposed + ")")
		}
		fmt.Fprintf(&b, "%-32s %-26s %-12s %-14s %s\n", c.Header, field, c.Rule, c.Suggested, strings.Join(c.Samples, "; "))
	}
	for _, m := range rep.Missing {
		b.WriteString(failStyle.Render("missing: "+m) + "\n")
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}
