package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"ecoetl/internal/config"
)

func newValidateCmd() *cobra.Command {
	var profilePath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a Dataset Profile without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile(profilePath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: job=%s source=%s storage=%s table=%s\n",
				okStyle.Render("valid"), profilePath, p.Job, p.Source.Kind, p.Storage.Kind, p.Storage.Table)
			return nil
		},
	}
	cmd.Flags().StringVarP(&profilePath, "profile", "p", "", "Dataset Profile file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}

// loadProfile decodes and validates a profile, printing every issue to w.
// Errors make it fail with exitFailed.
func loadProfile(path string, w io.Writer) (config.Profile, error) {
	p, err := config.Load(path)
	if err != nil {
		return config.Profile{}, &exitError{code: exitFailed, err: err}
	}
	issues := config.ValidateProfile(p)
	for _, iss := range issues {
		fmt.Fprintf(w, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return config.Profile{}, &exitError{code: exitFailed, err: fmt.Errorf("profile %s is invalid", path)}
	}
	return p, nil
}
