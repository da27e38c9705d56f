package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"ecoetl/internal/config"
)

const defaultProfilesDir = "configs/profiles"

func newProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles [DIR]",
		Short: "List Dataset Profiles and where they load",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := defaultProfilesDir
			if len(args) == 1 {
				dir = args[0]
			}
			entries, err := os.ReadDir(dir)
			if err != nil {
				return &exitError{code: exitFailed, err: err}
			}

			var names []string
			for _, e := range entries {
				switch strings.ToLower(filepath.Ext(e.Name())) {
				case ".yaml", ".yml", ".json":
					if e.Type().IsRegular() {
						names = append(names, e.Name())
					}
				}
			}
			sort.Strings(names)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%-28s %-8s %-9s %-32s %s", "JOB", "SOURCE", "STORAGE", "TABLE", "STATUS")))
			bad := 0
			for _, n := range names {
				path := filepath.Join(dir, n)
				p, err := config.Load(path)
				if err != nil {
					bad++
					fmt.Fprintf(out, "%-28s %s\n", n, failStyle.Render("unreadable: "+err.Error()))
					continue
				}
				status := okStyle.Render("ok")
				if issues := config.ValidateProfile(p); config.HasErrors(issues) {
					status = warnStyle.Render(fmt.Sprintf("%d issue(s), see validate", countErrors(issues)))
				}
				fmt.Fprintf(out, "%-28s %-8s %-9s %-32s %s\n", p.Job, p.Source.Kind, p.Storage.Kind, p.Storage.Table, status)
			}
			if bad > 0 {
				return &exitError{code: exitFailed, err: fmt.Errorf("%d profile(s) could not be read", bad)}
			}
			return nil
		},
	}
}

func countErrors(issues []config.Issue) int {
	n := 0
	for _, i := range issues {
		if i.Severity == config.SeverityError {
			n++
		}
	}
	return n
}
