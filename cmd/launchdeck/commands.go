package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/launchdeck/internal/history"
)

func newTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List configured process types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCOMMAND\tWORKDIR\tAUTOSTART")
			for _, pt := range cfg.ProcessTypes {
				command := strings.TrimSpace(pt.Command + " " + strings.Join(pt.Args, " "))
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", pt.Name, command, orDash(pt.WorkDir), pt.Autostart)
			}
			return w.Flush()
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var filter history.Filter
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past and running instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			db, repo, err := openHistory(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // read-only

			entries, err := repo.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			return writeHistory(cmd.OutOrStdout(), entries)
		},
	}

	cmd.Flags().StringVar(&filter.Type, "type", "", "Only show this process type")
	cmd.Flags().BoolVar(&filter.RunningOnly, "running", false, "Only show instances without a recorded stop")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "Maximum entries to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")

	return cmd
}

func writeHistory(out io.Writer, entries []history.Entry) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tUID\tPID\tSTARTED\tDURATION\tREASON\tEXIT")
	for _, e := range entries {
		duration, reason, exit := "-", "running", "-"
		if e.StoppedAt != nil {
			duration = e.StoppedAt.Sub(e.StartedAt).Round(time.Second).String()
			reason = e.StopReason
		}
		if e.ExitCode != nil {
			exit = fmt.Sprint(*e.ExitCode)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			e.Type, e.UID, e.PID, e.StartedAt.Local().Format(time.DateTime), duration, reason, exit)
	}
	return w.Flush()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "launchdeck %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
