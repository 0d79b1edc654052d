package cmd

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethanolivertroy/sbomgraph/internal/reporter"
	"github.com/ethanolivertroy/sbomgraph/internal/scanner"
	"github.com/ethanolivertroy/sbomgraph/internal/store"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newCheckpointCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint [run-id]",
		Short: "Show the stored state of a run, or list runs",
		Long: `Checkpoint prints the last saved state of a run in the chosen format.
Without a run id it lists the recorded runs; listing needs --store sqlite.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCheckpoint,
	}

	cmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	cmd.Flags().StringP("format", "f", "terminal", "Output format: "+strings.Join(reporter.Formats, ", "))
	cmd.Flags().Bool("kev", false, "Flag findings listed in the CISA Known Exploited Vulnerabilities catalog")
	return cmd
}

func runCheckpoint(cmd *cobra.Command, args []string) error {
	s, err := scanner.New(cfg, scanner.WithLogger(slog.Default()))
	if err != nil {
		return errors.Wrap(err, "failed to initialize scanner")
	}
	defer s.Close()

	if len(args) == 0 {
		sessions, ok, err := s.Sessions(cmd.Context())
		if err != nil {
			return err
		}
		if !ok {
			return errors.Errorf("listing runs needs the sqlite store, current store is %q", cfg.Store)
		}
		fmt.Println(renderSessions(sessions))
		return nil
	}

	result, err := s.Checkpoint(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return writeReport(result)
}

func renderSessions(sessions []store.Checkpoint) string {
	if len(sessions) == 0 {
		return "No recorded runs."
	}
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Run", "Status", "Progress", "Source", "Updated"})
	for _, c := range sessions {
		tw.AppendRow(table.Row{
			c.RunID,
			c.Status,
			fmt.Sprintf("%d/%d", c.Processed, c.TotalPackages),
			c.Source,
			c.UpdatedAt.Local().Format(time.DateTime),
		})
	}
	return tw.Render()
}
